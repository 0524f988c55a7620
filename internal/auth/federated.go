package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

const redirectResultTTL = 5 * time.Minute

// identityClaims is the payload of an ID token minted by the external
// identity broker after a popup or redirect flow.
type identityClaims struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

type pendingResult struct {
	user      *model.User
	session   *model.Session
	expiresAt time.Time
}

// Verifier handles federated sign-in: it validates broker ID tokens,
// provisions users on first sight, and parks redirect-flow results
// until the client's next load collects them.
type Verifier struct {
	secret []byte
	issuer string
	users  *store.UserStore
	svc    *Service

	mu      sync.Mutex
	pending map[string]pendingResult
}

func NewVerifier(secret, issuer string, users *store.UserStore, svc *Service) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		issuer:  issuer,
		users:   users,
		svc:     svc,
		pending: make(map[string]pendingResult),
	}
}

// SignIn validates an ID token and issues a session. Users arriving
// through the broker are trusted as verified when the token says so;
// unverified federated identities are refused like unverified password
// accounts.
func (v *Verifier) SignIn(ctx context.Context, idToken string) (*model.User, *model.Session, error) {
	claims, err := v.parse(idToken)
	if err != nil {
		return nil, nil, err
	}
	if !claims.EmailVerified {
		return nil, nil, ErrEmailNotVerified
	}

	user, err := v.findOrCreate(claims)
	if err != nil {
		return nil, nil, err
	}

	sess, err := v.svc.IssueSession(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("issue session: %w", err)
	}
	return user, sess, nil
}

// CompleteRedirect records the outcome of a redirect flow under the
// client's opaque state token. The next ConsumeRedirectResult with the
// same state collects it.
func (v *Verifier) CompleteRedirect(ctx context.Context, state, idToken string) error {
	if state == "" {
		return ErrInvalidToken
	}
	user, sess, err := v.SignIn(ctx, idToken)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.pending[state] = pendingResult{user: user, session: sess, expiresAt: time.Now().Add(redirectResultTTL)}
	v.mu.Unlock()
	return nil
}

// ConsumeRedirectResult pops a parked redirect outcome, returning
// (nil, nil, nil) when there is none, the common case on a fresh
// load.
func (v *Verifier) ConsumeRedirectResult(ctx context.Context, state string) (*model.User, *model.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	for key, p := range v.pending {
		if now.After(p.expiresAt) {
			delete(v.pending, key)
		}
	}

	p, ok := v.pending[state]
	if !ok {
		return nil, nil, nil
	}
	delete(v.pending, state)
	return p.user, p.session, nil
}

func (v *Verifier) parse(idToken string) (*identityClaims, error) {
	token, err := jwt.ParseWithClaims(idToken, &identityClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*identityClaims)
	if !ok || !token.Valid || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) findOrCreate(claims *identityClaims) (*model.User, error) {
	user, err := v.users.GetByEmail(claims.Email)
	if err != nil {
		return nil, fmt.Errorf("federated lookup: %w", err)
	}
	if user == nil {
		user, err = v.users.Create(claims.Email, claims.Name, "")
		if err != nil {
			return nil, fmt.Errorf("provision federated user: %w", err)
		}
	}
	if !user.EmailVerified {
		user, err = v.users.MarkVerified(user.ID)
		if err != nil {
			return nil, fmt.Errorf("mark federated user verified: %w", err)
		}
	}
	if claims.Picture != "" && user.PhotoURL != claims.Picture {
		user, err = v.users.UpdateProfile(user.ID, user.Name, claims.Picture)
		if err != nil {
			return nil, fmt.Errorf("update federated profile: %w", err)
		}
	}
	return user, nil
}

// PrefersRedirect applies the device heuristic for federated sign-in:
// popups are unreliable on mobile browsers, so those clients should go
// straight to the redirect flow.
func PrefersRedirect(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range []string{"mobile", "android", "iphone", "ipad"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
