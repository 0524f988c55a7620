package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/grumpy-ui/listado/internal/email"
	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

const (
	minPasswordLength = 8
	maxCodeAttempts   = 5
)

// Service implements the account side of the auth provider: password
// accounts with mandatory email verification, session issuance, and
// sign-out. Federated identity lives in Verifier.
type Service struct {
	users    *store.UserStore
	sessions *store.SessionStore
	codes    *store.VerificationStore
	mail     *email.Client
	logger   *slog.Logger
}

func NewService(us *store.UserStore, ss *store.SessionStore, vs *store.VerificationStore, mail *email.Client, logger *slog.Logger) *Service {
	return &Service{
		users:    us,
		sessions: ss,
		codes:    vs,
		mail:     mail,
		logger:   logger,
	}
}

func validEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-3 && strings.IndexByte(s[at+1:], '.') > 0
}

// SignUp creates an unverified account and emails a verification code.
// The account does not count as logged in until VerifyEmail succeeds.
func (s *Service) SignUp(ctx context.Context, emailAddr, password string) (*model.User, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !validEmail(emailAddr) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.users.GetByEmail(emailAddr)
	if err != nil {
		return nil, fmt.Errorf("signup lookup: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.Create(emailAddr, "", string(hash))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendCode(emailAddr, "signup"); err != nil {
		// Account exists; the code can be re-requested.
		s.logger.Error("send verification code", "email", emailAddr, "error", err)
	}

	return user, nil
}

// SignInWithPassword authenticates an account and issues a session.
// Unverified accounts are refused outright rather than signed in and
// immediately signed back out.
func (s *Service) SignInWithPassword(ctx context.Context, emailAddr, password string) (*model.User, *model.Session, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !validEmail(emailAddr) {
		return nil, nil, ErrInvalidEmail
	}

	user, err := s.users.GetByEmail(emailAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("signin lookup: %w", err)
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrWrongPassword
	}

	if !user.EmailVerified {
		return nil, nil, ErrEmailNotVerified
	}

	sess, err := s.sessions.Create(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return user, sess, nil
}

// VerifyEmail checks a 6-digit code, marks the account verified, and
// issues the first session.
func (s *Service) VerifyEmail(ctx context.Context, emailAddr, code string) (*model.User, *model.Session, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	code = strings.TrimSpace(code)
	if emailAddr == "" || code == "" {
		return nil, nil, ErrInvalidCode
	}

	latest, err := s.codes.GetLatestByEmail(emailAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("verify lookup: %w", err)
	}
	if latest == nil {
		return nil, nil, ErrInvalidCode
	}

	if latest.Attempts >= maxCodeAttempts {
		s.codes.MarkUsed(latest.ID)
		return nil, nil, ErrTooManyRequests
	}

	if latest.Code != code {
		attempts, err := s.codes.IncrementAttempts(latest.ID)
		if err != nil {
			s.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			s.codes.MarkUsed(latest.ID)
			return nil, nil, ErrTooManyRequests
		}
		return nil, nil, ErrInvalidCode
	}

	if err := s.codes.MarkUsed(latest.ID); err != nil {
		return nil, nil, fmt.Errorf("mark code used: %w", err)
	}

	user, err := s.users.GetByEmail(emailAddr)
	if err != nil || user == nil {
		return nil, nil, ErrUserNotFound
	}

	user, err = s.users.MarkVerified(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("mark verified: %w", err)
	}

	sess, err := s.sessions.Create(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return user, sess, nil
}

// ResendVerification issues a fresh code for an unverified account.
// It reports success for unknown emails to prevent enumeration.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	user, err := s.users.GetByEmail(emailAddr)
	if err != nil {
		return fmt.Errorf("resend lookup: %w", err)
	}
	if user == nil || user.EmailVerified {
		return nil
	}
	return s.sendCode(emailAddr, "resend")
}

func (s *Service) sendCode(emailAddr, purpose string) error {
	vc, err := s.codes.Create(emailAddr, purpose)
	if err != nil {
		return fmt.Errorf("create verification code: %w", err)
	}
	if err := s.mail.SendVerificationCode(emailAddr, vc.Code, purpose); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

// UserForToken resolves a session token to its verified user, or nil
// for unknown, expired, or unverified sessions.
func (s *Service) UserForToken(token string) (*model.User, *model.Session, error) {
	sess, err := s.sessions.GetByToken(token)
	if err != nil {
		return nil, nil, fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil {
		return nil, nil, nil
	}
	user, err := s.users.GetByID(sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil || !user.EmailVerified {
		return nil, nil, nil
	}
	return user, sess, nil
}

// SignOut discards the session for a token. Unknown tokens are a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	sess, err := s.sessions.GetByToken(token)
	if err != nil {
		return fmt.Errorf("signout lookup: %w", err)
	}
	if sess == nil {
		return nil
	}
	return s.sessions.Delete(sess.ID)
}

// IssueSession creates a session for an already-authenticated user
// (federated sign-in).
func (s *Service) IssueSession(userID string) (*model.Session, error) {
	return s.sessions.Create(userID)
}
