package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/database"
	"github.com/grumpy-ui/listado/internal/email"
	"github.com/grumpy-ui/listado/internal/model"
	"github.com/grumpy-ui/listado/internal/store"
)

func setupAuthService(t *testing.T) (*auth.Service, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	us := store.NewUserStore(db)
	svc := auth.NewService(
		us,
		store.NewSessionStore(db),
		store.NewVerificationStore(db),
		email.NewClient("", "", logger),
		logger,
	)
	return svc, us
}

func verifiedSession(t *testing.T, svc *auth.Service, us *store.UserStore, addr string) (*model.User, *model.Session) {
	t.Helper()
	u, err := us.Create(addr, "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	u, err = us.MarkVerified(u.ID)
	if err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	sess, err := svc.IssueSession(u.ID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return u, sess
}

func TestWithUserNoCookiePassesThroughAnonymous(t *testing.T) {
	svc, _ := setupAuthService(t)

	handler := WithUser(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.CurrentUser(r.Context()) != nil {
			t.Error("expected anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWithUserInvalidTokenStaysAnonymous(t *testing.T) {
	svc, _ := setupAuthService(t)

	handler := WithUser(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.CurrentUser(r.Context()) != nil {
			t.Error("expected anonymous request for bogus token")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bogus"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWithUserValidCookie(t *testing.T) {
	svc, us := setupAuthService(t)
	u, sess := verifiedSession(t, svc, us, "alice@example.com")

	var gotID string
	handler := WithUser(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = auth.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotID != u.ID {
		t.Errorf("user id = %q, want %q", gotID, u.ID)
	}
}

func TestWithUserBearerToken(t *testing.T) {
	svc, us := setupAuthService(t)
	u, sess := verifiedSession(t, svc, us, "bob@example.com")

	var gotID string
	handler := WithUser(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = auth.UserID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotID != u.ID {
		t.Errorf("user id = %q, want %q", gotID, u.ID)
	}
}

func TestWithUserUnverifiedUserStaysAnonymous(t *testing.T) {
	svc, us := setupAuthService(t)
	u, err := us.Create("carol@example.com", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	sess, err := svc.IssueSession(u.ID)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	handler := WithUser(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.CurrentUser(r.Context()) != nil {
			t.Error("unverified account must not count as logged in")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.Token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRequireUser(t *testing.T) {
	handler := RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	ctx := auth.WithAuth(req.Context(), auth.AuthContext{User: &model.User{ID: "u1"}})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Errorf("authed status = %d, want %d", rec.Code, http.StatusOK)
	}
}
