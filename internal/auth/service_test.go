package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/grumpy-ui/listado/internal/database"
	"github.com/grumpy-ui/listado/internal/email"
	"github.com/grumpy-ui/listado/internal/store"
)

func setupService(t *testing.T) (*Service, *store.VerificationStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.DiscardHandler)
	codes := store.NewVerificationStore(db)
	svc := NewService(
		store.NewUserStore(db),
		store.NewSessionStore(db),
		codes,
		email.NewClient("", "", logger),
		logger,
	)
	return svc, codes
}

// signUpVerified runs the full signup and verification flow.
func signUpVerified(t *testing.T, svc *Service, codes *store.VerificationStore, addr, password string) {
	t.Helper()
	if _, err := svc.SignUp(context.Background(), addr, password); err != nil {
		t.Fatalf("signup: %v", err)
	}
	vc, err := codes.GetLatestByEmail(addr)
	if err != nil || vc == nil {
		t.Fatalf("no verification code issued: %v", err)
	}
	if _, _, err := svc.VerifyEmail(context.Background(), addr, vc.Code); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "not-an-email", "password123"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("bad email: err = %v", err)
	}
	if _, err := svc.SignUp(ctx, "ana@example.com", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("weak password: err = %v", err)
	}

	if _, err := svc.SignUp(ctx, "ana@example.com", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.SignUp(ctx, "Ana@Example.com", "password123"); !errors.Is(err, ErrEmailInUse) {
		t.Errorf("duplicate: err = %v", err)
	}
}

func TestSignInRequiresVerification(t *testing.T) {
	svc, codes := setupService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "ana@example.com", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	if _, _, err := svc.SignInWithPassword(ctx, "ana@example.com", "password123"); !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("unverified signin: err = %v", err)
	}

	vc, _ := codes.GetLatestByEmail("ana@example.com")
	if _, _, err := svc.VerifyEmail(ctx, "ana@example.com", vc.Code); err != nil {
		t.Fatalf("verify: %v", err)
	}

	user, sess, err := svc.SignInWithPassword(ctx, "ana@example.com", "password123")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}
	if user == nil || sess == nil {
		t.Fatal("expected user and session")
	}
	if !user.EmailVerified {
		t.Error("user should be verified")
	}
}

func TestSignInFailures(t *testing.T) {
	svc, codes := setupService(t)
	ctx := context.Background()
	signUpVerified(t, svc, codes, "ana@example.com", "password123")

	if _, _, err := svc.SignInWithPassword(ctx, "nobody@example.com", "password123"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown user: err = %v", err)
	}
	if _, _, err := svc.SignInWithPassword(ctx, "ana@example.com", "wrong-password"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password: err = %v", err)
	}
}

func TestVerifyWrongCodeLocksAfterAttempts(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, "ana@example.com", "password123"); err != nil {
		t.Fatalf("signup: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, _, err := svc.VerifyEmail(ctx, "ana@example.com", "000000"); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
	}
	// Fifth wrong attempt burns the code.
	if _, _, err := svc.VerifyEmail(ctx, "ana@example.com", "000000"); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("locking attempt: err = %v", err)
	}
	// And the correct code no longer works.
	if _, _, err := svc.VerifyEmail(ctx, "ana@example.com", "123456"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("after lock: err = %v", err)
	}
}

func TestResendIsSilentForUnknownEmail(t *testing.T) {
	svc, _ := setupService(t)

	if err := svc.ResendVerification(context.Background(), "nobody@example.com"); err != nil {
		t.Errorf("resend unknown: %v", err)
	}
}

func TestUserForToken(t *testing.T) {
	svc, codes := setupService(t)
	ctx := context.Background()
	signUpVerified(t, svc, codes, "ana@example.com", "password123")

	_, sess, err := svc.SignInWithPassword(ctx, "ana@example.com", "password123")
	if err != nil {
		t.Fatalf("signin: %v", err)
	}

	user, got, err := svc.UserForToken(sess.Token)
	if err != nil {
		t.Fatalf("user for token: %v", err)
	}
	if user == nil || user.Email != "ana@example.com" || got == nil {
		t.Fatalf("resolved = %+v / %+v", user, got)
	}

	if user, _, _ := svc.UserForToken("bogus"); user != nil {
		t.Errorf("bogus token resolved to %+v", user)
	}
}

func TestSignOut(t *testing.T) {
	svc, codes := setupService(t)
	ctx := context.Background()
	signUpVerified(t, svc, codes, "ana@example.com", "password123")

	_, sess, _ := svc.SignInWithPassword(ctx, "ana@example.com", "password123")
	if err := svc.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("signout: %v", err)
	}
	if user, _, _ := svc.UserForToken(sess.Token); user != nil {
		t.Errorf("token still valid after signout: %+v", user)
	}

	// Unknown tokens are a no-op.
	if err := svc.SignOut(ctx, "bogus"); err != nil {
		t.Errorf("signout unknown token: %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	if got := Code(ErrWrongPassword); got != "wrong-password" {
		t.Errorf("Code(ErrWrongPassword) = %q", got)
	}
	if got := Code(errors.New("something else")); got != "" {
		t.Errorf("Code(unmapped) = %q, want empty", got)
	}
	if !IsPopupError(ErrPopupBlocked) || IsPopupError(ErrInvalidToken) {
		t.Error("IsPopupError misclassifies")
	}
	if got := ErrorForCode("popup-blocked"); got != ErrPopupBlocked {
		t.Errorf("ErrorForCode(popup-blocked) = %v", got)
	}
	if got := ErrorForCode("no-such-code"); got != nil {
		t.Errorf("ErrorForCode(unmapped) = %v, want nil", got)
	}
	if got := ErrorForCode(""); got != nil {
		t.Errorf("ErrorForCode(empty) = %v, want nil", got)
	}
}
