package auth

import "errors"

// The fixed error taxonomy surfaced to clients. Each maps to a stable
// code the presentation layer localizes; anything outside the set
// passes through its raw message as a fallback.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrWrongPassword    = errors.New("wrong password")
	ErrTooManyRequests  = errors.New("too many attempts, try again later")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrWeakPassword     = errors.New("password must be at least 8 characters")
	ErrEmailInUse       = errors.New("email already registered")
	ErrEmailNotVerified = errors.New("email not verified")
	ErrInvalidCode      = errors.New("incorrect or expired code")
	ErrInvalidToken     = errors.New("invalid identity token")

	// Federated popup failures are reported by clients; the caller is
	// expected to fall back to the redirect flow on any of them.
	ErrPopupBlocked   = errors.New("popup blocked")
	ErrPopupClosed    = errors.New("popup closed by user")
	ErrPopupCancelled = errors.New("popup request cancelled")
)

var codes = map[error]string{
	ErrUserNotFound:     "user-not-found",
	ErrWrongPassword:    "wrong-password",
	ErrTooManyRequests:  "too-many-requests",
	ErrInvalidEmail:     "invalid-email",
	ErrWeakPassword:     "weak-password",
	ErrEmailInUse:       "email-in-use",
	ErrEmailNotVerified: "email-not-verified",
	ErrInvalidCode:      "invalid-code",
	ErrInvalidToken:     "invalid-token",
	ErrPopupBlocked:     "popup-blocked",
	ErrPopupClosed:      "popup-closed",
	ErrPopupCancelled:   "popup-cancelled",
}

// Code returns the stable error code for a taxonomy error, or "" for
// anything unmapped.
func Code(err error) string {
	for sentinel, code := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// ErrorForCode is the inverse of Code: it returns the taxonomy error
// for a stable code, or nil for anything unmapped.
func ErrorForCode(code string) error {
	if code == "" {
		return nil
	}
	for sentinel, c := range codes {
		if c == code {
			return sentinel
		}
	}
	return nil
}

// IsPopupError reports whether a federated failure should trigger the
// redirect fallback.
func IsPopupError(err error) bool {
	return errors.Is(err, ErrPopupBlocked) || errors.Is(err, ErrPopupClosed) || errors.Is(err, ErrPopupCancelled)
}
