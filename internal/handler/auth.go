package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/middleware"
	"github.com/grumpy-ui/listado/internal/model"
)

type AuthHandler struct {
	service  *auth.Service
	verifier *auth.Verifier
	logger   *slog.Logger
}

func NewAuthHandler(svc *auth.Service, verifier *auth.Verifier, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, verifier: verifier, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUp handles POST /api/auth/signup. The account stays unverified
// until the emailed code is confirmed; no session is issued yet.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err, "signup")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// SignIn handles POST /api/auth/signin.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, sess, err := h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(w, err, "signin")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, user)
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Verify handles POST /api/auth/verify. A correct code marks the
// account verified and signs the user in.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, sess, err := h.service.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		h.writeAuthError(w, err, "verify")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, user)
}

type resendRequest struct {
	Email string `json:"email"`
}

// Resend handles POST /api/auth/resend. It always reports success so
// the endpoint cannot be used to probe for accounts.
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		h.logger.Error("resend verification", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SignOut handles POST /api/auth/signout. Unknown tokens are fine;
// the cookie is cleared either way.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.SignOut(r.Context(), cookie.Value); err != nil {
			h.logger.Error("signout", "error", err)
		}
	}
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type federatedRequest struct {
	IDToken string `json:"id_token"`
}

// Federated handles POST /api/auth/federated, the popup flow: the
// client obtained an ID token from the broker and exchanges it here.
func (h *AuthHandler) Federated(w http.ResponseWriter, r *http.Request) {
	var req federatedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, sess, err := h.verifier.SignIn(r.Context(), req.IDToken)
	if err != nil {
		h.writeAuthError(w, err, "federated signin")
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, user)
}

// FederatedCallback handles GET /api/auth/federated/callback, the
// redirect flow's return leg. The outcome is parked under the state
// token and collected on the next page load.
func (h *AuthHandler) FederatedCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	idToken := r.URL.Query().Get("id_token")

	if err := h.verifier.CompleteRedirect(r.Context(), state, idToken); err != nil {
		h.logger.Warn("federated redirect", "error", err, "code", auth.Code(err))
	}
	http.Redirect(w, r, "/?auth_state="+state, http.StatusSeeOther)
}

// FederatedResult handles GET /api/auth/federated/result. No parked
// result is the normal case and yields signed_in false.
func (h *AuthHandler) FederatedResult(w http.ResponseWriter, r *http.Request) {
	user, sess, err := h.verifier.ConsumeRedirectResult(r.Context(), r.URL.Query().Get("state"))
	if err != nil {
		h.writeAuthError(w, err, "federated result")
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"signed_in": false})
		return
	}

	setSessionCookie(w, r, sess)
	writeJSON(w, http.StatusOK, map[string]any{"signed_in": true, "user": user})
}

// Method handles GET /api/auth/method: tells the client whether to
// open the broker in a popup or navigate away, based on its device.
// A failed popup attempt is reported back via the failed query
// parameter and forces the redirect answer.
func (h *AuthHandler) Method(w http.ResponseWriter, r *http.Request) {
	method := "popup"
	if auth.PrefersRedirect(r.UserAgent()) || auth.IsPopupError(auth.ErrorForCode(r.URL.Query().Get("failed"))) {
		method = "redirect"
	}
	writeJSON(w, http.StatusOK, map[string]string{"method": method})
}

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error, op string) {
	code := auth.Code(err)
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailNotVerified):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrEmailInUse):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidCode):
		status = http.StatusBadRequest
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, map[string]string{"error": code})
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   90 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
