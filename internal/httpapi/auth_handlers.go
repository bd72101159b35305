package httpapi

import (
	"net/http"
	"strings"
	"time"

	"photoshare.io/sessiond/internal/auth"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=256"`
}

type sessionResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresAt        string `json:"expires_at"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

func newSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken:      s.AccessToken,
		RefreshToken:     s.RefreshToken,
		TokenType:        s.TokenType,
		ExpiresAt:        s.ExpiresAt.UTC().Format(time.RFC3339),
		RefreshExpiresAt: s.RefreshExpiresAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	acc, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = a.auditLog.LogEvent(auth.ContextWithAccount(r.Context(), acc), "account.registered", map[string]any{
		"username": acc.Username,
		"role":     acc.Role.String(),
	})
	writeJSON(w, http.StatusCreated, acc)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	ip := clientIP(r)
	sess, err := a.svc.Login(r.Context(), auth.LoginInput{
		Username: req.Username,
		Password: req.Password,
		ClientIP: ip,
	})
	if err != nil {
		_ = a.auditLog.LogEvent(r.Context(), "session.login_failed", map[string]any{
			"username":  strings.TrimSpace(req.Username),
			"client_ip": ip,
			"reason":    auth.CodeOf(err),
		})
		a.writeAuthError(w, r, err)
		return
	}
	ctx := auth.ContextWithAccount(r.Context(), &auth.Account{ID: sess.AccountID})
	_ = a.auditLog.LogEvent(ctx, "session.login", map[string]any{
		"client_ip":  ip,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	secret, ok := a.refreshSecret(w, r)
	if !ok {
		return
	}
	sess, err := a.svc.Refresh(r.Context(), secret)
	if err != nil {
		a.writeAuthError(w, r, err, statusOverride{err: auth.ErrTokenNotFound, code: http.StatusUnauthorized})
		return
	}
	ctx := auth.ContextWithAccount(r.Context(), &auth.Account{ID: sess.AccountID})
	_ = a.auditLog.LogEvent(ctx, "session.refresh", map[string]any{
		"policy": string(a.svc.Policy()),
	})
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	secret, ok := a.refreshSecret(w, r)
	if !ok {
		return
	}
	if err := a.svc.Logout(r.Context(), secret); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = a.auditLog.LogEvent(r.Context(), "session.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// refreshSecret takes the refresh token from the body, falling back to the
// bearer header. It writes the 400 itself when neither carries one.
func (a *API) refreshSecret(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if !decodeAndValidate(w, r, &req, true) {
		return "", false
	}
	secret := strings.TrimSpace(req.RefreshToken)
	if secret == "" {
		if h := r.Header.Get(authHeader); h != "" {
			tok, err := extractBearerToken(h)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
				return "", false
			}
			secret = tok
		}
	}
	if secret == "" {
		writeErrorBody(w, r, http.StatusBadRequest, errorBody{
			Code:    "invalid_input",
			Message: "validation failed",
			Fields:  map[string]string{"refresh_token": "is required"},
		})
		return "", false
	}
	return secret, true
}
