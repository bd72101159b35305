package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"photoshare.io/sessiond/internal/auth"
)

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user moderator admin"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	id := chi.URLParam(r, "id")
	acc, err := a.svc.SetActive(r.Context(), id, *req.Active)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	event := "account.unbanned"
	if !acc.Active {
		event = "account.banned"
	}
	_ = a.auditLog.LogEvent(r.Context(), event, map[string]any{
		"target_account_id": acc.ID,
		"target_username":   acc.Username,
	})
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	role, ok := auth.ParseRole(req.Role)
	if !ok {
		a.writeAuthError(w, r, auth.ErrInvalidInput)
		return
	}
	id := chi.URLParam(r, "id")
	acc, err := a.svc.SetRole(r.Context(), id, role)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	_ = a.auditLog.LogEvent(r.Context(), "account.role_changed", map[string]any{
		"target_account_id": acc.ID,
		"role":              acc.Role.String(),
	})
	writeJSON(w, http.StatusOK, acc)
}
