package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"photoshare.io/sessiond/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errBadScheme     = errors.New("invalid authorization scheme")
)

// requireRoles admits requests whose bearer token belongs to an active
// account holding one of roles. The account is attached to the context.
func (a *API) requireRoles(roles auth.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}

			acc, err := a.svc.Authorize(r.Context(), token, roles)
			if err != nil {
				a.writeAuthError(w, r, err)
				return
			}

			ctx := auth.ContextWithAccount(r.Context(), acc)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if strings.EqualFold(header, strings.TrimSpace(bearer)) {
		return "", errMissingBearer
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}
