package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"photoshare.io/sessiond/internal/auth"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	writeErrorBody(w, r, code, errorBody{Code: errCode, Message: msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, body errorBody) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="sessiond"`)
	}
	writeJSON(w, code, errorResponse{Error: body, RequestID: RequestIDFromContext(r.Context())})
}

// statusOverride lets an endpoint answer a specific error differently from
// its kind's default.
type statusOverride struct {
	err  error
	code int
}

// writeAuthError maps a service error to its HTTP status. Internal errors
// are logged and answered with a generic message.
func (a *API) writeAuthError(w http.ResponseWriter, r *http.Request, err error, overrides ...statusOverride) {
	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		a.log.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	code := statusForKind(kind)
	for _, o := range overrides {
		if errors.Is(err, o.err) {
			code = o.code
			break
		}
	}
	writeError(w, r, code, auth.CodeOf(err), strings.TrimPrefix(err.Error(), "auth: "))
}

func statusForKind(k auth.Kind) int {
	switch k {
	case auth.KindInvalidInput:
		return http.StatusBadRequest
	case auth.KindUnauthenticated:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
