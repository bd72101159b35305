package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"photoshare.io/sessiond/internal/audit"
	"photoshare.io/sessiond/internal/auth"
	"photoshare.io/sessiond/internal/obs"
)

const serviceName = "sessiond"

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness by pinging its dependencies. Nil entries are
// skipped.
type ReadyProbe struct {
	Deps []Pinger
}

// NewReadyProbe builds a probe over the given dependencies.
func NewReadyProbe(deps ...Pinger) ReadyProbe {
	return ReadyProbe{Deps: deps}
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	for _, d := range rp.Deps {
		if d == nil {
			continue
		}
		if err := d.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Config wires the HTTP layer.
type Config struct {
	Service        *auth.Service
	Audit          *audit.Logger
	Logger         *slog.Logger
	Ready          readinessChecker
	Version        string
	RequestTimeout time.Duration
	RateBurst      int
	RatePerSecond  int
	CORSOrigins    []string
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	svc        *auth.Service
	auditLog   *audit.Logger
	log        *slog.Logger
	ready      readinessChecker
	version    string
	timeout    time.Duration
	rateBurst  int
	ratePerSec int
	origins    []string
	proxies    []netip.Prefix
}

// New builds the router.
func New(cfg Config) *API {
	a := &API{
		svc:        cfg.Service,
		auditLog:   cfg.Audit,
		log:        cfg.Logger,
		ready:      cfg.Ready,
		version:    cfg.Version,
		timeout:    cfg.RequestTimeout,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSecond,
		origins:    cfg.CORSOrigins,
		proxies:    cfg.TrustedProxies,
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.auditLog == nil {
		a.auditLog = audit.New(a.log)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(ClientIP(a.proxies))
	r.Use(LoggingJSON(a.log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.origins))
	r.Use(middleware.Timeout(a.timeout))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(MaxBodyBytes(1 << 20))
		r.Use(RateLimit(a.rateBurst, a.ratePerSec))
		r.Post("/register", a.handleRegister)
		r.Post("/login", a.handleLogin)
		r.Post("/refresh", a.handleRefresh)
		r.Post("/logout", a.handleLogout)
	})

	r.Route("/v1/users", func(r chi.Router) {
		r.Use(a.requireRoles(auth.Roles(auth.RoleUser, auth.RoleModerator, auth.RoleAdmin)))
		r.Get("/me", a.handleMe)
	})

	r.Route("/v1/admin/users/{id}", func(r chi.Router) {
		r.Use(MaxBodyBytes(1 << 16))
		r.Use(a.requireRoles(auth.Roles(auth.RoleAdmin)))
		r.Put("/active", a.handleSetActive)
		r.Put("/role", a.handleSetRole)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	a.router = r
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.log.WarnContext(r.Context(), "readiness check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           serviceName,
		"time":           time.Now().UTC().Format(time.RFC3339),
		"version":        a.version,
		"refresh_policy": a.svc.Policy(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON value. With optional set, an empty body
// leaves dst untouched.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
