// Package httpapi exposes onboarding and authentication over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"userboard.io/internal/apperr"
	"userboard.io/internal/auth"
	"userboard.io/internal/events"
	"userboard.io/internal/obs"
	"userboard.io/internal/onboarding"
)

const serviceName = "userboard-api"

// ReadinessChecker reports whether dependencies are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured backends. Nil members are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps wires the API to its services.
type Deps struct {
	Auth       *auth.Service
	Onboarding *onboarding.Machine
	// Bus feeds the admin event stream; nil disables it.
	Bus     *events.Bus
	Ready   ReadinessChecker
	Version string
	Logger  *slog.Logger

	CORSOrigins    []string
	SecureCookies  bool
	RateLimitRPS   float64
	RateLimitBurst int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	onboarding *onboarding.Machine
	bus        *events.Bus
	ready      ReadinessChecker
	version    string
	logger     *slog.Logger

	corsOrigins   []string
	secureCookies bool
	limiter       func(http.Handler) http.Handler
}

func New(d Deps) *API {
	a := &API{
		mux:           http.NewServeMux(),
		auth:          d.Auth,
		onboarding:    d.Onboarding,
		bus:           d.Bus,
		ready:         d.Ready,
		version:       d.Version,
		logger:        d.Logger,
		corsOrigins:   d.CORSOrigins,
		secureCookies: d.SecureCookies,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	rps, burst := d.RateLimitRPS, d.RateLimitBurst
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	a.limiter = func(next http.Handler) http.Handler { return RateLimit(next, burst, rps) }
	a.routes()
	return a
}

func (a *API) routes() {
	authLimited := func(h http.HandlerFunc) http.Handler { return a.limiter(h) }
	admin := func(h http.HandlerFunc) http.Handler {
		return a.authenticated(RequireRole(auth.RoleAdmin)(h))
	}

	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.Handle("POST /v1/auth/register", authLimited(a.handleRegister))
	a.mux.Handle("POST /v1/auth/login", authLimited(a.handleLogin))
	a.mux.Handle("POST /v1/auth/refresh", authLimited(a.handleRefresh))
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.Handle("POST /v1/auth/logout-all", a.authenticated(http.HandlerFunc(a.handleLogoutAll)))

	a.mux.Handle("GET /v1/users/me", a.authenticated(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("GET /v1/users/{id}", a.authenticated(http.HandlerFunc(a.handleGetUser)))

	a.mux.Handle("GET /v1/admin/users/pending", admin(a.handlePending))
	a.mux.Handle("GET /v1/admin/users", admin(a.handleListUsers))
	a.mux.Handle("POST /v1/admin/users/{id}/approve", admin(a.handleApprove))
	a.mux.Handle("POST /v1/admin/users/{id}/reject", admin(a.handleReject))
	a.mux.Handle("GET /v1/admin/users/{id}/audit", admin(a.handleAudit))
	a.mux.Handle("GET /v1/admin/statistics", admin(a.handleStatistics))
	a.mux.Handle("GET /v1/admin/events", admin(a.Stream))
}

// Handler returns the mux wrapped in the standard middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindDuplicateEmail, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidCredentials, apperr.KindInvalidToken:
		return http.StatusUnauthorized
	case apperr.KindAccountNotActive:
		return http.StatusForbidden
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleDomainError writes err with the status of its kind. Token and
// credential failures always use the fixed sentinel message.
func (a *API) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	switch kind {
	case apperr.KindUnknown, apperr.KindConfiguration:
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
			slog.String("request_id", RequestIDFromContext(r.Context())))
		writeError(w, r, code, "internal error")
	case apperr.KindInvalidCredentials:
		writeError(w, r, code, apperr.ErrInvalidCredentials.Error())
	case apperr.KindInvalidToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeError(w, r, code, apperr.ErrInvalidToken.Error())
	case apperr.KindNotFound:
		writeError(w, r, code, apperr.ErrNotFound.Error())
	default:
		writeError(w, r, code, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
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

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, errors.New("value out of range")
	}
	return v, nil
}
