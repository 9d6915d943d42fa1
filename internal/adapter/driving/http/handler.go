package httphandler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/metrics"
)

const (
	maxBodyBytes     = 1 << 20
	statusPathPrefix = "/api/v1/access/status/"
)

// Services are the use cases the API exposes.
type Services struct {
	Tokens  *application.TokenService
	Vault   *application.VaultService
	Audit   *application.AuditService
	Devices *application.DeviceService
	Health  *application.HealthService
}

// RateLimits caps the unauthenticated and grant endpoints per caller IP.
type RateLimits struct {
	GeneratePerMinute int
	ClaimPerMinute    int
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	tokens   *application.TokenService
	vault    *application.VaultService
	audit    *application.AuditService
	devices  *application.DeviceService
	health   *application.HealthService
	gatherer prometheus.Gatherer
	clock    clock.Clock
	logger   zerolog.Logger

	generateLimiter *ipLimiter
	claimLimiter    *ipLimiter
	ready           atomic.Bool
}

// NewHandler creates a Handler with all required dependencies. The handler
// starts ready.
func NewHandler(
	svc Services,
	gatherer prometheus.Gatherer,
	limits RateLimits,
	clk clock.Clock,
	logger zerolog.Logger,
) *Handler {
	h := &Handler{
		tokens:          svc.Tokens,
		vault:           svc.Vault,
		audit:           svc.Audit,
		devices:         svc.Devices,
		health:          svc.Health,
		gatherer:        gatherer,
		clock:           clk,
		logger:          logger.With().Str("component", "http").Logger(),
		generateLimiter: newIPLimiter(limits.GeneratePerMinute),
		claimLimiter:    newIPLimiter(limits.ClaimPerMinute),
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness probe. Shutdown marks the handler not ready
// before draining so load balancers stop routing to it.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with request id, real ip, logging and recovery middleware.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(h.logger, next) })
	// Recovery innermost so panics are caught before logging.
	r.Use(func(next http.Handler) http.Handler { return recoveryMiddleware(h.logger, next) })

	r.Get("/livez", h.Livez)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(h.gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.With(h.claimLimiter.middleware).Post("/access/claim", h.Claim)
		r.Get("/access/status/{token}", h.TokenStatus)
		r.Get("/access/introspect", h.Introspect)
		r.Post("/devices/validate", h.ValidateDevice)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)

			r.Post("/secrets", h.CreateSecret)
			r.Get("/secrets", h.ListSecrets)
			r.Get("/secrets/{id}", h.GetSecret)
			r.Post("/secrets/{id}/rotate", h.RotateSecret)
			r.Delete("/secrets/{id}", h.DeleteSecret)

			r.Post("/sessions", h.CreateStoredSession)
			r.Get("/sessions", h.ListStoredSessions)
			r.Get("/sessions/{id}", h.GetStoredSession)
			r.Delete("/sessions/{id}", h.DeleteStoredSession)

			r.With(h.generateLimiter.middleware).Post("/access/tokens", h.GenerateToken)
			r.Get("/access/tokens", h.ListTokens)
			r.Post("/access/tokens/{id}/revoke", h.RevokeToken)
			r.Post("/access/contractors/{identity}/revoke", h.KillSwitch)

			r.Get("/audit/events", h.ListAuditEvents)
			r.Get("/audit/events/{id}", h.GetAuditEvent)
			r.Get("/audit/export", h.ExportAudit)

			r.Get("/devices", h.ListDevices)
			r.Get("/devices/{id}", h.GetDevice)
			r.Post("/devices/{id}/trust", h.TrustDevice)
			r.Post("/devices/{id}/block", h.BlockDevice)
			r.Post("/devices/{id}/unblock", h.UnblockDevice)
		})
	})

	return r
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid request body", reasonBadRequest)
		return false
	}
	return true
}

// Health reports database and encryption health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != application.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, HealthResponse{
		Status:        report.Status,
		Components:    report.Components,
		UptimeSeconds: int64(report.Uptime.Seconds()),
		Time:          formatTime(h.clock.Now()),
	})
}

// Livez reports that the process is serving.
func (h *Handler) Livez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readyz reports whether the instance accepts traffic.
func (h *Handler) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
