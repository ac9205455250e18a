// Package httptransport is the thin HTTP layer. It delegates to domain
// services without embedding business logic so transport concerns remain
// isolated.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "cardvault/internal/jwt_token"
	"cardvault/internal/platform/middleware"
	"cardvault/internal/transport/http/shared"
)

// Registrar is implemented by every domain handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck probes a backing dependency.
type HealthCheck func(ctx context.Context) error

// Handler carries the dependencies of the top-level routes.
type Handler struct {
	logger     *slog.Logger
	jwtService *jwttoken.JWTService
	certifiers CertifierVerifier
	adminToken string
	health     map[string]HealthCheck
}

func NewHandler(
	jwtService *jwttoken.JWTService,
	certifiers CertifierVerifier,
	adminToken string,
	logger *slog.Logger,
	health map[string]HealthCheck) *Handler {
	return &Handler{
		logger:     logger,
		jwtService: jwtService,
		certifiers: certifiers,
		adminToken: adminToken,
		health:     health,
	}
}

// NewRouter wires all public endpoints. Domain handlers register their own
// routes; the router owns the cross-cutting middleware chain and the
// operational endpoints.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Post("/auth/token", h.handleToken)
	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.health))
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}
	shared.WriteJSON(w, status, map[string]any{
		"status":     http.StatusText(status),
		"components": components,
	})
}
