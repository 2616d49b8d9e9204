// Package httptransport assembles the HTTP surface: middleware chain, public
// and authenticated route groups, health, and metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"redpocket/internal/platform/middleware"
	"redpocket/pkg/platform/httputil"
)

// Registrar mounts a feature's routes on a router group.
type Registrar interface {
	Register(r chi.Router)
}

// PublicRegistrar mounts a feature's unauthenticated routes.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// Deps carries everything the router composes.
type Deps struct {
	Logger    *slog.Logger
	Validator middleware.TokenValidator

	// Authed handlers mount under the bearer-auth chain; Public ones outside
	// it. A handler may appear in both.
	Authed []Registrar
	Public []PublicRegistrar

	// HealthChecks run on /healthz; any failure turns the response 503.
	HealthChecks map[string]func(ctx context.Context) error
}

// NewRouter builds the service router.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", healthHandler(deps.HealthChecks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(public chi.Router) {
		for _, h := range deps.Public {
			h.RegisterPublic(public)
		}
	})

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.RequireAuth(deps.Validator, deps.Logger))
		for _, h := range deps.Authed {
			h.Register(authed)
		}
	})

	return r
}

func healthHandler(checks map[string]func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks)+1)
		report["status"] = "ok"
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report["status"] = "degraded"
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, report)
	}
}
