// Package httpapi assembles the HTTP surface: shared middleware chain,
// domain route registration, health and metrics endpoints. Business
// logic stays in the domain services.
package httpapi

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"kore/internal/platform/metrics"
	"kore/internal/platform/middleware"
	"kore/pkg/platform/httputil"
)

// Registrar mounts one domain's routes on the shared router.
type Registrar interface {
	Register(r chi.Router)
}

// Config assembles the router. Nil fields disable the matching piece:
// nil Metrics skips instrumentation, nil DB or Redis drops that ping
// from healthz.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	DB             *sql.DB
	Redis          *goredis.Client
	Domains        []Registrar
}

// New builds the router. Middleware order matters: request ID first so
// every later log line carries it, recovery before the domains so a
// panicking handler still answers JSON.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})

	for _, domain := range cfg.Domains {
		domain.Register(r)
	}

	r.Get("/healthz", handleHealthz(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz pings the wired dependencies. Check values are only
// "ok" or "down"; failure detail belongs in logs, not on an open
// endpoint.
func handleHealthz(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]string)
		healthy := true

		if cfg.DB != nil {
			checks["postgres"] = "ok"
			if err := cfg.DB.PingContext(ctx); err != nil {
				checks["postgres"] = "down"
				healthy = false
			}
		}
		if cfg.Redis != nil {
			checks["redis"] = "ok"
			if err := cfg.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "down"
				healthy = false
			}
		}

		body := healthResponse{Status: "ok", Checks: checks}
		status := http.StatusOK
		if !healthy {
			body.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, body)
	}
}
