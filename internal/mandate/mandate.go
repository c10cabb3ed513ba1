// Package mandate owns the recurring-debit mandate lifecycle: creation
// against the provider, activation, and cancellation. At most one live
// mandate exists per user, and every provider answer is recorded
// durably whether or not the caller is still listening.
package mandate

import (
	"database/sql"
	"log/slog"

	"kore/internal/mandate/handler"
	"kore/internal/mandate/metrics"
	"kore/internal/mandate/models"
	"kore/internal/mandate/service"
	mandatestore "kore/internal/mandate/store/mandate"
	"kore/internal/onepipe"
	"kore/internal/platform/middleware"
)

// Service drives mandate creation, cancellation, and reads.
type Service = service.Service

// Handler wires the mandate endpoints to the service.
type Handler = handler.Handler

// Mandate is the lifecycle aggregate.
type Mandate = models.Mandate

// NewService constructs the mandate service.
func NewService(mandates service.MandateStore, profiles service.ProfileSource, rules service.RulesSource, provider service.ProviderClient, codec *onepipe.Codec, locker service.UserLocker, opts ...service.Option) *Service {
	return service.New(mandates, profiles, rules, provider, codec, locker, opts...)
}

// NewHandler constructs the HTTP handler for mandate routes.
func NewHandler(s *Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return handler.New(s, logger, jwtValidator)
}

// NewMemoryStore returns the in-memory mandate store.
func NewMemoryStore() *mandatestore.InMemory {
	return mandatestore.NewInMemory()
}

// NewPostgresStore returns the Postgres mandate store.
func NewPostgresStore(db *sql.DB) *mandatestore.Postgres {
	return mandatestore.NewPostgres(db)
}

func WithLogger(logger *slog.Logger) service.Option { return service.WithLogger(logger) }

func WithAuditPublisher(p service.AuditPublisher) service.Option {
	return service.WithAuditPublisher(p)
}

func WithDB(db *sql.DB) service.Option { return service.WithDB(db) }

func WithMetrics(m *metrics.Metrics) service.Option { return service.WithMetrics(m) }

func WithActiveStatus(status string) service.Option { return service.WithActiveStatus(status) }

// NewMetrics registers the mandate transition metrics.
func NewMetrics() *metrics.Metrics {
	return metrics.New()
}
