// Package rules is the facade over the debit rules collaborator: the
// read-only source of a user's single active rule snapshot and the
// static allocation services catalog. Rule creation and editing happen
// out of band; the mandate lifecycle only ever reads.
package rules

import (
	"database/sql"
	"log/slog"

	"kore/internal/rules/handler"
	"kore/internal/rules/models"
	"kore/internal/rules/service"
	"kore/internal/rules/store/engine"
)

type (
	Service       = service.Service
	Handler       = handler.Handler
	Snapshot      = models.Snapshot
	Allocation    = models.Allocation
	ServiceBucket = models.ServiceBucket
)

// Catalog returns the ordered allocation buckets.
func Catalog() []models.ServiceBucket { return models.Catalog() }

// ValidateAllocations checks an allocation list against the catalog
// and the must-sum-to-100 law.
func ValidateAllocations(allocations []models.Allocation) error {
	return models.ValidateAllocations(allocations)
}

func NewService(store service.Store, opts ...service.Option) *Service {
	return service.New(store, opts...)
}

func NewHandler(logger *slog.Logger) *Handler {
	return handler.New(logger)
}

func NewMemoryStore() *engine.InMemory {
	return engine.NewInMemory()
}

func NewPostgresStore(db *sql.DB) *engine.Postgres {
	return engine.NewPostgres(db)
}

// WithLogger mirrors service.WithLogger for callers wiring through the
// facade.
func WithLogger(logger *slog.Logger) service.Option {
	return service.WithLogger(logger)
}
