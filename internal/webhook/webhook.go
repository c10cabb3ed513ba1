// Package webhook ingests asynchronous provider notifications. Every
// payload is stored as an append-only audit record and acknowledged
// immediately; correlation back to request references and verification
// attempts is best-effort metadata and never mutates mandate or
// profile state.
package webhook

import (
	"database/sql"
	"log/slog"

	"kore/internal/webhook/handler"
	"kore/internal/webhook/models"
	"kore/internal/webhook/service"
	eventstore "kore/internal/webhook/store/event"
)

// Service stores and correlates notifications.
type Service = service.Service

// Handler wires the ingress endpoint to the service.
type Handler = handler.Handler

// Event is the stored notification record.
type Event = models.WebhookEvent

// NewService constructs the webhook service.
func NewService(events service.EventStore, opts ...service.Option) *Service {
	return service.New(events, opts...)
}

// NewHandler constructs the HTTP handler for the webhook route.
func NewHandler(s *Service, logger *slog.Logger) *Handler {
	return handler.New(s, logger)
}

// NewMemoryStore returns the in-memory event store.
func NewMemoryStore() *eventstore.InMemory {
	return eventstore.NewInMemory()
}

// NewPostgresStore returns the Postgres event store.
func NewPostgresStore(db *sql.DB) *eventstore.Postgres {
	return eventstore.NewPostgres(db)
}

func WithLogger(logger *slog.Logger) service.Option { return service.WithLogger(logger) }

func WithAuditPublisher(p service.AuditPublisher) service.Option {
	return service.WithAuditPublisher(p)
}

func WithDB(db *sql.DB) service.Option { return service.WithDB(db) }

func WithAttemptSource(attempts service.AttemptSource) service.Option {
	return service.WithAttemptSource(attempts)
}

func WithRefLocations(locations []string) service.Option {
	return service.WithRefLocations(locations)
}
