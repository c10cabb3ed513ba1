// Package profile owns a user's committed personal and bank details.
// Data enters only through bank account verification against the
// provider; there is no direct write API. Other modules read through
// Snapshot and BankSecrets.
package profile

import (
	"database/sql"
	"log/slog"

	"kore/internal/onepipe"
	"kore/internal/platform/middleware"
	"kore/internal/profile/handler"
	"kore/internal/profile/models"
	"kore/internal/profile/service"
	attemptstore "kore/internal/profile/store/attempt"
	profilestore "kore/internal/profile/store/profile"
	"kore/internal/profile/vault"
)

// Service runs bank account verification and serves profile reads.
type Service = service.Service

// Handler wires the verification endpoint to the service.
type Handler = handler.Handler

// Vault seals bank secrets at rest.
type Vault = vault.Vault

// Snapshot is the cross-module profile view.
type Snapshot = models.Snapshot

// NewService constructs the profile service.
func NewService(profiles service.ProfileStore, attempts service.AttemptStore, provider service.ProviderClient, codec *onepipe.Codec, sealer service.Sealer, opts ...service.Option) *Service {
	return service.New(profiles, attempts, provider, codec, sealer, opts...)
}

// NewHandler constructs the HTTP handler for profile routes.
func NewHandler(s *Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return handler.New(s, logger, jwtValidator)
}

// NewVault derives the at-rest vault from the configured secret.
func NewVault(secret string) (*Vault, error) {
	return vault.New(secret)
}

// NewMemoryProfileStore returns the in-memory profile store.
func NewMemoryProfileStore() *profilestore.InMemory {
	return profilestore.NewInMemory()
}

// NewPostgresProfileStore returns the Postgres profile store.
func NewPostgresProfileStore(db *sql.DB) *profilestore.Postgres {
	return profilestore.NewPostgres(db)
}

// NewMemoryAttemptStore returns the in-memory attempt store.
func NewMemoryAttemptStore() *attemptstore.InMemory {
	return attemptstore.NewInMemory()
}

// NewPostgresAttemptStore returns the Postgres attempt store.
func NewPostgresAttemptStore(db *sql.DB) *attemptstore.Postgres {
	return attemptstore.NewPostgres(db)
}

func WithLogger(logger *slog.Logger) service.Option { return service.WithLogger(logger) }

func WithAuditPublisher(p service.AuditPublisher) service.Option {
	return service.WithAuditPublisher(p)
}

func WithDB(db *sql.DB) service.Option { return service.WithDB(db) }
