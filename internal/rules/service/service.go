// Package service exposes the read-only rules source the mandate
// lifecycle consumes. Rules rows are created out of band; nothing here
// mutates them.
package service

import (
	"context"
	"errors"
	"log/slog"

	"kore/internal/rules/models"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/sentinel"
)

// Store is the persistence surface the service needs.
type Store interface {
	ActiveFor(ctx context.Context, userID id.UserID) (*models.Snapshot, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ActiveFor returns the user's single active rule snapshot.
func (s *Service) ActiveFor(ctx context.Context, userID id.UserID) (*models.Snapshot, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	snapshot, err := s.store.ActiveFor(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active debit rules for user")
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to load active rules", "error", err, "user_id", userID)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load active rules")
	}
	return snapshot, nil
}
