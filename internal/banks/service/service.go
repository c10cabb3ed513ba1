// Package service implements the bank list cache: a single slot with a
// TTL, refreshed through the provider, and a deliberate asymmetry on
// failure. Once any list has ever been fetched, callers get data; a
// stale copy beats an error.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"kore/internal/banks/metrics"
	"kore/internal/banks/models"
	"kore/internal/onepipe"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/sentinel"
)

// DefaultTTL matches the provider guidance for bank list freshness.
const DefaultTTL = time.Hour

const refreshKey = "get_banks"

// Serving modes, recorded in metrics.
const (
	modeFresh       = "fresh"
	modeRefreshed   = "refreshed"
	modeStale       = "stale"
	modeUnavailable = "unavailable"
)

// Store is the cache slot the service reads and overwrites.
type Store interface {
	Load(ctx context.Context) (*models.Entry, error)
	Save(ctx context.Context, entry *models.Entry) error
}

// Provider issues the get_banks call.
type Provider interface {
	Transact(ctx context.Context, payload *onepipe.Payload) onepipe.Outcome
}

type Service struct {
	store    Store
	provider Provider
	codec    *onepipe.Codec
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	group    singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, provider Provider, codec *onepipe.Codec, opts ...Option) *Service {
	s := &Service{
		store:    store,
		provider: provider,
		codec:    codec,
		ttl:      DefaultTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the bank list. A fresh slot is served without a provider
// call; otherwise one refresh runs (concurrent callers collapse onto
// it) and on refresh failure the previous value, if any, is served
// stale.
func (s *Service) Get(ctx context.Context) (*models.List, error) {
	entry, err := s.store.Load(ctx)
	if err == nil && entry.FreshAt(time.Now(), s.ttl) {
		s.served(modeFresh)
		return &models.List{Banks: entry.Banks}, nil
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		s.logger.WarnContext(ctx, "bank cache slot unreadable, refreshing from provider", "error", err)
	}

	v, err, _ := s.group.Do(refreshKey, func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.List), nil
}

func (s *Service) refresh(ctx context.Context) (*models.List, error) {
	outcome := s.provider.Transact(ctx, s.codec.BuildGetBanksPayload())
	if outcome.Kind != onepipe.OutcomeSuccess {
		s.logger.WarnContext(ctx, "bank list refresh failed",
			"outcome", string(outcome.Kind),
			"status_code", outcome.StatusCode,
			"request_ref", outcome.RequestRef,
		)
		return s.fallback(ctx, fmt.Errorf("provider %s: %s", outcome.Kind, outcome.Detail))
	}

	banks, err := onepipe.NormalizeBanks(outcome.Body)
	if err != nil {
		s.logger.WarnContext(ctx, "bank list response did not normalize",
			"error", err,
			"request_ref", outcome.RequestRef,
		)
		return s.fallback(ctx, err)
	}

	entry := &models.Entry{Banks: banks, FetchedAt: time.Now().UTC()}
	if err := s.store.Save(ctx, entry); err != nil {
		// The fetched list is still good; only future reads lose the cache.
		s.logger.ErrorContext(ctx, "failed to persist bank cache slot", "error", err)
	}
	s.served(modeRefreshed)
	return &models.List{Banks: banks}, nil
}

// fallback serves the previous slot value when a refresh failed.
// Staleness is preferred to unavailability; only a never-populated
// slot propagates the failure.
func (s *Service) fallback(ctx context.Context, cause error) (*models.List, error) {
	entry, err := s.store.Load(ctx)
	if err == nil {
		s.served(modeStale)
		return &models.List{Banks: entry.Banks, Stale: true}, nil
	}
	s.served(modeUnavailable)
	return nil, dErrors.Wrap(cause, dErrors.CodeUpstreamUnavailable, "bank list is unavailable")
}

func (s *Service) served(mode string) {
	if s.metrics != nil {
		s.metrics.IncServed(mode)
	}
}
