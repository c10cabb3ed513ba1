// Package mandate persists mandate rows.
//
// Rows are append-only audit records: inserted once, then mutated only
// through lifecycle transitions. At most one live (PENDING or ACTIVE)
// mandate may exist per user; both implementations reject an insert
// that would create a second one.
package mandate

import (
	"context"
	"maps"
	"sync"

	"kore/internal/mandate/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
)

// InMemory mirrors the Postgres contract, including the single live
// mandate rule, so service tests exercise the same behavior.
type InMemory struct {
	mu   sync.RWMutex
	rows []*models.Mandate
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

// Create appends the mandate. Returns sentinel.ErrConflict when the
// user already holds a live mandate and this row would be another one.
func (s *InMemory) Create(_ context.Context, m *models.Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Live() {
		for _, row := range s.rows {
			if row.UserID == m.UserID && row.Live() {
				return sentinel.ErrConflict
			}
		}
	}
	s.rows = append(s.rows, cloneMandate(m))
	return nil
}

// Update persists the mandate's transition fields by ID.
func (s *InMemory) Update(_ context.Context, m *models.Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range s.rows {
		if row.ID == m.ID {
			s.rows[i] = cloneMandate(m)
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// LatestByUser returns the user's most recently created mandate.
func (s *InMemory) LatestByUser(_ context.Context, userID id.UserID) (*models.Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Mandate
	for _, row := range s.rows {
		if row.UserID != userID {
			continue
		}
		// Later insertions win created_at ties.
		if latest == nil || !row.CreatedAt.Before(latest.CreatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	return cloneMandate(latest), nil
}

func cloneMandate(m *models.Mandate) *models.Mandate {
	out := *m
	if m.SubscriptionID != nil {
		sub := *m.SubscriptionID
		out.SubscriptionID = &sub
	}
	if m.CancelledAt != nil {
		at := *m.CancelledAt
		out.CancelledAt = &at
	}
	if m.ProviderResponse != nil {
		out.ProviderResponse = maps.Clone(m.ProviderResponse)
	}
	if m.CancelResponse != nil {
		out.CancelResponse = maps.Clone(m.CancelResponse)
	}
	return &out
}
