// Package engine persists debit rule snapshots. At most one active
// snapshot exists per user; both implementations enforce that.
package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"kore/internal/rules/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
)

type InMemory struct {
	mu   sync.RWMutex
	rows map[id.RuleID]*models.Snapshot
}

func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[id.RuleID]*models.Snapshot)}
}

// Save inserts or replaces a snapshot. Saving an active snapshot while
// a different active one exists for the same user returns ErrConflict.
func (s *InMemory) Save(_ context.Context, snapshot *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.Active {
		for _, row := range s.rows {
			if row.UserID == snapshot.UserID && row.Active && row.ID != snapshot.ID {
				return sentinel.ErrConflict
			}
		}
	}
	s.rows[snapshot.ID] = cloneSnapshot(snapshot)
	return nil
}

// ActiveFor returns the single active snapshot for the user.
func (s *InMemory) ActiveFor(_ context.Context, userID id.UserID) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.UserID == userID && row.Active {
			return cloneSnapshot(row), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// Deactivate flips the user's active snapshot off.
func (s *InMemory) Deactivate(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.UserID == userID && row.Active {
			row.Active = false
			row.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return sentinel.ErrNotFound
}

func cloneSnapshot(in *models.Snapshot) *models.Snapshot {
	out := *in
	out.Allocations = slices.Clone(in.Allocations)
	if in.EndDate != nil {
		end := *in.EndDate
		out.EndDate = &end
	}
	return &out
}
