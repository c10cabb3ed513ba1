// Package slot persists the single bank-list cache entry. Writes are
// last-write-wins; concurrent refreshes racing each other is harmless
// because every stored value was a full successful fetch.
package slot

import (
	"context"
	"slices"
	"sync"

	"kore/internal/banks/models"
	"kore/pkg/platform/sentinel"
)

type InMemory struct {
	mu    sync.RWMutex
	entry *models.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Load(_ context.Context) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entry == nil {
		return nil, sentinel.ErrNotFound
	}
	return cloneEntry(s.entry), nil
}

func (s *InMemory) Save(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry = cloneEntry(entry)
	return nil
}

func cloneEntry(in *models.Entry) *models.Entry {
	return &models.Entry{
		Banks:     slices.Clone(in.Banks),
		FetchedAt: in.FetchedAt,
	}
}
