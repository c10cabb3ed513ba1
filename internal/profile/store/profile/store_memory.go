// Package profile persists committed user profiles.
package profile

import (
	"context"
	"sync"

	"kore/internal/profile/models"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
)

// InMemory is the test and single-node implementation.
type InMemory struct {
	mu       sync.RWMutex
	profiles map[id.UserID]*models.Profile
}

func NewInMemory() *InMemory {
	return &InMemory{profiles: make(map[id.UserID]*models.Profile)}
}

func (s *InMemory) FindByUser(_ context.Context, userID id.UserID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *profile
	return &clone, nil
}

// Upsert writes the profile, keeping the original creation time when a
// row already exists.
func (s *InMemory) Upsert(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *profile
	if existing, ok := s.profiles[profile.UserID]; ok {
		clone.CreatedAt = existing.CreatedAt
	}
	s.profiles[profile.UserID] = &clone
	return nil
}
