// Package attempt persists verification attempt records. The log is
// append-only; rows are never updated or deleted.
package attempt

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
	attempts []*models.VerificationAttempt
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(_ context.Context, attempt *models.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *attempt
	s.attempts = append(s.attempts, &clone)
	return nil
}

func (s *InMemory) FindByRequestRef(_ context.Context, requestRef string) (*models.VerificationAttempt, error) {
	if requestRef == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, attempt := range s.attempts {
		if attempt.RequestRef == requestRef {
			clone := *attempt
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// ListByUser returns a user's attempts, oldest first.
func (s *InMemory) ListByUser(_ context.Context, userID id.UserID) ([]*models.VerificationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.VerificationAttempt
	for _, attempt := range s.attempts {
		if attempt.UserID == userID {
			clone := *attempt
			out = append(out, &clone)
		}
	}
	return out, nil
}
