// Package event persists webhook events. Rows are append-only: once a
// notification is on file it is never updated or deleted.
package event

import (
	"context"
	"maps"
	"sync"

	"kore/internal/webhook/models"
)

// InMemory keeps events in arrival order.
type InMemory struct {
	mu   sync.RWMutex
	rows []*models.WebhookEvent
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

// Append stores the event.
func (s *InMemory) Append(_ context.Context, event *models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, cloneEvent(event))
	return nil
}

// ListByRequestRef returns the events correlated to requestRef, newest
// first. An unknown ref yields an empty list, not an error: absence of
// notifications is a normal state.
func (s *InMemory) ListByRequestRef(_ context.Context, requestRef string) ([]*models.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WebhookEvent
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].CorrelatedRequestRef == requestRef {
			out = append(out, cloneEvent(s.rows[i]))
		}
	}
	return out, nil
}

// All returns every stored event in arrival order. Tests read here.
func (s *InMemory) All() []*models.WebhookEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WebhookEvent, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, cloneEvent(row))
	}
	return out
}

func cloneEvent(e *models.WebhookEvent) *models.WebhookEvent {
	out := *e
	if e.VerificationAttemptID != nil {
		attemptID := *e.VerificationAttemptID
		out.VerificationAttemptID = &attemptID
	}
	if e.Payload != nil {
		out.Payload = maps.Clone(e.Payload)
	}
	return &out
}
