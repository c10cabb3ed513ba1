// Package locker serializes work per user across service instances.
//
// The mandate lifecycle holds this lock around the whole
// check-call-persist sequence of a creation or cancellation, so two
// requests for the same user cannot interleave between the
// precondition read and the row write, even when they land on
// different instances.
package locker

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"

	id "kore/pkg/domain"
)

// key folds a user ID into the bigint space Postgres advisory locks
// use. A collision between two users only over-serializes them.
func key(userID id.UserID) int64 {
	h := fnv.New64a()
	u := uuid.UUID(userID)
	h.Write(u[:])
	return int64(h.Sum64())
}

// InMemory serializes per user within one process. For tests and
// single-instance development; multi-instance deployments need the
// Postgres locker.
type InMemory struct {
	mu    sync.Mutex
	users map[int64]chan struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{users: make(map[int64]chan struct{})}
}

// WithUserLock runs fn while holding the user's slot. Acquisition
// blocks until the current holder finishes or ctx ends.
func (l *InMemory) WithUserLock(ctx context.Context, userID id.UserID, fn func(ctx context.Context) error) error {
	sem := l.sem(key(userID))
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()
	return fn(ctx)
}

func (l *InMemory) sem(k int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.users[k]
	if !ok {
		sem = make(chan struct{}, 1)
		l.users[k] = sem
	}
	return sem
}
