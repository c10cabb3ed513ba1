package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	batches [][]Event
	err     error
	calls   int
}

func (p *fakeProducer) Publish(_ context.Context, events []Event) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func seedOutbox(t *testing.T, store *InMemory, n int) []Event {
	t.Helper()
	events := make([]Event, n)
	for i := range events {
		events[i] = Event{
			ID:         uuid.New(),
			Action:     ActionMandateCreated,
			UserID:     "user-1",
			OccurredAt: time.Now().UTC(),
		}
		require.NoError(t, store.Append(t.Context(), events[i]))
	}
	return events
}

func TestDrainPublishesAndMarks(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{}
	worker := NewWorker(store, producer, time.Second, WithWorkerLogger(slog.New(slog.DiscardHandler)))

	seeded := seedOutbox(t, store, 3)
	worker.Drain(t.Context())

	require.Len(t, producer.batches, 1)
	assert.Len(t, producer.batches[0], 3)

	// Marked rows are not fetched again.
	worker.Drain(t.Context())
	assert.Equal(t, 1, len(producer.batches))

	remaining, err := store.FetchUnpublished(t.Context(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, seeded[0].ID, producer.batches[0][0].ID)
}

func TestDrainKeepsRowsOnPublishFailure(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{err: errors.New("broker down")}
	worker := NewWorker(store, producer, time.Second, WithWorkerLogger(slog.New(slog.DiscardHandler)))

	seedOutbox(t, store, 2)
	worker.Drain(t.Context())

	remaining, err := store.FetchUnpublished(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	// Broker recovers; the same rows go out.
	producer.err = nil
	worker.Drain(t.Context())
	require.Len(t, producer.batches, 1)
	assert.Len(t, producer.batches[0], 2)
}

func TestDrainRespectsBatchSize(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{}
	worker := NewWorker(store, producer, time.Second,
		WithWorkerLogger(slog.New(slog.DiscardHandler)),
		WithBatchSize(2),
	)

	seedOutbox(t, store, 5)
	worker.Drain(t.Context())
	worker.Drain(t.Context())
	worker.Drain(t.Context())

	require.Len(t, producer.batches, 3)
	assert.Len(t, producer.batches[0], 2)
	assert.Len(t, producer.batches[1], 2)
	assert.Len(t, producer.batches[2], 1)
}

func TestDrainOpensBreakerAfterRepeatedFailures(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{err: errors.New("broker down")}
	worker := NewWorker(store, producer, time.Second, WithWorkerLogger(slog.New(slog.DiscardHandler)))

	seedOutbox(t, store, 1)
	for range 5 {
		worker.Drain(t.Context())
	}
	require.Equal(t, 5, producer.calls)

	// Breaker is open; the next drain skips the producer entirely.
	worker.Drain(t.Context())
	assert.Equal(t, 5, producer.calls)

	remaining, err := store.FetchUnpublished(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := NewInMemory()
	producer := &fakeProducer{}
	worker := NewWorker(store, producer, time.Millisecond, WithWorkerLogger(slog.New(slog.DiscardHandler)))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	seedOutbox(t, store, 1)
	require.Eventually(t, func() bool {
		rows, err := store.FetchUnpublished(context.Background(), 1)
		return err == nil && len(rows) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
