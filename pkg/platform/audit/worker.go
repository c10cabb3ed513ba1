package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kore/pkg/platform/audit/publishers/ops"
)

// Outbox is the worker's view of the event store.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Producer delivers a batch to the stream. KafkaProducer in production.
type Producer interface {
	Publish(ctx context.Context, events []Event) error
}

const defaultBatchSize = 100

// Worker drains the outbox to the producer. Rows are marked published
// only after the producer acks, so a crash between publish and mark can
// duplicate events downstream but never lose them.
type Worker struct {
	outbox   Outbox
	producer Producer
	interval time.Duration
	batch    int
	logger   *slog.Logger
	breaker  *ops.CircuitBreaker
	metrics  *ops.Metrics
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithWorkerMetrics(m *ops.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// NewWorker constructs the relay. interval controls how often the outbox
// is polled.
func NewWorker(outbox Outbox, producer Producer, interval time.Duration, opts ...WorkerOption) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	w := &Worker{
		outbox:   outbox,
		producer: producer,
		interval: interval,
		batch:    defaultBatchSize,
		logger:   slog.Default(),
		breaker:  ops.NewCircuitBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain relays one batch. Exported so tests and shutdown paths can flush
// without the ticker.
func (w *Worker) Drain(ctx context.Context) {
	if !w.breaker.Allow() {
		if w.metrics != nil {
			w.metrics.IncBreakerSkipped()
			w.metrics.SetCircuitBreakerState(true)
		}
		return
	}

	events, err := w.outbox.FetchUnpublished(ctx, w.batch)
	if err != nil {
		w.logger.ErrorContext(ctx, "audit outbox fetch failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	if err := w.producer.Publish(ctx, events); err != nil {
		w.breaker.RecordFailure()
		if w.metrics != nil {
			w.metrics.IncPublishFailures()
			w.metrics.SetCircuitBreakerState(w.breaker.IsOpen())
		}
		w.logger.ErrorContext(ctx, "audit publish failed, rows stay queued",
			"batch", len(events),
			"error", err,
		)
		return
	}
	w.breaker.RecordSuccess()

	ids := make([]uuid.UUID, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	if err := w.outbox.MarkPublished(ctx, ids); err != nil {
		w.logger.ErrorContext(ctx, "audit mark published failed", "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.AddPublished(len(events))
		w.metrics.SetCircuitBreakerState(false)
	}
}
