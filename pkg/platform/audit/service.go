package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kore/pkg/requestcontext"
)

// Appender persists events. The Postgres outbox joins a context
// transaction when one is present.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Service stamps and appends events. It is the Emit implementation the
// domain services publish through.
type Service struct {
	store  Appender
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs the audit service.
func NewService(store Appender, opts ...ServiceOption) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit fills in bookkeeping fields and appends the event. The request ID
// is taken from the context when the caller did not set one.
func (s *Service) Emit(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Category == "" {
		event.Category = CategoryOf(event.Action)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if err := s.store.Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"user_id", event.UserID,
			"error", err,
		)
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
