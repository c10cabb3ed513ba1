// Package service ingests provider webhook notifications. Ingestion
// never fails the caller: the provider retries aggressively on anything
// but a success response, and a retry storm over a transient local
// problem helps nobody. The raw payload is stored first, correlation is
// best-effort metadata on top.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	profilemodels "kore/internal/profile/models"
	"kore/internal/webhook/models"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/audit"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

// DefaultRefLocations are the payload paths searched for a request
// reference, in order. The provider is not consistent about where it
// echoes the ref, so every known location is tried.
var DefaultRefLocations = []string{
	"request_ref",
	"data.request_ref",
	"details.request_ref",
	"transaction.request_ref",
}

// EventStore persists webhook events.
type EventStore interface {
	Append(ctx context.Context, event *models.WebhookEvent) error
	ListByRequestRef(ctx context.Context, requestRef string) ([]*models.WebhookEvent, error)
}

// AttemptSource resolves a request_ref back to the verification
// attempt that issued it. *profile.Service satisfies it.
type AttemptSource interface {
	FindAttemptByRequestRef(ctx context.Context, requestRef string) (*profilemodels.VerificationAttempt, error)
}

// AuditPublisher emits audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service stores and correlates inbound provider notifications.
type Service struct {
	events         EventStore
	attempts       AttemptSource
	refLocations   []string
	db             *sql.DB
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

// WithDB enables transactional persistence, letting the audit outbox
// join the event's insert.
func WithDB(db *sql.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

// WithAttemptSource enables correlation to verification attempts.
func WithAttemptSource(attempts AttemptSource) Option {
	return func(s *Service) {
		s.attempts = attempts
	}
}

// WithRefLocations overrides the payload paths searched for a request
// reference.
func WithRefLocations(locations []string) Option {
	return func(s *Service) {
		if len(locations) > 0 {
			s.refLocations = locations
		}
	}
}

func New(events EventStore, opts ...Option) *Service {
	s := &Service{
		events:       events,
		refLocations: DefaultRefLocations,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestRaw decodes a request body and ingests it. A body that is not
// a JSON object is still recorded: the event carries an empty payload
// and the decode error, because a notification we cannot parse is
// exactly the kind worth keeping on file.
func (s *Service) IngestRaw(ctx context.Context, body []byte) (*models.WebhookEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		event := models.NewWebhookEvent(models.ProviderOnePipe, nil, time.Now().UTC())
		event.Error = "malformed payload: " + err.Error()
		return s.store(ctx, event, "")
	}
	return s.Ingest(ctx, payload)
}

// Ingest records a provider notification. It always returns a usable
// event; the error reports a storage failure for observability only,
// and callers still acknowledge the webhook so the provider stops
// retrying.
func (s *Service) Ingest(ctx context.Context, payload map[string]any) (*models.WebhookEvent, error) {
	event := models.NewWebhookEvent(models.ProviderOnePipe, payload, time.Now().UTC())
	event.CorrelatedRequestRef = s.locateRequestRef(payload)
	userID := s.correlateAttempt(ctx, event)
	return s.store(ctx, event, userID)
}

// EventsForRequestRef lists the stored notifications correlated to a
// request reference, newest first. Reconciliation tooling reads here.
func (s *Service) EventsForRequestRef(ctx context.Context, requestRef string) ([]*models.WebhookEvent, error) {
	if requestRef == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "request_ref is required")
	}
	events, err := s.events.ListByRequestRef(ctx, requestRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list webhook events")
	}
	return events, nil
}

// correlateAttempt links the event to the verification attempt that
// issued its ref, when one exists, and returns that attempt's user for
// the audit record.
func (s *Service) correlateAttempt(ctx context.Context, event *models.WebhookEvent) string {
	if event.CorrelatedRequestRef == "" || s.attempts == nil {
		return ""
	}
	attempt, err := s.attempts.FindAttemptByRequestRef(ctx, event.CorrelatedRequestRef)
	switch {
	case err == nil:
		attemptID := attempt.ID
		event.VerificationAttemptID = &attemptID
		return attempt.UserID.String()
	case errors.Is(err, sentinel.ErrNotFound):
		// A ref with no attempt is normal: mandate refs land here too.
		return ""
	default:
		s.logger.WarnContext(ctx, "webhook attempt correlation failed",
			"request_ref", event.CorrelatedRequestRef,
			"error", err.Error(),
		)
		return ""
	}
}

// store persists the event detached from the caller's cancellation: a
// provider that hangs up early must not cost us the audit record.
func (s *Service) store(ctx context.Context, event *models.WebhookEvent, userID string) (*models.WebhookEvent, error) {
	persistCtx := context.WithoutCancel(ctx)

	persist := func(ctx context.Context) error {
		if err := s.events.Append(ctx, event); err != nil {
			return err
		}
		s.logAudit(ctx, event, userID)
		return nil
	}

	var err error
	if s.db != nil {
		err = tx.Execute(persistCtx, s.db, persist)
	} else {
		err = persist(persistCtx)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "webhook event not persisted",
			"webhook_id", event.ID.String(),
			"request_ref", event.CorrelatedRequestRef,
			"error", err.Error(),
		)
		return event, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist webhook event")
	}
	return event, nil
}

// locateRequestRef tries each configured payload path and returns the
// first non-empty string value.
func (s *Service) locateRequestRef(payload map[string]any) string {
	for _, location := range s.refLocations {
		if ref := digString(payload, location); ref != "" {
			return ref
		}
	}
	return ""
}

func digString(payload map[string]any, path string) string {
	var node any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return ""
		}
		node = m[part]
	}
	s, _ := node.(string)
	return s
}

func (s *Service) logAudit(ctx context.Context, event *models.WebhookEvent, userID string) {
	s.logger.InfoContext(ctx, string(audit.ActionWebhookReceived),
		"event", audit.ActionWebhookReceived,
		"log_type", "audit",
		"webhook_id", event.ID.String(),
		"provider", event.Provider,
		"request_ref", event.CorrelatedRequestRef,
	)
	if s.auditPublisher == nil {
		return
	}
	detail := map[string]any{
		"webhook_id": event.ID.String(),
		"provider":   event.Provider,
	}
	if event.VerificationAttemptID != nil {
		detail["verification_attempt_id"] = event.VerificationAttemptID.String()
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:     audit.ActionWebhookReceived,
		UserID:     userID,
		RequestRef: event.CorrelatedRequestRef,
		Detail:     detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed",
			"action", audit.ActionWebhookReceived,
			"error", err,
		)
	}
}
