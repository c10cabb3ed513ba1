// Package models defines the stored provider notification record.
package models

import (
	"time"

	"github.com/google/uuid"

	id "kore/pkg/domain"
)

// ProviderOnePipe tags events arriving on the OnePipe ingress path.
const ProviderOnePipe = "onepipe"

// WebhookEvent is the append-only record of one inbound provider
// notification. The raw payload is stored unconditionally; correlation
// to a request_ref or a verification attempt is best-effort metadata
// for reconciliation and never drives state changes. Rows are never
// updated or deleted.
type WebhookEvent struct {
	ID                    id.WebhookEventID `json:"id"`
	Provider              string            `json:"provider"`
	Payload               map[string]any    `json:"payload"`
	CorrelatedRequestRef  string            `json:"correlated_request_ref,omitempty"`
	VerificationAttemptID *uuid.UUID        `json:"verification_attempt_id,omitempty"`
	Error                 string            `json:"error,omitempty"`
	ReceivedAt            time.Time         `json:"received_at"`
}

// NewWebhookEvent builds an event for a just-received payload. It is
// total: ingestion must never fail, so there is nothing to validate. A
// nil payload is stored as an empty object.
func NewWebhookEvent(provider string, payload map[string]any, now time.Time) *WebhookEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return &WebhookEvent{
		ID:         id.NewWebhookEventID(),
		Provider:   provider,
		Payload:    payload,
		ReceivedAt: now,
	}
}
