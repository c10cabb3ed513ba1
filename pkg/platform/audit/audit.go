// Package audit records domain events on a durable Postgres outbox and
// relays them to a Kafka topic.
//
// Emit appends to the outbox; when the surrounding context carries a
// transaction (pkg/platform/tx) the append joins it, so a state change
// and its audit trail commit or roll back together. A background worker
// drains unpublished rows to the broker. Rows stay in the outbox until
// the broker acks, so a publish failure delays the stream but never
// loses an event.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names a domain event.
type Action string

const (
	ActionMandateCreated        Action = "mandate_created"
	ActionMandateActivated      Action = "mandate_activated"
	ActionMandateCreateFailed   Action = "mandate_create_failed"
	ActionMandateCancelled      Action = "mandate_cancelled"
	ActionMandateCancelRejected Action = "mandate_cancel_rejected"
	ActionWebhookReceived       Action = "webhook_received"
	ActionProfileVerified       Action = "profile_verified"
	ActionProfileVerifyFailed   Action = "profile_verification_failed"
)

var categoryByAction = map[Action]string{
	ActionMandateCreated:        "mandate",
	ActionMandateActivated:      "mandate",
	ActionMandateCreateFailed:   "mandate",
	ActionMandateCancelled:      "mandate",
	ActionMandateCancelRejected: "mandate",
	ActionWebhookReceived:       "webhook",
	ActionProfileVerified:       "profile",
	ActionProfileVerifyFailed:   "profile",
}

// CategoryOf groups actions for downstream consumers. Unknown actions
// fall into "general".
func CategoryOf(action Action) string {
	if c, ok := categoryByAction[action]; ok {
		return c
	}
	return "general"
}

// Event is one domain occurrence bound for the audit stream. Detail is
// free-form but must never contain cleartext secrets; callers pass
// redacted payloads only.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Action     Action         `json:"action"`
	Category   string         `json:"category"`
	UserID     string         `json:"user_id,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	RequestRef string         `json:"request_ref,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
