// Package domain holds shared domain primitives.
//
// Typed UUID identifiers prevent accidental mixing of entity IDs across
// module boundaries. Construct them via the Parse functions at trust
// boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "kore/pkg/domain-errors"
)

// UserID identifies an account holder.
type UserID uuid.UUID

// MandateID identifies a recurring-debit mandate.
type MandateID uuid.UUID

// WebhookEventID identifies a stored provider notification.
type WebhookEventID uuid.UUID

// RuleID identifies a savings rule configuration.
type RuleID uuid.UUID

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id cannot be the nil UUID")
	}
	return parsed, nil
}

// ParseUserID validates and converts a string into a UserID.
func ParseUserID(s string) (UserID, error) {
	parsed, err := parseUUID(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(parsed), nil
}

// ParseMandateID validates and converts a string into a MandateID.
func ParseMandateID(s string) (MandateID, error) {
	parsed, err := parseUUID(s)
	if err != nil {
		return MandateID{}, err
	}
	return MandateID(parsed), nil
}

// ParseWebhookEventID validates and converts a string into a WebhookEventID.
func ParseWebhookEventID(s string) (WebhookEventID, error) {
	parsed, err := parseUUID(s)
	if err != nil {
		return WebhookEventID{}, err
	}
	return WebhookEventID(parsed), nil
}

// ParseRuleID validates and converts a string into a RuleID.
func ParseRuleID(s string) (RuleID, error) {
	parsed, err := parseUUID(s)
	if err != nil {
		return RuleID{}, err
	}
	return RuleID(parsed), nil
}

// NewUserID generates a fresh UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewMandateID generates a fresh MandateID.
func NewMandateID() MandateID { return MandateID(uuid.New()) }

// NewWebhookEventID generates a fresh WebhookEventID.
func NewWebhookEventID() WebhookEventID { return WebhookEventID(uuid.New()) }

// NewRuleID generates a fresh RuleID.
func NewRuleID() RuleID { return RuleID(uuid.New()) }

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id MandateID) String() string      { return uuid.UUID(id).String() }
func (id WebhookEventID) String() string { return uuid.UUID(id).String() }
func (id RuleID) String() string         { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id MandateID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id WebhookEventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RuleID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
