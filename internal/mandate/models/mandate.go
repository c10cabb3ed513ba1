// Package models holds the mandate aggregate and its lifecycle state
// machine.
package models

import (
	"time"

	"kore/internal/onepipe"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
)

// Status is the mandate lifecycle state.
type Status string

const (
	// StatusPending: the provider accepted the setup call but has not
	// signalled activation yet. The user approves via the activation URL.
	StatusPending Status = "PENDING"
	// StatusActive: the provider reported the mandate active. Debits may
	// run until it is cancelled.
	StatusActive Status = "ACTIVE"
	// StatusFailed: terminal. The setup call failed; the only way
	// forward is a brand-new mandate with a new request ref.
	StatusFailed Status = "FAILED"
	// StatusCancelled: terminal. The provider confirmed cancellation.
	StatusCancelled Status = "CANCELLED"
)

// CanTransitionTo reports whether the state machine permits moving to
// target. FAILED and CANCELLED are terminal; there is no retry path
// back to PENDING.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusActive
	case StatusActive:
		return target == StatusCancelled
	default:
		return false
	}
}

// Terminal reports whether no further transitions exist from s.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Live reports whether s occupies the user's single live slot. At most
// one PENDING or ACTIVE mandate may exist per user at a time.
func (s Status) Live() bool {
	return s == StatusPending || s == StatusActive
}

// Mandate is the aggregate root for one recurring-debit authorization.
//
// Invariants:
//   - RequestRef is unique and never reused; a failed creation is
//     retried with a brand-new mandate and a fresh ref, never by
//     resubmitting this one
//   - Status moves PENDING → ACTIVE and ACTIVE → CANCELLED only;
//     FAILED and CANCELLED are terminal
//   - CancelledAt is set iff Status == CANCELLED
//   - Rows are append-only audit records: mutated only by lifecycle
//     transitions, never deleted
//
// ProviderResponse and CancelResponse keep the provider's raw answer
// for each call so a dispute months later can be settled from our own
// records.
type Mandate struct {
	ID               id.MandateID   `json:"id"`
	UserID           id.UserID      `json:"user_id"`
	RuleID           id.RuleID      `json:"rule_id"`
	RequestRef       string         `json:"request_ref"`
	Status           Status         `json:"status"`
	MandateReference string         `json:"mandate_reference"`
	SubscriptionID   *int64         `json:"subscription_id"`
	ActivationURL    string         `json:"activation_url"`
	ProviderResponse map[string]any `json:"provider_response,omitempty"`
	CancelResponse   map[string]any `json:"cancel_response,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	CancelledAt      *time.Time     `json:"cancelled_at"`
}

// NewMandate starts a creation attempt. The row is only persisted once
// the provider call resolves it, so the initial status is provisional.
func NewMandate(userID id.UserID, ruleID id.RuleID, requestRef string, now time.Time) (*Mandate, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "mandate requires a user")
	}
	if requestRef == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "mandate requires a request ref")
	}
	return &Mandate{
		ID:         id.NewMandateID(),
		UserID:     userID,
		RuleID:     ruleID,
		RequestRef: requestRef,
		Status:     StatusPending,
		CreatedAt:  now,
	}, nil
}

// Live reports whether the mandate occupies the user's live slot.
func (m *Mandate) Live() bool {
	return m.Status.Live()
}

// ResolveCreation records a successful setup call. The provider may
// report the mandate already active; otherwise it stays PENDING until
// the user approves it through the activation URL.
func (m *Mandate) ResolveCreation(fields onepipe.MandateFields, body map[string]any) {
	if fields.ProviderActive {
		m.Status = StatusActive
	} else {
		m.Status = StatusPending
	}
	m.MandateReference = fields.MandateReference
	m.SubscriptionID = fields.SubscriptionID
	m.ActivationURL = fields.ActivationURL
	m.ProviderResponse = body
}

// ResolveCreationFailure records a setup call that failed, keeping the
// provider's answer or the transport detail for audit.
func (m *Mandate) ResolveCreationFailure(body map[string]any) {
	m.Status = StatusFailed
	m.ProviderResponse = body
}

// CanCancel checks the cancellation preconditions carried by the
// mandate itself: only an ACTIVE mandate with a provider reference can
// be cancelled. A PENDING mandate cannot; the user never approved it.
func (m *Mandate) CanCancel() error {
	if !m.Status.CanTransitionTo(StatusCancelled) {
		return dErrors.Newf(dErrors.CodePreconditionFailed, "mandate is %s, only an active mandate can be cancelled", m.Status)
	}
	if m.MandateReference == "" {
		return dErrors.New(dErrors.CodePreconditionFailed, "mandate has no provider reference to cancel")
	}
	return nil
}

// ApplyCancellation transitions ACTIVE → CANCELLED. Call CanCancel
// first to validate the transition.
func (m *Mandate) ApplyCancellation(body map[string]any, now time.Time) {
	m.Status = StatusCancelled
	m.CancelResponse = body
	m.CancelledAt = &now
}

// ApplyCancelRejected records a cancel attempt the provider did not
// confirm. The mandate stays ACTIVE; the provider's answer is kept so
// the rejected attempt shows up in the audit trail.
func (m *Mandate) ApplyCancelRejected(body map[string]any) {
	m.CancelResponse = body
}

// ProviderResponseCode is the newest provider verdict code on this
// mandate. A cancel response wins over the creation response.
func (m *Mandate) ProviderResponseCode() string {
	return onepipe.LatestResponseCode(m.CancelResponse, m.ProviderResponse)
}
