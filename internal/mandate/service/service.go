// Package service implements the mandate lifecycle: creation against
// the provider, strict cancellation, and the read path.
//
// Both write operations run under a per-user durable lock so the
// precondition read, the provider call, and the row write cannot
// interleave with another operation for the same user, across every
// service instance. Provider answers are always persisted, FAILED and
// rejected ones included, before the caller sees an error.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"kore/internal/mandate/metrics"
	"kore/internal/mandate/models"
	"kore/internal/onepipe"
	profilemodels "kore/internal/profile/models"
	rulesmodels "kore/internal/rules/models"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/audit"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

// MandateStore persists mandate rows. The store enforces the single
// live mandate rule and reports it as sentinel.ErrConflict.
type MandateStore interface {
	Create(ctx context.Context, m *models.Mandate) error
	Update(ctx context.Context, m *models.Mandate) error
	LatestByUser(ctx context.Context, userID id.UserID) (*models.Mandate, error)
}

// ProfileSource is the committed profile surface the lifecycle reads.
// *profile.Service satisfies it.
type ProfileSource interface {
	SnapshotFor(ctx context.Context, userID id.UserID) (profilemodels.Snapshot, error)
	BankSecrets(ctx context.Context, userID id.UserID) (profilemodels.BankSecrets, error)
}

// RulesSource yields the user's single active debit rules snapshot.
// *rules.Service satisfies it.
type RulesSource interface {
	ActiveFor(ctx context.Context, userID id.UserID) (*rulesmodels.Snapshot, error)
}

// ProviderClient is the provider call surface. *onepipe.Client satisfies it.
type ProviderClient interface {
	Transact(ctx context.Context, payload *onepipe.Payload) onepipe.Outcome
}

// UserLocker serializes lifecycle operations per user. Production wires
// the Postgres advisory locker so the guarantee spans instances.
type UserLocker interface {
	WithUserLock(ctx context.Context, userID id.UserID, fn func(ctx context.Context) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	createRejectedMsg     = "The provider rejected the mandate request."
	cancelNotConfirmedMsg = "The provider did not confirm the cancellation."
	noMandateMsg          = "No mandate found for this user."
)

// Service owns every mandate state change. Rows enter through Create
// and change only through Cancel; nothing else writes mandate state.
type Service struct {
	mandates       MandateStore
	profiles       ProfileSource
	rules          RulesSource
	provider       ProviderClient
	codec          *onepipe.Codec
	locker         UserLocker
	db             *sql.DB
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	activeStatus   string
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

// WithDB makes each lifecycle write transactional: the mandate row and
// its audit outbox entries go through one transaction.
func WithDB(db *sql.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithActiveStatus overrides the status token that marks a setup
// response as already active. Defaults to the provider's "Active".
func WithActiveStatus(status string) Option {
	return func(s *Service) {
		s.activeStatus = status
	}
}

// New constructs the mandate service.
func New(mandates MandateStore, profiles ProfileSource, rules RulesSource, provider ProviderClient, codec *onepipe.Codec, locker UserLocker, opts ...Option) *Service {
	s := &Service{
		mandates: mandates,
		profiles: profiles,
		rules:    rules,
		provider: provider,
		codec:    codec,
		locker:   locker,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create sets up a recurring debit mandate from the user's committed
// profile and active debit rules. Preconditions fail fast with no
// provider call and no row; once the provider answers, a row is written
// whatever the answer was, even if the caller has gone away.
func (s *Service) Create(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	var mandate *models.Mandate
	err := s.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		mandate, err = s.create(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mandate, nil
}

func (s *Service) create(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	latest, err := s.mandates.LatestByUser(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest mandate")
	}
	if err == nil && latest.Live() {
		return nil, dErrors.Newf(dErrors.CodeConflict, "a mandate with status %s already exists for this user", latest.Status)
	}

	snapshot, rules, err := s.preconditions(ctx, userID)
	if err != nil {
		return nil, err
	}
	secrets, err := s.profiles.BankSecrets(ctx, userID)
	if err != nil {
		return nil, err
	}

	payload, err := s.codec.BuildCreateMandatePayload(onepipe.CreateMandateInput{
		CustomerRef:        customerRef(userID),
		Firstname:          snapshot.Firstname,
		Surname:            snapshot.Surname,
		MobileNo:           snapshot.Phone,
		AccountNumber:      secrets.AccountNumber,
		BankCode:           snapshot.BankCode,
		BVN:                secrets.BVN,
		AmountPerFrequency: rules.AmountPerFrequency,
		MonthlyMaxDebit:    rules.MonthlyMaxDebit,
		SingleMaxDebit:     rules.SingleMaxDebit,
		Frequency:          rules.Frequency,
		StartDate:          rules.StartDateString(),
	})
	if err != nil {
		return nil, err
	}

	mandate, err := models.NewMandate(userID, rules.ID, payload.RequestRef, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	outcome := s.provider.Transact(ctx, payload)

	// Persistence survives caller cancellation: the provider holds its
	// side of this mandate now, so ours is recorded no matter who is
	// still listening.
	persistCtx := context.WithoutCancel(ctx)

	switch outcome.Kind {
	case onepipe.OutcomeSuccess:
		fields := onepipe.ExtractMandateFields(outcome.Body, s.activeStatus)
		mandate.ResolveCreation(fields, outcome.Body)
		actions := []audit.Action{audit.ActionMandateCreated}
		if mandate.Status == models.StatusActive {
			actions = append(actions, audit.ActionMandateActivated)
		}
		if err := s.persistCreation(persistCtx, mandate, nil, actions...); err != nil {
			return nil, err
		}
		s.countTransition(mandate.Status)
		return mandate, nil

	case onepipe.OutcomeProviderError:
		body := outcome.AuditBody()
		mandate.ResolveCreationFailure(body)
		if err := s.persistCreation(persistCtx, mandate, map[string]any{
			"reason":      "provider_error",
			"status_code": outcome.StatusCode,
		}, audit.ActionMandateCreateFailed); err != nil {
			return nil, err
		}
		s.countTransition(models.StatusFailed)
		return nil, dErrors.NewWithDetails(dErrors.CodeProviderRejected, onepipe.ExtractErrorMessage(body, createRejectedMsg), body)

	default:
		body := outcome.AuditBody()
		mandate.ResolveCreationFailure(body)
		if err := s.persistCreation(persistCtx, mandate, map[string]any{
			"reason": "transport_error",
		}, audit.ActionMandateCreateFailed); err != nil {
			return nil, err
		}
		s.countTransition(models.StatusFailed)
		return nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "mandate provider is unavailable")
	}
}

// Cancel cancels the user's latest mandate. Only the provider's
// bit-exact confirmation transitions the row; any other answer leaves
// it ACTIVE with the attempt recorded on the mandate.
func (s *Service) Cancel(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	var mandate *models.Mandate
	err := s.locker.WithUserLock(ctx, userID, func(ctx context.Context) error {
		var err error
		mandate, err = s.cancel(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mandate, nil
}

func (s *Service) cancel(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	mandate, err := s.mandates.LatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, noMandateMsg)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest mandate")
	}
	if err := mandate.CanCancel(); err != nil {
		return nil, err
	}

	snapshot, err := s.profiles.SnapshotFor(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "no profile on record for this user")
		}
		return nil, err
	}
	if err := profileNames(snapshot); err != nil {
		return nil, err
	}

	payload, err := s.codec.BuildCancelMandatePayload(onepipe.CancelMandateInput{
		CustomerRef:      customerRef(userID),
		Firstname:        snapshot.Firstname,
		Surname:          snapshot.Surname,
		MobileNo:         snapshot.Phone,
		MandateReference: mandate.MandateReference,
	})
	if err != nil {
		return nil, err
	}

	outcome := s.provider.Transact(ctx, payload)
	persistCtx := context.WithoutCancel(ctx)

	switch outcome.Kind {
	case onepipe.OutcomeSuccess:
		if onepipe.CancelConfirmed(outcome.Body) {
			mandate.ApplyCancellation(outcome.Body, time.Now().UTC())
			if err := s.persistTransition(persistCtx, mandate, nil, audit.ActionMandateCancelled); err != nil {
				return nil, err
			}
			s.countTransition(models.StatusCancelled)
			return mandate, nil
		}
		// Transport-wise success, but not the confirmation we require.
		mandate.ApplyCancelRejected(outcome.Body)
		if err := s.persistTransition(persistCtx, mandate, map[string]any{
			"reason": "not_confirmed",
		}, audit.ActionMandateCancelRejected); err != nil {
			return nil, err
		}
		s.countCancelRejected()
		return nil, dErrors.NewWithDetails(dErrors.CodeProviderRejected, onepipe.ExtractErrorMessage(outcome.Body, cancelNotConfirmedMsg), outcome.Body)

	case onepipe.OutcomeProviderError:
		body := outcome.AuditBody()
		mandate.ApplyCancelRejected(body)
		if err := s.persistTransition(persistCtx, mandate, map[string]any{
			"reason":      "provider_error",
			"status_code": outcome.StatusCode,
		}, audit.ActionMandateCancelRejected); err != nil {
			return nil, err
		}
		s.countCancelRejected()
		return nil, dErrors.NewWithDetails(dErrors.CodeProviderRejected, onepipe.ExtractErrorMessage(body, cancelNotConfirmedMsg), body)

	default:
		mandate.ApplyCancelRejected(outcome.AuditBody())
		if err := s.persistTransition(persistCtx, mandate, map[string]any{
			"reason": "transport_error",
		}, audit.ActionMandateCancelRejected); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "mandate provider is unavailable")
	}
}

// GetLatest returns the user's most recent mandate by creation time.
func (s *Service) GetLatest(ctx context.Context, userID id.UserID) (*models.Mandate, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	mandate, err := s.mandates.LatestByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, noMandateMsg)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load latest mandate")
	}
	return mandate, nil
}

// preconditions loads the state a creation depends on and rejects the
// call before any provider traffic when it is missing or inconsistent.
func (s *Service) preconditions(ctx context.Context, userID id.UserID) (profilemodels.Snapshot, *rulesmodels.Snapshot, error) {
	snapshot, err := s.profiles.SnapshotFor(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return profilemodels.Snapshot{}, nil, dErrors.New(dErrors.CodePreconditionFailed, "complete your profile before creating a mandate")
		}
		return profilemodels.Snapshot{}, nil, err
	}
	if !snapshot.Completed {
		return profilemodels.Snapshot{}, nil, dErrors.New(dErrors.CodePreconditionFailed, "profile is not completed")
	}
	if err := profileNames(snapshot); err != nil {
		return profilemodels.Snapshot{}, nil, err
	}

	rules, err := s.rules.ActiveFor(ctx, userID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return profilemodels.Snapshot{}, nil, dErrors.New(dErrors.CodePreconditionFailed, "no active debit rules for this user")
		}
		return profilemodels.Snapshot{}, nil, err
	}
	if err := rules.Validate(); err != nil {
		return profilemodels.Snapshot{}, nil, dErrors.Wrap(err, dErrors.CodePreconditionFailed, "active debit rules are invalid")
	}
	return snapshot, rules, nil
}

// profileNames checks the fields every provider payload carries. Cancel
// needs them too, long after profile completion was last checked.
func profileNames(p profilemodels.Snapshot) error {
	if p.Firstname == "" || p.Surname == "" {
		return dErrors.New(dErrors.CodePreconditionFailed, "profile is missing first name or surname")
	}
	canon, err := profilemodels.CanonicalPhone(p.Phone)
	if err != nil || canon != p.Phone {
		return dErrors.New(dErrors.CodePreconditionFailed, "profile phone number is not canonical")
	}
	return nil
}

// persistCreation writes the resolved row and its audit trail in one
// transaction when a database is wired. A conflict here means a live
// mandate appeared despite the user lock: the provider now holds a
// mandate we have no row for, which is worth an operator's attention.
func (s *Service) persistCreation(ctx context.Context, m *models.Mandate, detail map[string]any, actions ...audit.Action) error {
	persist := func(ctx context.Context) error {
		if err := s.mandates.Create(ctx, m); err != nil {
			return err
		}
		for _, action := range actions {
			s.logAudit(ctx, action, m, detail)
		}
		return nil
	}
	var err error
	if s.db != nil {
		err = tx.Execute(ctx, s.db, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.logger.ErrorContext(ctx, "mandate insert conflicted after provider call",
				"user_id", m.UserID.String(),
				"request_ref", m.RequestRef,
			)
			return dErrors.New(dErrors.CodeConflict, "a live mandate already exists for this user")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist mandate")
	}
	return nil
}

// persistTransition writes the mutated row and its audit trail in one
// transaction when a database is wired.
func (s *Service) persistTransition(ctx context.Context, m *models.Mandate, detail map[string]any, actions ...audit.Action) error {
	persist := func(ctx context.Context) error {
		if err := s.mandates.Update(ctx, m); err != nil {
			return err
		}
		for _, action := range actions {
			s.logAudit(ctx, action, m, detail)
		}
		return nil
	}
	var err error
	if s.db != nil {
		err = tx.Execute(ctx, s.db, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist mandate transition")
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, m *models.Mandate, extra map[string]any) {
	s.logger.InfoContext(ctx, string(action),
		"event", action,
		"log_type", "audit",
		"user_id", m.UserID.String(),
		"mandate_id", m.ID.String(),
		"request_ref", m.RequestRef,
		"status", m.Status,
	)
	if s.auditPublisher == nil {
		return
	}
	detail := map[string]any{
		"mandate_id": m.ID.String(),
		"status":     string(m.Status),
	}
	for k, v := range extra {
		detail[k] = v
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:     action,
		UserID:     m.UserID.String(),
		RequestRef: m.RequestRef,
		Detail:     detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed",
			"action", action,
			"error", err,
		)
	}
}

func (s *Service) countTransition(status models.Status) {
	if s.metrics != nil {
		s.metrics.IncTransition(string(status))
	}
}

func (s *Service) countCancelRejected() {
	if s.metrics != nil {
		s.metrics.IncCancelRejected()
	}
}

// customerRef is the stable provider-side identifier for a user.
func customerRef(userID id.UserID) string {
	return "user-" + userID.String()
}
