package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kore/internal/onepipe"
	"kore/internal/profile/models"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/audit"
	"kore/pkg/platform/sentinel"
	"kore/pkg/platform/tx"
)

type ProfileStore interface {
	FindByUser(ctx context.Context, userID id.UserID) (*models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
}

type AttemptStore interface {
	Append(ctx context.Context, attempt *models.VerificationAttempt) error
	FindByRequestRef(ctx context.Context, requestRef string) (*models.VerificationAttempt, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.VerificationAttempt, error)
}

// ProviderClient is the provider call surface. *onepipe.Client satisfies it.
type ProviderClient interface {
	Transact(ctx context.Context, payload *onepipe.Payload) onepipe.Outcome
}

// Sealer is the at-rest encryption surface. *vault.Vault satisfies it.
type Sealer interface {
	Seal(value string) (string, error)
	Open(sealed string) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	verificationDesc      = "Bank account verification for profile completion"
	verificationFailedMsg = "Verification failed. Please check your details and try again."
)

// Service runs bank account verification and owns the only write path
// into profile data. A profile's committed fields change exclusively as
// the side effect of a verified provider lookup.
type Service struct {
	profiles       ProfileStore
	attempts       AttemptStore
	provider       ProviderClient
	codec          *onepipe.Codec
	vault          Sealer
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

// WithDB makes the verified commit transactional: profile upsert and
// attempt row go through one transaction.
func WithDB(db *sql.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

// New constructs the profile service.
func New(profiles ProfileStore, attempts AttemptStore, provider ProviderClient, codec *onepipe.Codec, vault Sealer, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		attempts: attempts,
		provider: provider,
		codec:    codec,
		vault:    vault,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyBankAccount validates the submitted details, runs an account
// lookup against the provider, and on a verified outcome seals the bank
// secrets and commits the profile as completed. Every provider call
// leaves a VerificationAttempt row; validation failures fail fast with
// no row and no provider call. The provider's answer is recorded even
// when the caller has gone away.
func (s *Service) VerifyBankAccount(ctx context.Context, userID id.UserID, req *models.VerifyBankAccountRequest) (*models.Profile, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "verification request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := s.codec.BuildLookupAccountsPayload(onepipe.LookupInput{
		CustomerRef:     "user-" + userID.String(),
		AccountNumber:   req.AccountNumber,
		BankCode:        req.BankCode,
		BVN:             req.BVN,
		Firstname:       req.Firstname,
		Surname:         req.Surname,
		MobileNo:        req.Phone,
		TransactionDesc: verificationDesc,
	})
	if err != nil {
		return nil, err
	}

	outcome := s.provider.Transact(ctx, payload)

	// Persistence survives caller cancellation: the provider answered,
	// so the attempt is recorded no matter who is still listening.
	persistCtx := context.WithoutCancel(ctx)

	switch outcome.Kind {
	case onepipe.OutcomeSuccess:
		if onepipe.LookupVerified(outcome.Body) {
			return s.commitVerified(persistCtx, userID, req, payload, outcome)
		}
		s.recordAttempt(persistCtx, userID, payload, outcome.RequestRef, outcome.Body, models.AttemptFailed)
		s.logAudit(persistCtx, audit.ActionProfileVerifyFailed, userID, outcome.RequestRef, map[string]any{
			"reason": "not_verified",
		})
		return nil, dErrors.New(dErrors.CodeProviderRejected, onepipe.ExtractErrorMessage(outcome.Body, verificationFailedMsg))

	case onepipe.OutcomeProviderError:
		s.recordAttempt(persistCtx, userID, payload, outcome.RequestRef, outcome.AuditBody(), models.AttemptFailed)
		s.logAudit(persistCtx, audit.ActionProfileVerifyFailed, userID, outcome.RequestRef, map[string]any{
			"reason":      "provider_error",
			"status_code": outcome.StatusCode,
		})
		return nil, dErrors.New(dErrors.CodeProviderRejected, onepipe.ExtractErrorMessage(outcome.AuditBody(), verificationFailedMsg))

	default:
		s.recordAttempt(persistCtx, userID, payload, outcome.RequestRef, outcome.AuditBody(), models.AttemptError)
		s.logAudit(persistCtx, audit.ActionProfileVerifyFailed, userID, outcome.RequestRef, map[string]any{
			"reason": "transport_error",
		})
		return nil, dErrors.New(dErrors.CodeUpstreamUnavailable, "bank verification service is unavailable")
	}
}

// commitVerified seals the bank secrets and writes profile plus attempt
// in one transaction when a database is wired, so a half-committed
// verification cannot exist.
func (s *Service) commitVerified(ctx context.Context, userID id.UserID, req *models.VerifyBankAccountRequest, payload *onepipe.Payload, outcome onepipe.Outcome) (*models.Profile, error) {
	accountEnc, err := s.vault.Seal(req.AccountNumber)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal account number")
	}
	bvnEnc, err := s.vault.Seal(req.BVN)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal BVN")
	}

	now := time.Now().UTC()
	profile := &models.Profile{
		UserID:           userID,
		Firstname:        req.Firstname,
		Surname:          req.Surname,
		Phone:            req.Phone,
		BankName:         req.BankName,
		BankCode:         req.BankCode,
		AccountNumberEnc: accountEnc,
		BVNEnc:           bvnEnc,
		IsCompleted:      true,
		VerifiedAt:       &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	persist := func(ctx context.Context) error {
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return err
		}
		return s.attempts.Append(ctx, s.newAttempt(userID, payload, outcome.RequestRef, outcome.Body, models.AttemptSuccess))
	}
	if s.db != nil {
		err = tx.Execute(ctx, s.db, persist)
	} else {
		err = persist(ctx)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit verified profile")
	}

	s.logAudit(ctx, audit.ActionProfileVerified, userID, outcome.RequestRef, map[string]any{
		"bank_code": req.BankCode,
	})
	return profile, nil
}

// GetProfile returns the committed profile for a user.
func (s *Service) GetProfile(ctx context.Context, userID id.UserID) (*models.Profile, error) {
	profile, err := s.profiles.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return profile, nil
}

// SnapshotFor is the read-only view other modules consume.
func (s *Service) SnapshotFor(ctx context.Context, userID id.UserID) (models.Snapshot, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return models.Snapshot{}, err
	}
	return profile.Snapshot(), nil
}

// BankSecrets opens the vault for one in-flight provider call. The
// returned cleartext must not be persisted or logged.
func (s *Service) BankSecrets(ctx context.Context, userID id.UserID) (models.BankSecrets, error) {
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return models.BankSecrets{}, err
	}
	account, err := s.vault.Open(profile.AccountNumberEnc)
	if err != nil {
		return models.BankSecrets{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open account number")
	}
	bvn, err := s.vault.Open(profile.BVNEnc)
	if err != nil {
		return models.BankSecrets{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open BVN")
	}
	return models.BankSecrets{AccountNumber: account, BVN: bvn}, nil
}

func (s *Service) newAttempt(userID id.UserID, payload *onepipe.Payload, requestRef string, response map[string]any, status models.AttemptStatus) *models.VerificationAttempt {
	return &models.VerificationAttempt{
		ID:          uuid.New(),
		UserID:      userID,
		RequestRef:  requestRef,
		RequestType: payload.RequestType,
		PayloadSent: payload.Redacted(),
		Response:    response,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
}

// recordAttempt appends a failure-path attempt row. Losing this row
// loses forensic detail, not domain state, so errors are logged rather
// than surfaced over the provider's answer.
func (s *Service) recordAttempt(ctx context.Context, userID id.UserID, payload *onepipe.Payload, requestRef string, response map[string]any, status models.AttemptStatus) {
	attempt := s.newAttempt(userID, payload, requestRef, response, status)
	if err := s.attempts.Append(ctx, attempt); err != nil {
		s.logger.ErrorContext(ctx, "verification attempt append failed",
			"user_id", userID.String(),
			"request_ref", requestRef,
			"status", status,
			"error", err,
		)
	}
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, userID id.UserID, requestRef string, detail map[string]any) {
	s.logger.InfoContext(ctx, string(action),
		"event", action,
		"log_type", "audit",
		"user_id", userID.String(),
		"request_ref", requestRef,
	)
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:     action,
		UserID:     userID.String(),
		RequestRef: requestRef,
		Detail:     detail,
	}); err != nil {
		s.logger.ErrorContext(ctx, "audit emit failed",
			"action", action,
			"error", err,
		)
	}
}

// FindAttemptByRequestRef locates the attempt that issued a request_ref.
// Webhook correlation uses it; absence is not an error for callers, so
// the sentinel passes through untranslated.
func (s *Service) FindAttemptByRequestRef(ctx context.Context, requestRef string) (*models.VerificationAttempt, error) {
	return s.attempts.FindByRequestRef(ctx, requestRef)
}
