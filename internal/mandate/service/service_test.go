package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kore/internal/mandate/models"
	mandatestore "kore/internal/mandate/store/mandate"
	"kore/internal/onepipe"
	"kore/internal/platform/locker"
	profilemodels "kore/internal/profile/models"
	rulesmodels "kore/internal/rules/models"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/audit"
)

type fakeProvider struct {
	mu      sync.Mutex
	outcome onepipe.Outcome
	delay   time.Duration
	calls   int
	last    *onepipe.Payload
}

// Transact mirrors the real client's ref contract: the outcome carries
// the payload's request_ref.
func (f *fakeProvider) Transact(_ context.Context, payload *onepipe.Payload) onepipe.Outcome {
	f.mu.Lock()
	f.calls++
	f.last = payload
	out := f.outcome
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	out.RequestRef = payload.RequestRef
	return out
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) lastPayload() *onepipe.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type stubProfiles struct {
	snapshot    profilemodels.Snapshot
	secrets     profilemodels.BankSecrets
	snapshotErr error
	secretsErr  error
}

func (s *stubProfiles) SnapshotFor(context.Context, id.UserID) (profilemodels.Snapshot, error) {
	if s.snapshotErr != nil {
		return profilemodels.Snapshot{}, s.snapshotErr
	}
	return s.snapshot, nil
}

func (s *stubProfiles) BankSecrets(context.Context, id.UserID) (profilemodels.BankSecrets, error) {
	if s.secretsErr != nil {
		return profilemodels.BankSecrets{}, s.secretsErr
	}
	return s.secrets, nil
}

type stubRules struct {
	snapshot *rulesmodels.Snapshot
	err      error
}

func (s *stubRules) ActiveFor(context.Context, id.UserID) (*rulesmodels.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	mandates *mandatestore.InMemory
	profiles *stubProfiles
	rules    *stubRules
	audits   *audit.InMemory
	userID   id.UserID
}

func completedProfile() profilemodels.Snapshot {
	return profilemodels.Snapshot{
		Firstname: "Ada",
		Surname:   "Obi",
		Phone:     "2348031234567",
		BankName:  "Unity Bank",
		BankCode:  "215",
		Completed: true,
	}
}

func activeRules(userID id.UserID) *rulesmodels.Snapshot {
	return &rulesmodels.Snapshot{
		ID:                 id.NewRuleID(),
		UserID:             userID,
		MonthlyMaxDebit:    "50000",
		SingleMaxDebit:     "10000",
		AmountPerFrequency: "5000",
		Frequency:          rulesmodels.FrequencyMonthly,
		Allocations: []rulesmodels.Allocation{
			{Bucket: "SAVINGS", Percentage: 50},
			{Bucket: "BILLS", Percentage: 50},
		},
		FailureAction: rulesmodels.FailureActionNotify,
		StartDate:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Active:        true,
	}
}

func newFixture(t *testing.T, outcome onepipe.Outcome) *fixture {
	t.Helper()
	userID := id.NewUserID()
	f := &fixture{
		provider: &fakeProvider{outcome: outcome},
		mandates: mandatestore.NewInMemory(),
		profiles: &stubProfiles{
			snapshot: completedProfile(),
			secrets:  profilemodels.BankSecrets{AccountNumber: "0123456789", BVN: "12345678901"},
		},
		rules:  &stubRules{snapshot: activeRules(userID)},
		audits: audit.NewInMemory(),
		userID: userID,
	}
	codec := onepipe.NewCodec(onepipe.Config{
		ClientSecret: "shared-secret",
		WebhookURL:   "https://kore.example/webhooks/onepipe",
	})
	f.svc = New(f.mandates, f.profiles, f.rules, f.provider, codec, locker.NewInMemory(),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithAuditPublisher(audit.NewService(f.audits, audit.WithLogger(slog.New(slog.DiscardHandler)))),
	)
	return f
}

func (f *fixture) seedMandate(t *testing.T, status models.Status, mandateRef string, createdAt time.Time) *models.Mandate {
	t.Helper()
	m, err := models.NewMandate(f.userID, id.NewRuleID(), onepipe.NewRequestRef(), createdAt)
	require.NoError(t, err)
	m.Status = status
	m.MandateReference = mandateRef
	require.NoError(t, f.mandates.Create(t.Context(), m))
	return m
}

func (f *fixture) auditActions() []audit.Action {
	var actions []audit.Action
	for _, e := range f.audits.All() {
		actions = append(actions, e.Action)
	}
	return actions
}

func decodeBody(t *testing.T, raw string) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	return body
}

func pendingOutcome(t *testing.T) onepipe.Outcome {
	return onepipe.Outcome{
		Kind:       onepipe.OutcomeSuccess,
		StatusCode: 200,
		Body: decodeBody(t, `{"status":"Successful","data":{
			"mandate_reference":"MND-77","subscription_id":314,
			"activation_url":"https://pay.example/activate/MND-77","status":"Pending"}}`),
	}
}

func activeOutcome(t *testing.T) onepipe.Outcome {
	return onepipe.Outcome{
		Kind:       onepipe.OutcomeSuccess,
		StatusCode: 200,
		Body: decodeBody(t, `{"status":"Successful","data":{
			"mandate_reference":"MND-78","status":"Active"}}`),
	}
}

func cancelConfirmedOutcome(t *testing.T) onepipe.Outcome {
	return onepipe.Outcome{
		Kind:       onepipe.OutcomeSuccess,
		StatusCode: 200,
		Body:       decodeBody(t, `{"status":"Successful","data":{"provider_response_code":"00"}}`),
	}
}

func cancelRejectedOutcome(t *testing.T) onepipe.Outcome {
	return onepipe.Outcome{
		Kind:       onepipe.OutcomeSuccess,
		StatusCode: 200,
		Body:       decodeBody(t, `{"status":"Successful","data":{"provider_response_code":"01"}}`),
	}
}

func TestCreatePendingMandate(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))

	m, err := f.svc.Create(t.Context(), f.userID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, m.Status)
	assert.Equal(t, "MND-77", m.MandateReference)
	require.NotNil(t, m.SubscriptionID)
	assert.Equal(t, int64(314), *m.SubscriptionID)
	assert.Equal(t, "https://pay.example/activate/MND-77", m.ActivationURL)
	assert.Equal(t, "Successful", m.ProviderResponse["status"])
	assert.Nil(t, m.CancelledAt)

	// The row's ref is the one that went over the wire.
	payload := f.provider.lastPayload()
	assert.Equal(t, payload.RequestRef, m.RequestRef)
	assert.Len(t, m.RequestRef, 32)

	stored, err := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, stored.ID)
	assert.Equal(t, models.StatusPending, stored.Status)

	assert.Contains(t, f.auditActions(), audit.ActionMandateCreated)
	assert.NotContains(t, f.auditActions(), audit.ActionMandateActivated)
}

func TestCreateSetupPayloadShape(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))

	_, err := f.svc.Create(t.Context(), f.userID)
	require.NoError(t, err)

	p := f.provider.lastPayload()
	assert.Equal(t, onepipe.RequestTypeSetupMandate, p.RequestType)

	require.NotNil(t, p.Auth)
	require.NotNil(t, p.Auth.Secure)
	assert.NotEmpty(t, *p.Auth.Secure)
	assert.NotContains(t, *p.Auth.Secure, "0123456789")

	require.NotNil(t, p.Transaction)
	assert.Equal(t, "user-"+f.userID.String(), p.Transaction.Customer.CustomerRef)
	assert.Equal(t, "Ada", p.Transaction.Customer.Firstname)
	assert.Equal(t, "Obi", p.Transaction.Customer.Surname)
	assert.Equal(t, "2348031234567", p.Transaction.Customer.MobileNo)
	assert.Equal(t, "5000000", p.Transaction.Amount)

	details, ok := p.Transaction.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "50000000", details["monthly_max_debit"])
	assert.Equal(t, "10000000", details["single_max_debit"])
	assert.Equal(t, "MONTHLY", details["frequency"])
	assert.Equal(t, "2026-09-01", details["start_date"])

	require.NotNil(t, p.Transaction.Meta)
	assert.NotEmpty(t, p.Transaction.Meta.BVN)
	assert.NotContains(t, p.Transaction.Meta.BVN, "12345678901")
}

func TestCreateActiveWhenProviderSignalsActive(t *testing.T) {
	f := newFixture(t, activeOutcome(t))

	m, err := f.svc.Create(t.Context(), f.userID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, m.Status)
	assert.Equal(t, "MND-78", m.MandateReference)
	assert.Contains(t, f.auditActions(), audit.ActionMandateCreated)
	assert.Contains(t, f.auditActions(), audit.ActionMandateActivated)
}

func TestCreatePreconditionsFailFast(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		wantMsg string
	}{
		{
			name:   "profile missing",
			mutate: func(f *fixture) { f.profiles.snapshotErr = dErrors.New(dErrors.CodeNotFound, "profile not found") },
		},
		{
			name:   "profile incomplete",
			mutate: func(f *fixture) { f.profiles.snapshot.Completed = false },
		},
		{
			name:   "missing surname",
			mutate: func(f *fixture) { f.profiles.snapshot.Surname = "" },
		},
		{
			name:   "phone not canonical",
			mutate: func(f *fixture) { f.profiles.snapshot.Phone = "08031234567" },
		},
		{
			name:   "no active rules",
			mutate: func(f *fixture) { f.rules.err = dErrors.New(dErrors.CodeNotFound, "no active debit rules for user") },
		},
		{
			name: "allocations sum below 100",
			mutate: func(f *fixture) {
				f.rules.snapshot.Allocations = []rulesmodels.Allocation{
					{Bucket: "SAVINGS", Percentage: 49},
					{Bucket: "BILLS", Percentage: 50},
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, pendingOutcome(t))
			tt.mutate(f)

			_, err := f.svc.Create(t.Context(), f.userID)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed), "got %v", err)

			// Fail fast: no provider call, no row, no audit event.
			assert.Zero(t, f.provider.callCount())
			_, err = f.mandates.LatestByUser(t.Context(), f.userID)
			assert.Error(t, err)
			assert.Empty(t, f.audits.All())
		})
	}
}

func TestCreateConflictsWithLiveMandate(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))
	f.seedMandate(t, models.StatusPending, "", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Create(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "got %v", err)
	assert.Zero(t, f.provider.callCount())
}

func TestCreateAllowedAfterFailedMandate(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))
	failed := f.seedMandate(t, models.StatusPending, "", time.Now().UTC().Add(-time.Hour))
	failed.ResolveCreationFailure(map[string]any{"status": "Failed"})
	require.NoError(t, f.mandates.Update(t.Context(), failed))

	m, err := f.svc.Create(t.Context(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, m.Status)
	assert.Equal(t, 1, f.provider.callCount())
}

func TestCreateProviderErrorPersistsFailedRow(t *testing.T) {
	f := newFixture(t, onepipe.Outcome{
		Kind:       onepipe.OutcomeProviderError,
		StatusCode: 400,
		Body:       decodeBody(t, `{"status":"Failed","message":"Insufficient KYC level"}`),
	})

	_, err := f.svc.Create(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProviderRejected), "got %v", err)
	assert.Contains(t, err.Error(), "Insufficient KYC level")

	var de *dErrors.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Failed", de.Details["status"])

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "Insufficient KYC level", stored.ProviderResponse["message"])

	assert.Contains(t, f.auditActions(), audit.ActionMandateCreateFailed)
}

func TestCreateTransportErrorPersistsFailedRow(t *testing.T) {
	f := newFixture(t, onepipe.Outcome{
		Kind:   onepipe.OutcomeTransportError,
		Detail: "connection refused",
	})

	_, err := f.svc.Create(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable), "got %v", err)

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "connection refused", stored.ProviderResponse["detail"])

	assert.Contains(t, f.auditActions(), audit.ActionMandateCreateFailed)
}

func TestCreateSerializedPerUser(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))
	f.provider.delay = 30 * time.Millisecond

	results := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := f.svc.Create(t.Context(), f.userID)
			results <- err
		}()
	}

	var succeeded, conflicted int
	for range 2 {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one creation must win")
	assert.Equal(t, 1, conflicted, "the loser must see the winner's live mandate")
	assert.Equal(t, 1, f.provider.callCount(), "only the winner may reach the provider")
}

func TestCancelHappyPath(t *testing.T) {
	f := newFixture(t, cancelConfirmedOutcome(t))
	seeded := f.seedMandate(t, models.StatusActive, "MND-77", time.Now().UTC().Add(-time.Hour))

	m, err := f.svc.Cancel(t.Context(), f.userID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, m.Status)
	require.NotNil(t, m.CancelledAt)
	assert.Equal(t, "00", m.ProviderResponseCode())

	stored, err := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, stored.ID)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
	assert.Equal(t, "Successful", stored.CancelResponse["status"])

	assert.Contains(t, f.auditActions(), audit.ActionMandateCancelled)
}

func TestCancelPayloadShape(t *testing.T) {
	f := newFixture(t, cancelConfirmedOutcome(t))
	f.seedMandate(t, models.StatusActive, "MND-77", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.NoError(t, err)

	p := f.provider.lastPayload()
	assert.Equal(t, onepipe.RequestTypeCancelMandate, p.RequestType)
	require.NotNil(t, p.Auth)
	assert.Nil(t, p.Auth.Type)
	assert.Nil(t, p.Auth.Secure)
	assert.Equal(t, "PaywithAccount", p.Auth.AuthProvider)
	require.NotNil(t, p.Transaction.Meta)
	assert.Equal(t, "MND-77", p.Transaction.Meta.PaymentID)
}

func TestCancelRejectedByPredicate(t *testing.T) {
	// A plausible-looking success with the wrong code must not cancel.
	f := newFixture(t, cancelRejectedOutcome(t))
	f.seedMandate(t, models.StatusActive, "MND-77", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProviderRejected), "got %v", err)

	var de *dErrors.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "Successful", de.Details["status"])

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusActive, stored.Status, "mandate must remain ACTIVE")
	assert.Nil(t, stored.CancelledAt)
	assert.Equal(t, "01", stored.ProviderResponseCode(), "the rejected attempt must be on the record")

	assert.Contains(t, f.auditActions(), audit.ActionMandateCancelRejected)
}

func TestCancelProviderError(t *testing.T) {
	f := newFixture(t, onepipe.Outcome{
		Kind:       onepipe.OutcomeProviderError,
		StatusCode: 500,
		Body:       decodeBody(t, `{"status":"Failed","message":"Mandate not found upstream"}`),
	})
	f.seedMandate(t, models.StatusActive, "MND-77", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProviderRejected), "got %v", err)
	assert.Contains(t, err.Error(), "Mandate not found upstream")

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, "Failed", stored.CancelResponse["status"])
}

func TestCancelTransportError(t *testing.T) {
	f := newFixture(t, onepipe.Outcome{
		Kind:   onepipe.OutcomeTransportError,
		Detail: "dial tcp: i/o timeout",
	})
	f.seedMandate(t, models.StatusActive, "MND-77", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUpstreamUnavailable), "got %v", err)

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusActive, stored.Status)
	assert.Equal(t, "dial tcp: i/o timeout", stored.CancelResponse["detail"])

	assert.Contains(t, f.auditActions(), audit.ActionMandateCancelRejected)
}

func TestCancelWithoutAnyMandate(t *testing.T) {
	f := newFixture(t, cancelConfirmedOutcome(t))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	assert.Contains(t, err.Error(), "No mandate found for this user.")
	assert.Zero(t, f.provider.callCount())
}

func TestCancelPendingMandate(t *testing.T) {
	f := newFixture(t, cancelConfirmedOutcome(t))
	f.seedMandate(t, models.StatusPending, "", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed), "got %v", err)
	assert.Zero(t, f.provider.callCount())

	stored, storeErr := f.mandates.LatestByUser(t.Context(), f.userID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestCancelMissingReference(t *testing.T) {
	f := newFixture(t, cancelConfirmedOutcome(t))
	f.seedMandate(t, models.StatusActive, "", time.Now().UTC().Add(-time.Hour))

	_, err := f.svc.Cancel(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePreconditionFailed), "got %v", err)
	assert.Zero(t, f.provider.callCount())
}

func TestGetLatestPicksNewestRow(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))
	base := time.Now().UTC()
	old := f.seedMandate(t, models.StatusPending, "", base.Add(-2*time.Hour))
	old.ResolveCreationFailure(map[string]any{"status": "Failed"})
	require.NoError(t, f.mandates.Update(t.Context(), old))
	newest := f.seedMandate(t, models.StatusPending, "", base.Add(-time.Hour))

	m, err := f.svc.GetLatest(t.Context(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, m.ID)
}

func TestGetLatestWithoutMandate(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))

	_, err := f.svc.GetLatest(t.Context(), f.userID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound), "got %v", err)
	assert.Contains(t, err.Error(), "No mandate found for this user.")
}

func TestCreateRejectsNilUser(t *testing.T) {
	f := newFixture(t, pendingOutcome(t))

	_, err := f.svc.Create(t.Context(), id.UserID{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Zero(t, f.provider.callCount())
}
