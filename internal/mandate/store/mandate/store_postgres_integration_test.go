//go:build integration

package mandate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kore/internal/mandate/models"
	"kore/internal/onepipe"
	rulesmodels "kore/internal/rules/models"
	"kore/internal/rules/store/engine"
	id "kore/pkg/domain"
	"kore/pkg/platform/sentinel"
	"kore/pkg/testutil/containers"
)

// seedRule satisfies the foreign key from mandates to the rules row
// they were created under.
func seedRule(t *testing.T, pg *containers.PostgresContainer, userID id.UserID) id.RuleID {
	t.Helper()
	now := time.Now().UTC()
	ruleID := id.NewRuleID()
	store := engine.NewPostgres(pg.DB)
	require.NoError(t, store.Save(t.Context(), &rulesmodels.Snapshot{
		ID:                 ruleID,
		UserID:             userID,
		MonthlyMaxDebit:    "200000",
		SingleMaxDebit:     "100000",
		Frequency:          "monthly",
		AmountPerFrequency: "50000",
		Allocations:        []rulesmodels.Allocation{{Bucket: "SAVINGS", Percentage: 100}},
		FailureAction:      "retry",
		StartDate:          now,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}))
	return ruleID
}

func newStoredMandate(t *testing.T, userID id.UserID, ruleID id.RuleID, at time.Time) *models.Mandate {
	t.Helper()
	m, err := models.NewMandate(userID, ruleID, onepipe.NewRequestRef(), at)
	require.NoError(t, err)
	return m
}

func TestPostgresLifecycleRoundTrip(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)
	ctx := t.Context()

	userID := id.NewUserID()
	ruleID := seedRule(t, pg, userID)

	m := newStoredMandate(t, userID, ruleID, time.Now().UTC())
	require.NoError(t, store.Create(ctx, m))

	got, err := store.LatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.RequestRef, got.RequestRef)
	assert.Equal(t, models.StatusPending, got.Status)

	sub := int64(4711)
	got.Status = models.StatusActive
	got.MandateReference = "MND-IT-1"
	got.SubscriptionID = &sub
	got.ProviderResponse = map[string]any{
		"status": "Successful",
		"data":   map[string]any{"provider_response_code": "00"},
	}
	require.NoError(t, store.Update(ctx, got))

	latest, err := store.LatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, latest.Status)
	assert.Equal(t, "MND-IT-1", latest.MandateReference)
	require.NotNil(t, latest.SubscriptionID)
	assert.Equal(t, int64(4711), *latest.SubscriptionID)
	assert.Equal(t, "00", latest.ProviderResponseCode())
}

func TestPostgresSingleLiveMandatePerUser(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)
	ctx := t.Context()

	userID := id.NewUserID()
	ruleID := seedRule(t, pg, userID)

	first := newStoredMandate(t, userID, ruleID, time.Now().UTC())
	require.NoError(t, store.Create(ctx, first))

	// The partial unique index, not application logic, rejects the
	// second live row.
	second := newStoredMandate(t, userID, ruleID, time.Now().UTC())
	err := store.Create(ctx, second)
	require.ErrorIs(t, err, sentinel.ErrConflict)

	now := time.Now().UTC()
	first.ApplyCancellation(map[string]any{
		"status": "Successful",
		"data":   map[string]any{"provider_response_code": "00"},
	}, now)
	require.NoError(t, store.Update(ctx, first))

	third := newStoredMandate(t, userID, ruleID, now.Add(time.Second))
	require.NoError(t, store.Create(ctx, third))

	latest, err := store.LatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)
}

func TestPostgresLatestByUserPicksNewest(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)
	ctx := t.Context()

	userID := id.NewUserID()
	ruleID := seedRule(t, pg, userID)
	base := time.Now().UTC().Add(-2 * time.Hour)

	// Failed rows never hit the live index, so several can pile up.
	for i := 0; i < 2; i++ {
		failed := newStoredMandate(t, userID, ruleID, base.Add(time.Duration(i)*time.Minute))
		failed.ResolveCreationFailure(map[string]any{"status": "Failed"})
		require.NoError(t, store.Create(ctx, failed))
	}
	pending := newStoredMandate(t, userID, ruleID, time.Now().UTC())
	require.NoError(t, store.Create(ctx, pending))

	latest, err := store.LatestByUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, pending.ID, latest.ID)
	assert.Equal(t, models.StatusPending, latest.Status)

	_, err = store.LatestByUser(ctx, id.NewUserID())
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresUpdateMissingRow(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	store := NewPostgres(pg.DB)

	userID := id.NewUserID()
	ruleID := seedRule(t, pg, userID)
	m := newStoredMandate(t, userID, ruleID, time.Now().UTC())

	err := store.Update(t.Context(), m)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
