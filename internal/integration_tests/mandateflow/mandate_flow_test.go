// Package mandateflow runs full-stack scenarios: the real router,
// handlers, services, codec, and client, with in-memory stores and the
// provider scripted behind httptest.
package mandateflow

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kore/internal/banks"
	httpapi "kore/internal/http"
	"kore/internal/jwttoken"
	"kore/internal/mandate"
	"kore/internal/onepipe"
	"kore/internal/platform/locker"
	"kore/internal/profile"
	"kore/internal/rules"
	rulesmodels "kore/internal/rules/models"
	"kore/internal/rules/store/engine"
	"kore/internal/webhook"
	id "kore/pkg/domain"
	"kore/pkg/platform/audit"
	"kore/pkg/testutil"
)

// Provider response scripts. The shapes mirror what the live transact
// endpoint returns for each request type.
const (
	lookupSuccess = `{"status":"Successful","message":"Lookup successful","data":{"provider_response_code":"00","provider":"PaywithAccount","provider_response":{"accounts":[{"account_name":"ADAEZE OKAFOR","account_number":"0123456789"}]}}}`

	setupPending = `{"status":"Successful","message":"Mandate created","data":{"provider_response_code":"00","mandate_reference":"MND-FLOW-1","subscription_id":4711,"activation_url":"https://pay.example/activate/4711","status":"Pending Activation"}}`

	setupActive = `{"status":"Successful","data":{"provider_response_code":"00","mandate_reference":"MND-FLOW-2","subscription_id":4712,"status":"Active"}}`

	cancelConfirmed = `{"status":"Successful","data":{"provider_response_code":"00"}}`

	cancelRejected = `{"status":"Successful","message":"Cannot cancel at this time","data":{"provider_response_code":"01"}}`

	bankList = `{"status":"Successful","data":{"provider_response":{"banks":[{"bank_name":"First Bank of Nigeria","bank_code":"011"},{"bank_name":"GTBank","bank_code":"058"}]}}}`
)

// fakeOnePipe scripts transact responses per request type and records
// every payload it receives.
type fakeOnePipe struct {
	mu        sync.Mutex
	responses map[string]string
	requests  []map[string]any
	server    *httptest.Server
}

func newFakeOnePipe(t *testing.T) *fakeOnePipe {
	t.Helper()
	f := &fakeOnePipe{responses: map[string]string{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.requests = append(f.requests, body)
		reqType, _ := body["request_type"].(string)
		resp, ok := f.responses[reqType]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"status":"Failed","message":"unscripted request type"}`))
			return
		}
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOnePipe) script(reqType, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[reqType] = body
}

func (f *fakeOnePipe) callsOf(reqType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r["request_type"] == reqType {
			n++
		}
	}
	return n
}

func (f *fakeOnePipe) lastOf(reqType string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i]["request_type"] == reqType {
			return f.requests[i]
		}
	}
	return nil
}

// env is the assembled stack under test.
type env struct {
	router   http.Handler
	provider *fakeOnePipe
	rules    *engine.InMemory
	jwt      *jwttoken.JWTService
	audit    *audit.InMemory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	fake := newFakeOnePipe(t)

	providerCfg := onepipe.Config{
		BaseURL:      fake.server.URL,
		APIKey:       "flow-test-key",
		ClientSecret: "flow-test-secret",
		WebhookURL:   "https://kore.example/api/webhooks/onepipe",
	}
	codec := onepipe.NewCodec(providerCfg)
	client, err := onepipe.NewClient(providerCfg, onepipe.WithLogger(log))
	require.NoError(t, err)

	vault, err := profile.NewVault("flow-test-vault-key")
	require.NoError(t, err)

	auditStore := audit.NewInMemory()
	auditor := audit.NewService(auditStore, audit.WithLogger(log))

	profileSvc := profile.NewService(
		profile.NewMemoryProfileStore(),
		profile.NewMemoryAttemptStore(),
		client, codec, vault,
		profile.WithLogger(log),
		profile.WithAuditPublisher(auditor),
	)
	rulesMem := rules.NewMemoryStore()
	rulesSvc := rules.NewService(rulesMem, rules.WithLogger(log))
	mandateSvc := mandate.NewService(
		mandate.NewMemoryStore(), profileSvc, rulesSvc, client, codec,
		locker.NewInMemory(),
		mandate.WithLogger(log),
		mandate.WithAuditPublisher(auditor),
	)
	webhookSvc := webhook.NewService(
		webhook.NewMemoryStore(),
		webhook.WithLogger(log),
		webhook.WithAuditPublisher(auditor),
		webhook.WithAttemptSource(profileSvc),
	)
	banksSvc := banks.NewService(banks.NewMemorySlot(), client, codec, banks.WithLogger(log))

	jwtSvc := jwttoken.NewJWTService("flow-test-signing-key", "kore-accounts", "kore-api")
	validator := jwttoken.NewJWTServiceAdapter(jwtSvc)

	router := httpapi.New(httpapi.Config{
		Logger: log,
		Domains: []httpapi.Registrar{
			profile.NewHandler(profileSvc, log, validator),
			rules.NewHandler(log),
			banks.NewHandler(banksSvc, log),
			mandate.NewHandler(mandateSvc, log, validator),
			webhook.NewHandler(webhookSvc, log),
		},
	})

	return &env{router: router, provider: fake, rules: rulesMem, jwt: jwtSvc, audit: auditStore}
}

func (e *env) bearer(t *testing.T, userID id.UserID) string {
	t.Helper()
	token, err := e.jwt.GenerateAccessToken(uuid.UUID(userID), time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	return testutil.Do(e.router, req)
}

func (e *env) seedRules(t *testing.T, userID id.UserID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.rules.Save(t.Context(), &rulesmodels.Snapshot{
		ID:                 id.NewRuleID(),
		UserID:             userID,
		MonthlyMaxDebit:    "200000",
		SingleMaxDebit:     "100000",
		Frequency:          rulesmodels.FrequencyMonthly,
		AmountPerFrequency: "50000",
		Allocations: []rulesmodels.Allocation{
			{Bucket: "SAVINGS", Percentage: 50},
			{Bucket: "INVESTMENT", Percentage: 50},
		},
		FailureAction: rulesmodels.FailureActionNotify,
		StartDate:     now,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func (e *env) verifyProfile(t *testing.T, userID id.UserID) {
	t.Helper()
	e.provider.script(onepipe.RequestTypeLookupAccounts, lookupSuccess)
	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/profile/verify", verifyBody())
	req.Header.Set("Authorization", e.bearer(t, userID))
	rr := e.do(req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func verifyBody() map[string]string {
	return map[string]string{
		"first_name":     "Adaeze",
		"surname":        "Okafor",
		"phone_number":   "08031234567",
		"bank_name":      "First Bank of Nigeria",
		"bank_code":      "011",
		"account_number": "0123456789",
		"bvn":            "12345678901",
	}
}

type mandateView struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	RequestRef           string     `json:"request_ref"`
	MandateReference     string     `json:"mandate_reference"`
	SubscriptionID       *int64     `json:"subscription_id"`
	ActivationURL        string     `json:"activation_url"`
	ProviderResponseCode *string    `json:"provider_response_code"`
	CancelledAt          *time.Time `json:"cancelled_at"`
}

func TestMandateSetupFlow(t *testing.T) {
	e := newEnv(t)
	userID := id.NewUserID()
	auth := e.bearer(t, userID)

	testutil.Given(t, "a user who has not verified a bank account", func(t *testing.T) {
		testutil.Then(t, "mandate creation is refused before the provider is involved", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
			req.Header.Set("Authorization", auth)
			testutil.AssertError(t, e.do(req), http.StatusBadRequest, "precondition_failed")
			assert.Zero(t, e.provider.callsOf(onepipe.RequestTypeSetupMandate))
		})
	})

	testutil.When(t, "the bank account is verified", func(t *testing.T) {
		e.verifyProfile(t, userID)

		testutil.Then(t, "the lookup payload carried sealed account details", func(t *testing.T) {
			sent := e.provider.lastOf(onepipe.RequestTypeLookupAccounts)
			require.NotNil(t, sent)
			authBlock, _ := sent["auth"].(map[string]any)
			require.NotNil(t, authBlock)
			secure, _ := authBlock["secure"].(string)
			assert.NotEmpty(t, secure)
			assert.NotContains(t, secure, "0123456789")
		})

		testutil.Then(t, "creation still fails without active debit rules", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
			req.Header.Set("Authorization", auth)
			testutil.AssertError(t, e.do(req), http.StatusBadRequest, "precondition_failed")
			assert.Zero(t, e.provider.callsOf(onepipe.RequestTypeSetupMandate))
		})
	})

	testutil.When(t, "debit rules are active and the provider answers with a pending mandate", func(t *testing.T) {
		e.seedRules(t, userID)
		e.provider.script(onepipe.RequestTypeSetupMandate, setupPending)

		var created mandateView
		testutil.Then(t, "creation returns a pending mandate with the activation link", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
			req.Header.Set("Authorization", auth)
			rr := e.do(req)
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
			created = testutil.DecodeJSON[mandateView](t, rr)
			assert.Equal(t, "PENDING", created.Status)
			assert.Equal(t, "MND-FLOW-1", created.MandateReference)
			require.NotNil(t, created.SubscriptionID)
			assert.Equal(t, int64(4711), *created.SubscriptionID)
			assert.Equal(t, "https://pay.example/activate/4711", created.ActivationURL)
			assert.Regexp(t, "^[0-9a-f]{32}$", created.RequestRef)
		})

		testutil.Then(t, "a second creation conflicts without another provider call", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
			req.Header.Set("Authorization", auth)
			testutil.AssertError(t, e.do(req), http.StatusConflict, "conflict")
			assert.Equal(t, 1, e.provider.callsOf(onepipe.RequestTypeSetupMandate))
		})

		testutil.Then(t, "cancelling a pending mandate is refused", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates/cancel", nil)
			req.Header.Set("Authorization", auth)
			testutil.AssertError(t, e.do(req), http.StatusBadRequest, "precondition_failed")
			assert.Zero(t, e.provider.callsOf(onepipe.RequestTypeCancelMandate))
		})

		testutil.Then(t, "the latest mandate endpoint shows the pending mandate", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodGet, "/api/mandates/me", nil)
			req.Header.Set("Authorization", auth)
			rr := e.do(req)
			require.Equal(t, http.StatusOK, rr.Code)
			got := testutil.DecodeJSON[mandateView](t, rr)
			assert.Equal(t, created.ID, got.ID)
			assert.Equal(t, "PENDING", got.Status)
		})
	})
}

func TestMandateCancelFlow(t *testing.T) {
	e := newEnv(t)
	userID := id.NewUserID()
	auth := e.bearer(t, userID)

	e.verifyProfile(t, userID)
	e.seedRules(t, userID)
	e.provider.script(onepipe.RequestTypeSetupMandate, setupActive)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
	req.Header.Set("Authorization", auth)
	rr := e.do(req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := testutil.DecodeJSON[mandateView](t, rr)
	require.Equal(t, "ACTIVE", created.Status)

	testutil.When(t, "the provider confirms the cancellation", func(t *testing.T) {
		e.provider.script(onepipe.RequestTypeCancelMandate, cancelConfirmed)

		req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates/cancel", nil)
		req.Header.Set("Authorization", auth)
		rr := e.do(req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		got := testutil.DecodeJSON[mandateView](t, rr)
		assert.Equal(t, "CANCELLED", got.Status)
		assert.NotNil(t, got.CancelledAt)
		require.NotNil(t, got.ProviderResponseCode)
		assert.Equal(t, "00", *got.ProviderResponseCode)

		testutil.Then(t, "the cancel payload referenced the provider-side mandate", func(t *testing.T) {
			sent := e.provider.lastOf(onepipe.RequestTypeCancelMandate)
			require.NotNil(t, sent)
			assert.Contains(t, string(mustJSON(t, sent)), "MND-FLOW-2")
		})

		testutil.Then(t, "a fresh mandate can be created afterwards", func(t *testing.T) {
			e.provider.script(onepipe.RequestTypeSetupMandate, setupPending)
			req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
			req.Header.Set("Authorization", auth)
			rr := e.do(req)
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		})

		testutil.Then(t, "the audit trail recorded every transition", func(t *testing.T) {
			var actions []audit.Action
			for _, event := range e.audit.All() {
				if event.UserID == userID.String() {
					actions = append(actions, event.Action)
				}
			}
			assert.Contains(t, actions, audit.ActionProfileVerified)
			assert.Contains(t, actions, audit.ActionMandateCreated)
			assert.Contains(t, actions, audit.ActionMandateActivated)
			assert.Contains(t, actions, audit.ActionMandateCancelled)
		})
	})
}

func TestMandateCancelRejectedByProvider(t *testing.T) {
	e := newEnv(t)
	userID := id.NewUserID()
	auth := e.bearer(t, userID)

	e.verifyProfile(t, userID)
	e.seedRules(t, userID)
	e.provider.script(onepipe.RequestTypeSetupMandate, setupActive)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil)
	req.Header.Set("Authorization", auth)
	require.Equal(t, http.StatusCreated, e.do(req).Code)

	e.provider.script(onepipe.RequestTypeCancelMandate, cancelRejected)
	req = testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates/cancel", nil)
	req.Header.Set("Authorization", auth)
	testutil.AssertError(t, e.do(req), http.StatusUnprocessableEntity, "provider_rejected")

	// The mandate survives, with the rejected attempt on record.
	req = testutil.NewJSONRequest(t, http.MethodGet, "/api/mandates/me", nil)
	req.Header.Set("Authorization", auth)
	rr := e.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	got := testutil.DecodeJSON[mandateView](t, rr)
	assert.Equal(t, "ACTIVE", got.Status)
	require.NotNil(t, got.ProviderResponseCode)
	assert.Equal(t, "01", *got.ProviderResponseCode)
}

func TestWebhookIngestionFlow(t *testing.T) {
	e := newEnv(t)
	userID := id.NewUserID()

	e.verifyProfile(t, userID)
	sent := e.provider.lastOf(onepipe.RequestTypeLookupAccounts)
	require.NotNil(t, sent)
	ref, _ := sent["request_ref"].(string)
	require.NotEmpty(t, ref)

	t.Run("a notification echoing a known ref is acknowledged", func(t *testing.T) {
		body := map[string]any{"request_ref": ref, "status": "Successful"}
		rr := e.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/webhooks/onepipe", body))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.DecodeJSON[map[string]string](t, rr)
		assert.Equal(t, "received", resp["status"])
		assert.NotEmpty(t, resp["webhook_id"])
	})

	t.Run("an unparseable notification is still acknowledged", func(t *testing.T) {
		rr := e.do(testutil.NewRawRequest(t, http.MethodPost, "/api/webhooks/onepipe", "{not-json"))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.DecodeJSON[map[string]string](t, rr)
		assert.Equal(t, "received", resp["status"])
	})
}

func TestPublicCatalogEndpoints(t *testing.T) {
	e := newEnv(t)

	t.Run("service buckets need no authentication", func(t *testing.T) {
		rr := e.do(testutil.NewJSONRequest(t, http.MethodGet, "/api/services", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.DecodeJSON[map[string][]map[string]string](t, rr)
		require.NotEmpty(t, resp["services"])
		assert.Equal(t, "SAVINGS", resp["services"][0]["key"])
	})

	t.Run("the bank list is fetched once and then served from cache", func(t *testing.T) {
		e.provider.script(onepipe.RequestTypeGetBanks, bankList)

		for i := 0; i < 3; i++ {
			rr := e.do(testutil.NewJSONRequest(t, http.MethodGet, "/api/banks", nil))
			require.Equal(t, http.StatusOK, rr.Code)
			resp := testutil.DecodeJSON[map[string]any](t, rr)
			banksList, _ := resp["banks"].([]any)
			require.Len(t, banksList, 2)
		}
		assert.Equal(t, 1, e.provider.callsOf(onepipe.RequestTypeGetBanks))
	})

	t.Run("mandate endpoints reject missing credentials", func(t *testing.T) {
		rr := e.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/mandates", nil))
		testutil.AssertError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
