package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kore/internal/webhook/handler/mocks"
	"kore/internal/webhook/models"
	dErrors "kore/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/webhook-mocks.go -package=mocks Service
type WebhookHandlerSuite struct {
	suite.Suite
}

func TestWebhookHandlerSuite(t *testing.T) {
	suite.Run(t, new(WebhookHandlerSuite))
}

func (s *WebhookHandlerSuite) newHandler(t *testing.T) (*mocks.MockService, http.Handler) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)

	h := New(mockService, slog.New(slog.DiscardHandler))
	router := chi.NewRouter()
	h.Register(router)
	return mockService, router
}

func (s *WebhookHandlerSuite) post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/onepipe", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func (s *WebhookHandlerSuite) TestIngestAcknowledges() {
	mockService, router := s.newHandler(s.T())
	event := models.NewWebhookEvent(models.ProviderOnePipe, map[string]any{}, time.Now().UTC())

	// The handler must pass the body through untouched.
	mockService.EXPECT().
		IngestRaw(gomock.Any(), []byte(`{"request_ref":"abc123"}`)).
		Return(event, nil)

	rec := s.post(router, `{"request_ref":"abc123"}`)

	require.Equal(s.T(), http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(s.T(), "received", resp["status"])
	assert.Equal(s.T(), event.ID.String(), resp["webhook_id"])
	assert.NotContains(s.T(), resp, "warning")
}

func (s *WebhookHandlerSuite) TestIngestNoAuthRequired() {
	// Providers hold no user tokens; the route must work bare.
	mockService, router := s.newHandler(s.T())
	mockService.EXPECT().
		IngestRaw(gomock.Any(), gomock.Any()).
		Return(models.NewWebhookEvent(models.ProviderOnePipe, nil, time.Now().UTC()), nil)

	rec := s.post(router, `{}`)

	assert.Equal(s.T(), http.StatusOK, rec.Code)
}

func (s *WebhookHandlerSuite) TestIngestStorageFailureStillReturns200() {
	mockService, router := s.newHandler(s.T())
	event := models.NewWebhookEvent(models.ProviderOnePipe, nil, time.Now().UTC())
	mockService.EXPECT().
		IngestRaw(gomock.Any(), gomock.Any()).
		Return(event, dErrors.New(dErrors.CodeInternal, "failed to persist webhook event"))

	rec := s.post(router, `{}`)

	require.Equal(s.T(), http.StatusOK, rec.Code, "the provider must never see an error status")

	var resp map[string]any
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(s.T(), "received", resp["status"])
	assert.NotEmpty(s.T(), resp["warning"])
	assert.NotContains(s.T(), resp, "webhook_id")
}
