package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kore/internal/webhook/models"
	"kore/pkg/platform/httputil"
)

// maxBodyBytes bounds a webhook body. Provider notifications are small;
// anything larger is not one.
const maxBodyBytes = 1 << 20

// Service is the ingestion surface the handler delegates to.
type Service interface {
	IngestRaw(ctx context.Context, body []byte) (*models.WebhookEvent, error)
}

// Handler exposes the provider webhook ingress. The route is public:
// the provider does not hold user credentials, and ingestion is safe
// to expose because events are observational audit records only.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/api/webhooks/onepipe", h.handleIngest)
}

type ingestResponse struct {
	Status    string `json:"status"`
	WebhookID string `json:"webhook_id,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// handleIngest acknowledges every notification with 200 so the
// provider never enters a retry storm over a local problem. Failures
// are logged server-side instead of surfaced.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook body read failed", "error", err.Error())
		httputil.WriteJSON(w, http.StatusOK, ingestResponse{
			Status:  "received",
			Warning: "webhook could not be read",
		})
		return
	}

	event, err := h.service.IngestRaw(ctx, body)
	if err != nil {
		httputil.WriteJSON(w, http.StatusOK, ingestResponse{
			Status:  "received",
			Warning: "webhook stored with errors",
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ingestResponse{
		Status:    "received",
		WebhookID: event.ID.String(),
	})
}
