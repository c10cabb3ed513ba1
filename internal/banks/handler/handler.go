package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kore/internal/banks/models"
	"kore/pkg/platform/httputil"
)

// Service is the cache surface the handler delegates to.
type Service interface {
	Get(ctx context.Context) (*models.List, error)
}

// Handler serves the bank list. Public: clients pick their bank before
// they have an account.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/banks", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Get(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "bank list request failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	if list.Stale {
		h.logger.WarnContext(r.Context(), "serving stale bank list")
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
