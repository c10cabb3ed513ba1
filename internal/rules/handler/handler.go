package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kore/internal/rules/models"
	"kore/pkg/platform/httputil"
)

// Handler serves the allocation services catalog. The catalog is
// static and public: clients need it before they authenticate.
type Handler struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/services", h.handleListServices)
}

type servicesResponse struct {
	Services []models.ServiceBucket `json:"services"`
}

func (h *Handler) handleListServices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, servicesResponse{Services: models.Catalog()})
}
