package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kore/internal/mandate/models"
	"kore/internal/platform/middleware"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/httputil"
)

// Service is the mandate lifecycle surface the handler delegates to.
type Service interface {
	Create(ctx context.Context, userID id.UserID) (*models.Mandate, error)
	Cancel(ctx context.Context, userID id.UserID) (*models.Mandate, error)
	GetLatest(ctx context.Context, userID id.UserID) (*models.Mandate, error)
}

// Handler exposes the mandate lifecycle endpoints.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register attaches the mandate routes. The server router owns the
// shared middleware chain; only authentication is added here.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/api/mandates", h.handleCreate)
		r.Get("/api/mandates/me", h.handleGetLatest)
		r.Post("/api/mandates/cancel", h.handleCancel)
	})
}

// mandateView is the client-facing projection of a mandate. Raw
// provider bodies stay server-side; only the latest response code is
// exposed.
type mandateView struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	RequestRef           string     `json:"request_ref"`
	MandateReference     string     `json:"mandate_reference,omitempty"`
	SubscriptionID       *int64     `json:"subscription_id,omitempty"`
	ActivationURL        string     `json:"activation_url,omitempty"`
	ProviderResponseCode *string    `json:"provider_response_code,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

func viewOf(m *models.Mandate) mandateView {
	v := mandateView{
		ID:               m.ID.String(),
		Status:           string(m.Status),
		RequestRef:       m.RequestRef,
		MandateReference: m.MandateReference,
		SubscriptionID:   m.SubscriptionID,
		ActivationURL:    m.ActivationURL,
		CreatedAt:        m.CreatedAt,
		CancelledAt:      m.CancelledAt,
	}
	if code := m.ProviderResponseCode(); code != "" {
		v.ProviderResponseCode = &code
	}
	return v
}

// handleCreate sets up a new mandate. The request carries no body:
// everything the provider needs is already on record in the profile
// and the active debit rules.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	mandate, err := h.service.Create(ctx, userID)
	if err != nil {
		h.logServiceError(ctx, "mandate creation", userID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, viewOf(mandate))
}

func (h *Handler) handleGetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	mandate, err := h.service.GetLatest(ctx, userID)
	if err != nil {
		h.logServiceError(ctx, "mandate lookup", userID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, viewOf(mandate))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.authedUser(w, r)
	if !ok {
		return
	}

	mandate, err := h.service.Cancel(ctx, userID)
	if err != nil {
		h.logServiceError(ctx, "mandate cancellation", userID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, viewOf(mandate))
}

func (h *Handler) authedUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "user id missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) logServiceError(ctx context.Context, op string, userID id.UserID, err error) {
	requestID := middleware.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodePreconditionFailed,
		dErrors.CodeConflict, dErrors.CodeProviderRejected:
		h.logger.WarnContext(ctx, op+" rejected",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err.Error(),
		)
	default:
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err.Error(),
		)
	}
}
