package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kore/internal/platform/middleware"
	"kore/internal/profile/models"
	id "kore/pkg/domain"
	dErrors "kore/pkg/domain-errors"
	"kore/pkg/platform/httputil"
)

// Service is the verification surface the handler delegates to.
type Service interface {
	VerifyBankAccount(ctx context.Context, userID id.UserID, req *models.VerifyBankAccountRequest) (*models.Profile, error)
}

// Handler exposes the profile verification trigger.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{service: service, logger: logger, jwtValidator: jwtValidator}
}

// Register attaches the profile routes. The server router owns the
// shared middleware chain; only authentication is added here.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/api/profile/verify", h.handleVerify)
	})
}

type verifyResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Profile profileSummary `json:"profile"`
}

type profileSummary struct {
	IsCompleted bool   `json:"is_completed"`
	BankName    string `json:"bank_name"`
	BankCode    string `json:"bank_code"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	userID := middleware.GetUserID(ctx)
	if userID.IsNil() {
		h.logger.ErrorContext(ctx, "user id missing from context despite auth middleware",
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	var req models.VerifyBankAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid verification request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	profile, err := h.service.VerifyBankAccount(ctx, userID, &req)
	if err != nil {
		switch dErrors.CodeOf(err) {
		case dErrors.CodeValidation, dErrors.CodeProviderRejected:
			h.logger.WarnContext(ctx, "bank verification rejected",
				"request_id", requestID,
				"user_id", userID.String(),
				"error", err.Error(),
			)
		default:
			h.logger.ErrorContext(ctx, "bank verification failed",
				"request_id", requestID,
				"user_id", userID.String(),
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Status:  "verified",
		Message: "Your bank account has been verified successfully",
		Profile: profileSummary{
			IsCompleted: profile.IsCompleted,
			BankName:    profile.BankName,
			BankCode:    profile.BankCode,
		},
	})
}
