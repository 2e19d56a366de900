package handlers

import (
	"context"
	"net/http"

	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/verification"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VerifyRequest asks for a third-party check of one event. Event carries the
// full event as the verifier received it; EventID verifies the stored copy.
type VerifyRequest struct {
	Event        *models.Event `json:"event,omitempty"`
	EventID      string        `json:"eventId,omitempty"`
	VerifierName string        `json:"verifierName" validate:"max=128"`
}

// VerificationService defines the external verification operations
type VerificationService interface {
	VerifyExternally(ctx context.Context, req verification.Request) (*models.VerificationRecord, error)
	CheckRecord(ctx context.Context, id uuid.UUID) (*verification.ProofCheck, error)
}

// VerificationHandler handles external verification HTTP requests
type VerificationHandler struct {
	verifier VerificationService
	logger   *zap.Logger
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(verifier VerificationService, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{verifier: verifier, logger: logger}
}

// HandleVerify handles POST /api/v1/verify
func (h *VerificationHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req VerifyRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	record, err := h.verifier.VerifyExternally(ctx, verification.Request{
		Event:        req.Event,
		EventID:      req.EventID,
		VerifierName: req.VerifierName,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("external verification",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("verification_id", record.ID.String()),
		zap.Bool("verified", record.Verified))

	_ = utils.WriteCreated(w, record)
}

// HandleCheckProof handles GET /api/v1/verifications/{id}/check
func (h *VerificationHandler) HandleCheckProof(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, services.NewValidationError("Invalid verification id format"), h.logger)
		return
	}

	check, err := h.verifier.CheckRecord(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, check)
}
