package handlers

import (
	"context"
	"net/http"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ConsentService reads the consent projection
type ConsentService interface {
	GetConsentState(ctx context.Context, userID, orgID string) ([]*models.ConsentState, error)
}

// ConsentHandler handles consent state HTTP requests
type ConsentHandler struct {
	consents ConsentService
	logger   *zap.Logger
}

// NewConsentHandler creates a new ConsentHandler
func NewConsentHandler(consents ConsentService, logger *zap.Logger) *ConsentHandler {
	return &ConsentHandler{consents: consents, logger: logger}
}

// HandleGetConsentState handles GET /api/v1/users/{userId}/consents
func (h *ConsentHandler) HandleGetConsentState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	if err := checkSubject(ctx, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	states, err := h.consents.GetConsentState(ctx, userID, r.URL.Query().Get("orgId"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if states == nil {
		states = []*models.ConsentState{}
	}

	_ = utils.WriteOK(w, states)
}
