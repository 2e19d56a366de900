package handlers

import (
	"context"
	"net/http"

	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AlertService lists alerts raised for an org
type AlertService interface {
	ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error)
}

// AlertHandler handles alert HTTP requests
type AlertHandler struct {
	alerts AlertService
	logger *zap.Logger
}

// NewAlertHandler creates a new AlertHandler
func NewAlertHandler(alerts AlertService, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logger}
}

// HandleListAlerts handles GET /api/v1/orgs/{orgId}/alerts
func (h *AlertHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgId")
	if orgID != middleware.GetOrgIDFromContext(ctx) {
		HandleServiceError(w, services.ErrOrgMismatch, h.logger)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	alerts, err := h.alerts.ListAlerts(ctx, orgID, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}

	_ = utils.WriteOK(w, alerts)
}
