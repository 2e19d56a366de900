package policy

import (
	"context"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// AlertService exposes the alerts raised for an org
type AlertService struct {
	alerts repositories.AlertRepository
}

// NewAlertService creates a new AlertService
func NewAlertService(alerts repositories.AlertRepository) *AlertService {
	return &AlertService{alerts: alerts}
}

// ListAlerts returns the org's alerts newest first. A zero limit selects the default.
func (s *AlertService) ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	if orgID == "" {
		return nil, services.NewMissingFieldsError([]string{"orgId"})
	}
	if limit < 0 {
		return nil, services.NewValidationError("limit must not be negative")
	}
	if limit == 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, err := s.alerts.ListByOrg(ctx, orgID, limit)
	if err != nil {
		return nil, services.WrapInternal("failed to list alerts", err)
	}
	return alerts, nil
}
