// Package consent maintains the derived (user, org, scope) consent read model.
package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"go.uber.org/zap"
)

// Service projects consent events into consent states
type Service struct {
	consents repositories.ConsentRepository
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a new consent Service
func NewService(consents repositories.ConsentRepository, logger *zap.Logger) *Service {
	return &Service{
		consents: consents,
		now:      time.Now,
		logger:   logger,
	}
}

// Project overwrites the status of one (user, org, scope) triple. Applying the same
// status twice leaves the same state.
func (s *Service) Project(ctx context.Context, userID, orgID, scope string, status models.ConsentStatus) error {
	return s.upsert(ctx, &models.ConsentState{
		UserID:    userID,
		OrgID:     orgID,
		Scope:     scope,
		Status:    status,
		UpdatedAt: models.StoreTime(s.now()),
	})
}

// ProjectEvent applies a consent event; other event types are ignored
func (s *Service) ProjectEvent(ctx context.Context, event *models.Event) error {
	if !event.EventType.IsConsent() {
		return nil
	}

	updatedAt := event.Timestamp
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	return s.upsert(ctx, &models.ConsentState{
		UserID:    event.UserID,
		OrgID:     event.OrgID,
		Scope:     event.ConsentScope,
		Status:    event.ConsentStatus,
		EventID:   event.EventID,
		UpdatedAt: models.StoreTime(updatedAt),
	})
}

func (s *Service) upsert(ctx context.Context, state *models.ConsentState) error {
	var missing []string
	if state.UserID == "" {
		missing = append(missing, "userId")
	}
	if state.OrgID == "" {
		missing = append(missing, "orgId")
	}
	if state.Scope == "" {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return services.NewMissingFieldsError(missing)
	}
	if state.Status != models.ConsentStatusGranted && state.Status != models.ConsentStatusRevoked {
		return services.NewValidationError(fmt.Sprintf("unknown consent status: %s", state.Status))
	}

	if err := s.consents.Upsert(ctx, state); err != nil {
		return services.WrapInternal("failed to store consent state", err)
	}

	s.logger.Debug("consent state projected",
		zap.String("user_id", state.UserID),
		zap.String("org_id", state.OrgID),
		zap.String("scope", state.Scope),
		zap.String("status", string(state.Status)))
	return nil
}

// GetConsentState lists a user's consent states ordered by org then scope.
// An empty orgID spans every org.
func (s *Service) GetConsentState(ctx context.Context, userID, orgID string) ([]*models.ConsentState, error) {
	if userID == "" {
		return nil, services.NewMissingFieldsError([]string{"userId"})
	}

	states, err := s.consents.ListByUser(ctx, userID, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load consent state", err)
	}
	return states, nil
}

// GrantedScopes returns the set of scopes the user currently grants the org
func (s *Service) GrantedScopes(ctx context.Context, userID, orgID string) (map[string]bool, error) {
	states, err := s.GetConsentState(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	granted := make(map[string]bool, len(states))
	for _, state := range states {
		if state.IsGranted() {
			granted[state.Scope] = true
		}
	}
	return granted, nil
}
