package memory

import (
	"context"
	"sort"

	"github.com/arcturusdc/orbit/models"
	"github.com/google/uuid"
)

// AlertRepository implements repositories.AlertRepository
type AlertRepository struct {
	store *Store
}

// Insert stores an alert
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *alert
	s.alerts = append(s.alerts, &stored)

	s.onWrite(ctx, func() { s.removeAlerts(map[*models.Alert]bool{&stored: true}) })
	return nil
}

// ListByOrg retrieves an org's alerts, newest first
func (r *AlertRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	alerts := []*models.Alert{}
	for i := len(r.store.alerts) - 1; i >= 0; i-- {
		if r.store.alerts[i].OrgID == orgID {
			clone := *r.store.alerts[i]
			alerts = append(alerts, &clone)
		}
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
	return alerts[:limitOf(limit, len(alerts))], nil
}

// DeleteByUser deletes up to limit of a user's alerts
func (r *AlertRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.alerts
	gone := make(map[*models.Alert]bool)
	for _, alert := range s.alerts {
		if alert.UserID == userID && (limit <= 0 || len(gone) < limit) {
			gone[alert] = true
		}
	}
	s.removeAlerts(gone)

	s.onWrite(ctx, func() { s.alerts = previous })
	return int64(len(gone)), nil
}

func (s *Store) removeAlerts(gone map[*models.Alert]bool) {
	kept := make([]*models.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		if !gone[alert] {
			kept = append(kept, alert)
		}
	}
	s.alerts = kept
}

// VerificationRepository implements repositories.VerificationRepository
type VerificationRepository struct {
	store *Store
}

// Insert stores a verification record
func (r *VerificationRepository) Insert(ctx context.Context, record *models.VerificationRecord) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	s.verifications[record.ID] = &stored

	s.onWrite(ctx, func() { delete(s.verifications, record.ID) })
	return nil
}

// GetByID retrieves a verification record
func (r *VerificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.verifications[id]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

// DeleteByUser deletes up to limit of a user's verification records
func (r *VerificationRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, record := range s.verifications {
		if record.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	ids = ids[:limitOf(limit, len(ids))]

	removed := make([]*models.VerificationRecord, 0, len(ids))
	for _, id := range ids {
		removed = append(removed, s.verifications[id])
		delete(s.verifications, id)
	}

	s.onWrite(ctx, func() {
		for _, record := range removed {
			s.verifications[record.ID] = record
		}
	})
	return int64(len(ids)), nil
}
