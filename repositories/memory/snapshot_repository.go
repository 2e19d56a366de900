package memory

import (
	"context"
	"sort"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
)

func cloneSnapshot(snapshot *models.Snapshot) *models.Snapshot {
	if snapshot == nil {
		return nil
	}
	clone := *snapshot
	clone.Data = append([]byte(nil), snapshot.Data...)
	clone.Scopes = append([]string(nil), snapshot.Scopes...)
	return &clone
}

// SnapshotRepository implements repositories.SnapshotRepository
type SnapshotRepository struct {
	store *Store
}

// Insert stores a snapshot, rejecting a version that already exists for (user, org)
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot *models.Snapshot) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := snapshotKey{userID: snapshot.UserID, snapshotID: snapshot.SnapshotID}
	if _, exists := s.snapshots[key]; exists {
		return repositories.ErrVersionConflict
	}
	for k, existing := range s.snapshots {
		if k.userID == snapshot.UserID && existing.OrgID == snapshot.OrgID && existing.Version == snapshot.Version {
			return repositories.ErrVersionConflict
		}
	}
	s.snapshots[key] = cloneSnapshot(snapshot)

	s.onWrite(ctx, func() { delete(s.snapshots, key) })
	return nil
}

// GetByID retrieves a snapshot by user and snapshot ID
func (r *SnapshotRepository) GetByID(ctx context.Context, userID, snapshotID string) (*models.Snapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return cloneSnapshot(r.store.snapshots[snapshotKey{userID: userID, snapshotID: snapshotID}]), nil
}

// GetLatest retrieves the highest version for (user, org)
func (r *SnapshotRepository) GetLatest(ctx context.Context, userID, orgID string) (*models.Snapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var latest *models.Snapshot
	for key, snapshot := range r.store.snapshots {
		if key.userID != userID || snapshot.OrgID != orgID {
			continue
		}
		if latest == nil || snapshot.Version > latest.Version {
			latest = snapshot
		}
	}
	return cloneSnapshot(latest), nil
}

// DeleteByUser deletes up to limit of a user's snapshots
func (r *SnapshotRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []snapshotKey
	for key := range s.snapshots {
		if key.userID == userID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].snapshotID < keys[j].snapshotID })
	keys = keys[:limitOf(limit, len(keys))]

	removed := make([]*models.Snapshot, 0, len(keys))
	for _, key := range keys {
		removed = append(removed, s.snapshots[key])
		delete(s.snapshots, key)
	}

	s.onWrite(ctx, func() {
		for i, key := range keys {
			s.snapshots[key] = removed[i]
		}
	})
	return int64(len(keys)), nil
}
