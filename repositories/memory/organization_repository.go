package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/arcturusdc/orbit/models"
)

func cloneOrg(org *models.Organization) *models.Organization {
	if org == nil {
		return nil
	}
	clone := *org
	clone.Profile = append([]byte(nil), org.Profile...)
	if len(clone.Profile) == 0 {
		clone.Profile = nil
	}
	return &clone
}

func cloneKey(key *models.SigningKey) *models.SigningKey {
	if key == nil {
		return nil
	}
	clone := *key
	if key.RetiredAt != nil {
		at := *key.RetiredAt
		clone.RetiredAt = &at
	}
	return &clone
}

// OrganizationRepository implements repositories.OrganizationRepository
type OrganizationRepository struct {
	store *Store
}

// Upsert creates an organization or overwrites its mutable fields
func (r *OrganizationRepository) Upsert(ctx context.Context, org *models.Organization) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.orgs[org.OrgID]
	stored := cloneOrg(org)
	if previous != nil {
		stored.CreatedAt = previous.CreatedAt
		if stored.SigningKeyID == "" {
			stored.SigningKeyID = previous.SigningKeyID
		}
	}
	s.orgs[org.OrgID] = stored

	s.onWrite(ctx, func() { s.putOrg(org.OrgID, previous) })
	return nil
}

// GetByID retrieves an organization
func (r *OrganizationRepository) GetByID(ctx context.Context, orgID string) (*models.Organization, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return cloneOrg(r.store.orgs[orgID]), nil
}

// SetSigningKey points the organization at a new active key
func (r *OrganizationRepository) SetSigningKey(ctx context.Context, orgID, keyID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.orgs[orgID]
	if !ok {
		return fmt.Errorf("organization not found: %s", orgID)
	}
	updated := cloneOrg(previous)
	updated.SigningKeyID = keyID
	updated.UpdatedAt = time.Now().UTC()
	s.orgs[orgID] = updated

	s.onWrite(ctx, func() { s.putOrg(orgID, previous) })
	return nil
}

// DeleteSandbox deletes up to limit sandbox organizations together with their keys
func (r *OrganizationRepository) DeleteSandbox(ctx context.Context, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, org := range s.orgs {
		if org.Sandbox {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = ids[:limitOf(limit, len(ids))]

	type removed struct {
		org  *models.Organization
		keys []*models.SigningKey
	}
	var gone []removed
	for _, id := range ids {
		gone = append(gone, removed{org: s.orgs[id], keys: s.keys[id]})
		delete(s.orgs, id)
		delete(s.keys, id)
	}

	s.onWrite(ctx, func() {
		for _, g := range gone {
			s.orgs[g.org.OrgID] = g.org
			if g.keys != nil {
				s.keys[g.org.OrgID] = g.keys
			}
		}
	})
	return int64(len(ids)), nil
}

func (s *Store) putOrg(orgID string, org *models.Organization) {
	if org == nil {
		delete(s.orgs, orgID)
		return
	}
	s.orgs[orgID] = org
}

// SigningKeyRepository implements repositories.SigningKeyRepository
type SigningKeyRepository struct {
	store *Store
}

// Create stores a new key
func (r *SigningKeyRepository) Create(ctx context.Context, key *models.SigningKey) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.keys[key.OrgID]
	for _, existing := range previous {
		if existing.KeyID == key.KeyID {
			return fmt.Errorf("failed to create signing key: duplicate key id %s", key.KeyID)
		}
	}
	s.keys[key.OrgID] = append(append([]*models.SigningKey(nil), previous...), cloneKey(key))

	s.onWrite(ctx, func() { s.putKeys(key.OrgID, previous) })
	return nil
}

// Get retrieves a key whether or not it is retired
func (r *SigningKeyRepository) Get(ctx context.Context, orgID, keyID string) (*models.SigningKey, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, key := range r.store.keys[orgID] {
		if key.KeyID == keyID {
			return cloneKey(key), nil
		}
	}
	return nil, nil
}

// GetActive retrieves the newest non-retired key
func (r *SigningKeyRepository) GetActive(ctx context.Context, orgID string) (*models.SigningKey, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var active *models.SigningKey
	for _, key := range r.store.keys[orgID] {
		if key.IsActive() && (active == nil || !key.CreatedAt.Before(active.CreatedAt)) {
			active = key
		}
	}
	return cloneKey(active), nil
}

// RetireAll retires every active key of an org
func (r *SigningKeyRepository) RetireAll(ctx context.Context, orgID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.keys[orgID]
	updated := make([]*models.SigningKey, 0, len(previous))
	for _, key := range previous {
		key = cloneKey(key)
		if key.IsActive() {
			retired := at
			key.RetiredAt = &retired
		}
		updated = append(updated, key)
	}
	if previous != nil {
		s.keys[orgID] = updated
	}

	s.onWrite(ctx, func() { s.putKeys(orgID, previous) })
	return nil
}

func (s *Store) putKeys(orgID string, keys []*models.SigningKey) {
	if keys == nil {
		delete(s.keys, orgID)
		return
	}
	s.keys[orgID] = keys
}
