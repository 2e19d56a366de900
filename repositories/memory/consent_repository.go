package memory

import (
	"context"
	"sort"

	"github.com/arcturusdc/orbit/models"
)

// ConsentRepository implements repositories.ConsentRepository
type ConsentRepository struct {
	store *Store
}

// Upsert creates or overwrites the state for a (user, org, scope) triple
func (r *ConsentRepository) Upsert(ctx context.Context, state *models.ConsentState) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey{userID: state.UserID, orgID: state.OrgID, scope: state.Scope}
	previous, existed := s.consents[key]
	stored := *state
	s.consents[key] = &stored

	s.onWrite(ctx, func() {
		if existed {
			s.consents[key] = previous
		} else {
			delete(s.consents, key)
		}
	})
	return nil
}

// Get retrieves the state of one triple
func (r *ConsentRepository) Get(ctx context.Context, userID, orgID, scope string) (*models.ConsentState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	state, ok := r.store.consents[consentKey{userID: userID, orgID: orgID, scope: scope}]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

// ListByUser retrieves a user's states ordered by org then scope
func (r *ConsentRepository) ListByUser(ctx context.Context, userID, orgID string) ([]*models.ConsentState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	states := []*models.ConsentState{}
	for key, state := range r.store.consents {
		if key.userID != userID || (orgID != "" && key.orgID != orgID) {
			continue
		}
		clone := *state
		states = append(states, &clone)
	}
	sortConsents(states)
	return states, nil
}

// DeleteByUser deletes up to limit of a user's states
func (r *ConsentRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var states []*models.ConsentState
	for key, state := range s.consents {
		if key.userID == userID {
			states = append(states, state)
		}
	}
	sortConsents(states)
	states = states[:limitOf(limit, len(states))]

	for _, state := range states {
		delete(s.consents, consentKey{userID: state.UserID, orgID: state.OrgID, scope: state.Scope})
	}

	s.onWrite(ctx, func() {
		for _, state := range states {
			s.consents[consentKey{userID: state.UserID, orgID: state.OrgID, scope: state.Scope}] = state
		}
	})
	return int64(len(states)), nil
}

func sortConsents(states []*models.ConsentState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].OrgID != states[j].OrgID {
			return states[i].OrgID < states[j].OrgID
		}
		return states[i].Scope < states[j].Scope
	})
}
