package memory

import (
	"context"
	"sort"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
)

// EventRepository implements repositories.EventRepository
type EventRepository struct {
	store *Store
}

// Insert appends an event, rejecting a taken chain position or a duplicate event ID
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return repositories.ErrDuplicateEvent
	}

	key := event.ChainKey()
	chain := s.chains[key]
	pos := sort.Search(len(chain), func(i int) bool { return chain[i].BlockIndex >= event.BlockIndex })
	if pos < len(chain) && chain[pos].BlockIndex == event.BlockIndex {
		return repositories.ErrChainConflict
	}

	stored := event.Clone()
	chain = append(chain, nil)
	copy(chain[pos+1:], chain[pos:])
	chain[pos] = stored
	s.chains[key] = chain
	s.events[stored.EventID] = stored

	s.onWrite(ctx, func() { s.removeEvent(stored) })
	return nil
}

// GetByID retrieves an event by ID
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*models.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.events[eventID].Clone(), nil
}

// GetLatestForChain retrieves the highest block index of a chain
func (r *EventRepository) GetLatestForChain(ctx context.Context, userID, orgID string) (*models.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	chain := r.store.chains[models.ChainKey(userID, orgID)]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1].Clone(), nil
}

// GetByBlockIndex retrieves the event at a chain position
func (r *EventRepository) GetByBlockIndex(ctx context.Context, userID, orgID string, blockIndex int64) (*models.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	chain := r.store.chains[models.ChainKey(userID, orgID)]
	pos := sort.Search(len(chain), func(i int) bool { return chain[i].BlockIndex >= blockIndex })
	if pos < len(chain) && chain[pos].BlockIndex == blockIndex {
		return chain[pos].Clone(), nil
	}
	return nil, nil
}

// ListByUser retrieves a user's events, newest first
func (r *EventRepository) ListByUser(ctx context.Context, userID string, filter repositories.EventFilter) ([]*models.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	events := []*models.Event{}
	for _, event := range r.store.userEvents(userID) {
		if filter.OrgID != "" && event.OrgID != filter.OrgID {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		events = append(events, event.Clone())
	}

	return events[:limitOf(filter.Limit, len(events))], nil
}

// ListChain retrieves a chain in block order
func (r *EventRepository) ListChain(ctx context.Context, userID, orgID string) ([]*models.Event, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	chain := r.store.chains[models.ChainKey(userID, orgID)]
	events := make([]*models.Event, 0, len(chain))
	for _, event := range chain {
		events = append(events, event.Clone())
	}
	return events, nil
}

// DeleteByUser deletes up to limit of a user's events
func (r *EventRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.userEvents(userID)
	events = events[:limitOf(limit, len(events))]
	for _, event := range events {
		s.removeEvent(event)
	}

	s.onWrite(ctx, func() {
		for _, event := range events {
			s.restoreEvent(event)
		}
	})
	return int64(len(events)), nil
}

// userEvents returns the stored events of a user ordered by timestamp then block index, newest first.
// Callers hold s.mu.
func (s *Store) userEvents(userID string) []*models.Event {
	var events []*models.Event
	for _, event := range s.events {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.After(events[j].Timestamp)
		}
		if events[i].BlockIndex != events[j].BlockIndex {
			return events[i].BlockIndex > events[j].BlockIndex
		}
		return events[i].EventID < events[j].EventID
	})
	return events
}

func (s *Store) removeEvent(event *models.Event) {
	delete(s.events, event.EventID)

	key := event.ChainKey()
	chain := s.chains[key]
	for i, e := range chain {
		if e == event {
			chain = append(chain[:i], chain[i+1:]...)
			break
		}
	}
	if len(chain) == 0 {
		delete(s.chains, key)
		return
	}
	s.chains[key] = chain
}

func (s *Store) restoreEvent(event *models.Event) {
	s.events[event.EventID] = event

	key := event.ChainKey()
	chain := s.chains[key]
	pos := sort.Search(len(chain), func(i int) bool { return chain[i].BlockIndex >= event.BlockIndex })
	chain = append(chain, nil)
	copy(chain[pos+1:], chain[pos:])
	chain[pos] = event
	s.chains[key] = chain
}
