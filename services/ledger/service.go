// Package ledger appends signed, hash-chained events and answers queries over them.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/integrity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/arcturusdc/orbit/services/ledger"

	// DefaultQueryLimit caps QueryEvents when the caller gives no limit
	DefaultQueryLimit = 100
	// MaxQueryLimit is the largest page QueryEvents returns
	MaxQueryLimit = 1000
)

// KeyResolver looks up org signing keys
type KeyResolver interface {
	ActiveKey(ctx context.Context, orgID string) (*models.SigningKey, error)
	Key(ctx context.Context, orgID, keyID string) (*models.SigningKey, error)
}

// ConsentProjector keeps the consent read model in step with consent events
type ConsentProjector interface {
	ProjectEvent(ctx context.Context, event *models.Event) error
}

// PostWriteHook receives every appended event. Submit must not block.
type PostWriteHook interface {
	Submit(event *models.Event) bool
}

// Config holds ledger tuning
type Config struct {
	// AppendRetries is how many times a lost chain position is re-chained before giving up
	AppendRetries int
}

// Service is the ledger store
type Service struct {
	events    repositories.EventRepository
	keys      KeyResolver
	locks     *ChainLocks
	projector ConsentProjector
	hook      PostWriteHook
	config    Config
	tracer    trace.Tracer
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a new ledger Service. projector and hook may be nil.
func NewService(
	events repositories.EventRepository,
	keys KeyResolver,
	locks *ChainLocks,
	projector ConsentProjector,
	hook PostWriteHook,
	config Config,
	logger *zap.Logger,
) *Service {
	if locks == nil {
		locks = NewChainLocks()
	}
	return &Service{
		events:    events,
		keys:      keys,
		locks:     locks,
		projector: projector,
		hook:      hook,
		config:    config,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		logger:    logger,
	}
}

// SetHook replaces the post-write hook
func (s *Service) SetHook(hook PostWriteHook) {
	s.hook = hook
}

// AppendEvent validates, signs, chains and persists an event on behalf of orgID.
// The caller's event is not modified; the stored event is returned.
func (s *Service) AppendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.AppendEvent")
	defer span.End()

	stored, err := s.appendEvent(ctx, orgID, event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("orbit.event_id", stored.EventID),
		attribute.String("orbit.event_type", string(stored.EventType)),
		attribute.String("orbit.org_id", stored.OrgID),
		attribute.Int64("orbit.block_index", stored.BlockIndex),
	)
	return stored, nil
}

func (s *Service) appendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error) {
	if err := Validate(event); err != nil {
		return nil, err
	}
	if orgID != "" && event.OrgID != orgID {
		return nil, services.ErrOrgMismatch
	}

	e := event.Clone()
	if e.EventID == "" {
		id, err := GenerateEventID()
		if err != nil {
			return nil, services.WrapInternal("failed to generate event id", err)
		}
		e.EventID = id
	}

	key, err := s.keys.ActiveKey(ctx, e.OrgID)
	if err != nil {
		return nil, err
	}
	e.SigningKeyID = key.KeyID
	signature, err := integrity.SignEvent(e, []byte(key.Secret))
	if err != nil {
		return nil, err
	}
	e.Signature = signature

	if err := s.chainAndInsert(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info("event appended",
		zap.String("event_id", e.EventID),
		zap.String("event_type", string(e.EventType)),
		zap.String("user_id", e.UserID),
		zap.String("org_id", e.OrgID),
		zap.Int64("block_index", e.BlockIndex))

	s.afterAppend(ctx, e)
	return e, nil
}

// chainAndInsert stamps chain fields and inserts under the chain lock,
// re-chaining when another writer took the position first
func (s *Service) chainAndInsert(ctx context.Context, e *models.Event) error {
	unlock := s.locks.Lock(chainLockKey(e.UserID, e.OrgID))
	defer unlock()

	for attempt := 0; ; attempt++ {
		latest, err := s.events.GetLatestForChain(ctx, e.UserID, e.OrgID)
		if err != nil {
			return services.WrapInternal("failed to read chain head", err)
		}

		s.stampChain(e, latest)
		hash, err := integrity.HashEvent(e)
		if err != nil {
			return err
		}
		e.EventHash = hash

		err = s.events.Insert(ctx, e)
		if err == nil {
			return nil
		}
		if errors.Is(err, repositories.ErrDuplicateEvent) {
			return services.NewDomainError(services.ErrorTypeConflict, services.ErrDuplicateEvent.Message, err).
				WithDetail("eventId", e.EventID)
		}
		if !errors.Is(err, repositories.ErrChainConflict) {
			return services.WrapInternal("failed to append event", err)
		}

		if attempt >= s.config.AppendRetries {
			s.logger.Warn("giving up on contended chain",
				zap.String("user_id", e.UserID),
				zap.String("org_id", e.OrgID),
				zap.Int("attempts", attempt+1))
			return services.NewDomainError(services.ErrorTypeChainRace, services.ErrChainRace.Message, err).
				WithDetail("attempts", attempt+1)
		}

		s.logger.Debug("chain position taken, retrying",
			zap.String("user_id", e.UserID),
			zap.String("org_id", e.OrgID),
			zap.Int64("block_index", e.BlockIndex),
			zap.Int("attempt", attempt+1))
	}
}

// stampChain attaches block index, previous link and timestamp. Timestamps never run backwards within a chain.
func (s *Service) stampChain(e *models.Event, latest *models.Event) {
	now := models.StoreTime(s.now())
	if latest == nil {
		e.BlockIndex = 1
		e.PreviousEventHash = ""
		e.Timestamp = now
		return
	}

	e.BlockIndex = latest.BlockIndex + 1
	e.PreviousEventHash = latest.EventHash
	if now.Before(latest.Timestamp) {
		now = latest.Timestamp
	}
	e.Timestamp = now
}

// afterAppend runs the best-effort side effects of a durable append
func (s *Service) afterAppend(ctx context.Context, e *models.Event) {
	if s.projector != nil && e.EventType.IsConsent() {
		if err := s.projector.ProjectEvent(ctx, e); err != nil {
			s.logger.Warn("consent projection failed",
				zap.String("event_id", e.EventID),
				zap.String("user_id", e.UserID),
				zap.String("org_id", e.OrgID),
				zap.Error(err))
		}
	}

	if s.hook != nil && !s.hook.Submit(e.Clone()) {
		s.logger.Warn("policy hook rejected event", zap.String("event_id", e.EventID))
	}
}

// QueryEvents returns a user's events, newest first, filtered conjunctively
func (s *Service) QueryEvents(ctx context.Context, userID string, filter repositories.EventFilter) ([]*models.Event, error) {
	if userID == "" {
		return nil, services.NewMissingFieldsError([]string{"userId"})
	}
	if filter.EventType != "" && RequiredFields(filter.EventType) == nil {
		return nil, services.NewValidationError("Unknown event type: " + string(filter.EventType))
	}
	if filter.Limit < 0 {
		return nil, services.NewValidationError("limit must not be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}

	events, err := s.events.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to query events", err)
	}
	return events, nil
}

// GetLatestEventForChain returns the chain head, nil when the chain is empty.
// It exists for chaining; consent state is read from the projector.
func (s *Service) GetLatestEventForChain(ctx context.Context, userID, orgID string) (*models.Event, error) {
	event, err := s.events.GetLatestForChain(ctx, userID, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to read chain head", err)
	}
	return event, nil
}

// GetEvent returns one event, ErrEventNotFound when absent
func (s *Service) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, services.WrapInternal("failed to load event", err)
	}
	if event == nil {
		return nil, services.ErrEventNotFound
	}
	return event, nil
}
