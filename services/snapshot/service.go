// Package snapshot stores versioned, hashed data captures and records each version on the ledger.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/integrity"
	"github.com/arcturusdc/orbit/services/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/arcturusdc/orbit/services/snapshot"

// Appender writes the companion ledger event
type Appender interface {
	AppendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error)
}

// CreateRequest is the input of CreateSnapshot
type CreateRequest struct {
	UserID string
	Data   json.RawMessage
	Scopes []string
}

// CreateResult describes the stored snapshot and its ledger event
type CreateResult struct {
	SnapshotID      string        `json:"snapshotId"`
	Version         int           `json:"version"`
	SnapshotHash    string        `json:"snapshotHash"`
	HashAlgorithm   string        `json:"hashAlgorithm"`
	SnapshotPointer string        `json:"snapshotPointer"`
	Event           *models.Event `json:"event"`
}

// Service manages snapshots
type Service struct {
	snapshots repositories.SnapshotRepository
	txMgr     repositories.TransactionManager
	ledger    Appender
	locks     *ledger.ChainLocks
	tracer    trace.Tracer
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a new snapshot Service. locks may be shared with the ledger;
// snapshot keys live in their own namespace. With a nil txMgr the snapshot row and
// its ledger event are written without a surrounding transaction.
func NewService(snapshots repositories.SnapshotRepository, txMgr repositories.TransactionManager, appender Appender, locks *ledger.ChainLocks, logger *zap.Logger) *Service {
	if locks == nil {
		locks = ledger.NewChainLocks()
	}
	return &Service{
		snapshots: snapshots,
		txMgr:     txMgr,
		ledger:    appender,
		locks:     locks,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		logger:    logger,
	}
}

// CreateSnapshot stores the next version for (userID, orgID) and appends
// PROFILE_REGISTERED for version 1 or PROFILE_UPDATED afterwards
func (s *Service) CreateSnapshot(ctx context.Context, orgID string, req CreateRequest) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "snapshot.CreateSnapshot")
	defer span.End()

	result, err := s.createSnapshot(ctx, orgID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("orbit.snapshot_id", result.SnapshotID),
		attribute.Int("orbit.snapshot_version", result.Version),
	)
	return result, nil
}

func (s *Service) createSnapshot(ctx context.Context, orgID string, req CreateRequest) (*CreateResult, error) {
	var missing []string
	if req.UserID == "" {
		missing = append(missing, "userId")
	}
	if orgID == "" {
		missing = append(missing, "orgId")
	}
	if len(req.Data) == 0 {
		missing = append(missing, "data")
	}
	if len(req.Scopes) == 0 {
		missing = append(missing, "scopes")
	}
	if len(missing) > 0 {
		return nil, services.NewMissingFieldsError(missing)
	}

	hash, err := integrity.HashSnapshot(req.Data)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ledger.SnapshotLockKey(req.UserID, orgID))
	defer unlock()

	var (
		snap  *models.Snapshot
		event *models.Event
	)
	err = s.inTransaction(ctx, func(ctx context.Context) error {
		var txErr error
		snap, event, txErr = s.storeVersion(ctx, orgID, req, hash)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot created",
		zap.String("snapshot_id", snap.SnapshotID),
		zap.String("user_id", snap.UserID),
		zap.String("org_id", orgID),
		zap.Int("version", snap.Version))

	return &CreateResult{
		SnapshotID:      snap.SnapshotID,
		Version:         snap.Version,
		SnapshotHash:    snap.SnapshotHash,
		HashAlgorithm:   snap.HashAlgorithm,
		SnapshotPointer: snap.Pointer(),
		Event:           event,
	}, nil
}

// storeVersion inserts the next version and its companion event. Under a transaction
// a failed append rolls the snapshot row back.
func (s *Service) storeVersion(ctx context.Context, orgID string, req CreateRequest, hash string) (*models.Snapshot, *models.Event, error) {
	latest, err := s.snapshots.GetLatest(ctx, req.UserID, orgID)
	if err != nil {
		return nil, nil, services.WrapInternal("failed to read latest snapshot", err)
	}
	version := 1
	if latest != nil {
		version = latest.Version + 1
	}

	snap := &models.Snapshot{
		SnapshotID:    models.SnapshotID(orgID, version),
		UserID:        req.UserID,
		OrgID:         orgID,
		Version:       version,
		Data:          req.Data,
		Scopes:        append([]string(nil), req.Scopes...),
		SnapshotHash:  hash,
		HashAlgorithm: integrity.Algorithm,
		CreatedAt:     models.StoreTime(s.now()),
	}

	if err := s.snapshots.Insert(ctx, snap); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, nil, services.NewDomainError(services.ErrorTypeConflict, services.ErrSnapshotVersionConflict.Message, err).
				WithDetail("version", version)
		}
		return nil, nil, services.WrapInternal("failed to store snapshot", err)
	}

	eventType := models.EventTypeProfileUpdated
	if version == 1 {
		eventType = models.EventTypeProfileRegistered
	}

	event, err := s.ledger.AppendEvent(ctx, orgID, &models.Event{
		EventType:       eventType,
		UserID:          snap.UserID,
		OrgID:           orgID,
		SnapshotPointer: snap.Pointer(),
		SnapshotHash:    snap.SnapshotHash,
		HashAlgorithm:   snap.HashAlgorithm,
		Scopes:          snap.Scopes,
	})
	if err != nil {
		s.logger.Error("companion event failed",
			zap.String("snapshot_id", snap.SnapshotID),
			zap.String("user_id", snap.UserID),
			zap.String("org_id", orgID),
			zap.Bool("rolled_back", s.txMgr != nil),
			zap.Error(err))
		return nil, nil, err
	}
	return snap, event, nil
}

func (s *Service) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txMgr == nil {
		return fn(ctx)
	}
	return services.WithTransaction(ctx, s.txMgr, fn)
}

// GetSnapshot resolves a snapshots/{userId}/{snapshotId} pointer
func (s *Service) GetSnapshot(ctx context.Context, pointer string) (*models.Snapshot, error) {
	userID, snapshotID, err := models.ParseSnapshotPointer(pointer)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, err.Error(), nil).
			WithDetail("snapshotPointer", pointer)
	}

	snap, err := s.snapshots.GetByID(ctx, userID, snapshotID)
	if err != nil {
		return nil, services.WrapInternal("failed to load snapshot", err)
	}
	if snap == nil {
		return nil, services.ErrSnapshotNotFound
	}
	return snap, nil
}

// GetLatestSnapshot returns the highest version for (userID, orgID)
func (s *Service) GetLatestSnapshot(ctx context.Context, userID, orgID string) (*models.Snapshot, error) {
	snap, err := s.snapshots.GetLatest(ctx, userID, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load snapshot", err)
	}
	if snap == nil {
		return nil, services.ErrSnapshotNotFound
	}
	return snap, nil
}

// VerifySnapshot reports whether a snapshot's stored hash matches its data
func VerifySnapshot(snap *models.Snapshot) bool {
	hash, err := integrity.HashSnapshot(snap.Data)
	if err != nil {
		return false
	}
	return hash == snap.SnapshotHash
}
