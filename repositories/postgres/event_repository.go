package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const eventColumns = `event_id, event_type, user_id, org_id, consent_scope, consent_status,
	snapshot_pointer, snapshot_hash, hash_algorithm, scopes, purpose, recipient_org_id,
	verification_claim, verification_result, metadata, signing_key_id, signature,
	previous_event_hash, block_index, event_hash, timestamp`

// EventRepository implements the repositories.EventRepository interface
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.EventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends an event
func (r *EventRepository) Insert(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	metadata, err := jsonColumn(event.Metadata)
	if err != nil {
		return err
	}

	err = withSavepoint(ctx, r.db, "event_insert", func(executor Executor) error {
		_, err := executor.ExecContext(ctx, query,
			event.EventID,
			event.EventType,
			event.UserID,
			event.OrgID,
			nullString(event.ConsentScope),
			nullString(string(event.ConsentStatus)),
			nullString(event.SnapshotPointer),
			nullString(event.SnapshotHash),
			nullString(event.HashAlgorithm),
			pq.Array(event.Scopes),
			nullString(event.Purpose),
			nullString(event.RecipientOrgID),
			nullString(event.VerificationClaim),
			nullString(event.VerificationResult),
			metadata,
			event.SigningKeyID,
			event.Signature,
			nullString(event.PreviousEventHash),
			event.BlockIndex,
			event.EventHash,
			event.Timestamp,
		)
		return err
	})

	if err != nil {
		if isUniqueViolation(err, constraintChainPosition) {
			return repositories.ErrChainConflict
		}
		if isUniqueViolation(err, constraintEventPrimaryKey) {
			return repositories.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Debug("event inserted",
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.String("org_id", event.OrgID),
		zap.Int64("block_index", event.BlockIndex))
	return nil
}

// GetByID retrieves an event by its event ID
func (r *EventRepository) GetByID(ctx context.Context, eventID string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE event_id = $1`

	executor := GetExecutor(ctx, r.db)
	return r.getOne(executor.QueryRowContext(ctx, query, eventID))
}

// GetLatestForChain retrieves the newest link of a chain
func (r *EventRepository) GetLatestForChain(ctx context.Context, userID, orgID string) (*models.Event, error) {
	q, err := Partitioned("events", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("org_id", orgID).OrderBy("block_index DESC").Limit(1).Select(eventColumns)

	executor := GetExecutor(ctx, r.db)
	return r.getOne(executor.QueryRowContext(ctx, query, args...))
}

// GetByBlockIndex retrieves the event at a chain position
func (r *EventRepository) GetByBlockIndex(ctx context.Context, userID, orgID string, blockIndex int64) (*models.Event, error) {
	q, err := Partitioned("events", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("org_id", orgID).And("block_index", blockIndex).Select(eventColumns)

	executor := GetExecutor(ctx, r.db)
	return r.getOne(executor.QueryRowContext(ctx, query, args...))
}

// ListByUser retrieves a user's events, newest first
func (r *EventRepository) ListByUser(ctx context.Context, userID string, filter repositories.EventFilter) ([]*models.Event, error) {
	q, err := Partitioned("events", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.AndIf("org_id", filter.OrgID).
		AndIf("event_type", string(filter.EventType)).
		OrderBy("timestamp DESC, block_index DESC").
		Limit(filter.Limit).
		Select(eventColumns)

	return r.list(ctx, query, args...)
}

// ListChain retrieves a whole chain in block order
func (r *EventRepository) ListChain(ctx context.Context, userID, orgID string) ([]*models.Event, error) {
	q, err := Partitioned("events", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("org_id", orgID).OrderBy("block_index ASC").Select(eventColumns)

	return r.list(ctx, query, args...)
}

// DeleteByUser deletes up to limit events for a user
func (r *EventRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	return deleteByUser(ctx, r.db, "events", userID, limit)
}

func (r *EventRepository) getOne(row *sql.Row) (*models.Event, error) {
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (r *EventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Event, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var event models.Event
	var consentScope, consentStatus, snapshotPointer, snapshotHash sql.NullString
	var hashAlgorithm, purpose, recipientOrgID sql.NullString
	var verificationClaim, verificationResult, previousEventHash sql.NullString
	var metadata []byte

	err := row.Scan(
		&event.EventID,
		&event.EventType,
		&event.UserID,
		&event.OrgID,
		&consentScope,
		&consentStatus,
		&snapshotPointer,
		&snapshotHash,
		&hashAlgorithm,
		pq.Array(&event.Scopes),
		&purpose,
		&recipientOrgID,
		&verificationClaim,
		&verificationResult,
		&metadata,
		&event.SigningKeyID,
		&event.Signature,
		&previousEventHash,
		&event.BlockIndex,
		&event.EventHash,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	event.ConsentScope = scannedString(consentScope)
	event.ConsentStatus = models.ConsentStatus(scannedString(consentStatus))
	event.SnapshotPointer = scannedString(snapshotPointer)
	event.SnapshotHash = scannedString(snapshotHash)
	event.HashAlgorithm = scannedString(hashAlgorithm)
	event.Purpose = scannedString(purpose)
	event.RecipientOrgID = scannedString(recipientOrgID)
	event.VerificationClaim = scannedString(verificationClaim)
	event.VerificationResult = scannedString(verificationResult)
	event.PreviousEventHash = scannedString(previousEventHash)
	event.Timestamp = utc(event.Timestamp)

	if len(metadata) > 0 {
		dec := json.NewDecoder(bytes.NewReader(metadata))
		dec.UseNumber()
		if err := dec.Decode(&event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}

	return &event, nil
}

// deleteByUser removes up to limit rows of a user-partitioned table
func deleteByUser(ctx context.Context, db *DB, table, userID string, limit int) (int64, error) {
	q, err := Partitioned(table, "user_id", userID)
	if err != nil {
		return 0, err
	}
	query, args := q.Limit(limit).Delete()

	executor := GetExecutor(ctx, db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	db.logger.Debug("rows deleted", zap.String("table", table), zap.String("user_id", userID), zap.Int64("count", deleted))
	return deleted, nil
}
