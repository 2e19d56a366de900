package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const snapshotColumns = "user_id, snapshot_id, org_id, version, data, scopes, snapshot_hash, hash_algorithm, created_at"

// SnapshotRepository implements the repositories.SnapshotRepository interface
type SnapshotRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *DB, logger *zap.Logger) repositories.SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a new snapshot version
func (r *SnapshotRepository) Insert(ctx context.Context, snapshot *models.Snapshot) error {
	query := `
		INSERT INTO snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		snapshot.UserID,
		snapshot.SnapshotID,
		snapshot.OrgID,
		snapshot.Version,
		[]byte(snapshot.Data),
		pq.Array(snapshot.Scopes),
		snapshot.SnapshotHash,
		snapshot.HashAlgorithm,
		snapshot.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, "") {
			return repositories.ErrVersionConflict
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	r.logger.Debug("snapshot inserted",
		zap.String("snapshot_id", snapshot.SnapshotID),
		zap.String("user_id", snapshot.UserID),
		zap.Int("version", snapshot.Version))
	return nil
}

// GetByID retrieves a snapshot by user and snapshot ID
func (r *SnapshotRepository) GetByID(ctx context.Context, userID, snapshotID string) (*models.Snapshot, error) {
	q, err := Partitioned("snapshots", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("snapshot_id", snapshotID).Select(snapshotColumns)

	executor := GetExecutor(ctx, r.db)
	return getSnapshot(executor.QueryRowContext(ctx, query, args...))
}

// GetLatest retrieves the highest version for a (user, org) pair
func (r *SnapshotRepository) GetLatest(ctx context.Context, userID, orgID string) (*models.Snapshot, error) {
	q, err := Partitioned("snapshots", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("org_id", orgID).OrderBy("version DESC").Limit(1).Select(snapshotColumns)

	executor := GetExecutor(ctx, r.db)
	return getSnapshot(executor.QueryRowContext(ctx, query, args...))
}

// DeleteByUser deletes up to limit snapshots for a user
func (r *SnapshotRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	return deleteByUser(ctx, r.db, "snapshots", userID, limit)
}

func getSnapshot(row *sql.Row) (*models.Snapshot, error) {
	snapshot := &models.Snapshot{}
	var data []byte

	err := row.Scan(
		&snapshot.UserID,
		&snapshot.SnapshotID,
		&snapshot.OrgID,
		&snapshot.Version,
		&data,
		pq.Array(&snapshot.Scopes),
		&snapshot.SnapshotHash,
		&snapshot.HashAlgorithm,
		&snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snapshot.Data = data
	snapshot.CreatedAt = utc(snapshot.CreatedAt)
	return snapshot, nil
}
