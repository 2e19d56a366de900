package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const verificationColumns = `id, event_id, user_id, org_id, verifier_name, signature_valid,
	hash_chain_valid, verified, verified_at, proof, hash_algorithm`

// VerificationRepository implements the repositories.VerificationRepository interface
type VerificationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewVerificationRepository creates a new verification record repository
func NewVerificationRepository(db *DB, logger *zap.Logger) repositories.VerificationRepository {
	return &VerificationRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new verification record
func (r *VerificationRepository) Insert(ctx context.Context, record *models.VerificationRecord) error {
	query := `
		INSERT INTO verification_records (` + verificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		record.ID,
		record.EventID,
		record.UserID,
		record.OrgID,
		record.VerifierName,
		record.SignatureValid,
		record.HashChainValid,
		record.Verified,
		record.VerifiedAt,
		record.Proof,
		record.HashAlgorithm,
	)

	if err != nil {
		return fmt.Errorf("failed to insert verification record: %w", err)
	}

	r.logger.Debug("verification record inserted", zap.String("id", record.ID.String()), zap.String("event_id", record.EventID))
	return nil
}

// GetByID retrieves a verification record by ID
func (r *VerificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_records WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	record := &models.VerificationRecord{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.EventID,
		&record.UserID,
		&record.OrgID,
		&record.VerifierName,
		&record.SignatureValid,
		&record.HashChainValid,
		&record.Verified,
		&record.VerifiedAt,
		&record.Proof,
		&record.HashAlgorithm,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get verification record: %w", err)
	}

	record.VerifiedAt = utc(record.VerifiedAt)
	return record, nil
}

// DeleteByUser deletes up to limit records for a user
func (r *VerificationRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	return deleteByUser(ctx, r.db, "verification_records", userID, limit)
}
