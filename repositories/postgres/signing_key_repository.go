package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"go.uber.org/zap"
)

// SigningKeyRepository implements the repositories.SigningKeyRepository interface
type SigningKeyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSigningKeyRepository creates a new signing key repository
func NewSigningKeyRepository(db *DB, logger *zap.Logger) repositories.SigningKeyRepository {
	return &SigningKeyRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new key generation
func (r *SigningKeyRepository) Create(ctx context.Context, key *models.SigningKey) error {
	query := `
		INSERT INTO organization_signing_keys (org_id, key_id, secret, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, key.OrgID, key.KeyID, key.Secret, key.CreatedAt, key.RetiredAt)
	if err != nil {
		return fmt.Errorf("failed to create signing key: %w", err)
	}

	r.logger.Debug("signing key created", zap.String("org_id", key.OrgID), zap.String("key_id", key.KeyID))
	return nil
}

// Get retrieves a key whether or not it is retired
func (r *SigningKeyRepository) Get(ctx context.Context, orgID, keyID string) (*models.SigningKey, error) {
	query := `
		SELECT org_id, key_id, secret, created_at, retired_at
		FROM organization_signing_keys
		WHERE org_id = $1 AND key_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	return scanSigningKey(executor.QueryRowContext(ctx, query, orgID, keyID))
}

// GetActive retrieves the newest non-retired key
func (r *SigningKeyRepository) GetActive(ctx context.Context, orgID string) (*models.SigningKey, error) {
	query := `
		SELECT org_id, key_id, secret, created_at, retired_at
		FROM organization_signing_keys
		WHERE org_id = $1 AND retired_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	executor := GetExecutor(ctx, r.db)
	return scanSigningKey(executor.QueryRowContext(ctx, query, orgID))
}

// RetireAll retires every active key of an org
func (r *SigningKeyRepository) RetireAll(ctx context.Context, orgID string, at time.Time) error {
	query := `
		UPDATE organization_signing_keys
		SET retired_at = $2
		WHERE org_id = $1 AND retired_at IS NULL
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, orgID, at); err != nil {
		return fmt.Errorf("failed to retire signing keys: %w", err)
	}

	r.logger.Debug("signing keys retired", zap.String("org_id", orgID))
	return nil
}

func scanSigningKey(row *sql.Row) (*models.SigningKey, error) {
	key := &models.SigningKey{}
	var retiredAt sql.NullTime

	err := row.Scan(&key.OrgID, &key.KeyID, &key.Secret, &key.CreatedAt, &retiredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get signing key: %w", err)
	}

	key.CreatedAt = utc(key.CreatedAt)
	if retiredAt.Valid {
		t := utc(retiredAt.Time)
		key.RetiredAt = &t
	}
	return key, nil
}
