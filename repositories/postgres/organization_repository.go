package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"go.uber.org/zap"
)

// OrganizationRepository implements the repositories.OrganizationRepository interface
type OrganizationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *DB, logger *zap.Logger) repositories.OrganizationRepository {
	return &OrganizationRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates an organization or overwrites its mutable fields.
// created_at survives updates; an empty signing_key_id never clears an existing one.
func (r *OrganizationRepository) Upsert(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (org_id, name, api_key_hash, signing_key_id, profile, sandbox, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id) DO UPDATE
		SET name = EXCLUDED.name,
		    api_key_hash = EXCLUDED.api_key_hash,
		    signing_key_id = COALESCE(NULLIF(EXCLUDED.signing_key_id, ''), organizations.signing_key_id),
		    profile = EXCLUDED.profile,
		    sandbox = EXCLUDED.sandbox,
		    updated_at = EXCLUDED.updated_at
	`

	profile, err := jsonColumn(org.Profile)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		org.OrgID,
		org.Name,
		org.APIKeyHash,
		org.SigningKeyID,
		profile,
		org.Sandbox,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert organization: %w", err)
	}

	r.logger.Debug("organization upserted", zap.String("org_id", org.OrgID))
	return nil
}

// GetByID retrieves an organization by ID
func (r *OrganizationRepository) GetByID(ctx context.Context, orgID string) (*models.Organization, error) {
	query := `
		SELECT org_id, name, api_key_hash, signing_key_id, profile, sandbox, created_at, updated_at
		FROM organizations
		WHERE org_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	org := &models.Organization{}
	var profile []byte

	err := executor.QueryRowContext(ctx, query, orgID).Scan(
		&org.OrgID,
		&org.Name,
		&org.APIKeyHash,
		&org.SigningKeyID,
		&profile,
		&org.Sandbox,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	if len(profile) > 0 {
		org.Profile = profile
	}
	org.CreatedAt = utc(org.CreatedAt)
	org.UpdatedAt = utc(org.UpdatedAt)
	return org, nil
}

// SetSigningKey points the organization at a new active key
func (r *OrganizationRepository) SetSigningKey(ctx context.Context, orgID, keyID string) error {
	query := `
		UPDATE organizations
		SET signing_key_id = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE org_id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, orgID, keyID)
	if err != nil {
		return fmt.Errorf("failed to set signing key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("organization not found: %s", orgID)
	}

	r.logger.Debug("organization signing key set", zap.String("org_id", orgID), zap.String("key_id", keyID))
	return nil
}

// DeleteSandbox deletes up to limit sandbox organizations. Their keys go with them via ON DELETE CASCADE.
func (r *OrganizationRepository) DeleteSandbox(ctx context.Context, limit int) (int64, error) {
	query := `
		DELETE FROM organizations
		WHERE org_id IN (SELECT org_id FROM organizations WHERE sandbox LIMIT $1)
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sandbox organizations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("sandbox organizations deleted", zap.Int64("count", deleted))
	return deleted, nil
}
