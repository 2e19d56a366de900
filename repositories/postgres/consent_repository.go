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

const consentColumns = "user_id, org_id, scope, status, event_id, updated_at"

// ConsentRepository implements the repositories.ConsentRepository interface
type ConsentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewConsentRepository creates a new consent state repository
func NewConsentRepository(db *DB, logger *zap.Logger) repositories.ConsentRepository {
	return &ConsentRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or overwrites the state for a (user, org, scope) triple
func (r *ConsentRepository) Upsert(ctx context.Context, state *models.ConsentState) error {
	query := `
		INSERT INTO consent_states (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, org_id, scope) DO UPDATE
		SET status = EXCLUDED.status,
		    event_id = EXCLUDED.event_id,
		    updated_at = EXCLUDED.updated_at
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		state.UserID,
		state.OrgID,
		state.Scope,
		state.Status,
		nullString(state.EventID),
		state.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert consent state: %w", err)
	}

	r.logger.Debug("consent state upserted",
		zap.String("user_id", state.UserID),
		zap.String("org_id", state.OrgID),
		zap.String("scope", state.Scope),
		zap.String("status", string(state.Status)))
	return nil
}

// Get retrieves the state for one triple
func (r *ConsentRepository) Get(ctx context.Context, userID, orgID, scope string) (*models.ConsentState, error) {
	q, err := Partitioned("consent_states", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.And("org_id", orgID).And("scope", scope).Select(consentColumns)

	executor := GetExecutor(ctx, r.db)
	state, err := scanConsent(executor.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get consent state: %w", err)
	}
	return state, nil
}

// ListByUser retrieves a user's consent states, optionally for one org
func (r *ConsentRepository) ListByUser(ctx context.Context, userID, orgID string) ([]*models.ConsentState, error) {
	q, err := Partitioned("consent_states", "user_id", userID)
	if err != nil {
		return nil, err
	}
	query, args := q.AndIf("org_id", orgID).OrderBy("org_id ASC, scope ASC").Select(consentColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list consent states: %w", err)
	}
	defer rows.Close()

	states := []*models.ConsentState{}
	for rows.Next() {
		state, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consent state: %w", err)
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating consent rows: %w", err)
	}

	return states, nil
}

// DeleteByUser deletes up to limit states for a user
func (r *ConsentRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	return deleteByUser(ctx, r.db, "consent_states", userID, limit)
}

func scanConsent(row rowScanner) (*models.ConsentState, error) {
	state := &models.ConsentState{}
	var eventID sql.NullString

	if err := row.Scan(&state.UserID, &state.OrgID, &state.Scope, &state.Status, &eventID, &state.UpdatedAt); err != nil {
		return nil, err
	}

	state.EventID = scannedString(eventID)
	state.UpdatedAt = utc(state.UpdatedAt)
	return state, nil
}
