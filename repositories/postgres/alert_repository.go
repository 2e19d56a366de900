package postgres

import (
	"context"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"go.uber.org/zap"
)

const alertColumns = "id, org_id, user_id, event_id, event_type, rule, severity, message, details, created_at"

// AlertRepository implements the repositories.AlertRepository interface
type AlertRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB, logger *zap.Logger) repositories.AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new alert
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	details, err := jsonColumn(alert.Details)
	if err != nil {
		return err
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		alert.ID,
		alert.OrgID,
		alert.UserID,
		alert.EventID,
		alert.EventType,
		alert.Rule,
		alert.Severity,
		alert.Message,
		details,
		alert.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	r.logger.Debug("alert inserted", zap.String("id", alert.ID.String()), zap.String("rule", alert.Rule))
	return nil
}

// ListByOrg retrieves an org's alerts, newest first
func (r *AlertRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	q, err := Partitioned("alerts", "org_id", orgID)
	if err != nil {
		return nil, err
	}
	query, args := q.OrderBy("created_at DESC").Limit(limit).Select(alertColumns)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert := &models.Alert{}
		var details []byte
		err := rows.Scan(
			&alert.ID,
			&alert.OrgID,
			&alert.UserID,
			&alert.EventID,
			&alert.EventType,
			&alert.Rule,
			&alert.Severity,
			&alert.Message,
			&details,
			&alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if len(details) > 0 {
			alert.Details = details
		}
		alert.CreatedAt = utc(alert.CreatedAt)
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// DeleteByUser deletes up to limit alerts for a user
func (r *AlertRepository) DeleteByUser(ctx context.Context, userID string, limit int) (int64, error) {
	return deleteByUser(ctx, r.db, "alerts", userID, limit)
}
