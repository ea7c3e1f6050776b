package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// WindowRepository handles multiple-condition window database operations.
type WindowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWindowRepository creates a new window repository.
func NewWindowRepository(db *sql.DB, logger *slog.Logger) *WindowRepository {
	return &WindowRepository{db: db, logger: logger}
}

// Find returns the window for one correlation key.
func (r *WindowRepository) Find(ctx context.Context, tenantID, namespace, flowID, conditionID, correlationKey string) (*models.MultipleConditionWindow, error) {
	query := `
		SELECT data
		FROM multiple_condition_windows
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND condition_id = $4 AND correlation_key = $5
	`

	var data []byte

	err := r.db.QueryRowContext(ctx, query, tenantID, namespace, flowID, conditionID, correlationKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", persistence.ErrWindowNotFound, flowID, conditionID, correlationKey)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}

	return unmarshalWindow(data)
}

// Save upserts a window.
func (r *WindowRepository) Save(ctx context.Context, window *models.MultipleConditionWindow) error {
	data, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	query := `
		INSERT INTO multiple_condition_windows (tenant_id, namespace, flow_id, condition_id, correlation_key, end_date, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, namespace, flow_id, condition_id, correlation_key) DO UPDATE SET
			end_date = EXCLUDED.end_date,
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		window.TenantID, window.Namespace, window.FlowID, window.ConditionID,
		window.CorrelationKey, window.End, data)
	if err != nil {
		return fmt.Errorf("failed to save window: %w", err)
	}

	return nil
}

// Delete removes a window.
func (r *WindowRepository) Delete(ctx context.Context, window *models.MultipleConditionWindow) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM multiple_condition_windows
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND condition_id = $4 AND correlation_key = $5
	`, window.TenantID, window.Namespace, window.FlowID, window.ConditionID, window.CorrelationKey)
	if err != nil {
		return fmt.Errorf("failed to delete window: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrWindowNotFound, window.UID())
	}

	return nil
}

// Expired returns windows whose validity interval elapsed before now.
func (r *WindowRepository) Expired(ctx context.Context, tenantID string, now time.Time) ([]*models.MultipleConditionWindow, error) {
	query := `
		SELECT data
		FROM multiple_condition_windows
		WHERE tenant_id = $1 AND end_date < $2
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired windows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	windows := make([]*models.MultipleConditionWindow, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}

		window, err := unmarshalWindow(data)
		if err != nil {
			return nil, err
		}

		windows = append(windows, window)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating windows: %w", err)
	}

	return windows, nil
}

func unmarshalWindow(data []byte) (*models.MultipleConditionWindow, error) {
	window := &models.MultipleConditionWindow{}
	if err := json.Unmarshal(data, window); err != nil {
		return nil, fmt.Errorf("failed to unmarshal window: %w", err)
	}

	return window, nil
}
