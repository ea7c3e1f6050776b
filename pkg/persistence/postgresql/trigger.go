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

// TriggerRepository handles trigger-cursor database operations. The version
// compare-and-swap rides on the version column: a conditional UPDATE that
// matches zero rows means another scheduler advanced the cursor first.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTriggerRepository creates a new trigger cursor repository.
func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

// Find returns the cursor for one trigger.
func (r *TriggerRepository) Find(ctx context.Context, tenantID, namespace, flowID, triggerID string) (*models.TriggerContext, error) {
	query := `
		SELECT data, version
		FROM triggers
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND trigger_id = $4
	`

	var (
		data    []byte
		version int
	)

	err := r.db.QueryRowContext(ctx, query, tenantID, namespace, flowID, triggerID).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s/%s", persistence.ErrTriggerNotFound, namespace, flowID, triggerID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query trigger cursor: %w", err)
	}

	return unmarshalTriggerContext(data, version)
}

// All returns every trigger cursor.
func (r *TriggerRepository) All(ctx context.Context) ([]*models.TriggerContext, error) {
	query := `
		SELECT data, version
		FROM triggers
		ORDER BY tenant_id, namespace, flow_id, trigger_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query trigger cursors: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	cursors := make([]*models.TriggerContext, 0)

	for rows.Next() {
		var (
			data    []byte
			version int
		)

		if err := rows.Scan(&data, &version); err != nil {
			return nil, fmt.Errorf("failed to scan trigger cursor: %w", err)
		}

		cursor, err := unmarshalTriggerContext(data, version)
		if err != nil {
			return nil, err
		}

		cursors = append(cursors, cursor)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating trigger cursors: %w", err)
	}

	return cursors, nil
}

// Save persists the cursor if the stored version still equals expectedVersion.
func (r *TriggerRepository) Save(ctx context.Context, trigger *models.TriggerContext, expectedVersion int) error {
	trigger.Version = expectedVersion + 1
	trigger.UpdatedDate = time.Now().UTC()

	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger cursor: %w", err)
	}

	if expectedVersion == 0 {
		query := `
			INSERT INTO triggers (tenant_id, namespace, flow_id, trigger_id, version, data, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (tenant_id, namespace, flow_id, trigger_id) DO NOTHING
		`

		result, err := r.db.ExecContext(ctx, query,
			trigger.TenantID, trigger.Namespace, trigger.FlowID, trigger.TriggerID, trigger.Version, data)
		if err != nil {
			return fmt.Errorf("failed to create trigger cursor: %w", err)
		}

		return checkConflict(result, trigger, expectedVersion)
	}

	query := `
		UPDATE triggers
		SET version = $5, data = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND trigger_id = $4
			AND version = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		trigger.TenantID, trigger.Namespace, trigger.FlowID, trigger.TriggerID,
		trigger.Version, data, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update trigger cursor: %w", err)
	}

	return checkConflict(result, trigger, expectedVersion)
}

// Delete removes the cursor.
func (r *TriggerRepository) Delete(ctx context.Context, trigger *models.TriggerContext) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM triggers WHERE tenant_id = $1 AND namespace = $2 AND flow_id = $3 AND trigger_id = $4",
		trigger.TenantID, trigger.Namespace, trigger.FlowID, trigger.TriggerID)
	if err != nil {
		return fmt.Errorf("failed to delete trigger cursor: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrTriggerNotFound, trigger.UID())
	}

	return nil
}

func checkConflict(result sql.Result, trigger *models.TriggerContext, expectedVersion int) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		trigger.Version = expectedVersion

		return fmt.Errorf("%w: trigger %s, expected version %d",
			persistence.ErrVersionConflict, trigger.UID(), expectedVersion)
	}

	return nil
}

func unmarshalTriggerContext(data []byte, version int) (*models.TriggerContext, error) {
	cursor := &models.TriggerContext{}
	if err := json.Unmarshal(data, cursor); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger cursor: %w", err)
	}

	cursor.Version = version

	return cursor, nil
}
