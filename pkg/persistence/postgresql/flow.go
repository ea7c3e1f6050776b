package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// FlowRepository handles flow-related database operations.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

// All returns every flow definition.
func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	query := `
		SELECT data
		FROM flows
		ORDER BY tenant_id, namespace, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flow := &models.Flow{}
		if err := json.Unmarshal(data, flow); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

// ByID returns a flow definition by tenant, namespace and id.
func (r *FlowRepository) ByID(ctx context.Context, tenantID, namespace, id string) (*models.Flow, error) {
	query := `
		SELECT data
		FROM flows
		WHERE tenant_id = $1 AND namespace = $2 AND id = $3
	`

	var data []byte

	err := r.db.QueryRowContext(ctx, query, tenantID, namespace, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", persistence.ErrFlowNotFound, namespace, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query flow: %w", err)
	}

	flow := &models.Flow{}
	if err := json.Unmarshal(data, flow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow: %w", err)
	}

	return flow, nil
}

// Save upserts a flow definition.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	query := `
		INSERT INTO flows (tenant_id, namespace, id, revision, disabled, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, namespace, id) DO UPDATE SET
			revision = EXCLUDED.revision,
			disabled = EXCLUDED.disabled,
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.TenantID, flow.Namespace, flow.ID, flow.Revision, flow.Disabled, data)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// Delete removes a flow definition.
func (r *FlowRepository) Delete(ctx context.Context, tenantID, namespace, id string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM flows WHERE tenant_id = $1 AND namespace = $2 AND id = $3",
		tenantID, namespace, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", persistence.ErrFlowNotFound, namespace, id)
	}

	return nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
