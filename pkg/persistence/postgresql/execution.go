package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// ByID returns an execution by tenant and id.
func (r *ExecutionRepository) ByID(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	query := `
		SELECT data
		FROM executions
		WHERE tenant_id = $1 AND id = $2
	`

	var data []byte

	err := r.db.QueryRowContext(ctx, query, tenantID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	return unmarshalExecution(data)
}

// Save upserts an execution document. The extracted columns track the fields
// range queries filter on.
func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	var startDate, endDate sql.NullTime
	if date := execution.State.StartDate(); !date.IsZero() {
		startDate = sql.NullTime{Time: date, Valid: true}
	}

	if date, ok := execution.State.EndDate(); ok {
		endDate = sql.NullTime{Time: date, Valid: true}
	}

	var triggerExecutionID sql.NullString
	if id := execution.Trigger.ExecutionID(); id != "" {
		triggerExecutionID = sql.NullString{String: id, Valid: true}
	}

	query := `
		INSERT INTO executions (tenant_id, id, namespace, flow_id, state, trigger_execution_id, start_date, end_date, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			state = EXCLUDED.state,
			trigger_execution_id = EXCLUDED.trigger_execution_id,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			data = EXCLUDED.data,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.TenantID, execution.ID, execution.Namespace, execution.FlowID,
		string(execution.State.Current), triggerExecutionID, startDate, endDate, data)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// Delete removes an execution document.
func (r *ExecutionRepository) Delete(ctx context.Context, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM executions WHERE tenant_id = $1 AND id = $2", tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
	}

	return nil
}

// Find returns executions matching the filter.
func (r *ExecutionRepository) Find(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.TenantID != "" {
		addCondition("tenant_id = $%d", filter.TenantID)
	}

	if filter.Namespace != "" {
		addCondition("namespace = $%d", filter.Namespace)
	}

	if filter.FlowID != "" {
		addCondition("flow_id = $%d", filter.FlowID)
	}

	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}

		addCondition("state = ANY(string_to_array($%d, ','))", strings.Join(states, ","))
	}

	if filter.EndedBefore != nil {
		addCondition("end_date < $%d", *filter.EndedBefore)
	}

	query := "SELECT data FROM executions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY updated_at"

	return r.queryExecutions(ctx, query, args...)
}

// ByTriggerExecutionID returns executions whose trigger lineage points to the
// given upstream execution.
func (r *ExecutionRepository) ByTriggerExecutionID(ctx context.Context, tenantID, executionID string) ([]*models.Execution, error) {
	query := `
		SELECT data
		FROM executions
		WHERE tenant_id = $1 AND trigger_execution_id = $2
	`

	return r.queryExecutions(ctx, query, tenantID, executionID)
}

func (r *ExecutionRepository) queryExecutions(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		execution, err := unmarshalExecution(data)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func unmarshalExecution(data []byte) (*models.Execution, error) {
	execution := &models.Execution{}
	if err := json.Unmarshal(data, execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return execution, nil
}
