package postgresql

import (
	"context"
	"database/sql"
	"fmt"
)

// LogRepository handles execution log rows. The engine core only deletes by
// execution; workers append.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	return deleteByExecution(ctx, r.db, "logs", tenantID, executionID)
}

// MetricRepository handles execution metric rows.
type MetricRepository struct {
	db *sql.DB
}

// NewMetricRepository creates a new metric repository.
func NewMetricRepository(db *sql.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	return deleteByExecution(ctx, r.db, "metrics", tenantID, executionID)
}

func deleteByExecution(ctx context.Context, db *sql.DB, table, tenantID, executionID string) (int, error) {
	result, err := db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND execution_id = $2", table),
		tenantID, executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}
