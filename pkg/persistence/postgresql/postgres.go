// Package postgresql provides PostgreSQL persistence for flows, executions,
// trigger cursors and multiple-condition windows.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db         *sql.DB
	logger     *slog.Logger
	flows      *FlowRepository
	executions *ExecutionRepository
	triggers   *TriggerRepository
	windows    *WindowRepository
	logs       *LogRepository
	metrics    *MetricRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:         database,
		logger:     logger,
		flows:      NewFlowRepository(database, logger),
		executions: NewExecutionRepository(database, logger),
		triggers:   NewTriggerRepository(database, logger),
		windows:    NewWindowRepository(database, logger),
		logs:       NewLogRepository(database),
		metrics:    NewMetricRepository(database),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flows
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggers
}

func (p *Persistence) WindowRepository() persistence.WindowRepository {
	return p.windows
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return p.logs
}

func (p *Persistence) MetricRepository() persistence.MetricRepository {
	return p.metrics
}
