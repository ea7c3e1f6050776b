//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"metrics", "logs", "multiple_condition_windows", "triggers", "executions", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("tideflow_test"),
			postgres.WithUsername("tideflow"),
			postgres.WithPassword("tideflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestIntegration_FlowRoundTrip(t *testing.T) {
	p, ctx := setupTestDB(t)

	flow := &models.Flow{
		ID:        "daily-report",
		Namespace: "analytics",
		Revision:  1,
		Tasks: []models.Task{
			{ID: "extract", Type: "io.tideflow.plugin.http.Request"},
		},
	}

	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	loaded, err := p.FlowRepository().ByID(ctx, "", "analytics", "daily-report")
	require.NoError(t, err)
	assert.Equal(t, flow.ID, loaded.ID)
	assert.Equal(t, flow.Revision, loaded.Revision)

	flow.Revision = 2
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	loaded, err = p.FlowRepository().ByID(ctx, "", "analytics", "daily-report")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Revision)

	all, err := p.FlowRepository().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, p.FlowRepository().Delete(ctx, "", "analytics", "daily-report"))

	_, err = p.FlowRepository().ByID(ctx, "", "analytics", "daily-report")
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestIntegration_ExecutionFindAndLineage(t *testing.T) {
	p, ctx := setupTestDB(t)

	parent := models.NewExecution("", "ops", "parent", 1, nil)
	require.NoError(t, p.ExecutionRepository().Save(ctx, &parent))

	child := models.NewExecution("", "ops", "child", 1, nil)
	child.Trigger = &models.TriggerExecution{
		ID:        "from-parent",
		Type:      models.TriggerTypeFlow,
		Variables: map[string]any{"executionId": parent.ID},
	}
	require.NoError(t, p.ExecutionRepository().Save(ctx, &child))

	children, err := p.ExecutionRepository().ByTriggerExecutionID(ctx, "", parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	created, err := p.ExecutionRepository().Find(ctx, persistence.ExecutionFilter{
		Namespace: "ops",
		States:    []models.StateType{models.StateCreated},
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	onlyParent, err := p.ExecutionRepository().Find(ctx, persistence.ExecutionFilter{FlowID: "parent"})
	require.NoError(t, err)
	require.Len(t, onlyParent, 1)
	assert.Equal(t, parent.ID, onlyParent[0].ID)
}

func TestIntegration_TriggerCursorVersionConflict(t *testing.T) {
	p, ctx := setupTestDB(t)

	cursor := &models.TriggerContext{
		Namespace: "ops",
		FlowID:    "daily-report",
		TriggerID: "schedule",
		Date:      time.Now().UTC(),
	}

	require.NoError(t, p.TriggerRepository().Save(ctx, cursor, 0))
	assert.Equal(t, 1, cursor.Version)

	// A second create must lose the race.
	stale := &models.TriggerContext{Namespace: "ops", FlowID: "daily-report", TriggerID: "schedule"}
	err := p.TriggerRepository().Save(ctx, stale, 0)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	require.NoError(t, p.TriggerRepository().Save(ctx, cursor, 1))
	assert.Equal(t, 2, cursor.Version)

	// Updating from the superseded version must conflict too.
	err = p.TriggerRepository().Save(ctx, cursor, 1)
	require.ErrorIs(t, err, persistence.ErrVersionConflict)

	loaded, err := p.TriggerRepository().Find(ctx, "", "ops", "daily-report", "schedule")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
}

func TestIntegration_WindowExpiry(t *testing.T) {
	p, ctx := setupTestDB(t)

	now := time.Now().UTC()
	flow := models.Flow{ID: "merge", Namespace: "ops"}

	fresh := models.NewMultipleConditionWindow(flow, "all-sources", uuid.New().String(), now, time.Hour)
	stale := models.NewMultipleConditionWindow(flow, "all-sources", uuid.New().String(), now.Add(-2*time.Hour), time.Hour)

	require.NoError(t, p.WindowRepository().Save(ctx, &fresh))
	require.NoError(t, p.WindowRepository().Save(ctx, &stale))

	expired, err := p.WindowRepository().Expired(ctx, "", now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, stale.CorrelationKey, expired[0].CorrelationKey)

	require.NoError(t, p.WindowRepository().Delete(ctx, expired[0]))

	_, err = p.WindowRepository().Find(ctx, "", "ops", "merge", "all-sources", stale.CorrelationKey)
	require.ErrorIs(t, err, persistence.ErrWindowNotFound)
}
