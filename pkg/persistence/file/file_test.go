package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

func testFlow(id string) models.Flow {
	return models.Flow{
		ID:        id,
		Namespace: "ops",
		TenantID:  "acme",
		Revision:  1,
		Tasks:     []models.Task{{ID: "main", Type: "shell.Command"}},
	}
}

func TestFlowRepository_RoundTrip(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.FlowRepository()

	flow := testFlow("report")
	require.NoError(t, repo.Save(context.Background(), &flow))

	loaded, err := repo.ByID(context.Background(), "acme", "ops", "report")
	require.NoError(t, err)
	assert.Equal(t, "report", loaded.ID)
	assert.Equal(t, 1, loaded.Revision)

	all, err := repo.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(context.Background(), "acme", "ops", "report"))

	_, err = repo.ByID(context.Background(), "acme", "ops", "report")
	assert.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestFlowRepository_SaveValidates(t *testing.T) {
	p := NewPersistence(t.TempDir())

	invalid := models.Flow{ID: "no-tasks", Namespace: "ops"}

	err := p.FlowRepository().Save(context.Background(), &invalid)
	require.Error(t, err)
}

func TestTriggerRepository_VersionCompareAndSwap(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.TriggerRepository()

	cursor := &models.TriggerContext{
		TenantID:  "acme",
		Namespace: "ops",
		FlowID:    "report",
		TriggerID: "daily",
		Date:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.Save(context.Background(), cursor, 0))
	assert.Equal(t, 1, cursor.Version)

	// A stale writer loses.
	stale := *cursor
	err := repo.Save(context.Background(), &stale, 0)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)

	// The current holder advances.
	require.NoError(t, repo.Save(context.Background(), cursor, 1))
	assert.Equal(t, 2, cursor.Version)

	loaded, err := repo.Find(context.Background(), "acme", "ops", "report", "daily")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)
}

func TestTriggerRepository_SaveMissingWithVersionConflicts(t *testing.T) {
	p := NewPersistence(t.TempDir())

	cursor := &models.TriggerContext{TenantID: "acme", Namespace: "ops", FlowID: "report", TriggerID: "daily"}

	err := p.TriggerRepository().Save(context.Background(), cursor, 3)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
}

func TestTriggerRepository_SaveDoesNotClobberUnreadableCursor(t *testing.T) {
	root := t.TempDir()
	p := NewPersistence(root)

	dir := filepath.Join(root, "triggers")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "acme_ops_report_daily.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cursor := &models.TriggerContext{TenantID: "acme", Namespace: "ops", FlowID: "report", TriggerID: "daily"}

	err := p.TriggerRepository().Save(context.Background(), cursor, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, persistence.ErrVersionConflict)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw), "the unreadable cursor survives untouched")
}

func TestTriggerRepository_FindMissing(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.TriggerRepository().Find(context.Background(), "acme", "ops", "report", "daily")
	assert.ErrorIs(t, err, persistence.ErrTriggerNotFound)
}

func TestExecutionRepository_FindFilters(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	running := models.NewExecution("acme", "ops", "report", 1, nil).ForceState(models.StateRunning)
	succeeded := models.NewExecution("acme", "ops", "report", 1, nil).ForceState(models.StateSuccess)
	failed := models.NewExecution("acme", "ops", "etl", 1, nil).ForceState(models.StateFailed)
	otherTenant := models.NewExecution("globex", "ops", "report", 1, nil).ForceState(models.StateSuccess)

	for _, execution := range []models.Execution{running, succeeded, failed, otherTenant} {
		require.NoError(t, repo.Save(context.Background(), &execution))
	}

	matches, err := repo.Find(context.Background(), persistence.ExecutionFilter{TenantID: "acme"})
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	matches, err = repo.Find(context.Background(), persistence.ExecutionFilter{
		TenantID: "acme",
		States:   []models.StateType{models.StateSuccess, models.StateFailed},
	})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = repo.Find(context.Background(), persistence.ExecutionFilter{TenantID: "acme", FlowID: "etl"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, failed.ID, matches[0].ID)

	// Only terminated executions have an end date; a future horizon matches
	// them all, a past one matches none.
	future := time.Now().UTC().Add(time.Hour)
	matches, err = repo.Find(context.Background(), persistence.ExecutionFilter{TenantID: "acme", EndedBefore: &future})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	past := time.Now().UTC().Add(-time.Hour)
	matches, err = repo.Find(context.Background(), persistence.ExecutionFilter{TenantID: "acme", EndedBefore: &past})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExecutionRepository_ByTriggerExecutionID(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	parent := models.NewExecution("acme", "ops", "pipeline", 1, nil).ForceState(models.StateRunning)

	child := models.NewExecution("acme", "ops", "child", 1, nil).ForceState(models.StateRunning)
	child.Trigger = &models.TriggerExecution{
		ID:        "subflow",
		Type:      models.TriggerTypeFlow,
		Variables: map[string]any{"executionId": parent.ID},
	}

	unrelated := models.NewExecution("acme", "ops", "other", 1, nil)

	for _, execution := range []models.Execution{parent, child, unrelated} {
		require.NoError(t, repo.Save(context.Background(), &execution))
	}

	children, err := repo.ByTriggerExecutionID(context.Background(), "acme", parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestWindowRepository_ExpiredListing(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WindowRepository()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	flow := testFlow("report")

	stale := models.NewMultipleConditionWindow(flow, "both", "chain-1", now.Add(-2*time.Hour), time.Hour)
	live := models.NewMultipleConditionWindow(flow, "both", "chain-2", now.Add(-30*time.Minute), time.Hour)

	otherFlow := testFlow("report")
	otherFlow.TenantID = "globex"
	foreign := models.NewMultipleConditionWindow(otherFlow, "both", "chain-3", now.Add(-2*time.Hour), time.Hour)

	for _, window := range []models.MultipleConditionWindow{stale, live, foreign} {
		require.NoError(t, repo.Save(context.Background(), &window))
	}

	expired, err := repo.Expired(context.Background(), "acme", now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "chain-1", expired[0].CorrelationKey)
}

func TestWindowRepository_DeleteMissing(t *testing.T) {
	p := NewPersistence(t.TempDir())

	window := models.NewMultipleConditionWindow(testFlow("report"), "both", "chain-1",
		time.Now().UTC(), time.Hour)

	err := p.WindowRepository().Delete(context.Background(), &window)
	assert.ErrorIs(t, err, persistence.ErrWindowNotFound)
}

func TestLogRepository_DeleteByExecutionID(t *testing.T) {
	root := t.TempDir()
	p := NewPersistence(root)

	logDir := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	for _, name := range []string{"acme_exec-1_main.log", "acme_exec-1_cleanup.log", "acme_exec-2_main.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(logDir, name), []byte("line\n"), 0o644))
	}

	deleted, err := p.LogRepository().DeleteByExecutionID(context.Background(), "acme", "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// Missing directory counts as nothing to delete.
	deleted, err = p.MetricRepository().DeleteByExecutionID(context.Background(), "acme", "exec-1")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
