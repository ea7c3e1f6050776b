package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tidehq/tideflow/pkg/eventbus"
	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/log"
	"github.com/tidehq/tideflow/pkg/mocks"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence/file"
	"github.com/tidehq/tideflow/pkg/triggers/schedule"
)

func newTestScheduler(t *testing.T, now time.Time) (*Scheduler, *file.Persistence, *mocks.MockEventBus) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	bus := new(mocks.MockEventBus)

	bus.On("GenerateID").Return("evt-1").Maybe()
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	scheduler := NewScheduler(log.WithModule("test"), p, bus, time.Second, schedule.NewTrigger(log.WithModule("test")))
	scheduler.now = func() time.Time { return now }

	return scheduler, p, bus
}

func dailyFlow(definition models.TriggerDefinition) models.Flow {
	return models.Flow{
		ID:        "report",
		Namespace: "ops",
		TenantID:  "acme",
		Revision:  1,
		Tasks:     []models.Task{{ID: "main", Type: "shell.Command"}},
		Triggers:  []models.TriggerDefinition{definition},
	}
}

func dailyDefinition(recover models.RecoverMissedSchedules) models.TriggerDefinition {
	return models.TriggerDefinition{
		ID:      "daily",
		Type:    models.TriggerTypeSchedule,
		Config:  map[string]any{"cron": "0 9 * * *"},
		Recover: recover,
	}
}

func publishedEvents(bus *mocks.MockEventBus, eventType events.EventType) []eventbus.Event {
	var matched []eventbus.Event

	for _, call := range bus.Calls {
		if call.Method != "Publish" {
			continue
		}

		event, ok := call.Arguments.Get(3).(eventbus.Event)
		if ok && event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

func saveCursor(t *testing.T, p *file.Persistence, cursor *models.TriggerContext) {
	t.Helper()
	require.NoError(t, p.TriggerRepository().Save(context.Background(), cursor, 0))
}

func loadCursor(t *testing.T, p *file.Persistence) *models.TriggerContext {
	t.Helper()

	cursor, err := p.TriggerRepository().Find(context.Background(), "acme", "ops", "report", "daily")
	require.NoError(t, err)

	return cursor
}

func TestAdvance_InitializesCursorWithoutFiring(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	flow := dailyFlow(definition)

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

	cursor := loadCursor(t, p)
	require.NotNil(t, cursor.NextExecutionDate)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), *cursor.NextExecutionDate,
		"a fresh cursor owes nothing from the past")
	assert.Empty(t, publishedEvents(bus, events.ExecutionRequestedEvent))
}

func TestAdvance_SingleDueOccurrenceAlwaysFires(t *testing.T) {
	// A single due occurrence is the normal case, not a gap: every recovery
	// policy fires it.
	for _, policy := range []models.RecoverMissedSchedules{models.RecoverAll, models.RecoverLast, models.RecoverNone} {
		now := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
		scheduler, p, bus := newTestScheduler(t, now)

		definition := dailyDefinition(policy)
		flow := dailyFlow(definition)

		due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		saveCursor(t, p, &models.TriggerContext{
			TenantID:          "acme",
			Namespace:         "ops",
			FlowID:            "report",
			TriggerID:         "daily",
			Date:              due.AddDate(0, 0, -1),
			NextExecutionDate: &due,
		})

		trigger := scheduler.triggers[models.TriggerTypeSchedule]

		require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

		requested := publishedEvents(bus, events.ExecutionRequestedEvent)
		require.Len(t, requested, 1, "policy %s must fire the single due occurrence", policy)

		cursor := loadCursor(t, p)
		assert.Equal(t, due, cursor.Date)
		require.NotNil(t, cursor.NextExecutionDate)
		assert.Equal(t, due.AddDate(0, 0, 1), *cursor.NextExecutionDate)
	}
}

func TestAdvance_RecoveryPolicies(t *testing.T) {
	cases := []struct {
		policy models.RecoverMissedSchedules
		fired  int
	}{
		{models.RecoverAll, 3},
		{models.RecoverLast, 1},
		{models.RecoverNone, 0},
	}

	for _, tc := range cases {
		now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		scheduler, p, bus := newTestScheduler(t, now)

		definition := dailyDefinition(tc.policy)
		flow := dailyFlow(definition)

		// Three occurrences are owed: the 8th, 9th and 10th at 09:00.
		first := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
		saveCursor(t, p, &models.TriggerContext{
			TenantID:          "acme",
			Namespace:         "ops",
			FlowID:            "report",
			TriggerID:         "daily",
			Date:              first.AddDate(0, 0, -1),
			NextExecutionDate: &first,
		})

		trigger := scheduler.triggers[models.TriggerTypeSchedule]

		require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

		requested := publishedEvents(bus, events.ExecutionRequestedEvent)
		assert.Len(t, requested, tc.fired, "policy %s", tc.policy)

		// Regardless of emissions, every policy converges on the same cursor.
		cursor := loadCursor(t, p)
		assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC), cursor.Date)
		require.NotNil(t, cursor.NextExecutionDate)
		assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), *cursor.NextExecutionDate)
	}
}

func TestAdvance_RecoverLastFiresMostRecent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition(models.RecoverLast)
	flow := dailyFlow(definition)

	first := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	saveCursor(t, p, &models.TriggerContext{
		TenantID:          "acme",
		Namespace:         "ops",
		FlowID:            "report",
		TriggerID:         "daily",
		Date:              first.AddDate(0, 0, -1),
		NextExecutionDate: &first,
	})

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

	requested := publishedEvents(bus, events.ExecutionRequestedEvent)
	require.Len(t, requested, 1)

	execution := requested[0].(events.ExecutionRequested).Execution
	assert.Equal(t, "2026-03-10T09:00:00Z", execution.Trigger.Variables["date"])
}

func TestAdvance_DisabledCursorDoesNothing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	flow := dailyFlow(definition)

	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	saveCursor(t, p, &models.TriggerContext{
		TenantID:          "acme",
		Namespace:         "ops",
		FlowID:            "report",
		TriggerID:         "daily",
		Date:              due.AddDate(0, 0, -1),
		NextExecutionDate: &due,
		Disabled:          true,
	})

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))
	assert.Empty(t, publishedEvents(bus, events.ExecutionRequestedEvent))
}

func TestAdvance_BackfillReplaysRangeInOrder(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	flow := dailyFlow(definition)

	resume := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	saveCursor(t, p, &models.TriggerContext{
		TenantID:  "acme",
		Namespace: "ops",
		FlowID:    "report",
		TriggerID: "daily",
		Date:      now,
		Backfill: &models.Backfill{
			Start:                     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			End:                       time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
			PreviousNextExecutionDate: &resume,
			Labels:                    []models.Label{{Key: "reason", Value: "reprocess"}},
		},
	})

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

	requested := publishedEvents(bus, events.ExecutionRequestedEvent)
	require.Len(t, requested, 3, "one execution per occurrence in [start, end)")

	var previous time.Time

	for i, event := range requested {
		execution := event.(events.ExecutionRequested).Execution

		assert.Equal(t, true, execution.Trigger.Variables["backfill"])

		value, ok := models.LabelValue(execution.Labels, "reason")
		assert.True(t, ok)
		assert.Equal(t, "reprocess", value)

		date, err := time.Parse(time.RFC3339, execution.Trigger.Variables["date"].(string))
		require.NoError(t, err)

		if i > 0 {
			assert.True(t, date.After(previous), "backfill dates are strictly increasing")
		}

		previous = date
	}

	// Once complete the backfill clears and the pre-backfill schedule resumes.
	cursor := loadCursor(t, p)
	assert.Nil(t, cursor.Backfill)
	require.NotNil(t, cursor.NextExecutionDate)
	assert.Equal(t, resume, *cursor.NextExecutionDate)
}

func TestAdvance_ConditionFalseAdvancesCursorWithoutFiring(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	definition.Conditions = []models.ConditionDefinition{
		{Type: "public-holiday", Config: map[string]any{"dates": []any{"2026-12-25"}}},
	}
	flow := dailyFlow(definition)

	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	saveCursor(t, p, &models.TriggerContext{
		TenantID:          "acme",
		Namespace:         "ops",
		FlowID:            "report",
		TriggerID:         "daily",
		Date:              due.AddDate(0, 0, -1),
		NextExecutionDate: &due,
	})

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

	assert.Empty(t, publishedEvents(bus, events.ExecutionRequestedEvent))

	cursor := loadCursor(t, p)
	assert.Equal(t, due, cursor.Date, "the cursor advances even when conditions hold the trigger back")
}

func TestAdvance_ConditionErrorSurfacesAsFailedExecution(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	definition.Conditions = []models.ConditionDefinition{
		{Type: "expression", Config: map[string]any{"expression": "1 + 1"}},
	}
	flow := dailyFlow(definition)

	due := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	saveCursor(t, p, &models.TriggerContext{
		TenantID:          "acme",
		Namespace:         "ops",
		FlowID:            "report",
		TriggerID:         "daily",
		Date:              due.AddDate(0, 0, -1),
		NextExecutionDate: &due,
	})

	trigger := scheduler.triggers[models.TriggerTypeSchedule]

	require.NoError(t, scheduler.advance(context.Background(), flow, definition, trigger))

	requested := publishedEvents(bus, events.ExecutionRequestedEvent)
	require.Len(t, requested, 1)

	execution := requested[0].(events.ExecutionRequested).Execution
	assert.Equal(t, models.StateFailed, execution.State.Current)
	assert.True(t, models.HasLabel(execution.Labels, models.LabelError))
}

func TestInterruptOnFlowChange_CancelsInFlightEvaluations(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, _, _ := newTestScheduler(t, now)

	definition := dailyDefinition("")
	flow := dailyFlow(definition)

	// First sighting records the revision baseline.
	scheduler.interruptOnFlowChange(context.Background(), &flow)

	inflightCtx, cancel := context.WithCancel(context.Background())

	uid := cursorUID(&flow, definition)
	scheduler.inflightMu.Lock()
	scheduler.inflight[uid] = cancel
	scheduler.inflightMu.Unlock()

	scheduler.interruptOnFlowChange(context.Background(), &flow)
	assert.NoError(t, inflightCtx.Err(), "an unchanged revision leaves evaluations running")

	bumped := flow
	bumped.Revision = 2
	scheduler.interruptOnFlowChange(context.Background(), &bumped)

	assert.ErrorIs(t, inflightCtx.Err(), context.Canceled,
		"a revision bump interrupts the stale evaluation")

	scheduler.inflightMu.Lock()
	_, tracked := scheduler.inflight[uid]
	scheduler.inflightMu.Unlock()
	assert.False(t, tracked)
}

func TestHandleExecutionUpdate_StopAfterDisablesTrigger(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, bus := newTestScheduler(t, now)

	definition := dailyDefinition("")
	definition.StopAfter = []models.StateType{models.StateSuccess}
	flow := dailyFlow(definition)

	require.NoError(t, p.FlowRepository().Save(context.Background(), &flow))

	saveCursor(t, p, &models.TriggerContext{
		TenantID:  "acme",
		Namespace: "ops",
		FlowID:    "report",
		TriggerID: "daily",
		Date:      now,
	})

	execution := models.NewExecution("acme", "ops", "report", 1, nil).ForceState(models.StateSuccess)
	execution.Trigger = &models.TriggerExecution{ID: "daily", Type: models.TriggerTypeSchedule}

	require.NoError(t, scheduler.handleExecutionUpdate(context.Background(), execution))

	cursor := loadCursor(t, p)
	assert.True(t, cursor.Disabled)
	assert.Len(t, publishedEvents(bus, events.TriggerDisabledEvent), 1)
}

func TestHandleExecutionUpdate_IgnoresNonMatchingStates(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduler, p, _ := newTestScheduler(t, now)

	definition := dailyDefinition("")
	definition.StopAfter = []models.StateType{models.StateFailed}
	flow := dailyFlow(definition)

	require.NoError(t, p.FlowRepository().Save(context.Background(), &flow))

	saveCursor(t, p, &models.TriggerContext{
		TenantID:  "acme",
		Namespace: "ops",
		FlowID:    "report",
		TriggerID: "daily",
		Date:      now,
	})

	execution := models.NewExecution("acme", "ops", "report", 1, nil).ForceState(models.StateSuccess)
	execution.Trigger = &models.TriggerExecution{ID: "daily", Type: models.TriggerTypeSchedule}

	require.NoError(t, scheduler.handleExecutionUpdate(context.Background(), execution))

	cursor := loadCursor(t, p)
	assert.False(t, cursor.Disabled)
}
