package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

func TestFromDefinition_UnknownKind(t *testing.T) {
	_, err := FromDefinition(models.ConditionDefinition{Type: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition type")
}

func TestFromDefinitions_PreservesOrder(t *testing.T) {
	built, err := FromDefinitions([]models.ConditionDefinition{
		{Type: KindTimeWindow, Config: map[string]any{"after": "09:00"}},
		{Type: KindPublicHoliday, Config: map[string]any{"dates": []any{"2026-12-25"}}},
	})
	require.NoError(t, err)
	require.Len(t, built, 2)

	assert.IsType(t, &TimeWindowCondition{}, built[0])
	assert.IsType(t, &PublicHolidayCondition{}, built[1])
}

func TestExpressionCondition(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindExpression,
		Config: map[string]any{"expression": `state == "SUCCESS" && get(outputs, "report", "rows") > 0`},
	})
	require.NoError(t, err)

	execution := models.NewExecution("", "ops", "upstream", 1, nil)
	execution.Outputs = map[string]any{"report": map[string]any{"rows": 12.0}}
	execution = execution.ForceState(models.StateSuccess)

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{
		Flow:      models.Flow{ID: "downstream", Namespace: "ops"},
		Execution: &execution,
		Date:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, matched)

	failed := execution.ForceState(models.StateFailed)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{
		Flow:      models.Flow{ID: "downstream", Namespace: "ops"},
		Execution: &failed,
		Date:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestExpressionCondition_GetMissingKeyIsNil(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindExpression,
		Config: map[string]any{"expression": `get(outputs, "missing", "deep") == nothing`},
	})
	require.NoError(t, err)

	execution := models.NewExecution("", "ops", "upstream", 1, nil)
	execution.Outputs = map[string]any{}

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{
		Execution: &execution,
		Variables: map[string]any{"nothing": nil},
	})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestExpressionCondition_NonBooleanResult(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindExpression,
		Config: map[string]any{"expression": `1 + 1`},
	})
	require.NoError(t, err)

	_, err = condition.Test(context.Background(), protocol.ConditionContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected boolean")
}

func TestExpressionCondition_RequiresExpression(t *testing.T) {
	_, err := FromDefinition(models.ConditionDefinition{Type: KindExpression})
	require.Error(t, err)
}

func TestTimeWindowCondition_HalfOpenInterval(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindTimeWindow,
		Config: map[string]any{"after": "09:00", "before": "17:00"},
	})
	require.NoError(t, err)

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{8, 59, false},
		{9, 0, true},
		{12, 30, true},
		{16, 59, true},
		{17, 0, false},
	}

	for _, tc := range cases {
		date := time.Date(2026, 3, 10, tc.hour, tc.minute, 0, 0, time.UTC)

		matched, err := condition.Test(context.Background(), protocol.ConditionContext{Date: date})
		require.NoError(t, err)
		assert.Equal(t, tc.want, matched, "at %02d:%02d", tc.hour, tc.minute)
	}
}

func TestTimeWindowCondition_Timezone(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindTimeWindow,
		Config: map[string]any{"after": "09:00", "before": "17:00", "timezone": "America/Sao_Paulo"},
	})
	require.NoError(t, err)

	// 11:00 UTC is 08:00 in Sao Paulo (UTC-3), outside the window.
	matched, err := condition.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestTimeWindowCondition_RequiresABound(t *testing.T) {
	_, err := FromDefinition(models.ConditionDefinition{Type: KindTimeWindow})
	require.Error(t, err)
}

func TestWeekdayInMonthCondition(t *testing.T) {
	firstMonday, err := FromDefinition(models.ConditionDefinition{
		Type:   KindWeekdayInMonth,
		Config: map[string]any{"day_of_week": "monday", "day_in_month": "first"},
	})
	require.NoError(t, err)

	// 2026-03-02 is the first Monday of March 2026.
	matched, err := firstMonday.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = firstMonday.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched, "second Monday is not the first")

	matched, err = firstMonday.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched, "a Tuesday never matches")
}

func TestWeekdayInMonthCondition_Last(t *testing.T) {
	lastFriday, err := FromDefinition(models.ConditionDefinition{
		Type:   KindWeekdayInMonth,
		Config: map[string]any{"day_of_week": "FRIDAY", "day_in_month": "LAST"},
	})
	require.NoError(t, err)

	// 2026-03-27 is the last Friday of March 2026.
	matched, err := lastFriday.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 27, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = lastFriday.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestWeekdayInMonthCondition_InvalidConfig(t *testing.T) {
	_, err := FromDefinition(models.ConditionDefinition{
		Type:   KindWeekdayInMonth,
		Config: map[string]any{"day_of_week": "someday", "day_in_month": "first"},
	})
	require.Error(t, err)

	_, err = FromDefinition(models.ConditionDefinition{
		Type:   KindWeekdayInMonth,
		Config: map[string]any{"day_of_week": "monday", "day_in_month": "fifth"},
	})
	require.Error(t, err)
}

func TestPublicHolidayCondition(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindPublicHoliday,
		Config: map[string]any{"dates": []any{"2026-12-25", "2026-01-01"}},
	})
	require.NoError(t, err)

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 12, 25, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 12, 24, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestPublicHolidayCondition_Negate(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindPublicHoliday,
		Config: map[string]any{"dates": []any{"2026-12-25"}, "negate": true},
	})
	require.NoError(t, err)

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{
		Date: time.Date(2026, 12, 25, 6, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestPublicHolidayCondition_InvalidDate(t *testing.T) {
	_, err := FromDefinition(models.ConditionDefinition{
		Type:   KindPublicHoliday,
		Config: map[string]any{"dates": []any{"25/12/2026"}},
	})
	require.Error(t, err)
}

func TestExecutionStatusCondition(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindExecutionStatus,
		Config: map[string]any{"in": []any{"SUCCESS", "WARNING"}},
	})
	require.NoError(t, err)

	success := models.NewExecution("", "ops", "upstream", 1, nil).ForceState(models.StateSuccess)

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{Execution: &success})
	require.NoError(t, err)
	assert.True(t, matched)

	failed := models.NewExecution("", "ops", "upstream", 1, nil).ForceState(models.StateFailed)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{Execution: &failed})
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{})
	require.NoError(t, err)
	assert.False(t, matched, "no upstream execution never matches")
}

func TestExecutionStatusCondition_NotIn(t *testing.T) {
	condition, err := FromDefinition(models.ConditionDefinition{
		Type:   KindExecutionStatus,
		Config: map[string]any{"not_in": []any{"FAILED"}},
	})
	require.NoError(t, err)

	success := models.NewExecution("", "ops", "upstream", 1, nil).ForceState(models.StateSuccess)

	matched, err := condition.Test(context.Background(), protocol.ConditionContext{Execution: &success})
	require.NoError(t, err)
	assert.True(t, matched)

	failed := models.NewExecution("", "ops", "upstream", 1, nil).ForceState(models.StateFailed)

	matched, err = condition.Test(context.Background(), protocol.ConditionContext{Execution: &failed})
	require.NoError(t, err)
	assert.False(t, matched)
}
