package executions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidehq/tideflow/pkg/models"
)

func TestNextRetryDate_AttemptBudget(t *testing.T) {
	retry := models.Retry{Type: models.RetryTypeConstant, Interval: time.Minute, MaxAttempts: 2}
	execution := models.NewExecution("", "ops", "pipeline", 1, nil)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	taskRun := models.NewTaskRun("a", "")
	taskRun.Attempts = []models.TaskRunAttempt{{State: models.NewState(models.StateFailed)}}

	next := NextRetryDate(retry, taskRun, execution, base)
	require.NotNil(t, next)
	assert.Equal(t, base.Add(time.Minute), *next)

	taskRun.Attempts = append(taskRun.Attempts, models.TaskRunAttempt{State: models.NewState(models.StateFailed)})
	assert.Nil(t, NextRetryDate(retry, taskRun, execution, base), "budget of 2 attempts is spent")
}

func TestNextRetryDate_MaxDurationAnchoredOnOriginalCreation(t *testing.T) {
	retry := models.Retry{Type: models.RetryTypeConstant, Interval: time.Hour, MaxDuration: 90 * time.Minute}

	execution := models.NewExecution("", "ops", "pipeline", 1, nil)
	execution.Metadata.OriginalCreatedDate = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	taskRun := models.NewTaskRun("a", "")

	within := execution.Metadata.OriginalCreatedDate.Add(10 * time.Minute)
	require.NotNil(t, NextRetryDate(retry, taskRun, execution, within))

	// One hour from here lands past the 90-minute window even though the
	// attempt budget is unlimited.
	late := execution.Metadata.OriginalCreatedDate.Add(45 * time.Minute)
	assert.Nil(t, NextRetryDate(retry, taskRun, execution, late))
}

func TestNextRetryDate_UnlimitedAttempts(t *testing.T) {
	retry := models.Retry{Type: models.RetryTypeConstant, Interval: time.Second}
	execution := models.NewExecution("", "ops", "pipeline", 1, nil)
	base := time.Now().UTC()

	taskRun := models.NewTaskRun("a", "")
	for range 50 {
		taskRun.Attempts = append(taskRun.Attempts, models.TaskRunAttempt{State: models.NewState(models.StateFailed)})
	}

	assert.NotNil(t, NextRetryDate(retry, taskRun, execution, base))
}
