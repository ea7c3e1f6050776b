package executions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidehq/tideflow/pkg/models"
)

func pauseFlow() models.Flow {
	return models.Flow{
		ID:        "approval",
		Namespace: "ops",
		Tasks: []models.Task{
			{
				ID:   "root",
				Type: models.TaskTypeSequential,
				Tasks: []models.Task{
					{ID: "wait", Type: models.TaskTypePause},
					{ID: "deploy", Type: "shell.Command"},
				},
			},
		},
	}
}

// pausedExecution builds root(RUNNING) -> wait(PAUSED), the execution PAUSED.
func pausedExecution(t *testing.T) models.Execution {
	t.Helper()

	execution := models.NewExecution("", "ops", "approval", 1, nil)

	root := models.NewTaskRun("root", "")
	root.ID = "root"
	root = root.ForceState(models.StateRunning)

	wait := models.NewTaskRun("wait", "root")
	wait.ID = "wait"
	wait = wait.ForceState(models.StatePaused)

	var err error

	execution, err = execution.WithTaskRun(root)
	require.NoError(t, err)

	execution, err = execution.WithTaskRun(wait)
	require.NoError(t, err)

	return execution.ForceState(models.StateRunning).ForceState(models.StatePaused)
}

func TestMarkAs_PauseWithoutSubTasksCompletesOnResume(t *testing.T) {
	execution := pausedExecution(t)

	resumed, err := MarkAs(execution, pauseFlow(), "wait", models.StateRunning, nil)
	require.NoError(t, err)

	// Releasing a leaf Pause means it is done, not re-running.
	assert.Equal(t, models.StateSuccess, taskRunByID(t, resumed, "wait").State.Current)
	assert.Equal(t, models.StateRunning, taskRunByID(t, resumed, "root").State.Current)
	assert.Equal(t, models.StateRestarted, resumed.State.Current)
}

func TestMarkAs_PauseKilledOnKillingResume(t *testing.T) {
	execution := pausedExecution(t)

	killed, err := MarkAs(execution, pauseFlow(), "wait", models.StateKilling, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StateKilled, taskRunByID(t, killed, "wait").State.Current)
}

func TestMarkAs_ResumeInputsBecomeOutputs(t *testing.T) {
	execution := pausedExecution(t)

	resumed, err := MarkAs(execution, pauseFlow(), "wait", models.StateRunning,
		map[string]any{"approved": true, "approver": "alex"})
	require.NoError(t, err)

	outputs := taskRunByID(t, resumed, "wait").Outputs
	assert.Equal(t, true, outputs["approved"])
	assert.Equal(t, "alex", outputs["approver"])
}

func TestMarkAs_KeepsExecutionStateWhileAnotherBranchPaused(t *testing.T) {
	flow := models.Flow{
		ID:        "approval",
		Namespace: "ops",
		Tasks: []models.Task{
			{
				ID:   "root",
				Type: models.TaskTypeParallel,
				Tasks: []models.Task{
					{ID: "wait-a", Type: models.TaskTypePause},
					{ID: "wait-b", Type: models.TaskTypePause},
				},
			},
		},
	}

	execution := models.NewExecution("", "ops", "approval", 1, nil)

	root := models.NewTaskRun("root", "")
	root.ID = "root"
	root = root.ForceState(models.StateRunning)

	var err error

	execution, err = execution.WithTaskRun(root)
	require.NoError(t, err)

	for _, id := range []string{"wait-a", "wait-b"} {
		tr := models.NewTaskRun(id, "root")
		tr.ID = id
		tr = tr.ForceState(models.StatePaused)

		execution, err = execution.WithTaskRun(tr)
		require.NoError(t, err)
	}

	execution = execution.ForceState(models.StatePaused)

	resumed, err := MarkAs(execution, flow, "wait-a", models.StateRunning, nil)
	require.NoError(t, err)

	// wait-b is still paused, so the execution stays PAUSED.
	assert.Equal(t, models.StatePaused, resumed.State.Current)
	assert.Equal(t, models.StateSuccess, taskRunByID(t, resumed, "wait-a").State.Current)
	assert.Equal(t, models.StatePaused, taskRunByID(t, resumed, "wait-b").State.Current)
}

func TestMarkAs_UnknownTaskRun(t *testing.T) {
	execution := pausedExecution(t)

	_, err := MarkAs(execution, pauseFlow(), "ghost", models.StateRunning, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTaskRunNotFound)
}

func TestResume_DelegatesToFirstPausedTaskRun(t *testing.T) {
	execution := pausedExecution(t)

	resumed, err := Resume(execution, pauseFlow(), models.StateRunning, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StateSuccess, taskRunByID(t, resumed, "wait").State.Current)
	assert.Equal(t, models.StateRestarted, resumed.State.Current)
}

func TestResume_ExecutionLevelPause(t *testing.T) {
	execution := models.NewExecution("", "ops", "approval", 1, nil).
		ForceState(models.StateRunning).
		ForceState(models.StatePaused)

	resumed, err := Resume(execution, pauseFlow(), models.StateRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, resumed.State.Current)
}

func TestResume_RejectsNonPausedExecution(t *testing.T) {
	execution := models.NewExecution("", "ops", "approval", 1, nil).ForceState(models.StateRunning)

	_, err := Resume(execution, pauseFlow(), models.StateRunning, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestRetryTask_ResetsStateAndRuns(t *testing.T) {
	execution := failedExecution(t)

	retried, err := RetryTask(execution, "a")
	require.NoError(t, err)

	assert.Equal(t, models.StateCreated, taskRunByID(t, retried, "a").State.Current)
	assert.Equal(t, models.StateRunning, retried.State.Current)
}

func TestRetryWaitFor_DropsSubtreeAndIncrementsIteration(t *testing.T) {
	execution := models.NewExecution("", "ops", "pipeline", 1, nil)

	loop := models.NewTaskRun("loop", "")
	loop.ID = "loop"
	loop.Attempts = []models.TaskRunAttempt{{State: models.NewState(models.StateFailed)}}
	loop = loop.ForceState(models.StateRunning)

	var err error

	execution, err = execution.WithTaskRun(loop)
	require.NoError(t, err)

	child := models.NewTaskRun("check", "loop")
	child.ID = "check"

	execution, err = execution.WithTaskRun(child)
	require.NoError(t, err)

	retried, err := RetryWaitFor(execution, "loop")
	require.NoError(t, err)

	rearmed := taskRunByID(t, retried, "loop")
	assert.Equal(t, 1, rearmed.Iteration)
	assert.Empty(t, rearmed.Attempts)
	assert.Equal(t, models.StateCreated, rearmed.State.Current)

	_, err = retried.FindTaskRun("check")
	assert.ErrorIs(t, err, models.ErrTaskRunNotFound)
}

func TestPause_RequiresRunningExecution(t *testing.T) {
	running := models.NewExecution("", "ops", "pipeline", 1, nil).ForceState(models.StateRunning)

	paused, err := Pause(running)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaused, paused.State.Current)

	_, err = Pause(paused)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestKillParentTaskRuns(t *testing.T) {
	execution := failedExecution(t)

	killed, err := KillParentTaskRuns(execution, "a")
	require.NoError(t, err)

	assert.Equal(t, models.StateKilled, taskRunByID(t, killed, "root").State.Current)
	// The task run itself is not touched, only its ancestors.
	assert.Equal(t, models.StateFailed, taskRunByID(t, killed, "a").State.Current)
	assert.Equal(t, models.StateSuccess, taskRunByID(t, killed, "b").State.Current)
}
