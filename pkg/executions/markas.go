package executions

import (
	"fmt"

	"github.com/tidehq/tideflow/pkg/graph"
	"github.com/tidehq/tideflow/pkg/models"
)

// MarkAs moves one task run and its ancestor chain to a new state. The target
// and every non-flowable ancestor get newState; flowable ancestors go back to
// RUNNING so graph evaluation picks the branch up again. Pause tasks are
// special-cased: resume inputs materialize as the task run's outputs, and a
// Pause with no sub-tasks completes immediately instead of re-running.
func MarkAs(execution models.Execution, flow models.Flow, taskRunID string, newState models.StateType, onResumeInputs map[string]any) (models.Execution, error) {
	if _, err := execution.FindTaskRun(taskRunID); err != nil {
		return execution, err
	}

	tree, err := graph.NewTaskRunTree(execution)
	if err != nil {
		return execution, err
	}

	markSet := tree.RestartSet(func(tr models.TaskRun) bool {
		return tr.ID == taskRunID
	})

	taskRuns := make([]models.TaskRun, len(execution.TaskRuns))
	copy(taskRuns, execution.TaskRuns)

	for i, tr := range taskRuns {
		if !markSet[tr.ID] {
			continue
		}

		task, found := flow.FindTask(tr.TaskID)

		leafOfInterest := tr.ID == taskRunID || (found && !task.IsFlowable()) || !found
		if !leafOfInterest {
			taskRuns[i] = tr.ForceState(models.StateRunning)

			continue
		}

		if found && task.Type == models.TaskTypePause {
			taskRuns[i] = markPauseTaskRun(tr, task, taskRunID, newState, onResumeInputs)

			continue
		}

		taskRuns[i] = tr.ForceState(newState)
	}

	execution.TaskRuns = taskRuns

	// A parallel branch may still be paused; the execution then keeps its
	// current state instead of flipping to RESTARTED.
	if execution.HasTaskRunInState(models.StatePaused) {
		return execution, nil
	}

	return execution.ForceState(models.StateRestarted), nil
}

func markPauseTaskRun(tr models.TaskRun, task models.Task, targetID string, newState models.StateType, onResumeInputs map[string]any) models.TaskRun {
	if tr.ID == targetID && len(onResumeInputs) > 0 {
		tr = tr.WithOutputs(onResumeInputs)
	}

	// A Pause without sub-tasks has nothing left to run once released.
	if len(task.Tasks) == 0 {
		switch newState {
		case models.StateRunning:
			return tr.ForceState(models.StateSuccess)
		case models.StateKilling:
			return tr.ForceState(models.StateKilled)
		default:
			return tr.ForceState(newState)
		}
	}

	return tr.ForceState(newState)
}

// Resume releases a paused execution. A task-level pause delegates to MarkAs
// on the first paused task run; an execution-level pause simply replaces the
// execution's own state, failing when the execution was not PAUSED.
func Resume(execution models.Execution, flow models.Flow, newState models.StateType, inputs map[string]any) (models.Execution, error) {
	if paused, ok := execution.FindFirstByState(models.StatePaused); ok {
		return MarkAs(execution, flow, paused.ID, newState, inputs)
	}

	if !execution.State.IsPaused() {
		return execution, fmt.Errorf("%w: cannot resume execution %s in state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	return execution.ForceState(newState), nil
}

// RetryTask resets the named task run back to CREATED and puts the execution
// in RUNNING so graph evaluation schedules it again.
func RetryTask(execution models.Execution, taskRunID string) (models.Execution, error) {
	tr, err := execution.FindTaskRun(taskRunID)
	if err != nil {
		return execution, err
	}

	tr.State = tr.State.Reset()

	execution, err = execution.WithTaskRun(tr)
	if err != nil {
		return execution, err
	}

	return execution.ForceState(models.StateRunning), nil
}

// RetryWaitFor re-arms a flowable task run that loops waiting on a condition:
// attempts are cleared, the iteration counter increments and the task run's
// subtree is deleted so history does not grow without bound.
func RetryWaitFor(execution models.Execution, taskRunID string) (models.Execution, error) {
	tr, err := execution.FindTaskRun(taskRunID)
	if err != nil {
		return execution, err
	}

	tree, err := graph.NewTaskRunTree(execution)
	if err != nil {
		return execution, err
	}

	drop := make(map[string]bool)
	for _, id := range tree.Descendants(taskRunID) {
		drop[id] = true
	}

	taskRuns := make([]models.TaskRun, 0, len(execution.TaskRuns))

	for _, existing := range execution.TaskRuns {
		if drop[existing.ID] {
			continue
		}

		if existing.ID == taskRunID {
			tr.Attempts = nil
			tr.Iteration++
			tr.State = tr.State.Reset()
			existing = tr
		}

		taskRuns = append(taskRuns, existing)
	}

	execution.TaskRuns = taskRuns

	return execution.ForceState(models.StateRunning), nil
}

// Pause moves a running execution to PAUSED.
func Pause(execution models.Execution) (models.Execution, error) {
	if !execution.State.IsRunning() {
		return execution, fmt.Errorf("%w: cannot pause execution %s in state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	return execution.WithState(models.StatePaused)
}

// PauseFlowable moves one flowable task run of a running execution to PAUSED.
func PauseFlowable(execution models.Execution, taskRunID string) (models.Execution, error) {
	if !execution.State.IsRunning() {
		return execution, fmt.Errorf("%w: cannot pause task run of execution %s in state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	tr, err := execution.FindTaskRun(taskRunID)
	if err != nil {
		return execution, err
	}

	tr, err = tr.WithState(models.StatePaused)
	if err != nil {
		return execution, err
	}

	return execution.WithTaskRun(tr)
}

// KillParentTaskRuns climbs the parent chain of a task run, force-setting
// every ancestor to KILLED.
func KillParentTaskRuns(execution models.Execution, taskRunID string) (models.Execution, error) {
	if _, err := execution.FindTaskRun(taskRunID); err != nil {
		return execution, err
	}

	tree, err := graph.NewTaskRunTree(execution)
	if err != nil {
		return execution, err
	}

	killed := make(map[string]bool)
	for _, ancestor := range tree.Ancestors(taskRunID) {
		killed[ancestor] = true
	}

	taskRuns := make([]models.TaskRun, len(execution.TaskRuns))
	copy(taskRuns, execution.TaskRuns)

	for i, tr := range taskRuns {
		if killed[tr.ID] {
			taskRuns[i] = tr.ForceState(models.StateKilled)
		}
	}

	execution.TaskRuns = taskRuns

	return execution, nil
}
