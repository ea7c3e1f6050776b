package executions

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tidehq/tideflow/pkg/graph"
	"github.com/tidehq/tideflow/pkg/models"
)

// Restart builds a restarted copy of a terminated or paused execution. Task
// runs whose state is FAILED or PAUSED, plus all their ancestors, form the
// restart set: flowable members go back to RUNNING so they re-run their
// children, non-flowable members become RESTARTED, everything else is carried
// over unchanged with its original id. An optional revision pins the restart
// to a different flow revision.
func Restart(execution models.Execution, flow models.Flow, revision *int) (models.Execution, error) {
	if !execution.State.IsTerminated() && !execution.State.IsPaused() {
		return execution, fmt.Errorf("%w: cannot restart execution %s in state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	tree, err := graph.NewTaskRunTree(execution)
	if err != nil {
		return execution, err
	}

	restartSet := tree.RestartSet(func(tr models.TaskRun) bool {
		return tr.State.IsFailed() || tr.State.IsPaused()
	})

	execution.TaskRuns = rebuildTaskRuns(execution, flow, tree, restartSet, nil, nil)
	execution = execution.WithLabel(models.Label{Key: models.LabelRestarted, Value: "true"})
	execution.Metadata.AttemptNumber++

	if revision != nil {
		execution.FlowRevision = *revision
	}

	return execution.ForceState(models.StateRestarted), nil
}

// Replay builds a new execution that re-runs one task run and everything
// below it. Unlike Restart the result is a distinct entity: it gets a fresh
// execution id and fresh task run ids, except the replayed node which keeps
// its identity. Descendants of the replay target are removed so the subtree
// re-executes from scratch.
func Replay(execution models.Execution, flow models.Flow, taskRunID string, revision *int) (models.Execution, error) {
	if !execution.State.IsTerminated() && !execution.State.IsPaused() {
		return execution, fmt.Errorf("%w: cannot replay execution %s in state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	if _, err := execution.FindTaskRun(taskRunID); err != nil {
		return execution, err
	}

	tree, err := graph.NewTaskRunTree(execution)
	if err != nil {
		return execution, err
	}

	restartSet := tree.RestartSet(func(tr models.TaskRun) bool {
		return tr.ID == taskRunID
	})

	drop := make(map[string]bool)
	for _, id := range tree.Descendants(taskRunID) {
		if !restartSet[id] {
			drop[id] = true
		}
	}

	idMap := make(map[string]string, len(execution.TaskRuns))

	for _, tr := range execution.TaskRuns {
		if tr.ID == taskRunID {
			idMap[tr.ID] = tr.ID
		} else {
			idMap[tr.ID] = uuid.New().String()
		}
	}

	originalID := execution.ID
	execution.TaskRuns = rebuildTaskRuns(execution, flow, tree, restartSet, drop, idMap)
	execution.ID = uuid.New().String()
	execution = execution.WithLabel(models.Label{Key: models.LabelReplay, Value: "true"})
	execution.Metadata.AttemptNumber++
	execution.Metadata.OriginalID = originalID

	if revision != nil {
		execution.FlowRevision = *revision
	}

	return execution.ForceState(models.StateRestarted), nil
}

// rebuildTaskRuns copies the task run arena applying restart semantics:
// error/finally handler runs are stripped, WorkingDirectory subtree members
// touched by the restart are removed so the subtree re-executes atomically,
// restart-set members change state and everything else is carried over.
// A non-nil idMap remaps ids and parent pointers (replay); drop lists ids to
// omit.
func rebuildTaskRuns(execution models.Execution, flow models.Flow, tree *graph.TaskRunTree, restartSet, drop map[string]bool, idMap map[string]string) []models.TaskRun {
	taskRuns := make([]models.TaskRun, 0, len(execution.TaskRuns))

	for _, tr := range execution.TaskRuns {
		if drop[tr.ID] {
			continue
		}

		task, found := flow.FindTask(tr.TaskID)

		if found && graph.IsErrorOrFinallyTask(flow, tr.TaskID) {
			continue
		}

		insideWorkingDirectory := found &&
			graph.InWorkingDirectory(flow, tr.TaskID) &&
			task.Type != models.TaskTypeWorkingDirectory
		if insideWorkingDirectory && touchedByRestart(tree, restartSet, tr.ID) {
			continue
		}

		if restartSet[tr.ID] {
			if found && task.IsFlowable() {
				tr = tr.ForceState(models.StateRunning)
			} else {
				tr = tr.ForceState(models.StateRestarted)
			}
		}

		if idMap != nil {
			tr.ID = idMap[tr.ID]
			if tr.ParentTaskRunID != "" {
				tr.ParentTaskRunID = idMap[tr.ParentTaskRunID]
			}
		}

		taskRuns = append(taskRuns, tr)
	}

	return taskRuns
}

func touchedByRestart(tree *graph.TaskRunTree, restartSet map[string]bool, taskRunID string) bool {
	if restartSet[taskRunID] {
		return true
	}

	for _, ancestor := range tree.Ancestors(taskRunID) {
		if restartSet[ancestor] {
			return true
		}
	}

	return false
}
