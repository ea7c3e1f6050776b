// Package graph provides ancestor/descendant queries over the task run tree
// of an execution and task-structure queries over a flow definition. Restart,
// replay and kill use these to determine blast radius.
package graph

import (
	"fmt"

	"github.com/tidehq/tideflow/pkg/models"
)

// TaskRunTree indexes the flat task run arena of an execution by parent
// pointers. Construction fails on malformed parent references; that is a
// structural error fatal to the single operation.
type TaskRunTree struct {
	byID     map[string]models.TaskRun
	children map[string][]string
	order    []string
}

// NewTaskRunTree builds the tree index for an execution.
func NewTaskRunTree(execution models.Execution) (*TaskRunTree, error) {
	tree := &TaskRunTree{
		byID:     make(map[string]models.TaskRun, len(execution.TaskRuns)),
		children: make(map[string][]string),
		order:    make([]string, 0, len(execution.TaskRuns)),
	}

	for _, tr := range execution.TaskRuns {
		tree.byID[tr.ID] = tr
		tree.order = append(tree.order, tr.ID)
	}

	for _, tr := range execution.TaskRuns {
		if tr.ParentTaskRunID == "" {
			continue
		}

		if _, ok := tree.byID[tr.ParentTaskRunID]; !ok {
			return nil, fmt.Errorf("%w: task run %s references parent %s", models.ErrOrphanTaskRun, tr.ID, tr.ParentTaskRunID)
		}

		tree.children[tr.ParentTaskRunID] = append(tree.children[tr.ParentTaskRunID], tr.ID)
	}

	return tree, nil
}

// Ancestors returns the parent chain of a task run, nearest parent first.
func (t *TaskRunTree) Ancestors(taskRunID string) []string {
	var ancestors []string

	current, ok := t.byID[taskRunID]
	for ok && current.ParentTaskRunID != "" {
		ancestors = append(ancestors, current.ParentTaskRunID)
		current, ok = t.byID[current.ParentTaskRunID]
	}

	return ancestors
}

// Descendants returns every task run transitively below the given one, in
// arena insertion order.
func (t *TaskRunTree) Descendants(taskRunID string) []string {
	inSubtree := map[string]bool{taskRunID: true}

	// Arena insertion order guarantees parents precede children, so a single
	// forward pass closes the transitive set.
	var descendants []string

	for _, id := range t.order {
		tr := t.byID[id]
		if tr.ParentTaskRunID != "" && inSubtree[tr.ParentTaskRunID] {
			inSubtree[id] = true

			descendants = append(descendants, id)
		}
	}

	return descendants
}

// Children returns the direct children of a task run in insertion order.
func (t *TaskRunTree) Children(taskRunID string) []string {
	return t.children[taskRunID]
}

// RestartSet expands a seed predicate over the arena and closes it upward:
// every matching task run plus all of its ancestors.
func (t *TaskRunTree) RestartSet(seed func(models.TaskRun) bool) map[string]bool {
	set := make(map[string]bool)

	for _, id := range t.order {
		tr := t.byID[id]
		if !seed(tr) {
			continue
		}

		set[id] = true

		for _, ancestor := range t.Ancestors(id) {
			set[ancestor] = true
		}
	}

	return set
}

// InWorkingDirectory reports whether the task sits inside a WorkingDirectory
// subtree of the flow (including being the WorkingDirectory task itself).
func InWorkingDirectory(flow models.Flow, taskID string) bool {
	path, ok := taskPath(flow.Tasks, taskID)
	if !ok {
		return false
	}

	for _, task := range path {
		if task.Type == models.TaskTypeWorkingDirectory {
			return true
		}
	}

	return false
}

// IsErrorOrFinallyTask reports whether the task belongs to the flow-level
// error or finally handlers.
func IsErrorOrFinallyTask(flow models.Flow, taskID string) bool {
	if _, ok := taskPath(flow.ErrorTasks, taskID); ok {
		return true
	}

	_, ok := taskPath(flow.FinallyTasks, taskID)

	return ok
}

// taskPath returns the chain of tasks from a root down to the target,
// target included.
func taskPath(tasks []models.Task, taskID string) ([]models.Task, bool) {
	for _, task := range tasks {
		if task.ID == taskID {
			return []models.Task{task}, true
		}

		if below, ok := taskPath(task.Tasks, taskID); ok {
			return append([]models.Task{task}, below...), true
		}
	}

	return nil, false
}
