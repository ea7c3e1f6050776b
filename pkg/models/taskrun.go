package models

import "github.com/google/uuid"

// TaskRunAttempt is one attempt at running a task, with its own state log.
type TaskRunAttempt struct {
	State State `json:"state"`
}

// TaskRun is one run instance of one task within an execution. Task runs form
// a tree through ParentTaskRunID but are stored in a flat arena on the
// execution; parent/child resolution always goes through id lookup so that
// copy-on-write restart and replay can clone-and-patch without graph surgery.
type TaskRun struct {
	ID              string           `json:"id"`
	TaskID          string           `json:"task_id"`
	ParentTaskRunID string           `json:"parent_task_run_id,omitempty"`
	Value           string           `json:"value,omitempty"`
	Iteration       int              `json:"iteration,omitempty"`
	Dynamic         bool             `json:"dynamic,omitempty"`
	State           State            `json:"state"`
	Attempts        []TaskRunAttempt `json:"attempts,omitempty"`
	Outputs         map[string]any   `json:"outputs,omitempty"`
}

// NewTaskRun creates a task run in CREATED state with a fresh id.
func NewTaskRun(taskID, parentTaskRunID string) TaskRun {
	return TaskRun{
		ID:              uuid.New().String(),
		TaskID:          taskID,
		ParentTaskRunID: parentTaskRunID,
		State:           NewState(StateCreated),
	}
}

// WithState returns a copy with the transition appended.
func (t TaskRun) WithState(state StateType) (TaskRun, error) {
	newState, err := t.State.WithState(state)
	if err != nil {
		return t, err
	}

	t.State = newState

	return t, nil
}

// ForceState returns a copy with the transition appended, bypassing the
// terminal invariant. Restart, replay and kill rely on this.
func (t TaskRun) ForceState(state StateType) TaskRun {
	t.State = t.State.ForceState(state)

	return t
}

// AttemptCount returns the number of recorded attempts.
func (t TaskRun) AttemptCount() int {
	return len(t.Attempts)
}

// LastAttempt returns the most recent attempt, if any.
func (t TaskRun) LastAttempt() (TaskRunAttempt, bool) {
	if len(t.Attempts) == 0 {
		return TaskRunAttempt{}, false
	}

	return t.Attempts[len(t.Attempts)-1], true
}

// WithOutputs returns a copy with the given entries merged into Outputs.
func (t TaskRun) WithOutputs(outputs map[string]any) TaskRun {
	merged := make(map[string]any, len(t.Outputs)+len(outputs))
	for k, v := range t.Outputs {
		merged[k] = v
	}

	for k, v := range outputs {
		merged[k] = v
	}

	t.Outputs = merged

	return t
}
