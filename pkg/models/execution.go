package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionMetadata carries bookkeeping that survives restarts.
type ExecutionMetadata struct {
	// AttemptNumber counts restarts/replays of this execution lineage.
	AttemptNumber int `json:"attempt_number"`
	// OriginalCreatedDate is the creation date of the first attempt; retry
	// max-duration windows are anchored on it.
	OriginalCreatedDate time.Time `json:"original_created_date"`
	// OriginalID links a replayed execution back to the execution it was
	// replayed from. Empty for first-generation executions.
	OriginalID string `json:"original_id,omitempty"`
}

// TriggerExecution records which trigger created an execution. Variables
// carry trigger-specific context; for flow triggers the upstream execution id
// is stored under "executionId" and forms the kill-cascade lineage.
type TriggerExecution struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Variables map[string]any `json:"variables,omitempty"`
}

// ExecutionID returns the upstream execution id for flow-triggered
// executions.
func (t *TriggerExecution) ExecutionID() string {
	if t == nil {
		return ""
	}

	id, _ := t.Variables["executionId"].(string)

	return id
}

// Execution is one run instance of a flow. All mutations are copy-on-write:
// methods return a new value and never alias the task run slice of the
// receiver.
type Execution struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Namespace    string            `json:"namespace"`
	FlowID       string            `json:"flow_id"`
	FlowRevision int               `json:"flow_revision"`
	TaskRuns     []TaskRun         `json:"task_runs,omitempty"`
	Inputs       map[string]any    `json:"inputs,omitempty"`
	Outputs      map[string]any    `json:"outputs,omitempty"`
	Labels       []Label           `json:"labels,omitempty"`
	State        State             `json:"state"`
	Trigger      *TriggerExecution `json:"trigger,omitempty"`
	Metadata     ExecutionMetadata `json:"metadata"`
}

// NewExecution creates an execution in CREATED state.
func NewExecution(tenantID, namespace, flowID string, flowRevision int, inputs map[string]any) Execution {
	now := time.Now().UTC()

	return Execution{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Namespace:    namespace,
		FlowID:       flowID,
		FlowRevision: flowRevision,
		Inputs:       inputs,
		State:        NewState(StateCreated),
		Metadata: ExecutionMetadata{
			AttemptNumber:       1,
			OriginalCreatedDate: now,
		},
	}
}

// FindTaskRun returns the task run with the given id.
func (e Execution) FindTaskRun(taskRunID string) (TaskRun, error) {
	for _, tr := range e.TaskRuns {
		if tr.ID == taskRunID {
			return tr, nil
		}
	}

	return TaskRun{}, fmt.Errorf("%w: %s in execution %s", ErrTaskRunNotFound, taskRunID, e.ID)
}

// FindFirstByState returns the first task run (in creation order) currently
// in the given state.
func (e Execution) FindFirstByState(state StateType) (TaskRun, bool) {
	for _, tr := range e.TaskRuns {
		if tr.State.Current == state {
			return tr, true
		}
	}

	return TaskRun{}, false
}

// HasTaskRunInState reports whether any task run is currently in the state.
func (e Execution) HasTaskRunInState(state StateType) bool {
	_, ok := e.FindFirstByState(state)

	return ok
}

// WithTaskRun returns a copy with the task run appended, or replaced when a
// task run with the same id already exists. A non-empty parent pointer must
// reference a task run of this execution.
func (e Execution) WithTaskRun(taskRun TaskRun) (Execution, error) {
	if taskRun.ParentTaskRunID != "" {
		if _, err := e.FindTaskRun(taskRun.ParentTaskRunID); err != nil {
			return e, fmt.Errorf("%w: task run %s references parent %s", ErrOrphanTaskRun, taskRun.ID, taskRun.ParentTaskRunID)
		}
	}

	taskRuns := make([]TaskRun, len(e.TaskRuns))
	copy(taskRuns, e.TaskRuns)

	replaced := false

	for i, tr := range taskRuns {
		if tr.ID == taskRun.ID {
			taskRuns[i] = taskRun
			replaced = true

			break
		}
	}

	if !replaced {
		taskRuns = append(taskRuns, taskRun)
	}

	e.TaskRuns = taskRuns

	return e, nil
}

// WithState returns a copy with the transition appended.
func (e Execution) WithState(state StateType) (Execution, error) {
	newState, err := e.State.WithState(state)
	if err != nil {
		return e, err
	}

	e.State = newState

	return e, nil
}

// ForceState returns a copy with the transition appended, bypassing the
// terminal invariant.
func (e Execution) ForceState(state StateType) Execution {
	e.State = e.State.ForceState(state)

	return e
}

// WithLabel returns a copy with the label appended when no label with the
// same key exists yet.
func (e Execution) WithLabel(label Label) Execution {
	if HasLabel(e.Labels, label.Key) {
		return e
	}

	labels := make([]Label, len(e.Labels), len(e.Labels)+1)
	copy(labels, e.Labels)
	e.Labels = append(labels, label)

	return e
}

// CorrelationID returns the correlation label value, falling back to the
// execution id for first-generation executions.
func (e Execution) CorrelationID() string {
	if v, ok := LabelValue(e.Labels, LabelCorrelationID); ok {
		return v
	}

	return e.ID
}

// FlowUID identifies the flow this execution belongs to.
func (e Execution) FlowUID() string {
	return flowUID(e.TenantID, e.Namespace, e.FlowID)
}
