package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Core task types with engine-level semantics.
const (
	TaskTypeSequential       = "core.Sequential"
	TaskTypeParallel         = "core.Parallel"
	TaskTypeSwitch           = "core.Switch"
	TaskTypeEachSequential   = "core.EachSequential"
	TaskTypePause            = "core.Pause"
	TaskTypeWorkingDirectory = "core.WorkingDirectory"
	TaskTypeSubflow          = "core.Subflow"
)

var flowableTypes = map[string]bool{
	TaskTypeSequential:       true,
	TaskTypeParallel:         true,
	TaskTypeSwitch:           true,
	TaskTypeEachSequential:   true,
	TaskTypePause:            true,
	TaskTypeWorkingDirectory: true,
}

// Task is one task definition inside a flow. Flowable tasks coordinate child
// tasks; their task runs re-run children on restart instead of being marked
// RESTARTED themselves.
type Task struct {
	ID     string         `json:"id"    validate:"required"`
	Type   string         `json:"type"  validate:"required"`
	Retry  *Retry         `json:"retry,omitempty"`
	Tasks  []Task         `json:"tasks,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// IsFlowable reports whether the task coordinates child tasks.
func (t Task) IsFlowable() bool {
	return flowableTypes[t.Type] || len(t.Tasks) > 0
}

// ConcurrencyBehavior controls what happens to executions above the limit.
type ConcurrencyBehavior string

const (
	ConcurrencyQueue  ConcurrencyBehavior = "QUEUE"
	ConcurrencyCancel ConcurrencyBehavior = "CANCEL"
	ConcurrencyFail   ConcurrencyBehavior = "FAIL"
)

// Concurrency limits how many executions of a flow may run at once.
type Concurrency struct {
	Limit    int                 `json:"limit"    validate:"required,min=1"`
	Behavior ConcurrencyBehavior `json:"behavior" validate:"required,oneof=QUEUE CANCEL FAIL"`
}

// Flow is a declarative flow definition: tasks, triggers, error and finally
// handlers.
type Flow struct {
	ID           string              `json:"id"        validate:"required,min=1"`
	Namespace    string              `json:"namespace" validate:"required"`
	TenantID     string              `json:"tenant_id,omitempty"`
	Revision     int                 `json:"revision"`
	Disabled     bool                `json:"disabled"`
	Tasks        []Task              `json:"tasks"     validate:"required,min=1,dive"`
	ErrorTasks   []Task              `json:"errors,omitempty"`
	FinallyTasks []Task              `json:"finally,omitempty"`
	Triggers     []TriggerDefinition `json:"triggers,omitempty"`
	Concurrency  *Concurrency        `json:"concurrency,omitempty"`
	Labels       []Label             `json:"labels,omitempty"`
	Inputs       map[string]any      `json:"inputs,omitempty"`
}

func flowUID(tenantID, namespace, id string) string {
	return fmt.Sprintf("%s_%s_%s", tenantID, namespace, id)
}

// UID identifies the flow across tenants and namespaces.
func (f Flow) UID() string {
	return flowUID(f.TenantID, f.Namespace, f.ID)
}

// FindTask looks up a task by id anywhere in the task tree, including error
// and finally handlers.
func (f Flow) FindTask(taskID string) (Task, bool) {
	for _, root := range [][]Task{f.Tasks, f.ErrorTasks, f.FinallyTasks} {
		if task, ok := findTask(root, taskID); ok {
			return task, true
		}
	}

	return Task{}, false
}

func findTask(tasks []Task, taskID string) (Task, bool) {
	for _, task := range tasks {
		if task.ID == taskID {
			return task, true
		}

		if child, ok := findTask(task.Tasks, taskID); ok {
			return child, true
		}
	}

	return Task{}, false
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the flow definition, including every trigger.
func (f Flow) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid flow %s: %w", f.ID, err)
	}

	for _, trigger := range f.Triggers {
		if err := trigger.Validate(); err != nil {
			return fmt.Errorf("invalid trigger %s on flow %s: %w", trigger.ID, f.ID, err)
		}
	}

	return nil
}
