package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound indicates an execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrTriggerNotFound indicates no cursor exists for the trigger.
	ErrTriggerNotFound = errors.New("trigger context not found")

	// ErrWindowNotFound indicates no multiple-condition window exists for
	// the key.
	ErrWindowNotFound = errors.New("multiple condition window not found")

	// ErrVersionConflict indicates a concurrent update won the
	// compare-and-swap on a trigger cursor.
	ErrVersionConflict = errors.New("trigger context version conflict")
)
