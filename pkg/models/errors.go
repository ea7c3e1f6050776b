package models

import "errors"

var (
	// ErrInvalidStateTransition is returned when a transition would violate
	// the state machine (e.g. leaving a terminal state in place).
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrTaskRunNotFound is returned when a task run id does not exist in an
	// execution.
	ErrTaskRunNotFound = errors.New("task run not found")

	// ErrOrphanTaskRun is returned when a task run references a parent that
	// is not part of the same execution.
	ErrOrphanTaskRun = errors.New("task run parent not found in execution")

	// ErrInvalidTrigger is returned when a trigger definition fails
	// validation.
	ErrInvalidTrigger = errors.New("invalid trigger configuration")
)
