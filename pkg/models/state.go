// Package models defines the core domain models for flow orchestration:
// executions, task runs, triggers and their persisted cursors.
package models

import (
	"fmt"
	"time"
)

// StateType represents a single lifecycle state of an execution or task run.
type StateType string

const (
	StateCreated   StateType = "CREATED"
	StateRunning   StateType = "RUNNING"
	StatePaused    StateType = "PAUSED"
	StateRestarted StateType = "RESTARTED"
	StateQueued    StateType = "QUEUED"
	StateKilling   StateType = "KILLING"
	StateKilled    StateType = "KILLED"
	StateSuccess   StateType = "SUCCESS"
	StateWarning   StateType = "WARNING"
	StateFailed    StateType = "FAILED"
	StateCancelled StateType = "CANCELLED"
	StateRetrying  StateType = "RETRYING"
	StateRetried   StateType = "RETRIED"
)

// IsTerminated reports whether the state type is a terminal one.
func (t StateType) IsTerminated() bool {
	switch t {
	case StateSuccess, StateWarning, StateFailed, StateKilled, StateCancelled:
		return true
	default:
		return false
	}
}

// StateHistory is one entry of the ordered transition log.
type StateHistory struct {
	State StateType `json:"state"`
	Date  time.Time `json:"date"`
}

// State is an ordered log of transitions. The current state is the last
// entry. Values are immutable: every transition returns a new State with a
// freshly copied history slice.
type State struct {
	Current   StateType      `json:"current"`
	Histories []StateHistory `json:"histories"`
}

// NewState creates a State starting at the given type.
func NewState(t StateType) State {
	return State{
		Current:   t,
		Histories: []StateHistory{{State: t, Date: time.Now().UTC()}},
	}
}

// WithState appends a transition. Once a State is terminated no further
// transition is valid; callers that need to override (kill fallback, restart
// of a terminated execution) use ForceState.
func (s State) WithState(t StateType) (State, error) {
	if s.Current.IsTerminated() {
		return s, fmt.Errorf("%w: cannot transition from terminal state %s to %s", ErrInvalidStateTransition, s.Current, t)
	}

	return s.ForceState(t), nil
}

// ForceState appends a transition without checking the terminal invariant.
func (s State) ForceState(t StateType) State {
	histories := make([]StateHistory, len(s.Histories), len(s.Histories)+1)
	copy(histories, s.Histories)
	histories = append(histories, StateHistory{State: t, Date: time.Now().UTC()})

	return State{Current: t, Histories: histories}
}

// Reset returns a fresh State back at CREATED, dropping the history. Used
// when a task run is retried from scratch.
func (s State) Reset() State {
	return NewState(StateCreated)
}

func (s State) IsTerminated() bool { return s.Current.IsTerminated() }
func (s State) IsPaused() bool     { return s.Current == StatePaused }
func (s State) IsRunning() bool    { return s.Current == StateRunning }
func (s State) IsCreated() bool    { return s.Current == StateCreated }
func (s State) IsQueued() bool     { return s.Current == StateQueued }
func (s State) IsFailed() bool     { return s.Current == StateFailed }

// StartDate is the date of the first transition.
func (s State) StartDate() time.Time {
	if len(s.Histories) == 0 {
		return time.Time{}
	}

	return s.Histories[0].Date
}

// EndDate is the date of the last transition when the state is terminal.
func (s State) EndDate() (time.Time, bool) {
	if !s.IsTerminated() || len(s.Histories) == 0 {
		return time.Time{}, false
	}

	return s.Histories[len(s.Histories)-1].Date, true
}

// Duration is the elapsed time between the first and last transition.
func (s State) Duration() time.Duration {
	if len(s.Histories) < 2 {
		return 0
	}

	return s.Histories[len(s.Histories)-1].Date.Sub(s.Histories[0].Date)
}
