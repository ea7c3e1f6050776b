package models

import (
	"fmt"
	"time"
)

// Trigger kinds understood by the engine.
const (
	TriggerTypeSchedule = "schedule"
	TriggerTypeFlow     = "flow"
	TriggerTypePolling  = "polling"
)

// RecoverMissedSchedules is the policy for occurrences missed while the
// scheduler was down.
type RecoverMissedSchedules string

const (
	// RecoverAll emits one execution per missed occurrence.
	RecoverAll RecoverMissedSchedules = "ALL"
	// RecoverLast emits exactly one execution, for the most recent missed
	// occurrence.
	RecoverLast RecoverMissedSchedules = "LAST"
	// RecoverNone fast-forwards the cursor without emitting anything.
	RecoverNone RecoverMissedSchedules = "NONE"
)

// ConditionDefinition declares one condition attached to a trigger. Type
// selects the condition kind; Config is kind-specific.
type ConditionDefinition struct {
	Type   string         `json:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// MultipleConditionDefinition declares a multi-signal AND window: the trigger
// fires only once every named sub-condition has evaluated true within the
// window's validity interval.
type MultipleConditionDefinition struct {
	ID             string                         `json:"id"     validate:"required"`
	Window         time.Duration                  `json:"window"`
	ResetOnSuccess *bool                          `json:"reset_on_success,omitempty"`
	Conditions     map[string]ConditionDefinition `json:"conditions" validate:"required,min=1"`
}

// Resets reports whether a fulfilled window is purged after firing. Defaults
// to true; a false value keeps the window alive ("sticky") until it expires.
func (m MultipleConditionDefinition) Resets() bool {
	return m.ResetOnSuccess == nil || *m.ResetOnSuccess
}

// TriggerDefinition is a declarative trigger attached to a flow.
type TriggerDefinition struct {
	ID            string                       `json:"id"   validate:"required"`
	Type          string                       `json:"type" validate:"required"`
	Disabled      bool                         `json:"disabled"`
	Config        map[string]any               `json:"config,omitempty"`
	Conditions    []ConditionDefinition        `json:"conditions,omitempty"`
	Preconditions []ConditionDefinition        `json:"preconditions,omitempty"`
	Multiple      *MultipleConditionDefinition `json:"multiple,omitempty"`
	States        []StateType                  `json:"states,omitempty"`
	Labels        []Label                      `json:"labels,omitempty"`
	Inputs        map[string]any               `json:"inputs,omitempty"`
	StopAfter     []StateType                  `json:"stop_after,omitempty"`
	Recover       RecoverMissedSchedules       `json:"recover_missed_schedules,omitempty"`
}

// RecoverPolicy returns the configured recovery policy, defaulting to ALL.
func (t TriggerDefinition) RecoverPolicy() RecoverMissedSchedules {
	if t.Recover == "" {
		return RecoverAll
	}

	return t.Recover
}

// Validate checks the definition shape common to all trigger kinds.
func (t TriggerDefinition) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	switch t.Recover {
	case "", RecoverAll, RecoverLast, RecoverNone:
	default:
		return fmt.Errorf("%w: unknown recovery policy %q", ErrInvalidTrigger, t.Recover)
	}

	return nil
}

// TriggerContext is the persisted per-trigger cursor: the only
// cross-execution state the scheduler owns. At most one cursor exists per
// (tenant, flow, trigger); concurrent advancement is prevented by the Version
// compare-and-swap in the repository, not by code-level locks.
type TriggerContext struct {
	TenantID          string     `json:"tenant_id,omitempty"`
	Namespace         string     `json:"namespace"`
	FlowID            string     `json:"flow_id"`
	TriggerID         string     `json:"trigger_id"`
	Date              time.Time  `json:"date"`
	NextExecutionDate *time.Time `json:"next_execution_date,omitempty"`
	Disabled          bool       `json:"disabled"`
	Backfill          *Backfill  `json:"backfill,omitempty"`
	UpdatedDate       time.Time  `json:"updated_date"`
	Version           int        `json:"version"`
}

// UID identifies the cursor.
func (t TriggerContext) UID() string {
	return fmt.Sprintf("%s_%s_%s_%s", t.TenantID, t.Namespace, t.FlowID, t.TriggerID)
}

// Backfill is a bounded catch-up range actively being replayed by a trigger.
// CurrentDate is non-decreasing across evaluations and bounded by End; once
// it reaches End the backfill is complete and cleared from the cursor.
type Backfill struct {
	Start                     time.Time      `json:"start"`
	End                       time.Time      `json:"end"`
	CurrentDate               *time.Time     `json:"current_date,omitempty"`
	PreviousNextExecutionDate *time.Time     `json:"previous_next_execution_date,omitempty"`
	Inputs                    map[string]any `json:"inputs,omitempty"`
	Labels                    []Label        `json:"labels,omitempty"`
}

// Complete reports whether the backfill cursor has reached the end of the
// range.
func (b Backfill) Complete() bool {
	return b.CurrentDate != nil && !b.CurrentDate.Before(b.End)
}
