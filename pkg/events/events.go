// Package events defines event types and structures for execution lifecycle
// notifications.
package events

import (
	"time"

	"github.com/tidehq/tideflow/pkg/models"
)

type EventType string

// Kafka topics. Execution events are partitioned by execution id so that
// state transitions for one execution are consumed in publish order.
const (
	ExecutionTopic = "tideflow.executions"
	KillTopic      = "tideflow.kills"
	LogTopic       = "tideflow.logs"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionRequestedEvent     EventType = "execution.requested"
	ExecutionUpdatedEvent       EventType = "execution.updated"
	ExecutionKillRequestedEvent EventType = "execution.kill.requested"

	// Trigger cursor events.
	TriggerFiredEvent    EventType = "trigger.fired"
	TriggerDisabledEvent EventType = "trigger.disabled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id,omitempty"`
	FlowID    string         `json:"flow_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionRequested asks the orchestrator to run a freshly built execution.
type ExecutionRequested struct {
	BaseEvent

	Execution models.Execution `json:"execution"`
}

func (e ExecutionRequested) GetType() EventType {
	return ExecutionRequestedEvent
}

// ExecutionUpdated reports a state change of an execution.
type ExecutionUpdated struct {
	BaseEvent

	Execution models.Execution `json:"execution"`
}

func (e ExecutionUpdated) GetType() EventType {
	return ExecutionUpdatedEvent
}

// ExecutionKillRequested asks for a cooperative kill of an execution.
// Cascade requests are fanned out again by the orchestrator to sub-flow
// executions; the event itself never kills anything synchronously.
type ExecutionKillRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Cascade     bool   `json:"cascade"`
}

func (e ExecutionKillRequested) GetType() EventType {
	return ExecutionKillRequestedEvent
}

// TriggerFired reports that a trigger emitted an execution for a date.
type TriggerFired struct {
	BaseEvent

	TriggerID   string    `json:"trigger_id"`
	TriggerDate time.Time `json:"trigger_date"`
	ExecutionID string    `json:"execution_id"`
}

func (e TriggerFired) GetType() EventType {
	return TriggerFiredEvent
}

// TriggerDisabled reports that a trigger cursor was disabled (stopAfter or
// operator action).
type TriggerDisabled struct {
	BaseEvent

	TriggerID string `json:"trigger_id"`
	Reason    string `json:"reason,omitempty"`
}

func (e TriggerDisabled) GetType() EventType {
	return TriggerDisabledEvent
}
