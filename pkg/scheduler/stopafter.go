package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// subscribeStopAfter watches execution updates for triggers declaring
// stopAfter states: once a triggered execution reaches one of them, the
// trigger cursor is disabled (one-shot trigger).
func (s *Scheduler) subscribeStopAfter(ctx context.Context) error {
	err := s.eventBus.Handle(events.ExecutionUpdatedEvent, func(ctx context.Context, event any) error {
		updated, ok := event.(*events.ExecutionUpdated)
		if !ok {
			return nil
		}

		return s.handleExecutionUpdate(ctx, updated.Execution)
	})
	if err != nil {
		return fmt.Errorf("failed to register stop-after handler: %w", err)
	}

	return s.eventBus.Subscribe(ctx, events.ExecutionTopic)
}

func (s *Scheduler) handleExecutionUpdate(ctx context.Context, execution models.Execution) error {
	if execution.Trigger == nil || !execution.State.IsTerminated() {
		return nil
	}

	flow, err := s.persistence.FlowRepository().ByID(ctx, execution.TenantID, execution.Namespace, execution.FlowID)
	if errors.Is(err, persistence.ErrFlowNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	definition, ok := findTriggerDefinition(flow, execution.Trigger.ID)
	if !ok || !stateIn(execution.State.Current, definition.StopAfter) {
		return nil
	}

	return s.disableTrigger(ctx, execution, definition)
}

func (s *Scheduler) disableTrigger(ctx context.Context, execution models.Execution, definition models.TriggerDefinition) error {
	cursor, err := s.persistence.TriggerRepository().Find(ctx, execution.TenantID, execution.Namespace, execution.FlowID, definition.ID)
	if errors.Is(err, persistence.ErrTriggerNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	if cursor.Disabled {
		return nil
	}

	cursor.Disabled = true

	if err := s.persistence.TriggerRepository().Save(ctx, cursor, cursor.Version); err != nil {
		// A concurrent disable already took care of it.
		if errors.Is(err, persistence.ErrVersionConflict) {
			return nil
		}

		return err
	}

	s.logger.InfoContext(ctx, "Trigger disabled by stopAfter",
		"trigger", cursor.UID(), "state", execution.State.Current)

	return s.eventBus.Publish(ctx, events.ExecutionTopic, cursor.UID(), events.TriggerDisabled{
		BaseEvent: events.BaseEvent{
			ID:        s.eventBus.GenerateID(),
			Type:      events.TriggerDisabledEvent,
			Timestamp: s.now(),
			TenantID:  execution.TenantID,
			FlowID:    execution.FlowID,
		},
		TriggerID: definition.ID,
		Reason:    fmt.Sprintf("stopAfter state %s reached by execution %s", execution.State.Current, execution.ID),
	})
}

func findTriggerDefinition(flow *models.Flow, triggerID string) (models.TriggerDefinition, bool) {
	for _, definition := range flow.Triggers {
		if definition.ID == triggerID {
			return definition, true
		}
	}

	return models.TriggerDefinition{}, false
}

func stateIn(state models.StateType, states []models.StateType) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}

	return false
}
