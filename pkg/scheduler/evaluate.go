package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidehq/tideflow/pkg/conditions"
	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// interruptOnFlowChange cancels in-flight evaluations of a flow's triggers
// when the flow revision moved since the last tick. Stale in-flight state
// must never be merged in after the definition changed.
func (s *Scheduler) interruptOnFlowChange(ctx context.Context, flow *models.Flow) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	previous, seen := s.flowRevisions[flow.UID()]
	s.flowRevisions[flow.UID()] = flow.Revision

	if !seen || previous == flow.Revision {
		return
	}

	s.logger.InfoContext(ctx, "Flow revision changed, interrupting in-flight evaluations",
		"flow_id", flow.ID, "previous_revision", previous, "revision", flow.Revision)

	for _, definition := range flow.Triggers {
		uid := cursorUID(flow, definition)
		if cancel, ok := s.inflight[uid]; ok {
			cancel()
			delete(s.inflight, uid)
		}
	}
}

func cursorUID(flow *models.Flow, definition models.TriggerDefinition) string {
	return models.TriggerContext{
		TenantID:  flow.TenantID,
		Namespace: flow.Namespace,
		FlowID:    flow.ID,
		TriggerID: definition.ID,
	}.UID()
}

func (s *Scheduler) evaluateTrigger(parent context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	uid := cursorUID(&flow, definition)

	s.inflightMu.Lock()
	s.inflight[uid] = cancel
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, uid)
		s.inflightMu.Unlock()
	}()

	err := s.advance(ctx, flow, definition, trigger)

	switch {
	case errors.Is(err, context.Canceled):
		s.logger.InfoContext(parent, "Trigger evaluation interrupted", "trigger", uid)
	case errors.Is(err, persistence.ErrVersionConflict):
		// Another scheduler instance advanced the cursor; it owns this round.
		s.logger.DebugContext(parent, "Trigger cursor advanced elsewhere", "trigger", uid)
	case err != nil:
		s.logger.ErrorContext(parent, "Trigger evaluation failed", "trigger", uid, "error", err)
	}
}

func (s *Scheduler) advance(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable) error {
	cursor, err := s.persistence.TriggerRepository().Find(ctx, flow.TenantID, flow.Namespace, flow.ID, definition.ID)
	if errors.Is(err, persistence.ErrTriggerNotFound) {
		return s.initializeCursor(ctx, flow, definition, trigger)
	}

	if err != nil {
		return err
	}

	if cursor.Disabled {
		return nil
	}

	if cursor.Backfill != nil {
		return s.advanceBackfill(ctx, flow, definition, trigger, cursor)
	}

	return s.advanceSchedule(ctx, flow, definition, trigger, cursor)
}

// initializeCursor arms a brand-new trigger: the first occurrence is the next
// one strictly in the future, nothing in the past is owed.
func (s *Scheduler) initializeCursor(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable) error {
	now := s.now()

	next, err := trigger.NextEvaluationDate(definition, &now)
	if err != nil {
		return err
	}

	cursor := &models.TriggerContext{
		TenantID:          flow.TenantID,
		Namespace:         flow.Namespace,
		FlowID:            flow.ID,
		TriggerID:         definition.ID,
		Date:              now,
		NextExecutionDate: &next,
	}

	return s.persistence.TriggerRepository().Save(ctx, cursor, 0)
}

// advanceSchedule walks the cursor through every due occurrence, applying the
// recovery policy to gaps of more than one occurrence.
func (s *Scheduler) advanceSchedule(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable, cursor *models.TriggerContext) error {
	now := s.now()

	due, err := s.dueOccurrences(definition, trigger, cursor, now)
	if err != nil {
		return err
	}

	if len(due) == 0 {
		return nil
	}

	emit := due

	if len(due) > 1 {
		switch definition.RecoverPolicy() {
		case models.RecoverLast:
			emit = due[len(due)-1:]
		case models.RecoverNone:
			emit = nil
		default:
		}
	}

	emitSet := make(map[time.Time]bool, len(emit))
	for _, date := range emit {
		emitSet[date] = true
	}

	// The cursor advances one occurrence at a time so a crash mid-gap loses
	// at most the occurrence in flight, which the queue redelivers.
	for _, date := range due {
		if err := ctx.Err(); err != nil {
			return err
		}

		if emitSet[date] {
			if err := s.fire(ctx, flow, definition, trigger, cursor, date, nil, nil); err != nil {
				return err
			}
		}

		next, err := trigger.NextEvaluationDate(definition, &date)
		if err != nil {
			return err
		}

		cursor.Date = date
		cursor.NextExecutionDate = &next

		if err := s.persistence.TriggerRepository().Save(ctx, cursor, cursor.Version); err != nil {
			return err
		}
	}

	return nil
}

// dueOccurrences lists every occurrence in (cursor, now], in increasing
// order.
func (s *Scheduler) dueOccurrences(definition models.TriggerDefinition, trigger protocol.Schedulable, cursor *models.TriggerContext, now time.Time) ([]time.Time, error) {
	var due []time.Time

	candidate := cursor.NextExecutionDate
	if candidate == nil {
		next, err := trigger.NextEvaluationDate(definition, &cursor.Date)
		if err != nil {
			return nil, err
		}

		candidate = &next
	}

	current := *candidate

	for !current.After(now) {
		due = append(due, current)

		next, err := trigger.NextEvaluationDate(definition, &current)
		if err != nil {
			return nil, err
		}

		if !next.After(current) {
			return nil, fmt.Errorf("trigger %s next occurrence %s does not advance past %s",
				definition.ID, next, current)
		}

		current = next
	}

	return due, nil
}

// advanceBackfill replays the backfill range one occurrence at a time, in
// strictly increasing date order, bounded by the range end. Once complete the
// saved pre-backfill cursor is restored.
func (s *Scheduler) advanceBackfill(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable, cursor *models.TriggerContext) error {
	backfill := cursor.Backfill

	for !backfill.Complete() {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := backfill.Start
		if backfill.CurrentDate != nil {
			current = *backfill.CurrentDate
		}

		variables := map[string]any{"backfill": true}

		if err := s.fire(ctx, flow, definition, trigger, cursor, current, variables, backfill); err != nil {
			return err
		}

		next, err := trigger.NextEvaluationDate(definition, &current)
		if err != nil {
			return err
		}

		// CurrentDate never moves backwards and never past the range end.
		if next.After(backfill.End) {
			next = backfill.End
		}

		backfill.CurrentDate = &next
		cursor.Date = current

		if backfill.Complete() {
			cursor.NextExecutionDate = backfill.PreviousNextExecutionDate
			cursor.Backfill = nil

			s.logger.InfoContext(ctx, "Backfill complete",
				"trigger", cursor.UID(), "start", backfill.Start, "end", backfill.End)
		}

		if err := s.persistence.TriggerRepository().Save(ctx, cursor, cursor.Version); err != nil {
			return err
		}

		if cursor.Backfill == nil {
			break
		}
	}

	return nil
}

// fire evaluates the trigger's conditions for one occurrence and emits the
// resulting execution request. A failing condition skips the emission but the
// cursor still advances; a condition evaluation error surfaces as a FAILED
// execution instead of aborting the tick.
func (s *Scheduler) fire(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, trigger protocol.Schedulable, cursor *models.TriggerContext, date time.Time, variables map[string]any, backfill *models.Backfill) error {
	matched, conditionErr := s.testConditions(ctx, flow, definition, date)
	if conditionErr == nil && !matched {
		return nil
	}

	request := protocol.EvaluateRequest{
		Flow:           flow,
		Definition:     definition,
		TriggerContext: *cursor,
		Date:           date,
		Variables:      variables,
	}

	if backfill != nil {
		request.InputOverrides = backfill.Inputs
	}

	execution, err := trigger.Evaluate(ctx, request)
	if err != nil {
		return err
	}

	if execution == nil {
		return nil
	}

	if backfill != nil {
		for _, label := range backfill.Labels {
			*execution = execution.WithLabel(label)
		}
	}

	if conditionErr != nil {
		*execution = execution.WithLabel(models.Label{Key: models.LabelError, Value: conditionErr.Error()})
		*execution = execution.ForceState(models.StateFailed)

		s.logger.WarnContext(ctx, "Trigger condition evaluation failed",
			"trigger", cursor.UID(), "date", date, "error", conditionErr)
	}

	if err := s.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to save triggered execution: %w", err)
	}

	err = s.eventBus.Publish(ctx, events.ExecutionTopic, execution.ID, events.ExecutionRequested{
		BaseEvent: events.BaseEvent{
			ID:        s.eventBus.GenerateID(),
			Type:      events.ExecutionRequestedEvent,
			Timestamp: s.now(),
			TenantID:  flow.TenantID,
			FlowID:    flow.ID,
		},
		Execution: *execution,
	})
	if err != nil {
		return fmt.Errorf("failed to publish execution request: %w", err)
	}

	return s.eventBus.Publish(ctx, events.ExecutionTopic, cursor.UID(), events.TriggerFired{
		BaseEvent: events.BaseEvent{
			ID:        s.eventBus.GenerateID(),
			Type:      events.TriggerFiredEvent,
			Timestamp: s.now(),
			TenantID:  flow.TenantID,
			FlowID:    flow.ID,
		},
		TriggerID:   definition.ID,
		TriggerDate: date,
		ExecutionID: execution.ID,
	})
}

func (s *Scheduler) testConditions(ctx context.Context, flow models.Flow, definition models.TriggerDefinition, date time.Time) (bool, error) {
	built, err := conditions.FromDefinitions(definition.Conditions)
	if err != nil {
		return false, err
	}

	cc := protocol.ConditionContext{Flow: flow, Date: date}

	for _, condition := range built {
		matched, err := condition.Test(ctx, cc)
		if err != nil {
			return false, err
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}
