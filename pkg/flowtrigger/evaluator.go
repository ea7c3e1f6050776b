// Package flowtrigger reacts to completed executions: it finds downstream
// flows declaring flow triggers, evaluates their conditions, accumulates
// multi-signal windows and emits the execution requests that fire.
package flowtrigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tidehq/tideflow/pkg/conditions"
	"github.com/tidehq/tideflow/pkg/eventbus"
	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// Evaluator processes completed executions into downstream execution
// requests.
type Evaluator struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	trigger     protocol.Trigger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewEvaluator creates the evaluator. The trigger is the flow trigger kind
// used to materialize downstream executions.
func NewEvaluator(logger *slog.Logger, p persistence.Persistence, bus eventbus.EventBus, trigger protocol.Trigger) *Evaluator {
	return &Evaluator{
		logger:      logger.With("module", "flowtrigger"),
		persistence: p,
		eventBus:    bus,
		trigger:     trigger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type candidate struct {
	flow       models.Flow
	definition models.TriggerDefinition

	// window is the multi-signal accumulator, nil for simple triggers.
	window *models.MultipleConditionWindow
}

// Process evaluates every flow trigger against a just-completed execution
// and returns the executions it emitted.
func (e *Evaluator) Process(ctx context.Context, completed models.Execution) ([]models.Execution, error) {
	if !completed.State.IsTerminated() {
		return nil, nil
	}

	candidates, err := e.findCandidates(ctx, completed)
	if err != nil {
		return nil, err
	}

	// No surviving candidate means no multi-condition bookkeeping either.
	if len(candidates) == 0 {
		return nil, nil
	}

	now := e.now()

	candidates, err = e.accumulateWindows(ctx, completed, candidates, now)
	if err != nil {
		return nil, err
	}

	emitted, err := e.emit(ctx, completed, candidates, now)
	if err != nil {
		return nil, err
	}

	if err := e.cleanupWindows(ctx, completed.TenantID, candidates, now); err != nil {
		return emitted, err
	}

	return emitted, nil
}

// findCandidates filters flows down to those whose flow triggers match the
// completed execution's terminal state and whose simple conditions and
// preconditions all pass.
func (e *Evaluator) findCandidates(ctx context.Context, completed models.Execution) ([]candidate, error) {
	flows, err := e.persistence.FlowRepository().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}

	cc := protocol.ConditionContext{
		Execution: &completed,
		Date:      e.now(),
	}

	var candidates []candidate

	for _, flow := range flows {
		// A completed execution only ever triggers flows of its own tenant.
		if flow.Disabled || flow.TenantID != completed.TenantID || flow.UID() == completed.FlowUID() {
			continue
		}

		for _, definition := range flow.Triggers {
			if definition.Type != models.TriggerTypeFlow || definition.Disabled {
				continue
			}

			if len(definition.States) > 0 && !stateIn(completed.State.Current, definition.States) {
				continue
			}

			cc.Flow = *flow

			matched, err := e.testAll(ctx, cc, definition.Conditions)
			if err != nil {
				e.logger.WarnContext(ctx, "Flow trigger condition evaluation failed",
					"flow_id", flow.ID, "trigger_id", definition.ID, "error", err)

				continue
			}

			if !matched {
				continue
			}

			matched, err = e.testAll(ctx, cc, definition.Preconditions)
			if err != nil || !matched {
				if err != nil {
					e.logger.WarnContext(ctx, "Flow trigger precondition evaluation failed",
						"flow_id", flow.ID, "trigger_id", definition.ID, "error", err)
				}

				continue
			}

			candidates = append(candidates, candidate{flow: *flow, definition: definition})
		}
	}

	return candidates, nil
}

// accumulateWindows records this execution's signal into each multi-signal
// candidate's window and persists every updated window before emission, so a
// crash between the two never loses a durable signal.
func (e *Evaluator) accumulateWindows(ctx context.Context, completed models.Execution, candidates []candidate, now time.Time) ([]candidate, error) {
	for i := range candidates {
		multiple := candidates[i].definition.Multiple
		if multiple == nil {
			continue
		}

		window, err := e.fetchOrCreateWindow(ctx, candidates[i].flow, *multiple, completed, now)
		if err != nil {
			return nil, err
		}

		if window.Expired(now) {
			continue
		}

		for name, definition := range multiple.Conditions {
			matched, err := e.testOne(ctx, protocol.ConditionContext{
				Flow:      candidates[i].flow,
				Execution: &completed,
				Date:      now,
			}, definition)
			if err != nil {
				e.logger.WarnContext(ctx, "Multi-condition evaluation failed",
					"flow_id", candidates[i].flow.ID, "condition", name, "error", err)

				continue
			}

			// A later signal must not erase an earlier positive result.
			if matched || !window.Results[name] {
				updated := window.WithResult(name, matched)
				window = &updated
			}
		}

		if err := e.persistence.WindowRepository().Save(ctx, window); err != nil {
			return nil, fmt.Errorf("failed to save condition window: %w", err)
		}

		candidates[i].window = window
	}

	return candidates, nil
}

func (e *Evaluator) fetchOrCreateWindow(ctx context.Context, flow models.Flow, multiple models.MultipleConditionDefinition, completed models.Execution, now time.Time) (*models.MultipleConditionWindow, error) {
	key := correlationKey(completed)

	window, err := e.persistence.WindowRepository().Find(ctx,
		flow.TenantID, flow.Namespace, flow.ID, multiple.ID, key)
	if errors.Is(err, persistence.ErrWindowNotFound) {
		created := models.NewMultipleConditionWindow(flow, multiple.ID, key, now, multiple.Window)

		return &created, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load condition window: %w", err)
	}

	return window, nil
}

// correlationKey joins multi-signal windows across executions: an explicit
// correlationId output wins, then the correlation label, then the execution
// id.
func correlationKey(execution models.Execution) string {
	if key, ok := execution.Outputs["correlationId"].(string); ok && key != "" {
		return key
	}

	return execution.CorrelationID()
}

// emit re-filters candidates against the updated windows and materializes one
// execution request per firing trigger.
func (e *Evaluator) emit(ctx context.Context, completed models.Execution, candidates []candidate, now time.Time) ([]models.Execution, error) {
	var emitted []models.Execution

	for _, c := range candidates {
		if c.definition.Multiple != nil {
			if c.window == nil || !c.window.Fulfilled(conditionNames(*c.definition.Multiple)) {
				continue
			}
		}

		variables := map[string]any{
			"executionId":   completed.ID,
			"flowId":        completed.FlowID,
			"namespace":     completed.Namespace,
			"state":         string(completed.State.Current),
			"correlationId": completed.CorrelationID(),
		}

		execution, err := e.trigger.Evaluate(ctx, protocol.EvaluateRequest{
			Flow:       c.flow,
			Definition: c.definition,
			Date:       now,
			Variables:  variables,
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Flow trigger evaluation failed",
				"flow_id", c.flow.ID, "trigger_id", c.definition.ID, "error", err)

			continue
		}

		if execution == nil {
			continue
		}

		if err := e.persistence.ExecutionRepository().Save(ctx, execution); err != nil {
			return emitted, fmt.Errorf("failed to save triggered execution: %w", err)
		}

		err = e.eventBus.Publish(ctx, events.ExecutionTopic, execution.ID, events.ExecutionRequested{
			BaseEvent: events.BaseEvent{
				ID:        e.eventBus.GenerateID(),
				Type:      events.ExecutionRequestedEvent,
				Timestamp: now,
				TenantID:  c.flow.TenantID,
				FlowID:    c.flow.ID,
			},
			Execution: *execution,
		})
		if err != nil {
			return emitted, fmt.Errorf("failed to publish execution request: %w", err)
		}

		emitted = append(emitted, *execution)
	}

	return emitted, nil
}

// cleanupWindows purges, in a single pass after emission, windows that are
// fulfilled (unless the definition declares a sticky window) and windows that
// independently expired.
func (e *Evaluator) cleanupWindows(ctx context.Context, tenantID string, candidates []candidate, now time.Time) error {
	for _, c := range candidates {
		if c.definition.Multiple == nil || c.window == nil {
			continue
		}

		fulfilled := c.window.Fulfilled(conditionNames(*c.definition.Multiple))

		// A sticky window (resetOnSuccess=false) survives fulfillment and can
		// refire on later signals; only expiry removes it.
		if (fulfilled && c.definition.Multiple.Resets()) || c.window.Expired(now) {
			if err := e.deleteWindow(ctx, c.window); err != nil {
				return err
			}
		}
	}

	expired, err := e.persistence.WindowRepository().Expired(ctx, tenantID, now)
	if err != nil {
		return fmt.Errorf("failed to list expired windows: %w", err)
	}

	for _, window := range expired {
		if err := e.deleteWindow(ctx, window); err != nil {
			return err
		}
	}

	return nil
}

func (e *Evaluator) deleteWindow(ctx context.Context, window *models.MultipleConditionWindow) error {
	err := e.persistence.WindowRepository().Delete(ctx, window)
	if err != nil && !errors.Is(err, persistence.ErrWindowNotFound) {
		return fmt.Errorf("failed to purge condition window: %w", err)
	}

	return nil
}

func (e *Evaluator) testAll(ctx context.Context, cc protocol.ConditionContext, definitions []models.ConditionDefinition) (bool, error) {
	for _, definition := range definitions {
		matched, err := e.testOne(ctx, cc, definition)
		if err != nil {
			return false, err
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func (e *Evaluator) testOne(ctx context.Context, cc protocol.ConditionContext, definition models.ConditionDefinition) (bool, error) {
	condition, err := conditions.FromDefinition(definition)
	if err != nil {
		return false, err
	}

	return condition.Test(ctx, cc)
}

func conditionNames(multiple models.MultipleConditionDefinition) []string {
	names := make([]string, 0, len(multiple.Conditions))
	for name := range multiple.Conditions {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func stateIn(state models.StateType, states []models.StateType) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}

	return false
}
