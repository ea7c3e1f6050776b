package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidehq/tideflow/pkg/concurrency"
	"github.com/tidehq/tideflow/pkg/eventbus"
	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/executions"
	"github.com/tidehq/tideflow/pkg/flowtrigger"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// Orchestrator consumes execution lifecycle events: it admits requested
// executions through the concurrency limiter, reacts to terminal executions
// by releasing slots and evaluating flow triggers, and serves kill requests.
type Orchestrator struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	service     *executions.Service
	evaluator   *flowtrigger.Evaluator
	limiter     *concurrency.Limiter
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(
	id string,
	p persistence.Persistence,
	bus eventbus.EventBus,
	service *executions.Service,
	evaluator *flowtrigger.Evaluator,
	limiter *concurrency.Limiter,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		id:          id,
		logger:      logger.With("module", "orchestrator"),
		persistence: p,
		eventBus:    bus,
		service:     service,
		evaluator:   evaluator,
		limiter:     limiter,
	}
}

// Start registers the event handlers and blocks until the context is
// cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.InfoContext(ctx, "Starting orchestrator")

	if err := o.subscribe(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	o.logger.Info("Orchestrator context cancelled, stopping...")

	return nil
}

func (o *Orchestrator) subscribe(ctx context.Context) error {
	err := o.eventBus.Handle(events.ExecutionRequestedEvent, func(ctx context.Context, event any) error {
		requested, ok := event.(*events.ExecutionRequested)
		if !ok {
			return nil
		}

		return o.handleExecutionRequested(ctx, requested.Execution)
	})
	if err != nil {
		return fmt.Errorf("failed to register execution request handler: %w", err)
	}

	err = o.eventBus.Handle(events.ExecutionUpdatedEvent, func(ctx context.Context, event any) error {
		updated, ok := event.(*events.ExecutionUpdated)
		if !ok {
			return nil
		}

		return o.handleExecutionUpdated(ctx, updated.Execution)
	})
	if err != nil {
		return fmt.Errorf("failed to register execution update handler: %w", err)
	}

	err = o.eventBus.Handle(events.ExecutionKillRequestedEvent, func(ctx context.Context, event any) error {
		kill, ok := event.(*events.ExecutionKillRequested)
		if !ok {
			return nil
		}

		return o.handleKillRequested(ctx, kill)
	})
	if err != nil {
		return fmt.Errorf("failed to register kill request handler: %w", err)
	}

	if err := o.eventBus.Subscribe(ctx, events.ExecutionTopic); err != nil {
		return fmt.Errorf("failed to subscribe to execution topic: %w", err)
	}

	if err := o.eventBus.Subscribe(ctx, events.KillTopic); err != nil {
		return fmt.Errorf("failed to subscribe to kill topic: %w", err)
	}

	return nil
}

// handleExecutionRequested admits a freshly requested execution through the
// flow's concurrency limit. Executions arriving already terminated (a trigger
// condition error) skip admission.
func (o *Orchestrator) handleExecutionRequested(ctx context.Context, execution models.Execution) error {
	if execution.State.IsTerminated() {
		return nil
	}

	flow, err := o.persistence.FlowRepository().ByID(ctx, execution.TenantID, execution.Namespace, execution.FlowID)
	if errors.Is(err, persistence.ErrFlowNotFound) {
		o.logger.WarnContext(ctx, "Flow not found for requested execution",
			"execution_id", execution.ID, "flow_id", execution.FlowID)

		return nil
	}

	if err != nil {
		return err
	}

	decision, err := o.limiter.TryAcquire(ctx, flow, &execution)
	if err != nil {
		return err
	}

	switch decision {
	case concurrency.Admitted:
		return o.transition(ctx, execution, models.StateRunning)
	case concurrency.Queued:
		return o.transition(ctx, execution, models.StateQueued)
	case concurrency.Cancelled:
		return o.saveAndEmit(ctx, execution.ForceState(models.StateCancelled))
	case concurrency.Failed:
		return o.saveAndEmit(ctx, execution.ForceState(models.StateFailed))
	default:
		return fmt.Errorf("unknown admission decision %q for execution %s", decision, execution.ID)
	}
}

// handleExecutionUpdated reacts to terminal executions: the concurrency slot
// is released (promoting the next queued execution, if any) and downstream
// flow triggers are evaluated.
func (o *Orchestrator) handleExecutionUpdated(ctx context.Context, execution models.Execution) error {
	if !execution.State.IsTerminated() {
		return nil
	}

	next, err := o.limiter.Release(ctx, &execution)
	if err != nil {
		return err
	}

	if next != "" {
		if err := o.promote(ctx, execution.TenantID, next); err != nil {
			return err
		}
	}

	if _, err := o.evaluator.Process(ctx, execution); err != nil {
		return fmt.Errorf("failed to evaluate flow triggers: %w", err)
	}

	return nil
}

// promote moves a queued execution into RUNNING after it inherited a released
// slot.
func (o *Orchestrator) promote(ctx context.Context, tenantID, executionID string) error {
	execution, err := o.persistence.ExecutionRepository().ByID(ctx, tenantID, executionID)
	if errors.Is(err, persistence.ErrExecutionNotFound) {
		o.logger.WarnContext(ctx, "Queued execution vanished before promotion", "execution_id", executionID)

		return nil
	}

	if err != nil {
		return err
	}

	if !execution.State.IsQueued() {
		return nil
	}

	return o.transition(ctx, *execution, models.StateRunning)
}

func (o *Orchestrator) handleKillRequested(ctx context.Context, kill *events.ExecutionKillRequested) error {
	execution, err := o.persistence.ExecutionRepository().ByID(ctx, kill.TenantID, kill.ExecutionID)
	if errors.Is(err, persistence.ErrExecutionNotFound) {
		o.logger.WarnContext(ctx, "Kill requested for unknown execution", "execution_id", kill.ExecutionID)

		return nil
	}

	if err != nil {
		return err
	}

	flow := models.Flow{}

	found, err := o.persistence.FlowRepository().ByID(ctx, execution.TenantID, execution.Namespace, execution.FlowID)
	if err != nil && !errors.Is(err, persistence.ErrFlowNotFound) {
		return err
	}

	if found != nil {
		flow = *found
	}

	_, err = o.service.Kill(ctx, *execution, flow, kill.Cascade)

	return err
}

func (o *Orchestrator) transition(ctx context.Context, execution models.Execution, state models.StateType) error {
	transitioned, err := execution.WithState(state)
	if err != nil {
		return err
	}

	return o.saveAndEmit(ctx, transitioned)
}

func (o *Orchestrator) saveAndEmit(ctx context.Context, execution models.Execution) error {
	if err := o.persistence.ExecutionRepository().Save(ctx, &execution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return o.eventBus.Publish(ctx, events.ExecutionTopic, execution.ID, events.ExecutionUpdated{
		BaseEvent: events.BaseEvent{
			ID:        o.eventBus.GenerateID(),
			Type:      events.ExecutionUpdatedEvent,
			Timestamp: time.Now().UTC(),
			TenantID:  execution.TenantID,
			FlowID:    execution.FlowID,
		},
		Execution: execution,
	})
}
