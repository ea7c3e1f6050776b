// Package executions implements the execution state machine: restart, replay,
// pause/resume, kill with sub-flow cascade, retry scheduling and purge. State
// transformations are pure functions over models.Execution; the Service wires
// them to persistence and the event bus.
package executions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidehq/tideflow/pkg/eventbus"
	"github.com/tidehq/tideflow/pkg/events"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/storage"
)

// Limiter is the concurrency-limit surface the service needs: claiming a slot
// for a queued execution that is being force-run.
type Limiter interface {
	Unqueue(ctx context.Context, execution *models.Execution) error
}

// Service coordinates execution state changes with persistence and event
// emission.
type Service struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	limiter     Limiter
	storage     storage.Storage
}

// NewService creates the execution service.
func NewService(logger *slog.Logger, p persistence.Persistence, bus eventbus.EventBus, limiter Limiter, store storage.Storage) *Service {
	return &Service{
		logger:      logger.With("module", "executions"),
		persistence: p,
		eventBus:    bus,
		limiter:     limiter,
		storage:     store,
	}
}

// Restart restarts a terminated or paused execution, persists it and emits an
// update.
func (s *Service) Restart(ctx context.Context, execution models.Execution, flow models.Flow, revision *int) (models.Execution, error) {
	restarted, err := Restart(execution, flow, revision)
	if err != nil {
		return execution, err
	}

	return s.saveAndEmit(ctx, restarted)
}

// Replay creates a new execution replaying one task run, persists it and
// requests its run.
func (s *Service) Replay(ctx context.Context, execution models.Execution, flow models.Flow, taskRunID string, revision *int) (models.Execution, error) {
	replayed, err := Replay(execution, flow, taskRunID, revision)
	if err != nil {
		return execution, err
	}

	if err := s.persistence.ExecutionRepository().Save(ctx, &replayed); err != nil {
		return execution, fmt.Errorf("failed to save replayed execution: %w", err)
	}

	err = s.eventBus.Publish(ctx, events.ExecutionTopic, replayed.ID, events.ExecutionRequested{
		BaseEvent: s.baseEvent(events.ExecutionRequestedEvent, replayed),
		Execution: replayed,
	})
	if err != nil {
		return execution, fmt.Errorf("failed to publish execution request: %w", err)
	}

	return replayed, nil
}

// Resume releases a paused execution into newState and always emits an
// update, even when only a task run changed.
func (s *Service) Resume(ctx context.Context, execution models.Execution, flow models.Flow, newState models.StateType, inputs map[string]any) (models.Execution, error) {
	resumed, err := Resume(execution, flow, newState, inputs)
	if err != nil {
		return execution, err
	}

	return s.saveAndEmit(ctx, resumed)
}

// Kill requests a cooperative kill. Already-killing and terminated executions
// are left untouched. A paused execution is resumed straight into KILLING;
// when that fails the state is forced, a kill must never throw. With cascade,
// sub-flow executions receive their own kill request events.
func (s *Service) Kill(ctx context.Context, execution models.Execution, flow models.Flow, cascade bool) (models.Execution, error) {
	if execution.State.Current == models.StateKilling || execution.State.IsTerminated() {
		return execution, nil
	}

	var killing models.Execution

	if execution.State.IsPaused() {
		resumed, err := Resume(execution, flow, models.StateKilling, nil)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to resume paused execution for kill, forcing state",
				"execution_id", execution.ID, "error", err)

			resumed = execution.ForceState(models.StateKilling)
		}

		killing = resumed
	} else {
		transitioned, err := execution.WithState(models.StateKilling)
		if err != nil {
			return execution, err
		}

		killing = transitioned
	}

	killing, err := s.saveAndEmit(ctx, killing)
	if err != nil {
		return execution, err
	}

	if cascade {
		if err := s.KillSubflowExecutions(ctx, killing.TenantID, killing.ID); err != nil {
			return killing, err
		}
	}

	return killing, nil
}

// KillSubflowExecutions emits a cascading kill request for every live
// execution whose trigger lineage points to the given execution. The requests
// are acted on by the orchestrator loop, never synchronously here.
func (s *Service) KillSubflowExecutions(ctx context.Context, tenantID, executionID string) error {
	children, err := s.persistence.ExecutionRepository().ByTriggerExecutionID(ctx, tenantID, executionID)
	if err != nil {
		return fmt.Errorf("failed to find sub-flow executions: %w", err)
	}

	for _, child := range children {
		if child.State.Current == models.StateKilling || child.State.IsTerminated() {
			continue
		}

		err := s.eventBus.Publish(ctx, events.KillTopic, child.ID, events.ExecutionKillRequested{
			BaseEvent:   s.baseEvent(events.ExecutionKillRequestedEvent, *child),
			ExecutionID: child.ID,
			Cascade:     true,
		})
		if err != nil {
			return fmt.Errorf("failed to publish kill request for %s: %w", child.ID, err)
		}

		s.logger.InfoContext(ctx, "Requested sub-flow kill",
			"execution_id", executionID, "subflow_execution_id", child.ID)
	}

	return nil
}

// ForceRun pushes an execution towards RUNNING regardless of gates: CREATED
// runs immediately, QUEUED jumps the concurrency queue, PAUSED resumes. Other
// non-terminal states are returned unchanged for the caller to re-enqueue.
func (s *Service) ForceRun(ctx context.Context, execution models.Execution, flow models.Flow) (models.Execution, error) {
	if execution.State.IsTerminated() {
		return execution, fmt.Errorf("%w: cannot force run execution %s in terminal state %s",
			models.ErrInvalidStateTransition, execution.ID, execution.State.Current)
	}

	switch execution.State.Current {
	case models.StateCreated:
		running, err := execution.WithState(models.StateRunning)
		if err != nil {
			return execution, err
		}

		return s.saveAndEmit(ctx, running)
	case models.StateQueued:
		if err := s.limiter.Unqueue(ctx, &execution); err != nil {
			return execution, fmt.Errorf("failed to unqueue execution: %w", err)
		}

		running, err := execution.WithState(models.StateRunning)
		if err != nil {
			return execution, err
		}

		return s.saveAndEmit(ctx, running)
	case models.StatePaused:
		return s.Resume(ctx, execution, flow, models.StateRunning, nil)
	default:
		return execution, nil
	}
}

// PurgeResult accumulates deletion counts across the storage backends.
type PurgeResult struct {
	Executions     int `json:"executions"`
	Logs           int `json:"logs"`
	Metrics        int `json:"metrics"`
	StorageObjects int `json:"storage_objects"`
}

func (r *PurgeResult) add(other PurgeResult) {
	r.Executions += other.Executions
	r.Logs += other.Logs
	r.Metrics += other.Metrics
	r.StorageObjects += other.StorageObjects
}

// Delete removes one execution and fans the deletion out to its logs, metrics
// and object-store prefix, accumulating counts.
func (s *Service) Delete(ctx context.Context, tenantID, executionID string) (PurgeResult, error) {
	var result PurgeResult

	logs, err := s.persistence.LogRepository().DeleteByExecutionID(ctx, tenantID, executionID)
	if err != nil {
		return result, fmt.Errorf("failed to delete logs: %w", err)
	}

	result.Logs = logs

	metrics, err := s.persistence.MetricRepository().DeleteByExecutionID(ctx, tenantID, executionID)
	if err != nil {
		return result, fmt.Errorf("failed to delete metrics: %w", err)
	}

	result.Metrics = metrics

	objects, err := s.storage.DeleteByPrefix(ctx, tenantID, "executions/"+executionID)
	if err != nil {
		return result, fmt.Errorf("failed to delete storage objects: %w", err)
	}

	result.StorageObjects = objects

	if err := s.persistence.ExecutionRepository().Delete(ctx, tenantID, executionID); err != nil {
		return result, fmt.Errorf("failed to delete execution: %w", err)
	}

	result.Executions = 1

	return result, nil
}

// Purge deletes every execution matching the filter, accumulating counts
// across all of them. Used for retention cleanup of old terminated runs.
func (s *Service) Purge(ctx context.Context, filter persistence.ExecutionFilter) (PurgeResult, error) {
	var result PurgeResult

	matches, err := s.persistence.ExecutionRepository().Find(ctx, filter)
	if err != nil {
		return result, fmt.Errorf("failed to find executions to purge: %w", err)
	}

	for _, execution := range matches {
		deleted, err := s.Delete(ctx, execution.TenantID, execution.ID)
		result.add(deleted)

		if err != nil {
			return result, err
		}
	}

	s.logger.InfoContext(ctx, "Purged executions",
		"executions", result.Executions, "logs", result.Logs,
		"metrics", result.Metrics, "storage_objects", result.StorageObjects)

	return result, nil
}

func (s *Service) saveAndEmit(ctx context.Context, execution models.Execution) (models.Execution, error) {
	if err := s.persistence.ExecutionRepository().Save(ctx, &execution); err != nil {
		return execution, fmt.Errorf("failed to save execution: %w", err)
	}

	err := s.eventBus.Publish(ctx, events.ExecutionTopic, execution.ID, events.ExecutionUpdated{
		BaseEvent: s.baseEvent(events.ExecutionUpdatedEvent, execution),
		Execution: execution,
	})
	if err != nil {
		return execution, fmt.Errorf("failed to publish execution update: %w", err)
	}

	return execution, nil
}

func (s *Service) baseEvent(eventType events.EventType, execution models.Execution) events.BaseEvent {
	return events.BaseEvent{
		ID:        s.eventBus.GenerateID(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  execution.TenantID,
		FlowID:    execution.FlowID,
	}
}
