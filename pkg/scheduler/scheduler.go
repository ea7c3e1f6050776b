// Package scheduler runs the per-trigger evaluation loop: computing next
// occurrences, recovering missed ones, replaying backfills and emitting
// execution requests. Per-trigger mutual exclusion rides on the persisted
// cursor's version compare-and-swap, never on code-level locks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidehq/tideflow/pkg/eventbus"
	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// Scheduler polls all enabled schedulable triggers on a fixed cadence.
type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	triggers    map[string]protocol.Schedulable
	interval    time.Duration

	// now is injectable for deterministic tests.
	now func() time.Time

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex

	// inflight tracks running evaluations per trigger cursor uid so a flow
	// definition change can interrupt them before re-evaluating against the
	// new definition.
	inflight      map[string]context.CancelFunc
	inflightMu    sync.Mutex
	flowRevisions map[string]int
}

// NewScheduler creates a scheduler polling at the given interval.
func NewScheduler(logger *slog.Logger, p persistence.Persistence, bus eventbus.EventBus, interval time.Duration, triggers ...protocol.Schedulable) *Scheduler {
	byKind := make(map[string]protocol.Schedulable, len(triggers))
	for _, trigger := range triggers {
		byKind[trigger.Kind()] = trigger
	}

	return &Scheduler{
		logger:        logger.With("module", "scheduler"),
		persistence:   p,
		eventBus:      bus,
		triggers:      byKind,
		interval:      interval,
		now:           func() time.Time { return time.Now().UTC() },
		inflight:      make(map[string]context.CancelFunc),
		flowRevisions: make(map[string]int),
	}
}

// Start begins the polling loop and subscribes to execution updates for
// stop-after handling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Starting scheduler", "interval", s.interval)

	if err := s.subscribeStopAfter(ctx); err != nil {
		return err
	}

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	return nil
}

// Stop gracefully shuts the polling loop down.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.InfoContext(ctx, "Stopping scheduler")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates every enabled schedulable trigger of every enabled flow
// once. Triggers evaluate concurrently; a failing trigger never aborts the
// others.
func (s *Scheduler) Tick(ctx context.Context) {
	flows, err := s.persistence.FlowRepository().All(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load flows", "error", err)

		return
	}

	var wg sync.WaitGroup

	for _, flow := range flows {
		if flow.Disabled {
			continue
		}

		s.interruptOnFlowChange(ctx, flow)

		for _, definition := range flow.Triggers {
			trigger, ok := s.triggers[definition.Type]
			if !ok || definition.Disabled {
				continue
			}

			wg.Add(1)

			go func(flow models.Flow, definition models.TriggerDefinition) {
				defer wg.Done()

				s.evaluateTrigger(ctx, flow, definition, trigger)
			}(*flow, definition)
		}
	}

	wg.Wait()
}
