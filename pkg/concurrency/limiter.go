// Package concurrency enforces per-flow execution concurrency limits. Slot
// accounting lives in Redis so every orchestrator instance sees the same
// counts.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tidehq/tideflow/pkg/models"
)

// Decision is the outcome of an admission attempt.
type Decision string

const (
	// Admitted means a slot was acquired and the execution may run.
	Admitted Decision = "ADMITTED"
	// Queued means the flow is at its limit and the execution was enqueued.
	Queued Decision = "QUEUED"
	// Cancelled means the flow is at its limit and the execution must be
	// terminated in CANCELLED state.
	Cancelled Decision = "CANCELLED"
	// Failed means the flow is at its limit and the execution must be
	// terminated in FAILED state.
	Failed Decision = "FAILED"
)

// ErrNotQueued is returned by Unqueue when the execution is not waiting in
// the flow's queue.
var ErrNotQueued = errors.New("execution is not queued")

// acquireScript atomically claims a slot when the running count is below the
// limit. KEYS[1] is the running counter, ARGV[1] the limit.
var acquireScript = redis.NewScript(`
	local running = tonumber(redis.call('GET', KEYS[1]) or '0')
	local limit = tonumber(ARGV[1])
	if running < limit then
		redis.call('INCR', KEYS[1])
		return 1
	end
	return 0
`)

// releaseScript decrements the running counter, never below zero, and pops
// the next queued execution id if one is waiting. KEYS[1] is the running
// counter, KEYS[2] the queue list.
var releaseScript = redis.NewScript(`
	local running = tonumber(redis.call('GET', KEYS[1]) or '0')
	if running > 0 then
		redis.call('DECR', KEYS[1])
	end
	return redis.call('LPOP', KEYS[2])
`)

// Limiter tracks per-flow running counts and queued executions in Redis.
type Limiter struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewLimiter connects to Redis at the given address.
func NewLimiter(ctx context.Context, logger *slog.Logger, addr string) (*Limiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Limiter{
		client: client,
		logger: logger.With("module", "concurrency"),
	}, nil
}

// NewLimiterWithClient wraps an existing client. Used by tests.
func NewLimiterWithClient(logger *slog.Logger, client redis.UniversalClient) *Limiter {
	return &Limiter{client: client, logger: logger.With("module", "concurrency")}
}

func runningKey(flowUID string) string {
	return "tideflow:concurrency:running:" + flowUID
}

func queueKey(flowUID string) string {
	return "tideflow:concurrency:queue:" + flowUID
}

// TryAcquire attempts to claim a run slot for the execution. When the flow is
// at its limit the configured behavior decides the outcome; QUEUE additionally
// records the execution id so Release can hand the slot over in FIFO order.
// Flows without a concurrency limit are always admitted.
func (l *Limiter) TryAcquire(ctx context.Context, flow *models.Flow, execution *models.Execution) (Decision, error) {
	if flow.Concurrency == nil || flow.Concurrency.Limit <= 0 {
		return Admitted, nil
	}

	acquired, err := acquireScript.Run(ctx, l.client,
		[]string{runningKey(execution.FlowUID())}, flow.Concurrency.Limit).Int()
	if err != nil {
		return "", fmt.Errorf("failed to acquire concurrency slot: %w", err)
	}

	if acquired == 1 {
		return Admitted, nil
	}

	switch flow.Concurrency.Behavior {
	case models.ConcurrencyCancel:
		return Cancelled, nil
	case models.ConcurrencyFail:
		return Failed, nil
	default:
		if err := l.client.RPush(ctx, queueKey(execution.FlowUID()), execution.ID).Err(); err != nil {
			return "", fmt.Errorf("failed to enqueue execution: %w", err)
		}

		l.logger.InfoContext(ctx, "Execution queued by concurrency limit",
			"flow_id", flow.ID, "execution_id", execution.ID)

		return Queued, nil
	}
}

// Release gives the execution's slot back and returns the id of the next
// queued execution, if any, so the caller can promote it to RUNNING.
func (l *Limiter) Release(ctx context.Context, execution *models.Execution) (string, error) {
	next, err := releaseScript.Run(ctx, l.client,
		[]string{runningKey(execution.FlowUID()), queueKey(execution.FlowUID())}).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to release concurrency slot: %w", err)
	}

	// The popped execution inherits the released slot.
	if next != "" {
		if err := l.client.Incr(ctx, runningKey(execution.FlowUID())).Err(); err != nil {
			return "", fmt.Errorf("failed to transfer concurrency slot: %w", err)
		}
	}

	return next, nil
}

// Unqueue removes the execution from its flow's wait queue and claims a slot
// for it unconditionally. Used by force-run, which bypasses the limit.
func (l *Limiter) Unqueue(ctx context.Context, execution *models.Execution) error {
	removed, err := l.client.LRem(ctx, queueKey(execution.FlowUID()), 1, execution.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove execution from queue: %w", err)
	}

	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, execution.ID)
	}

	if err := l.client.Incr(ctx, runningKey(execution.FlowUID())).Err(); err != nil {
		return fmt.Errorf("failed to claim concurrency slot: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}
