// Package protocol defines the capability interfaces implemented by trigger
// and condition kinds. Concrete kinds are dispatched through these interfaces
// rather than a central type switch.
package protocol

import (
	"context"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
)

// EvaluateRequest carries everything a trigger needs to materialize an
// execution for one occurrence.
type EvaluateRequest struct {
	Flow           models.Flow
	Definition     models.TriggerDefinition
	TriggerContext models.TriggerContext
	// Date is the occurrence being evaluated, normalized to UTC.
	Date time.Time
	// Variables are extra template variables (backfill markers, upstream
	// execution context for flow triggers).
	Variables map[string]any
	// InputOverrides take precedence over the trigger's declared defaults.
	InputOverrides map[string]any
}

// Trigger materializes concrete executions from a declarative definition.
type Trigger interface {
	// Kind returns the definition type this trigger serves.
	Kind() string

	// Evaluate builds the execution for one occurrence. A nil execution with
	// a nil error means the trigger declined to fire.
	Evaluate(ctx context.Context, req EvaluateRequest) (*models.Execution, error)
}

// Schedulable is a trigger driven by the scheduler's polling loop.
type Schedulable interface {
	Trigger

	// NextEvaluationDate computes the next occurrence strictly after last,
	// or after now when last is nil. The result is an absolute UTC instant;
	// cron arithmetic happens in the trigger's declared timezone.
	NextEvaluationDate(definition models.TriggerDefinition, last *time.Time) (time.Time, error)
}
