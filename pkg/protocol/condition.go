package protocol

import (
	"context"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
)

// ConditionContext is the evaluation context shared by all condition kinds.
type ConditionContext struct {
	Flow models.Flow
	// Execution is the upstream execution for flow triggers, nil for
	// schedule evaluation.
	Execution *models.Execution
	// Date is the candidate date being tested.
	Date time.Time
	// Variables are extra values exposed to expression conditions.
	Variables map[string]any
}

// Condition is a pure predicate over a candidate evaluation context.
type Condition interface {
	Test(ctx context.Context, c ConditionContext) (bool, error)
}

// ConditionFactory builds a condition from its declarative definition.
type ConditionFactory func(definition models.ConditionDefinition) (Condition, error)
