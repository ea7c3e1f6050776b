package conditions

import (
	"context"
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// get exposes nested map access to expressions: get(outputs, "task", "field").
// Missing keys resolve to nil rather than failing the evaluation.
func get(args ...any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("get requires a map and at least one key")
	}

	current := args[0]

	for _, arg := range args[1:] {
		key, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("get keys must be strings, got %T", arg)
		}

		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}

		value, exists := currentMap[key]
		if !exists {
			return nil, nil
		}

		current = value
	}

	return current, nil
}

// ExpressionCondition evaluates a boolean expression against the evaluation
// context. The expression sees the flow, the upstream execution (outputs,
// state, labels) and any extra variables.
type ExpressionCondition struct {
	expression *govaluate.EvaluableExpression
	source     string
}

// NewExpressionCondition compiles the "expression" config key.
func NewExpressionCondition(definition models.ConditionDefinition) (protocol.Condition, error) {
	source := configString(definition.Config, "expression")
	if source == "" {
		return nil, fmt.Errorf("expression condition requires an expression")
	}

	functions := map[string]govaluate.ExpressionFunction{
		"get": get,
	}

	expression, err := govaluate.NewEvaluableExpressionWithFunctions(source, functions)
	if err != nil {
		return nil, fmt.Errorf("invalid condition expression %q: %w", source, err)
	}

	return &ExpressionCondition{expression: expression, source: source}, nil
}

func (c *ExpressionCondition) Test(_ context.Context, cc protocol.ConditionContext) (bool, error) {
	parameters := map[string]any{
		"flowId":    cc.Flow.ID,
		"namespace": cc.Flow.Namespace,
		"date":      cc.Date,
	}

	if cc.Execution != nil {
		parameters["executionId"] = cc.Execution.ID
		parameters["state"] = string(cc.Execution.State.Current)
		parameters["outputs"] = cc.Execution.Outputs

		labels := make(map[string]any, len(cc.Execution.Labels))
		for _, label := range cc.Execution.Labels {
			labels[label.Key] = label.Value
		}

		parameters["labels"] = labels
	}

	for key, value := range cc.Variables {
		parameters[key] = value
	}

	result, err := c.expression.Evaluate(parameters)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression %q: %w", c.source, err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, expected boolean", c.source, result)
	}

	return boolResult, nil
}
