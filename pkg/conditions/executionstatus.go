package conditions

import (
	"context"
	"fmt"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// ExecutionStatusCondition matches when the upstream execution terminated in
// one of the listed states ("in") and none of the excluded ones ("not_in").
// Without an upstream execution it never matches.
type ExecutionStatusCondition struct {
	in    map[models.StateType]bool
	notIn map[models.StateType]bool
}

// NewExecutionStatusCondition reads "in" and "not_in" config keys.
func NewExecutionStatusCondition(definition models.ConditionDefinition) (protocol.Condition, error) {
	in, err := stateSet(definition.Config, "in")
	if err != nil {
		return nil, err
	}

	notIn, err := stateSet(definition.Config, "not_in")
	if err != nil {
		return nil, err
	}

	if len(in) == 0 && len(notIn) == 0 {
		return nil, fmt.Errorf("execution-status condition requires in and/or not_in")
	}

	return &ExecutionStatusCondition{in: in, notIn: notIn}, nil
}

func stateSet(config map[string]any, key string) (map[models.StateType]bool, error) {
	raw, _ := config[key].([]any)

	states := make(map[models.StateType]bool, len(raw))

	for _, value := range raw {
		state, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s states must be strings, got %T", key, value)
		}

		states[models.StateType(state)] = true
	}

	return states, nil
}

func (c *ExecutionStatusCondition) Test(_ context.Context, cc protocol.ConditionContext) (bool, error) {
	if cc.Execution == nil {
		return false, nil
	}

	state := cc.Execution.State.Current

	if len(c.in) > 0 && !c.in[state] {
		return false, nil
	}

	if c.notIn[state] {
		return false, nil
	}

	return true, nil
}
