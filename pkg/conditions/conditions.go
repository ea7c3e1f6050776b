// Package conditions implements the condition kinds attachable to triggers.
// Each kind is a pure predicate over a candidate date and evaluation context;
// dispatch happens through the protocol.Condition interface.
package conditions

import (
	"fmt"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// Condition kinds.
const (
	KindExpression      = "expression"
	KindTimeWindow      = "time-window"
	KindWeekdayInMonth  = "weekday-in-month"
	KindPublicHoliday   = "public-holiday"
	KindExecutionStatus = "execution-status"
)

var registry = map[string]protocol.ConditionFactory{
	KindExpression:      NewExpressionCondition,
	KindTimeWindow:      NewTimeWindowCondition,
	KindWeekdayInMonth:  NewWeekdayInMonthCondition,
	KindPublicHoliday:   NewPublicHolidayCondition,
	KindExecutionStatus: NewExecutionStatusCondition,
}

// FromDefinition builds the condition declared by the definition.
func FromDefinition(definition models.ConditionDefinition) (protocol.Condition, error) {
	factory, ok := registry[definition.Type]
	if !ok {
		return nil, fmt.Errorf("unknown condition type: %s", definition.Type)
	}

	return factory(definition)
}

// FromDefinitions builds every condition in the list, preserving order.
func FromDefinitions(definitions []models.ConditionDefinition) ([]protocol.Condition, error) {
	built := make([]protocol.Condition, 0, len(definitions))

	for _, definition := range definitions {
		condition, err := FromDefinition(definition)
		if err != nil {
			return nil, err
		}

		built = append(built, condition)
	}

	return built, nil
}

func configString(config map[string]any, key string) string {
	value, _ := config[key].(string)

	return value
}
