package conditions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// WeekdayInMonthCondition matches candidate dates that are the nth occurrence
// of a weekday within their month, e.g. the first Monday or the last Friday.
type WeekdayInMonthCondition struct {
	weekday    time.Weekday
	occurrence string
}

var weekdays = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

var occurrences = map[string]bool{
	"FIRST":  true,
	"SECOND": true,
	"THIRD":  true,
	"FOURTH": true,
	"LAST":   true,
}

// NewWeekdayInMonthCondition reads "day_of_week" and "day_in_month" config
// keys.
func NewWeekdayInMonthCondition(definition models.ConditionDefinition) (protocol.Condition, error) {
	dayOfWeek := strings.ToUpper(configString(definition.Config, "day_of_week"))

	weekday, ok := weekdays[dayOfWeek]
	if !ok {
		return nil, fmt.Errorf("invalid day of week: %q", dayOfWeek)
	}

	occurrence := strings.ToUpper(configString(definition.Config, "day_in_month"))
	if !occurrences[occurrence] {
		return nil, fmt.Errorf("invalid day in month: %q", occurrence)
	}

	return &WeekdayInMonthCondition{weekday: weekday, occurrence: occurrence}, nil
}

func (c *WeekdayInMonthCondition) Test(_ context.Context, cc protocol.ConditionContext) (bool, error) {
	date := cc.Date

	if date.Weekday() != c.weekday {
		return false, nil
	}

	if c.occurrence == "LAST" {
		return date.AddDate(0, 0, 7).Month() != date.Month(), nil
	}

	nth := (date.Day()-1)/7 + 1

	switch c.occurrence {
	case "FIRST":
		return nth == 1, nil
	case "SECOND":
		return nth == 2, nil
	case "THIRD":
		return nth == 3, nil
	default:
		return nth == 4, nil
	}
}
