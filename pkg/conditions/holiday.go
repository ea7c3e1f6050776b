package conditions

import (
	"context"
	"fmt"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// PublicHolidayCondition matches candidate dates that fall on one of the
// configured holiday dates ("YYYY-MM-DD" strings). Set "negate" to gate a
// trigger to business days instead.
type PublicHolidayCondition struct {
	holidays map[string]bool
	negate   bool
}

// NewPublicHolidayCondition reads "dates" and optional "negate" config keys.
func NewPublicHolidayCondition(definition models.ConditionDefinition) (protocol.Condition, error) {
	rawDates, _ := definition.Config["dates"].([]any)
	if len(rawDates) == 0 {
		return nil, fmt.Errorf("public-holiday condition requires dates")
	}

	holidays := make(map[string]bool, len(rawDates))

	for _, raw := range rawDates {
		date, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("holiday dates must be strings, got %T", raw)
		}

		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", date, err)
		}

		holidays[date] = true
	}

	negate, _ := definition.Config["negate"].(bool)

	return &PublicHolidayCondition{holidays: holidays, negate: negate}, nil
}

func (c *PublicHolidayCondition) Test(_ context.Context, cc protocol.ConditionContext) (bool, error) {
	isHoliday := c.holidays[cc.Date.Format("2006-01-02")]

	if c.negate {
		return !isHoliday, nil
	}

	return isHoliday, nil
}
