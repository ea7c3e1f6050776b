package conditions

import (
	"context"
	"fmt"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// TimeWindowCondition matches candidate dates whose time of day falls inside
// [after, before). Both bounds are "HH:MM" strings; an empty bound is open.
type TimeWindowCondition struct {
	after    *dayTime
	before   *dayTime
	location *time.Location
}

type dayTime struct {
	hour   int
	minute int
}

func parseDayTime(value string) (*dayTime, error) {
	if value == "" {
		return nil, nil
	}

	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return nil, fmt.Errorf("invalid time of day %q: %w", value, err)
	}

	return &dayTime{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}

func (d dayTime) minutes() int {
	return d.hour*60 + d.minute
}

// NewTimeWindowCondition reads "after", "before" and optional "timezone"
// config keys.
func NewTimeWindowCondition(definition models.ConditionDefinition) (protocol.Condition, error) {
	after, err := parseDayTime(configString(definition.Config, "after"))
	if err != nil {
		return nil, err
	}

	before, err := parseDayTime(configString(definition.Config, "before"))
	if err != nil {
		return nil, err
	}

	if after == nil && before == nil {
		return nil, fmt.Errorf("time-window condition requires after and/or before")
	}

	location := time.UTC

	if tz := configString(definition.Config, "timezone"); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	return &TimeWindowCondition{after: after, before: before, location: location}, nil
}

func (c *TimeWindowCondition) Test(_ context.Context, cc protocol.ConditionContext) (bool, error) {
	local := cc.Date.In(c.location)
	minutes := local.Hour()*60 + local.Minute()

	if c.after != nil && minutes < c.after.minutes() {
		return false, nil
	}

	if c.before != nil && minutes >= c.before.minutes() {
		return false, nil
	}

	return true, nil
}
