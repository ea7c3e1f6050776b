package models

import (
	"fmt"
	"time"
)

// MultipleConditionWindow accumulates the boolean results of a multi-signal
// condition for one correlation key. Windows are purged once fulfilled or
// expired; they must never grow without bound.
type MultipleConditionWindow struct {
	TenantID       string          `json:"tenant_id,omitempty"`
	Namespace      string          `json:"namespace"`
	FlowID         string          `json:"flow_id"`
	ConditionID    string          `json:"condition_id"`
	CorrelationKey string          `json:"correlation_key"`
	Results        map[string]bool `json:"results"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
}

// NewMultipleConditionWindow opens a window for the given validity interval.
// A zero duration means the window is valid until the end of the current
// calendar day (UTC).
func NewMultipleConditionWindow(flow Flow, conditionID, correlationKey string, now time.Time, window time.Duration) MultipleConditionWindow {
	start := now.UTC()

	var end time.Time
	if window > 0 {
		end = start.Add(window)
	} else {
		year, month, day := start.Date()
		end = time.Date(year, month, day, 23, 59, 59, 0, time.UTC)
	}

	return MultipleConditionWindow{
		TenantID:       flow.TenantID,
		Namespace:      flow.Namespace,
		FlowID:         flow.ID,
		ConditionID:    conditionID,
		CorrelationKey: correlationKey,
		Results:        map[string]bool{},
		Start:          start,
		End:            end,
	}
}

// UID identifies the window.
func (w MultipleConditionWindow) UID() string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", w.TenantID, w.Namespace, w.FlowID, w.ConditionID, w.CorrelationKey)
}

// InWindow reports whether the validity interval covers the given instant.
func (w MultipleConditionWindow) InWindow(now time.Time) bool {
	return !now.Before(w.Start) && !now.After(w.End)
}

// Expired reports whether the validity interval has elapsed.
func (w MultipleConditionWindow) Expired(now time.Time) bool {
	return now.After(w.End)
}

// Fulfilled reports whether every declared condition name has a true result.
func (w MultipleConditionWindow) Fulfilled(names []string) bool {
	for _, name := range names {
		if !w.Results[name] {
			return false
		}
	}

	return len(names) > 0
}

// WithResult returns a copy with the given condition result recorded.
func (w MultipleConditionWindow) WithResult(name string, result bool) MultipleConditionWindow {
	results := make(map[string]bool, len(w.Results)+1)
	for k, v := range w.Results {
		results[k] = v
	}

	results[name] = result
	w.Results = results

	return w
}
