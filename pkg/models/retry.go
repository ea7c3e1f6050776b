package models

import (
	"math/rand"
	"time"
)

// RetryType selects the backoff strategy.
type RetryType string

const (
	RetryTypeConstant    RetryType = "constant"
	RetryTypeExponential RetryType = "exponential"
	RetryTypeRandom      RetryType = "random"
)

// Retry configures retries for a task. MaxAttempts of zero means unlimited
// attempts; MaxDuration of zero means no deadline.
type Retry struct {
	Type        RetryType     `json:"type"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	MaxDuration time.Duration `json:"max_duration,omitempty"`
	Interval    time.Duration `json:"interval,omitempty"`
	MaxInterval time.Duration `json:"max_interval,omitempty"`
	Multiplier  float64       `json:"multiplier,omitempty"`
}

// NextRetryDate computes when attempt number attemptCount+1 should run,
// relative to base.
func (r Retry) NextRetryDate(attemptCount int, base time.Time) time.Time {
	switch r.Type {
	case RetryTypeExponential:
		multiplier := r.Multiplier
		if multiplier <= 1 {
			multiplier = 2
		}

		delay := float64(r.Interval)
		for i := 1; i < attemptCount; i++ {
			delay *= multiplier
		}

		if r.MaxInterval > 0 && time.Duration(delay) > r.MaxInterval {
			delay = float64(r.MaxInterval)
		}

		return base.Add(time.Duration(delay))
	case RetryTypeRandom:
		min := int64(r.Interval)
		max := int64(r.MaxInterval)

		if max <= min {
			return base.Add(r.Interval)
		}

		return base.Add(time.Duration(min + rand.Int63n(max-min)))
	default:
		return base.Add(r.Interval)
	}
}
