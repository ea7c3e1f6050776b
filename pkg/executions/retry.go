package executions

import (
	"time"

	"github.com/tidehq/tideflow/pkg/models"
)

// NextRetryDate computes when the task run's next attempt should start, or
// nil when retries are exhausted: either the attempt budget is spent or the
// computed date would fall outside the execution's max-duration window,
// anchored on the original creation date so restarts do not extend it.
func NextRetryDate(retry models.Retry, taskRun models.TaskRun, execution models.Execution, base time.Time) *time.Time {
	if retry.MaxAttempts > 0 && taskRun.AttemptCount() >= retry.MaxAttempts {
		return nil
	}

	next := retry.NextRetryDate(taskRun.AttemptCount(), base)

	if retry.MaxDuration > 0 {
		deadline := execution.Metadata.OriginalCreatedDate.Add(retry.MaxDuration)
		if next.After(deadline) {
			return nil
		}
	}

	return &next
}
