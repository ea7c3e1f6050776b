// Package file provides a file-based persistence implementation for flows,
// executions, trigger cursors and multiple-condition windows. Intended for
// development and tests.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/tidehq/tideflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface on top of the
// local file system.
type Persistence struct {
	root       string
	flows      *FlowRepository
	executions *ExecutionRepository
	triggers   *TriggerRepository
	windows    *WindowRepository
	logs       *LogRepository
	metrics    *MetricRepository
}

// NewPersistence creates a Persistence rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:       cleanRoot,
		flows:      NewFlowRepository(cleanRoot),
		executions: NewExecutionRepository(cleanRoot),
		triggers:   NewTriggerRepository(cleanRoot),
		windows:    NewWindowRepository(cleanRoot),
		logs:       NewLogRepository(cleanRoot),
		metrics:    NewMetricRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. Nothing to do for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flows
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executions
}

func (fp *Persistence) TriggerRepository() persistence.TriggerRepository {
	return fp.triggers
}

func (fp *Persistence) WindowRepository() persistence.WindowRepository {
	return fp.windows
}

func (fp *Persistence) LogRepository() persistence.LogRepository {
	return fp.logs
}

func (fp *Persistence) MetricRepository() persistence.MetricRepository {
	return fp.metrics
}
