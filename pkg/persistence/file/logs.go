package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogRepository keeps execution logs as one .log file per execution. Only
// deletion is needed by the engine core; appending is left to the workers.
type LogRepository struct {
	dir string
	mu  sync.Mutex
}

func NewLogRepository(root string) *LogRepository {
	return &LogRepository{dir: filepath.Join(root, "logs")}
}

func (r *LogRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return deleteByPrefix(r.dir, fmt.Sprintf("%s_%s", tenantID, executionID))
}

// MetricRepository keeps execution metrics as one .json file per execution.
type MetricRepository struct {
	dir string
	mu  sync.Mutex
}

func NewMetricRepository(root string) *MetricRepository {
	return &MetricRepository{dir: filepath.Join(root, "metrics")}
}

func (r *MetricRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return deleteByPrefix(r.dir, fmt.Sprintf("%s_%s", tenantID, executionID))
}

func deleteByPrefix(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}
