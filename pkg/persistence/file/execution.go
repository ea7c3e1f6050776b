package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// ExecutionRepository stores executions as one JSON document per execution.
// Range queries scan the directory; acceptable for the dev backend.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{dir: filepath.Join(root, "executions")}
}

func (r *ExecutionRepository) path(tenantID, id string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.json", tenantID, id))
}

func (r *ExecutionRepository) ByID(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution := &models.Execution{}

	err := readJSON(r.path(tenantID, id), execution)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.path(execution.TenantID, execution.ID), execution)
}

func (r *ExecutionRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(tenantID, id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
	}

	return err
}

func (r *ExecutionRepository) Find(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	executions, err := r.all()
	if err != nil {
		return nil, err
	}

	var matches []*models.Execution

	for _, execution := range executions {
		if !matchesFilter(execution, filter) {
			continue
		}

		matches = append(matches, execution)
	}

	return matches, nil
}

func (r *ExecutionRepository) ByTriggerExecutionID(ctx context.Context, tenantID, executionID string) ([]*models.Execution, error) {
	executions, err := r.all()
	if err != nil {
		return nil, err
	}

	var matches []*models.Execution

	for _, execution := range executions {
		if execution.TenantID != tenantID {
			continue
		}

		if execution.Trigger.ExecutionID() == executionID {
			matches = append(matches, execution)
		}
	}

	return matches, nil
}

func (r *ExecutionRepository) all() ([]*models.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths, err := listJSON(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := make([]*models.Execution, 0, len(paths))

	for _, path := range paths {
		execution := &models.Execution{}
		if err := readJSON(path, execution); err != nil {
			return nil, fmt.Errorf("failed to read execution %s: %w", path, err)
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func matchesFilter(execution *models.Execution, filter persistence.ExecutionFilter) bool {
	if filter.TenantID != "" && execution.TenantID != filter.TenantID {
		return false
	}

	if filter.Namespace != "" && execution.Namespace != filter.Namespace {
		return false
	}

	if filter.FlowID != "" && execution.FlowID != filter.FlowID {
		return false
	}

	if len(filter.States) > 0 {
		found := false

		for _, state := range filter.States {
			if execution.State.Current == state {
				found = true

				break
			}
		}

		if !found {
			return false
		}
	}

	if filter.EndedBefore != nil {
		endDate, ok := execution.State.EndDate()
		if !ok || !endDate.Before(*filter.EndedBefore) {
			return false
		}
	}

	return true
}
