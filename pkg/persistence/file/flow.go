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

// FlowRepository stores flow definitions as one JSON document per flow.
type FlowRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewFlowRepository(root string) *FlowRepository {
	return &FlowRepository{dir: filepath.Join(root, "flows")}
}

func (r *FlowRepository) path(tenantID, namespace, id string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s_%s.json", tenantID, namespace, id))
}

func (r *FlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths, err := listJSON(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	flows := make([]*models.Flow, 0, len(paths))

	for _, path := range paths {
		flow := &models.Flow{}
		if err := readJSON(path, flow); err != nil {
			return nil, fmt.Errorf("failed to read flow %s: %w", path, err)
		}

		flows = append(flows, flow)
	}

	return flows, nil
}

func (r *FlowRepository) ByID(ctx context.Context, tenantID, namespace, id string) (*models.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow := &models.Flow{}

	err := readJSON(r.path(tenantID, namespace, id), flow)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", persistence.ErrFlowNotFound, namespace, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read flow %s: %w", id, err)
	}

	return flow, nil
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.path(flow.TenantID, flow.Namespace, flow.ID), flow)
}

func (r *FlowRepository) Delete(ctx context.Context, tenantID, namespace, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(tenantID, namespace, id))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s/%s", persistence.ErrFlowNotFound, namespace, id)
	}

	return err
}
