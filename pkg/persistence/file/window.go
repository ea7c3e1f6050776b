package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// WindowRepository stores multiple-condition windows as one JSON document per
// window.
type WindowRepository struct {
	dir string
	mu  sync.RWMutex
}

func NewWindowRepository(root string) *WindowRepository {
	return &WindowRepository{dir: filepath.Join(root, "windows")}
}

func (r *WindowRepository) path(uid string) string {
	return filepath.Join(r.dir, uid+".json")
}

func (r *WindowRepository) Find(ctx context.Context, tenantID, namespace, flowID, conditionID, correlationKey string) (*models.MultipleConditionWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	uid := models.MultipleConditionWindow{
		TenantID:       tenantID,
		Namespace:      namespace,
		FlowID:         flowID,
		ConditionID:    conditionID,
		CorrelationKey: correlationKey,
	}.UID()

	window := &models.MultipleConditionWindow{}

	err := readJSON(r.path(uid), window)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrWindowNotFound, uid)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read window %s: %w", uid, err)
	}

	return window, nil
}

func (r *WindowRepository) Save(ctx context.Context, window *models.MultipleConditionWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeJSON(r.path(window.UID()), window)
}

func (r *WindowRepository) Delete(ctx context.Context, window *models.MultipleConditionWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(window.UID()))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", persistence.ErrWindowNotFound, window.UID())
	}

	return err
}

func (r *WindowRepository) Expired(ctx context.Context, tenantID string, now time.Time) ([]*models.MultipleConditionWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths, err := listJSON(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	var expired []*models.MultipleConditionWindow

	for _, path := range paths {
		window := &models.MultipleConditionWindow{}
		if err := readJSON(path, window); err != nil {
			return nil, fmt.Errorf("failed to read window %s: %w", path, err)
		}

		if window.TenantID != tenantID {
			continue
		}

		if window.Expired(now) {
			expired = append(expired, window)
		}
	}

	return expired, nil
}
