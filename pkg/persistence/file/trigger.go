package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// TriggerRepository stores trigger cursors as one JSON document per cursor.
// The version compare-and-swap is enforced under the repository mutex, which
// is enough for a single-process dev backend.
type TriggerRepository struct {
	dir string
	mu  sync.Mutex
}

func NewTriggerRepository(root string) *TriggerRepository {
	return &TriggerRepository{dir: filepath.Join(root, "triggers")}
}

func (r *TriggerRepository) path(uid string) string {
	return filepath.Join(r.dir, uid+".json")
}

func (r *TriggerRepository) Find(ctx context.Context, tenantID, namespace, flowID, triggerID string) (*models.TriggerContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid := models.TriggerContext{TenantID: tenantID, Namespace: namespace, FlowID: flowID, TriggerID: triggerID}.UID()

	return r.read(uid)
}

func (r *TriggerRepository) All(ctx context.Context) ([]*models.TriggerContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths, err := listJSON(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list trigger cursors: %w", err)
	}

	cursors := make([]*models.TriggerContext, 0, len(paths))

	for _, path := range paths {
		cursor := &models.TriggerContext{}
		if err := readJSON(path, cursor); err != nil {
			return nil, fmt.Errorf("failed to read trigger cursor %s: %w", path, err)
		}

		cursors = append(cursors, cursor)
	}

	return cursors, nil
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.TriggerContext, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.read(trigger.UID())

	switch {
	case err == nil:
		if existing.Version != expectedVersion {
			return fmt.Errorf("%w: trigger %s has version %d, expected %d",
				persistence.ErrVersionConflict, trigger.UID(), existing.Version, expectedVersion)
		}
	case errors.Is(err, persistence.ErrTriggerNotFound):
		if expectedVersion != 0 {
			return fmt.Errorf("%w: trigger %s does not exist, expected version %d",
				persistence.ErrVersionConflict, trigger.UID(), expectedVersion)
		}
	default:
		// An unreadable cursor must never be clobbered.
		return err
	}

	trigger.Version = expectedVersion + 1
	trigger.UpdatedDate = time.Now().UTC()

	return writeJSON(r.path(trigger.UID()), trigger)
}

func (r *TriggerRepository) Delete(ctx context.Context, trigger *models.TriggerContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := os.Remove(r.path(trigger.UID()))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", persistence.ErrTriggerNotFound, trigger.UID())
	}

	return err
}

func (r *TriggerRepository) read(uid string) (*models.TriggerContext, error) {
	cursor := &models.TriggerContext{}

	err := readJSON(r.path(uid), cursor)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrTriggerNotFound, uid)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read trigger cursor %s: %w", uid, err)
	}

	return cursor, nil
}
