// Package persistence provides the data storage abstraction layer for flows,
// executions, trigger cursors and multiple-condition windows.
package persistence

import (
	"context"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
)

// ExecutionFilter selects executions for range queries and purge.
type ExecutionFilter struct {
	TenantID    string
	Namespace   string
	FlowID      string
	States      []models.StateType
	EndedBefore *time.Time
}

type FlowRepository interface {
	All(ctx context.Context) ([]*models.Flow, error)
	ByID(ctx context.Context, tenantID, namespace, id string) (*models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, tenantID, namespace, id string) error
}

type ExecutionRepository interface {
	ByID(ctx context.Context, tenantID, id string) (*models.Execution, error)
	Save(ctx context.Context, execution *models.Execution) error
	Delete(ctx context.Context, tenantID, id string) error
	Find(ctx context.Context, filter ExecutionFilter) ([]*models.Execution, error)

	// ByTriggerExecutionID returns executions whose trigger lineage points to
	// the given upstream execution id (sub-flow executions, kill cascade).
	ByTriggerExecutionID(ctx context.Context, tenantID, executionID string) ([]*models.Execution, error)
}

type TriggerRepository interface {
	Find(ctx context.Context, tenantID, namespace, flowID, triggerID string) (*models.TriggerContext, error)
	All(ctx context.Context) ([]*models.TriggerContext, error)

	// Save persists the cursor with optimistic concurrency: the stored
	// version must equal expectedVersion or ErrVersionConflict is returned.
	// A cursor is created when expectedVersion is zero and none exists yet.
	// The stored version is incremented on success and reflected on the
	// passed cursor.
	Save(ctx context.Context, trigger *models.TriggerContext, expectedVersion int) error

	Delete(ctx context.Context, trigger *models.TriggerContext) error
}

type WindowRepository interface {
	Find(ctx context.Context, tenantID, namespace, flowID, conditionID, correlationKey string) (*models.MultipleConditionWindow, error)
	Save(ctx context.Context, window *models.MultipleConditionWindow) error
	Delete(ctx context.Context, window *models.MultipleConditionWindow) error

	// Expired returns windows whose validity interval elapsed before now.
	Expired(ctx context.Context, tenantID string, now time.Time) ([]*models.MultipleConditionWindow, error)
}

type LogRepository interface {
	DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error)
}

type MetricRepository interface {
	DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error)
}

type Persistence interface {
	FlowRepository() FlowRepository
	ExecutionRepository() ExecutionRepository
	TriggerRepository() TriggerRepository
	WindowRepository() WindowRepository
	LogRepository() LogRepository
	MetricRepository() MetricRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
