// Package mocks provides testify mock implementations of the persistence and
// event bus interfaces for unit tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/persistence"
)

// MockFlowRepository is a mock implementation of persistence.FlowRepository.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) All(ctx context.Context) ([]*models.Flow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) ByID(ctx context.Context, tenantID, namespace, id string) (*models.Flow, error) {
	args := m.Called(ctx, tenantID, namespace, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	args := m.Called(ctx, flow)

	return args.Error(0)
}

func (m *MockFlowRepository) Delete(ctx context.Context, tenantID, namespace, id string) error {
	args := m.Called(ctx, tenantID, namespace, id)

	return args.Error(0)
}

// MockExecutionRepository is a mock implementation of
// persistence.ExecutionRepository.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) ByID(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockExecutionRepository) Delete(ctx context.Context, tenantID, id string) error {
	args := m.Called(ctx, tenantID, id)

	return args.Error(0)
}

func (m *MockExecutionRepository) Find(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.Execution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockExecutionRepository) ByTriggerExecutionID(ctx context.Context, tenantID, executionID string) ([]*models.Execution, error) {
	args := m.Called(ctx, tenantID, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

// MockTriggerRepository is a mock implementation of
// persistence.TriggerRepository.
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) Find(ctx context.Context, tenantID, namespace, flowID, triggerID string) (*models.TriggerContext, error) {
	args := m.Called(ctx, tenantID, namespace, flowID, triggerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TriggerContext), args.Error(1)
}

func (m *MockTriggerRepository) All(ctx context.Context) ([]*models.TriggerContext, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TriggerContext), args.Error(1)
}

func (m *MockTriggerRepository) Save(ctx context.Context, trigger *models.TriggerContext, expectedVersion int) error {
	args := m.Called(ctx, trigger, expectedVersion)

	return args.Error(0)
}

func (m *MockTriggerRepository) Delete(ctx context.Context, trigger *models.TriggerContext) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

// MockWindowRepository is a mock implementation of
// persistence.WindowRepository.
type MockWindowRepository struct {
	mock.Mock
}

func (m *MockWindowRepository) Find(ctx context.Context, tenantID, namespace, flowID, conditionID, correlationKey string) (*models.MultipleConditionWindow, error) {
	args := m.Called(ctx, tenantID, namespace, flowID, conditionID, correlationKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.MultipleConditionWindow), args.Error(1)
}

func (m *MockWindowRepository) Save(ctx context.Context, window *models.MultipleConditionWindow) error {
	args := m.Called(ctx, window)

	return args.Error(0)
}

func (m *MockWindowRepository) Delete(ctx context.Context, window *models.MultipleConditionWindow) error {
	args := m.Called(ctx, window)

	return args.Error(0)
}

func (m *MockWindowRepository) Expired(ctx context.Context, tenantID string, now time.Time) ([]*models.MultipleConditionWindow, error) {
	args := m.Called(ctx, tenantID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.MultipleConditionWindow), args.Error(1)
}

// MockLogRepository is a mock implementation of persistence.LogRepository.
type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	args := m.Called(ctx, tenantID, executionID)

	return args.Int(0), args.Error(1)
}

// MockMetricRepository is a mock implementation of
// persistence.MetricRepository.
type MockMetricRepository struct {
	mock.Mock
}

func (m *MockMetricRepository) DeleteByExecutionID(ctx context.Context, tenantID, executionID string) (int, error) {
	args := m.Called(ctx, tenantID, executionID)

	return args.Int(0), args.Error(1)
}

// MockPersistence aggregates the repository mocks behind the
// persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Flows      *MockFlowRepository
	Executions *MockExecutionRepository
	Triggers   *MockTriggerRepository
	Windows    *MockWindowRepository
	Logs       *MockLogRepository
	Metrics    *MockMetricRepository
}

// NewMockPersistence creates a MockPersistence with every repository mock
// initialized.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Flows:      new(MockFlowRepository),
		Executions: new(MockExecutionRepository),
		Triggers:   new(MockTriggerRepository),
		Windows:    new(MockWindowRepository),
		Logs:       new(MockLogRepository),
		Metrics:    new(MockMetricRepository),
	}
}

func (m *MockPersistence) FlowRepository() persistence.FlowRepository {
	return m.Flows
}

func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

func (m *MockPersistence) TriggerRepository() persistence.TriggerRepository {
	return m.Triggers
}

func (m *MockPersistence) WindowRepository() persistence.WindowRepository {
	return m.Windows
}

func (m *MockPersistence) LogRepository() persistence.LogRepository {
	return m.Logs
}

func (m *MockPersistence) MetricRepository() persistence.MetricRepository {
	return m.Metrics
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
