// Package flow implements the flow-to-flow trigger kind: a downstream flow
// fires in reaction to an upstream execution reaching a terminal state.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

// Trigger materializes downstream executions from completed upstream ones.
type Trigger struct {
	logger *slog.Logger
}

// NewTrigger creates the flow trigger kind.
func NewTrigger(logger *slog.Logger) *Trigger {
	return &Trigger{logger: logger.With("module", "flow_trigger")}
}

func (t *Trigger) Kind() string {
	return models.TriggerTypeFlow
}

// Evaluate builds the downstream execution. The upstream execution id is
// recorded in the trigger variables; it forms the lineage used by the kill
// cascade and sub-flow queries. The upstream correlation id is propagated so
// a whole reaction chain shares one correlation label.
func (t *Trigger) Evaluate(_ context.Context, req protocol.EvaluateRequest) (*models.Execution, error) {
	inputs := make(map[string]any, len(req.Definition.Inputs)+len(req.InputOverrides))
	for k, v := range req.Definition.Inputs {
		inputs[k] = v
	}

	for k, v := range req.InputOverrides {
		inputs[k] = v
	}

	execution := models.NewExecution(req.Flow.TenantID, req.Flow.Namespace, req.Flow.ID, req.Flow.Revision, inputs)

	variables := map[string]any{
		"date": req.Date.Format(time.RFC3339),
	}
	for k, v := range req.Variables {
		variables[k] = v
	}

	execution.Trigger = &models.TriggerExecution{
		ID:        req.Definition.ID,
		Type:      models.TriggerTypeFlow,
		Variables: variables,
	}

	correlationID := execution.ID
	if upstream, ok := req.Variables["correlationId"].(string); ok && upstream != "" {
		correlationID = upstream
	}

	execution = execution.WithLabel(models.Label{Key: models.LabelCorrelationID, Value: correlationID})

	for _, label := range req.Definition.Labels {
		execution = execution.WithLabel(label)
	}

	return &execution, nil
}
