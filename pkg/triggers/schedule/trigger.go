// Package schedule implements the cron-driven trigger kind. Cron arithmetic
// happens in the trigger's declared timezone; every date handed to the rest
// of the engine is normalized to UTC.
package schedule

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/tidehq/tideflow/pkg/models"
	"github.com/tidehq/tideflow/pkg/protocol"
)

var configSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"cron": map[string]any{
			"type":        "string",
			"description": "Standard five-field cron expression",
		},
		"timezone": map[string]any{
			"type":        "string",
			"description": "IANA timezone the cron expression is evaluated in",
		},
	},
	"required": []any{"cron"},
}

// Trigger evaluates cron schedules into executions.
type Trigger struct {
	logger *slog.Logger
}

// NewTrigger creates the schedule trigger kind.
func NewTrigger(logger *slog.Logger) *Trigger {
	return &Trigger{logger: logger.With("module", "schedule_trigger")}
}

func (t *Trigger) Kind() string {
	return models.TriggerTypeSchedule
}

// ValidateConfig checks a trigger definition's config against the schema and
// the cron parser.
func (t *Trigger) ValidateConfig(definition models.TriggerDefinition) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(configSchema),
		gojsonschema.NewGoLoader(definition.Config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate schedule config: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, problem := range result.Errors() {
			problems = append(problems, problem.String())
		}

		return fmt.Errorf("%w: %s", models.ErrInvalidTrigger, strings.Join(problems, "; "))
	}

	_, _, err = t.schedule(definition)

	return err
}

func (t *Trigger) schedule(definition models.TriggerDefinition) (cron.Schedule, *time.Location, error) {
	expr, _ := definition.Config["cron"].(string)
	if expr == "" {
		return nil, nil, fmt.Errorf("%w: schedule trigger %s requires a cron expression", models.ErrInvalidTrigger, definition.ID)
	}

	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid cron expression %q: %w", models.ErrInvalidTrigger, expr, err)
	}

	location := time.UTC

	if tz, _ := definition.Config["timezone"].(string); tz != "" {
		location, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid timezone %q: %w", models.ErrInvalidTrigger, tz, err)
		}
	}

	return parsed, location, nil
}

// NextEvaluationDate computes the next occurrence strictly after last, or
// after now when no occurrence fired yet.
func (t *Trigger) NextEvaluationDate(definition models.TriggerDefinition, last *time.Time) (time.Time, error) {
	parsed, location, err := t.schedule(definition)
	if err != nil {
		return time.Time{}, err
	}

	base := time.Now().UTC()
	if last != nil {
		base = *last
	}

	return parsed.Next(base.In(location)).UTC(), nil
}

// Evaluate materializes the execution for one occurrence: trigger-declared
// default inputs merged under caller overrides, a correlation label, and the
// trigger's declared labels rendered against the occurrence context.
func (t *Trigger) Evaluate(ctx context.Context, req protocol.EvaluateRequest) (*models.Execution, error) {
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
		Type:      models.TriggerTypeSchedule,
		Variables: variables,
	}

	execution = execution.WithLabel(models.Label{Key: models.LabelCorrelationID, Value: execution.ID})

	for _, label := range req.Definition.Labels {
		execution = execution.WithLabel(models.Label{
			Key:   label.Key,
			Value: t.renderLabel(ctx, label.Value, req),
		})
	}

	return &execution, nil
}

// renderLabel renders a label value template against the occurrence context.
// Unrenderable expressions degrade to an empty string rather than failing the
// whole evaluation.
func (t *Trigger) renderLabel(ctx context.Context, value string, req protocol.EvaluateRequest) string {
	if !strings.Contains(value, "{{") {
		return value
	}

	tmpl, err := template.New("label").Parse(value)
	if err != nil {
		t.logger.WarnContext(ctx, "Unrenderable trigger label, degrading to empty",
			"trigger_id", req.Definition.ID, "value", value, "error", err)

		return ""
	}

	data := map[string]any{
		"FlowID":    req.Flow.ID,
		"Namespace": req.Flow.Namespace,
		"TriggerID": req.Definition.ID,
		"Date":      req.Date.Format(time.RFC3339),
		"Variables": req.Variables,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		t.logger.WarnContext(ctx, "Unrenderable trigger label, degrading to empty",
			"trigger_id", req.Definition.ID, "value", value, "error", err)

		return ""
	}

	return buf.String()
}
