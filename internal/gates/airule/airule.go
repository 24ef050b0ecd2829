// Package airule implements the ai-rule gate: the pipeline that loads a
// rule, delegates evidence-gathering and LLM invocation to the workflow
// engine, validates the provider result, and evaluates success criteria.
package airule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/criteria"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/ruleloader"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
)

type Gate struct {
	engine   *workflow.Engine
	rulesDir string
}

func New(engine *workflow.Engine, rulesDir string) *Gate {
	if rulesDir == "" {
		rulesDir = ruleloader.DefaultRulesDir
	}
	return &Gate{engine: engine, rulesDir: rulesDir}
}

func stringFromConfig(cfg gateregistry.GateConfig, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func int64FromConfig(cfg gateregistry.GateConfig, key string, def int64) int64 {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return def
	}
}

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()
	neutralOnError := true
	if v, ok := cfg["neutral_on_error"].(bool); ok {
		neutralOnError = v
	}

	onError := func(reason string, err error) gateregistry.Outcome {
		if neutralOnError {
			return gateregistry.Outcome{
				Status:        gateregistry.StatusNeutral,
				NeutralReason: reason,
				DurationMS:    time.Since(start).Milliseconds(),
			}
		}
		stats := map[string]any{}
		if err != nil {
			stats["error"] = err.Error()
		}
		return gateregistry.Outcome{
			Status:     gateregistry.StatusFail,
			Stats:      stats,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	// 1. Load rule.
	ruleFile := stringFromConfig(cfg, "rule_file")
	rulesDir := stringFromConfig(cfg, "rules_dir")
	if rulesDir == "" {
		rulesDir = g.rulesDir
	}
	loadResult := ruleloader.Load(ctx, cc, rulesDir, ruleFile)
	if !loadResult.OK {
		// Load failures are defined neutral outcomes regardless of the
		// neutral_on_error policy, which governs only workflow errors.
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: string(loadResult.Reason),
			Stats:         map[string]any{"diagnostic": loadResult.Diagnostic},
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}
	rule := loadResult.Rule

	// 2 & 3. Build workflow input and call the workflow. The gate does
	// not extract or transform evidence itself.
	// A failed call and a failed result are distinct: the provider/
	// breaker not answering is provider_error, while an answer that
	// fails schema validation is invalid_provider_result.
	timeoutMS := int64FromConfig(cfg, "timeout_ms", 110000)
	result, err := g.engine.Evaluate(ctx, workflow.Input{CC: cc, Rule: rule}, workflow.Options{TimeoutMS: timeoutMS})
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrProviderUnavailable):
			return onError("provider_error", err)
		case errors.Is(err, workflow.ErrInvalidResult):
			return onError("invalid_provider_result", err)
		default:
			return onError("internal_error", err)
		}
	}

	// 4. ProviderResult was already validated against the rule's dynamic
	// schema inside Evaluate; project the declared metrics that came
	// back (missing ones are left to success-criteria evaluation below).
	metricValues := make(map[string]float64, len(rule.Evaluations))
	var observations []string
	for _, eval := range rule.Evaluations {
		m, ok := result.Metrics[eval.MetricID]
		if !ok {
			continue
		}
		metricValues[eval.MetricID] = m.Value
		observations = append(observations, m.Observations...)
	}

	// 5. Evaluate success criteria.
	evalResult := criteria.Eval(metricValues, rule.Criteria)

	var status gateregistry.Status
	var neutralReason string
	switch evalResult.Status {
	case criteria.StatusPass:
		status = gateregistry.StatusPass
	case criteria.StatusNeutral:
		status = gateregistry.StatusNeutral
		neutralReason = "missing_metrics"
	default:
		status = gateregistry.StatusFail
	}

	var violations []gateregistry.Violation
	for _, failed := range evalResult.Failed {
		violations = append(violations, gateregistry.Violation{
			Code:    "criteria_not_met",
			Message: fmt.Sprintf("criterion %q did not hold", failed),
			Level:   "error",
		})
	}

	return gateregistry.Outcome{
		Status:        status,
		NeutralReason: neutralReason,
		Violations:    violations,
		Observations:  observations,
		ProviderResult: result,
		Rule:           rule,
		Provenance: map[string]any{
			"workflow_id": result.Provenance.WorkflowID,
			"model":       result.Provenance.Model,
			"environment": result.Provenance.Environment,
			"duration_ms": result.Provenance.DurationMS,
			"run_id":      result.Provenance.RunID,
		},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
