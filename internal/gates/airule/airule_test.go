package airule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
)

type fakeProvider struct {
	metrics map[string]workflow.MetricResult
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req workflow.CompletionRequest) (workflow.CompletionResponse, error) {
	if f.err != nil {
		return workflow.CompletionResponse{}, f.err
	}
	return workflow.CompletionResponse{Metrics: f.metrics, Summary: "ok", RunID: "run-1"}, nil
}

func staticModel(appEnv string) string { return "claude-test" }

const validRuleYAML = `
id: no-breaking-changes
workflow_id: ai-rule-eval
evaluations:
  - alignment: "does this preserve backward compatibility?"
success_criteria:
  require:
    - metric: alignment
      gte: 0.7
`

func ccWithRuleFile(body string) *canonical.Context {
	return &canonical.Context{
		Head: canonical.RefPoint{SHA: "abc"},
		Capabilities: canonical.Capabilities{
			GetFile: func(ctx context.Context, path, ref string) ([]byte, error) {
				return []byte(body), nil
			},
		},
	}
}

func TestRun_PassesWhenMetricSatisfiesCriteria(t *testing.T) {
	provider := &fakeProvider{metrics: map[string]workflow.MetricResult{
		"alignment": {Value: 0.85, Observations: []string{"matches stated goal"}},
	}}
	engine := workflow.NewEngine(provider, "prod", staticModel)
	gate := New(engine, "")

	cc := ccWithRuleFile(validRuleYAML)
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"rule_file": "no-breaking-changes.yaml"}, nil)

	require.Equal(t, gateregistry.StatusPass, outcome.Status)
	assert.Contains(t, outcome.Observations, "matches stated goal")
	assert.Equal(t, "ai-rule-eval", outcome.Provenance["workflow_id"])
}

func TestRun_FailsWhenMetricBelowThreshold(t *testing.T) {
	provider := &fakeProvider{metrics: map[string]workflow.MetricResult{
		"alignment": {Value: 0.2},
	}}
	engine := workflow.NewEngine(provider, "prod", staticModel)
	gate := New(engine, "")

	cc := ccWithRuleFile(validRuleYAML)
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"rule_file": "no-breaking-changes.yaml"}, nil)

	require.Equal(t, gateregistry.StatusFail, outcome.Status)
	require.Len(t, outcome.Violations, 1)
	assert.Equal(t, "criteria_not_met", outcome.Violations[0].Code)
}

func TestRun_NeutralOnMissingRuleFile(t *testing.T) {
	engine := workflow.NewEngine(&fakeProvider{}, "prod", staticModel)
	gate := New(engine, "")

	cc := &canonical.Context{}
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)

	assert.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "no_rule_file", outcome.NeutralReason)
}

func TestRun_NeutralOnErrorFalseFailsOnWorkflowError(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded}
	engine := workflow.NewEngine(provider, "prod", staticModel)
	gate := New(engine, "")

	cc := ccWithRuleFile(validRuleYAML)
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{
		"rule_file":        "no-breaking-changes.yaml",
		"neutral_on_error": false,
	}, nil)

	assert.Equal(t, gateregistry.StatusFail, outcome.Status)
	assert.NotEmpty(t, outcome.Stats["error"])
}

func TestRun_LoadFailureStaysNeutralDespiteNeutralOnErrorFalse(t *testing.T) {
	engine := workflow.NewEngine(&fakeProvider{}, "prod", staticModel)
	gate := New(engine, "")

	cc := &canonical.Context{}
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"neutral_on_error": false}, nil)

	assert.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "no_rule_file", outcome.NeutralReason)
}

func TestRun_ProviderUnavailableIsNeutralProviderError(t *testing.T) {
	provider := &fakeProvider{err: context.DeadlineExceeded}
	engine := workflow.NewEngine(provider, "prod", staticModel)
	gate := New(engine, "")

	cc := ccWithRuleFile(validRuleYAML)
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"rule_file": "no-breaking-changes.yaml"}, nil)

	assert.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "provider_error", outcome.NeutralReason)
}

func TestRun_InvalidMetricValueOutOfRangeIsNeutral(t *testing.T) {
	provider := &fakeProvider{metrics: map[string]workflow.MetricResult{
		"alignment": {Value: 1.5},
	}}
	engine := workflow.NewEngine(provider, "prod", staticModel)
	gate := New(engine, "")

	cc := ccWithRuleFile(validRuleYAML)
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"rule_file": "no-breaking-changes.yaml"}, nil)

	assert.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "invalid_provider_result", outcome.NeutralReason)
}
