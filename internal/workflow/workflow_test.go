package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/evidence"
	"github.com/cogni-dao/cogni-reviewd/internal/ruleloader"
)

type fakeProvider struct {
	name     string
	response CompletionResponse
	err      error
	calls    int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return CompletionResponse{}, f.err
	}
	return f.response, nil
}

func staticModel(appEnv string) string { return "claude-test-model" }

func TestEvaluate_HappyPath(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		response: CompletionResponse{
			Metrics: map[string]MetricResult{"alignment": {Value: 0.9, Observations: []string{"looks fine"}}},
			Summary: "looks good",
			RunID:   "run-1",
		},
	}
	engine := NewEngine(provider, "prod", staticModel)

	cc := &canonical.Context{Title: "fix thing"}
	rule := ruleloader.Rule{
		WorkflowID:  "ai-rule-eval",
		Evaluations: []ruleloader.Evaluation{{MetricID: "alignment", Statement: "is this aligned?"}},
	}

	result, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.9, result.Metrics["alignment"].Value)
	assert.Equal(t, "ai-rule-eval", result.Provenance.WorkflowID)
	assert.Equal(t, "claude-test-model", result.Provenance.Model)
	assert.Equal(t, "run-1", result.Provenance.RunID)
	assert.Equal(t, 1, provider.calls)
}

func TestEvaluate_ProviderErrorIsProviderUnavailable(t *testing.T) {
	provider := &fakeProvider{name: "fake", err: errors.New("boom")}
	engine := NewEngine(provider, "dev", staticModel)

	cc := &canonical.Context{}
	rule := ruleloader.Rule{WorkflowID: "ai-rule-eval"}

	_, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.False(t, errors.Is(err, ErrInvalidResult))
}

func TestEvaluate_OutOfRangeValueIsInvalidResult(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		response: CompletionResponse{
			Metrics: map[string]MetricResult{"alignment": {Value: 1.4, Observations: []string{"too high"}}},
			Summary: "looks good",
		},
	}
	engine := NewEngine(provider, "dev", staticModel)

	cc := &canonical.Context{}
	rule := ruleloader.Rule{
		WorkflowID:  "ai-rule-eval",
		Evaluations: []ruleloader.Evaluation{{MetricID: "alignment", Statement: "is this aligned?"}},
	}

	_, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidResult))
	assert.False(t, errors.Is(err, ErrProviderUnavailable))
}

func TestEvaluate_MissingDeclaredMetricIsStillValid(t *testing.T) {
	provider := &fakeProvider{
		name: "fake",
		response: CompletionResponse{Summary: "nothing to report"},
	}
	engine := NewEngine(provider, "dev", staticModel)

	cc := &canonical.Context{}
	rule := ruleloader.Rule{
		WorkflowID:  "ai-rule-eval",
		Evaluations: []ruleloader.Evaluation{{MetricID: "alignment", Statement: "is this aligned?"}},
	}

	_, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
	require.NoError(t, err)
}

func TestEvaluate_BreakerTripsAfterConsecutiveFailures(t *testing.T) {
	provider := &fakeProvider{name: "fake", err: errors.New("boom")}
	engine := NewEngine(provider, "dev", staticModel)

	cc := &canonical.Context{}
	rule := ruleloader.Rule{WorkflowID: "ai-rule-eval"}

	for i := 0; i < 5; i++ {
		_, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
		require.Error(t, err)
	}
	require.Equal(t, 5, provider.calls)

	// Breaker is open now: the next call fails fast without reaching the
	// provider at all.
	_, err := engine.Evaluate(context.Background(), Input{CC: cc, Rule: rule}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderUnavailable))
	assert.Equal(t, 5, provider.calls)
}

func TestBuildPrompt_IncludesEvaluationStatements(t *testing.T) {
	cc := &canonical.Context{Title: "add caching", Body: "speeds things up"}
	rule := ruleloader.Rule{
		Evaluations: []ruleloader.Evaluation{
			{MetricID: "alignment", Statement: "does this match the stated goal?"},
		},
	}
	prompt := buildPrompt(cc, rule, evidence.Evidence{DiffSummary: "2 file(s) changed"})
	assert.Contains(t, prompt, "add caching")
	assert.Contains(t, prompt, "does this match the stated goal?")
	assert.Contains(t, prompt, `metric_id="alignment"`)
}
