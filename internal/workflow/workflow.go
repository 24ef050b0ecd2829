// Package workflow implements the AI workflow: dynamic response-schema
// construction, prompt building, and provider invocation behind a
// pluggable adapter. Provider calls run through a circuit breaker so a
// string of failures fails fast instead of burning the per-gate timeout
// budget.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sony/gobreaker"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/evidence"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
	"github.com/cogni-dao/cogni-reviewd/internal/ruleloader"
)

// ErrProviderUnavailable wraps a failure reaching or completing the LLM
// call itself: adapter/network errors, an open circuit breaker. Distinct
// from ErrInvalidResult so callers can tell "the provider didn't answer"
// from "the provider answered with something unusable".
var ErrProviderUnavailable = errors.New("workflow: provider unavailable")

// ErrInvalidResult wraps a provider response that failed validation
// against the rule's dynamic result schema.
var ErrInvalidResult = errors.New("workflow: invalid provider result")

// MetricResult is one entry of ProviderResult.Metrics.
type MetricResult struct {
	Value        float64  `json:"value"`
	Observations []string `json:"observations"`
}

// Provenance is attached to every ProviderResult.
type Provenance struct {
	WorkflowID  string
	Model       string
	Environment string
	DurationMS  int64
	RunID       string
}

// ProviderResult is the schema-validated output of a workflow invocation.
type ProviderResult struct {
	Metrics    map[string]MetricResult
	Summary    string
	Provenance Provenance
}

// Input bundles what a workflow needs to build a prompt and evidence.
type Input struct {
	CC   *canonical.Context
	Rule ruleloader.Rule
}

// Options configures a single Evaluate call.
type Options struct {
	TimeoutMS int64
}

// Provider is the pluggable LLM adapter seam; internal/workflow/
// anthropicadapter supplies the one concrete implementation.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionRequest is the provider-agnostic request shape built from a
// rule and rendered evidence.
type CompletionRequest struct {
	Model        string
	Prompt       string
	MetricIDs    []string
}

// CompletionResponse is the provider-agnostic response shape; adapters
// are responsible for making their wire format conform to this.
type CompletionResponse struct {
	Metrics map[string]MetricResult `json:"metrics"`
	Summary string                  `json:"summary"`
	RunID   string                  `json:"run_id,omitempty"`
}

// Engine dispatches by workflow_id. Today there is exactly one
// workflow, "ai-rule-eval"; the shape leaves room for more without
// touching the gate.
type Engine struct {
	provider    Provider
	breaker     *gobreaker.CircuitBreaker
	modelForEnv func(appEnv string) string
	appEnv      string
	metrics     *metrics.Metrics
}

// NewEngine wraps provider calls in a circuit breaker keyed by provider
// name, so a run of provider failures fails fast instead of burning the
// remaining per-gate timeout budget on calls likely to fail.
func NewEngine(provider Provider, appEnv string, modelForEnv func(string) string) *Engine {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "workflow:" + provider.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Engine{provider: provider, breaker: cb, appEnv: appEnv, modelForEnv: modelForEnv}
}

// WithMetrics attaches an optional metrics sink recording per-invocation
// workflow latency.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// Evaluate builds evidence and a prompt from the rule, invokes the
// provider, and validates the response before returning it.
func (e *Engine) Evaluate(ctx context.Context, in Input, opts Options) (ProviderResult, error) {
	start := time.Now()
	if e.metrics != nil {
		defer func() {
			e.metrics.WorkflowDurationSeconds.WithLabelValues("ai-rule-eval").Observe(time.Since(start).Seconds())
		}()
	}

	if opts.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	ev, err := evidence.Build(ctx, in.CC, evidence.DefaultBudgets(in.CC).ApplyOverrides(in.Rule.Budgets), capabilitySet(in.Rule))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("workflow: building evidence: %w", err)
	}

	prompt := buildPrompt(in.CC, in.Rule, ev)
	metricIDs := make([]string, 0, len(in.Rule.Evaluations))
	for _, ev := range in.Rule.Evaluations {
		metricIDs = append(metricIDs, ev.MetricID)
	}

	model := e.modelForEnv(e.appEnv)

	result, err := e.breaker.Execute(func() (any, error) {
		return e.provider.Complete(ctx, CompletionRequest{Model: model, Prompt: prompt, MetricIDs: metricIDs})
	})
	if err != nil {
		return ProviderResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	resp := result.(CompletionResponse)

	if err := validateResult(in.Rule, resp); err != nil {
		return ProviderResult{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}

	return ProviderResult{
		Metrics: resp.Metrics,
		Summary: resp.Summary,
		Provenance: Provenance{
			WorkflowID:  "ai-rule-eval",
			Model:       model,
			Environment: e.appEnv,
			DurationMS:  time.Since(start).Milliseconds(),
			RunID:       resp.RunID,
		},
	}, nil
}

// validateResult builds the rule's response schema at runtime and
// validates resp against it; downstream code never assumes a fixed
// metric set, and the result is validated before any use. Only
// metrics the rule actually declares are given a shape constraint;
// declared-but-absent metrics are left for the gate's own success-
// criteria evaluation to notice, so this does not widen which
// ProviderResults the gate treats as usable.
func validateResult(rule ruleloader.Rule, resp CompletionResponse) error {
	schema, err := buildResultSchema(rule)
	if err != nil {
		return fmt.Errorf("building result schema: %w", err)
	}

	// A nil map or slice marshals as JSON null; validate "no metrics" and
	// "no observations" as an empty object and an empty array instead.
	normalized := make(map[string]MetricResult, len(resp.Metrics))
	for id, m := range resp.Metrics {
		if m.Observations == nil {
			m.Observations = []string{}
		}
		normalized[id] = m
	}
	resp.Metrics = normalized

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding provider response: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return schema.Validate(doc)
}

// buildResultSchema constructs the {value, observations} shape for each
// metric_id the rule declares, plus a top-level summary string. This
// mirrors specloader's compile-once-per-document pattern, except the
// document itself varies per rule instead of being fixed at startup.
func buildResultSchema(rule ruleloader.Rule) (*jsonschema.Schema, error) {
	metricProps := make(map[string]any, len(rule.Evaluations))
	for _, e := range rule.Evaluations {
		metricProps[e.MetricID] = map[string]any{
			"type":     "object",
			"required": []string{"value", "observations"},
			"properties": map[string]any{
				"value":        map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				"observations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		}
	}

	doc := map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"metrics": map[string]any{
				"type":       "object",
				"properties": metricProps,
			},
			"summary": map[string]any{"type": "string"},
		},
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	resource := "provider-result-" + rule.ID + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, schemaDoc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}

func capabilitySet(rule ruleloader.Rule) map[evidence.Capability]bool {
	if len(rule.Capabilities) == 0 {
		return map[evidence.Capability]bool{evidence.CapabilityDiffSummary: true}
	}
	out := make(map[evidence.Capability]bool, len(rule.Capabilities))
	for k, v := range rule.Capabilities {
		out[evidence.Capability(k)] = v
	}
	return out
}

func buildPrompt(cc *canonical.Context, rule ruleloader.Rule, ev evidence.Evidence) string {
	prompt := fmt.Sprintf("PR Title: %s\nPR Body: %s\n\nDiff summary:\n%s\n\nEvaluate the following metrics independently, each in [0,1], with 1-5 observations per metric:\n",
		cc.Title, cc.Body, ev.DiffSummary)
	for i, e := range rule.Evaluations {
		prompt += fmt.Sprintf("\n<metric_id=%q index=%d>\n%s\n</metric_id>\n", e.MetricID, i, e.Statement)
	}
	if ev.FilePatches != "" {
		prompt += "\n" + ev.FilePatches
	}
	return prompt
}
