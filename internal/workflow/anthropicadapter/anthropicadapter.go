// Package anthropicadapter implements workflow.Provider against the
// Anthropic API. It is the one concrete LLM adapter this module ships.
package anthropicadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
)

// Adapter wraps an Anthropic client.
type Adapter struct {
	client *anthropic.Client
}

// New constructs an Adapter from an API key. An empty key is allowed at
// construction time (dev environments without the capability configured)
// and surfaces as a provider error on first Complete call instead.
func New(apiKey string) *Adapter {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Adapter{client: client}
}

func (a *Adapter) Name() string { return "anthropic" }

// responseEnvelope is the wire shape the prompt instructs the model to
// emit: one {value, observations} pair per metric id, plus a summary.
// Complete only decodes it; workflow.Engine.Evaluate validates the
// decoded result against the rule's dynamic schema before using it.
type responseEnvelope struct {
	Metrics map[string]struct {
		Value        float64  `json:"value"`
		Observations []string `json:"observations"`
	} `json:"metrics"`
	Summary string `json:"summary"`
}

func (a *Adapter) Complete(ctx context.Context, req workflow.CompletionRequest) (workflow.CompletionResponse, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(req.Model)),
		MaxTokens: anthropic.F(int64(2048)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt + "\n\nRespond with JSON only, matching: {\"metrics\": {\"<metric_id>\": {\"value\": number, \"observations\": [string]}}, \"summary\": string}")),
		}),
	})
	if err != nil {
		return workflow.CompletionResponse{}, fmt.Errorf("anthropicadapter: completion request: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			text += block.Text
		}
	}

	var envelope responseEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return workflow.CompletionResponse{}, fmt.Errorf("anthropicadapter: parsing model response: %w", err)
	}

	metrics := make(map[string]workflow.MetricResult, len(envelope.Metrics))
	for id, m := range envelope.Metrics {
		metrics[id] = workflow.MetricResult{Value: m.Value, Observations: m.Observations}
	}

	return workflow.CompletionResponse{
		Metrics: metrics,
		Summary: envelope.Summary,
		RunID:   msg.ID,
	}, nil
}
