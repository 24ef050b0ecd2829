package ruleloader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

func ccWithRuleFile(body string, err error) *canonical.Context {
	return &canonical.Context{
		Head: canonical.RefPoint{SHA: "abc"},
		Capabilities: canonical.Capabilities{
			GetFile: func(ctx context.Context, path, ref string) ([]byte, error) {
				if err != nil {
					return nil, err
				}
				return []byte(body), nil
			},
		},
	}
}

const validRule = `
id: no-breaking-changes
schema_version: "1"
workflow_id: ai-rule-eval
evaluations:
  - alignment: "does the change preserve backward compatibility?"
success_criteria:
  require:
    - metric: alignment
      gte: 0.7
`

func TestLoad_ValidRule(t *testing.T) {
	cc := ccWithRuleFile(validRule, nil)
	result := Load(context.Background(), cc, "", "no-breaking-changes.yaml")
	require.True(t, result.OK)
	assert.Equal(t, "no-breaking-changes", result.Rule.ID)
	assert.Equal(t, "ai-rule-eval", result.Rule.WorkflowID)
	require.Len(t, result.Rule.Evaluations, 1)
	assert.Equal(t, "alignment", result.Rule.Evaluations[0].MetricID)
}

func TestLoad_MissingWorkflowIDIsInvalid(t *testing.T) {
	cc := ccWithRuleFile(`
id: bad
success_criteria:
  require:
    - metric: alignment
      gte: 0.5
`, nil)
	result := Load(context.Background(), cc, "", "bad.yaml")
	require.False(t, result.OK)
	assert.Equal(t, ReasonInvalid, result.Reason)
}

func TestLoad_NoRuleFileConfigured(t *testing.T) {
	cc := ccWithRuleFile(validRule, nil)
	result := Load(context.Background(), cc, "", "")
	require.False(t, result.OK)
	assert.Equal(t, ReasonNoRuleFile, result.Reason)
}

func TestLoad_CapabilityUnavailable(t *testing.T) {
	cc := &canonical.Context{}
	result := Load(context.Background(), cc, "", "rule.yaml")
	require.False(t, result.OK)
	assert.Equal(t, ReasonMissing, result.Reason)
}

func TestLoad_IDFallsBackToFileStem(t *testing.T) {
	cc := ccWithRuleFile(`
workflow_id: ai-rule-eval
success_criteria:
  require:
    - metric: m
      gte: 0.1
`, nil)
	result := Load(context.Background(), cc, "", "goal-alignment.yaml")
	require.True(t, result.OK)
	assert.Equal(t, "goal-alignment", result.Rule.ID)
}

func TestLoad_EmptyCriteriaIsInvalid(t *testing.T) {
	cc := ccWithRuleFile(`
workflow_id: ai-rule-eval
`, nil)
	result := Load(context.Background(), cc, "", "empty.yaml")
	require.False(t, result.OK)
	assert.Equal(t, ReasonInvalid, result.Reason)
}
