package goaldeclaration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

func TestRun_GoalsDeclaredPasses(t *testing.T) {
	cc := &canonical.Context{Intent: canonical.Intent{Goals: []string{"ship feature x"}}}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
	assert.Equal(t, 1, outcome.Stats["goal_count"])
}

func TestRun_NoGoalsFails(t *testing.T) {
	cc := &canonical.Context{}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	require.Equal(t, gateregistry.StatusFail, outcome.Status)
	require.Len(t, outcome.Violations, 1)
	assert.Equal(t, "missing_goal_declaration", outcome.Violations[0].Code)
}

func TestRun_EmptyStringGoalsDoNotCount(t *testing.T) {
	cc := &canonical.Context{Intent: canonical.Intent{Goals: []string{"", ""}}}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusFail, outcome.Status)
}
