package forbiddenscopes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

func TestRun_NonGoalsDeclaredPasses(t *testing.T) {
	cc := &canonical.Context{Intent: canonical.Intent{NonGoals: []string{"no schema migrations"}}}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
	assert.Equal(t, 1, outcome.Stats["non_goal_count"])
}

func TestRun_NoNonGoalsIsNeutral(t *testing.T) {
	cc := &canonical.Context{}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	require.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "missing_forbidden_scopes", outcome.NeutralReason)
}
