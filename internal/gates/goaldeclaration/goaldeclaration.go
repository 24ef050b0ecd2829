// Package goaldeclaration implements the goal-declaration deterministic
// local gate: a presence-check that the spec's intent.goals is non-empty.
package goaldeclaration

import (
	"context"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

// Gate reads intent.goals off the canonical context, which the
// orchestrator populates from the per-delivery specification before any
// gate runs — the gate registry itself is a closed mapping built once at
// process start and cannot carry per-repo state.
type Gate struct{}

func New() *Gate { return &Gate{} }

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	nonEmpty := 0
	for _, goal := range cc.Intent.Goals {
		if goal != "" {
			nonEmpty++
		}
	}

	if nonEmpty == 0 {
		return gateregistry.Outcome{
			Status: gateregistry.StatusFail,
			Violations: []gateregistry.Violation{{
				Code:    "missing_goal_declaration",
				Message: "intent.goals must declare at least one non-empty goal",
				Level:   "error",
			}},
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	return gateregistry.Outcome{
		Status:     gateregistry.StatusPass,
		Stats:      map[string]any{"goal_count": nonEmpty},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
