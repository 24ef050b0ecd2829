// Package forbiddenscopes implements the forbidden-scopes deterministic
// local gate: a presence-check that the spec's intent.non_goals is
// non-empty, mirroring goaldeclaration's shape for the negative side of
// intent declaration.
package forbiddenscopes

import (
	"context"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

// Gate reads intent.non_goals off the canonical context (see
// goaldeclaration.Gate's doc comment for why: the registry is built once
// at process start and cannot carry per-repo constructor state).
type Gate struct{}

func New() *Gate { return &Gate{} }

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	nonEmpty := 0
	for _, scope := range cc.Intent.NonGoals {
		if scope != "" {
			nonEmpty++
		}
	}

	if nonEmpty == 0 {
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: "missing_forbidden_scopes",
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}

	return gateregistry.Outcome{
		Status:     gateregistry.StatusPass,
		Stats:      map[string]any{"non_goal_count": nonEmpty},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
