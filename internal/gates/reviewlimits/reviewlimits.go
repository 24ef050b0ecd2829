// Package reviewlimits implements the review-limits deterministic local
// gate: it checks the change's size against configured file-count and
// diff-size limits.
package reviewlimits

import (
	"context"
	"math"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

// Gate implements gateregistry.Gate for "review-limits".
type Gate struct{}

func New() *Gate { return &Gate{} }

func intFromConfig(cfg gateregistry.GateConfig, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// ResolveConfig parses a review-limits gate declaration's `with` block
// into the limits AI gates read off the context. The orchestrator calls
// this during run-context initialization, before any gate launches, so
// concurrent gates never observe a partially resolved value.
func ResolveConfig(cfg gateregistry.GateConfig) canonical.ReviewLimitsConfig {
	return canonical.ReviewLimitsConfig{
		MaxChangedFiles: intFromConfig(cfg, "max_changed_files", 0),
		MaxTotalDiffKB:  intFromConfig(cfg, "max_total_diff_kb", 0),
		Resolved:        true,
	}
}

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	limits := ResolveConfig(cfg)
	maxChangedFiles := limits.MaxChangedFiles
	maxTotalDiffKB := limits.MaxTotalDiffKB

	changedFiles := cc.Size.ChangedFiles
	additions := cc.Size.Additions
	deletions := cc.Size.Deletions

	if changedFiles == 0 && cc.HasCapability("list_changed_files") {
		if it, err := cc.Capabilities.ListChangedFiles(ctx); err == nil {
			changedFiles, additions, deletions = 0, 0, 0
			for {
				fc, ok, err := it.Next(ctx)
				if err != nil || !ok {
					break
				}
				changedFiles++
				additions += fc.Additions
				deletions += fc.Deletions
			}
		}
	}

	totalDiffKB := int(math.Ceil(float64(additions+deletions) / 3.0))

	var violations []gateregistry.Violation
	if maxChangedFiles > 0 && changedFiles > maxChangedFiles {
		violations = append(violations, gateregistry.Violation{
			Code:    "max_changed_files",
			Message: "changed file count exceeds configured limit",
			Level:   "error",
			Meta:    map[string]any{"actual": changedFiles, "limit": maxChangedFiles},
		})
	}
	if maxTotalDiffKB > 0 && totalDiffKB > maxTotalDiffKB {
		violations = append(violations, gateregistry.Violation{
			Code:    "max_total_diff_kb",
			Message: "total diff size exceeds configured limit",
			Level:   "error",
			Meta:    map[string]any{"actual": totalDiffKB, "limit": maxTotalDiffKB},
		})
	}

	status := gateregistry.StatusPass
	if len(violations) > 0 {
		status = gateregistry.StatusFail
	}

	return gateregistry.Outcome{
		Status:     status,
		Violations: violations,
		Stats: map[string]any{
			"changed_files": changedFiles,
			"total_diff_kb": totalDiffKB,
		},
		DurationMS: time.Since(start).Milliseconds(),
	}
}
