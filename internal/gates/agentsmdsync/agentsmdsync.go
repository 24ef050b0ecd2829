// Package agentsmdsync implements the agents-md-sync deterministic local
// gate: every directory with a non-doc code change must also include a
// change to its own doc file in the same PR.
package agentsmdsync

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

type Gate struct{}

func New() *Gate { return &Gate{} }

var defaultDocBaseNames = map[string]bool{
	"readme.md":    true,
	"changelog.md": true,
}

func isDocFile(p string, docPattern string) bool {
	base := strings.ToLower(path.Base(p))
	if defaultDocBaseNames[base] {
		return true
	}
	if strings.HasSuffix(base, ".md") {
		return true
	}
	return strings.EqualFold(path.Base(p), docPattern)
}

func (g *Gate) Run(ctx context.Context, cc *canonical.Context, cfg gateregistry.GateConfig, log canonical.Logger) gateregistry.Outcome {
	start := time.Now()

	docPattern, _ := cfg["doc_pattern"].(string)
	if docPattern == "" {
		docPattern = "AGENTS.md"
	}

	if !cc.HasCapability("list_changed_files") {
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: "capability_unavailable",
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}

	it, err := cc.Capabilities.ListChangedFiles(ctx)
	if err != nil {
		return gateregistry.Outcome{
			Status:        gateregistry.StatusNeutral,
			NeutralReason: "api_error",
			Stats:         map[string]any{"error": err.Error()},
			DurationMS:    time.Since(start).Milliseconds(),
		}
	}

	changedPaths := map[string]bool{}
	codeDirs := map[string]bool{}
	for {
		fc, ok, err := it.Next(ctx)
		if err != nil {
			return gateregistry.Outcome{
				Status:        gateregistry.StatusNeutral,
				NeutralReason: "api_error",
				Stats:         map[string]any{"error": err.Error()},
				DurationMS:    time.Since(start).Milliseconds(),
			}
		}
		if !ok {
			break
		}
		changedPaths[fc.Path] = true
		if fc.Status == canonical.FileRemoved {
			continue
		}
		if isDocFile(fc.Path, docPattern) {
			continue
		}
		codeDirs[path.Dir(fc.Path)] = true
	}

	dirs := make([]string, 0, len(codeDirs))
	for dir := range codeDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var violations []gateregistry.Violation
	for _, dir := range dirs {
		docPath := path.Join(dir, docPattern)
		if dir == "." {
			docPath = docPattern
		}
		if !changedPaths[docPath] {
			violations = append(violations, gateregistry.Violation{
				Code:    "agents_md_not_synced",
				Message: "directory changed without a matching " + docPattern + " update",
				Path:    dir,
				Level:   "warning",
			})
		}
	}

	status := gateregistry.StatusPass
	if len(violations) > 0 {
		status = gateregistry.StatusFail
	}

	return gateregistry.Outcome{
		Status:     status,
		Violations: violations,
		DurationMS: time.Since(start).Milliseconds(),
	}
}
