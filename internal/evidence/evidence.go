// Package evidence renders the deterministic, size-bounded evidence an
// ai-rule gate feeds to a workflow: fixed sort order, explicit
// truncation, plain string concatenation instead of a templating
// engine.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// Budgets are the resolved size limits for one evidence build. Rule-level
// x_budgets override the defaults derived from review-limits.
type Budgets struct {
	MaxFiles             int
	MaxPatchBytesPerFile int
	MaxPatches           int
}

// DefaultBudgets computes budgets: max_files from
// cc.ReviewLimitsConfig.MaxChangedFiles (25 fallback), fixed defaults
// for the rest.
func DefaultBudgets(cc *canonical.Context) Budgets {
	b := Budgets{
		MaxFiles:             25,
		MaxPatchBytesPerFile: 16000,
		MaxPatches:           3,
	}
	if cc.ReviewLimitsConfig.Resolved && cc.ReviewLimitsConfig.MaxChangedFiles > 0 {
		b.MaxFiles = cc.ReviewLimitsConfig.MaxChangedFiles
	}
	return b
}

// ApplyOverrides merges a rule's x_budgets onto b, field by field.
func (b Budgets) ApplyOverrides(overrides map[string]int) Budgets {
	out := b
	if v, ok := overrides["max_files"]; ok {
		out.MaxFiles = v
	}
	if v, ok := overrides["max_patch_bytes_per_file"]; ok {
		out.MaxPatchBytesPerFile = v
	}
	if v, ok := overrides["max_patches"]; ok {
		out.MaxPatches = v
	}
	return out
}

// Capability controls which sections Build renders.
type Capability string

const (
	CapabilityDiffSummary Capability = "diff_summary"
	CapabilityFilePatches Capability = "file_patches"
)

const truncationSuffix = "\n… [truncated]"

// Evidence is the rendered result handed to the AI workflow.
type Evidence struct {
	DiffSummary string
	FilePatches string
}

// Build renders evidence deterministically: for identical cc, budgets,
// and capabilities, the output bytes are identical.
func Build(ctx context.Context, cc *canonical.Context, budgets Budgets, capabilities map[Capability]bool) (Evidence, error) {
	if !capabilities[CapabilityDiffSummary] || !cc.HasCapability("list_changed_files") {
		return Evidence{DiffSummary: fallbackSummary(cc)}, nil
	}

	files, err := fetchSorted(ctx, cc)
	if err != nil {
		return Evidence{DiffSummary: fallbackSummary(cc)}, nil
	}

	truncatedFiles := files
	if len(truncatedFiles) > budgets.MaxFiles {
		truncatedFiles = truncatedFiles[:budgets.MaxFiles]
	}

	var totalAdd, totalDel int
	for _, f := range files {
		totalAdd += f.Additions
		totalDel += f.Deletions
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d file(s) changed, +%d/−%d total", len(files), totalAdd, totalDel)
	for _, f := range truncatedFiles {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "• %s (%s) +%d/−%d", f.Path, f.Status, f.Additions, f.Deletions)
	}

	ev := Evidence{DiffSummary: sb.String()}

	if capabilities[CapabilityFilePatches] {
		ev.FilePatches = buildPatches(truncatedFiles, budgets)
	}

	return ev, nil
}

func buildPatches(files []canonical.FileChange, budgets Budgets) string {
	var sb strings.Builder
	sb.WriteString("\nTop patches (truncated):\n")
	count := 0
	for _, f := range files {
		if count >= budgets.MaxPatches {
			break
		}
		if f.Patch == "" {
			continue
		}
		fmt.Fprintf(&sb, "=== %s ===\n", f.Path)
		patch := f.Patch
		truncated := false
		if len(patch) > budgets.MaxPatchBytesPerFile {
			patch = patch[:budgets.MaxPatchBytesPerFile]
			truncated = true
		}
		sb.WriteString(patch)
		if truncated {
			sb.WriteString(truncationSuffix)
		}
		sb.WriteString("\n\n")
		count++
	}
	return sb.String()
}

func fallbackSummary(cc *canonical.Context) string {
	return fmt.Sprintf("PR %q modifies %d file(s) (+%d -%d lines)",
		cc.Title, cc.Size.ChangedFiles, cc.Size.Additions, cc.Size.Deletions)
}

func fetchSorted(ctx context.Context, cc *canonical.Context) ([]canonical.FileChange, error) {
	it, err := cc.Capabilities.ListChangedFiles(ctx)
	if err != nil {
		return nil, err
	}
	var files []canonical.FileChange
	for {
		fc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		files = append(files, fc)
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].TotalChanges != files[j].TotalChanges {
			return files[i].TotalChanges > files[j].TotalChanges
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}
