package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
)

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) Complete(ctx context.Context, req workflow.CompletionRequest) (workflow.CompletionResponse, error) {
	return workflow.CompletionResponse{}, nil
}

func TestNewRegistry_ResolvesEveryDeclaredGateType(t *testing.T) {
	engine := workflow.NewEngine(fakeProvider{}, "dev", func(string) string { return "m" })
	registry := NewRegistry(engine, "")

	for _, gateType := range []string{
		"review-limits",
		"agents-md-sync",
		"governance-policy",
		"goal-declaration",
		"forbidden-scopes",
		"ai-rule",
		"artifact.sarif",
		"artifact.jsonpath",
	} {
		_, ok := registry.Resolve(gateType)
		assert.True(t, ok, gateType)
	}

	_, ok := registry.Resolve("linter")
	assert.False(t, ok)
}

// hostShapedContext mimics what one host adapter hands the pipeline: the
// same underlying diff, with the capability set that host actually
// supports.
func hostShapedContext(hostID string, withListFiles bool, files []canonical.FileChange) *canonical.Context {
	cc := &canonical.Context{
		HostID: hostID,
		Repo:   canonical.Repo{FullName: "acme/widgets"},
		Number: 7,
		Head:   canonical.RefPoint{SHA: "deadbeef"},
	}
	if withListFiles {
		cc.Capabilities.ListChangedFiles = func(ctx context.Context) (canonical.FileIterator, error) {
			return canonical.NewSliceIterator(files), nil
		}
	}
	return cc
}

// A gate run over equivalent diffs must produce the same status on every
// host; only the capability_unavailable degradation may differ when a
// host lacks the operation entirely.
func TestGateOutcomeParityAcrossHosts(t *testing.T) {
	engine := workflow.NewEngine(fakeProvider{}, "dev", func(string) string { return "m" })
	registry := NewRegistry(engine, "")
	gate, ok := registry.Resolve("agents-md-sync")
	require.True(t, ok)

	files := []canonical.FileChange{
		{Path: "internal/foo/foo.go", Status: canonical.FileModified, Additions: 3, TotalChanges: 3},
	}

	github := hostShapedContext("github", true, files)
	gitlab := hostShapedContext("gitlab", true, files)
	local := hostShapedContext("local", true, files)

	cfg := gateregistry.GateConfig{}
	ghOutcome := gate.Run(context.Background(), github, cfg, nil)
	glOutcome := gate.Run(context.Background(), gitlab, cfg, nil)
	lgOutcome := gate.Run(context.Background(), local, cfg, nil)

	assert.Equal(t, ghOutcome.Status, glOutcome.Status)
	assert.Equal(t, ghOutcome.Status, lgOutcome.Status)
	assert.Equal(t, ghOutcome.Violations, glOutcome.Violations)

	// A host without the capability degrades, it does not error.
	bare := hostShapedContext("local", false, nil)
	bareOutcome := gate.Run(context.Background(), bare, cfg, nil)
	assert.Equal(t, gateregistry.StatusNeutral, bareOutcome.Status)
	assert.Equal(t, "capability_unavailable", bareOutcome.NeutralReason)
}
