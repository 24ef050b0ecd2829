package agentsmdsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
)

func ccWithFiles(files []canonical.FileChange) *canonical.Context {
	return &canonical.Context{
		Capabilities: canonical.Capabilities{
			ListChangedFiles: func(ctx context.Context) (canonical.FileIterator, error) {
				return canonical.NewSliceIterator(files), nil
			},
		},
	}
}

func TestRun_CodeChangeWithDocUpdatePasses(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "internal/foo/foo.go", Status: canonical.FileModified},
		{Path: "internal/foo/AGENTS.md", Status: canonical.FileModified},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
}

func TestRun_CodeChangeWithoutDocUpdateFails(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "internal/foo/foo.go", Status: canonical.FileModified},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)

	require.Equal(t, gateregistry.StatusFail, outcome.Status)
	require.Len(t, outcome.Violations, 1)
	assert.Equal(t, "internal/foo", outcome.Violations[0].Path)
}

func TestRun_ReadmeDoesNotSatisfyDocSync(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "internal/foo/foo.go", Status: canonical.FileModified},
		{Path: "internal/foo/README.md", Status: canonical.FileModified},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusFail, outcome.Status)
}

func TestRun_RemovedFilesDoNotRequireDocSync(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "internal/foo/foo.go", Status: canonical.FileRemoved},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
}

func TestRun_RootDirectoryUsesBarePattern(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "main.go", Status: canonical.FileModified},
		{Path: "AGENTS.md", Status: canonical.FileModified},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
}

func TestRun_CapabilityUnavailableIsNeutral(t *testing.T) {
	cc := &canonical.Context{}
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{}, nil)
	assert.Equal(t, gateregistry.StatusNeutral, outcome.Status)
	assert.Equal(t, "capability_unavailable", outcome.NeutralReason)
}

func TestRun_CustomDocPattern(t *testing.T) {
	cc := ccWithFiles([]canonical.FileChange{
		{Path: "pkg/bar.go", Status: canonical.FileModified},
		{Path: "pkg/NOTES.md", Status: canonical.FileModified},
	})
	gate := New()
	outcome := gate.Run(context.Background(), cc, gateregistry.GateConfig{"doc_pattern": "NOTES.md"}, nil)
	assert.Equal(t, gateregistry.StatusPass, outcome.Status)
}
