package specloader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
)

const validSpecYAML = `
schema_version: "1"
intent:
  name: widget-review
  goals:
    - ship widget support
  non_goals:
    - no database migrations
gates:
  - type: review-limits
    with:
      max_changed_files: 25
  - type: ai-rule
    id: no-breaking-changes
required_status_contexts:
  - ci
`

func ccServingSpec(body string, err error) *canonical.Context {
	calls := 0
	return &canonical.Context{
		Capabilities: canonical.Capabilities{
			GetFile: func(ctx context.Context, path, ref string) ([]byte, error) {
				calls++
				if err != nil {
					return nil, err
				}
				return []byte(body), nil
			},
		},
	}
}

func TestLoad_ValidSpec(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec(validSpecYAML, nil)

	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.True(t, result.OK)
	assert.Equal(t, "1", result.Spec.SchemaVersion)
	require.Len(t, result.Spec.Gates, 2)
	assert.Equal(t, "review-limits", result.Spec.Gates[0].Type)
	assert.Equal(t, "no-breaking-changes", result.Spec.Gates[1].ID)
	assert.NotEmpty(t, result.Spec.Hash)
}

func TestLoad_MissingSpecFile(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec("", canonical.ErrNotFound)

	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.False(t, result.OK)
	assert.Equal(t, ReasonMissing, result.Reason)
}

func TestLoad_InvalidYAML(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec("not: valid: yaml: at: all:", nil)

	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.False(t, result.OK)
	assert.Equal(t, ReasonInvalidYAML, result.Reason)
}

func TestLoad_SchemaViolationMissingRequiredFields(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec("intent:\n  name: x\n", nil)

	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.False(t, result.OK)
	assert.Equal(t, ReasonSchemaViolation, result.Reason)
}

func TestLoad_CachesByContentHash(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec(validSpecYAML, nil)

	first := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.True(t, first.OK)
	second := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.True(t, second.OK)
	assert.Equal(t, first.Spec.Hash, second.Spec.Hash)
}

func TestLoad_CapabilityUnavailable(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := &canonical.Context{}

	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.False(t, result.OK)
	assert.Equal(t, ReasonFetchError, result.Reason)
}

func TestClearForTests(t *testing.T) {
	loader, lerr := New(metrics.New())
	require.NoError(t, lerr)
	cc := ccServingSpec(validSpecYAML, nil)

	_ = loader.Load(context.Background(), cc, "acme/widgets", "main")
	loader.ClearForTests()
	// a cleared cache should still serve a fresh load without error
	result := loader.Load(context.Background(), cc, "acme/widgets", "main")
	require.True(t, result.OK)
}
