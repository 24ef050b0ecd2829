package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cogni-reviewd.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestInstallation_UpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInstallation(ctx, "123", "acme", "Organization"))
	inst, err := s.GetInstallation(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "acme", inst.AccountLogin)
	assert.Equal(t, "Organization", inst.AccountType)

	require.NoError(t, s.UpsertInstallation(ctx, "123", "acme-renamed", "Organization"))
	inst, err = s.GetInstallation(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "acme-renamed", inst.AccountLogin)
}

func TestInstallation_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInstallation(ctx, "456", "widgets-inc", "User"))
	require.NoError(t, s.DeleteInstallation(ctx, "456"))

	_, err := s.GetInstallation(ctx, "456")
	require.Error(t, err)
}

func TestPublishedChecks_IdempotencyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key := "acme/widgets:4:deadbeef:hash1"
	has, err := s.HasPublished(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.RecordPublished(ctx, IdempotencyRecord{
		Key:          key,
		RepoFullName: "acme/widgets",
		HeadSHA:      "deadbeef",
		CheckName:    "cogni/review",
		PublishedAt:  time.Now().UTC(),
	}))

	has, err = s.HasPublished(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPublishedChecks_DuplicateRecordIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := IdempotencyRecord{Key: "k1", RepoFullName: "acme/widgets", HeadSHA: "sha1", CheckName: "cogni/review", PublishedAt: time.Now().UTC()}
	require.NoError(t, s.RecordPublished(ctx, rec))
	require.NoError(t, s.RecordPublished(ctx, rec))
}
