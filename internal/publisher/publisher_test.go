package publisher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/orchestrator"
	"github.com/cogni-dao/cogni-reviewd/internal/store"
)

type fakeLedger struct {
	published map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{published: map[string]bool{}}
}

func (f *fakeLedger) HasPublished(ctx context.Context, idempotencyKey string) (bool, error) {
	return f.published[idempotencyKey], nil
}

func (f *fakeLedger) RecordPublished(ctx context.Context, rec store.IdempotencyRecord) error {
	f.published[rec.Key] = true
	return nil
}

func ccForPublish(idempotencyKey string) (*canonical.Context, *int) {
	calls := 0
	cc := &canonical.Context{
		Repo:           canonical.Repo{FullName: "acme/widgets"},
		Number:         4,
		Head:           canonical.RefPoint{SHA: "deadbeef"},
		IdempotencyKey: idempotencyKey,
		Capabilities: canonical.Capabilities{
			PublishCheck: func(ctx context.Context, payload canonical.CheckPayload, key string) (canonical.CheckRef, error) {
				calls++
				return canonical.CheckRef{ID: "1"}, nil
			},
		},
	}
	return cc, &calls
}

func passingSummary() orchestrator.RunSummary {
	return orchestrator.RunSummary{
		OverallStatus:    gateregistry.StatusPass,
		ConclusionReason: orchestrator.ReasonAllGatesPassed,
		Gates: []orchestrator.NamedOutcome{
			{ID: "review-limits", Type: "review-limits", Outcome: gateregistry.Outcome{Status: gateregistry.StatusPass}},
		},
	}
}

func TestPublish_IdempotentAcrossTwoIdenticalRuns(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)
	cc, calls := ccForPublish("acme/widgets:4:deadbeef:hash1")

	require.NoError(t, pub.Publish(context.Background(), cc, passingSummary(), false))
	require.NoError(t, pub.Publish(context.Background(), cc, passingSummary(), false))

	assert.Equal(t, 1, *calls)
}

func TestPublish_DifferentKeysPublishSeparately(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)

	cc1, calls1 := ccForPublish("acme/widgets:4:sha1:hash1")
	cc2, calls2 := ccForPublish("acme/widgets:4:sha2:hash1")

	require.NoError(t, pub.Publish(context.Background(), cc1, passingSummary(), false))
	require.NoError(t, pub.Publish(context.Background(), cc2, passingSummary(), false))

	assert.Equal(t, 1, *calls1)
	assert.Equal(t, 1, *calls2)
}

func TestPublish_MissingCapabilityErrors(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)
	cc := &canonical.Context{IdempotencyKey: "k"}

	err := pub.Publish(context.Background(), cc, passingSummary(), false)
	require.Error(t, err)
}

func TestPublish_ChunksAnnotationsOverFifty(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)
	cc, calls := ccForPublish("acme/widgets:4:deadbeef:hash2")

	var gates []orchestrator.NamedOutcome
	var violations []gateregistry.Violation
	for i := 0; i < 120; i++ {
		violations = append(violations, gateregistry.Violation{Code: "x", Path: "a.go", Line: i + 1, Level: "error"})
	}
	gates = append(gates, orchestrator.NamedOutcome{ID: "artifact.sarif", Type: "artifact.sarif", Outcome: gateregistry.Outcome{
		Status: gateregistry.StatusFail, Violations: violations,
	}})
	summary := orchestrator.RunSummary{OverallStatus: gateregistry.StatusFail, ConclusionReason: orchestrator.ReasonGatesFailed, Gates: gates}

	require.NoError(t, pub.Publish(context.Background(), cc, summary, false))
	assert.Equal(t, 3, *calls) // 120 annotations / 50 per chunk = 3 chunks
}

func TestPublish_SkipsStaleComment(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)

	postCommentCalls := 0
	cc := &canonical.Context{
		Repo:           canonical.Repo{FullName: "acme/widgets"},
		Number:         4,
		Head:           canonical.RefPoint{SHA: "oldsha"},
		IdempotencyKey: "acme/widgets:4:oldsha:hash3",
		Capabilities: canonical.Capabilities{
			PublishCheck: func(ctx context.Context, payload canonical.CheckPayload, key string) (canonical.CheckRef, error) {
				return canonical.CheckRef{ID: "1"}, nil
			},
			PostComment: func(ctx context.Context, number int, body string) (canonical.CommentRef, error) {
				postCommentCalls++
				return canonical.CommentRef{ID: "1"}, nil
			},
			CurrentHeadSHA: func(ctx context.Context) (string, error) {
				return "newsha", nil
			},
		},
	}

	require.NoError(t, pub.Publish(context.Background(), cc, passingSummary(), true))
	assert.Equal(t, 0, postCommentCalls)
}

func TestPublish_CommentsWhenHeadUnchanged(t *testing.T) {
	ledger := newFakeLedger()
	pub := New(ledger)

	postCommentCalls := 0
	cc := &canonical.Context{
		Repo:           canonical.Repo{FullName: "acme/widgets"},
		Number:         4,
		Head:           canonical.RefPoint{SHA: "samesha"},
		IdempotencyKey: "acme/widgets:4:samesha:hash4",
		Capabilities: canonical.Capabilities{
			PublishCheck: func(ctx context.Context, payload canonical.CheckPayload, key string) (canonical.CheckRef, error) {
				return canonical.CheckRef{ID: "1"}, nil
			},
			PostComment: func(ctx context.Context, number int, body string) (canonical.CommentRef, error) {
				postCommentCalls++
				return canonical.CommentRef{ID: "1"}, nil
			},
			CurrentHeadSHA: func(ctx context.Context) (string, error) {
				return "samesha", nil
			},
		},
	}

	require.NoError(t, pub.Publish(context.Background(), cc, passingSummary(), true))
	assert.Equal(t, 1, postCommentCalls)
}

func TestConclusionFor(t *testing.T) {
	assert.Equal(t, "success", conclusionFor(gateregistry.StatusPass))
	assert.Equal(t, "failure", conclusionFor(gateregistry.StatusFail))
	assert.Equal(t, "neutral", conclusionFor(gateregistry.StatusNeutral))
}

func TestChunkAnnotations(t *testing.T) {
	anns := make([]canonical.Annotation, 125)
	chunks := chunkAnnotations(anns, 50)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 50)
	assert.Len(t, chunks[2], 25)
}
