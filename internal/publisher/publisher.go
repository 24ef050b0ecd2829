// Package publisher renders an aggregated RunSummary into a host check
// payload and, optionally, a PR summary comment, applying annotation
// chunking and idempotency guards.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/orchestrator"
	"github.com/cogni-dao/cogni-reviewd/internal/store"
)

// CheckName is the aggregated check's fixed name. Renaming it breaks
// every branch-protection rule that requires it, so it never changes.
const CheckName = "cogni/review"

const annotationChunkSize = 50

// Ledger is the narrow idempotency-store surface Publisher needs.
type Ledger interface {
	HasPublished(ctx context.Context, idempotencyKey string) (bool, error)
	RecordPublished(ctx context.Context, rec store.IdempotencyRecord) error
}

// Publisher renders and publishes a RunSummary.
type Publisher struct {
	ledger Ledger
}

func New(ledger Ledger) *Publisher {
	return &Publisher{ledger: ledger}
}

func conclusionFor(status gateregistry.Status) string {
	switch status {
	case gateregistry.StatusPass:
		return "success"
	case gateregistry.StatusFail:
		return "failure"
	default:
		return "neutral"
	}
}

// Publish builds the aggregated check from a RunSummary and hands it to
// cc.Capabilities.PublishCheck in ≤50-annotation chunks, then optionally
// posts a PR summary comment.
func (p *Publisher) Publish(ctx context.Context, cc *canonical.Context, summary orchestrator.RunSummary, postComment bool) error {
	if already, err := p.ledger.HasPublished(ctx, cc.IdempotencyKey); err == nil && already {
		if cc.Log != nil {
			cc.Log.Debug("skipping duplicate publish", "idempotency_key", cc.IdempotencyKey)
		}
		return nil
	}

	annotations := buildAnnotations(summary.Gates)
	title, text := renderCheckText(summary)

	if !cc.HasCapability("publish_check") {
		return fmt.Errorf("publisher: host does not support publish_check")
	}

	chunks := chunkAnnotations(annotations, annotationChunkSize)
	if len(chunks) == 0 {
		chunks = [][]canonical.Annotation{nil}
	}
	for i, chunk := range chunks {
		payload := canonical.CheckPayload{
			Name:       CheckName,
			HeadSHA:    cc.Head.SHA,
			Conclusion: conclusionFor(summary.OverallStatus),
			Title:      title,
			Summary:    fmt.Sprintf("%s (chunk %d/%d)", text, i+1, len(chunks)),
			Annotations: chunk,
		}
		if _, err := cc.Capabilities.PublishCheck(ctx, payload, cc.IdempotencyKey); err != nil {
			return fmt.Errorf("publisher: publishing check: %w", err)
		}
	}

	if err := p.ledger.RecordPublished(ctx, store.IdempotencyRecord{
		Key:          cc.IdempotencyKey,
		RepoFullName: cc.Repo.FullName,
		HeadSHA:      cc.Head.SHA,
		CheckName:    CheckName,
		PublishedAt:  time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publisher: recording idempotency: %w", err)
	}

	if postComment {
		return p.postSummaryComment(ctx, cc, summary)
	}
	return nil
}

func buildAnnotations(gates []orchestrator.NamedOutcome) []canonical.Annotation {
	var out []canonical.Annotation
	for _, g := range gates {
		for _, v := range g.Outcome.Violations {
			out = append(out, canonical.Annotation{
				Path:    v.Path,
				Line:    v.Line,
				Column:  v.Column,
				Level:   v.Level,
				Message: v.Message,
				Title:   fmt.Sprintf("%s: %s", g.ID, v.Code),
			})
		}
	}
	return out
}

func chunkAnnotations(anns []canonical.Annotation, size int) [][]canonical.Annotation {
	if len(anns) == 0 {
		return nil
	}
	var chunks [][]canonical.Annotation
	for i := 0; i < len(anns); i += size {
		end := i + size
		if end > len(anns) {
			end = len(anns)
		}
		chunks = append(chunks, anns[i:end])
	}
	return chunks
}

func emoji(status gateregistry.Status) string {
	switch status {
	case gateregistry.StatusPass:
		return "✅"
	case gateregistry.StatusFail:
		return "❌"
	default:
		return "⚠️"
	}
}

func renderCheckText(summary orchestrator.RunSummary) (title, text string) {
	title = fmt.Sprintf("%s %s", emoji(summary.OverallStatus), summary.ConclusionReason)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d gate(s) evaluated", len(summary.Gates))
	for _, g := range summary.Gates {
		fmt.Fprintf(&sb, "\n- %s: %s", g.ID, g.Outcome.Status)
	}
	return title, sb.String()
}

func (p *Publisher) postSummaryComment(ctx context.Context, cc *canonical.Context, summary orchestrator.RunSummary) error {
	if !cc.HasCapability("post_comment") {
		return nil
	}

	// Staleness guard: fetch the PR fresh and skip commenting if its
	// head moved since the evaluated commit. Hosts that don't expose the
	// capability skip the guard rather than block the comment outright.
	if cc.HasCapability("current_head_sha") {
		current, err := cc.Capabilities.CurrentHeadSHA(ctx)
		if err == nil && current != "" && current != cc.Head.SHA {
			if cc.Log != nil {
				cc.Log.Info("skipping stale comment", "reason", "sha_mismatch", "evaluated_sha", cc.Head.SHA, "current_sha", current)
			}
			return nil
		}
	}

	body := renderSummaryComment(summary, cc.Head.SHA)
	_, err := cc.Capabilities.PostComment(ctx, cc.Number, body)
	if err != nil {
		return fmt.Errorf("publisher: posting comment: %w", err)
	}
	return nil
}

func renderSummaryComment(summary orchestrator.RunSummary, headSHA string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Cogni Review — %s\n\n", emoji(summary.OverallStatus))

	tallies := map[gateregistry.Status]int{}
	for _, g := range summary.Gates {
		tallies[g.Outcome.Status]++
	}
	fmt.Fprintf(&sb, "pass=%d fail=%d neutral=%d\n\n", tallies[gateregistry.StatusPass], tallies[gateregistry.StatusFail], tallies[gateregistry.StatusNeutral])

	blockers := 0
	for _, g := range summary.Gates {
		if g.Outcome.Status != gateregistry.StatusFail {
			continue
		}
		if blockers >= 3 {
			break
		}
		blockers++
		fmt.Fprintf(&sb, "### %s\n", g.ID)
		shown := 0
		for _, v := range g.Outcome.Violations {
			if shown >= 5 {
				break
			}
			fmt.Fprintf(&sb, "- %s: %s\n", v.Code, v.Message)
			shown++
		}
	}

	shortSHA := headSHA
	if len(shortSHA) > 7 {
		shortSHA = shortSHA[:7]
	}
	fmt.Fprintf(&sb, "\n<!-- cogni:summary v0 sha=%s ts=%d -->", shortSHA, time.Now().UnixMilli())
	return sb.String()
}
