// Package orchestrator turns a repository specification into a
// deterministic list of gate outcomes under a global deadline. Gates are
// launched in parallel, one goroutine each, into a buffered result slice
// indexed by spec position rather than an append-as-you-go channel
// drain, so the output order never depends on completion order.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/reviewlimits"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
	"github.com/cogni-dao/cogni-reviewd/internal/specloader"
)

// DefaultDeadline is the default global deadline for one delivery.
const DefaultDeadline = 120 * time.Second

// AnnotationBudget is the default per-delivery annotation allowance.
const AnnotationBudget = 50

// ConclusionReason enumerates the documented conclusion reasons.
type ConclusionReason string

const (
	ReasonNoGatesExecuted ConclusionReason = "no_gates_executed"
	ReasonGatesFailed     ConclusionReason = "gates_failed"
	ReasonGlobalTimeout   ConclusionReason = "global_timeout"
	ReasonGateTimeouts    ConclusionReason = "gate_timeouts"
	ReasonGatesNeutral    ConclusionReason = "gates_neutral"
	ReasonAllGatesPassed  ConclusionReason = "all_gates_passed"

	// ReasonMissingSpec and ReasonInvalidSpec back the short-circuit
	// path: a missing or invalid spec never reaches gate execution at
	// all, so these never appear alongside the aggregation reasons above.
	// SpecFailureSummary is the only producer of a RunSummary carrying
	// one.
	ReasonMissingSpec ConclusionReason = "missing_spec"
	ReasonInvalidSpec ConclusionReason = "invalid_spec"
)

// NamedOutcome pairs a stable gate id with its outcome, preserving the
// declared type for reporting.
type NamedOutcome struct {
	ID     string
	Type   string
	Outcome gateregistry.Outcome
}

// ExecutionSummary carries run-level counts and flags.
type ExecutionSummary struct {
	GatesDeclared int
	GatesExecuted int
	PartialExecution bool
	DurationMS       int64
}

// RunSummary is the aggregated result of one delivery's gate run.
type RunSummary struct {
	OverallStatus    gateregistry.Status
	Gates            []NamedOutcome
	ExecutionSummary ExecutionSummary
	ConclusionReason ConclusionReason
}

// Options configures one run_all invocation.
type Options struct {
	DeadlineMS int64
}

// Orchestrator owns the gate registry and metrics sink; it is
// constructed once per process and reused across deliveries — it holds
// no per-delivery mutable state itself.
type Orchestrator struct {
	registry *gateregistry.Registry
	metrics  *metrics.Metrics
}

func New(registry *gateregistry.Registry, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{registry: registry, metrics: m}
}

// stableGateID derives the stable id for a spec-declared gate entry.
// A spec-provided id always overrides a handler-reported one. Duplicate
// type+id pairs run as separate outcomes disambiguated by their spec
// index.
func stableGateID(decl specloader.GateDecl, index int, seen map[string]int) string {
	base := decl.ID
	if base == "" {
		base = decl.Type
	}
	seen[base]++
	if seen[base] > 1 {
		return fmt.Sprintf("%s#%d", base, index)
	}
	return base
}

// RunAll executes every gate the spec declares and aggregates their
// outcomes into a RunSummary ordered by spec position.
func (o *Orchestrator) RunAll(ctx context.Context, cc *canonical.Context, spec specloader.Specification, opts Options) RunSummary {
	start := time.Now()

	deadlineMS := opts.DeadlineMS
	if deadlineMS <= 0 {
		deadlineMS = DefaultDeadline.Milliseconds()
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(deadlineMS)*time.Millisecond)
	defer cancel()

	abort := make(chan struct{})
	go func() {
		<-runCtx.Done()
		close(abort)
	}()

	cc.Deadline = time.Now().Add(time.Duration(deadlineMS) * time.Millisecond)
	cc.Abort = abort
	cc.AnnotationBudget = AnnotationBudget
	cc.IdempotencyKey = IdempotencyKey(cc, spec.Hash)
	cc.Intent = canonical.Intent{
		Name:     spec.Intent.Name,
		Goals:    spec.Intent.Goals,
		NonGoals: spec.Intent.NonGoals,
	}
	cc.RequiredStatusContexts = spec.RequiredStatusContexts

	// Resolve review-limits before any gate launches: the evidence
	// builder reads cc.ReviewLimitsConfig from concurrently running AI
	// gates, so it must be written here, not as a gate side effect.
	for _, decl := range spec.Gates {
		if decl.Type == "review-limits" {
			cc.ReviewLimitsConfig = reviewlimits.ResolveConfig(gateregistry.GateConfig(decl.With))
			break
		}
	}

	results := make([]NamedOutcome, len(spec.Gates))
	seen := make(map[string]int, len(spec.Gates))
	ids := make([]string, len(spec.Gates))
	for i, decl := range spec.Gates {
		ids[i] = stableGateID(decl, i, seen)
	}

	var mu sync.Mutex
	launched := 0
	aborted := false

	g, gctx := errgroup.WithContext(runCtx)
	for i, decl := range spec.Gates {
		i, decl := i, decl

		mu.Lock()
		if isAborted(abort) {
			aborted = true
			results[i] = NamedOutcome{ID: ids[i], Type: decl.Type, Outcome: gateregistry.Outcome{
				Status: gateregistry.StatusNeutral, NeutralReason: "timeout",
			}}
			mu.Unlock()
			continue
		}
		launched++
		mu.Unlock()

		g.Go(func() error {
			results[i] = o.runOne(gctx, cc, decl, ids[i])
			return nil
		})
	}
	_ = g.Wait()

	// A deadline that expired while gates were in flight is still a
	// partial execution when it cut at least one gate short: that gate
	// reported timeout instead of running to completion, even though it
	// was launched. Gates that completed before the deadline keep their
	// own outcomes.
	if runCtx.Err() != nil {
		for _, r := range results {
			if r.Outcome.Status == gateregistry.StatusNeutral && r.Outcome.NeutralReason == "timeout" {
				aborted = true
				break
			}
		}
	}

	summary := RunSummary{
		Gates: results,
		ExecutionSummary: ExecutionSummary{
			GatesDeclared:    len(spec.Gates),
			GatesExecuted:    launched,
			PartialExecution: aborted || launched < len(spec.Gates),
			DurationMS:       time.Since(start).Milliseconds(),
		},
	}

	summary.OverallStatus, summary.ConclusionReason = aggregate(results, summary.ExecutionSummary)
	return summary
}

// SpecFailureSummary builds the single-outcome RunSummary published when
// the spec could not be loaded at all: no gate launches, and the check
// goes out as a failure so the repo owner sees that a spec is required
// rather than a silent no-op. Short-circuiting is the orchestrator's
// decision, not the loader's, which is why it lives here rather than in
// specloader.
func SpecFailureSummary(loaderReason specloader.Reason, diagnostic string) RunSummary {
	reason := ReasonInvalidSpec
	if loaderReason == specloader.ReasonMissing {
		reason = ReasonMissingSpec
	}

	outcome := gateregistry.Outcome{
		Status:        gateregistry.StatusFail,
		NeutralReason: string(reason),
		Violations: []gateregistry.Violation{{
			Code:    string(loaderReason),
			Message: diagnostic,
			Level:   "error",
		}},
	}

	return RunSummary{
		OverallStatus: gateregistry.StatusFail,
		Gates:         []NamedOutcome{{ID: "spec", Type: "spec", Outcome: outcome}},
		ExecutionSummary: ExecutionSummary{
			GatesDeclared: 0,
			GatesExecuted: 0,
		},
		ConclusionReason: reason,
	}
}

func isAborted(abort <-chan struct{}) bool {
	select {
	case <-abort:
		return true
	default:
		return false
	}
}

// IdempotencyKey derives the "<full_name>:<pr>:<head_sha>:<spec_hash or
// 'nospec'>" key, exported so callers that short-circuit before RunAll
// (a missing/invalid spec) can publish with the same idempotency
// guarantee a normal run gets.
func IdempotencyKey(cc *canonical.Context, specHash string) string {
	hash := specHash
	if hash == "" {
		hash = "nospec"
	}
	return fmt.Sprintf("%s:%d:%s:%s", cc.Repo.FullName, cc.Number, cc.Head.SHA, hash)
}

func (o *Orchestrator) runOne(ctx context.Context, cc *canonical.Context, decl specloader.GateDecl, id string) NamedOutcome {
	start := time.Now()
	gateLog := cc.Log
	if gateLog != nil {
		gateLog = gateLog.With("gate_id", id, "gate_type", decl.Type)
	}

	impl, ok := o.registry.Resolve(decl.Type)
	if !ok {
		outcome := gateregistry.Outcome{Status: gateregistry.StatusNeutral, NeutralReason: "unimplemented_gate"}
		o.record(decl.Type, outcome, time.Since(start))
		return NamedOutcome{ID: id, Type: decl.Type, Outcome: outcome}
	}

	outcome := o.invoke(ctx, cc, impl, decl, gateLog)
	outcome = normalize(outcome)
	o.record(decl.Type, outcome, time.Since(start))
	return NamedOutcome{ID: id, Type: decl.Type, Outcome: outcome}
}

// invoke recovers from gate panics: a malformed gate must degrade the
// run, never crash the delivery.
func (o *Orchestrator) invoke(ctx context.Context, cc *canonical.Context, impl gateregistry.Gate, decl specloader.GateDecl, log canonical.Logger) (outcome gateregistry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = gateregistry.Outcome{
				Status:        gateregistry.StatusNeutral,
				NeutralReason: "malformed_output",
				Stats:         map[string]any{"error": fmt.Sprintf("panic: %v", r)},
			}
		}
	}()

	select {
	case <-cc.Abort:
		return gateregistry.Outcome{Status: gateregistry.StatusNeutral, NeutralReason: "timeout"}
	default:
	}

	return impl.Run(ctx, cc, gateregistry.GateConfig(decl.With), log)
}

// normalize clamps a gate's returned outcome: unknown status, missing
// violation fields, or negative duration never propagate.
func normalize(o gateregistry.Outcome) gateregistry.Outcome {
	switch o.Status {
	case gateregistry.StatusPass, gateregistry.StatusFail, gateregistry.StatusNeutral:
	default:
		return gateregistry.Outcome{Status: gateregistry.StatusNeutral, NeutralReason: "malformed_output"}
	}
	if o.DurationMS < 0 {
		o.DurationMS = 0
	}
	var violations []gateregistry.Violation
	for _, v := range o.Violations {
		if v.Level == "" {
			v.Level = "error"
		}
		violations = append(violations, v)
	}
	o.Violations = violations
	return o
}

func (o *Orchestrator) record(gateType string, outcome gateregistry.Outcome, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordGate(gateType, string(outcome.Status), d.Seconds())
}

// aggregate resolves the overall status by precedence: fail beats
// partial execution, which beats gate timeouts, which beat any other
// neutral, which beats all-pass.
func aggregate(results []NamedOutcome, summary ExecutionSummary) (gateregistry.Status, ConclusionReason) {
	if len(results) == 0 {
		return gateregistry.StatusNeutral, ReasonNoGatesExecuted
	}

	anyFail := false
	anyNeutral := false
	anyTimeout := false
	allPass := true

	for _, r := range results {
		switch r.Outcome.Status {
		case gateregistry.StatusFail:
			anyFail = true
			allPass = false
		case gateregistry.StatusNeutral:
			anyNeutral = true
			allPass = false
			if r.Outcome.NeutralReason == "timeout" {
				anyTimeout = true
			}
		default:
			if r.Outcome.Status != gateregistry.StatusPass {
				allPass = false
			}
		}
	}

	if anyFail {
		return gateregistry.StatusFail, ReasonGatesFailed
	}
	if summary.PartialExecution {
		return gateregistry.StatusNeutral, ReasonGlobalTimeout
	}
	if anyNeutral && anyTimeout {
		return gateregistry.StatusNeutral, ReasonGateTimeouts
	}
	if anyNeutral {
		return gateregistry.StatusNeutral, ReasonGatesNeutral
	}
	if allPass {
		return gateregistry.StatusPass, ReasonAllGatesPassed
	}
	return gateregistry.StatusNeutral, ReasonGatesNeutral
}
