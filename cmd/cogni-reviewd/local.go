// Local dry-run mode: `cogni-reviewd local <repo-path>` runs the same
// gate pipeline a webhook delivery would, against a canonical.Context
// built from an on-disk git repository instead of a host payload. No
// check or comment is published — hostadapter/localgit leaves those
// capabilities nil, so the run prints the RunSummary to stdout instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/cogni-dao/cogni-reviewd/internal/hostadapter/localgit"
	"github.com/cogni-dao/cogni-reviewd/internal/logging"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
	"github.com/cogni-dao/cogni-reviewd/internal/orchestrator"
	"github.com/cogni-dao/cogni-reviewd/internal/service"
	"github.com/cogni-dao/cogni-reviewd/internal/specloader"
	"github.com/cogni-dao/cogni-reviewd/internal/svcconfig"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow/anthropicadapter"
)

func runLocal(args []string) {
	fs := flag.NewFlagSet("local", flag.ExitOnError)
	base := fs.String("base", "HEAD~1", "base revision to diff against")
	head := fs.String("head", "HEAD", "head revision under review")
	title := fs.String("title", "local dry run", "title attached to the reviewable")
	_ = fs.Parse(args)

	repoPath := "."
	if fs.NArg() > 0 {
		repoPath = fs.Arg(0)
	}

	cfg, err := svcconfig.Load()
	if err != nil {
		fatal("config: %v", err)
	}

	zl, err := logging.New(cfg.LogLevel)
	if err != nil {
		fatal("logger: %v", err)
	}
	defer zl.Sync()
	log := logging.Wrap(zl)

	repo, err := localgit.Open(repoPath)
	if err != nil {
		fatal("opening repo: %v", err)
	}

	ctx := context.Background()
	cc, err := repo.NewContext(ctx, *base, *head, 0, *title, "")
	if err != nil {
		fatal("building context: %v", err)
	}
	cc.Log = log

	m := metrics.New()
	specs, err := specloader.New(m)
	if err != nil {
		fatal("building spec loader: %v", err)
	}

	provider := anthropicadapter.New(cfg.AnthropicAPIKey)
	engine := workflow.NewEngine(provider, cfg.AppEnv, svcconfig.ModelForEnv).WithMetrics(m)
	registry := service.NewRegistry(engine, "")
	orch := orchestrator.New(registry, m)

	result := specs.Load(ctx, cc, cc.Repo.FullName, cc.Head.Ref)

	var summary orchestrator.RunSummary
	if !result.OK {
		// Same short-circuit a webhook delivery takes: no gate runs, and
		// the dry run reports a single failure outcome instead of the
		// normal per-gate summary.
		summary = orchestrator.SpecFailureSummary(result.Reason, result.Diagnostic)
	} else {
		summary = orch.RunAll(ctx, cc, result.Spec, orchestrator.Options{DeadlineMS: orchestrator.DefaultDeadline.Milliseconds()})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fatal("encoding summary: %v", err)
	}

	if summary.OverallStatus == "fail" {
		os.Exit(1)
	}
}
