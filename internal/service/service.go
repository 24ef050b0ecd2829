// Package service wires every component package into one running
// process: the gate registry, spec loader, orchestrator, and publisher,
// behind a chi router exposing /healthz, /metrics, and the host webhook
// endpoints.
package service

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cogni-dao/cogni-reviewd/internal/artifact"
	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
	"github.com/cogni-dao/cogni-reviewd/internal/gateregistry"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/agentsmdsync"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/airule"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/forbiddenscopes"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/goaldeclaration"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/governancepolicy"
	"github.com/cogni-dao/cogni-reviewd/internal/gates/reviewlimits"
	"github.com/cogni-dao/cogni-reviewd/internal/hostadapter/github"
	"github.com/cogni-dao/cogni-reviewd/internal/hostadapter/gitlab"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
	"github.com/cogni-dao/cogni-reviewd/internal/orchestrator"
	"github.com/cogni-dao/cogni-reviewd/internal/publisher"
	"github.com/cogni-dao/cogni-reviewd/internal/specloader"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
)

// NewRegistry builds the closed gate-type registry: every gate type
// this deployment recognizes, constructed once.
func NewRegistry(engine *workflow.Engine, rulesDir string) *gateregistry.Registry {
	return gateregistry.New(map[string]gateregistry.Gate{
		"review-limits":    reviewlimits.New(),
		"agents-md-sync":   agentsmdsync.New(),
		"governance-policy": governancepolicy.New(),
		"goal-declaration": goaldeclaration.New(),
		"forbidden-scopes": forbiddenscopes.New(),
		"ai-rule":          airule.New(engine, rulesDir),
		"artifact.sarif":   artifact.NewSarif(),
		"artifact.jsonpath": artifact.NewJSONPath(),
	})
}

// Server bundles the wired collaborators and exposes the HTTP surface.
type Server struct {
	specs   *specloader.Loader
	orch    *orchestrator.Orchestrator
	pub     *publisher.Publisher
	metrics *metrics.Metrics
	log     canonical.Logger

	githubApp *github.App
	gitlabApp *gitlab.App

	postComment bool
}

// Options configures a Server.
type Options struct {
	SpecLoader  *specloader.Loader
	Orchestrator *orchestrator.Orchestrator
	Publisher   *publisher.Publisher
	Metrics     *metrics.Metrics
	Log         canonical.Logger
	GitHubApp   *github.App
	GitLabApp   *gitlab.App
	PostComment bool
}

func New(opts Options) *Server {
	return &Server{
		specs:       opts.SpecLoader,
		orch:        opts.Orchestrator,
		pub:         opts.Publisher,
		metrics:     opts.Metrics,
		log:         opts.Log,
		githubApp:   opts.GitHubApp,
		gitlabApp:   opts.GitLabApp,
		postComment: opts.PostComment,
	}
}

// Router builds the chi mux: a single webhook endpoint per host, plus
// the standard operability pair.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	if s.githubApp != nil {
		r.Post("/webhooks/github", s.githubApp.WebhookHandler(s.handleDelivery).ServeHTTP)
	}
	if s.gitlabApp != nil {
		r.Post("/webhooks/gitlab", s.gitlabApp.WebhookHandler(s.handleDelivery).ServeHTTP)
	}

	return r
}

// handleDelivery runs the full pipeline for one canonical pull-request
// context: load spec, run all gates, publish the result. It is invoked
// from the host adapter's own goroutine after the webhook handler has
// already returned a response, so failures here are logged, never
// surfaced to the webhook sender.
func (s *Server) handleDelivery(deliveryID string, cc *canonical.Context) {
	ctx := context.Background()
	log := s.log
	if log != nil {
		log = log.With("delivery_id", deliveryID, "repo", cc.Repo.FullName, "pr", cc.Number)
	}
	cc.Log = log

	result := s.specs.Load(ctx, cc, cc.Repo.FullName, cc.Head.SHA)
	if !result.OK {
		if log != nil {
			log.Info("publishing spec failure check", "reason", string(result.Reason), "diagnostic", result.Diagnostic)
		}
		cc.IdempotencyKey = orchestrator.IdempotencyKey(cc, "")
		summary := orchestrator.SpecFailureSummary(result.Reason, result.Diagnostic)
		if err := s.pub.Publish(ctx, cc, summary, s.postComment); err != nil {
			if log != nil {
				log.Error("publish failed", "error", err.Error())
			}
		}
		return
	}

	summary := s.orch.RunAll(ctx, cc, result.Spec, orchestrator.Options{DeadlineMS: orchestrator.DefaultDeadline.Milliseconds()})

	if err := s.pub.Publish(ctx, cc, summary, s.postComment); err != nil {
		if log != nil {
			log.Error("publish failed", "error", err.Error())
		}
	}
}
