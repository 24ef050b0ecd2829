// Command cogni-reviewd is the process entrypoint: it loads
// configuration, wires every component package into one internal/service
// Server, and serves it behind a signal-triggered graceful shutdown.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cogni-dao/cogni-reviewd/internal/hostadapter/github"
	"github.com/cogni-dao/cogni-reviewd/internal/hostadapter/gitlab"
	"github.com/cogni-dao/cogni-reviewd/internal/logging"
	"github.com/cogni-dao/cogni-reviewd/internal/metrics"
	"github.com/cogni-dao/cogni-reviewd/internal/orchestrator"
	"github.com/cogni-dao/cogni-reviewd/internal/publisher"
	"github.com/cogni-dao/cogni-reviewd/internal/service"
	"github.com/cogni-dao/cogni-reviewd/internal/specloader"
	"github.com/cogni-dao/cogni-reviewd/internal/store"
	"github.com/cogni-dao/cogni-reviewd/internal/svcconfig"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow"
	"github.com/cogni-dao/cogni-reviewd/internal/workflow/anthropicadapter"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "local" {
		runLocal(os.Args[2:])
		return
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

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Error("opening store", "error", err.Error())
		os.Exit(1)
	}
	defer st.Close()

	m := metrics.New()

	specs, err := specloader.New(m)
	if err != nil {
		log.Error("building spec loader", "error", err.Error())
		os.Exit(1)
	}

	provider := anthropicadapter.New(cfg.AnthropicAPIKey)
	engine := workflow.NewEngine(provider, cfg.AppEnv, svcconfig.ModelForEnv).WithMetrics(m)

	registry := service.NewRegistry(engine, "")
	orch := orchestrator.New(registry, m)
	pub := publisher.New(st)

	var githubApp *github.App
	if cfg.GitHubAppID != 0 {
		githubApp, err = github.NewApp(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.BaseURL)
		if err != nil {
			log.Error("building github app", "error", err.Error())
			os.Exit(1)
		}
	}

	var gitlabApp *gitlab.App
	if cfg.GitLabToken != "" {
		gitlabApp, err = gitlab.NewApp(cfg.GitLabToken, cfg.GitLabWebhookSecret, cfg.BaseURL)
		if err != nil {
			log.Error("building gitlab app", "error", err.Error())
			os.Exit(1)
		}
	}

	srv := service.New(service.Options{
		SpecLoader:   specs,
		Orchestrator: orch,
		Publisher:    pub,
		Metrics:      m,
		Log:          log,
		GitHubApp:    githubApp,
		GitLabApp:    gitlabApp,
		PostComment:  true,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server exited", "error", err.Error())
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	log.Info("shutting down")
	_ = httpSrv.Close()
}

func fatal(format string, args ...any) {
	os.Stderr.WriteString("cogni-reviewd: " + fmt.Sprintf(format, args...) + "\n")
	os.Exit(1)
}
