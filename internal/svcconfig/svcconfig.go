// Package svcconfig loads process configuration from the environment. It
// is the only package in this module allowed to read os.Getenv; every
// other package receives configuration as plain values.
package svcconfig

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-sourced value the process needs. Core
// packages (orchestrator, gates, workflow, publisher) never read env
// directly — they receive the relevant fields from this struct at
// construction time.
type Config struct {
	Addr    string
	BaseURL string

	DatabasePath string
	LogLevel     string
	AppEnv       string // dev | preview | prod

	GitHubAppID             int64
	GitHubAppSlug           string
	GitHubWebhookSecret     string
	GitHubPrivateKeyPEM     []byte

	GitLabToken         string
	GitLabWebhookSecret string

	AnthropicAPIKey string
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads and validates the process configuration. It intentionally
// does not fail on missing provider credentials (GitLab/Anthropic are
// optional depending on deployment). Once GITHUB_APP_ID or GITHUB_APP_SLUG
// is set, any missing GitHub App field fails fast because the webhook
// adapter cannot run without them; with neither set, no GitHub App
// field is checked.
func Load() (Config, error) {
	cfg := Config{
		Addr:                env("RP_ADDR", ":8080"),
		BaseURL:             env("RP_BASE_URL", ""),
		DatabasePath:        env("RP_DB_PATH", "./data/cogni-reviewd.db"),
		LogLevel:            env("LOG_LEVEL", "info"),
		AppEnv:              env("APP_ENV", "dev"),
		GitHubAppSlug:       env("GITHUB_APP_SLUG", ""),
		GitHubWebhookSecret: env("GITHUB_APP_WEBHOOK_SECRET", ""),
		GitLabToken:         env("GITLAB_TOKEN", ""),
		GitLabWebhookSecret: env("GITLAB_WEBHOOK_SECRET", ""),
		AnthropicAPIKey:     env("ANTHROPIC_API_KEY", ""),
	}

	if raw := env("GITHUB_APP_ID", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("svcconfig: invalid GITHUB_APP_ID: %w", err)
		}
		cfg.GitHubAppID = id
	}

	if path := env("GITHUB_APP_PRIVATE_KEY_PATH", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("svcconfig: reading GITHUB_APP_PRIVATE_KEY_PATH: %w", err)
		}
		cfg.GitHubPrivateKeyPEM = b
	} else if pem := env("GITHUB_APP_PRIVATE_KEY_PEM", ""); pem != "" {
		cfg.GitHubPrivateKeyPEM = []byte(pem)
	}

	if cfg.GitHubAppID != 0 || cfg.GitHubAppSlug != "" {
		var missing []string
		if cfg.GitHubAppID == 0 {
			missing = append(missing, "GITHUB_APP_ID")
		}
		if cfg.GitHubAppSlug == "" {
			missing = append(missing, "GITHUB_APP_SLUG")
		}
		if cfg.GitHubWebhookSecret == "" {
			missing = append(missing, "GITHUB_APP_WEBHOOK_SECRET")
		}
		if len(cfg.GitHubPrivateKeyPEM) == 0 {
			missing = append(missing, "GITHUB_APP_PRIVATE_KEY_PEM or GITHUB_APP_PRIVATE_KEY_PATH")
		}
		if len(missing) > 0 {
			return Config{}, errors.New("svcconfig: missing required GitHub App config: " + fmt.Sprint(missing))
		}
	}

	switch cfg.AppEnv {
	case "dev", "preview", "prod":
	default:
		return Config{}, fmt.Errorf("svcconfig: invalid APP_ENV %q, want dev|preview|prod", cfg.AppEnv)
	}

	return cfg, nil
}

// ModelForEnv is the static environment-to-model mapping resolved at
// process start; there are no per-request overrides.
func ModelForEnv(appEnv string) string {
	switch appEnv {
	case "prod":
		return "claude-opus-4"
	case "preview":
		return "claude-sonnet-4"
	default:
		return "claude-haiku-4"
	}
}
