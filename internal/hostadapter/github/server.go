// HTTP delivery entrypoint: parses an inbound GitHub webhook, builds the
// canonical context for the affected pull request, and hands both to a
// caller-supplied Handler. Signature verification runs ahead of any JSON
// parsing.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/go-github/v66/github"
	"github.com/google/uuid"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// Handler is invoked once per actionable pull_request delivery, with a
// freshly built canonical.Context scoped to that PR.
type Handler func(deliveryID string, cc *canonical.Context)

// relevantActions are the pull_request webhook actions that warrant a
// review run; others (labeled, assigned, etc.) are acknowledged but
// otherwise ignored.
var relevantActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
	"ready_for_review": true,
}

// WebhookHandler returns an http.HandlerFunc that verifies, parses, and
// dispatches GitHub webhook deliveries. The installation client used to
// build cc is fetched per-delivery from a.InstallationClient so each
// request's go-github client is scoped to the installation that sent it.
func (a *App) WebhookHandler(onPullRequest Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := a.VerifyWebhook(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		eventType := r.Header.Get("X-GitHub-Event")
		deliveryID := r.Header.Get("X-GitHub-Delivery")
		if deliveryID == "" {
			// Every log line downstream is keyed by delivery id; replays and
			// hand-crafted test deliveries may omit the header.
			deliveryID = uuid.NewString()
		}

		switch eventType {
		case "pull_request":
			a.handlePullRequestEvent(w, body, deliveryID, onPullRequest)
		case "ping":
			w.WriteHeader(http.StatusOK)
		default:
			// Acknowledge unhandled event types without processing them;
			// GitHub retries deliveries that return non-2xx.
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func (a *App) handlePullRequestEvent(w http.ResponseWriter, body []byte, deliveryID string, onPullRequest Handler) {
	var event github.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, fmt.Sprintf("hostadapter/github: decoding pull_request event: %v", err), http.StatusBadRequest)
		return
	}

	if !relevantActions[event.GetAction()] {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	repo := event.GetRepo()
	installationID := event.GetInstallation().GetID()
	client, err := a.InstallationClient(installationID)
	if err != nil {
		http.Error(w, fmt.Sprintf("hostadapter/github: installation client: %v", err), http.StatusInternalServerError)
		return
	}

	// A background context, not the request's: onPullRequest dispatches to
	// a long-running pipeline (spec load, gate run, publish) whose own
	// deadline is set by the orchestrator, not by the HTTP request's
	// lifetime, which ends as soon as this handler returns 202.
	cc, err := NewPRContext(context.Background(), client, repo.GetOwner().GetLogin(), repo.GetName(), installationID, event.GetPullRequest())
	if err != nil {
		http.Error(w, fmt.Sprintf("hostadapter/github: building context: %v", err), http.StatusInternalServerError)
		return
	}

	// Dispatched on its own goroutine so the response below returns
	// immediately; GitHub's webhook delivery timeout is far shorter than
	// the orchestrator's own deadline.
	go onPullRequest(deliveryID, cc)
	w.WriteHeader(http.StatusAccepted)
}
