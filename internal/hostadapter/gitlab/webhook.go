// Webhook verification and event dispatch for GitLab. Unlike GitHub's
// HMAC-signed body, GitLab compares the X-Gitlab-Token header against
// the configured secret verbatim (constant-time); event parsing is
// delegated to xanzy/go-gitlab's own gitlab.ParseWebhook, the library's
// documented entrypoint for turning a raw payload into a typed event.
// Route shape (single POST endpoint, verify-then-parse-then-dispatch)
// mirrors hostadapter/github's server.go.
package gitlab

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	gitlabsdk "github.com/xanzy/go-gitlab"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// Handler is invoked once per actionable merge_request delivery, with a
// freshly built canonical.Context scoped to that MR.
type Handler func(deliveryID string, cc *canonical.Context)

// relevantActions are the merge_request hook actions that warrant a
// review run.
var relevantActions = map[string]bool{
	"open":   true,
	"update": true,
	"reopen": true,
}

// VerifyWebhook reads the request body and authenticates it against the
// App's configured webhook token.
func (a *App) VerifyWebhook(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()

	got := r.Header.Get("X-Gitlab-Token")
	if a.WebhookSecret != "" {
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.WebhookSecret)) != 1 {
			return nil, fmt.Errorf("hostadapter/gitlab: invalid X-Gitlab-Token")
		}
	}
	return body, nil
}

// WebhookHandler returns an http.HandlerFunc that verifies, parses, and
// dispatches GitLab webhook deliveries.
func (a *App) WebhookHandler(onMergeRequest Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := a.VerifyWebhook(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		eventType := gitlabsdk.HookEventType(r)
		deliveryID := r.Header.Get("X-Gitlab-Event-UUID")
		if deliveryID == "" {
			// See the GitHub adapter: downstream logging is keyed by this id.
			deliveryID = uuid.NewString()
		}

		event, err := gitlabsdk.ParseWebhook(eventType, body)
		if err != nil {
			http.Error(w, fmt.Sprintf("hostadapter/gitlab: parsing webhook: %v", err), http.StatusBadRequest)
			return
		}

		mrEvent, ok := event.(*gitlabsdk.MergeEvent)
		if !ok {
			// Acknowledge non-merge-request events (pipeline, push, note, ...)
			// without processing them.
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !relevantActions[mrEvent.ObjectAttributes.Action] {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		client, err := a.Client()
		if err != nil {
			http.Error(w, fmt.Sprintf("hostadapter/gitlab: client: %v", err), http.StatusInternalServerError)
			return
		}

		// A background context, not the request's: see the GitHub adapter's
		// identical comment in server.go — the pipeline's own deadline is
		// set by the orchestrator, not by this HTTP request's lifetime.
		cc, err := NewMRContext(context.Background(), client, mrEvent)
		if err != nil {
			http.Error(w, fmt.Sprintf("hostadapter/gitlab: building context: %v", err), http.StatusInternalServerError)
			return
		}

		// Dispatched on its own goroutine so the response below returns
		// immediately; see the GitHub adapter's identical comment in
		// server.go.
		go onMergeRequest(deliveryID, cc)
		w.WriteHeader(http.StatusAccepted)
	}
}
