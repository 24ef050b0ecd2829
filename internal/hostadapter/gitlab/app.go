// Package gitlab implements the GitLab host adapter: a personal/project
// access token client, webhook token verification, and the canonical
// capability set backed by xanzy/go-gitlab. The App/client shape mirrors
// hostadapter/github's App almost exactly, since both adapters expose
// the same seam to the rest of this module — only the transport and
// wire shapes underneath differ.
package gitlab

import (
	"fmt"
	"strings"

	gitlab "github.com/xanzy/go-gitlab"
)

// App holds the token and webhook secret GitLab deliveries are verified
// and authenticated against. Unlike GitHub's App, there is no
// installation concept: one token scopes every project it has access to.
type App struct {
	Token         string
	WebhookSecret string
	BaseURL       string
}

func NewApp(token, webhookSecret, baseURL string) (*App, error) {
	if token == "" {
		return nil, fmt.Errorf("hostadapter/gitlab: empty token")
	}
	return &App{
		Token:         token,
		WebhookSecret: webhookSecret,
		BaseURL:       strings.TrimRight(baseURL, "/"),
	}, nil
}

// Client builds a go-gitlab client scoped to App's token.
func (a *App) Client() (*gitlab.Client, error) {
	opts := []gitlab.ClientOptionFunc{}
	if a.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(a.BaseURL))
	}
	return gitlab.NewClient(a.Token, opts...)
}
