// Context construction: NewPRContext wires go-github calls into the
// canonical.Capabilities record. Capabilities are plain functions
// closing over a *github.Client, no wrapper types.
package github

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/google/go-github/v66/github"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// NewPRContext builds the canonical.Context for one pull-request
// delivery. client must already be scoped to the installation that owns
// repo (see App.InstallationClient).
func NewPRContext(ctx context.Context, client *github.Client, owner, repo string, installationID int64, pr *github.PullRequest) (*canonical.Context, error) {
	if pr == nil {
		return nil, fmt.Errorf("hostadapter/github: nil pull request")
	}

	cc := &canonical.Context{
		HostID: "github",
		Repo: canonical.Repo{
			Owner:    owner,
			Name:     repo,
			FullName: owner + "/" + repo,
		},
		InstallationID: fmt.Sprintf("%d", installationID),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		State:          pr.GetState(),
		Head:           canonical.RefPoint{SHA: pr.GetHead().GetSHA(), Ref: pr.GetHead().GetRef()},
		Base:           canonical.RefPoint{SHA: pr.GetBase().GetSHA(), Ref: pr.GetBase().GetRef()},
		Size: canonical.SizeHints{
			ChangedFiles: pr.GetChangedFiles(),
			Additions:    pr.GetAdditions(),
			Deletions:    pr.GetDeletions(),
		},
	}

	cc.Capabilities = canonical.Capabilities{
		GetFile:          getFile(client, owner, repo),
		ListChangedFiles: listChangedFiles(client, owner, repo, pr.GetNumber()),
		Compare:          compare(client, owner, repo),
		PublishCheck:     publishCheck(client, owner, repo),
		PostComment:      postComment(client, owner, repo),
		ResolveArtifact:  resolveArtifact(client, owner, repo),
		CurrentHeadSHA:   currentHeadSHA(client, owner, repo, pr.GetNumber()),
	}

	return cc, nil
}

func getFile(client *github.Client, owner, repo string) func(context.Context, string, string) ([]byte, error) {
	return func(ctx context.Context, path, ref string) ([]byte, error) {
		file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			if resp != nil && resp.StatusCode == 404 {
				return nil, canonical.ErrNotFound
			}
			return nil, err
		}
		if file == nil {
			return nil, canonical.ErrNotFound
		}
		content, err := file.GetContent()
		if err != nil {
			return nil, err
		}
		return []byte(content), nil
	}
}

// listChangedFiles maps go-github's PullRequests.ListFiles pages into a
// materialized, pre-sorted SliceIterator — list_changed_files's ordering
// contract (total_changes desc, path asc) is stable regardless of the
// page order the API returns.
func listChangedFiles(client *github.Client, owner, repo string, number int) func(context.Context) (canonical.FileIterator, error) {
	return func(ctx context.Context) (canonical.FileIterator, error) {
		var all []*github.CommitFile
		opts := &github.ListOptions{PerPage: 100}
		for {
			files, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			if err != nil {
				return nil, err
			}
			all = append(all, files...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return canonical.NewSliceIterator(sortedFileChanges(all)), nil
	}
}

func compare(client *github.Client, owner, repo string) func(context.Context, string, string) (canonical.FileIterator, error) {
	return func(ctx context.Context, base, head string) (canonical.FileIterator, error) {
		cmp, _, err := client.Repositories.CompareCommits(ctx, owner, repo, base, head, &github.ListOptions{PerPage: 100})
		if err != nil {
			return nil, err
		}
		return canonical.NewSliceIterator(sortedFileChanges(cmp.Files)), nil
	}
}

func sortedFileChanges(files []*github.CommitFile) []canonical.FileChange {
	out := make([]canonical.FileChange, 0, len(files))
	for _, f := range files {
		out = append(out, canonical.FileChange{
			Path:         f.GetFilename(),
			PreviousPath: f.GetPreviousFilename(),
			Status:       mapFileStatus(f.GetStatus()),
			Additions:    f.GetAdditions(),
			Deletions:    f.GetDeletions(),
			TotalChanges: f.GetChanges(),
			Patch:        f.GetPatch(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalChanges != out[j].TotalChanges {
			return out[i].TotalChanges > out[j].TotalChanges
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func mapFileStatus(s string) canonical.FileStatus {
	switch s {
	case "added":
		return canonical.FileAdded
	case "removed":
		return canonical.FileRemoved
	case "renamed":
		return canonical.FileRenamed
	case "copied":
		return canonical.FileCopied
	default:
		return canonical.FileModified
	}
}

// publishCheck is idempotent by (repo, head_sha, check_name): it looks
// for an existing check run with the same name on the head SHA and
// updates it in place instead of creating a duplicate.
func publishCheck(client *github.Client, owner, repo string) func(context.Context, canonical.CheckPayload, string) (canonical.CheckRef, error) {
	return func(ctx context.Context, payload canonical.CheckPayload, idempotencyKey string) (canonical.CheckRef, error) {
		existing, _, err := client.Checks.ListCheckRunsForRef(ctx, owner, repo, payload.HeadSHA, &github.ListCheckRunsOptions{
			CheckName: github.String(payload.Name),
		})
		var existingID *int64
		if err == nil && existing != nil {
			for _, run := range existing.CheckRuns {
				if run.GetName() == payload.Name {
					id := run.GetID()
					existingID = &id
					break
				}
			}
		}

		annotations := make([]*github.CheckRunAnnotation, 0, len(payload.Annotations))
		for _, a := range payload.Annotations {
			line := a.Line
			if line <= 0 {
				line = 1
			}
			annotations = append(annotations, &github.CheckRunAnnotation{
				Path:            github.String(a.Path),
				StartLine:       github.Int(line),
				EndLine:         github.Int(line),
				AnnotationLevel: github.String(mapAnnotationLevel(a.Level)),
				Message:         github.String(a.Message),
				Title:           github.String(a.Title),
			})
		}

		output := &github.CheckRunOutput{
			Title:       github.String(payload.Title),
			Summary:     github.String(payload.Summary),
			Text:        github.String(payload.Text),
			Annotations: annotations,
		}

		if existingID != nil {
			run, _, err := client.Checks.UpdateCheckRun(ctx, owner, repo, *existingID, github.UpdateCheckRunOptions{
				Name:       payload.Name,
				Status:     github.String("completed"),
				Conclusion: github.String(payload.Conclusion),
				Output:     output,
			})
			if err != nil {
				return canonical.CheckRef{}, err
			}
			return canonical.CheckRef{ID: fmt.Sprintf("%d", run.GetID())}, nil
		}

		run, _, err := client.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
			Name:       payload.Name,
			HeadSHA:    payload.HeadSHA,
			Status:     github.String("completed"),
			Conclusion: github.String(payload.Conclusion),
			Output:     output,
		})
		if err != nil {
			return canonical.CheckRef{}, err
		}
		return canonical.CheckRef{ID: fmt.Sprintf("%d", run.GetID())}, nil
	}
}

func mapAnnotationLevel(level string) string {
	switch level {
	case "error", "warning", "notice":
		return level
	case "info":
		return "notice"
	default:
		return "notice"
	}
}

// currentHeadSHA backs the Publisher's comment staleness guard by
// refetching the pull request and reading its current head sha.
func currentHeadSHA(client *github.Client, owner, repo string, number int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		pr, _, err := client.PullRequests.Get(ctx, owner, repo, number)
		if err != nil {
			return "", err
		}
		return pr.GetHead().GetSHA(), nil
	}
}

func postComment(client *github.Client, owner, repo string) func(context.Context, int, string) (canonical.CommentRef, error) {
	return func(ctx context.Context, number int, body string) (canonical.CommentRef, error) {
		comment, _, err := client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		if err != nil {
			return canonical.CommentRef{}, err
		}
		return canonical.CommentRef{ID: fmt.Sprintf("%d", comment.GetID())}, nil
	}
}

// resolveArtifact implements canonical.ArtifactResolver against the
// Actions "list workflow run artifacts" + ZIP download endpoints.
func resolveArtifact(client *github.Client, owner, repo string) canonical.ArtifactResolver {
	return func(ctx context.Context, runID, headSHA, artifactPath string) (io.ReadCloser, int64, error) {
		if runID == "" {
			return nil, 0, fmt.Errorf("hostadapter/github: resolve_artifact requires a run_id")
		}
		var runIDNum int64
		if _, err := fmt.Sscanf(runID, "%d", &runIDNum); err != nil {
			return nil, 0, fmt.Errorf("hostadapter/github: invalid run_id %q: %w", runID, err)
		}

		artifacts, _, err := client.Actions.ListWorkflowRunArtifacts(ctx, owner, repo, runIDNum, &github.ListOptions{PerPage: 100})
		if err != nil {
			return nil, 0, err
		}
		var target *github.Artifact
		for _, a := range artifacts.Artifacts {
			if artifactPath != "" && a.GetName() != artifactPath {
				continue
			}
			target = a
			break
		}
		if target == nil && len(artifacts.Artifacts) > 0 && artifactPath == "" {
			target = artifacts.Artifacts[0]
		}
		if target == nil {
			return nil, 0, fmt.Errorf("hostadapter/github: no matching artifact for run %s", runID)
		}

		url, _, err := client.Actions.DownloadArtifact(ctx, owner, repo, target.GetID(), 3)
		if err != nil {
			return nil, 0, err
		}
		return fetchArtifactZIP(ctx, url.String())
	}
}
