// Context construction: NewMRContext wires go-gitlab calls into the
// canonical.Capabilities record, the same calling convention
// hostadapter/github/context.go uses (plain functions closing over a
// concrete SDK client, no wrapper types) applied to GitLab's merge
// request and repository-file APIs instead of GitHub's.
package gitlab

import (
	"context"
	"sort"
	"strconv"
	"strings"

	gitlabsdk "github.com/xanzy/go-gitlab"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// NewMRContext builds the canonical.Context for one merge-request
// delivery from a parsed MergeEvent.
func NewMRContext(ctx context.Context, client *gitlabsdk.Client, ev *gitlabsdk.MergeEvent) (*canonical.Context, error) {
	attrs := ev.ObjectAttributes
	projectID := ev.Project.ID

	cc := &canonical.Context{
		HostID: "gitlab",
		Repo: canonical.Repo{
			Owner:    ev.Project.Namespace,
			Name:     ev.Project.Name,
			FullName: ev.Project.PathWithNamespace,
		},
		InstallationID: strconv.Itoa(projectID),
		Number:         attrs.IID,
		Title:          attrs.Title,
		Body:           attrs.Description,
		State:          attrs.State,
		Head:           canonical.RefPoint{SHA: attrs.LastCommit.ID, Ref: attrs.SourceBranch},
		Base:           canonical.RefPoint{SHA: "", Ref: attrs.TargetBranch},
	}

	cc.Capabilities = canonical.Capabilities{
		GetFile:          getFile(client, projectID),
		ListChangedFiles: listChangedFiles(client, projectID, attrs.IID),
		Compare:          compare(client, projectID),
		PublishCheck:     publishCheck(client, projectID),
		PostComment:      postComment(client, projectID, attrs.IID),
		ResolveArtifact:  resolveArtifact(client, projectID),
		CurrentHeadSHA:   currentHeadSHA(client, projectID, attrs.IID),
	}

	return cc, nil
}

func getFile(client *gitlabsdk.Client, projectID int) func(context.Context, string, string) ([]byte, error) {
	return func(ctx context.Context, path, ref string) ([]byte, error) {
		opts := &gitlabsdk.GetRawFileOptions{Ref: gitlabsdk.String(ref)}
		raw, resp, err := client.RepositoryFiles.GetRawFile(projectID, path, opts, gitlabsdk.WithContext(ctx))
		if err != nil {
			if resp != nil && resp.StatusCode == 404 {
				return nil, canonical.ErrNotFound
			}
			return nil, err
		}
		return raw, nil
	}
}

// listChangedFiles maps go-gitlab's MergeRequests.ListMergeRequestDiffs
// pages into a materialized, pre-sorted SliceIterator, matching the
// ordering contract list_changed_files documents (total_changes desc,
// path asc). GitLab's diff entries do not carry addition/deletion
// counts directly, so they are derived from the unified diff body.
func listChangedFiles(client *gitlabsdk.Client, projectID, mrIID int) func(context.Context) (canonical.FileIterator, error) {
	return func(ctx context.Context) (canonical.FileIterator, error) {
		var all []*gitlabsdk.MergeRequestDiff
		opts := &gitlabsdk.ListMergeRequestDiffsOptions{
			ListOptions: gitlabsdk.ListOptions{Page: 1, PerPage: 100},
		}
		for {
			diffs, resp, err := client.MergeRequests.ListMergeRequestDiffs(projectID, mrIID, opts, gitlabsdk.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			all = append(all, diffs...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return canonical.NewSliceIterator(sortedDiffFileChanges(all)), nil
	}
}

func compare(client *gitlabsdk.Client, projectID int) func(context.Context, string, string) (canonical.FileIterator, error) {
	return func(ctx context.Context, base, head string) (canonical.FileIterator, error) {
		cmp, _, err := client.Repositories.Compare(projectID, &gitlabsdk.CompareOptions{
			From: gitlabsdk.String(base),
			To:   gitlabsdk.String(head),
		}, gitlabsdk.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		return canonical.NewSliceIterator(sortedCompareFileChanges(cmp.Diffs)), nil
	}
}

func sortedDiffFileChanges(diffs []*gitlabsdk.MergeRequestDiff) []canonical.FileChange {
	out := make([]canonical.FileChange, 0, len(diffs))
	for _, d := range diffs {
		add, del := countDiffLines(d.Diff)
		out = append(out, canonical.FileChange{
			Path:         d.NewPath,
			PreviousPath: d.OldPath,
			Status:       mapDiffStatus(d.NewFile, d.RenamedFile, d.DeletedFile),
			Additions:    add,
			Deletions:    del,
			TotalChanges: add + del,
			Patch:        d.Diff,
		})
	}
	return sortFileChanges(out)
}

func sortedCompareFileChanges(diffs []*gitlabsdk.Diff) []canonical.FileChange {
	out := make([]canonical.FileChange, 0, len(diffs))
	for _, d := range diffs {
		add, del := countDiffLines(d.Diff)
		out = append(out, canonical.FileChange{
			Path:         d.NewPath,
			PreviousPath: d.OldPath,
			Status:       mapDiffStatus(d.NewFile, d.RenamedFile, d.DeletedFile),
			Additions:    add,
			Deletions:    del,
			TotalChanges: add + del,
			Patch:        d.Diff,
		})
	}
	return sortFileChanges(out)
}

func sortFileChanges(out []canonical.FileChange) []canonical.FileChange {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalChanges != out[j].TotalChanges {
			return out[i].TotalChanges > out[j].TotalChanges
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// countDiffLines derives addition/deletion counts from a unified diff
// body; GitLab's diff list endpoints return the patch text but not
// pre-computed line counts the way GitHub's CommitFile does.
func countDiffLines(patch string) (add, del int) {
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			add++
		case strings.HasPrefix(line, "-"):
			del++
		}
	}
	return add, del
}

func mapDiffStatus(newFile, renamed, deleted bool) canonical.FileStatus {
	switch {
	case deleted:
		return canonical.FileRemoved
	case newFile:
		return canonical.FileAdded
	case renamed:
		return canonical.FileRenamed
	default:
		return canonical.FileModified
	}
}

// publishCheck maps the canonical check conclusion onto GitLab's commit
// status API: there is no "neutral" build state, so neutral is reported
// as success with the distinction carried in the status description —
// the same compromise GitLab's own CI integrations make for advisory
// (non-blocking) jobs.
func publishCheck(client *gitlabsdk.Client, projectID int) func(context.Context, canonical.CheckPayload, string) (canonical.CheckRef, error) {
	return func(ctx context.Context, payload canonical.CheckPayload, idempotencyKey string) (canonical.CheckRef, error) {
		state := mapCommitState(payload.Conclusion)
		status, _, err := client.Commits.SetCommitStatus(projectID, payload.HeadSHA, &gitlabsdk.SetCommitStatusOptions{
			State:       state,
			Name:        gitlabsdk.String(payload.Name),
			Description: gitlabsdk.String(payload.Title + ": " + payload.Summary),
		}, gitlabsdk.WithContext(ctx))
		if err != nil {
			return canonical.CheckRef{}, err
		}
		return canonical.CheckRef{ID: strconv.Itoa(status.ID)}, nil
	}
}

func mapCommitState(conclusion string) gitlabsdk.BuildStateValue {
	switch conclusion {
	case "success":
		return gitlabsdk.Success
	case "failure":
		return gitlabsdk.Failed
	default:
		return gitlabsdk.Success
	}
}

// currentHeadSHA backs the Publisher's comment staleness guard by
// refetching the merge request and reading its current head sha.
func currentHeadSHA(client *gitlabsdk.Client, projectID, mrIID int) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		mr, _, err := client.MergeRequests.GetMergeRequest(projectID, mrIID, nil, gitlabsdk.WithContext(ctx))
		if err != nil {
			return "", err
		}
		return mr.SHA, nil
	}
}

func postComment(client *gitlabsdk.Client, projectID, mrIID int) func(context.Context, int, string) (canonical.CommentRef, error) {
	return func(ctx context.Context, number int, body string) (canonical.CommentRef, error) {
		note, _, err := client.Notes.CreateMergeRequestNote(projectID, mrIID, &gitlabsdk.CreateMergeRequestNoteOptions{
			Body: gitlabsdk.String(body),
		}, gitlabsdk.WithContext(ctx))
		if err != nil {
			return canonical.CommentRef{}, err
		}
		return canonical.CommentRef{ID: strconv.Itoa(note.ID)}, nil
	}
}
