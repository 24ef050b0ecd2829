// Package localgit implements the host adapter for a repository on
// disk, read through go-git/go-git/v5 instead of any provider SDK. It
// exists so the same gate pipeline that runs against GitHub and GitLab
// deliveries can also dry-run a spec against an unpushed diff.
//
// Local git has no notion of a check run or a PR comment thread, so
// PublishCheck and PostComment are left nil; callers observe their
// absence through canonical.Context.HasCapability and degrade to
// neutral{capability_unavailable}.
package localgit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/cogni-dao/cogni-reviewd/internal/canonical"
)

// Repo wraps an opened on-disk repository and the base/head revisions a
// dry run compares.
type Repo struct {
	repo *git.Repository
	path string
}

// Open opens the git repository rooted at path (or one of its parent
// directories, go-git's usual PlainOpen discovery behavior).
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: opening %s: %w", path, err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// NewContext builds the canonical.Context comparing baseRev against
// headRev (anything go-git's revision parser accepts: a branch name, a
// tag, HEAD, or a short/full commit hash). number/title/body are
// supplied by the caller since a bare repository carries no PR metadata.
func (r *Repo) NewContext(ctx context.Context, baseRev, headRev string, number int, title, body string) (*canonical.Context, error) {
	baseHash, err := r.resolve(baseRev)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: resolving base %q: %w", baseRev, err)
	}
	headHash, err := r.resolve(headRev)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: resolving head %q: %w", headRev, err)
	}

	additions, deletions, changed, err := r.diffStats(baseHash, headHash)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(r.path)
	cc := &canonical.Context{
		HostID: "local",
		Repo: canonical.Repo{
			Owner:    "local",
			Name:     name,
			FullName: "local/" + name,
		},
		InstallationID: "",
		Number:         number,
		Title:          title,
		Body:           body,
		State:          "open",
		Head:           canonical.RefPoint{SHA: headHash.String(), Ref: headRev},
		Base:           canonical.RefPoint{SHA: baseHash.String(), Ref: baseRev},
		Size: canonical.SizeHints{
			ChangedFiles: changed,
			Additions:    additions,
			Deletions:    deletions,
		},
	}

	cc.Capabilities = canonical.Capabilities{
		GetFile:          r.getFile(),
		ListChangedFiles: r.listChangedFiles(baseHash, headHash),
		Compare:          r.compare(),
	}

	return cc, nil
}

func (r *Repo) resolve(rev string) (plumbing.Hash, error) {
	h, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return *h, nil
}

// getFile reads path out of the tree at ref (or HEAD when ref is empty,
// matching the convention canonical.Capabilities.GetFile's other
// implementations use for "current ref").
func (r *Repo) getFile() func(context.Context, string, string) ([]byte, error) {
	return func(ctx context.Context, path, ref string) ([]byte, error) {
		if ref == "" {
			ref = "HEAD"
		}
		hash, err := r.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("hostadapter/localgit: resolving %q: %w", ref, err)
		}
		commit, err := r.repo.CommitObject(hash)
		if err != nil {
			return nil, err
		}
		tree, err := commit.Tree()
		if err != nil {
			return nil, err
		}
		file, err := tree.File(path)
		if err != nil {
			if errors.Is(err, object.ErrFileNotFound) {
				return nil, canonical.ErrNotFound
			}
			return nil, err
		}
		contents, err := file.Contents()
		if err != nil {
			return nil, err
		}
		return []byte(contents), nil
	}
}

func (r *Repo) listChangedFiles(base, head plumbing.Hash) func(context.Context) (canonical.FileIterator, error) {
	return func(ctx context.Context) (canonical.FileIterator, error) {
		changes, err := r.diff(base, head)
		if err != nil {
			return nil, err
		}
		return canonical.NewSliceIterator(changes), nil
	}
}

func (r *Repo) compare() func(context.Context, string, string) (canonical.FileIterator, error) {
	return func(ctx context.Context, base, head string) (canonical.FileIterator, error) {
		baseHash, err := r.resolve(base)
		if err != nil {
			return nil, err
		}
		headHash, err := r.resolve(head)
		if err != nil {
			return nil, err
		}
		changes, err := r.diff(baseHash, headHash)
		if err != nil {
			return nil, err
		}
		return canonical.NewSliceIterator(changes), nil
	}
}

// diff computes the FileChange list between two commits' trees. go-git's
// plain Tree.Diff does not detect renames on its own, so a rename shows
// up as a paired delete+add; this adapter does not attempt similarity
// detection.
func (r *Repo) diff(base, head plumbing.Hash) ([]canonical.FileChange, error) {
	baseCommit, err := r.repo.CommitObject(base)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: base commit: %w", err)
	}
	headCommit, err := r.repo.CommitObject(head)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: head commit: %w", err)
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, err
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := baseTree.Diff(headTree)
	if err != nil {
		return nil, fmt.Errorf("hostadapter/localgit: diffing trees: %w", err)
	}

	out := make([]canonical.FileChange, 0, len(changes))
	for _, c := range changes {
		fc, err := changeToFileChange(c)
		if err != nil {
			return nil, err
		}
		out = append(out, fc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalChanges != out[j].TotalChanges {
			return out[i].TotalChanges > out[j].TotalChanges
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func changeToFileChange(c *object.Change) (canonical.FileChange, error) {
	action, err := c.Action()
	if err != nil {
		return canonical.FileChange{}, err
	}

	patch, err := c.Patch()
	if err != nil {
		return canonical.FileChange{}, fmt.Errorf("hostadapter/localgit: patching change: %w", err)
	}

	var additions, deletions int
	for _, stat := range patch.Stats() {
		additions += stat.Addition
		deletions += stat.Deletion
	}

	var path, prevPath string
	var status canonical.FileStatus
	switch action {
	case merkletrie.Insert:
		path = c.To.Name
		status = canonical.FileAdded
	case merkletrie.Delete:
		path = c.From.Name
		status = canonical.FileRemoved
	default:
		path = c.To.Name
		prevPath = c.From.Name
		if prevPath != "" && prevPath != path {
			status = canonical.FileRenamed
		} else {
			status = canonical.FileModified
		}
	}

	return canonical.FileChange{
		Path:         path,
		PreviousPath: prevPath,
		Status:       status,
		Additions:    additions,
		Deletions:    deletions,
		TotalChanges: additions + deletions,
		Patch:        patchText(patch),
	}, nil
}

func patchText(p *object.Patch) string {
	return p.String()
}

// diffStats summarizes a base/head comparison into the SizeHints shape
// host adapters populate on the reviewable resource itself.
func (r *Repo) diffStats(base, head plumbing.Hash) (additions, deletions, changed int, err error) {
	changes, err := r.diff(base, head)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, c := range changes {
		additions += c.Additions
		deletions += c.Deletions
	}
	return additions, deletions, len(changes), nil
}
