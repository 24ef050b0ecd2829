// Package canonical defines the host-neutral view of a pull request under
// review. Host adapters (internal/hostadapter/*) construct a Context and
// implement its capability functions; every other package in this module
// depends only on this package, never on a concrete host SDK.
package canonical

import (
	"context"
	"io"
	"time"
)

// FileStatus is the lifecycle state of one changed file in a diff.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileRemoved  FileStatus = "removed"
	FileRenamed  FileStatus = "renamed"
	FileCopied   FileStatus = "copied"
)

// FileChange describes one file entry in a compare/list-changed-files result.
type FileChange struct {
	Path         string
	PreviousPath string
	Status       FileStatus
	Additions    int
	Deletions    int
	TotalChanges int
	Patch        string
}

// Repo identifies the repository a review targets.
type Repo struct {
	Owner     string
	Name      string
	FullName  string
}

// RefPoint names a single commit on a branch.
type RefPoint struct {
	SHA string
	Ref string
}

// SizeHints are the cheap, already-known diff totals a host may report on
// the PR/MR resource itself, avoiding a full file listing when unneeded.
type SizeHints struct {
	ChangedFiles int
	Additions    int
	Deletions    int
}

// CheckPayload is the host-neutral shape of an aggregated check result.
type CheckPayload struct {
	Name       string
	HeadSHA    string
	Conclusion string // success | failure | neutral
	Title      string
	Summary    string
	Text       string
	Annotations []Annotation
}

// Annotation is one line/column-scoped finding attached to a check.
type Annotation struct {
	Path    string
	Line    int
	Column  int
	Level   string // error | warning | info
	Message string
	Title   string
}

// CheckRef is an opaque handle to a published check, usable for idempotent
// updates by hosts that expose one.
type CheckRef struct {
	ID string
}

// CommentRef is an opaque handle to a posted comment.
type CommentRef struct {
	ID string
}

// ErrNotFound is returned by GetFile when the path does not exist at ref;
// callers distinguish this from transport/API errors.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "canonical: file not found" }

// FileIterator yields FileChange values with stable ordering guarantees
// documented on the producing operation.
type FileIterator interface {
	Next(ctx context.Context) (FileChange, bool, error)
}

// SliceIterator adapts a materialized, already-sorted slice to FileIterator.
// Host adapters that fetch full pages up front use this instead of a
// streaming implementation.
type SliceIterator struct {
	items []FileChange
	pos   int
}

func NewSliceIterator(items []FileChange) *SliceIterator {
	return &SliceIterator{items: items}
}

func (it *SliceIterator) Next(ctx context.Context) (FileChange, bool, error) {
	if err := ctx.Err(); err != nil {
		return FileChange{}, false, err
	}
	if it.pos >= len(it.items) {
		return FileChange{}, false, nil
	}
	fc := it.items[it.pos]
	it.pos++
	return fc, true, nil
}

// ArtifactResolver resolves a CI-produced artifact (SARIF or JSON report)
// by workflow run id or, failing that, head sha. It is the single
// resolution path external-artifact gates use.
type ArtifactResolver func(ctx context.Context, runID string, headSHA string, artifactPath string) (io.ReadCloser, int64, error)

// Capabilities is the capability-probed operation set. Each field is a
// nilable function; a nil field means "this host does not support the
// operation" and callers MUST treat that as absence, not as an error to
// recover from mid-gate.
type Capabilities struct {
	GetFile           func(ctx context.Context, path string, ref string) ([]byte, error)
	ListChangedFiles  func(ctx context.Context) (FileIterator, error)
	Compare           func(ctx context.Context, base, head string) (FileIterator, error)
	PublishCheck      func(ctx context.Context, payload CheckPayload, idempotencyKey string) (CheckRef, error)
	PostComment       func(ctx context.Context, number int, body string) (CommentRef, error)
	ResolveArtifact   ArtifactResolver

	// CurrentHeadSHA refetches the reviewable's current head sha, used by
	// the Publisher's comment staleness guard to skip commenting when the
	// PR moved since the evaluated head. Optional; hosts that omit it
	// simply skip the guard.
	CurrentHeadSHA func(ctx context.Context) (string, error)
}

// Context is the canonical, provider-free description of a pull request
// being reviewed. It is created once per delivery by a host adapter,
// mutated only by the orchestrator attaching runtime fields, and discarded
// at the end of the delivery.
type Context struct {
	HostID         string
	Repo           Repo
	InstallationID string

	Number int
	Title  string
	Body   string
	State  string
	Head   RefPoint
	Base   RefPoint
	Size   SizeHints

	Capabilities Capabilities

	// Runtime fields, attached by the orchestrator before gates run.
	Deadline               time.Time
	Abort                  <-chan struct{}
	AnnotationBudget       int
	IdempotencyKey         string
	ReviewLimitsConfig     ReviewLimitsConfig
	Intent                 Intent
	RequiredStatusContexts []string
	Log                    Logger
}

// ReviewLimitsConfig carries the resolved review-limits declaration,
// consulted by the evidence builder to cap its own budgets. It is
// written once by the orchestrator during run-context initialization,
// before any gate launches, and read-only afterwards.
type ReviewLimitsConfig struct {
	MaxChangedFiles int
	MaxTotalDiffKB  int
	Resolved        bool
}

// Intent mirrors a specification's intent block. Gates that validate
// intent declarations (goal-declaration, forbidden-scopes) read it off
// the context rather than taking it as constructor state, since the
// gate registry is a closed mapping built once at process start while
// intent varies per delivery.
type Intent struct {
	Name     string
	Goals    []string
	NonGoals []string
}

// Logger is the narrow logging surface canonical and downstream packages
// depend on; internal/logging provides the concrete zap-backed
// implementation so this package never imports zap directly.
type Logger interface {
	With(fields ...any) Logger
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
}

// HasCapability reports whether the named operation is available. Gate
// implementations use this instead of nil-checking fields directly so the
// capability_unavailable neutral reason is produced consistently.
func (c *Context) HasCapability(name string) bool {
	switch name {
	case "get_file":
		return c.Capabilities.GetFile != nil
	case "list_changed_files":
		return c.Capabilities.ListChangedFiles != nil
	case "compare":
		return c.Capabilities.Compare != nil
	case "publish_check":
		return c.Capabilities.PublishCheck != nil
	case "post_comment":
		return c.Capabilities.PostComment != nil
	case "resolve_artifact":
		return c.Capabilities.ResolveArtifact != nil
	case "current_head_sha":
		return c.Capabilities.CurrentHeadSHA != nil
	default:
		return false
	}
}

// Aborted reports whether the delivery-scoped abort signal has fired.
func (c *Context) Aborted() bool {
	select {
	case <-c.Abort:
		return true
	default:
		return false
	}
}
