// history.go retrieves a file's commit history and content snapshots for
// version comparison. Snapshot fetches for a comparison pair run concurrently;
// a blob missing at a given ref (file did not exist yet, or was deleted) is
// represented as empty content rather than an error.
package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/docverctl/docverctl/internal/github"
)

// History is a file's commit list plus the content at its two most recent
// revisions, ready for a latest-vs-previous diff view.
type History struct {
	Path            string           `json:"path"`
	Commits         []*github.Commit `json:"commits"`
	LatestContent   string           `json:"latest_content"`
	PreviousContent string           `json:"previous_content"`
}

// Comparison is the content of one file at two arbitrary revisions.
type Comparison struct {
	Path        string `json:"path"`
	BaseSHA     string `json:"base_sha"`
	HeadSHA     string `json:"head_sha"`
	BaseContent string `json:"base_content"`
	HeadContent string `json:"head_content"`
}

// History lists a file's commits, most recent first, and resolves the content
// at the latest and previous revisions. A path with no commits returns
// ErrNoCommits.
func (w *Workspace) History(ctx context.Context, token string, ref github.RepoRef, path string) (*History, error) {
	commits, err := w.gh.ListCommits(ctx, token, ref, path)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, ErrNoCommits
	}

	h := &History{Path: path, Commits: commits}

	h.LatestContent, err = w.gh.ContentAtRef(ctx, token, ref, path, commits[0].SHA)
	if err != nil {
		return nil, fmt.Errorf("content at latest revision: %w", err)
	}
	if len(commits) > 1 {
		h.PreviousContent, err = w.gh.ContentAtRef(ctx, token, ref, path, commits[1].SHA)
		if err != nil {
			return nil, fmt.Errorf("content at previous revision: %w", err)
		}
	}
	return h, nil
}

// Compare fetches one file's content at two revisions. The fetches run
// concurrently since neither depends on the other.
func (w *Workspace) Compare(ctx context.Context, token string, ref github.RepoRef, path, baseSHA, headSHA string) (*Comparison, error) {
	cmp := &Comparison{Path: path, BaseSHA: baseSHA, HeadSHA: headSHA}

	errs := make(chan error, 2)
	go func() {
		var err error
		cmp.BaseContent, err = w.gh.ContentAtRef(ctx, token, ref, path, baseSHA)
		errs <- err
	}()
	go func() {
		var err error
		cmp.HeadContent, err = w.gh.ContentAtRef(ctx, token, ref, path, headSHA)
		errs <- err
	}()

	err := errors.Join(<-errs, <-errs)
	if err != nil {
		return nil, err
	}
	return cmp, nil
}
