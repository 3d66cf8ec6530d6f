// Package workspace implements file-tree operations over a project's GitHub
// repository: reads and writes with optimistic concurrency, recursive moves,
// history retrieval, and seeding of newly created repositories. It owns no
// state of its own; every operation is a translation onto the GitHub content
// API using the caller's token.
package workspace

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/telemetry"
)

// ErrNoCommits means a path has no commit history to show.
var ErrNoCommits = errors.New("path has no commits")

// Workspace performs repository file operations for handlers.
type Workspace struct {
	gh *github.Client
}

// New creates a workspace over a GitHub client.
func New(gh *github.Client) *Workspace {
	return &Workspace{gh: gh}
}

// EnsureRepo confirms the repository behind ref exists and is reachable with
// the caller's token. Returns github.ErrRepoNotFound when it is gone.
func (w *Workspace) EnsureRepo(ctx context.Context, token string, ref github.RepoRef) error {
	_, err := w.gh.GetRepo(ctx, token, ref.Owner, ref.Repo)
	return err
}

// ListTree lists a directory. Empty path means the repository root, which
// yields an empty listing (never an error) for an empty repository.
func (w *Workspace) ListTree(ctx context.Context, token string, ref github.RepoRef, path string) ([]*github.Entry, error) {
	return w.gh.ListDirectory(ctx, token, ref, path)
}

// ReadFile reads a file's decoded text content.
func (w *Workspace) ReadFile(ctx context.Context, token string, ref github.RepoRef, path string) (*github.File, error) {
	return w.gh.ReadFile(ctx, token, ref, path)
}

// ReadFileStream streams a file's raw bytes with the upstream content type.
func (w *Workspace) ReadFileStream(ctx context.Context, token string, ref github.RepoRef, path string) (github.StreamedFile, error) {
	body, contentType, err := w.gh.ReadFileStream(ctx, token, ref, path)
	if err != nil {
		return github.StreamedFile{}, err
	}
	return github.StreamedFile{Body: body, ContentType: contentType}, nil
}

// WriteFile creates or updates a file with plain-text content. A nil sha means
// create; a stale sha surfaces as github.ErrStaleSHA. Returns the resulting
// commit and content hash.
func (w *Workspace) WriteFile(ctx context.Context, token string, ref github.RepoRef, path, content, message string, sha *string) (*github.WriteResult, error) {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	result, err := w.gh.UpsertFile(ctx, token, ref, path, encoded, message, sha)
	if err != nil {
		if errors.Is(err, github.ErrStaleSHA) {
			telemetry.StaleWriteConflictsTotal.Inc()
		}
		return nil, err
	}

	telemetry.FileCommitsTotal.WithLabelValues("upsert").Inc()
	return result, nil
}

// DeleteFile removes a file. The sha must match the file's current content
// hash or the delete is rejected with github.ErrStaleSHA.
func (w *Workspace) DeleteFile(ctx context.Context, token string, ref github.RepoRef, path, sha, message string) (*github.WriteResult, error) {
	result, err := w.gh.DeleteFile(ctx, token, ref, path, sha, message)
	if err != nil {
		if errors.Is(err, github.ErrStaleSHA) {
			telemetry.StaleWriteConflictsTotal.Inc()
		}
		return nil, err
	}

	telemetry.FileCommitsTotal.WithLabelValues("delete").Inc()
	return result, nil
}

// moveMessage is the commit message used for each commit a move produces.
func moveMessage(from, to, login string) string {
	return fmt.Sprintf("Move %s -> %s by @%s", from, to, login)
}
