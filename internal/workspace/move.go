// move.go implements rename/move. Directories have no independent existence
// upstream, so moving one means re-homing every descendant file: read raw,
// write at the mapped destination, delete the original, one file at a time,
// depth-first in listing order. There is no multi-path transaction upstream,
// so a mid-sequence failure leaves files present at both paths; the report
// tells the caller exactly which sub-paths completed.
package workspace

import (
	"context"
	"errors"
	"strings"

	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/telemetry"
)

// MoveReport reconciles a move: which descendant files completed, which
// failed and at what stage. Failed is empty on full success.
type MoveReport struct {
	From   string        `json:"from"`
	To     string        `json:"to"`
	Moved  []string      `json:"moved"`
	Failed []MoveFailure `json:"failed,omitempty"`
}

// MoveFailure records where a single file's move stopped.
type MoveFailure struct {
	Path  string `json:"path"`
	Stage string `json:"stage"` // "read", "write", or "delete"
	Error string `json:"error"`
}

// Move relocates a file or directory. login is the acting user, recorded in
// every commit message the move produces. The returned report is valid even
// when err is non-nil; err is non-nil when any descendant failed.
func (w *Workspace) Move(ctx context.Context, token string, ref github.RepoRef, from, to, login string) (*MoveReport, error) {
	report := &MoveReport{From: from, To: to, Moved: []string{}}

	entries, err := w.gh.ListDirectory(ctx, token, ref, from)
	switch {
	case err == nil:
		// Directory: re-home every descendant sequentially.
		w.moveDir(ctx, token, ref, entries, from, to, login, report)
	case errors.Is(err, github.ErrNotADir):
		w.moveFile(ctx, token, ref, from, to, login, report)
	default:
		return nil, err
	}

	if len(report.Failed) > 0 {
		return report, errors.New("move completed partially, see report")
	}
	telemetry.FileCommitsTotal.WithLabelValues("move").Inc()
	return report, nil
}

// moveDir walks a directory listing depth-first, directories before files in
// the order the listing provides.
func (w *Workspace) moveDir(ctx context.Context, token string, ref github.RepoRef, entries []*github.Entry, from, to, login string, report *MoveReport) {
	for _, entry := range entries {
		dest := to + strings.TrimPrefix(entry.Path, from)
		if entry.Type == "dir" {
			children, err := w.gh.ListDirectory(ctx, token, ref, entry.Path)
			if err != nil {
				report.Failed = append(report.Failed, MoveFailure{Path: entry.Path, Stage: "read", Error: err.Error()})
				continue
			}
			w.moveDir(ctx, token, ref, children, from, to, login, report)
			continue
		}
		w.moveFile(ctx, token, ref, entry.Path, dest, login, report)
	}
}

// moveFile relocates one file: raw read so non-text content survives
// byte-exact, create at the destination, then delete the original.
func (w *Workspace) moveFile(ctx context.Context, token string, ref github.RepoRef, from, to, login string, report *MoveReport) {
	message := moveMessage(from, to, login)

	file, err := w.gh.ReadFileRaw(ctx, token, ref, from)
	if err != nil {
		report.Failed = append(report.Failed, MoveFailure{Path: from, Stage: "read", Error: err.Error()})
		return
	}

	if _, err := w.gh.UpsertFile(ctx, token, ref, to, file.ContentBase64, message, nil); err != nil {
		report.Failed = append(report.Failed, MoveFailure{Path: from, Stage: "write", Error: err.Error()})
		return
	}

	if _, err := w.gh.DeleteFile(ctx, token, ref, from, file.SHA, message); err != nil {
		// The copy exists at both paths now; surface that precisely.
		report.Failed = append(report.Failed, MoveFailure{Path: from, Stage: "delete", Error: err.Error()})
		return
	}

	report.Moved = append(report.Moved, from)
}
