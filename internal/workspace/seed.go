// seed.go populates a freshly created project repository with a starter
// README and a docs directory so the tree view is never empty.
package workspace

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/telemetry"
)

// Seed writes the starter files into a repository. Files that already exist
// (auto-init repositories come with a README) are overwritten at their
// current sha, so seeding an auto-initialized repository is not a conflict.
func (w *Workspace) Seed(ctx context.Context, token string, ref github.RepoRef, projectName string) error {
	readme := fmt.Sprintf("# %s\n\nManaged by DocVerCtl.\n", projectName)

	seeds := []struct {
		path    string
		content string
	}{
		{"README.md", readme},
		{"docs/.keep", ""},
	}

	for _, s := range seeds {
		if err := w.seedFile(ctx, token, ref, s.path, s.content); err != nil {
			return fmt.Errorf("seed %s: %w", s.path, err)
		}
	}
	return nil
}

func (w *Workspace) seedFile(ctx context.Context, token string, ref github.RepoRef, path, content string) error {
	var sha *string
	if existing, err := w.gh.ReadFile(ctx, token, ref, path); err == nil {
		sha = &existing.SHA
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(content))
	if _, err := w.gh.UpsertFile(ctx, token, ref, path, encoded, "Initialize repository", sha); err != nil {
		return err
	}

	telemetry.FileCommitsTotal.WithLabelValues("seed").Inc()
	return nil
}
