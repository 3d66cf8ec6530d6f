// allowlist.go implements the membership gate. Access is granted either by a
// static fallback list of logins from configuration or by a row in the
// allowed_users table. The fallback exists so the first admin can log in
// before the database holds anyone.
package auth

import (
	"context"
	"strings"

	"github.com/docverctl/docverctl/internal/db/models"
)

// AllowlistStore is the subset of the allowlist repository the gate needs
type AllowlistStore interface {
	FindByIDOrLogin(ctx context.Context, githubUserID int64, login string) (*models.AllowedUser, error)
}

// Gate answers whether a GitHub account may use the app
type Gate struct {
	fallback map[string]bool
	store    AllowlistStore
}

// NewGate creates a gate over a store plus a comma-separated fallback list of
// logins. Fallback entries are trimmed and lower-cased.
func NewGate(store AllowlistStore, fallbackCSV string) *Gate {
	fallback := make(map[string]bool)
	for _, login := range strings.Split(fallbackCSV, ",") {
		login = strings.ToLower(strings.TrimSpace(login))
		if login != "" {
			fallback[login] = true
		}
	}
	return &Gate{fallback: fallback, store: store}
}

// Check resolves the membership record for a GitHub account. A nil record
// means not allowed. The fallback list grants access but never admin; admin
// comes only from a stored allowlist row. A fallback login keeps working even
// when its database row is missing or the lookup fails.
func (g *Gate) Check(ctx context.Context, githubID int64, login string) (*models.AllowedUser, error) {
	lower := strings.ToLower(strings.TrimSpace(login))

	if g.fallback[lower] {
		if g.store != nil {
			record, err := g.store.FindByIDOrLogin(ctx, githubID, lower)
			if err == nil && record != nil {
				return record, nil
			}
		}
		return &models.AllowedUser{
			GitHubUserID: githubID,
			GitHubLogin:  lower,
		}, nil
	}

	if g.store == nil {
		return nil, nil
	}

	return g.store.FindByIDOrLogin(ctx, githubID, lower)
}
