package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docverctl/docverctl/internal/db/models"
)

// AllowedUserRepository handles allowlist database operations
type AllowedUserRepository struct {
	db *sql.DB
}

// NewAllowedUserRepository creates a new AllowedUserRepository
func NewAllowedUserRepository(db *sql.DB) *AllowedUserRepository {
	return &AllowedUserRepository{db: db}
}

// Create inserts a new allowlist entry. The login is stored lowercased so that
// lookups are case-insensitive. Returns ErrDuplicate when the GitHub user ID
// or login is already on the allowlist.
func (r *AllowedUserRepository) Create(ctx context.Context, user *models.AllowedUser) error {
	user.ID = uuid.New().String()
	user.GitHubLogin = strings.ToLower(strings.TrimSpace(user.GitHubLogin))
	user.AddedAt = time.Now()

	query := `
		INSERT INTO allowed_users (id, github_user_id, github_login, is_admin, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.GitHubUserID,
		user.GitHubLogin,
		user.IsAdmin,
		user.AddedBy,
		user.AddedAt,
	)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}

	return err
}

// FindByIDOrLogin retrieves an allowlist entry matching either the numeric
// GitHub user ID or the login. Logins compare case-insensitively.
func (r *AllowedUserRepository) FindByIDOrLogin(ctx context.Context, githubUserID int64, login string) (*models.AllowedUser, error) {
	query := `
		SELECT id, github_user_id, github_login, is_admin, added_by, added_at
		FROM allowed_users
		WHERE github_user_id = $1 OR github_login = $2
	`

	user := &models.AllowedUser{}
	err := r.db.QueryRowContext(ctx, query, githubUserID, strings.ToLower(login)).Scan(
		&user.ID,
		&user.GitHubUserID,
		&user.GitHubLogin,
		&user.IsAdmin,
		&user.AddedBy,
		&user.AddedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetByGitHubUserID retrieves an allowlist entry by GitHub user ID
func (r *AllowedUserRepository) GetByGitHubUserID(ctx context.Context, githubUserID int64) (*models.AllowedUser, error) {
	query := `
		SELECT id, github_user_id, github_login, is_admin, added_by, added_at
		FROM allowed_users
		WHERE github_user_id = $1
	`

	user := &models.AllowedUser{}
	err := r.db.QueryRowContext(ctx, query, githubUserID).Scan(
		&user.ID,
		&user.GitHubUserID,
		&user.GitHubLogin,
		&user.IsAdmin,
		&user.AddedBy,
		&user.AddedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// List retrieves all allowlist entries ordered by login
func (r *AllowedUserRepository) List(ctx context.Context) ([]*models.AllowedUser, error) {
	query := `
		SELECT id, github_user_id, github_login, is_admin, added_by, added_at
		FROM allowed_users
		ORDER BY github_login ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*models.AllowedUser, 0)
	for rows.Next() {
		user := &models.AllowedUser{}
		err := rows.Scan(
			&user.ID,
			&user.GitHubUserID,
			&user.GitHubLogin,
			&user.IsAdmin,
			&user.AddedBy,
			&user.AddedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetAdmin updates the admin flag on an existing allowlist entry
func (r *AllowedUserRepository) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	query := `UPDATE allowed_users SET is_admin = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, isAdmin)
	return err
}

// Delete removes an allowlist entry by its row ID
func (r *AllowedUserRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM allowed_users WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Upsert inserts an allowlist entry, or promotes the existing entry for the
// same GitHub user ID. Used by the bootstrap-admin command so that re-running
// it is safe.
func (r *AllowedUserRepository) Upsert(ctx context.Context, user *models.AllowedUser) error {
	user.ID = uuid.New().String()
	user.GitHubLogin = strings.ToLower(strings.TrimSpace(user.GitHubLogin))
	user.AddedAt = time.Now()

	query := `
		INSERT INTO allowed_users (id, github_user_id, github_login, is_admin, added_by, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (github_user_id)
		DO UPDATE SET github_login = EXCLUDED.github_login, is_admin = EXCLUDED.is_admin
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.GitHubUserID,
		user.GitHubLogin,
		user.IsAdmin,
		user.AddedBy,
		user.AddedAt,
	)

	return err
}
