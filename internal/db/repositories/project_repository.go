package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/docverctl/docverctl/internal/db/models"
)

// ProjectRepository handles project database operations
type ProjectRepository struct {
	db *sql.DB
}

// NewProjectRepository creates a new ProjectRepository
func NewProjectRepository(db *sql.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create inserts a new project. Returns ErrDuplicate when the slug or the
// (repo_owner, repo_name) pair is already taken.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	project.ID = uuid.New().String()
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt

	emailsJSON, err := json.Marshal(project.NotificationEmails)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO projects (id, name, slug, repo_owner, repo_name, repo_url,
		                      default_branch, notification_emails, created_by_github_id,
		                      is_archived, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		project.ID,
		project.Name,
		project.Slug,
		project.RepoOwner,
		project.RepoName,
		project.RepoURL,
		project.DefaultBranch,
		emailsJSON,
		project.CreatedByGitHubID,
		project.IsArchived,
		project.CreatedAt,
		project.UpdatedAt,
	)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}

	return err
}

// GetByID retrieves a project by ID. Archived projects are treated as absent.
func (r *ProjectRepository) GetByID(ctx context.Context, projectID string) (*models.Project, error) {
	query := `
		SELECT id, name, slug, repo_owner, repo_name, repo_url,
		       default_branch, notification_emails, created_by_github_id,
		       is_archived, created_at, updated_at
		FROM projects
		WHERE id = $1 AND is_archived = FALSE
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, projectID))
}

// GetBySlug retrieves a project by its URL slug. Archived projects are
// treated as absent.
func (r *ProjectRepository) GetBySlug(ctx context.Context, slug string) (*models.Project, error) {
	query := `
		SELECT id, name, slug, repo_owner, repo_name, repo_url,
		       default_branch, notification_emails, created_by_github_id,
		       is_archived, created_at, updated_at
		FROM projects
		WHERE slug = $1 AND is_archived = FALSE
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, slug))
}

// ListActive retrieves all non-archived projects, most recently updated first
func (r *ProjectRepository) ListActive(ctx context.Context) ([]*models.Project, error) {
	query := `
		SELECT id, name, slug, repo_owner, repo_name, repo_url,
		       default_branch, notification_emails, created_by_github_id,
		       is_archived, created_at, updated_at
		FROM projects
		WHERE is_archived = FALSE
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		project, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

// Touch bumps a project's updated_at timestamp. Called after any write to the
// project's repository so ListActive ordering reflects recent activity.
func (r *ProjectRepository) Touch(ctx context.Context, projectID string) error {
	query := `UPDATE projects SET updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, projectID, time.Now())
	return err
}

// UpdateNotificationEmails replaces a project's notification recipient list
func (r *ProjectRepository) UpdateNotificationEmails(ctx context.Context, projectID string, emails []string) error {
	emailsJSON, err := json.Marshal(emails)
	if err != nil {
		return err
	}

	query := `
		UPDATE projects
		SET notification_emails = $2, updated_at = $3
		WHERE id = $1
	`

	_, err = r.db.ExecContext(ctx, query, projectID, emailsJSON, time.Now())
	return err
}

// Purge removes a project and all of its metadata (audit entries, file locks)
// in a single transaction. The GitHub repository itself is untouched.
func (r *ProjectRepository) Purge(ctx context.Context, projectID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE project_id = $1`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ProjectRepository) scanOne(row rowScanner) (*models.Project, error) {
	project, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (r *ProjectRepository) scanRow(row rowScanner) (*models.Project, error) {
	project := &models.Project{}
	var emailsJSON []byte

	err := row.Scan(
		&project.ID,
		&project.Name,
		&project.Slug,
		&project.RepoOwner,
		&project.RepoName,
		&project.RepoURL,
		&project.DefaultBranch,
		&emailsJSON,
		&project.CreatedByGitHubID,
		&project.IsArchived,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(emailsJSON) > 0 {
		if err := json.Unmarshal(emailsJSON, &project.NotificationEmails); err != nil {
			return nil, err
		}
	}
	if project.NotificationEmails == nil {
		project.NotificationEmails = []string{}
	}

	return project, nil
}
