// file_lock_repository.go implements FileLockRepository, the advisory editing
// lock store. Lock acquisition is a single upsert so two concurrent editors
// racing for the same path cannot both win.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/docverctl/docverctl/internal/db/models"
)

// FileLockRepository handles file lock database operations
type FileLockRepository struct {
	db *sqlx.DB
}

// NewFileLockRepository creates a new FileLockRepository
func NewFileLockRepository(db *sqlx.DB) *FileLockRepository {
	return &FileLockRepository{db: db}
}

// Acquire takes the lock on (projectID, path) for the given user with the
// given lease duration. An expired lock or a lock already held by the same
// user is taken over. Returns ErrDuplicate when another user holds a live
// lock. On success the stored lock row is returned.
func (r *FileLockRepository) Acquire(ctx context.Context, lock *models.FileLock, lease time.Duration) (*models.FileLock, error) {
	lock.ID = uuid.New().String()
	lock.AcquiredAt = time.Now()
	lock.ExpiresAt = lock.AcquiredAt.Add(lease)

	query := `
		INSERT INTO file_locks (id, project_id, path, locked_by_github_id, locked_by_login, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, path)
		DO UPDATE SET locked_by_github_id = EXCLUDED.locked_by_github_id,
		              locked_by_login = EXCLUDED.locked_by_login,
		              acquired_at = EXCLUDED.acquired_at,
		              expires_at = EXCLUDED.expires_at
		WHERE file_locks.expires_at <= EXCLUDED.acquired_at
		   OR file_locks.locked_by_github_id = EXCLUDED.locked_by_github_id
		RETURNING id, project_id, path, locked_by_github_id, locked_by_login, acquired_at, expires_at
	`

	stored := &models.FileLock{}
	err := r.db.GetContext(ctx, stored, query,
		lock.ID,
		lock.ProjectID,
		lock.Path,
		lock.LockedByGitHubID,
		lock.LockedByLogin,
		lock.AcquiredAt,
		lock.ExpiresAt,
	)

	// No row returned means the conflict branch was skipped: someone else
	// holds a live lock.
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicate
	}

	if err != nil {
		return nil, err
	}

	return stored, nil
}

// Get retrieves the lock on (projectID, path). Expired locks are treated as
// absent.
func (r *FileLockRepository) Get(ctx context.Context, projectID, path string) (*models.FileLock, error) {
	query := `
		SELECT id, project_id, path, locked_by_github_id, locked_by_login, acquired_at, expires_at
		FROM file_locks
		WHERE project_id = $1 AND path = $2 AND expires_at > $3
	`

	lock := &models.FileLock{}
	err := r.db.GetContext(ctx, lock, query, projectID, path, time.Now())

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return lock, nil
}

// ListByProject retrieves all live locks within a project
func (r *FileLockRepository) ListByProject(ctx context.Context, projectID string) ([]*models.FileLock, error) {
	query := `
		SELECT id, project_id, path, locked_by_github_id, locked_by_login, acquired_at, expires_at
		FROM file_locks
		WHERE project_id = $1 AND expires_at > $2
		ORDER BY path ASC
	`

	locks := make([]*models.FileLock, 0)
	err := r.db.SelectContext(ctx, &locks, query, projectID, time.Now())
	if err != nil {
		return nil, err
	}

	return locks, nil
}

// Release drops the lock on (projectID, path) if the given user holds it.
// Releasing a lock that does not exist or belongs to someone else is a no-op.
func (r *FileLockRepository) Release(ctx context.Context, projectID, path string, githubUserID int64) error {
	query := `
		DELETE FROM file_locks
		WHERE project_id = $1 AND path = $2 AND locked_by_github_id = $3
	`

	_, err := r.db.ExecContext(ctx, query, projectID, path, githubUserID)
	return err
}

// DeleteExpired removes lapsed lock rows. Called periodically so the table
// does not accumulate dead leases.
func (r *FileLockRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM file_locks WHERE expires_at <= $1`

	res, err := r.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
