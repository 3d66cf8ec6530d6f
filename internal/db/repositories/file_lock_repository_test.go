package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/docverctl/docverctl/internal/db/models"
)

var lockCols = []string{"id", "project_id", "path", "locked_by_github_id", "locked_by_login", "acquired_at", "expires_at"}

func sampleLockRow(expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(lockCols).
		AddRow("lock-1", "proj-1", "docs/readme.md", int64(1001), "octocat", time.Now(), expiresAt)
}

func newFileLockRepo(t *testing.T) (*FileLockRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewFileLockRepository(sqlx.NewDb(db, "postgres")), mock
}

// ---------------------------------------------------------------------------
// Acquire
// ---------------------------------------------------------------------------

func TestAcquireLock_Success(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectQuery("INSERT INTO file_locks").
		WillReturnRows(sampleLockRow(time.Now().Add(15 * time.Minute)))

	lock := &models.FileLock{
		ProjectID:        "proj-1",
		Path:             "docs/readme.md",
		LockedByGitHubID: 1001,
		LockedByLogin:    "octocat",
	}
	stored, err := repo.Acquire(context.Background(), lock, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored lock, got nil")
	}
	if stored.LockedByLogin != "octocat" {
		t.Errorf("LockedByLogin = %s, want octocat", stored.LockedByLogin)
	}
}

func TestAcquireLock_HeldByOther(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	// The conditional upsert returns no row when another user holds a live
	// lock on the path.
	mock.ExpectQuery("INSERT INTO file_locks").
		WillReturnRows(sqlmock.NewRows(lockCols))

	lock := &models.FileLock{
		ProjectID:        "proj-1",
		Path:             "docs/readme.md",
		LockedByGitHubID: 2002,
		LockedByLogin:    "other",
	}
	_, err := repo.Acquire(context.Background(), lock, 15*time.Minute)
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
}

func TestAcquireLock_DBError(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectQuery("INSERT INTO file_locks").
		WillReturnError(errDB)

	lock := &models.FileLock{ProjectID: "proj-1", Path: "docs/readme.md"}
	_, err := repo.Acquire(context.Background(), lock, 15*time.Minute)
	if err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func TestGetLock_Found(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectQuery("SELECT.*FROM file_locks.*WHERE project_id").
		WillReturnRows(sampleLockRow(time.Now().Add(10 * time.Minute)))

	lock, err := repo.Get(context.Background(), "proj-1", "docs/readme.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock == nil {
		t.Fatal("expected lock, got nil")
	}
}

func TestGetLock_NotFound(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectQuery("SELECT.*FROM file_locks.*WHERE project_id").
		WillReturnRows(sqlmock.NewRows(lockCols))

	lock, err := repo.Get(context.Background(), "proj-1", "docs/other.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock != nil {
		t.Errorf("expected nil lock, got %v", lock)
	}
}

// ---------------------------------------------------------------------------
// ListByProject
// ---------------------------------------------------------------------------

func TestListLocksByProject_Success(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectQuery("SELECT.*FROM file_locks.*ORDER BY path").
		WillReturnRows(sampleLockRow(time.Now().Add(10 * time.Minute)))

	locks, err := repo.ListByProject(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(locks) != 1 {
		t.Errorf("len(locks) = %d, want 1", len(locks))
	}
}

// ---------------------------------------------------------------------------
// Release
// ---------------------------------------------------------------------------

func TestReleaseLock_Success(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectExec("DELETE FROM file_locks").
		WithArgs("proj-1", "docs/readme.md", int64(1001)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Release(context.Background(), "proj-1", "docs/readme.md", 1001); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReleaseLock_NotHeld(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectExec("DELETE FROM file_locks").
		WithArgs("proj-1", "docs/readme.md", int64(2002)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// Releasing someone else's lock is a silent no-op.
	if err := repo.Release(context.Background(), "proj-1", "docs/readme.md", 2002); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// DeleteExpired
// ---------------------------------------------------------------------------

func TestDeleteExpiredLocks_Success(t *testing.T) {
	repo, mock := newFileLockRepo(t)
	mock.ExpectExec("DELETE FROM file_locks WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
}

// ---------------------------------------------------------------------------
// Expired helper
// ---------------------------------------------------------------------------

func TestLockExpired(t *testing.T) {
	now := time.Now()
	live := &models.FileLock{ExpiresAt: now.Add(time.Minute)}
	lapsed := &models.FileLock{ExpiresAt: now.Add(-time.Minute)}

	if live.Expired(now) {
		t.Error("live lock reported expired")
	}
	if !lapsed.Expired(now) {
		t.Error("lapsed lock reported live")
	}
}
