package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/docverctl/docverctl/internal/db/repositories"
)

func newReaperRepo(t *testing.T) (*repositories.FileLockRepository, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	mock.MatchExpectationsInOrder(false)

	return repositories.NewFileLockRepository(sqlx.NewDb(conn, "postgres")), mock
}

func TestLockReaper_SweepsImmediatelyOnStart(t *testing.T) {
	repo, mock := newReaperRepo(t)
	mock.ExpectExec("DELETE FROM file_locks").WillReturnResult(sqlmock.NewResult(0, 2))

	reaper := NewLockReaper(repo, time.Hour)
	reaper.Start(context.Background())
	defer reaper.Stop()

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond, "startup sweep never ran")
}

func TestLockReaper_SweepsOnInterval(t *testing.T) {
	repo, mock := newReaperRepo(t)
	// Startup sweep plus at least one tick.
	mock.ExpectExec("DELETE FROM file_locks").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM file_locks").WillReturnResult(sqlmock.NewResult(0, 1))

	reaper := NewLockReaper(repo, 20*time.Millisecond)
	reaper.Start(context.Background())
	defer reaper.Stop()

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond, "interval sweep never ran")
}

func TestLockReaper_StopHaltsLoop(t *testing.T) {
	repo, mock := newReaperRepo(t)
	mock.ExpectExec("DELETE FROM file_locks").WillReturnResult(sqlmock.NewResult(0, 0))

	reaper := NewLockReaper(repo, time.Hour)
	reaper.Start(context.Background())

	done := make(chan struct{})
	go func() {
		reaper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestLockReaper_DefaultsInterval(t *testing.T) {
	repo, _ := newReaperRepo(t)
	reaper := NewLockReaper(repo, 0)
	require.Equal(t, 5*time.Minute, reaper.interval)
}

func TestLockReaper_SurvivesSweepErrors(t *testing.T) {
	repo, mock := newReaperRepo(t)
	mock.ExpectExec("DELETE FROM file_locks").WillReturnError(context.DeadlineExceeded)
	mock.ExpectExec("DELETE FROM file_locks").WillReturnResult(sqlmock.NewResult(0, 0))

	reaper := NewLockReaper(repo, 20*time.Millisecond)
	reaper.Start(context.Background())
	defer reaper.Stop()

	// A failed sweep must not kill the loop; the next tick still runs.
	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond)
}
