package models

import "time"

// FileLock is an advisory editing lock on a single path within a project.
// Locks are informational only: writes are serialized by GitHub's content-hash
// precondition, not by lock ownership.
type FileLock struct {
	ID               string     `db:"id"`
	ProjectID        string     `db:"project_id"`
	Path             string     `db:"path"`
	LockedByGitHubID int64      `db:"locked_by_github_id"`
	LockedByLogin    string     `db:"locked_by_login"`
	AcquiredAt       time.Time  `db:"acquired_at"`
	ExpiresAt        time.Time  `db:"expires_at"`
}

// Expired reports whether the lock's lease has lapsed at the given instant.
func (l *FileLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
