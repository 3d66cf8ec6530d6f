// Package models defines the persisted record types for docverctl: allowlist
// entries, project-to-repository bindings, audit log entries, and advisory file
// locks. File content itself is never persisted here; GitHub owns it.
package models

import "time"

// AllowedUser represents a GitHub identity permitted to use the system.
// GitHubLogin is always stored lower-cased so lookups are case-insensitive;
// GitHubUserID is the stable identifier that survives login renames.
type AllowedUser struct {
	ID           string
	GitHubUserID int64
	GitHubLogin  string
	IsAdmin      bool
	AddedBy      *string
	AddedAt      time.Time
}
