package models

import "time"

// Audit actions recorded for privileged mutations.
const (
	AuditProjectCreate = "PROJECT_CREATE"
	AuditFileCreate    = "FILE_CREATE"
	AuditFileEdit      = "FILE_EDIT"
	AuditFileDelete    = "FILE_DELETE"
	AuditFolderCreate  = "FOLDER_CREATE"
	AuditRename        = "RENAME"
	AuditMove          = "MOVE"
	AuditCommit        = "COMMIT"
)

// AuditLog is an append-only record of a privileged action. Entries are never
// mutated and are deleted only by the project purge cascade.
type AuditLog struct {
	ID            string
	ActorGitHubID int64
	ActorLogin    string
	Action        string
	ProjectID     string
	Path          *string
	Metadata      map[string]interface{} // JSONB: commit sha, message, etc.
	CreatedAt     time.Time
}
