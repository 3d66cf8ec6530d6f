// Package audit records privileged workspace actions. Audit entries are
// intentionally separate from application logs because they have different
// consumers and retention requirements. Application logs are ephemeral debug
// output; audit entries are an immutable record of who changed what.
//
// The database is the authoritative destination and is written synchronously:
// a mutation whose audit entry cannot be persisted is reported as failed, even
// though the underlying commit may already exist upstream. Shipping to
// external destinations (file, webhook) is best effort and never fails the
// operation.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docverctl/docverctl/internal/db/models"
	"github.com/docverctl/docverctl/internal/db/repositories"
)

// Recorder persists audit entries and fans them out to optional shippers.
type Recorder struct {
	repo    *repositories.AuditRepository
	shipper Shipper
}

// NewRecorder creates a recorder over the audit repository. shipper may be nil.
func NewRecorder(repo *repositories.AuditRepository, shipper Shipper) *Recorder {
	return &Recorder{repo: repo, shipper: shipper}
}

// Record writes the entry to the database and then ships it. The database
// write is the one that matters: its error propagates to the caller. Shipping
// failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, entry *models.AuditLog) error {
	if err := r.repo.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}

	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			slog.Warn("audit: failed to ship entry",
				"action", entry.Action,
				"project_id", entry.ProjectID,
				"error", err)
		}
	}

	return nil
}

// Close releases shipper resources.
func (r *Recorder) Close() error {
	if r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}
