// Package jobs contains background workers that run on a schedule.
// The lock reaper removes lapsed advisory file locks so the file_locks table
// stays small and lock listings never show dead leases. Jobs are idempotent;
// re-running after a crash produces the same result as a clean run.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/safego"
)

// LockReaper periodically deletes expired file lock rows.
type LockReaper struct {
	locks    *repositories.FileLockRepository
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLockReaper creates a reaper over the lock repository. A non-positive
// interval falls back to five minutes.
func NewLockReaper(locks *repositories.FileLockRepository, interval time.Duration) *LockReaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &LockReaper{
		locks:    locks,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (j *LockReaper) Start(ctx context.Context) {
	slog.Info("starting lock reaper", "interval", j.interval)

	j.wg.Add(1)
	safego.Go(func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-j.stopCh:
				slog.Info("lock reaper stopped")
				return
			case <-ctx.Done():
				slog.Info("lock reaper context cancelled")
				return
			}
		}
	})
}

// Stop halts the sweep loop and waits for it to exit.
func (j *LockReaper) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

func (j *LockReaper) sweep(ctx context.Context) {
	removed, err := j.locks.DeleteExpired(ctx)
	if err != nil {
		slog.Error("lock reaper sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Debug("expired locks removed", "count", removed)
	}
}
