// locks.go implements the advisory editing locks. A lock never blocks the
// repository itself, GitHub's content-hash precondition is the real write
// guard; locks exist so two editors see each other before they collide.
package files

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/db/models"
	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/middleware"
	"github.com/docverctl/docverctl/internal/validation"
)

func lockResponse(l *models.FileLock) gin.H {
	return gin.H{
		"path":        l.Path,
		"locked_by":   l.LockedByLogin,
		"acquired_at": l.AcquiredAt.UTC().Format(time.RFC3339),
		"expires_at":  l.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type lockRequest struct {
	Path string `json:"path" binding:"required"`
}

// AcquireLock takes or renews the advisory lock on a path. Answers 423 when
// another user holds a live lock.
// Implements: POST /api/v1/projects/:slug/lock
func (h *Handler) AcquireLock(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateFilePath(req.Path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}

	lock, err := h.locks.Acquire(c.Request.Context(), &models.FileLock{
		ProjectID:        project.ID,
		Path:             req.Path,
		LockedByGitHubID: middleware.GitHubID(c),
		LockedByLogin:    middleware.GitHubLogin(c),
	}, h.cfg.LockLease)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			current, lookupErr := h.locks.Get(c.Request.Context(), project.ID, req.Path)
			resp := gin.H{"error": "File is locked by another user"}
			if lookupErr == nil && current != nil {
				resp["lock"] = lockResponse(current)
			}
			c.JSON(http.StatusLocked, resp)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to acquire lock"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"lock": lockResponse(lock)})
}

// ReleaseLock drops the caller's lock on a path. Releasing a lock you do not
// hold is a no-op, not an error.
// Implements: DELETE /api/v1/projects/:slug/lock?path=
func (h *Handler) ReleaseLock(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if err := validation.ValidateFilePath(path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}

	if err := h.locks.Release(c.Request.Context(), project.ID, path, middleware.GitHubID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to release lock"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lock released"})
}

// ListLocks returns all live locks in a project.
// Implements: GET /api/v1/projects/:slug/locks
func (h *Handler) ListLocks(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	locks, err := h.locks.ListByProject(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list locks"})
		return
	}

	out := make([]gin.H, 0, len(locks))
	for _, l := range locks {
		out = append(out, lockResponse(l))
	}
	c.JSON(http.StatusOK, gin.H{"locks": out})
}

// lockPermitsWrite enforces the advisory lock on the write path: a live lock
// held by someone else turns the write away with 423. Lock lookup failures
// do not block writes; the content-hash precondition still protects the data.
func (h *Handler) lockPermitsWrite(c *gin.Context, projectID, path string) bool {
	lock, err := h.locks.Get(c.Request.Context(), projectID, path)
	if err != nil || lock == nil {
		return true
	}
	if lock.LockedByGitHubID == middleware.GitHubID(c) {
		return true
	}
	c.JSON(http.StatusLocked, gin.H{
		"error": "File is locked by another user",
		"lock":  lockResponse(lock),
	})
	return false
}
