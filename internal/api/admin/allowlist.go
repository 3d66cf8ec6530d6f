// Package admin implements the admin-only endpoints: allowlist management
// and audit log inspection. Every route here sits behind RequireAdmin.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/db/models"
	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/middleware"
)

// Handler serves the /api/v1/admin routes.
type Handler struct {
	users *repositories.AllowedUserRepository
	audit *repositories.AuditRepository
}

// NewHandler creates the admin handler.
func NewHandler(users *repositories.AllowedUserRepository, audit *repositories.AuditRepository) *Handler {
	return &Handler{users: users, audit: audit}
}

func userResponse(u *models.AllowedUser) gin.H {
	return gin.H{
		"id":             u.ID,
		"github_user_id": u.GitHubUserID,
		"github_login":   u.GitHubLogin,
		"is_admin":       u.IsAdmin,
		"added_by":       u.AddedBy,
		"added_at":       u.AddedAt.UTC().Format(time.RFC3339),
	}
}

// ListAllowlist returns every allowlist entry.
// Implements: GET /api/v1/admin/allowlist
func (h *Handler) ListAllowlist(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list allowlist"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, userResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

type addUserRequest struct {
	GitHubUserID int64  `json:"github_user_id" binding:"required"`
	GitHubLogin  string `json:"github_login" binding:"required"`
	IsAdmin      bool   `json:"is_admin"`
}

// AddUser grants a GitHub account access. The login is stored lower-cased;
// the numeric ID is what actually identifies the account across renames.
// Implements: POST /api/v1/admin/allowlist
func (h *Handler) AddUser(c *gin.Context) {
	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	addedBy := middleware.GitHubLogin(c)
	user := &models.AllowedUser{
		GitHubUserID: req.GitHubUserID,
		GitHubLogin:  strings.ToLower(strings.TrimSpace(req.GitHubLogin)),
		IsAdmin:      req.IsAdmin,
		AddedBy:      &addedBy,
	}
	if user.GitHubLogin == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GitHub login must not be empty"})
		return
	}

	if err := h.users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "User is already allowlisted"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add user"})
		return
	}

	slog.Info("allowlist entry added", "login", user.GitHubLogin, "is_admin", user.IsAdmin, "by", addedBy)
	c.JSON(http.StatusCreated, userResponse(user))
}

type setAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// SetAdmin flips an entry's admin flag. An admin cannot demote themselves;
// that guards against locking every admin out of the admin surface.
// Implements: PATCH /api/v1/admin/allowlist/:id
func (h *Handler) SetAdmin(c *gin.Context) {
	var req setAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	target, ok := h.lookupEntry(c)
	if !ok {
		return
	}
	if target.GitHubUserID == middleware.GitHubID(c) && !req.IsAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot remove your own admin access"})
		return
	}

	if err := h.users.SetAdmin(c.Request.Context(), target.ID, req.IsAdmin); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User updated"})
}

// RemoveUser revokes a GitHub account's access. Sessions the user already
// holds die at the next request, the auth middleware re-checks the allowlist
// every time. Self-removal is refused for the same lockout reason as
// self-demotion.
// Implements: DELETE /api/v1/admin/allowlist/:id
func (h *Handler) RemoveUser(c *gin.Context) {
	target, ok := h.lookupEntry(c)
	if !ok {
		return
	}
	if target.GitHubUserID == middleware.GitHubID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot remove yourself from the allowlist"})
		return
	}

	if err := h.users.Delete(c.Request.Context(), target.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove user"})
		return
	}

	slog.Info("allowlist entry removed", "login", target.GitHubLogin, "by", middleware.GitHubLogin(c))
	c.JSON(http.StatusOK, gin.H{"message": "User removed"})
}

// lookupEntry resolves the :id path parameter against the allowlist.
func (h *Handler) lookupEntry(c *gin.Context) (*models.AllowedUser, bool) {
	id := c.Param("id")
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load allowlist"})
		return nil, false
	}
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Allowlist entry not found"})
	return nil, false
}

// ListAuditLogs returns the audit trail, newest first, filterable by actor,
// project, action, and time range.
// Implements: GET /api/v1/admin/audit-logs
func (h *Handler) ListAuditLogs(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := parseIntDefault(c.Query("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	filters := repositories.AuditFilters{}
	if v := c.Query("actor_github_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actor_github_id must be numeric"})
			return
		}
		filters.ActorGitHubID = &id
	}
	if v := c.Query("project_id"); v != "" {
		filters.ProjectID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("start"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be RFC3339"})
			return
		}
		filters.StartDate = &ts
	}
	if v := c.Query("end"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be RFC3339"})
			return
		}
		filters.EndDate = &ts
	}

	logs, total, err := h.audit.ListAuditLogs(c.Request.Context(), filters, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
		return
	}

	out := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		out = append(out, gin.H{
			"id":              l.ID,
			"actor_github_id": l.ActorGitHubID,
			"actor_login":     l.ActorLogin,
			"action":          l.Action,
			"project_id":      l.ProjectID,
			"path":            l.Path,
			"metadata":        l.Metadata,
			"created_at":      l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": out, "total": total, "limit": limit, "offset": offset})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
