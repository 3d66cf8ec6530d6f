// Package files implements the per-project file endpoints: tree listing,
// reads (editable text, rendered markdown, raw stream), writes with
// optimistic concurrency, deletes, recursive moves, history, and advisory
// editing locks.
//
// Every mutation follows the same sequence: validate, consult the advisory
// lock, perform the GitHub commit, record the audit entry, then fire the
// notification email. The audit write is part of the operation; if it fails
// the request fails even though the commit landed.
package files

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/audit"
	"github.com/docverctl/docverctl/internal/config"
	"github.com/docverctl/docverctl/internal/db/models"
	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/markdown"
	"github.com/docverctl/docverctl/internal/middleware"
	"github.com/docverctl/docverctl/internal/notify"
	"github.com/docverctl/docverctl/internal/validation"
	"github.com/docverctl/docverctl/internal/workspace"
)

// Handler serves the /api/v1/projects/:slug file routes.
type Handler struct {
	cfg      *config.WorkspaceConfig
	projects *repositories.ProjectRepository
	locks    *repositories.FileLockRepository
	ws       *workspace.Workspace
	recorder *audit.Recorder
	mailer   *notify.Mailer
}

// NewHandler creates the files handler.
func NewHandler(cfg *config.WorkspaceConfig, projects *repositories.ProjectRepository, locks *repositories.FileLockRepository, ws *workspace.Workspace, recorder *audit.Recorder, mailer *notify.Mailer) *Handler {
	return &Handler{cfg: cfg, projects: projects, locks: locks, ws: ws, recorder: recorder, mailer: mailer}
}

func repoRef(p *models.Project) github.RepoRef {
	return github.RepoRef{Owner: p.RepoOwner, Repo: p.RepoName, Branch: p.DefaultBranch}
}

// Tree lists a directory of the project's repository.
// Implements: GET /api/v1/projects/:slug/tree?path=
func (h *Handler) Tree(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if err := validation.ValidatePath(path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}

	if !h.repoGuard(c, project) {
		return
	}

	entries, err := h.ws.ListTree(c.Request.Context(), middleware.GitHubToken(c), repoRef(project), path)
	if err != nil {
		h.githubError(c, err, "Failed to list directory")
		return
	}

	type treeEntry struct {
		Name     string `json:"name"`
		Path     string `json:"path"`
		Type     string `json:"type"`
		Size     int64  `json:"size"`
		SHA      string `json:"sha"`
		Editable bool   `json:"editable"`
	}
	out := make([]treeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, treeEntry{
			Name:     e.Name,
			Path:     e.Path,
			Type:     e.Type,
			Size:     e.Size,
			SHA:      e.SHA,
			Editable: e.Type == "file" && validation.IsEditableExtension(e.Path, h.cfg.EditableExtensions),
		})
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "entries": out})
}

// Read serves a file. Editable text files come back decoded with their
// content hash for the later write; ?render=true additionally returns the
// markdown rendered to HTML. Non-editable files stream raw with the upstream
// content type.
// Implements: GET /api/v1/projects/:slug/file?path=
func (h *Handler) Read(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if err := validation.ValidateFilePath(path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	token := middleware.GitHubToken(c)
	ref := repoRef(project)

	if !h.repoGuard(c, project) {
		return
	}

	if !validation.IsEditableExtension(path, h.cfg.EditableExtensions) {
		stream, err := h.ws.ReadFileStream(ctx, token, ref, path)
		if err != nil {
			h.githubError(c, err, "Failed to read file")
			return
		}
		defer stream.Body.Close()

		contentType := stream.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Header("Content-Type", contentType)
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, stream.Body)
		return
	}

	file, err := h.ws.ReadFile(ctx, token, ref, path)
	if err != nil {
		h.githubError(c, err, "Failed to read file")
		return
	}

	resp := gin.H{
		"path":    file.Path,
		"name":    file.Name,
		"sha":     file.SHA,
		"size":    file.Size,
		"content": file.Content,
	}
	if c.Query("render") == "true" && isMarkdown(path) {
		html, err := markdown.Render([]byte(file.Content))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render markdown"})
			return
		}
		resp["rendered_html"] = html
	}

	if lock, err := h.locks.Get(ctx, project.ID, path); err == nil && lock != nil {
		resp["lock"] = lockResponse(lock)
	}
	c.JSON(http.StatusOK, resp)
}

func isMarkdown(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".markdown")
}

type writeRequest struct {
	Path    string  `json:"path" binding:"required"`
	Content string  `json:"content"`
	Message string  `json:"message" binding:"required"`
	SHA     *string `json:"sha"` // nil = create, non-nil = edit precondition
}

// Write creates or edits a file. Edits carry the content hash the editor
// loaded; a mismatch means someone committed in between and the request is
// answered 409 without touching the repository.
// Implements: POST /api/v1/projects/:slug/file
func (h *Handler) Write(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateFilePath(req.Path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}
	if err := validation.ValidateCommitMessage(req.Message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid commit message", "details": err.Error()})
		return
	}
	if !validation.IsEditableExtension(req.Path, h.cfg.EditableExtensions) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File type is not editable"})
		return
	}

	ctx := c.Request.Context()
	if !h.lockPermitsWrite(c, project.ID, req.Path) {
		return
	}
	if !h.repoGuard(c, project) {
		return
	}

	result, err := h.ws.WriteFile(ctx, middleware.GitHubToken(c), repoRef(project), req.Path, req.Content, req.Message, req.SHA)
	if err != nil {
		h.githubError(c, err, "Failed to write file")
		return
	}

	action := models.AuditFileEdit
	if req.SHA == nil {
		action = models.AuditFileCreate
	}
	if !h.finishMutation(c, project, action, req.Path, req.Message, result.CommitSHA) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":       req.Path,
		"sha":        result.ContentSHA,
		"commit_sha": result.CommitSHA,
	})
}

type deleteRequest struct {
	Path    string `json:"path" binding:"required"`
	Message string `json:"message" binding:"required"`
	SHA     string `json:"sha" binding:"required"`
}

// Delete removes a file at its known content hash.
// Implements: DELETE /api/v1/projects/:slug/file
func (h *Handler) Delete(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateFilePath(req.Path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}
	if err := validation.ValidateCommitMessage(req.Message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid commit message", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if !h.lockPermitsWrite(c, project.ID, req.Path) {
		return
	}
	if !h.repoGuard(c, project) {
		return
	}

	result, err := h.ws.DeleteFile(ctx, middleware.GitHubToken(c), repoRef(project), req.Path, req.SHA, req.Message)
	if err != nil {
		h.githubError(c, err, "Failed to delete file")
		return
	}

	if !h.finishMutation(c, project, models.AuditFileDelete, req.Path, req.Message, result.CommitSHA) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": req.Path, "commit_sha": result.CommitSHA})
}

type moveRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// Move renames or relocates a file or directory. A partial failure answers
// 502 with the reconciliation report so the caller can see which descendants
// moved.
// Implements: POST /api/v1/projects/:slug/move
func (h *Handler) Move(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateMove(req.From, req.To); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid move", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if !h.lockPermitsWrite(c, project.ID, req.From) {
		return
	}
	if !h.repoGuard(c, project) {
		return
	}

	login := middleware.GitHubLogin(c)
	report, err := h.ws.Move(ctx, middleware.GitHubToken(c), repoRef(project), req.From, req.To, login)
	if err != nil {
		if report != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Move completed partially", "report": report})
			return
		}
		h.githubError(c, err, "Failed to move")
		return
	}

	action := models.AuditMove
	if sameDirectory(req.From, req.To) {
		action = models.AuditRename
	}
	if !h.finishMutation(c, project, action, req.From+" -> "+req.To, "", "") {
		return
	}
	c.JSON(http.StatusOK, report)
}

// sameDirectory reports whether two paths share a parent, which makes the
// move a rename.
func sameDirectory(a, b string) bool {
	dir := func(p string) string {
		if i := strings.LastIndex(p, "/"); i >= 0 {
			return p[:i]
		}
		return ""
	}
	return dir(a) == dir(b)
}

// History lists a file's commits with latest and previous content for the
// diff view. ?base= and ?head= instead compare two specific revisions.
// Implements: GET /api/v1/projects/:slug/file-history?path=
func (h *Handler) History(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if err := validation.ValidateFilePath(path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid path", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	token := middleware.GitHubToken(c)

	if !h.repoGuard(c, project) {
		return
	}

	if base, head := c.Query("base"), c.Query("head"); base != "" && head != "" {
		cmp, err := h.ws.Compare(ctx, token, repoRef(project), path, base, head)
		if err != nil {
			h.githubError(c, err, "Failed to compare revisions")
			return
		}
		c.JSON(http.StatusOK, cmp)
		return
	}

	history, err := h.ws.History(ctx, token, repoRef(project), path)
	if err != nil {
		if errors.Is(err, workspace.ErrNoCommits) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Path has no commit history"})
			return
		}
		h.githubError(c, err, "Failed to fetch history")
		return
	}
	c.JSON(http.StatusOK, history)
}

// finishMutation records the audit entry (fatal on failure) and fires the
// notification email (best-effort). Returns false when it already answered.
func (h *Handler) finishMutation(c *gin.Context, project *models.Project, action, path, message, commitSHA string) bool {
	ctx := c.Request.Context()

	metadata := map[string]interface{}{}
	if message != "" {
		metadata["message"] = message
	}
	if commitSHA != "" {
		metadata["commit_sha"] = commitSHA
	}

	p := path
	if err := h.recorder.Record(ctx, &models.AuditLog{
		ActorGitHubID: middleware.GitHubID(c),
		ActorLogin:    middleware.GitHubLogin(c),
		Action:        action,
		ProjectID:     project.ID,
		Path:          &p,
		Metadata:      metadata,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Change committed but audit recording failed"})
		return false
	}

	_ = h.projects.Touch(ctx, project.ID)

	h.mailer.NotifyChange(project.NotificationEmails, notify.ChangeEvent{
		ProjectName: project.Name,
		RepoOwner:   project.RepoOwner,
		RepoName:    project.RepoName,
		Action:      action,
		Path:        path,
		ActorLogin:  middleware.GitHubLogin(c),
		CommitSHA:   commitSHA,
		Message:     message,
		OccurredAt:  time.Now().UTC(),
	})
	return true
}

// repoGuard confirms the project's repository still exists on GitHub. The
// contents API cannot tell a deleted repository from a missing path, and a
// deleted repository's root lists as empty, so file routes run this check
// before touching content and answer with a code the client recognizes when
// the repository is gone.
func (h *Handler) repoGuard(c *gin.Context, project *models.Project) bool {
	err := h.ws.EnsureRepo(c.Request.Context(), middleware.GitHubToken(c), repoRef(project))
	if err == nil {
		return true
	}
	if errors.Is(err, github.ErrRepoNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Repository not found on GitHub",
			"code":  "REPO_NOT_FOUND_ON_GITHUB",
		})
		return false
	}
	h.githubError(c, err, "Failed to reach the repository")
	return false
}

// githubError maps adapter sentinels onto HTTP answers.
func (h *Handler) githubError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, github.ErrRepoNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Repository not found on GitHub",
			"code":  "REPO_NOT_FOUND_ON_GITHUB",
		})
	case errors.Is(err, github.ErrPathNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found in repository"})
	case errors.Is(err, github.ErrStaleSHA):
		c.JSON(http.StatusConflict, gin.H{
			"error": "The file changed since you loaded it; reload and reapply your edit",
			"code":  "STALE_CONTENT_SHA",
		})
	case errors.Is(err, github.ErrNotAFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is a directory, not a file"})
	case errors.Is(err, github.ErrNotADir):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Path is a file, not a directory"})
	case errors.Is(err, github.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "GitHub rejected your access token, please sign in again"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": fallback})
	}
}

func (h *Handler) lookup(c *gin.Context) (*models.Project, bool) {
	project, err := h.projects.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return nil, false
	}
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return nil, false
	}
	return project, true
}
