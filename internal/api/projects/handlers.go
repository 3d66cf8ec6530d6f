// Package projects implements project lifecycle endpoints: binding a private
// GitHub repository to a workspace, creating a fresh repository, recipient
// list management, and purge of orphaned metadata.
package projects

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/audit"
	"github.com/docverctl/docverctl/internal/config"
	"github.com/docverctl/docverctl/internal/db/models"
	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/middleware"
	"github.com/docverctl/docverctl/internal/validation"
	"github.com/docverctl/docverctl/internal/workspace"
)

// Handler serves the /api/v1/projects routes.
type Handler struct {
	cfg      *config.GitHubConfig
	projects *repositories.ProjectRepository
	gh       *github.Client
	ws       *workspace.Workspace
	recorder *audit.Recorder
}

// NewHandler creates the projects handler.
func NewHandler(cfg *config.GitHubConfig, projects *repositories.ProjectRepository, gh *github.Client, ws *workspace.Workspace, recorder *audit.Recorder) *Handler {
	return &Handler{cfg: cfg, projects: projects, gh: gh, ws: ws, recorder: recorder}
}

type projectResponse struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Slug               string   `json:"slug"`
	RepoOwner          string   `json:"repo_owner"`
	RepoName           string   `json:"repo_name"`
	RepoURL            string   `json:"repo_url"`
	DefaultBranch      string   `json:"default_branch"`
	NotificationEmails []string `json:"notification_emails"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
}

func toResponse(p *models.Project) projectResponse {
	emails := p.NotificationEmails
	if emails == nil {
		emails = []string{}
	}
	return projectResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Slug:               p.Slug,
		RepoOwner:          p.RepoOwner,
		RepoName:           p.RepoName,
		RepoURL:            p.RepoURL,
		DefaultBranch:      p.DefaultBranch,
		NotificationEmails: emails,
		CreatedAt:          p.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          p.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// List returns all live projects, most recently active first.
// Implements: GET /api/v1/projects
func (h *Handler) List(c *gin.Context) {
	projects, err := h.projects.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list projects"})
		return
	}

	out := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

// Get returns one project by slug.
// Implements: GET /api/v1/projects/:slug
func (h *Handler) Get(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(project))
}

type createRequest struct {
	Name      string `json:"name" binding:"required"`
	Mode      string `json:"mode"` // "connect" (default) or "create"
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
}

// Create binds a project to a GitHub repository. Connect mode requires an
// existing private repository; create mode provisions a fresh private
// repository and seeds it with starter files.
// Implements: POST /api/v1/projects
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if err := validation.ValidateProjectName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project name", "details": err.Error()})
		return
	}
	// A name of only symbols slugifies to nothing; refuse it before any
	// repository work, since the slug is the project's URL identity.
	slug := validation.Slugify(req.Name)
	if err := validation.ValidateSlug(slug); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Project name does not yield a usable slug", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	token := middleware.GitHubToken(c)

	mode := req.Mode
	if mode == "" {
		mode = "connect"
	}

	var repo *github.Repo
	switch req.Mode {
	case "", "connect":
		var ok bool
		repo, ok = h.connectRepo(c, token, req.RepoOwner, req.RepoName)
		if !ok {
			return
		}
	case "create":
		if !h.cfg.AllowRepoCreation {
			c.JSON(http.StatusForbidden, gin.H{"error": "Repository creation is disabled"})
			return
		}
		var ok bool
		repo, ok = h.createRepo(c, token, slug)
		if !ok {
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Mode must be \"connect\" or \"create\""})
		return
	}

	project := &models.Project{
		Name:               req.Name,
		Slug:               slug,
		RepoOwner:          repo.Owner,
		RepoName:           repo.Name,
		RepoURL:            repo.HTMLURL,
		DefaultBranch:      repo.DefaultBranch,
		NotificationEmails: []string{},
		CreatedByGitHubID:  middleware.GitHubID(c),
	}
	if err := h.projects.Create(ctx, project); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "A project already exists for this repository or name"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
		return
	}

	if req.Mode == "create" {
		ref := github.RepoRef{Owner: repo.Owner, Repo: repo.Name, Branch: repo.DefaultBranch}
		if err := h.ws.Seed(ctx, token, ref, req.Name); err != nil {
			// The project exists and is usable; seeding is best-effort.
			slog.Warn("repository seeding failed", "project", project.Slug, "error", err)
		}
	}

	if err := h.recorder.Record(ctx, &models.AuditLog{
		ActorGitHubID: middleware.GitHubID(c),
		ActorLogin:    middleware.GitHubLogin(c),
		Action:        models.AuditProjectCreate,
		ProjectID:     project.ID,
		Metadata: map[string]interface{}{
			"repo": repo.FullName,
			"mode": mode,
		},
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record audit entry"})
		return
	}

	c.JSON(http.StatusCreated, toResponse(project))
}

// connectRepo validates an existing repository for connect mode. Public
// repositories are refused: this system exists for private content, and
// binding a public repository is almost always a configuration mistake.
func (h *Handler) connectRepo(c *gin.Context, token, owner, name string) (*github.Repo, bool) {
	if err := validation.ValidateRepoOwner(owner); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid repository owner", "details": err.Error()})
		return nil, false
	}
	if err := validation.ValidateRepoName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid repository name", "details": err.Error()})
		return nil, false
	}

	repo, err := h.gh.GetRepo(c.Request.Context(), token, owner, name)
	if err != nil {
		if errors.Is(err, github.ErrRepoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Repository not found or not accessible with your GitHub permissions",
				"code":  "REPO_NOT_FOUND_ON_GITHUB",
			})
			return nil, false
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "GitHub repository check failed"})
		return nil, false
	}
	if !repo.Private {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Repository is public; only private repositories can be connected",
			"code":  "REPO_NOT_PRIVATE",
		})
		return nil, false
	}
	return repo, true
}

// createRepo provisions a fresh private repository named after the project's
// already validated slug, under the configured owner or the acting user's
// account.
func (h *Handler) createRepo(c *gin.Context, token, name string) (*github.Repo, bool) {
	ctx := c.Request.Context()

	var repo *github.Repo
	var err error
	if h.cfg.RepoOwner != "" {
		repo, err = h.gh.CreateOrgRepo(ctx, token, h.cfg.RepoOwner, name)
	} else {
		repo, err = h.gh.CreateUserRepo(ctx, token, name)
	}
	if err != nil {
		if errors.Is(err, github.ErrRepoExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "A repository with this name already exists"})
			return nil, false
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "GitHub repository creation failed"})
		return nil, false
	}
	return repo, true
}

// CheckRepo probes a repository for the project creation form: does it
// exist, is it private, what is its default branch.
// Implements: GET /api/v1/github/repo-check
func (h *Handler) CheckRepo(c *gin.Context) {
	owner := c.Query("owner")
	name := c.Query("repo")
	if err := validation.ValidateRepoOwner(owner); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid repository owner", "details": err.Error()})
		return
	}
	if err := validation.ValidateRepoName(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid repository name", "details": err.Error()})
		return
	}

	repo, err := h.gh.GetRepo(c.Request.Context(), middleware.GitHubToken(c), owner, name)
	if err != nil {
		if errors.Is(err, github.ErrRepoNotFound) {
			c.JSON(http.StatusOK, gin.H{"exists": false})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "GitHub repository check failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":         true,
		"private":        repo.Private,
		"default_branch": repo.DefaultBranch,
		"full_name":      repo.FullName,
	})
}

// GetNotificationEmails returns a project's recipient list.
// Implements: GET /api/v1/projects/:slug/notification-emails
func (h *Handler) GetNotificationEmails(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}
	emails := project.NotificationEmails
	if emails == nil {
		emails = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"notification_emails": emails})
}

type updateEmailsRequest struct {
	NotificationEmails []string `json:"notification_emails"`
}

// UpdateNotificationEmails replaces a project's recipient list. Addresses
// are normalized and de-duplicated; an empty list disables notifications for
// the project.
// Implements: PATCH /api/v1/projects/:slug/notification-emails
func (h *Handler) UpdateNotificationEmails(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	var req updateEmailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if len(req.NotificationEmails) > validation.MaxNotificationEmails {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Too many notification recipients"})
		return
	}

	emails, err := validation.NormalizeEmails(req.NotificationEmails)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address", "details": err.Error()})
		return
	}

	if err := h.projects.UpdateNotificationEmails(c.Request.Context(), project.ID, emails); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification emails"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notification_emails": emails})
}

// Purge removes a project's metadata after its repository disappeared from
// GitHub. It refuses while the repository is still reachable so a purge
// cannot be used as a shortcut delete for a healthy project.
// Implements: POST /api/v1/projects/:slug/purge
func (h *Handler) Purge(c *gin.Context) {
	project, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	_, err := h.gh.GetRepo(ctx, middleware.GitHubToken(c), project.RepoOwner, project.RepoName)
	switch {
	case err == nil:
		c.JSON(http.StatusConflict, gin.H{
			"error": "Repository still exists on GitHub; delete it there first or keep the project",
			"code":  "REPO_STILL_EXISTS",
		})
		return
	case errors.Is(err, github.ErrRepoNotFound):
		// Gone upstream, purge may proceed.
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not verify repository state on GitHub"})
		return
	}

	if err := h.projects.Purge(ctx, project.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge project"})
		return
	}

	slog.Info("project purged", "slug", project.Slug, "by", middleware.GitHubLogin(c))
	c.JSON(http.StatusOK, gin.H{"message": "Project purged"})
}

// lookup resolves the :slug path parameter, answering 404 itself when the
// project does not exist.
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
