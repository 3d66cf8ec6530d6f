// Package api wires together all HTTP routes for docverctl.
//
// Route grouping:
//   - /auth/* handles the GitHub OAuth dance and is reachable without a
//     session, under a tighter rate limit than the rest of the API.
//   - /api/v1/* requires a valid session; the auth middleware re-checks the
//     allowlist on every request so revocations take effect immediately.
//   - /api/v1/admin/* additionally requires the admin flag.
//
// Middleware order is Recovery, RequestID, Metrics, Logger, CORS, Security
// headers, then per-group RateLimit and Auth. GitHub file content never
// passes through any cache layer here; every read goes to GitHub with the
// caller's own token.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/docverctl/docverctl/internal/api/admin"
	"github.com/docverctl/docverctl/internal/api/files"
	"github.com/docverctl/docverctl/internal/api/projects"
	"github.com/docverctl/docverctl/internal/api/session"
	"github.com/docverctl/docverctl/internal/audit"
	"github.com/docverctl/docverctl/internal/auth"
	"github.com/docverctl/docverctl/internal/config"
	"github.com/docverctl/docverctl/internal/crypto"
	"github.com/docverctl/docverctl/internal/db/repositories"
	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/jobs"
	"github.com/docverctl/docverctl/internal/middleware"
	"github.com/docverctl/docverctl/internal/notify"
	"github.com/docverctl/docverctl/internal/workspace"
)

// Version is the application version reported by /version. Overridden at
// build time with -ldflags.
var Version = "0.1.0"

// BackgroundServices holds background jobs and resources that must be stopped
// during graceful shutdown. The caller (cmd/server) calls Shutdown after the
// HTTP server has drained.
type BackgroundServices struct {
	lockReaper    *jobs.LockReaper
	localLimiters []*middleware.LocalLimiter
	redisClient   *redis.Client
	recorder      *audit.Recorder
}

// Shutdown stops all background goroutines and closes shared connections.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.lockReaper != nil {
		bg.lockReaper.Stop()
	}
	for _, l := range bg.localLimiters {
		l.Stop()
	}
	if bg.redisClient != nil {
		_ = bg.redisClient.Close()
	}
	if bg.recorder != nil {
		_ = bg.recorder.Close()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, conn *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories. Lock storage rides sqlx for struct scanning; the rest
	// use database/sql directly.
	userRepo := repositories.NewAllowedUserRepository(conn)
	projectRepo := repositories.NewProjectRepository(conn)
	auditRepo := repositories.NewAuditRepository(conn)
	lockRepo := repositories.NewFileLockRepository(sqlx.NewDb(conn, "postgres"))

	// Token cipher sealing GitHub access tokens inside session JWTs.
	cipher, err := crypto.DeriveTokenCipher(cfg.Auth.TokenCipherPassphrase, []byte(cfg.Auth.TokenCipherSalt), 0)
	if err != nil {
		return nil, nil, err
	}

	gh := github.NewClient()
	if cfg.GitHub.APIBaseURL != "" {
		gh = github.NewClientWithBaseURL(cfg.GitHub.APIBaseURL)
	}
	ws := workspace.New(gh)

	gate := auth.NewGate(userRepo, cfg.Auth.FallbackAllowlist)
	flow := auth.NewOAuthFlow(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.Server.GetPublicURL()+"/auth/github/callback")

	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		return nil, nil, err
	}
	recorder := audit.NewRecorder(auditRepo, shipper)
	bg.recorder = recorder

	mailer := notify.NewMailer(&cfg.Notifications)
	if mailer.Enabled() {
		slog.Info("notification emails enabled", "smtp_host", cfg.Notifications.SMTP.Host)
	}

	// Lock reaper keeps the advisory lock table clean.
	lockReaper := jobs.NewLockReaper(lockRepo, cfg.Workspace.LockLease)
	lockReaper.Start(context.Background())
	bg.lockReaper = lockReaper

	// Handlers
	sessionHandler := session.NewHandler(flow, gate, cipher, gh, cfg.Auth.SessionTTL, cfg.Server.GetPublicURL())
	projectsHandler := projects.NewHandler(&cfg.GitHub, projectRepo, gh, ws, recorder)
	filesHandler := files.NewHandler(&cfg.Workspace, projectRepo, lockRepo, ws, recorder, mailer)
	adminHandler := admin.NewHandler(userRepo, auditRepo)

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(conn))
	router.GET("/ready", readinessHandler(conn))
	router.GET("/version", versionHandler())

	apiLimiter, authLimiter := buildLimiters(cfg, bg)

	// OAuth login flow, no session required. The tighter auth limit slows
	// down state-guessing and code-replay attempts.
	authRoutes := router.Group("/auth")
	if authLimiter != nil {
		authRoutes.Use(middleware.RateLimitMiddleware(authLimiter, middleware.AuthRateLimitConfig()))
	}
	{
		authRoutes.GET("/github/login", sessionHandler.Login)
		authRoutes.GET("/github/callback", sessionHandler.Callback)
		authRoutes.POST("/logout", sessionHandler.Logout)
	}

	// Authenticated API
	v1 := router.Group("/api/v1")
	if apiLimiter != nil {
		v1.Use(middleware.RateLimitMiddleware(apiLimiter, middleware.DefaultRateLimitConfig()))
	}
	v1.Use(middleware.SessionAuthMiddleware(gate, cipher))
	{
		v1.GET("/user/me", sessionHandler.Me)
		v1.GET("/github/repo-check", projectsHandler.CheckRepo)

		// Project lifecycle and recipient list changes are admin actions;
		// reads stay member-level.
		v1.GET("/projects", projectsHandler.List)
		v1.POST("/projects", middleware.RequireAdmin(), projectsHandler.Create)
		v1.GET("/projects/:slug", projectsHandler.Get)
		v1.POST("/projects/:slug/purge", middleware.RequireAdmin(), projectsHandler.Purge)
		v1.GET("/projects/:slug/notification-emails", projectsHandler.GetNotificationEmails)
		v1.PATCH("/projects/:slug/notification-emails", middleware.RequireAdmin(), projectsHandler.UpdateNotificationEmails)

		v1.GET("/projects/:slug/tree", filesHandler.Tree)
		v1.GET("/projects/:slug/file", filesHandler.Read)
		v1.POST("/projects/:slug/file", filesHandler.Write)
		v1.DELETE("/projects/:slug/file", filesHandler.Delete)
		v1.POST("/projects/:slug/move", filesHandler.Move)
		v1.GET("/projects/:slug/file-history", filesHandler.History)

		v1.POST("/projects/:slug/lock", filesHandler.AcquireLock)
		v1.DELETE("/projects/:slug/lock", filesHandler.ReleaseLock)
		v1.GET("/projects/:slug/locks", filesHandler.ListLocks)
	}

	adminRoutes := v1.Group("/admin")
	adminRoutes.Use(middleware.RequireAdmin())
	{
		adminRoutes.GET("/allowlist", adminHandler.ListAllowlist)
		adminRoutes.POST("/allowlist", adminHandler.AddUser)
		adminRoutes.PATCH("/allowlist/:id", adminHandler.SetAdmin)
		adminRoutes.DELETE("/allowlist/:id", adminHandler.RemoveUser)
		adminRoutes.GET("/audit-logs", adminHandler.ListAuditLogs)
	}

	return router, bg, nil
}

// buildLimiters constructs the API and auth rate limiters per configuration.
// A Redis address yields exact cross-replica limits; otherwise per-instance
// token buckets approximate them. Disabled rate limiting yields nils.
func buildLimiters(cfg *config.Config, bg *BackgroundServices) (middleware.Limiter, middleware.Limiter) {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return nil, nil
	}

	apiConfig := middleware.DefaultRateLimitConfig()
	if rl.RequestsPerMinute > 0 {
		apiConfig.RequestsPerMinute = rl.RequestsPerMinute
	}
	if rl.Burst > 0 {
		apiConfig.BurstSize = rl.Burst
	}

	if rl.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     rl.RedisAddr,
			Password: rl.RedisPassword,
			DB:       rl.RedisDB,
		})
		bg.redisClient = client
		return middleware.NewRedisLimiter(client, apiConfig),
			middleware.NewRedisLimiter(client, middleware.AuthRateLimitConfig())
	}

	apiLimiter := middleware.NewLocalLimiter(apiConfig)
	authLimiter := middleware.NewLocalLimiter(middleware.AuthRateLimitConfig())
	bg.localLimiters = append(bg.localLimiters, apiLimiter, authLimiter)
	return apiLimiter, authLimiter
}

func healthCheckHandler(conn *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := conn.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler answers whether the instance can serve traffic. GitHub is
// deliberately not probed here: an upstream outage should surface as request
// errors, not take the whole instance out of rotation.
func readinessHandler(conn *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := conn.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "database not reachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
