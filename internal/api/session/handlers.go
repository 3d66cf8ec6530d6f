// Package session implements the GitHub OAuth login flow and session
// lifecycle. A successful login produces a session JWT that carries the
// user's GitHub access token sealed with AES-GCM; the server keeps no
// token store of its own.
package session

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/auth"
	"github.com/docverctl/docverctl/internal/crypto"
	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/middleware"
)

// stateCookieName holds the OAuth CSRF state between the redirect to GitHub
// and the callback.
const stateCookieName = "dvc_oauth_state"

// Handler serves the /auth routes.
type Handler struct {
	flow       *auth.OAuthFlow
	gate       *auth.Gate
	cipher     *crypto.TokenCipher
	gh         *github.Client
	sessionTTL time.Duration
	publicURL  string
}

// NewHandler creates the session handler. publicURL decides cookie security:
// https deployments get Secure cookies.
func NewHandler(flow *auth.OAuthFlow, gate *auth.Gate, cipher *crypto.TokenCipher, gh *github.Client, sessionTTL time.Duration, publicURL string) *Handler {
	return &Handler{
		flow:       flow,
		gate:       gate,
		cipher:     cipher,
		gh:         gh,
		sessionTTL: sessionTTL,
		publicURL:  publicURL,
	}
}

func (h *Handler) secureCookies() bool {
	return strings.HasPrefix(h.publicURL, "https://")
}

// Login redirects the browser to GitHub's authorization page with a fresh
// CSRF state.
// Implements: GET /auth/github/login
func (h *Handler) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, state, int((10 * time.Minute).Seconds()), "/", "", h.secureCookies(), true)
	c.Redirect(http.StatusFound, h.flow.LoginURL(state))
}

// Callback completes the OAuth flow: state check, code exchange, identity
// fetch, allowlist gate, then session issuance. The GitHub token never leaves
// this process unencrypted; it rides inside the JWT sealed.
// Implements: GET /auth/github/callback
func (h *Handler) Callback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		// The user declined the authorization prompt.
		c.JSON(http.StatusUnauthorized, gin.H{"error": "GitHub authorization was denied"})
		return
	}

	state := c.Query("state")
	cookieState, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || state != cookieState {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid OAuth state"})
		return
	}
	// Single use.
	c.SetCookie(stateCookieName, "", -1, "/", "", h.secureCookies(), true)

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
		return
	}

	ctx := c.Request.Context()
	accessToken, err := h.flow.Exchange(ctx, code)
	if err != nil {
		slog.Warn("oauth code exchange failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization code exchange failed"})
		return
	}

	user, err := h.gh.GetAuthenticatedUser(ctx, accessToken)
	if err != nil {
		slog.Warn("github identity fetch failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not fetch GitHub identity"})
		return
	}

	entry, err := h.gate.Check(ctx, user.ID, user.Login)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Allowlist check failed"})
		return
	}
	if entry == nil {
		slog.Info("login rejected, user not allowlisted", "login", user.Login, "github_id", user.ID)
		c.JSON(http.StatusForbidden, gin.H{"error": "Your GitHub account is not authorized for this application"})
		return
	}

	sealed, err := h.cipher.Seal(accessToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
		return
	}

	sessionJWT, err := auth.IssueSessionJWT(user.ID, user.Login, sealed, h.sessionTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, sessionJWT, int(h.sessionTTL.Seconds()), "/", "", h.secureCookies(), true)

	slog.Info("session established", "login", user.Login, "github_id", user.ID, "is_admin", entry.IsAdmin)
	c.JSON(http.StatusOK, gin.H{
		"token": sessionJWT,
		"user": gin.H{
			"github_id":  user.ID,
			"login":      user.Login,
			"name":       user.Name,
			"avatar_url": user.AvatarURL,
			"is_admin":   entry.IsAdmin,
		},
		"expires_at": time.Now().Add(h.sessionTTL).UTC().Format(time.RFC3339),
	})
}

// Logout clears the session cookie. The JWT itself stays valid until expiry;
// there is no server-side session state to revoke.
// Implements: POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(middleware.SessionCookieName, "", -1, "/", "", h.secureCookies(), true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the authenticated caller's identity as the auth middleware
// resolved it.
// Implements: GET /api/v1/user/me
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"github_id": c.GetInt64(middleware.GitHubIDKey),
		"login":     c.GetString(middleware.GitHubLoginKey),
		"is_admin":  c.GetBool(middleware.IsAdminKey),
	})
}
