// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Admin → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the caller identity and the unsealed GitHub token; the admin
// gate reads from that context. Audit logging runs last so only authorized
// mutations are recorded.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/auth"
	"github.com/docverctl/docverctl/internal/crypto"
)

// Context keys populated by SessionAuthMiddleware.
const (
	// SessionCookieName is the cookie the OAuth callback sets on login.
	SessionCookieName = "dvc_session"

	// GitHubIDKey holds the caller's numeric GitHub account ID (int64).
	GitHubIDKey = "github_id"

	// GitHubLoginKey holds the caller's GitHub login, lowercased.
	GitHubLoginKey = "github_login"

	// IsAdminKey holds whether the caller's allowlist record grants admin (bool).
	IsAdminKey = "is_admin"

	// GitHubTokenKey holds the caller's unsealed GitHub OAuth access token (string).
	// It exists only for the lifetime of the request.
	GitHubTokenKey = "github_token"
)

// SessionAuthMiddleware authenticates every request against the session JWT and
// the allowlist, in that order:
//
//  1. Extract the session JWT from the Authorization Bearer header, falling back
//     to the session cookie for browser requests. Missing, malformed, or expired
//     tokens yield 401.
//  2. Re-check membership on every request so an allowlist removal takes effect
//     immediately, not at session expiry. A caller with a valid JWT who is no
//     longer allowed yields 403.
//  3. Unseal the GitHub access token embedded in the JWT claims. A token sealed
//     under a different cipher key (passphrase rotation) yields 401, forcing a
//     fresh login rather than serving requests that would fail at GitHub anyway.
//
// On success the identity, admin flag, and plaintext GitHub token are stored in
// the gin context under the exported keys above.
func SessionAuthMiddleware(gate *auth.Gate, cipher *crypto.TokenCipher) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := sessionToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		claims, err := auth.ValidateSessionJWT(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		member, err := gate.Check(c.Request.Context(), claims.GitHubID, claims.Login)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check access",
			})
			return
		}
		if member == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Not authorized to use this workspace",
			})
			return
		}

		githubToken, err := cipher.Open(claims.SealedToken)
		if err != nil {
			// Cipher key rotated since this session was issued.
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Session is no longer valid, please sign in again",
			})
			return
		}

		c.Set(GitHubIDKey, claims.GitHubID)
		c.Set(GitHubLoginKey, strings.ToLower(claims.Login))
		c.Set(IsAdminKey, member.IsAdmin)
		c.Set(GitHubTokenKey, githubToken)

		c.Next()
	}
}

// RequireAdmin rejects callers whose allowlist record does not grant admin.
// Must run after SessionAuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(IsAdminKey) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			return
		}
		c.Next()
	}
}

// sessionToken extracts the session JWT from the Authorization header or,
// failing that, the session cookie.
func sessionToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return cookie
	}
	return ""
}

// GitHubToken returns the unsealed GitHub access token for the current request.
func GitHubToken(c *gin.Context) string {
	return c.GetString(GitHubTokenKey)
}

// GitHubID returns the caller's numeric GitHub account ID.
func GitHubID(c *gin.Context) int64 {
	return c.GetInt64(GitHubIDKey)
}

// GitHubLogin returns the caller's lowercased GitHub login.
func GitHubLogin(c *gin.Context) string {
	return c.GetString(GitHubLoginKey)
}
