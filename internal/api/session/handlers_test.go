package session

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docverctl/docverctl/internal/auth"
	"github.com/docverctl/docverctl/internal/crypto"
	"github.com/docverctl/docverctl/internal/github"
	"github.com/docverctl/docverctl/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSessionRouter(t *testing.T, publicURL string) *gin.Engine {
	t.Helper()

	cipher, err := crypto.DeriveTokenCipher("session-test-passphrase", []byte("0123456789abcdef"), 0)
	if err != nil {
		t.Fatalf("derive cipher: %v", err)
	}

	h := NewHandler(
		auth.NewOAuthFlow("client-id", "client-secret", publicURL+"/auth/github/callback"),
		auth.NewGate(nil, "octocat"),
		cipher,
		github.NewClient(),
		time.Hour,
		publicURL)

	router := gin.New()
	router.GET("/auth/github/login", h.Login)
	router.GET("/auth/github/callback", h.Callback)
	router.POST("/logout", h.Logout)
	return router
}

func TestLogin_RedirectsToGitHubWithState(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/login", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}

	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Host != "github.com" || !strings.HasPrefix(loc.Path, "/login/oauth/authorize") {
		t.Errorf("location = %s", loc)
	}
	if loc.Query().Get("client_id") != "client-id" {
		t.Errorf("client_id = %s", loc.Query().Get("client_id"))
	}

	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("no state in redirect URL")
	}
	cookie := stateCookieValue(w.Result().Cookies())
	if cookie != state {
		t.Errorf("state cookie = %q, redirect state = %q", cookie, state)
	}
}

func TestLogin_SecureCookieOnHTTPS(t *testing.T) {
	router := newSessionRouter(t, "https://docs.example.com")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/login", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookieName && !c.Secure {
			t.Error("state cookie not marked Secure on https deployment")
		}
	}
}

func TestCallback_RejectsStateMismatch(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?state=forged&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "genuine"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCallback_RejectsMissingStateCookie(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?state=anything&code=abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCallback_UserDeniedAuthorization(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?error=access_denied", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCallback_MissingCode(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?state=s1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLogout_ClearsSessionCookie(t *testing.T) {
	router := newSessionRouter(t, "http://localhost:8080")

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookieName && c.MaxAge >= 0 {
			t.Errorf("session cookie not expired, MaxAge = %d", c.MaxAge)
		}
	}
}

func stateCookieValue(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name == stateCookieName {
			return c.Value
		}
	}
	return ""
}
