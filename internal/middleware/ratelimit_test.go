package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ---------------------------------------------------------------------------
// Config constructors
// ---------------------------------------------------------------------------

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 60 {
		t.Errorf("RequestsPerMinute = %d, want 60", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestAuthRateLimitConfig(t *testing.T) {
	cfg := AuthRateLimitConfig()
	if cfg.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Errorf("BurstSize = %d, want 5", cfg.BurstSize)
	}
}

// ---------------------------------------------------------------------------
// LocalLimiter
// ---------------------------------------------------------------------------

func newLocalLimiter(t *testing.T, rpm, burst int) *LocalLimiter {
	t.Helper()
	rl := NewLocalLimiter(RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // no cleanup during tests
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestLocalLimiter_NewClientGetsFullBurst(t *testing.T) {
	rl := newLocalLimiter(t, 60, 5)

	allowed, remaining := rl.Allow(context.Background(), "client-a")
	if !allowed {
		t.Error("Allow() = false for new client, want true")
	}
	if remaining != 4 {
		t.Errorf("remaining = %d, want 4", remaining)
	}
}

func TestLocalLimiter_BurstExhaustion(t *testing.T) {
	burst := 3
	rl := newLocalLimiter(t, 1, burst) // essentially no refill within the test

	key := "burst-test"
	for i := 0; i < burst; i++ {
		if allowed, _ := rl.Allow(context.Background(), key); !allowed {
			t.Fatalf("request %d rejected within burst of %d", i+1, burst)
		}
	}
	if allowed, _ := rl.Allow(context.Background(), key); allowed {
		t.Error("request beyond burst allowed, want rejection")
	}
}

func TestLocalLimiter_KeysAreIndependent(t *testing.T) {
	rl := newLocalLimiter(t, 1, 1)

	if allowed, _ := rl.Allow(context.Background(), "a"); !allowed {
		t.Fatal("first request for key a rejected")
	}
	if allowed, _ := rl.Allow(context.Background(), "a"); allowed {
		t.Fatal("second request for key a allowed, want rejection")
	}
	if allowed, _ := rl.Allow(context.Background(), "b"); !allowed {
		t.Error("key b throttled by key a's bucket")
	}
}

func TestLocalLimiter_RefillsOverTime(t *testing.T) {
	// 6000 rpm = 100 tokens/s, so 50 ms is enough to refill several tokens.
	rl := newLocalLimiter(t, 6000, 2)

	key := "refill"
	rl.Allow(context.Background(), key)
	rl.Allow(context.Background(), key)
	if allowed, _ := rl.Allow(context.Background(), key); allowed {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(50 * time.Millisecond)

	if allowed, _ := rl.Allow(context.Background(), key); !allowed {
		t.Error("bucket did not refill after waiting")
	}
}

// ---------------------------------------------------------------------------
// RedisLimiter
// ---------------------------------------------------------------------------

func newRedisLimiter(t *testing.T, rpm, burst int) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
	}), mr
}

func TestRedisLimiter_AllowsWithinBurst(t *testing.T) {
	rl, _ := newRedisLimiter(t, 60, 5)

	for i := 0; i < 5; i++ {
		allowed, _ := rl.Allow(context.Background(), "client")
		if !allowed {
			t.Fatalf("request %d rejected within burst", i+1)
		}
	}
}

func TestRedisLimiter_RejectsBeyondBurst(t *testing.T) {
	rl, _ := newRedisLimiter(t, 1, 2)

	rl.Allow(context.Background(), "client")
	rl.Allow(context.Background(), "client")
	allowed, _ := rl.Allow(context.Background(), "client")
	if allowed {
		t.Error("request beyond burst allowed, want rejection")
	}
}

func TestRedisLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	rl, mr := newRedisLimiter(t, 1, 1)
	mr.Close()

	allowed, _ := rl.Allow(context.Background(), "client")
	if !allowed {
		t.Error("limiter rejected request while redis is down, want fail-open")
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func newRateLimitRouter(limiter Limiter, cfg RateLimitConfig) *gin.Engine {
	r := gin.New()
	r.Use(RateLimitMiddleware(limiter, cfg))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitMiddleware_Returns429WhenExhausted(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Hour}
	rl := NewLocalLimiter(cfg)
	defer rl.Stop()
	r := newRateLimitRouter(rl, cfg)

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", second.Header().Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_SetsRateLimitHeaders(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 60, BurstSize: 10, CleanupInterval: time.Hour}
	rl := NewLocalLimiter(cfg)
	defer rl.Stop()
	r := newRateLimitRouter(rl, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("X-RateLimit-Limit = %q, want 60", w.Header().Get("X-RateLimit-Limit"))
	}
	if w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("X-RateLimit-Remaining not set")
	}
}

func TestRateLimitKey_BucketsPerRoute(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Hour}
	rl := NewLocalLimiter(cfg)
	defer rl.Stop()

	r := gin.New()
	r.Use(RateLimitMiddleware(rl, cfg))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/pong", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Exhaust one route's bucket.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first /ping status = %d, want 200", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second /ping status = %d, want 429", w.Code)
	}

	// The same client still has budget on other routes.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pong", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/pong status = %d, want 200 (buckets are per route)", w.Code)
	}
}

func TestRateLimitKey_PrefersAuthenticatedIdentity(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1, CleanupInterval: time.Hour}
	rl := NewLocalLimiter(cfg)
	defer rl.Stop()

	// Auth context set before the limiter runs, as on authenticated routes.
	r := gin.New()
	var githubID int64
	r.Use(func(c *gin.Context) {
		c.Set(GitHubIDKey, githubID)
		c.Next()
	})
	r.Use(RateLimitMiddleware(rl, cfg))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Same IP, different accounts: each account gets its own bucket.
	githubID = 1
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/ping", nil))

	githubID = 2
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("statuses = %d, %d; want 200, 200 (independent buckets per account)", w1.Code, w2.Code)
	}
}
