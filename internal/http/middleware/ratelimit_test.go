package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestKeyBySessionOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	keyFn := KeyBySessionOrIP("chat_session")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	// Without a cookie the bucket keys by client IP.
	key := keyFn(c)
	if !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key, got %q", key)
	}

	// With the session cookie the bucket keys by session.
	req.AddCookie(&http.Cookie{Name: "chat_session", Value: "sess-abc"})
	if key := keyFn(c); key != "session:sess-abc" {
		t.Fatalf("expected session-based key, got %q", key)
	}
}

func TestNewRateLimiter_BurstCoercion_AndVisitorReuse(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyBySessionOrIP("chat_session"))
	if rl.burst != 1 {
		t.Fatalf("burst coercion failed, got %d", rl.burst)
	}

	lim := rl.getVisitor("k1")
	if lim == nil {
		t.Fatalf("expected limiter")
	}
	if got := rl.getVisitor("k1"); got != lim {
		t.Fatalf("expected the same limiter instance to be reused")
	}
}

func TestRateLimiter_getVisitor_EvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyBySessionOrIP("chat_session"))
	rl.ttl = 1 * time.Nanosecond

	rl.mu.Lock()
	rl.visitors["stale"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	// Next lookup crosses the cleanup threshold.
	rl.cleanupN = 4999
	rl.mu.Unlock()

	_ = rl.getVisitor("fresh")

	rl.mu.Lock()
	_, staleExists := rl.visitors["stale"]
	_, freshExists := rl.visitors["fresh"]
	rl.mu.Unlock()

	if staleExists {
		t.Fatalf("expected the stale visitor to be evicted")
	}
	if !freshExists {
		t.Fatalf("expected the fresh visitor to be created")
	}
}

func TestRateLimiter_Handler_AllowThenDeny(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// rps=1 burst=1: first request passes, the immediate second is rejected.
	rl := NewRateLimiter(1.0, 1, KeyBySessionOrIP("chat_session"))

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request should be allowed, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be rate limited, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want 1", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["message"] != "rate limit exceeded" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] != "rid-1" {
		t.Fatalf("request_id = %v, want rid-1", body["request_id"])
	}
}

func TestRateLimiter_Handler_SeparateBucketsPerSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1.0, 1, KeyBySessionOrIP("chat_session"))
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	hit := func(session string) int {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.AddCookie(&http.Cookie{Name: "chat_session", Value: session})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := hit("sess-a"); code != http.StatusOK {
		t.Fatalf("sess-a first = %d", code)
	}
	if code := hit("sess-a"); code != http.StatusTooManyRequests {
		t.Fatalf("sess-a second = %d, want 429", code)
	}
	// A different session gets its own bucket.
	if code := hit("sess-b"); code != http.StatusOK {
		t.Fatalf("sess-b first = %d, want 200", code)
	}
}
