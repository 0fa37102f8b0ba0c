package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/TheGojiOG/servervisor/internal/config"
)

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"0.0.0.0/0", "https://example.com"}

	if !isOriginAllowed("https://example.com", allowed) {
		t.Fatalf("expected origin to be allowed")
	}

	if !isOriginAllowed("https://anything.local", allowed) {
		t.Fatalf("expected wildcard allowlist to permit origin")
	}

	if !isOriginAllowed("", allowed) {
		t.Fatalf("expected empty origin to be allowed")
	}

	if isOriginAllowed("https://evil.example", []string{"https://example.com"}) {
		t.Fatalf("expected unlisted origin to be rejected")
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"0.0.0.0/0"}) {
		t.Fatalf("expected wildcard to be detected")
	}

	if containsWildcard([]string{"https://example.com"}) {
		t.Fatalf("did not expect wildcard to be detected")
	}
}

func TestRateLimiter(t *testing.T) {
	limiter := newRateLimiter(true, 2)
	key := "127.0.0.1"
	now := time.Now()

	if !limiter.allowAt(key, now) {
		t.Fatalf("expected first request to be allowed")
	}
	if !limiter.allowAt(key, now) {
		t.Fatalf("expected second request to be allowed")
	}
	if limiter.allowAt(key, now) {
		t.Fatalf("expected third request to be rate limited")
	}
	if !limiter.allowAt("10.0.0.2", now) {
		t.Fatalf("expected other clients to have their own bucket")
	}

	if !limiter.allowAt(key, now.Add(30*time.Second)) {
		t.Fatalf("expected a token to be refilled after 30s")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := newRateLimiter(true, 10)
	now := time.Now()
	limiter.allowAt("a", now)

	limiter.cleanup(now.Add(5 * time.Minute))
	if len(limiter.clients) != 0 {
		t.Fatalf("expected idle client to be evicted")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(true, 1))
	router.GET("/api/v1/servers", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(config.CORSConfig{AllowedOrigins: []string{"https://dash.example"}}))
	router.POST("/api/v1/servers/:name/start", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/servers/survival/start", nil)
	req.Header.Set("Origin", "https://dash.example")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dash.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders(), ContentSecurityPolicy(false))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.GET("/api/v1/servers", ok)
	router.GET("/health", ok)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotContains(t, w.Header().Get("Content-Security-Policy"), "ws:")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}
