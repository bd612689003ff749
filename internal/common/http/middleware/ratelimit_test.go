package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"codejudge/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

func TestRateLimitMiddlewarePerIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := middleware.NewRateLimiter(middleware.RateLimitPolicy{IPRPS: 0.001, IPBurst: 2})

	router := gin.New()
	router.Use(middleware.RateLimitMiddleware(rl))
	router.POST("/submit", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	if send("10.0.0.1") != http.StatusOK || send("10.0.0.1") != http.StatusOK {
		t.Fatalf("burst requests should pass")
	}
	if code := send("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("other clients keep their own bucket, got %d", code)
	}
}

func TestRateLimitMiddlewareGlobal(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimitPolicy{GlobalRPS: 0.001, GlobalBurst: 1})
	if !rl.Allow("a") {
		t.Fatalf("first request should pass")
	}
	if rl.Allow("b") {
		t.Fatalf("global bucket should be exhausted")
	}
}

func TestRateLimitMiddlewareNilLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RateLimitMiddleware(nil))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("nil limiter must pass through, got %d", w.Code)
	}
}
