package controller

import (
	"net/http"

	"codejudge/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the judge HTTP API. A nil limiter disables rate limiting
// on submissions.
func NewRouter(h *JudgeController, limiter *middleware.RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.TraceContextMiddleware(), middleware.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1/judge")
	api.POST("/submissions", middleware.RateLimitMiddleware(limiter), h.Submit)
	api.GET("/submissions/:key", h.GetStatus)
	api.GET("/languages", h.ListLanguages)
	return router
}
