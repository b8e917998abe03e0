package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docmeta/internal/handler"
	"docmeta/internal/middleware"
)

// Handlers groups the HTTP handlers the router mounts.
type Handlers struct {
	Health     *handler.HealthHandler
	Runs       *handler.RunHandler
	Validation *handler.ValidationHandler
	Rules      *handler.RulesHandler
}

// Setup configures the Gin engine with all routes and middleware. Metrics
// are served from gatherer at /metrics.
func Setup(h Handlers, allowedOrigins []string, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/healthz", h.Health.Liveness)
	r.GET("/readyz", h.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")

	runs := v1.Group("/runs")
	runs.POST("", h.Runs.Create)
	runs.GET("", h.Runs.List)
	runs.GET("/:id", h.Runs.Get)
	runs.GET("/:id/export", h.Runs.Export)

	v1.POST("/validate", h.Validation.Validate)
	v1.GET("/status", h.Validation.Status)

	rules := v1.Group("/rules")
	rules.GET("", h.Rules.List)
	rules.GET("/:type", h.Rules.Show)
	rules.POST("/reload", h.Rules.Reload)

	return r
}
