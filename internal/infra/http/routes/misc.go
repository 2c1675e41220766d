package routes

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/entitlements/internal/infra/http/handler"
)

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", promhttp.Handler().ServeHTTP)
}

// registerCatalogRoutes registers the public plan catalog. Only active plans are listed.
func registerCatalogRoutes(router Router, h *handler.PlanHandler) {
	router.Group("/api/v1/plans", func(r Router) {
		r.GET("/", h.List)
		r.GET("/{slug}", h.GetBySlug)
	})
}
