package routes

import (
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
)

// registerTenantRoutes registers the organization-scoped endpoints. The caller's
// token must cover the organization in the path; admins may read any organization.
func registerTenantRoutes(router Router, h Handlers, authMiddleware Middleware) {
	router.Group("/api/v1/organizations/{orgID}", func(r Router) {
		r.GET("/subscription", h.Subscription.GetStatus)

		r.GET("/features", h.Feature.List)
		r.GET("/features/{key}", h.Feature.Check)

		r.GET("/limits/{resource}", h.Usage.CheckLimit)

		r.POST("/renewals", h.Renewal.Submit)
		r.POST("/renewals/quote", h.Discount.Quote)

		r.GET("/discounts/{code}/price", h.Discount.Price)
	}, authMiddleware, middleware.RequireOrganizationAccess())
}
