package routes

import (
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
)

// =============================================================================
// Platform Admin Routes
// =============================================================================
//
// These routes are for platform operators only. All of them require a bearer
// token carrying the admin claim.

// registerAdminRoutes registers all platform admin endpoints.
func registerAdminRoutes(router Router, h Handlers, authMiddleware Middleware) {
	router.Group("/api/v1/admin", func(r Router) {
		// Plan catalog
		r.GET("/plans", h.Plan.List)
		r.POST("/plans", h.Plan.Create)
		r.GET("/plans/{id}", h.Plan.Get)
		r.PUT("/plans/{id}", h.Plan.Update)
		r.DELETE("/plans/{id}", h.Plan.Deactivate)
		r.POST("/plans/{id}/default", h.Plan.SetDefault)

		// Per-organization lifecycle
		r.Group("/organizations/{orgID}", func(r Router) {
			r.GET("/subscription", h.Subscription.Get)
			r.POST("/subscription/trial", h.Subscription.StartTrial)
			r.POST("/subscription/activate", h.Subscription.Activate)
			r.POST("/subscription/suspend", h.Subscription.Suspend)
			r.POST("/subscription/cancel", h.Subscription.Cancel)
			r.POST("/subscription/reactivate", h.Subscription.Reactivate)
			r.GET("/history", h.Subscription.History)

			r.POST("/overrides", h.Usage.AddOverride)
			r.POST("/usage/recalculate", h.Usage.Recalculate)
			r.GET("/usage/snapshots", h.Usage.Snapshots)

			r.POST("/addons", h.Feature.AddAddon)
			r.POST("/features/{key}/toggle", h.Feature.Toggle)

			r.GET("/payments", h.Payment.List)
		})

		// Payments
		r.POST("/payments", h.Payment.Record)
		r.GET("/payments/{id}", h.Payment.Get)
		r.POST("/payments/{id}/confirm", h.Payment.Confirm)
		r.POST("/payments/{id}/reject", h.Payment.Reject)

		// Renewals
		r.GET("/renewals", h.Renewal.ListPending)
		r.GET("/renewals/{id}", h.Renewal.Get)
		r.POST("/renewals/{id}/approve", h.Renewal.Approve)
		r.POST("/renewals/{id}/reject", h.Renewal.Reject)

		// Discount codes
		r.GET("/discounts", h.Discount.List)
		r.POST("/discounts", h.Discount.Create)
		r.DELETE("/discounts/{id}", h.Discount.Deactivate)

		// On-demand jobs
		r.POST("/sweep", h.Sweep.Sweep)
		r.POST("/usage/snapshots", h.Sweep.SnapshotUsage)
	}, authMiddleware, middleware.RequireAdmin())
}
