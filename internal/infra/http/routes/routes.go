// Package routes registers all HTTP routes for the API.
// Routes are organized by audience for maintainability.
package routes

import (
	infrahttp "github.com/openctemio/entitlements/internal/infra/http"
	"github.com/openctemio/entitlements/internal/infra/http/handler"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds all HTTP handlers for route registration.
type Handlers struct {
	Health       *handler.HealthHandler
	Plan         *handler.PlanHandler
	Subscription *handler.SubscriptionHandler
	Feature      *handler.FeatureHandler
	Usage        *handler.UsageHandler
	Payment      *handler.PaymentHandler
	Renewal      *handler.RenewalHandler
	Discount     *handler.DiscountHandler
	Sweep        *handler.SweepHandler
}

// Register registers all application routes.
//
// Routes are organized across multiple files:
//   - tenant.go: organization-scoped reads, renewal requests and price quotes
//   - admin.go: catalog management, lifecycle commands, payments and sweeps
//   - misc.go: health, readiness, metrics and the public plan catalog
func Register(router Router, h Handlers, tokens middleware.TokenValidator, log *logger.Logger) {
	authMiddleware := middleware.Authenticate(tokens, log)

	registerHealthRoutes(router, h.Health)
	registerCatalogRoutes(router, h.Plan)
	registerTenantRoutes(router, h, authMiddleware)
	registerAdminRoutes(router, h, authMiddleware)
}
