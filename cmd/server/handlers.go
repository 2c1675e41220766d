package main

import (
	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/http/handler"
	"github.com/openctemio/entitlements/internal/infra/http/routes"
	"github.com/openctemio/entitlements/internal/infra/postgres"
	"github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Config      *config.Config
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Services    *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	cfg := deps.Config
	v := deps.Validator
	svc := deps.Services

	healthOpts := []handler.HealthHandlerOption{
		handler.WithDatabase(deps.DB),
		handler.WithVersion(cfg.App.Version),
	}
	if deps.RedisClient != nil {
		healthOpts = append(healthOpts, handler.WithRedis(deps.RedisClient))
	}

	return routes.Handlers{
		Health:       handler.NewHealthHandler(healthOpts...),
		Plan:         handler.NewPlanHandler(svc.Plan, v),
		Subscription: handler.NewSubscriptionHandler(svc.Subscription, v),
		Feature:      handler.NewFeatureHandler(svc.FeatureGate, v),
		Usage:        handler.NewUsageHandler(svc.Usage, v),
		Payment:      handler.NewPaymentHandler(svc.Payment, v),
		Renewal:      handler.NewRenewalHandler(svc.Renewal, v),
		Discount:     handler.NewDiscountHandler(svc.Discount, v),
		Sweep:        handler.NewSweepHandler(svc.Transitions, svc.Usage, cfg.Billing.SnapshotConcurrency),
	}
}
