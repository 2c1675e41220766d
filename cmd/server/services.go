package main

import (
	"fmt"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/postgres"
	"github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/pkg/logger"
)

// Services holds all service instances.
type Services struct {
	Cache        *app.EntitlementCacheService
	Plan         *app.PlanService
	Subscription *app.SubscriptionService
	FeatureGate  *app.FeatureGateService
	Usage        *app.UsageService
	Payment      *app.PaymentService
	Renewal      *app.RenewalService
	Discount     *app.DiscountService
	Transitions  *app.StatusTransitionService
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config *config.Config
	Log    *logger.Logger
	DB     *postgres.DB
	Redis  *redis.Client // nil when redis is disabled
}

// NewServices initializes all services on top of the postgres store.
func NewServices(deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log

	store := postgres.NewStore(deps.DB)
	orgs := postgres.NewOrganizationDirectory(deps.DB)
	counter := postgres.NewResourceCounter(deps.DB, cfg.Billing.CounterTables)

	var sharedCache app.SnapshotCache
	if deps.Redis != nil {
		c, err := app.NewEntitlementRedisCache(deps.Redis)
		if err != nil {
			return nil, fmt.Errorf("entitlement cache: %w", err)
		}
		sharedCache = c
	}

	minStep := cfg.Billing.MinStepInterval
	if minStep == 0 {
		d, err := app.StepIntervalForSchedule(cfg.Scheduler.TransitionSpec)
		if err != nil {
			return nil, err
		}
		minStep = d
	}

	cache := app.NewEntitlementCacheService(store, sharedCache, app.EntitlementCacheConfig{
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
	}, log)

	return &Services{
		Cache:        cache,
		Plan:         app.NewPlanService(store, cache, log),
		Subscription: app.NewSubscriptionService(store, cache, orgs, log),
		FeatureGate:  app.NewFeatureGateService(store, cache, orgs, log),
		Usage:        app.NewUsageService(store, cache, counter, orgs, log),
		Payment:      app.NewPaymentService(store, orgs, log),
		Renewal:      app.NewRenewalService(store, cache, log),
		Discount:     app.NewDiscountService(store, log),
		Transitions: app.NewStatusTransitionService(store, cache, app.SweepConfig{
			BatchSize:       cfg.Billing.SweepBatchSize,
			Concurrency:     cfg.Billing.SweepConcurrency,
			MinStepInterval: minStep,
		}, log),
	}, nil
}
