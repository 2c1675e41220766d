package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/memory"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/logger"
)

var (
	admin  = shared.Actor{ID: shared.NewID(), Email: "ops@example.com", IsAdmin: true}
	start  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	usd100 = decimal.NewFromInt(100)
)

// fakeClock is a movable clock shared by every service of a harness.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *fakeClock
	store *memory.Store
	orgs  *memory.Organizations
	count *memory.Counter

	cache         *app.EntitlementCacheService
	plans         *app.PlanService
	subscriptions *app.SubscriptionService
	features      *app.FeatureGateService
	usage         *app.UsageService
	payments      *app.PaymentService
	discounts     *app.DiscountService
	renewals      *app.RenewalService
	sweep         *app.StatusTransitionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.NewNop()
	clock := &fakeClock{now: start}
	store := memory.NewStore()
	orgs := memory.NewOrganizations()
	counter := memory.NewCounter("users", "schools", "buses")

	cache := app.NewEntitlementCacheService(store, nil, app.EntitlementCacheConfig{}, log)
	h := &harness{
		t:             t,
		ctx:           context.Background(),
		clock:         clock,
		store:         store,
		orgs:          orgs,
		count:         counter,
		cache:         cache,
		plans:         app.NewPlanService(store, cache, log),
		subscriptions: app.NewSubscriptionService(store, cache, orgs, log),
		features:      app.NewFeatureGateService(store, cache, orgs, log),
		usage:         app.NewUsageService(store, cache, counter, orgs, log),
		payments:      app.NewPaymentService(store, orgs, log),
		discounts:     app.NewDiscountService(store, log),
		renewals:      app.NewRenewalService(store, cache, log),
		sweep:         app.NewStatusTransitionService(store, cache, app.DefaultSweepConfig(), log),
	}
	cache.SetClock(clock.Now)
	h.subscriptions.SetClock(clock.Now)
	h.features.SetClock(clock.Now)
	h.usage.SetClock(clock.Now)
	h.payments.SetClock(clock.Now)
	h.discounts.SetClock(clock.Now)
	h.renewals.SetClock(clock.Now)
	h.sweep.SetClock(clock.Now)
	return h
}

// newOrg registers an organization and returns its id.
func (h *harness) newOrg() shared.ID {
	id := shared.NewID()
	h.orgs.Add(id)
	return id
}

// basicPlan creates the default plan: 14 trial, 7 grace and 30 readonly days.
func (h *harness) basicPlan() *plan.Plan {
	h.t.Helper()
	return h.createPlan("basic", true, map[string]bool{"reports": true, "sms": false}, map[string]int64{"users": 5, "schools": 1})
}

func (h *harness) createPlan(slug string, isDefault bool, features map[string]bool, limits map[string]int64) *plan.Plan {
	h.t.Helper()
	p, err := h.plans.CreatePlan(h.ctx, admin, app.PlanInput{
		Slug: slug,
		Name: slug,
		Prices: map[shared.Currency]plan.Pricing{
			shared.CurrencyUSD: {Yearly: usd100, PerAdditionalSchool: decimal.NewFromInt(10)},
		},
		Periods:    plan.Periods{TrialDays: 14, GraceDays: 7, ReadonlyDays: 30},
		MaxSchools: 1,
		Features:   features,
		Limits:     limits,
		IsDefault:  isDefault,
	})
	require.NoError(h.t, err)
	return p
}

func (h *harness) member(orgID shared.ID) shared.Actor {
	return shared.Actor{ID: shared.NewID(), Email: "member@example.com", Organizations: []shared.ID{orgID}}
}
