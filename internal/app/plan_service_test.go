package app_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

func TestCreatePlan_SingleDefault(t *testing.T) {
	h := newHarness(t)
	basic := h.basicPlan()
	pro := h.createPlan("pro", true, nil, nil)

	def, err := h.plans.GetDefaultPlan(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, pro.ID(), def.ID())

	got, err := h.plans.GetPlan(h.ctx, basic.ID())
	require.NoError(t, err)
	assert.False(t, got.IsDefault())

	require.NoError(t, h.plans.SetDefaultPlan(h.ctx, admin, basic.ID()))
	def, err = h.plans.GetDefaultPlan(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, basic.ID(), def.ID())
}

func TestCreatePlan_Validation(t *testing.T) {
	h := newHarness(t)
	h.basicPlan()

	_, err := h.plans.CreatePlan(h.ctx, admin, app.PlanInput{Slug: "basic", Name: "Again"})
	assert.ErrorIs(t, err, plan.ErrPlanSlugExists)

	_, err = h.plans.CreatePlan(h.ctx, admin, app.PlanInput{Slug: "Bad Slug", Name: "x"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.plans.CreatePlan(h.ctx, admin, app.PlanInput{Slug: "neg", Name: "x", Limits: map[string]int64{"users": -5}})
	assert.ErrorIs(t, err, plan.ErrInvalidLimit)

	_, err = h.plans.CreatePlan(h.ctx, shared.Actor{ID: shared.NewID()}, app.PlanInput{Slug: "x", Name: "x"})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestUpdatePlan_ReachesSubscribedOrganizations(t *testing.T) {
	h := newHarness(t)
	p := h.basicPlan()
	org := h.newOrg()
	_, err := h.subscriptions.StartTrial(h.ctx, admin, org, shared.ID{})
	require.NoError(t, err)

	limit, err := h.usage.GetEffectiveLimit(h.ctx, org, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(5), limit.Value)

	_, err = h.plans.UpdatePlan(h.ctx, admin, p.ID(), app.PlanInput{
		Name:       "Basic",
		Prices:     map[shared.Currency]plan.Pricing{shared.CurrencyUSD: {Yearly: decimal.NewFromInt(120)}},
		Periods:    plan.Periods{TrialDays: 14, GraceDays: 7, ReadonlyDays: 30},
		MaxSchools: 1,
		Features:   map[string]bool{"reports": true},
		Limits:     map[string]int64{"users": 10},
		IsDefault:  true,
	})
	require.NoError(t, err)

	limit, err = h.usage.GetEffectiveLimit(h.ctx, org, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(10), limit.Value)

	got, err := h.plans.GetPlanBySlug(h.ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, "Basic", got.Name())
}

func TestDeactivatePlan(t *testing.T) {
	h := newHarness(t)
	p := h.basicPlan()
	org := h.newOrg()

	deactivated, err := h.plans.DeactivatePlan(h.ctx, admin, p.ID())
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive())
	assert.False(t, deactivated.IsDefault())

	active, err := h.plans.ListPlans(h.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = h.subscriptions.ActivateSubscription(h.ctx, admin, app.ActivateSubscriptionInput{
		OrganizationID: org,
		PlanID:         p.ID(),
		Currency:       shared.CurrencyUSD,
		AmountPaid:     usd100,
	})
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)
}
