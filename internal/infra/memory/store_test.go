package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/memory"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/pagination"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newPlan(t *testing.T, slug string) *plan.Plan {
	t.Helper()
	p, err := plan.NewPlan(slug, slug, map[shared.Currency]plan.Pricing{
		shared.CurrencyUSD: {Yearly: decimal.NewFromInt(100), PerAdditionalSchool: decimal.NewFromInt(10)},
	}, plan.Periods{TrialDays: 14, GraceDays: 7, ReadonlyDays: 30}, 1)
	require.NoError(t, err)
	return p
}

func TestWithin_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := newPlan(t, "basic")

	boom := errors.New("boom")
	err := store.Within(ctx, func(ctx context.Context, tx app.Repositories) error {
		require.NoError(t, tx.Plans.Create(ctx, p))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Repos().Plans.GetByID(ctx, p.ID())
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)
}

func TestWithin_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := newPlan(t, "basic")

	err := store.Within(ctx, func(ctx context.Context, tx app.Repositories) error {
		return tx.Plans.Create(ctx, p)
	})
	require.NoError(t, err)

	got, err := store.Repos().Plans.GetBySlug(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, p.ID(), got.ID())
}

func TestReturnedAggregatesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := newPlan(t, "basic")
	require.NoError(t, store.Repos().Plans.Create(ctx, p))

	got, err := store.Repos().Plans.GetByID(ctx, p.ID())
	require.NoError(t, err)
	got.Deactivate()

	again, err := store.Repos().Plans.GetByID(ctx, p.ID())
	require.NoError(t, err)
	assert.True(t, again.IsActive())
}

func TestPlans_SlugUniqueAndSingleDefault(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	a := newPlan(t, "a")
	b := newPlan(t, "b")
	require.NoError(t, repos.Plans.Create(ctx, a))
	require.NoError(t, repos.Plans.Create(ctx, b))
	assert.ErrorIs(t, repos.Plans.Create(ctx, newPlan(t, "a")), plan.ErrPlanSlugExists)

	_, err := repos.Plans.GetDefault(ctx)
	assert.ErrorIs(t, err, plan.ErrNoDefaultPlan)

	require.NoError(t, repos.Plans.SetDefault(ctx, a.ID()))
	require.NoError(t, repos.Plans.SetDefault(ctx, b.ID()))

	def, err := repos.Plans.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID(), def.ID())

	gotA, err := repos.Plans.GetByID(ctx, a.ID())
	require.NoError(t, err)
	assert.False(t, gotA.IsDefault())
}

func TestSubscriptions_ListDueForTransition(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	p := newPlan(t, "basic")

	due, err := subscription.NewTrial(shared.NewID(), p, t0)
	require.NoError(t, err)
	fresh, err := subscription.NewTrial(shared.NewID(), p, t0.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.NoError(t, repos.Subscriptions.Create(ctx, due))
	require.NoError(t, repos.Subscriptions.Create(ctx, fresh))

	err = repos.Subscriptions.Create(ctx, due)
	assert.ErrorIs(t, err, shared.ErrConflict)

	ids, err := repos.Subscriptions.ListDueForTransition(ctx, t0.AddDate(0, 0, 15), 10)
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{due.OrganizationID()}, ids)

	all, err := repos.Subscriptions.ListOrganizationIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRenewals_OnePendingPerOrganization(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	org := shared.NewID()
	planID := shared.NewID()
	paymentID := shared.NewID()

	first, err := renewal.NewRequest(org, shared.NewID(), planID, 0, shared.ID{}, paymentID, shared.NewID(), t0)
	require.NoError(t, err)
	require.NoError(t, repos.Renewals.Create(ctx, first))

	second, err := renewal.NewRequest(org, shared.NewID(), planID, 0, shared.ID{}, shared.NewID(), shared.NewID(), t0)
	require.NoError(t, err)
	assert.ErrorIs(t, repos.Renewals.Create(ctx, second), renewal.ErrPendingExists)

	other, err := renewal.NewRequest(shared.NewID(), shared.NewID(), planID, 0, shared.ID{}, paymentID, shared.NewID(), t0)
	require.NoError(t, err)
	assert.ErrorIs(t, repos.Renewals.Create(ctx, other), payment.ErrPaymentLinked)

	pending, err := repos.Renewals.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID(), pending[0].ID())
}

func TestDiscounts_RecordUseEnforcesGlobalCap(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	maxUses := 1
	code, err := discount.NewCode(discount.Definition{
		Code:    "spring",
		Type:    discount.TypePercentage,
		Value:   decimal.NewFromInt(20),
		MaxUses: &maxUses,
	}, t0)
	require.NoError(t, err)
	require.NoError(t, repos.Discounts.Create(ctx, code))

	org := shared.NewID()
	require.NoError(t, repos.Discounts.RecordUse(ctx, discount.Use{ID: shared.NewID(), CodeID: code.ID(), OrganizationID: org, UsedAt: t0}))
	err = repos.Discounts.RecordUse(ctx, discount.Use{ID: shared.NewID(), CodeID: code.ID(), OrganizationID: shared.NewID(), UsedAt: t0})
	assert.ErrorIs(t, err, discount.ErrUsageExceeded)

	n, err := repos.Discounts.CountUses(ctx, code.ID(), org)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repos.Discounts.GetByCode(ctx, "SPRING")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount())

	require.NoError(t, repos.Discounts.SetActive(ctx, code.ID(), false))
	active, err := repos.Discounts.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSnapshots_UpsertByDay(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	org := shared.NewID()

	require.NoError(t, repos.Snapshots.Save(ctx, usage.NewSnapshots(org, map[string]int64{"users": 3}, t0)))
	require.NoError(t, repos.Snapshots.Save(ctx, usage.NewSnapshots(org, map[string]int64{"users": 5}, t0.Add(time.Hour))))

	snaps, err := repos.Snapshots.List(ctx, org, t0, t0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(5), snaps[0].Count)
}

func TestHistory_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repos()
	org := shared.NewID()

	for i := 0; i < 3; i++ {
		e := history.NewEntry(org, history.ActionStatusTransitioned, shared.SystemActor, t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repos.History.Append(ctx, e))
	}

	res, err := repos.History.ListByOrganization(ctx, org, pagination.New(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Data, 2)
	assert.True(t, res.Data[0].CreatedAt.After(res.Data[1].CreatedAt))
}

func TestCounter_UnknownResource(t *testing.T) {
	c := memory.NewCounter("users", "schools")
	c.Set(shared.NewID(), "users", 4)

	_, err := c.Count(context.Background(), shared.NewID(), "buses")
	assert.ErrorIs(t, err, usage.ErrUnknownResource)
	assert.Equal(t, []string{"schools", "users"}, c.ResourceKeys())
}
