package usage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func override(key string, value int64, createdAt time.Time, expiresAt *time.Time) *usage.Override {
	return usage.ReconstructOverride(shared.NewID(), shared.NewID(), key, value, "support ticket", expiresAt, shared.NewID(), createdAt)
}

func ptr(t time.Time) *time.Time { return &t }

func TestResolveLimit_Precedence(t *testing.T) {
	planLimits := map[string]int64{"schools": 5, "students": plan.Unlimited}

	tests := []struct {
		name      string
		key       string
		overrides []*usage.Override
		plan      map[string]int64
		want      usage.EffectiveLimit
	}{
		{
			name: "plan limit without override",
			key:  "schools",
			plan: planLimits,
			want: usage.EffectiveLimit{Value: 5, Source: usage.SourcePlan},
		},
		{
			name:      "override smaller than plan still wins",
			key:       "schools",
			overrides: []*usage.Override{override("schools", 2, now.Add(-time.Hour), nil)},
			plan:      planLimits,
			want:      usage.EffectiveLimit{Value: 2, Source: usage.SourceOverride},
		},
		{
			name:      "unlimited override",
			key:       "schools",
			overrides: []*usage.Override{override("schools", plan.Unlimited, now.Add(-time.Hour), nil)},
			plan:      planLimits,
			want:      usage.EffectiveLimit{Value: plan.Unlimited, Source: usage.SourceOverride},
		},
		{
			name:      "unlimited plan with limited override",
			key:       "students",
			overrides: []*usage.Override{override("students", 300, now.Add(-time.Hour), nil)},
			plan:      planLimits,
			want:      usage.EffectiveLimit{Value: 300, Source: usage.SourceOverride},
		},
		{
			name:      "expired override falls back to plan",
			key:       "schools",
			overrides: []*usage.Override{override("schools", 50, now.Add(-48*time.Hour), ptr(now.Add(-time.Hour)))},
			plan:      planLimits,
			want:      usage.EffectiveLimit{Value: 5, Source: usage.SourcePlan},
		},
		{
			name: "newest active override wins",
			key:  "schools",
			overrides: []*usage.Override{
				override("schools", 10, now.Add(-2*time.Hour), nil),
				override("schools", 20, now.Add(-time.Hour), ptr(now.Add(time.Hour))),
			},
			plan: planLimits,
			want: usage.EffectiveLimit{Value: 20, Source: usage.SourceOverride},
		},
		{
			name:      "override for another resource is ignored",
			key:       "schools",
			overrides: []*usage.Override{override("students", 1, now.Add(-time.Hour), nil)},
			plan:      planLimits,
			want:      usage.EffectiveLimit{Value: 5, Source: usage.SourcePlan},
		},
		{
			name: "undefined limit fails closed",
			key:  "classes",
			plan: planLimits,
			want: usage.EffectiveLimit{Value: 0, Source: usage.SourceDefault},
		},
		{
			name: "no plan fails closed",
			key:  "schools",
			want: usage.EffectiveLimit{Value: 0, Source: usage.SourceDefault},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usage.ResolveLimit(tt.key, tt.overrides, tt.plan, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveLimit_Allows(t *testing.T) {
	unlimited := usage.EffectiveLimit{Value: plan.Unlimited}
	for _, n := range []int64{0, 1, 1_000_000} {
		assert.True(t, unlimited.Allows(n))
	}
	assert.Equal(t, plan.Unlimited, unlimited.Remaining(10))

	three := usage.EffectiveLimit{Value: 3}
	assert.True(t, three.Allows(2))
	assert.False(t, three.Allows(3), "usage equal to the limit is not within it")
	assert.Equal(t, int64(1), three.Remaining(2))
	assert.Equal(t, int64(0), three.Remaining(7))

	assert.False(t, usage.EffectiveLimit{Value: 0}.Allows(0))
}

func TestNewCheck(t *testing.T) {
	c := usage.NewCheck("schools", 4, usage.EffectiveLimit{Value: 5, Source: usage.SourcePlan})
	assert.True(t, c.Allowed)
	assert.Equal(t, int64(1), c.Remaining)
}

func TestNewOverride_Validation(t *testing.T) {
	_, err := usage.NewOverride(shared.NewID(), "schools", -2, "", nil, shared.NewID(), now)
	assert.ErrorIs(t, err, plan.ErrInvalidLimit)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = usage.NewOverride(shared.NewID(), "Schools!", 3, "", nil, shared.NewID(), now)
	assert.ErrorIs(t, err, shared.ErrValidation)

	o, err := usage.NewOverride(shared.NewID(), "schools", plan.Unlimited, "enterprise deal", nil, shared.NewID(), now)
	require.NoError(t, err)
	assert.True(t, o.IsActiveAt(now.AddDate(10, 0, 0)))
}

func TestNewSnapshots(t *testing.T) {
	org := shared.NewID()
	snaps := usage.NewSnapshots(org, map[string]int64{"schools": 2, "students": 140}, now)
	require.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC), s.SnapshotDate)
		assert.Equal(t, org, s.OrganizationID)
	}
}
