package feature_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

var base = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func addon(key string, enabled bool, startedAt time.Time, expiresAt *time.Time) *feature.Addon {
	return feature.ReconstructAddon(shared.NewID(), shared.NewID(), key, enabled, startedAt, expiresAt,
		decimal.Zero, shared.CurrencyUSD, shared.NewID(), startedAt, nil)
}

func TestIsEnabled_PlanOnly(t *testing.T) {
	e := feature.Entitlements{
		GrantsFeatures: true,
		PlanFeatures:   map[string]bool{"exams": true, "sms": false},
	}
	assert.True(t, e.IsEnabled("exams", base))
	assert.False(t, e.IsEnabled("sms", base))
	assert.False(t, e.IsEnabled("unknown_feature", base))
}

func TestIsEnabled_AddonGrantsUntilExpiry(t *testing.T) {
	expires := base.Add(48 * time.Hour)
	e := feature.Entitlements{
		GrantsFeatures: true,
		PlanFeatures:   map[string]bool{"sms": false},
		Addons:         []*feature.Addon{addon("sms", true, base, &expires)},
	}

	assert.True(t, e.IsEnabled("sms", base.Add(time.Hour)))
	assert.True(t, e.EnabledByAddon("sms", base.Add(time.Hour)))
	assert.False(t, e.IsEnabled("sms", expires), "an expired addon no longer counts")
	assert.False(t, e.IsEnabled("sms", expires.Add(time.Hour)))
}

func TestIsEnabled_DisabledAddonRevokesPlanFeature(t *testing.T) {
	e := feature.Entitlements{
		GrantsFeatures: true,
		PlanFeatures:   map[string]bool{"exams": true},
		Addons:         []*feature.Addon{addon("exams", false, base, nil)},
	}
	assert.False(t, e.IsEnabled("exams", base.Add(time.Minute)))
	assert.True(t, e.IsEnabled("exams", base.Add(-time.Minute)), "addon has not started yet")
}

func TestIsEnabled_LatestAddonWins(t *testing.T) {
	e := feature.Entitlements{
		GrantsFeatures: true,
		PlanFeatures:   map[string]bool{},
		Addons: []*feature.Addon{
			addon("sms", false, base.Add(time.Hour), nil),
			addon("sms", true, base, nil),
		},
	}
	assert.True(t, e.IsEnabled("sms", base.Add(30*time.Minute)))
	assert.False(t, e.IsEnabled("sms", base.Add(2*time.Hour)))
}

func TestIsEnabled_BlockedStatus(t *testing.T) {
	e := feature.Entitlements{
		GrantsFeatures: false,
		PlanFeatures:   map[string]bool{"exams": true},
		Addons:         []*feature.Addon{addon("sms", true, base, nil)},
	}
	assert.False(t, e.IsEnabled("exams", base.Add(time.Hour)))
	assert.False(t, e.IsEnabled("sms", base.Add(time.Hour)))

	// The grant underneath the status gate is still visible.
	assert.True(t, e.Granted("exams", base.Add(time.Hour)))
	assert.True(t, e.Granted("sms", base.Add(time.Hour)))
	assert.False(t, e.Granted("attendance", base.Add(time.Hour)))
}

func TestResolve(t *testing.T) {
	e := feature.Entitlements{
		GrantsFeatures: true,
		PlanFeatures:   map[string]bool{"exams": true, "attendance": false},
		Addons:         []*feature.Addon{addon("sms", true, base, nil)},
	}
	got := e.Resolve(base.Add(time.Hour))
	assert.Equal(t, map[string]bool{"exams": true, "attendance": false, "sms": true}, got)
	assert.Equal(t, []string{"attendance", "exams", "sms"}, e.Keys())
}

func TestNewAddon_Validation(t *testing.T) {
	price := shared.Money{Amount: decimal.NewFromInt(10), Currency: shared.CurrencyUSD}

	_, err := feature.NewAddon(shared.NewID(), "Bad Key", true, price, nil, shared.NewID(), base)
	assert.ErrorIs(t, err, shared.ErrValidation)

	past := base.Add(-time.Hour)
	_, err = feature.NewAddon(shared.NewID(), "sms", true, price, &past, shared.NewID(), base)
	assert.ErrorIs(t, err, shared.ErrValidation)

	a, err := feature.NewAddon(shared.NewID(), "sms", true, price, nil, shared.NewID(), base)
	require.NoError(t, err)
	assert.True(t, a.IsActiveAt(base))
}
