package discount_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

var now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

func newCode(t *testing.T, def discount.Definition) *discount.Code {
	t.Helper()
	if def.Code == "" {
		def.Code = "spring26"
	}
	if def.ValidFrom.IsZero() {
		def.ValidFrom = now.Add(-24 * time.Hour)
	}
	c, err := discount.NewCode(def, now.Add(-48*time.Hour))
	require.NoError(t, err)
	return c
}

func TestPrice_PercentageCappedAtMaxDiscount(t *testing.T) {
	c := newCode(t, discount.Definition{
		Type:              discount.TypePercentage,
		Value:             dec("20"),
		MaxDiscountAmount: decPtr("50"),
	})

	q := c.Price(dec("1000"), shared.CurrencyUSD)
	assert.True(t, q.DiscountAmount.Equal(dec("50")), "got %s", q.DiscountAmount)
	assert.True(t, q.FinalPrice.Equal(dec("950")), "got %s", q.FinalPrice)
}

func TestPrice_PercentageWithoutCap(t *testing.T) {
	c := newCode(t, discount.Definition{Type: discount.TypePercentage, Value: dec("20")})

	q := c.Price(dec("1000"), shared.CurrencyUSD)
	assert.True(t, q.DiscountAmount.Equal(dec("200")))
	assert.True(t, q.FinalPrice.Equal(dec("800")))
}

func TestPrice_FixedClampedToBase(t *testing.T) {
	c := newCode(t, discount.Definition{Type: discount.TypeFixed, Value: dec("1500")})

	q := c.Price(dec("1000"), shared.CurrencyUSD)
	assert.True(t, q.DiscountAmount.Equal(dec("1000")))
	assert.True(t, q.FinalPrice.IsZero(), "price never goes negative")
}

func TestPrice_RoundsToCents(t *testing.T) {
	c := newCode(t, discount.Definition{Type: discount.TypePercentage, Value: dec("33.333")})

	q := c.Price(dec("99.99"), shared.CurrencyEUR)
	assert.Equal(t, "33.33", q.DiscountAmount.StringFixed(2))
	assert.Equal(t, "66.66", q.FinalPrice.StringFixed(2))
}

func TestValidate(t *testing.T) {
	planA := shared.NewID()
	planB := shared.NewID()
	until := now.Add(time.Hour)

	tests := []struct {
		name    string
		def     discount.Definition
		plan    shared.ID
		cur     shared.Currency
		orgUses int
		at      time.Time
		wantErr error
	}{
		{
			name: "valid",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10")},
			plan: planA, cur: shared.CurrencyUSD, at: now,
		},
		{
			name: "not yet valid",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10"), ValidFrom: now.Add(time.Hour)},
			plan: planA, cur: shared.CurrencyUSD, at: now,
			wantErr: discount.ErrCodeExpired,
		},
		{
			name: "past valid_until",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10"), ValidUntil: &until},
			plan: planA, cur: shared.CurrencyUSD, at: now.Add(2 * time.Hour),
			wantErr: discount.ErrCodeExpired,
		},
		{
			name: "plan mismatch",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10"), ApplicablePlanID: planA},
			plan: planB, cur: shared.CurrencyUSD, at: now,
			wantErr: discount.ErrPlanMismatch,
		},
		{
			name: "currency mismatch",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10"), Currency: shared.CurrencyEUR},
			plan: planA, cur: shared.CurrencyUSD, at: now,
			wantErr: discount.ErrCurrencyMismatch,
		},
		{
			name: "per organization limit",
			def:  discount.Definition{Type: discount.TypeFixed, Value: dec("10"), MaxUsesPerOrg: 2},
			plan: planA, cur: shared.CurrencyUSD, orgUses: 2, at: now,
			wantErr: discount.ErrUsageExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCode(t, tt.def)
			err := c.Validate(tt.plan, tt.cur, tt.orgUses, tt.at)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, shared.ErrDiscountRejected)
		})
	}
}

func TestValidate_GlobalUsesExhausted(t *testing.T) {
	c := discount.Reconstruct(shared.NewID(), "LAUNCH", discount.TypeFixed, dec("10"), nil, "", shared.ID{},
		intPtr(5), 1, 5, now.Add(-time.Hour), nil, true, now.Add(-time.Hour))
	assert.ErrorIs(t, c.Validate(shared.NewID(), shared.CurrencyUSD, 0, now), discount.ErrUsageExceeded)
}

func TestValidate_Inactive(t *testing.T) {
	c := newCode(t, discount.Definition{Type: discount.TypeFixed, Value: dec("10")})
	c.Deactivate()
	assert.ErrorIs(t, c.Validate(shared.NewID(), shared.CurrencyUSD, 0, now), discount.ErrCodeNotFound)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SPRING26", discount.NormalizeCode("  spring26 "))
	assert.Equal(t, "SPRING26", discount.NormalizeCode("ｓｐｒｉｎｇ２６"), "full-width input folds to ASCII")
}

func TestNewCode_Validation(t *testing.T) {
	_, err := discount.NewCode(discount.Definition{Code: "X", Type: discount.TypePercentage, Value: dec("120")}, now)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = discount.NewCode(discount.Definition{Code: "X", Type: "bogus", Value: dec("10")}, now)
	assert.ErrorIs(t, err, discount.ErrInvalidDiscount)

	_, err = discount.NewCode(discount.Definition{Code: " ", Type: discount.TypeFixed, Value: dec("10")}, now)
	assert.ErrorIs(t, err, discount.ErrInvalidDiscount)
}
