// Package discount validates and prices discount codes.
package discount

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Type is how a discount value is applied.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// IsValid checks if the discount type is known.
func (t Type) IsValid() bool {
	return t == TypePercentage || t == TypeFixed
}

// NormalizeCode folds a user-entered code to its stored form: compatibility
// normalized, trimmed and upper-cased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(code)))
}

var hundred = decimal.NewFromInt(100)

// Code is a discount code.
type Code struct {
	id                shared.ID
	code              string
	discountType      Type
	value             decimal.Decimal
	maxDiscountAmount *decimal.Decimal
	currency          shared.Currency // empty means any currency
	applicablePlanID  shared.ID       // zero means any plan
	maxUses           *int
	maxUsesPerOrg     int
	usedCount         int
	validFrom         time.Time
	validUntil        *time.Time
	isActive          bool
	createdAt         time.Time
}

// Definition holds the attributes of a new discount code.
type Definition struct {
	Code              string
	Type              Type
	Value             decimal.Decimal
	MaxDiscountAmount *decimal.Decimal
	Currency          shared.Currency
	ApplicablePlanID  shared.ID
	MaxUses           *int
	MaxUsesPerOrg     int
	ValidFrom         time.Time
	ValidUntil        *time.Time
}

// NewCode creates an active discount code.
func NewCode(def Definition, now time.Time) (*Code, error) {
	code := NormalizeCode(def.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidDiscount)
	}
	if !def.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, def.Type)
	}
	if !def.Value.IsPositive() {
		return nil, fmt.Errorf("%w: value must be positive", ErrInvalidDiscount)
	}
	if def.Type == TypePercentage && def.Value.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: percentage above 100", ErrInvalidDiscount)
	}
	if def.MaxDiscountAmount != nil && def.MaxDiscountAmount.IsNegative() {
		return nil, fmt.Errorf("%w: max discount amount must not be negative", ErrInvalidDiscount)
	}
	if def.Currency != "" && !def.Currency.IsValid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidDiscount, def.Currency)
	}
	if def.MaxUses != nil && *def.MaxUses < 1 {
		return nil, fmt.Errorf("%w: max uses must be positive", ErrInvalidDiscount)
	}
	if def.MaxUsesPerOrg < 1 {
		def.MaxUsesPerOrg = 1
	}
	validFrom := def.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if def.ValidUntil != nil && !def.ValidUntil.After(validFrom) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", ErrInvalidDiscount)
	}
	return &Code{
		id:                shared.NewID(),
		code:              code,
		discountType:      def.Type,
		value:             def.Value,
		maxDiscountAmount: def.MaxDiscountAmount,
		currency:          def.Currency,
		applicablePlanID:  def.ApplicablePlanID,
		maxUses:           def.MaxUses,
		maxUsesPerOrg:     def.MaxUsesPerOrg,
		validFrom:         validFrom.UTC(),
		validUntil:        def.ValidUntil,
		isActive:          true,
		createdAt:         now.UTC(),
	}, nil
}

// Deactivate stops the code from validating.
func (c *Code) Deactivate() {
	c.isActive = false
}

// Validate checks the code can be applied to planID in currency by an
// organization that already used it orgUses times. It never mutates the code.
func (c *Code) Validate(planID shared.ID, currency shared.Currency, orgUses int, now time.Time) error {
	if !c.isActive {
		return ErrCodeNotFound
	}
	if now.Before(c.validFrom) || (c.validUntil != nil && now.After(*c.validUntil)) {
		return ErrCodeExpired
	}
	if !c.applicablePlanID.IsZero() && !c.applicablePlanID.Equals(planID) {
		return ErrPlanMismatch
	}
	if c.currency != "" && c.currency != currency {
		return ErrCurrencyMismatch
	}
	if c.maxUses != nil && c.usedCount >= *c.maxUses {
		return fmt.Errorf("%w: global limit of %d reached", ErrUsageExceeded, *c.maxUses)
	}
	if orgUses >= c.maxUsesPerOrg {
		return fmt.Errorf("%w: organization already used it %d times", ErrUsageExceeded, orgUses)
	}
	return nil
}

// DiscountFor computes the discount on a base price. A percentage discount is capped
// at the max discount amount; no discount ever exceeds the base price.
func (c *Code) DiscountFor(base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	var amount decimal.Decimal
	switch c.discountType {
	case TypePercentage:
		amount = base.Mul(c.value).Div(hundred)
		if c.maxDiscountAmount != nil && amount.GreaterThan(*c.maxDiscountAmount) {
			amount = *c.maxDiscountAmount
		}
	case TypeFixed:
		amount = c.value
	}
	if amount.GreaterThan(base) {
		amount = base
	}
	return amount.Round(2)
}

// Price applies the code to a base price.
func (c *Code) Price(base decimal.Decimal, currency shared.Currency) Quote {
	d := c.DiscountFor(base)
	return Quote{
		BasePrice:      base.Round(2),
		DiscountAmount: d,
		FinalPrice:     base.Sub(d).Round(2),
		Currency:       currency,
		CodeID:         c.id,
		Code:           c.code,
	}
}

// Getters

func (c *Code) ID() shared.ID                       { return c.id }
func (c *Code) Code() string                        { return c.code }
func (c *Code) Type() Type                          { return c.discountType }
func (c *Code) Value() decimal.Decimal              { return c.value }
func (c *Code) MaxDiscountAmount() *decimal.Decimal { return c.maxDiscountAmount }
func (c *Code) Currency() shared.Currency           { return c.currency }
func (c *Code) ApplicablePlanID() shared.ID         { return c.applicablePlanID }
func (c *Code) MaxUses() *int                       { return c.maxUses }
func (c *Code) MaxUsesPerOrg() int                  { return c.maxUsesPerOrg }
func (c *Code) UsedCount() int                      { return c.usedCount }
func (c *Code) ValidFrom() time.Time                { return c.validFrom }
func (c *Code) ValidUntil() *time.Time              { return c.validUntil }
func (c *Code) IsActive() bool                      { return c.isActive }
func (c *Code) CreatedAt() time.Time                { return c.createdAt }

// Reconstruct creates a Code from stored data.
func Reconstruct(
	id shared.ID,
	code string,
	discountType Type,
	value decimal.Decimal,
	maxDiscountAmount *decimal.Decimal,
	currency shared.Currency,
	applicablePlanID shared.ID,
	maxUses *int,
	maxUsesPerOrg, usedCount int,
	validFrom time.Time,
	validUntil *time.Time,
	isActive bool,
	createdAt time.Time,
) *Code {
	return &Code{
		id:                id,
		code:              code,
		discountType:      discountType,
		value:             value,
		maxDiscountAmount: maxDiscountAmount,
		currency:          currency,
		applicablePlanID:  applicablePlanID,
		maxUses:           maxUses,
		maxUsesPerOrg:     maxUsesPerOrg,
		usedCount:         usedCount,
		validFrom:         validFrom,
		validUntil:        validUntil,
		isActive:          isActive,
		createdAt:         createdAt,
	}
}

// Quote is the result of pricing a plan with an optional discount code.
type Quote struct {
	BasePrice      decimal.Decimal `json:"base_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	Currency       shared.Currency `json:"currency"`
	CodeID         shared.ID       `json:"discount_code_id,omitempty"`
	Code           string          `json:"discount_code,omitempty"`
}

// NoDiscount quotes a base price without a code.
func NoDiscount(base decimal.Decimal, currency shared.Currency) Quote {
	return Quote{BasePrice: base.Round(2), DiscountAmount: decimal.Zero, FinalPrice: base.Round(2), Currency: currency}
}
