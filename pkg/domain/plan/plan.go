// Package plan holds the plan catalog: plans, their feature flags and resource limits.
package plan

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Unlimited is the limit value meaning "no cap".
const Unlimited int64 = -1

// IsUnlimited reports whether a limit value means "no cap".
func IsUnlimited(limit int64) bool {
	return limit == Unlimited
}

// ValidateLimit rejects limit values below -1.
func ValidateLimit(limit int64) error {
	if limit < Unlimited {
		return fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	return nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Pricing holds a plan's yearly price and per-additional-school price in one currency.
type Pricing struct {
	Yearly              decimal.Decimal `json:"yearly"`
	PerAdditionalSchool decimal.Decimal `json:"per_additional_school"`
}

// Periods are the day counts that drive the subscription timeline.
type Periods struct {
	TrialDays    int `json:"trial_days"`
	GraceDays    int `json:"grace_period_days"`
	ReadonlyDays int `json:"readonly_period_days"`
}

func (p Periods) validate() error {
	if p.TrialDays < 0 || p.GraceDays < 0 || p.ReadonlyDays < 0 {
		return ErrInvalidPeriod
	}
	return nil
}

// Plan is a subscription plan. Plans referenced by subscriptions are never deleted, only deactivated.
type Plan struct {
	id          shared.ID
	slug        string
	name        string
	description string
	prices      map[shared.Currency]Pricing
	periods     Periods
	maxSchools  int64
	isActive    bool
	isDefault   bool
	sortOrder   int
	features    map[string]bool
	limits      map[string]int64
	createdAt   time.Time
	updatedAt   time.Time
}

// NewPlan creates a new active plan.
func NewPlan(slug, name string, prices map[shared.Currency]Pricing, periods Periods, maxSchools int64) (*Plan, error) {
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	p := &Plan{
		id:       shared.NewID(),
		slug:     slug,
		name:     name,
		isActive: true,
		features: make(map[string]bool),
		limits:   make(map[string]int64),
	}
	if err := p.Revise(name, "", prices, periods, maxSchools); err != nil {
		return nil, err
	}
	p.createdAt = p.updatedAt
	return p, nil
}

// Revise replaces the plan's descriptive fields, prices and periods. The slug never changes.
func (p *Plan) Revise(name, description string, prices map[shared.Currency]Pricing, periods Periods, maxSchools int64) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	if err := periods.validate(); err != nil {
		return err
	}
	if err := ValidateLimit(maxSchools); err != nil {
		return err
	}
	cleaned := make(map[shared.Currency]Pricing, len(prices))
	for cur, pr := range prices {
		if !cur.IsValid() {
			return fmt.Errorf("%w: unsupported currency %q", shared.ErrValidation, cur)
		}
		if pr.Yearly.IsNegative() || pr.PerAdditionalSchool.IsNegative() {
			return fmt.Errorf("%w: prices must not be negative", shared.ErrValidation)
		}
		cleaned[cur] = pr
	}
	p.name = name
	p.description = description
	p.prices = cleaned
	p.periods = periods
	p.maxSchools = maxSchools
	p.updatedAt = time.Now().UTC()
	return nil
}

// ReplaceFeatures replaces the plan's feature flags.
func (p *Plan) ReplaceFeatures(features map[string]bool) {
	p.features = make(map[string]bool, len(features))
	for k, v := range features {
		p.features[k] = v
	}
	p.updatedAt = time.Now().UTC()
}

// ReplaceLimits replaces the plan's resource limits.
func (p *Plan) ReplaceLimits(limits map[string]int64) error {
	next := make(map[string]int64, len(limits))
	for k, v := range limits {
		if err := ValidateLimit(v); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		next[k] = v
	}
	p.limits = next
	p.updatedAt = time.Now().UTC()
	return nil
}

// Deactivate soft-deletes the plan. A deactivated plan cannot be the default.
func (p *Plan) Deactivate() {
	p.isActive = false
	p.isDefault = false
	p.updatedAt = time.Now().UTC()
}

// SetDefault marks or unmarks the plan as the catalog default.
func (p *Plan) SetDefault(isDefault bool) error {
	if isDefault && !p.isActive {
		return ErrInvalidPlan
	}
	p.isDefault = isDefault
	p.updatedAt = time.Now().UTC()
	return nil
}

// SetSortOrder sets the display order.
func (p *Plan) SetSortOrder(order int) {
	p.sortOrder = order
}

// Getters

func (p *Plan) ID() shared.ID        { return p.id }
func (p *Plan) Slug() string         { return p.slug }
func (p *Plan) Name() string         { return p.name }
func (p *Plan) Description() string  { return p.description }
func (p *Plan) Periods() Periods     { return p.periods }
func (p *Plan) TrialDays() int       { return p.periods.TrialDays }
func (p *Plan) GraceDays() int       { return p.periods.GraceDays }
func (p *Plan) ReadonlyDays() int    { return p.periods.ReadonlyDays }
func (p *Plan) MaxSchools() int64    { return p.maxSchools }
func (p *Plan) IsActive() bool       { return p.isActive }
func (p *Plan) IsDefault() bool      { return p.isDefault }
func (p *Plan) SortOrder() int       { return p.sortOrder }
func (p *Plan) CreatedAt() time.Time { return p.createdAt }
func (p *Plan) UpdatedAt() time.Time { return p.updatedAt }

// Prices returns a copy of the plan's prices keyed by currency.
func (p *Plan) Prices() map[shared.Currency]Pricing {
	out := make(map[shared.Currency]Pricing, len(p.prices))
	for k, v := range p.prices {
		out[k] = v
	}
	return out
}

// Features returns a copy of the plan's feature flags.
func (p *Plan) Features() map[string]bool {
	out := make(map[string]bool, len(p.features))
	for k, v := range p.features {
		out[k] = v
	}
	return out
}

// Limits returns a copy of the plan's resource limits.
func (p *Plan) Limits() map[string]int64 {
	out := make(map[string]int64, len(p.limits))
	for k, v := range p.limits {
		out[k] = v
	}
	return out
}

// FeatureKeys returns the plan's feature keys in sorted order.
func (p *Plan) FeatureKeys() []string {
	keys := make([]string, 0, len(p.features))
	for k := range p.features {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PriceIn returns the pricing for a currency.
func (p *Plan) PriceIn(currency shared.Currency) (Pricing, error) {
	pr, ok := p.prices[currency]
	if !ok {
		return Pricing{}, fmt.Errorf("%w: %s", ErrMissingPrice, currency)
	}
	return pr, nil
}

// BasePrice returns the yearly price plus additional schools for a currency.
func (p *Plan) BasePrice(currency shared.Currency, additionalSchools int) (decimal.Decimal, error) {
	if additionalSchools < 0 {
		return decimal.Zero, fmt.Errorf("%w: additional schools must not be negative", shared.ErrValidation)
	}
	pr, err := p.PriceIn(currency)
	if err != nil {
		return decimal.Zero, err
	}
	extra := pr.PerAdditionalSchool.Mul(decimal.NewFromInt(int64(additionalSchools)))
	return pr.Yearly.Add(extra).Round(2), nil
}

// HasFeature reports whether the plan enables a feature. Unknown keys are disabled.
func (p *Plan) HasFeature(key string) bool {
	return p.features[key]
}

// Limit returns the plan limit for a resource and whether the plan defines one.
func (p *Plan) Limit(resourceKey string) (int64, bool) {
	v, ok := p.limits[resourceKey]
	return v, ok
}

// Reconstruct creates a Plan from stored data.
func Reconstruct(
	id shared.ID,
	slug, name, description string,
	prices map[shared.Currency]Pricing,
	periods Periods,
	maxSchools int64,
	isActive, isDefault bool,
	sortOrder int,
	features map[string]bool,
	limits map[string]int64,
	createdAt, updatedAt time.Time,
) *Plan {
	if prices == nil {
		prices = make(map[shared.Currency]Pricing)
	}
	if features == nil {
		features = make(map[string]bool)
	}
	if limits == nil {
		limits = make(map[string]int64)
	}
	return &Plan{
		id:          id,
		slug:        slug,
		name:        name,
		description: description,
		prices:      prices,
		periods:     periods,
		maxSchools:  maxSchools,
		isActive:    isActive,
		isDefault:   isDefault,
		sortOrder:   sortOrder,
		features:    features,
		limits:      limits,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}
