// Package feature models per-organization feature addons and feature resolution.
package feature

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

// ValidateKey checks a feature key's format.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: invalid feature key %q", shared.ErrValidation, key)
	}
	return nil
}

// Addon grants or revokes one feature for one organization independent of its plan.
// A nil expiresAt ties the addon to the subscription: it lapses when the
// subscription stops granting features.
type Addon struct {
	id             shared.ID
	organizationID shared.ID
	featureKey     string
	isEnabled      bool
	startedAt      time.Time
	expiresAt      *time.Time
	pricePaid      decimal.Decimal
	currency       shared.Currency
	createdBy      shared.ID
	createdAt      time.Time
	deletedAt      *time.Time
}

// NewAddon creates an addon starting now.
func NewAddon(orgID shared.ID, key string, enabled bool, price shared.Money, expiresAt *time.Time, createdBy shared.ID, now time.Time) (*Addon, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	now = now.UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", shared.ErrValidation)
	}
	return &Addon{
		id:             shared.NewID(),
		organizationID: orgID,
		featureKey:     key,
		isEnabled:      enabled,
		startedAt:      now,
		expiresAt:      expiresAt,
		pricePaid:      price.Amount,
		currency:       price.Currency,
		createdBy:      createdBy,
		createdAt:      now,
	}, nil
}

// IsActiveAt reports whether the addon counts at the given time.
func (a *Addon) IsActiveAt(at time.Time) bool {
	if a.deletedAt != nil {
		return false
	}
	if at.Before(a.startedAt) {
		return false
	}
	return a.expiresAt == nil || at.Before(*a.expiresAt)
}

// Getters

func (a *Addon) ID() shared.ID              { return a.id }
func (a *Addon) OrganizationID() shared.ID  { return a.organizationID }
func (a *Addon) FeatureKey() string         { return a.featureKey }
func (a *Addon) IsEnabled() bool            { return a.isEnabled }
func (a *Addon) StartedAt() time.Time       { return a.startedAt }
func (a *Addon) ExpiresAt() *time.Time      { return a.expiresAt }
func (a *Addon) PricePaid() decimal.Decimal { return a.pricePaid }
func (a *Addon) Currency() shared.Currency  { return a.currency }
func (a *Addon) CreatedBy() shared.ID       { return a.createdBy }
func (a *Addon) CreatedAt() time.Time       { return a.createdAt }
func (a *Addon) DeletedAt() *time.Time      { return a.deletedAt }

// ReconstructAddon creates an Addon from stored data.
func ReconstructAddon(
	id, organizationID shared.ID,
	featureKey string,
	isEnabled bool,
	startedAt time.Time,
	expiresAt *time.Time,
	pricePaid decimal.Decimal,
	currency shared.Currency,
	createdBy shared.ID,
	createdAt time.Time,
	deletedAt *time.Time,
) *Addon {
	return &Addon{
		id:             id,
		organizationID: organizationID,
		featureKey:     featureKey,
		isEnabled:      isEnabled,
		startedAt:      startedAt,
		expiresAt:      expiresAt,
		pricePaid:      pricePaid,
		currency:       currency,
		createdBy:      createdBy,
		createdAt:      createdAt,
		deletedAt:      deletedAt,
	}
}
