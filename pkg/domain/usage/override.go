// Package usage models resource limits, limit overrides and usage snapshots.
package usage

import (
	"fmt"
	"regexp"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

var resourceKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateResourceKey checks a resource key's format.
func ValidateResourceKey(key string) error {
	if !resourceKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: invalid resource key %q", shared.ErrValidation, key)
	}
	return nil
}

// Override replaces a plan's limit for one organization and resource while active.
type Override struct {
	id             shared.ID
	organizationID shared.ID
	resourceKey    string
	limitValue     int64
	reason         string
	expiresAt      *time.Time
	createdBy      shared.ID
	createdAt      time.Time
}

// NewOverride creates a limit override. A nil expiresAt makes it permanent.
func NewOverride(orgID shared.ID, resourceKey string, limitValue int64, reason string, expiresAt *time.Time, createdBy shared.ID, now time.Time) (*Override, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	if err := ValidateResourceKey(resourceKey); err != nil {
		return nil, err
	}
	if err := plan.ValidateLimit(limitValue); err != nil {
		return nil, err
	}
	now = now.UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", shared.ErrValidation)
	}
	return &Override{
		id:             shared.NewID(),
		organizationID: orgID,
		resourceKey:    resourceKey,
		limitValue:     limitValue,
		reason:         reason,
		expiresAt:      expiresAt,
		createdBy:      createdBy,
		createdAt:      now,
	}, nil
}

// IsActiveAt reports whether the override applies at the given time.
func (o *Override) IsActiveAt(at time.Time) bool {
	return o.expiresAt == nil || at.Before(*o.expiresAt)
}

// Getters

func (o *Override) ID() shared.ID             { return o.id }
func (o *Override) OrganizationID() shared.ID { return o.organizationID }
func (o *Override) ResourceKey() string       { return o.resourceKey }
func (o *Override) LimitValue() int64         { return o.limitValue }
func (o *Override) Reason() string            { return o.reason }
func (o *Override) ExpiresAt() *time.Time     { return o.expiresAt }
func (o *Override) CreatedBy() shared.ID      { return o.createdBy }
func (o *Override) CreatedAt() time.Time      { return o.createdAt }

// ReconstructOverride creates an Override from stored data.
func ReconstructOverride(
	id, organizationID shared.ID,
	resourceKey string,
	limitValue int64,
	reason string,
	expiresAt *time.Time,
	createdBy shared.ID,
	createdAt time.Time,
) *Override {
	return &Override{
		id:             id,
		organizationID: organizationID,
		resourceKey:    resourceKey,
		limitValue:     limitValue,
		reason:         reason,
		expiresAt:      expiresAt,
		createdBy:      createdBy,
		createdAt:      createdAt,
	}
}
