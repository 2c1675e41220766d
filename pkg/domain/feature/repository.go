package feature

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// AddonRepository defines the interface for feature addon persistence operations.
type AddonRepository interface {
	// Create persists a new addon. Addons are never updated; a later addon supersedes an earlier one.
	Create(ctx context.Context, a *Addon) error

	// ListByOrganization returns all non-deleted addons of an organization.
	ListByOrganization(ctx context.Context, orgID shared.ID) ([]*Addon, error)
}
