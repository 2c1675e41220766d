package subscription

import (
	"context"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Repository defines the interface for subscription persistence operations.
type Repository interface {
	// Create persists a new subscription. A second subscription for the same
	// organization fails with shared.ErrConflict.
	Create(ctx context.Context, s *Subscription) error

	// Update persists the mutable fields of a subscription.
	Update(ctx context.Context, s *Subscription) error

	// GetByOrganization retrieves an organization's subscription without locking.
	GetByOrganization(ctx context.Context, orgID shared.ID) (*Subscription, error)

	// GetByOrganizationForUpdate retrieves and row-locks an organization's subscription.
	// It must be called inside a transaction.
	GetByOrganizationForUpdate(ctx context.Context, orgID shared.ID) (*Subscription, error)

	// ListDueForTransition returns organizations whose subscription has a
	// time-driven transition due as of now.
	ListDueForTransition(ctx context.Context, now time.Time, limit int) ([]shared.ID, error)

	// ListOrganizationIDs returns every organization holding a subscription.
	ListOrganizationIDs(ctx context.Context) ([]shared.ID, error)
}

// OrganizationDirectory answers whether an organization exists. Organizations are
// owned by the tenant modules.
type OrganizationDirectory interface {
	Exists(ctx context.Context, orgID shared.ID) (bool, error)
}
