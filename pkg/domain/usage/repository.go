package usage

import (
	"context"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// OverrideRepository defines the interface for limit override persistence operations.
type OverrideRepository interface {
	// Create persists a new override.
	Create(ctx context.Context, o *Override) error

	// ListByOrganization returns all overrides of an organization, expired ones included.
	ListByOrganization(ctx context.Context, orgID shared.ID) ([]*Override, error)
}

// SnapshotRepository defines the interface for usage snapshot persistence operations.
type SnapshotRepository interface {
	// Save upserts snapshots keyed by (organization, date, resource).
	Save(ctx context.Context, snapshots []Snapshot) error

	// List returns an organization's snapshots with snapshot_date in [from, to].
	List(ctx context.Context, orgID shared.ID, from, to time.Time) ([]Snapshot, error)
}

// Counter counts live rows of one resource for an organization. Counting is owned
// by the tenant modules that own the resource.
type Counter interface {
	Count(ctx context.Context, orgID shared.ID, resourceKey string) (int64, error)

	// ResourceKeys lists every resource this counter can count.
	ResourceKeys() []string
}
