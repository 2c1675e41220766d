package discount

import (
	"context"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Use records that an organization consumed a code through an approved renewal.
type Use struct {
	ID             shared.ID
	CodeID         shared.ID
	OrganizationID shared.ID
	RenewalID      shared.ID
	UsedAt         time.Time
}

// Repository defines the interface for discount code persistence operations.
type Repository interface {
	// Create persists a new code.
	Create(ctx context.Context, c *Code) error

	// GetByID retrieves a code by its ID.
	GetByID(ctx context.Context, id shared.ID) (*Code, error)

	// GetByCode retrieves a code by its normalized code.
	GetByCode(ctx context.Context, code string) (*Code, error)

	// List returns codes, newest first.
	List(ctx context.Context, activeOnly bool) ([]*Code, error)

	// SetActive flips the active flag.
	SetActive(ctx context.Context, id shared.ID, active bool) error

	// CountUses returns how many times an organization used a code.
	CountUses(ctx context.Context, codeID, orgID shared.ID) (int, error)

	// RecordUse stores a use and increments the global counter, failing with
	// ErrUsageExceeded when the global limit was reached concurrently.
	RecordUse(ctx context.Context, use Use) error
}
