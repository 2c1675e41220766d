package payment

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/pagination"
)

// Repository defines the interface for payment persistence operations.
type Repository interface {
	// Create persists a new payment record.
	Create(ctx context.Context, r *Record) error

	// Update persists status, decision and linkage fields.
	Update(ctx context.Context, r *Record) error

	// GetByID retrieves a payment record.
	GetByID(ctx context.Context, id shared.ID) (*Record, error)

	// GetByIDForUpdate retrieves and row-locks a payment record inside a transaction.
	GetByIDForUpdate(ctx context.Context, id shared.ID) (*Record, error)

	// ListByOrganization returns an organization's payments, newest first.
	ListByOrganization(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*Record], error)
}
