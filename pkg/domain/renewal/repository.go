package renewal

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Repository defines the interface for renewal request persistence operations.
type Repository interface {
	// Create persists a new request. A second pending request for the same
	// organization fails with ErrPendingExists.
	Create(ctx context.Context, r *Request) error

	// Update persists decision and payment linkage fields.
	Update(ctx context.Context, r *Request) error

	// GetByID retrieves a request without locking.
	GetByID(ctx context.Context, id shared.ID) (*Request, error)

	// GetByIDForUpdate retrieves and row-locks a request inside a transaction.
	GetByIDForUpdate(ctx context.Context, id shared.ID) (*Request, error)

	// ListPending returns pending requests, oldest first.
	ListPending(ctx context.Context, limit int) ([]*Request, error)
}
