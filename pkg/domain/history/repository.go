package history

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/pagination"
)

// Repository defines the interface for history persistence. There is no update or delete.
type Repository interface {
	// Append stores an entry.
	Append(ctx context.Context, e *Entry) error

	// ListByOrganization returns an organization's entries, newest first.
	ListByOrganization(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*Entry], error)
}
