package plan

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Repository defines the interface for plan persistence operations.
type Repository interface {
	// Create persists a new plan with its features and limits.
	Create(ctx context.Context, p *Plan) error

	// Update replaces a plan's fields, features and limits.
	Update(ctx context.Context, p *Plan) error

	// GetByID retrieves a plan by its ID, including inactive plans.
	GetByID(ctx context.Context, id shared.ID) (*Plan, error)

	// GetBySlug retrieves a plan by its slug.
	GetBySlug(ctx context.Context, slug string) (*Plan, error)

	// GetDefault retrieves the active default plan.
	GetDefault(ctx context.Context) (*Plan, error)

	// List returns plans ordered by sort order.
	List(ctx context.Context, activeOnly bool) ([]*Plan, error)

	// SetDefault makes the given plan the only default plan.
	SetDefault(ctx context.Context, id shared.ID) error
}
