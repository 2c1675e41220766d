package plan

import "github.com/openctemio/entitlements/pkg/domain/shared"

// Domain errors.
var (
	ErrPlanNotFound   = shared.NewDomainError("PLAN_NOT_FOUND", "plan not found", shared.ErrNotFound)
	ErrPlanSlugExists = shared.NewDomainError("PLAN_SLUG_EXISTS", "plan slug already exists", shared.ErrConflict)
	ErrInvalidPlan    = shared.NewDomainError("INVALID_PLAN", "plan is not active", shared.ErrInvalidState)
	ErrNoDefaultPlan  = shared.NewDomainError("NO_DEFAULT_PLAN", "no default plan configured", shared.ErrNotFound)
	ErrInvalidSlug    = shared.NewDomainError("INVALID_SLUG", "slug must be lowercase alphanumeric with dashes", shared.ErrValidation)
	ErrInvalidLimit   = shared.NewDomainError("INVALID_LIMIT", "limit must be -1 (unlimited) or non-negative", shared.ErrValidation)
	ErrInvalidPeriod  = shared.NewDomainError("INVALID_PERIOD", "period days must not be negative", shared.ErrValidation)
	ErrMissingPrice   = shared.NewDomainError("MISSING_PRICE", "plan has no price in currency", shared.ErrValidation)
)
