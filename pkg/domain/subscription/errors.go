package subscription

import "github.com/openctemio/entitlements/pkg/domain/shared"

// Domain errors.
var (
	ErrSubscriptionNotFound   = shared.NewDomainError("SUBSCRIPTION_NOT_FOUND", "subscription not found", shared.ErrNotFound)
	ErrOrganizationNotFound   = shared.NewDomainError("ORGANIZATION_NOT_FOUND", "organization not found", shared.ErrNotFound)
	ErrSubscriptionExists     = shared.NewDomainError("SUBSCRIPTION_EXISTS", "organization already has a subscription", shared.ErrInvalidState)
	ErrAlreadyTerminal        = shared.NewDomainError("ALREADY_TERMINAL", "subscription is cancelled", shared.ErrInvalidState)
	ErrInvalidTransition      = shared.NewDomainError("INVALID_TRANSITION", "status transition not allowed", shared.ErrInvalidState)
	ErrNotAdministrative      = shared.NewDomainError("NOT_SUSPENDED", "subscription is neither suspended nor cancelled", shared.ErrInvalidState)
	ErrInvalidAdditionalCount = shared.NewDomainError("INVALID_ADDITIONAL_SCHOOLS", "additional schools must not be negative", shared.ErrValidation)
	ErrInconsistentTimestamps = shared.NewDomainError("INCONSISTENT_TIMESTAMPS", "subscription timestamps are inconsistent", shared.ErrInvalidState)
)
