package usage

import "github.com/openctemio/entitlements/pkg/domain/shared"

// Domain errors.
var (
	ErrUnknownResource = shared.NewDomainError("UNKNOWN_RESOURCE", "resource cannot be counted", shared.ErrValidation)
)
