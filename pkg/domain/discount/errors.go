package discount

import "github.com/openctemio/entitlements/pkg/domain/shared"

// Domain errors. All rejections of a code wrap shared.ErrDiscountRejected.
var (
	ErrCodeNotFound       = shared.NewDomainError("CODE_NOT_FOUND", "discount code not found or inactive", shared.ErrDiscountRejected)
	ErrCodeExpired        = shared.NewDomainError("CODE_EXPIRED", "discount code is not valid at this time", shared.ErrDiscountRejected)
	ErrPlanMismatch       = shared.NewDomainError("PLAN_MISMATCH", "discount code does not apply to this plan", shared.ErrDiscountRejected)
	ErrCurrencyMismatch   = shared.NewDomainError("CURRENCY_MISMATCH", "discount code does not apply to this currency", shared.ErrDiscountRejected)
	ErrUsageExceeded      = shared.NewDomainError("USAGE_EXCEEDED", "discount code usage limit reached", shared.ErrDiscountRejected)
	ErrDiscountCodeExists = shared.NewDomainError("CODE_EXISTS", "discount code already exists", shared.ErrConflict)
	ErrInvalidDiscount    = shared.NewDomainError("INVALID_DISCOUNT", "invalid discount definition", shared.ErrValidation)
)
