// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

// slugRegex validates slugs: lowercase letters, numbers, hyphens
// Must start and end with alphanumeric, no consecutive hyphens
var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate   *validator.Validate
	currencies []shared.Currency
}

// Option configures a Validator.
type Option func(*Validator)

// WithCurrencies restricts the "currency" tag to the given codes. Codes the
// domain does not know are ignored; an empty result keeps every currency.
func WithCurrencies(codes []string) Option {
	return func(v *Validator) {
		var allowed []shared.Currency
		for _, code := range codes {
			if c, err := shared.ParseCurrency(code); err == nil {
				allowed = append(allowed, c)
			}
		}
		if len(allowed) > 0 {
			v.currencies = allowed
		}
	}
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New(opts ...Option) *Validator {
	out := &Validator{currencies: shared.AllCurrencies()}
	for _, opt := range opts {
		opt(out)
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// Report request fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("slug", validateSlug)
	_ = v.RegisterValidation("currency", out.validateCurrency)
	_ = v.RegisterValidation("feature_key", validateFeatureKey)
	_ = v.RegisterValidation("resource_key", validateResourceKey)
	_ = v.RegisterValidation("limit_value", validateLimitValue)
	_ = v.RegisterValidation("subscription_status", validateSubscriptionStatus)
	_ = v.RegisterValidation("payment_method", validatePaymentMethod)
	_ = v.RegisterValidation("amount", validateAmount)

	out.validate = v
	return out
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: v.formatErrorMessage(e),
		})
	}

	return result
}

// validateSlug validates that a string is a valid URL slug.
// Examples: "starter", "school-pro", "tier2"
func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return slugRegex.MatchString(value)
}

func (v *Validator) validateCurrency(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	c, err := shared.ParseCurrency(value)
	return err == nil && slices.Contains(v.currencies, c)
}

func validateFeatureKey(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return feature.ValidateKey(value) == nil
}

func validateResourceKey(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return usage.ValidateResourceKey(value) == nil
}

// validateLimitValue accepts -1 (unlimited) and non-negative integers.
func validateLimitValue(fl validator.FieldLevel) bool {
	return plan.ValidateLimit(fl.Field().Int()) == nil
}

func validateSubscriptionStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := subscription.ParseStatus(value)
	return err == nil
}

func validatePaymentMethod(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return payment.Method(value).IsValid()
}

// validateAmount accepts non-negative decimal strings such as "120.00".
func validateAmount(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	d, err := decimal.NewFromString(value)
	return err == nil && !d.IsNegative()
}

// formatErrorMessage converts validation errors to human-readable messages.
func (v *Validator) formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid":
		return "must be a valid UUID"
	case "slug":
		return "must be a valid slug (lowercase letters, numbers, hyphens only)"
	case "currency":
		return fmt.Sprintf("must be one of: %s", formatCurrencies(v.currencies))
	case "feature_key":
		return "must be a lowercase feature key (letters, digits, '_' and '.')"
	case "resource_key":
		return "must be a lowercase resource key (letters, digits and '_')"
	case "limit_value":
		return "must be -1 (unlimited) or a non-negative number"
	case "subscription_status":
		return "must be one of: trial, active, grace_period, readonly, expired, suspended, cancelled"
	case "payment_method":
		return "must be one of: bank_transfer, card, cash, manual"
	case "amount":
		return "must be a non-negative decimal amount"
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

func formatCurrencies(all []shared.Currency) string {
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}
