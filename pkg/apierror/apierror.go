// Package apierror defines the JSON error body every endpoint returns.
package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code is the machine-readable error class.
type Code string

const (
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeDiscountRejected  Code = "DISCOUNT_REJECTED"
)

// Error is an API error. Err is logged but never serialized.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Response is the wire form of an Error.
type Response struct {
	Error     string `json:"error"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes the error body. The request ID is taken from the
// X-Request-ID response header set by the request ID middleware.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     http.StatusText(e.Status),
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// New creates an API error.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithReason attaches a domain machine code as details.reason.
func (e *Error) WithReason(reason string) *Error {
	if reason != "" {
		e.Details = map[string]string{"reason": reason}
	}
	return e
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return New(http.StatusForbidden, CodeForbidden, message)
}

// NotFound creates a 404 naming resource, if given.
func NotFound(resource string) *Error {
	message := "Resource not found"
	if resource != "" {
		message = resource + " not found"
	}
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

// ValidationFailed creates a 422 carrying per-field details.
func ValidationFailed(message string, details any) *Error {
	e := New(http.StatusUnprocessableEntity, CodeValidationFailed, message)
	e.Details = details
	return e
}

// InvalidState is a 409 for an operation the current lifecycle state forbids.
func InvalidState(code, message string) *Error {
	return New(http.StatusConflict, CodeInvalidState, message).WithReason(code)
}

// DiscountRejected is a 422 for a discount code that cannot be applied.
func DiscountRejected(code, message string) *Error {
	return New(http.StatusUnprocessableEntity, CodeDiscountRejected, message).WithReason(code)
}

// InternalError hides err behind a generic message.
func InternalError(err error) *Error {
	e := New(http.StatusInternalServerError, CodeInternalError, "An internal error occurred")
	e.Err = err
	return e
}

func InternalServerError(message string) *Error {
	if message == "" {
		message = "An internal error occurred"
	}
	return New(http.StatusInternalServerError, CodeInternalError, message)
}

func RateLimitExceeded() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
}

// ValidationError is one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

func (v ValidationErrors) ToAPIError() *Error {
	return ValidationFailed("Validation failed", v)
}
