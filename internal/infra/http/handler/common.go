// Package handler implements the HTTP handlers of the entitlement API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/logger"
	"github.com/openctemio/entitlements/pkg/pagination"
	"github.com/openctemio/entitlements/pkg/validator"
)

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes the
// error response itself and reports whether the handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validator, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierror.New(http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large").WriteJSON(w)
			return false
		}
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return false
	}
	if err := v.Validate(dst); err != nil {
		handleValidationError(w, err)
		return false
	}
	return true
}

// handleValidationError converts validation errors to API errors.
func handleValidationError(w http.ResponseWriter, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		apiErrors := make(apierror.ValidationErrors, 0, len(validationErrors))
		for _, ve := range validationErrors {
			apiErrors.Add(ve.Field, ve.Message)
		}
		apiErrors.ToAPIError().WriteJSON(w)
		return
	}
	apierror.BadRequest("Validation error").WriteJSON(w)
}

// handleServiceError maps the domain error kinds to HTTP responses. The domain's
// machine code travels in details.reason.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := shared.ErrorCode(err)
	message := domainMessage(err)

	switch {
	case errors.Is(err, shared.ErrNotFound):
		apierror.New(http.StatusNotFound, apierror.CodeNotFound, message).WithReason(code).WriteJSON(w)
	case errors.Is(err, shared.ErrDiscountRejected):
		apierror.DiscountRejected(code, message).WriteJSON(w)
	case errors.Is(err, shared.ErrInvalidState):
		apierror.InvalidState(code, message).WriteJSON(w)
	case errors.Is(err, shared.ErrValidation):
		apierror.New(http.StatusUnprocessableEntity, apierror.CodeValidationFailed, message).WithReason(code).WriteJSON(w)
	case errors.Is(err, shared.ErrConflict):
		apierror.Conflict(message).WithReason(code).WriteJSON(w)
	case errors.Is(err, shared.ErrUnauthorized):
		apierror.Forbidden(message).WriteJSON(w)
	default:
		logger.FromContext(r.Context()).Error("service error",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		apierror.InternalError(err).WriteJSON(w)
	}
}

// domainMessage is the client-safe message of a domain error, keeping any detail
// the service appended when wrapping it.
func domainMessage(err error) string {
	var de *shared.DomainError
	if !errors.As(err, &de) || de.Message == "" {
		return err.Error()
	}
	full := err.Error()
	if detail, ok := strings.CutPrefix(full, de.Error()+": "); ok && detail != "" {
		return de.Message + ": " + detail
	}
	return de.Message
}

// orgIDParam parses the {orgID} path parameter. RequireOrganizationAccess has
// already validated it on tenant routes.
func orgIDParam(w http.ResponseWriter, r *http.Request) (shared.ID, bool) {
	return idParam(w, r, middleware.OrganizationParam)
}

// idParam parses a path parameter as an id, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (shared.ID, bool) {
	id, err := shared.IDFromString(chi.URLParam(r, name))
	if err != nil {
		apierror.BadRequest("Invalid " + name).WriteJSON(w)
		return shared.ID{}, false
	}
	return id, true
}

// optionalID parses an optional id from a request field.
func optionalID(w http.ResponseWriter, field, raw string) (shared.ID, bool) {
	id, err := shared.ParseOptionalID(raw)
	if err != nil {
		apierror.BadRequest("Invalid " + field).WriteJSON(w)
		return shared.ID{}, false
	}
	return id, true
}

// parseAmount parses a validated decimal string. Empty means zero.
func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parsePagination reads page and per_page.
func parsePagination(r *http.Request) pagination.Pagination {
	q := r.URL.Query()
	return pagination.FromQuery(q.Get("page"), q.Get("per_page"))
}

// parseQueryInt parses a query parameter as an integer.
// Returns defaultVal if the input is empty or invalid.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

// parseQueryTime parses an RFC 3339 query parameter. Empty yields the zero time.
func parseQueryTime(w http.ResponseWriter, name, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		apierror.BadRequest("Invalid " + name + ", expected RFC 3339").WriteJSON(w)
		return time.Time{}, false
	}
	return t.UTC(), true
}

// parseQueryBool parses a query parameter as a boolean. Accepts "true" and "1".
func parseQueryBool(s string) bool {
	return s == "true" || s == "1"
}

// formatOptionalID renders a zero id as "".
func formatOptionalID(id shared.ID) string {
	if id.IsZero() {
		return ""
	}
	return id.String()
}
