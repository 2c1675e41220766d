package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/validator"
)

// UsageService is the part of app.UsageService the handler uses.
type UsageService interface {
	CheckLimit(ctx context.Context, orgID shared.ID, resourceKey string) (usage.Check, error)
	RecalculateUsage(ctx context.Context, orgID shared.ID) (map[string]int64, error)
	ListUsageSnapshots(ctx context.Context, orgID shared.ID, from, to time.Time) ([]usage.Snapshot, error)
	AddLimitOverride(ctx context.Context, actor shared.Actor, input app.AddLimitOverrideInput) (*usage.Override, error)
}

// UsageHandler handles limit checks, overrides and usage snapshots.
type UsageHandler struct {
	service   UsageService
	validator *validator.Validator
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(svc UsageService, v *validator.Validator) *UsageHandler {
	return &UsageHandler{service: svc, validator: v}
}

// OverrideResponse represents a limit override in API responses.
type OverrideResponse struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ResourceKey    string     `json:"resource_key"`
	LimitValue     int64      `json:"limit_value"`
	Reason         string     `json:"reason,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toOverrideResponse(o *usage.Override) OverrideResponse {
	return OverrideResponse{
		ID:             o.ID().String(),
		OrganizationID: o.OrganizationID().String(),
		ResourceKey:    o.ResourceKey(),
		LimitValue:     o.LimitValue(),
		Reason:         o.Reason(),
		ExpiresAt:      o.ExpiresAt(),
		CreatedBy:      formatOptionalID(o.CreatedBy()),
		CreatedAt:      o.CreatedAt(),
	}
}

// AddOverrideRequest represents the request to override a resource limit.
type AddOverrideRequest struct {
	ResourceKey string     `json:"resource_key" validate:"required,resource_key"`
	LimitValue  int64      `json:"limit_value" validate:"limit_value"`
	Reason      string     `json:"reason" validate:"max=1000"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// CheckLimit handles GET /api/v1/organizations/{orgID}/limits/{resource}
func (h *UsageHandler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	check, err := h.service.CheckLimit(r.Context(), orgID, chi.URLParam(r, "resource"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, check)
}

// AddOverride handles POST /api/v1/admin/organizations/{orgID}/overrides
func (h *UsageHandler) AddOverride(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req AddOverrideRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	override, err := h.service.AddLimitOverride(r.Context(), middleware.MustGetActor(r.Context()), app.AddLimitOverrideInput{
		OrganizationID: orgID,
		ResourceKey:    req.ResourceKey,
		LimitValue:     req.LimitValue,
		Reason:         req.Reason,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOverrideResponse(override))
}

// Recalculate handles POST /api/v1/admin/organizations/{orgID}/usage/recalculate
func (h *UsageHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	counts, err := h.service.RecalculateUsage(r.Context(), orgID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": counts})
}

// Snapshots handles GET /api/v1/admin/organizations/{orgID}/usage/snapshots?from=&to=
// Both bounds default to the last 30 days.
func (h *UsageHandler) Snapshots(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	from, ok := parseQueryTime(w, "from", q.Get("from"))
	if !ok {
		return
	}
	to, ok := parseQueryTime(w, "to", q.Get("to"))
	if !ok {
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if to.Sub(from) > 366*24*time.Hour {
		apierror.BadRequest("Snapshot range is limited to one year").WriteJSON(w)
		return
	}

	snapshots, err := h.service.ListUsageSnapshots(r.Context(), orgID, from, to)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": snapshots})
}
