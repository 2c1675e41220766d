package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/validator"
)

// FeatureService is the part of app.FeatureGateService the handler uses.
type FeatureService interface {
	IsFeatureEnabled(ctx context.Context, orgID shared.ID, featureKey string, asOf time.Time) (bool, error)
	GetAllFeaturesStatus(ctx context.Context, orgID shared.ID) (map[string]bool, error)
	AddFeatureAddon(ctx context.Context, actor shared.Actor, input app.AddFeatureAddonInput) (*feature.Addon, error)
	ToggleFeature(ctx context.Context, actor shared.Actor, orgID shared.ID, featureKey string) (*feature.Addon, error)
}

// FeatureHandler handles feature gate requests.
type FeatureHandler struct {
	service   FeatureService
	validator *validator.Validator
}

// NewFeatureHandler creates a new feature handler.
func NewFeatureHandler(svc FeatureService, v *validator.Validator) *FeatureHandler {
	return &FeatureHandler{service: svc, validator: v}
}

// FeatureStatusResponse is the answer to a single feature check.
type FeatureStatusResponse struct {
	FeatureKey string     `json:"feature_key"`
	Enabled    bool       `json:"enabled"`
	AsOf       *time.Time `json:"as_of,omitempty"`
}

// AddonResponse represents a feature addon in API responses.
type AddonResponse struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	FeatureKey     string     `json:"feature_key"`
	IsEnabled      bool       `json:"is_enabled"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	PricePaid      string     `json:"price_paid"`
	Currency       string     `json:"currency"`
	CreatedBy      string     `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toAddonResponse(a *feature.Addon) AddonResponse {
	return AddonResponse{
		ID:             a.ID().String(),
		OrganizationID: a.OrganizationID().String(),
		FeatureKey:     a.FeatureKey(),
		IsEnabled:      a.IsEnabled(),
		StartedAt:      a.StartedAt(),
		ExpiresAt:      a.ExpiresAt(),
		PricePaid:      a.PricePaid().StringFixed(2),
		Currency:       string(a.Currency()),
		CreatedBy:      formatOptionalID(a.CreatedBy()),
		CreatedAt:      a.CreatedAt(),
	}
}

// AddAddonRequest represents the request to grant a feature addon.
type AddAddonRequest struct {
	FeatureKey string     `json:"feature_key" validate:"required,feature_key"`
	PricePaid  string     `json:"price_paid" validate:"omitempty,amount"`
	Currency   string     `json:"currency" validate:"omitempty,currency"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Note       string     `json:"note" validate:"max=1000"`
}

// List handles GET /api/v1/organizations/{orgID}/features
func (h *FeatureHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	features, err := h.service.GetAllFeaturesStatus(r.Context(), orgID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

// Check handles GET /api/v1/organizations/{orgID}/features/{key}?as_of=
func (h *FeatureHandler) Check(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	asOf, ok := parseQueryTime(w, "as_of", r.URL.Query().Get("as_of"))
	if !ok {
		return
	}

	enabled, err := h.service.IsFeatureEnabled(r.Context(), orgID, key, asOf)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := FeatureStatusResponse{FeatureKey: key, Enabled: enabled}
	if !asOf.IsZero() {
		resp.AsOf = &asOf
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddAddon handles POST /api/v1/admin/organizations/{orgID}/addons
func (h *FeatureHandler) AddAddon(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req AddAddonRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	currency := shared.CurrencyUSD
	if req.Currency != "" {
		var err error
		if currency, err = shared.ParseCurrency(req.Currency); err != nil {
			apierror.BadRequest("Invalid currency").WriteJSON(w)
			return
		}
	}

	addon, err := h.service.AddFeatureAddon(r.Context(), middleware.MustGetActor(r.Context()), app.AddFeatureAddonInput{
		OrganizationID: orgID,
		FeatureKey:     req.FeatureKey,
		PricePaid:      parseAmount(req.PricePaid),
		Currency:       currency,
		ExpiresAt:      req.ExpiresAt,
		Note:           req.Note,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAddonResponse(addon))
}

// Toggle handles POST /api/v1/admin/organizations/{orgID}/features/{key}/toggle
func (h *FeatureHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	addon, err := h.service.ToggleFeature(r.Context(), middleware.MustGetActor(r.Context()), orgID, chi.URLParam(r, "key"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAddonResponse(addon))
}
