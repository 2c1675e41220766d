package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/validator"
)

// DiscountService is the part of app.DiscountService the handler uses.
type DiscountService interface {
	ValidateAndPrice(ctx context.Context, code string, planID, orgID shared.ID, currency shared.Currency) (discount.Quote, error)
	QuoteRenewal(ctx context.Context, input app.QuoteInput) (discount.Quote, error)
	CreateCode(ctx context.Context, actor shared.Actor, def discount.Definition) (*discount.Code, error)
	DeactivateCode(ctx context.Context, actor shared.Actor, id shared.ID) error
	ListCodes(ctx context.Context, activeOnly bool) ([]*discount.Code, error)
}

// DiscountHandler handles discount codes and price quotes.
type DiscountHandler struct {
	service   DiscountService
	validator *validator.Validator
}

// NewDiscountHandler creates a new discount handler.
func NewDiscountHandler(svc DiscountService, v *validator.Validator) *DiscountHandler {
	return &DiscountHandler{service: svc, validator: v}
}

// DiscountCodeResponse represents a discount code in API responses.
type DiscountCodeResponse struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Type              string     `json:"type"`
	Value             string     `json:"value"`
	MaxDiscountAmount *string    `json:"max_discount_amount,omitempty"`
	Currency          string     `json:"currency,omitempty"`
	ApplicablePlanID  string     `json:"applicable_plan_id,omitempty"`
	MaxUses           *int       `json:"max_uses,omitempty"`
	MaxUsesPerOrg     int        `json:"max_uses_per_org"`
	UsedCount         int        `json:"used_count"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toDiscountCodeResponse(c *discount.Code) DiscountCodeResponse {
	resp := DiscountCodeResponse{
		ID:               c.ID().String(),
		Code:             c.Code(),
		Type:             string(c.Type()),
		Value:            c.Value().String(),
		Currency:         string(c.Currency()),
		ApplicablePlanID: formatOptionalID(c.ApplicablePlanID()),
		MaxUses:          c.MaxUses(),
		MaxUsesPerOrg:    c.MaxUsesPerOrg(),
		UsedCount:        c.UsedCount(),
		ValidFrom:        c.ValidFrom(),
		ValidUntil:       c.ValidUntil(),
		IsActive:         c.IsActive(),
		CreatedAt:        c.CreatedAt(),
	}
	if maxAmount := c.MaxDiscountAmount(); maxAmount != nil {
		s := maxAmount.StringFixed(2)
		resp.MaxDiscountAmount = &s
	}
	return resp
}

// CreateDiscountRequest represents the request to create a discount code.
type CreateDiscountRequest struct {
	Code              string     `json:"code" validate:"required,min=3,max=64"`
	Type              string     `json:"type" validate:"required,oneof=percentage fixed"`
	Value             string     `json:"value" validate:"required,amount"`
	MaxDiscountAmount string     `json:"max_discount_amount" validate:"omitempty,amount"`
	Currency          string     `json:"currency" validate:"omitempty,currency"`
	ApplicablePlanID  string     `json:"applicable_plan_id" validate:"omitempty,uuid"`
	MaxUses           *int       `json:"max_uses" validate:"omitempty,min=1"`
	MaxUsesPerOrg     int        `json:"max_uses_per_org" validate:"min=0"`
	ValidFrom         *time.Time `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until"`
}

// QuoteRequest asks for the price of a renewal without submitting it.
type QuoteRequest struct {
	PlanID            string `json:"plan_id" validate:"required,uuid"`
	Currency          string `json:"currency" validate:"required,currency"`
	AdditionalSchools int    `json:"additional_schools" validate:"min=0,max=10000"`
	DiscountCode      string `json:"discount_code" validate:"max=64"`
}

// Price handles GET /api/v1/organizations/{orgID}/discounts/{code}/price?plan_id=&currency=
func (h *DiscountHandler) Price(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	planID, err := shared.IDFromString(q.Get("plan_id"))
	if err != nil {
		apierror.BadRequest("Invalid plan_id").WriteJSON(w)
		return
	}
	currency, err := shared.ParseCurrency(q.Get("currency"))
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}

	quote, err := h.service.ValidateAndPrice(r.Context(), chi.URLParam(r, "code"), planID, orgID, currency)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// Quote handles POST /api/v1/organizations/{orgID}/renewals/quote
func (h *DiscountHandler) Quote(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req QuoteRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	planID, ok := optionalID(w, "plan_id", req.PlanID)
	if !ok {
		return
	}
	currency, err := shared.ParseCurrency(req.Currency)
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}

	quote, err := h.service.QuoteRenewal(r.Context(), app.QuoteInput{
		OrganizationID:    orgID,
		PlanID:            planID,
		Currency:          currency,
		AdditionalSchools: req.AdditionalSchools,
		Code:              req.DiscountCode,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// Create handles POST /api/v1/admin/discounts
func (h *DiscountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDiscountRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	planID, ok := optionalID(w, "applicable_plan_id", req.ApplicablePlanID)
	if !ok {
		return
	}

	def := discount.Definition{
		Code:             req.Code,
		Type:             discount.Type(req.Type),
		Value:            parseAmount(req.Value),
		Currency:         shared.Currency(req.Currency),
		ApplicablePlanID: planID,
		MaxUses:          req.MaxUses,
		MaxUsesPerOrg:    req.MaxUsesPerOrg,
		ValidUntil:       req.ValidUntil,
	}
	if req.MaxDiscountAmount != "" {
		maxAmount := parseAmount(req.MaxDiscountAmount)
		def.MaxDiscountAmount = &maxAmount
	}
	if req.ValidFrom != nil {
		def.ValidFrom = *req.ValidFrom
	}

	code, err := h.service.CreateCode(r.Context(), middleware.MustGetActor(r.Context()), def)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDiscountCodeResponse(code))
}

// Deactivate handles DELETE /api/v1/admin/discounts/{id}
func (h *DiscountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeactivateCode(r.Context(), middleware.MustGetActor(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/admin/discounts?active_only=
func (h *DiscountHandler) List(w http.ResponseWriter, r *http.Request) {
	codes, err := h.service.ListCodes(r.Context(), parseQueryBool(r.URL.Query().Get("active_only")))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	data := make([]DiscountCodeResponse, 0, len(codes))
	for _, c := range codes {
		data = append(data, toDiscountCodeResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}
