package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/validator"
)

// PlanService is the part of app.PlanService the handler uses.
type PlanService interface {
	CreatePlan(ctx context.Context, actor shared.Actor, input app.PlanInput) (*plan.Plan, error)
	UpdatePlan(ctx context.Context, actor shared.Actor, id shared.ID, input app.PlanInput) (*plan.Plan, error)
	DeactivatePlan(ctx context.Context, actor shared.Actor, id shared.ID) (*plan.Plan, error)
	SetDefaultPlan(ctx context.Context, actor shared.Actor, id shared.ID) error
	GetPlan(ctx context.Context, id shared.ID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*plan.Plan, error)
}

// PlanHandler handles the plan catalog.
type PlanHandler struct {
	service   PlanService
	validator *validator.Validator
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(svc PlanService, v *validator.Validator) *PlanHandler {
	return &PlanHandler{service: svc, validator: v}
}

// PricingPayload is the per-currency price of a plan.
type PricingPayload struct {
	Yearly              string `json:"yearly" validate:"required,amount"`
	PerAdditionalSchool string `json:"per_additional_school" validate:"omitempty,amount"`
}

// PlanResponse represents a plan in API responses.
type PlanResponse struct {
	ID          string                    `json:"id"`
	Slug        string                    `json:"slug"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Prices      map[string]PricingPayload `json:"prices"`
	Periods     plan.Periods              `json:"periods"`
	MaxSchools  int64                     `json:"max_schools"`
	Features    map[string]bool           `json:"features"`
	Limits      map[string]int64          `json:"limits"`
	IsActive    bool                      `json:"is_active"`
	IsDefault   bool                      `json:"is_default"`
	SortOrder   int                       `json:"sort_order"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

func toPlanResponse(p *plan.Plan) PlanResponse {
	prices := make(map[string]PricingPayload, len(p.Prices()))
	for currency, pricing := range p.Prices() {
		prices[string(currency)] = PricingPayload{
			Yearly:              pricing.Yearly.StringFixed(2),
			PerAdditionalSchool: pricing.PerAdditionalSchool.StringFixed(2),
		}
	}
	return PlanResponse{
		ID:          p.ID().String(),
		Slug:        p.Slug(),
		Name:        p.Name(),
		Description: p.Description(),
		Prices:      prices,
		Periods:     p.Periods(),
		MaxSchools:  p.MaxSchools(),
		Features:    p.Features(),
		Limits:      p.Limits(),
		IsActive:    p.IsActive(),
		IsDefault:   p.IsDefault(),
		SortOrder:   p.SortOrder(),
		CreatedAt:   p.CreatedAt(),
		UpdatedAt:   p.UpdatedAt(),
	}
}

// PlanRequest represents the request to create or replace a plan. The slug is
// ignored on update.
type PlanRequest struct {
	Slug         string                    `json:"slug" validate:"omitempty,slug,max=64"`
	Name         string                    `json:"name" validate:"required,max=255"`
	Description  string                    `json:"description" validate:"max=2000"`
	Prices       map[string]PricingPayload `json:"prices" validate:"required,min=1,dive,keys,currency,endkeys"`
	TrialDays    int                       `json:"trial_days" validate:"min=0,max=365"`
	GraceDays    int                       `json:"grace_period_days" validate:"min=0,max=365"`
	ReadonlyDays int                       `json:"readonly_period_days" validate:"min=0,max=365"`
	MaxSchools   int64                     `json:"max_schools" validate:"limit_value"`
	Features     map[string]bool           `json:"features" validate:"dive,keys,feature_key,endkeys"`
	Limits       map[string]int64          `json:"limits" validate:"dive,keys,resource_key,endkeys,limit_value"`
	SortOrder    int                       `json:"sort_order"`
	IsDefault    bool                      `json:"is_default"`
}

func (req PlanRequest) toInput() (app.PlanInput, error) {
	prices := make(map[shared.Currency]plan.Pricing, len(req.Prices))
	for code, p := range req.Prices {
		currency, err := shared.ParseCurrency(code)
		if err != nil {
			return app.PlanInput{}, err
		}
		prices[currency] = plan.Pricing{
			Yearly:              parseAmount(p.Yearly),
			PerAdditionalSchool: parseAmount(p.PerAdditionalSchool),
		}
	}
	return app.PlanInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Prices:      prices,
		Periods: plan.Periods{
			TrialDays:    req.TrialDays,
			GraceDays:    req.GraceDays,
			ReadonlyDays: req.ReadonlyDays,
		},
		MaxSchools: req.MaxSchools,
		Features:   req.Features,
		Limits:     req.Limits,
		SortOrder:  req.SortOrder,
		IsDefault:  req.IsDefault,
	}, nil
}

// List handles GET /api/v1/plans and GET /api/v1/admin/plans?active_only=
// The public catalog only ever lists active plans.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if _, ok := middleware.GetActor(r.Context()); ok {
		activeOnly = parseQueryBool(r.URL.Query().Get("active_only"))
	}

	plans, err := h.service.ListPlans(r.Context(), activeOnly)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	data := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		data = append(data, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// Get handles GET /api/v1/admin/plans/{id}
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.GetPlan(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanResponse(p))
}

// GetBySlug handles GET /api/v1/plans/{slug}
func (h *PlanHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPlanBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !p.IsActive() {
		apierror.NotFound("Plan").WriteJSON(w)
		return
	}

	writeJSON(w, http.StatusOK, toPlanResponse(p))
}

// Create handles POST /api/v1/admin/plans
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	if req.Slug == "" {
		var errs apierror.ValidationErrors
		errs.Add("slug", "is required")
		errs.ToAPIError().WriteJSON(w)
		return
	}
	input, err := req.toInput()
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}

	p, err := h.service.CreatePlan(r.Context(), middleware.MustGetActor(r.Context()), input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPlanResponse(p))
}

// Update handles PUT /api/v1/admin/plans/{id}
func (h *PlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req PlanRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	input, err := req.toInput()
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}

	p, err := h.service.UpdatePlan(r.Context(), middleware.MustGetActor(r.Context()), id, input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanResponse(p))
}

// Deactivate handles DELETE /api/v1/admin/plans/{id}
func (h *PlanHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.service.DeactivatePlan(r.Context(), middleware.MustGetActor(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanResponse(p))
}

// SetDefault handles POST /api/v1/admin/plans/{id}/default
func (h *PlanHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.SetDefaultPlan(r.Context(), middleware.MustGetActor(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
