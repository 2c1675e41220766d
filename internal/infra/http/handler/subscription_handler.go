package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/pagination"
	"github.com/openctemio/entitlements/pkg/validator"
)

// SubscriptionService is the part of app.SubscriptionService the handler uses.
type SubscriptionService interface {
	GetSubscription(ctx context.Context, orgID shared.ID) (*subscription.Subscription, error)
	GetSubscriptionStatus(ctx context.Context, orgID shared.ID) (subscription.StatusView, error)
	StartTrial(ctx context.Context, actor shared.Actor, orgID, planID shared.ID) (*subscription.Subscription, error)
	ActivateSubscription(ctx context.Context, actor shared.Actor, input app.ActivateSubscriptionInput) (*subscription.Subscription, error)
	SuspendSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, reason string) (*subscription.Subscription, error)
	CancelSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, reason string) (*subscription.Subscription, error)
	ReactivateSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, note string) (*subscription.Subscription, error)
	ListHistory(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*history.Entry], error)
}

// SubscriptionHandler handles subscription lifecycle requests.
type SubscriptionHandler struct {
	service   SubscriptionService
	validator *validator.Validator
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(svc SubscriptionService, v *validator.Validator) *SubscriptionHandler {
	return &SubscriptionHandler{service: svc, validator: v}
}

// SubscriptionResponse represents a subscription in API responses.
type SubscriptionResponse struct {
	ID                string     `json:"id"`
	OrganizationID    string     `json:"organization_id"`
	PlanID            string     `json:"plan_id"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`
	ReadonlyEndsAt    *time.Time `json:"readonly_ends_at,omitempty"`
	AdditionalSchools int        `json:"additional_schools"`
	SuspendedReason   string     `json:"suspended_reason,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toSubscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                s.ID().String(),
		OrganizationID:    s.OrganizationID().String(),
		PlanID:            s.PlanID().String(),
		Status:            string(s.Status()),
		StartedAt:         s.StartedAt(),
		TrialEndsAt:       s.TrialEndsAt(),
		ExpiresAt:         s.ExpiresAt(),
		GracePeriodEndsAt: s.GraceEndsAt(),
		ReadonlyEndsAt:    s.ReadonlyEndsAt(),
		AdditionalSchools: s.AdditionalSchools(),
		SuspendedReason:   s.SuspendedReason(),
		CancelledAt:       s.CancelledAt(),
		CreatedAt:         s.CreatedAt(),
		UpdatedAt:         s.UpdatedAt(),
	}
}

// StartTrialRequest represents the request to start a trial.
type StartTrialRequest struct {
	PlanID string `json:"plan_id" validate:"omitempty,uuid"`
}

// ActivateRequest represents the request to activate a subscription after payment.
type ActivateRequest struct {
	PlanID            string `json:"plan_id" validate:"required,uuid"`
	Currency          string `json:"currency" validate:"required,currency"`
	AmountPaid        string `json:"amount_paid" validate:"required,amount"`
	AdditionalSchools int    `json:"additional_schools" validate:"min=0,max=10000"`
	Method            string `json:"method" validate:"omitempty,payment_method"`
	Notes             string `json:"notes" validate:"max=1000"`
}

// ReasonRequest carries the free-text reason of suspend, cancel and reactivate.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// GetStatus handles GET /api/v1/organizations/{orgID}/subscription
func (h *SubscriptionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetSubscriptionStatus(r.Context(), orgID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Get handles GET /api/v1/admin/organizations/{orgID}/subscription
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), orgID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// StartTrial handles POST /api/v1/admin/organizations/{orgID}/subscription/trial
func (h *SubscriptionHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req StartTrialRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	planID, ok := optionalID(w, "plan_id", req.PlanID)
	if !ok {
		return
	}

	sub, err := h.service.StartTrial(r.Context(), middleware.MustGetActor(r.Context()), orgID, planID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// Activate handles POST /api/v1/admin/organizations/{orgID}/subscription/activate
func (h *SubscriptionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req ActivateRequest
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

	sub, err := h.service.ActivateSubscription(r.Context(), middleware.MustGetActor(r.Context()), app.ActivateSubscriptionInput{
		OrganizationID:    orgID,
		PlanID:            planID,
		Currency:          currency,
		AmountPaid:        parseAmount(req.AmountPaid),
		AdditionalSchools: req.AdditionalSchools,
		Method:            payment.Method(req.Method),
		Notes:             req.Notes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// Suspend handles POST /api/v1/admin/organizations/{orgID}/subscription/suspend
func (h *SubscriptionHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.SuspendSubscription)
}

// Cancel handles POST /api/v1/admin/organizations/{orgID}/subscription/cancel
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.CancelSubscription)
}

// Reactivate handles POST /api/v1/admin/organizations/{orgID}/subscription/reactivate
func (h *SubscriptionHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.service.ReactivateSubscription)
}

func (h *SubscriptionHandler) withReason(
	w http.ResponseWriter,
	r *http.Request,
	fn func(context.Context, shared.Actor, shared.ID, string) (*subscription.Subscription, error),
) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req ReasonRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	sub, err := fn(r.Context(), middleware.MustGetActor(r.Context()), orgID, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// History handles GET /api/v1/admin/organizations/{orgID}/history
func (h *SubscriptionHandler) History(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListHistory(r.Context(), orgID, parsePagination(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
