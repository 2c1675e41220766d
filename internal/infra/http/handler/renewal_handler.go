package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/validator"
)

// RenewalService is the part of app.RenewalService the handler uses.
type RenewalService interface {
	SubmitRenewalRequest(ctx context.Context, actor shared.Actor, input app.SubmitRenewalInput) (*renewal.Request, discount.Quote, error)
	ApproveRenewal(ctx context.Context, actor shared.Actor, input app.ApproveRenewalInput) (*subscription.Subscription, error)
	RejectRenewal(ctx context.Context, actor shared.Actor, renewalID shared.ID, reason string) (*renewal.Request, error)
	GetRenewal(ctx context.Context, id shared.ID) (*renewal.Request, error)
	ListPendingRenewals(ctx context.Context, limit int) ([]*renewal.Request, error)
}

// RenewalHandler handles renewal requests and their approval.
type RenewalHandler struct {
	service   RenewalService
	validator *validator.Validator
}

// NewRenewalHandler creates a new renewal handler.
func NewRenewalHandler(svc RenewalService, v *validator.Validator) *RenewalHandler {
	return &RenewalHandler{service: svc, validator: v}
}

// RenewalResponse represents a renewal request in API responses.
type RenewalResponse struct {
	ID                string     `json:"id"`
	OrganizationID    string     `json:"organization_id"`
	SubscriptionID    string     `json:"subscription_id,omitempty"`
	RequestedPlanID   string     `json:"requested_plan_id"`
	AdditionalSchools int        `json:"additional_schools"`
	DiscountCodeID    string     `json:"discount_code_id,omitempty"`
	PaymentRecordID   string     `json:"payment_record_id,omitempty"`
	Status            string     `json:"status"`
	RequestedAt       time.Time  `json:"requested_at"`
	RequestedBy       string     `json:"requested_by,omitempty"`
	DecidedBy         string     `json:"decided_by,omitempty"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
}

func toRenewalResponse(req *renewal.Request) RenewalResponse {
	return RenewalResponse{
		ID:                req.ID().String(),
		OrganizationID:    req.OrganizationID().String(),
		SubscriptionID:    formatOptionalID(req.SubscriptionID()),
		RequestedPlanID:   req.RequestedPlanID().String(),
		AdditionalSchools: req.AdditionalSchools(),
		DiscountCodeID:    formatOptionalID(req.DiscountCodeID()),
		PaymentRecordID:   formatOptionalID(req.PaymentRecordID()),
		Status:            string(req.Status()),
		RequestedAt:       req.RequestedAt(),
		RequestedBy:       formatOptionalID(req.RequestedBy()),
		DecidedBy:         formatOptionalID(req.DecidedBy()),
		DecidedAt:         req.DecidedAt(),
		RejectionReason:   req.RejectionReason(),
	}
}

// SubmitRenewalRequest represents a tenant's renewal request.
type SubmitRenewalRequest struct {
	PlanID            string `json:"plan_id" validate:"required,uuid"`
	Currency          string `json:"currency" validate:"required,currency"`
	AdditionalSchools int    `json:"additional_schools" validate:"min=0,max=10000"`
	DiscountCode      string `json:"discount_code" validate:"max=64"`
	Method            string `json:"method" validate:"omitempty,payment_method"`
	PaymentRecordID   string `json:"payment_record_id" validate:"omitempty,uuid"`
}

// SubmitRenewalResponse is the created request with the price it was quoted at.
type SubmitRenewalResponse struct {
	Renewal RenewalResponse `json:"renewal"`
	Quote   discount.Quote  `json:"quote"`
}

// ApproveRenewalRequest represents an admin's approval. Payment is required when
// the request has no payment attached.
type ApproveRenewalRequest struct {
	PaymentRecordID string                 `json:"payment_record_id" validate:"omitempty,uuid"`
	Payment         *ApprovalPaymentFields `json:"payment"`
	Note            string                 `json:"note" validate:"max=1000"`
}

// ApprovalPaymentFields describes a payment received outside the request.
type ApprovalPaymentFields struct {
	Amount   string `json:"amount" validate:"required,amount"`
	Currency string `json:"currency" validate:"required,currency"`
	Method   string `json:"method" validate:"omitempty,payment_method"`
}

// Submit handles POST /api/v1/organizations/{orgID}/renewals
func (h *RenewalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	var req SubmitRenewalRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	planID, ok := optionalID(w, "plan_id", req.PlanID)
	if !ok {
		return
	}
	paymentID, ok := optionalID(w, "payment_record_id", req.PaymentRecordID)
	if !ok {
		return
	}
	currency, err := shared.ParseCurrency(req.Currency)
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}

	created, quote, err := h.service.SubmitRenewalRequest(r.Context(), middleware.MustGetActor(r.Context()), app.SubmitRenewalInput{
		OrganizationID:    orgID,
		PlanID:            planID,
		Currency:          currency,
		AdditionalSchools: req.AdditionalSchools,
		DiscountCode:      req.DiscountCode,
		Method:            payment.Method(req.Method),
		PaymentRecordID:   paymentID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitRenewalResponse{Renewal: toRenewalResponse(created), Quote: quote})
}

// Approve handles POST /api/v1/admin/renewals/{id}/approve
func (h *RenewalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req ApproveRenewalRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	paymentID, ok := optionalID(w, "payment_record_id", req.PaymentRecordID)
	if !ok {
		return
	}

	input := app.ApproveRenewalInput{
		RenewalID:       id,
		PaymentRecordID: paymentID,
		Note:            req.Note,
	}
	if req.Payment != nil {
		currency, err := shared.ParseCurrency(req.Payment.Currency)
		if err != nil {
			apierror.BadRequest("Invalid currency").WriteJSON(w)
			return
		}
		method := payment.Method(req.Payment.Method)
		if method == "" {
			method = payment.MethodBankTransfer
		}
		input.Payment = &app.AdminPayment{
			Amount:   parseAmount(req.Payment.Amount),
			Currency: currency,
			Method:   method,
		}
	}

	sub, err := h.service.ApproveRenewal(r.Context(), middleware.MustGetActor(r.Context()), input)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// Reject handles POST /api/v1/admin/renewals/{id}/reject
func (h *RenewalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req RejectRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	rejected, err := h.service.RejectRenewal(r.Context(), middleware.MustGetActor(r.Context()), id, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRenewalResponse(rejected))
}

// Get handles GET /api/v1/admin/renewals/{id}
func (h *RenewalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	req, err := h.service.GetRenewal(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRenewalResponse(req))
}

// ListPending handles GET /api/v1/admin/renewals?limit=
func (h *RenewalHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := parseQueryInt(r.URL.Query().Get("limit"), 100)

	pending, err := h.service.ListPendingRenewals(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	data := make([]RenewalResponse, 0, len(pending))
	for _, req := range pending {
		data = append(data, toRenewalResponse(req))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}
