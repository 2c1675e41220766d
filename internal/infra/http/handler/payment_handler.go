package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/internal/infra/http/middleware"
	"github.com/openctemio/entitlements/pkg/apierror"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/pagination"
	"github.com/openctemio/entitlements/pkg/validator"
)

// PaymentService is the part of app.PaymentService the handler uses.
type PaymentService interface {
	RecordPayment(ctx context.Context, actor shared.Actor, input app.RecordPaymentInput) (*payment.Record, error)
	ConfirmPayment(ctx context.Context, actor shared.Actor, paymentID shared.ID) (*payment.Record, error)
	RejectPayment(ctx context.Context, actor shared.Actor, paymentID shared.ID, reason string) (*payment.Record, error)
	GetPayment(ctx context.Context, id shared.ID) (*payment.Record, error)
	ListPayments(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*payment.Record], error)
}

// PaymentHandler handles manual payment records.
type PaymentHandler struct {
	service   PaymentService
	validator *validator.Validator
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(svc PaymentService, v *validator.Validator) *PaymentHandler {
	return &PaymentHandler{service: svc, validator: v}
}

// PaymentResponse represents a payment record in API responses.
type PaymentResponse struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	DiscountCodeID  string     `json:"discount_code_id,omitempty"`
	DiscountAmount  string     `json:"discount_amount"`
	Status          string     `json:"status"`
	Method          string     `json:"method"`
	PeriodStart     *time.Time `json:"period_start,omitempty"`
	PeriodEnd       *time.Time `json:"period_end,omitempty"`
	ConfirmedBy     string     `json:"confirmed_by,omitempty"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toPaymentResponse(p *payment.Record) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID().String(),
		OrganizationID:  p.OrganizationID().String(),
		SubscriptionID:  formatOptionalID(p.SubscriptionID()),
		Amount:          p.Amount().StringFixed(2),
		Currency:        string(p.Currency()),
		DiscountCodeID:  formatOptionalID(p.DiscountCodeID()),
		DiscountAmount:  p.DiscountAmount().StringFixed(2),
		Status:          string(p.Status()),
		Method:          string(p.Method()),
		PeriodStart:     p.PeriodStart(),
		PeriodEnd:       p.PeriodEnd(),
		ConfirmedBy:     formatOptionalID(p.ConfirmedBy()),
		ConfirmedAt:     p.ConfirmedAt(),
		RejectionReason: p.RejectionReason(),
		CreatedAt:       p.CreatedAt(),
		UpdatedAt:       p.UpdatedAt(),
	}
}

// RecordPaymentRequest represents the request to record a manual payment.
type RecordPaymentRequest struct {
	OrganizationID string     `json:"organization_id" validate:"required,uuid"`
	Amount         string     `json:"amount" validate:"required,amount"`
	Currency       string     `json:"currency" validate:"required,currency"`
	Method         string     `json:"method" validate:"omitempty,payment_method"`
	PeriodStart    *time.Time `json:"period_start"`
	PeriodEnd      *time.Time `json:"period_end"`
	Note           string     `json:"note" validate:"max=1000"`
}

// RejectRequest carries a mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// Record handles POST /api/v1/admin/payments
func (h *PaymentHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordPaymentRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	orgID, ok := optionalID(w, "organization_id", req.OrganizationID)
	if !ok {
		return
	}
	currency, err := shared.ParseCurrency(req.Currency)
	if err != nil {
		apierror.BadRequest("Invalid currency").WriteJSON(w)
		return
	}
	method := payment.Method(req.Method)
	if method == "" {
		method = payment.MethodBankTransfer
	}

	rec, err := h.service.RecordPayment(r.Context(), middleware.MustGetActor(r.Context()), app.RecordPaymentInput{
		OrganizationID: orgID,
		Amount:         parseAmount(req.Amount),
		Currency:       currency,
		Method:         method,
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		Note:           req.Note,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(rec))
}

// Confirm handles POST /api/v1/admin/payments/{id}/confirm
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.service.ConfirmPayment(r.Context(), middleware.MustGetActor(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(rec))
}

// Reject handles POST /api/v1/admin/payments/{id}/reject
func (h *PaymentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	var req RejectRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	rec, err := h.service.RejectPayment(r.Context(), middleware.MustGetActor(r.Context()), id, req.Reason)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(rec))
}

// Get handles GET /api/v1/admin/payments/{id}
func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}

	rec, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(rec))
}

// List handles GET /api/v1/admin/organizations/{orgID}/payments
func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListPayments(r.Context(), orgID, parsePagination(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pagination.Map(result, toPaymentResponse))
}
