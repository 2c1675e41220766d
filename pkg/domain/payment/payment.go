// Package payment is the payment ledger. Payment decisions never change a
// subscription's status by themselves.
package payment

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Status is the decision state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Method is how a payment was made.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodCard         Method = "card"
	MethodCash         Method = "cash"
	MethodManual       Method = "manual"
)

// IsValid checks if the method is known.
func (m Method) IsValid() bool {
	switch m {
	case MethodBankTransfer, MethodCard, MethodCash, MethodManual:
		return true
	default:
		return false
	}
}

// Domain errors.
var (
	ErrPaymentNotFound   = shared.NewDomainError("PAYMENT_NOT_FOUND", "payment record not found", shared.ErrNotFound)
	ErrPaymentNotPending = shared.NewDomainError("PAYMENT_NOT_PENDING", "payment has already been decided", shared.ErrInvalidState)
	ErrPaymentLinked     = shared.NewDomainError("PAYMENT_LINKED", "payment is linked to a renewal request", shared.ErrInvalidState)
	ErrInvalidMethod     = shared.NewDomainError("INVALID_PAYMENT_METHOD", "unknown payment method", shared.ErrValidation)
)

// Period is the subscription period a payment pays for.
type Period struct {
	Start time.Time
	End   time.Time
}

// Record is one payment in the ledger.
type Record struct {
	id              shared.ID
	organizationID  shared.ID
	subscriptionID  shared.ID
	amount          decimal.Decimal
	currency        shared.Currency
	discountCodeID  shared.ID
	discountAmount  decimal.Decimal
	status          Status
	method          Method
	periodStart     *time.Time
	periodEnd       *time.Time
	confirmedBy     shared.ID
	confirmedAt     *time.Time
	rejectionReason string
	createdAt       time.Time
	updatedAt       time.Time
}

// NewPending creates a pending payment.
func NewPending(orgID shared.ID, amount shared.Money, method Method, now time.Time) (*Record, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	if _, err := shared.NewMoney(amount.Amount, amount.Currency); err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	now = now.UTC()
	return &Record{
		id:             shared.NewID(),
		organizationID: orgID,
		amount:         amount.Amount.Round(2),
		currency:       amount.Currency,
		discountAmount: decimal.Zero,
		status:         StatusPending,
		method:         method,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// NewConfirmed creates a payment asserted as received by an administrator.
func NewConfirmed(orgID shared.ID, amount shared.Money, method Method, confirmedBy shared.ID, now time.Time) (*Record, error) {
	r, err := NewPending(orgID, amount, method, now)
	if err != nil {
		return nil, err
	}
	if err := r.Confirm(confirmedBy, now); err != nil {
		return nil, err
	}
	return r, nil
}

// ApplyDiscount records the discount the amount already reflects.
func (r *Record) ApplyDiscount(codeID shared.ID, amount decimal.Decimal) {
	r.discountCodeID = codeID
	r.discountAmount = amount.Round(2)
}

// Attach ties the payment to a subscription and the period it pays for.
func (r *Record) Attach(subscriptionID shared.ID, period Period) {
	start, end := period.Start.UTC(), period.End.UTC()
	r.subscriptionID = subscriptionID
	r.periodStart = &start
	r.periodEnd = &end
}

// Confirm marks a pending payment as received.
func (r *Record) Confirm(actorID shared.ID, now time.Time) error {
	if r.status != StatusPending {
		return fmt.Errorf("%w: payment is %s", ErrPaymentNotPending, r.status)
	}
	now = now.UTC()
	r.status = StatusConfirmed
	r.confirmedBy = actorID
	r.confirmedAt = &now
	r.updatedAt = now
	return nil
}

// Reject marks a pending payment as not received.
func (r *Record) Reject(reason string, actorID shared.ID, now time.Time) error {
	if r.status != StatusPending {
		return fmt.Errorf("%w: payment is %s", ErrPaymentNotPending, r.status)
	}
	now = now.UTC()
	r.status = StatusRejected
	r.rejectionReason = reason
	r.confirmedBy = actorID
	r.confirmedAt = &now
	r.updatedAt = now
	return nil
}

// IsPending reports whether the payment is still undecided.
func (r *Record) IsPending() bool {
	return r.status == StatusPending
}

// Getters

func (r *Record) ID() shared.ID                   { return r.id }
func (r *Record) OrganizationID() shared.ID       { return r.organizationID }
func (r *Record) SubscriptionID() shared.ID       { return r.subscriptionID }
func (r *Record) Amount() decimal.Decimal         { return r.amount }
func (r *Record) Currency() shared.Currency       { return r.currency }
func (r *Record) DiscountCodeID() shared.ID       { return r.discountCodeID }
func (r *Record) DiscountAmount() decimal.Decimal { return r.discountAmount }
func (r *Record) Status() Status                  { return r.status }
func (r *Record) Method() Method                  { return r.method }
func (r *Record) PeriodStart() *time.Time         { return r.periodStart }
func (r *Record) PeriodEnd() *time.Time           { return r.periodEnd }
func (r *Record) ConfirmedBy() shared.ID          { return r.confirmedBy }
func (r *Record) ConfirmedAt() *time.Time         { return r.confirmedAt }
func (r *Record) RejectionReason() string         { return r.rejectionReason }
func (r *Record) CreatedAt() time.Time            { return r.createdAt }
func (r *Record) UpdatedAt() time.Time            { return r.updatedAt }

// Reconstruct creates a Record from stored data.
func Reconstruct(
	id, organizationID, subscriptionID shared.ID,
	amount decimal.Decimal,
	currency shared.Currency,
	discountCodeID shared.ID,
	discountAmount decimal.Decimal,
	status Status,
	method Method,
	periodStart, periodEnd *time.Time,
	confirmedBy shared.ID,
	confirmedAt *time.Time,
	rejectionReason string,
	createdAt, updatedAt time.Time,
) *Record {
	return &Record{
		id:              id,
		organizationID:  organizationID,
		subscriptionID:  subscriptionID,
		amount:          amount,
		currency:        currency,
		discountCodeID:  discountCodeID,
		discountAmount:  discountAmount,
		status:          status,
		method:          method,
		periodStart:     periodStart,
		periodEnd:       periodEnd,
		confirmedBy:     confirmedBy,
		confirmedAt:     confirmedAt,
		rejectionReason: rejectionReason,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}
