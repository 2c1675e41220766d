// Package renewal models renewal requests awaiting administrative approval.
package renewal

import (
	"fmt"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Status is the decision state of a renewal request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Domain errors.
var (
	ErrRenewalNotFound = shared.NewDomainError("RENEWAL_NOT_FOUND", "renewal request not found", shared.ErrNotFound)
	ErrNotPending      = shared.NewDomainError("NOT_PENDING", "renewal request is not pending", shared.ErrInvalidState)
	ErrPendingExists   = shared.NewDomainError("RENEWAL_PENDING", "organization already has a pending renewal request", shared.ErrInvalidState)
	ErrPaymentMismatch = shared.NewDomainError("PAYMENT_MISMATCH", "payment record does not belong to this renewal", shared.ErrValidation)
	ErrPaymentRequired = shared.NewDomainError("PAYMENT_REQUIRED", "payment details are required when no payment is attached", shared.ErrValidation)
)

// Request is a proposed plan and period extension for one organization.
type Request struct {
	id                shared.ID
	organizationID    shared.ID
	subscriptionID    shared.ID
	requestedPlanID   shared.ID
	additionalSchools int
	discountCodeID    shared.ID
	paymentRecordID   shared.ID
	status            Status
	requestedAt       time.Time
	requestedBy       shared.ID
	decidedBy         shared.ID
	decidedAt         *time.Time
	rejectionReason   string
}

// NewRequest creates a pending renewal request.
func NewRequest(orgID, subscriptionID, planID shared.ID, additionalSchools int, discountCodeID, paymentRecordID, requestedBy shared.ID, now time.Time) (*Request, error) {
	if orgID.IsZero() || planID.IsZero() {
		return nil, fmt.Errorf("%w: organization and plan are required", shared.ErrValidation)
	}
	if additionalSchools < 0 {
		return nil, fmt.Errorf("%w: additional schools must not be negative", shared.ErrValidation)
	}
	return &Request{
		id:                shared.NewID(),
		organizationID:    orgID,
		subscriptionID:    subscriptionID,
		requestedPlanID:   planID,
		additionalSchools: additionalSchools,
		discountCodeID:    discountCodeID,
		paymentRecordID:   paymentRecordID,
		status:            StatusPending,
		requestedAt:       now.UTC(),
		requestedBy:       requestedBy,
	}, nil
}

// AttachPayment links a payment record. A request holds at most one payment.
func (r *Request) AttachPayment(paymentID shared.ID) error {
	if !r.paymentRecordID.IsZero() && !r.paymentRecordID.Equals(paymentID) {
		return fmt.Errorf("%w: request already linked to %s", ErrPaymentMismatch, r.paymentRecordID)
	}
	r.paymentRecordID = paymentID
	return nil
}

// Approve marks the request approved.
func (r *Request) Approve(actorID shared.ID, now time.Time) error {
	if r.status != StatusPending {
		return fmt.Errorf("%w: request is %s", ErrNotPending, r.status)
	}
	now = now.UTC()
	r.status = StatusApproved
	r.decidedBy = actorID
	r.decidedAt = &now
	return nil
}

// Reject marks the request rejected.
func (r *Request) Reject(reason string, actorID shared.ID, now time.Time) error {
	if r.status != StatusPending {
		return fmt.Errorf("%w: request is %s", ErrNotPending, r.status)
	}
	if reason == "" {
		return fmt.Errorf("%w: rejection reason is required", shared.ErrValidation)
	}
	now = now.UTC()
	r.status = StatusRejected
	r.rejectionReason = reason
	r.decidedBy = actorID
	r.decidedAt = &now
	return nil
}

// Getters

func (r *Request) ID() shared.ID              { return r.id }
func (r *Request) OrganizationID() shared.ID  { return r.organizationID }
func (r *Request) SubscriptionID() shared.ID  { return r.subscriptionID }
func (r *Request) RequestedPlanID() shared.ID { return r.requestedPlanID }
func (r *Request) AdditionalSchools() int     { return r.additionalSchools }
func (r *Request) DiscountCodeID() shared.ID  { return r.discountCodeID }
func (r *Request) PaymentRecordID() shared.ID { return r.paymentRecordID }
func (r *Request) Status() Status             { return r.status }
func (r *Request) RequestedAt() time.Time     { return r.requestedAt }
func (r *Request) RequestedBy() shared.ID     { return r.requestedBy }
func (r *Request) DecidedBy() shared.ID       { return r.decidedBy }
func (r *Request) DecidedAt() *time.Time      { return r.decidedAt }
func (r *Request) RejectionReason() string    { return r.rejectionReason }

// Reconstruct creates a Request from stored data.
func Reconstruct(
	id, organizationID, subscriptionID, requestedPlanID shared.ID,
	additionalSchools int,
	discountCodeID, paymentRecordID shared.ID,
	status Status,
	requestedAt time.Time,
	requestedBy, decidedBy shared.ID,
	decidedAt *time.Time,
	rejectionReason string,
) *Request {
	return &Request{
		id:                id,
		organizationID:    organizationID,
		subscriptionID:    subscriptionID,
		requestedPlanID:   requestedPlanID,
		additionalSchools: additionalSchools,
		discountCodeID:    discountCodeID,
		paymentRecordID:   paymentRecordID,
		status:            status,
		requestedAt:       requestedAt,
		requestedBy:       requestedBy,
		decidedBy:         decidedBy,
		decidedAt:         decidedAt,
		rejectionReason:   rejectionReason,
	}
}
