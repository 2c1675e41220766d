package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/logger"
)

// RenewalService runs the renewal request workflow.
//
// Every decision locks rows in the same order (renewal request, payment record,
// subscription) so two concurrent decisions serialize instead of deadlocking.
type RenewalService struct {
	store  Store
	cache  *EntitlementCacheService
	clock  Clock
	logger *logger.Logger
}

// NewRenewalService creates a new RenewalService.
func NewRenewalService(store Store, cache *EntitlementCacheService, log *logger.Logger) *RenewalService {
	return &RenewalService{
		store:  store,
		cache:  cache,
		clock:  systemClock,
		logger: log.With("service", "renewal"),
	}
}

// SetClock replaces the service clock.
func (s *RenewalService) SetClock(clock Clock) {
	s.clock = clock
}

// SubmitRenewalInput represents the input for requesting a renewal.
type SubmitRenewalInput struct {
	OrganizationID    shared.ID
	PlanID            shared.ID
	Currency          shared.Currency
	AdditionalSchools int
	DiscountCode      string
	Method            payment.Method
	// PaymentRecordID links an existing pending payment instead of creating one.
	PaymentRecordID shared.ID
}

// SubmitRenewalRequest prices the renewal and creates a pending request with a
// pending payment for the quoted amount. An organization has at most one pending request.
func (s *RenewalService) SubmitRenewalRequest(ctx context.Context, actor shared.Actor, input SubmitRenewalInput) (*renewal.Request, discount.Quote, error) {
	if err := actor.RequireOrganization(input.OrganizationID); err != nil {
		return nil, discount.Quote{}, err
	}
	if input.Method == "" {
		input.Method = payment.MethodBankTransfer
	}

	now := s.clock()
	var (
		req   *renewal.Request
		quote discount.Quote
	)
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		sub, err := tx.Subscriptions.GetByOrganization(ctx, input.OrganizationID)
		if err != nil {
			return err
		}
		if sub.Status() == subscription.StatusCancelled {
			return subscription.ErrAlreadyTerminal
		}
		p, err := tx.Plans.GetByID(ctx, input.PlanID)
		if err != nil {
			return err
		}

		var code *discount.Code
		quote, code, err = priceRenewal(ctx, tx, p, input.OrganizationID, input.Currency, input.AdditionalSchools, input.DiscountCode, now)
		if err != nil {
			return err
		}
		var codeID shared.ID
		if code != nil {
			codeID = code.ID()
		}

		var rec *payment.Record
		if !input.PaymentRecordID.IsZero() {
			rec, err = tx.Payments.GetByIDForUpdate(ctx, input.PaymentRecordID)
			if err != nil {
				return err
			}
			if !rec.OrganizationID().Equals(input.OrganizationID) {
				return renewal.ErrPaymentMismatch
			}
			if !rec.IsPending() {
				return payment.ErrPaymentNotPending
			}
		} else {
			amount, err := shared.NewMoney(quote.FinalPrice, input.Currency)
			if err != nil {
				return err
			}
			rec, err = payment.NewPending(input.OrganizationID, amount, input.Method, now)
			if err != nil {
				return err
			}
			rec.ApplyDiscount(codeID, quote.DiscountAmount)
			rec.Attach(sub.ID(), payment.Period{Start: now, End: now.AddDate(subscription.RenewalPeriod, 0, 0)})
			if err := tx.Payments.Create(ctx, rec); err != nil {
				return fmt.Errorf("failed to create payment: %w", err)
			}
		}

		req, err = renewal.NewRequest(input.OrganizationID, sub.ID(), p.ID(), input.AdditionalSchools, codeID, rec.ID(), actor.ID, now)
		if err != nil {
			return err
		}
		if err := tx.Renewals.Create(ctx, req); err != nil {
			return err
		}

		entry := history.NewEntry(input.OrganizationID, history.ActionRenewalRequested, actor, now).
			With("renewal_id", req.ID().String()).
			With("plan_id", p.ID().String()).
			With("payment_id", rec.ID().String()).
			With("final_price", quote.FinalPrice.StringFixed(2)+" "+string(quote.Currency))
		if code != nil {
			entry.With("discount_code", code.Code())
		}
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, discount.Quote{}, err
	}

	s.logger.Info("renewal requested",
		"organization_id", input.OrganizationID.String(),
		"renewal_id", req.ID().String(),
		"plan_id", input.PlanID.String(),
		"final_price", quote.FinalPrice.StringFixed(2),
	)
	return req, quote, nil
}

// AdminPayment is a payment an administrator asserts was received.
type AdminPayment struct {
	Amount   decimal.Decimal
	Currency shared.Currency
	Method   payment.Method
}

// ApproveRenewalInput represents the input for approving a renewal request.
type ApproveRenewalInput struct {
	RenewalID shared.ID
	// PaymentRecordID optionally names the payment; it must match the request's own when both are set.
	PaymentRecordID shared.ID
	// Payment is required when the request has no payment attached.
	Payment *AdminPayment
	Note    string
}

// ApproveRenewal approves a pending request in one transaction: the request is
// approved, its payment confirmed (or created confirmed), the subscription renewed
// onto the requested plan and the discount code use recorded.
func (s *RenewalService) ApproveRenewal(ctx context.Context, actor shared.Actor, input ApproveRenewalInput) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "RenewalService.ApproveRenewal",
		trace.WithAttributes(attribute.String("renewal_id", input.RenewalID.String())))
	defer func() { endSpan(span, err) }()

	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	now := s.clock()
	var (
		req    *renewal.Request
		before subscription.Status
	)
	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		req, err = tx.Renewals.GetByIDForUpdate(ctx, input.RenewalID)
		if err != nil {
			return err
		}
		if req.Status() != renewal.StatusPending {
			return fmt.Errorf("%w: request is %s", renewal.ErrNotPending, req.Status())
		}

		rec, created, err := s.resolvePayment(ctx, tx, actor, req, input, now)
		if err != nil {
			return err
		}
		if err := req.AttachPayment(rec.ID()); err != nil {
			return err
		}

		sub, err = tx.Subscriptions.GetByOrganizationForUpdate(ctx, req.OrganizationID())
		if err != nil {
			return err
		}
		p, err := tx.Plans.GetByID(ctx, req.RequestedPlanID())
		if err != nil {
			return err
		}
		before = sub.Status()
		previousPlan := sub.PlanID()
		if err := sub.Renew(p, req.AdditionalSchools(), now); err != nil {
			return err
		}
		if err := sub.CheckInvariants(); err != nil {
			return err
		}
		rec.Attach(sub.ID(), payment.Period{Start: now, End: *sub.ExpiresAt()})

		if !req.DiscountCodeID().IsZero() {
			if err := consumeDiscount(ctx, tx, req, now); err != nil {
				return err
			}
		}

		if err := req.Approve(actor.ID, now); err != nil {
			return err
		}
		if err := tx.Renewals.Update(ctx, req); err != nil {
			return fmt.Errorf("failed to update renewal: %w", err)
		}
		if created {
			err = tx.Payments.Create(ctx, rec)
		} else {
			err = tx.Payments.Update(ctx, rec)
		}
		if err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
		if err := tx.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		entry := history.NewEntry(req.OrganizationID(), history.ActionRenewalApproved, actor, now).
			WithStatus(sub.ID(), string(before), string(sub.Status())).
			WithNote(input.Note).
			With("renewal_id", req.ID().String()).
			With("payment_id", rec.ID().String()).
			With("expires_at", sub.ExpiresAt())
		if err := tx.History.Append(ctx, entry); err != nil {
			return err
		}
		if !previousPlan.Equals(p.ID()) {
			change := history.NewEntry(req.OrganizationID(), history.ActionPlanChanged, actor, now).
				WithStatus(sub.ID(), string(before), string(sub.Status())).
				With("from_plan_id", previousPlan.String()).
				With("to_plan_id", p.ID().String())
			return tx.History.Append(ctx, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, req.OrganizationID())
	metrics.RenewalDecisionsTotal.WithLabelValues("approved").Inc()
	metrics.StatusTransitionsTotal.WithLabelValues(string(before), string(sub.Status()), "renewal").Inc()

	s.logger.Info("renewal approved",
		"organization_id", req.OrganizationID().String(),
		"renewal_id", req.ID().String(),
		"status_before", string(before),
		"expires_at", sub.ExpiresAt(),
		"actor_id", actor.ID.String(),
	)
	return sub, nil
}

// resolvePayment locks and confirms the request's payment, or builds a confirmed
// one from the admin-supplied details. created reports whether it is new.
func (s *RenewalService) resolvePayment(
	ctx context.Context,
	tx Repositories,
	actor shared.Actor,
	req *renewal.Request,
	input ApproveRenewalInput,
	now time.Time,
) (rec *payment.Record, created bool, err error) {
	paymentID := req.PaymentRecordID()
	if !input.PaymentRecordID.IsZero() {
		if !paymentID.IsZero() && !paymentID.Equals(input.PaymentRecordID) {
			return nil, false, renewal.ErrPaymentMismatch
		}
		paymentID = input.PaymentRecordID
	}

	if paymentID.IsZero() {
		if input.Payment == nil {
			return nil, false, renewal.ErrPaymentRequired
		}
		amount, err := shared.NewMoney(input.Payment.Amount, input.Payment.Currency)
		if err != nil {
			return nil, false, err
		}
		method := input.Payment.Method
		if method == "" {
			method = payment.MethodManual
		}
		rec, err = payment.NewConfirmed(req.OrganizationID(), amount, method, actor.ID, now)
		if err != nil {
			return nil, false, err
		}
		return rec, true, nil
	}

	rec, err = tx.Payments.GetByIDForUpdate(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if !rec.OrganizationID().Equals(req.OrganizationID()) {
		return nil, false, renewal.ErrPaymentMismatch
	}
	switch rec.Status() {
	case payment.StatusPending:
		if err := rec.Confirm(actor.ID, now); err != nil {
			return nil, false, err
		}
	case payment.StatusRejected:
		return nil, false, fmt.Errorf("%w: payment was rejected", payment.ErrPaymentNotPending)
	}
	return rec, false, nil
}

// consumeDiscount records one use of the request's code by its organization. The
// per-organization and global caps are checked again because other renewals may
// have used the code since it was quoted.
func consumeDiscount(ctx context.Context, tx Repositories, req *renewal.Request, now time.Time) error {
	code, err := tx.Discounts.GetByID(ctx, req.DiscountCodeID())
	if err != nil {
		return err
	}
	uses, err := tx.Discounts.CountUses(ctx, code.ID(), req.OrganizationID())
	if err != nil {
		return fmt.Errorf("failed to count discount uses: %w", err)
	}
	if uses >= code.MaxUsesPerOrg() {
		return fmt.Errorf("%w: organization already used it %d times", discount.ErrUsageExceeded, uses)
	}
	return tx.Discounts.RecordUse(ctx, discount.Use{
		ID:             shared.NewID(),
		CodeID:         code.ID(),
		OrganizationID: req.OrganizationID(),
		RenewalID:      req.ID(),
		UsedAt:         now,
	})
}

// RejectRenewal rejects a pending request and its pending payment. The
// subscription is left untouched.
func (s *RenewalService) RejectRenewal(ctx context.Context, actor shared.Actor, renewalID shared.ID, reason string) (*renewal.Request, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	now := s.clock()
	var req *renewal.Request
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		req, err = tx.Renewals.GetByIDForUpdate(ctx, renewalID)
		if err != nil {
			return err
		}
		if err := req.Reject(reason, actor.ID, now); err != nil {
			return err
		}

		if !req.PaymentRecordID().IsZero() {
			rec, err := tx.Payments.GetByIDForUpdate(ctx, req.PaymentRecordID())
			if err != nil {
				return err
			}
			if rec.IsPending() {
				if err := rec.Reject(reason, actor.ID, now); err != nil {
					return err
				}
				if err := tx.Payments.Update(ctx, rec); err != nil {
					return fmt.Errorf("failed to update payment: %w", err)
				}
			}
		}

		if err := tx.Renewals.Update(ctx, req); err != nil {
			return fmt.Errorf("failed to update renewal: %w", err)
		}
		entry := history.NewEntry(req.OrganizationID(), history.ActionRenewalRejected, actor, now).
			WithNote(reason).
			With("renewal_id", req.ID().String())
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	metrics.RenewalDecisionsTotal.WithLabelValues("rejected").Inc()

	s.logger.Info("renewal rejected",
		"organization_id", req.OrganizationID().String(),
		"renewal_id", req.ID().String(),
		"actor_id", actor.ID.String(),
	)
	return req, nil
}

// GetRenewal retrieves a renewal request.
func (s *RenewalService) GetRenewal(ctx context.Context, id shared.ID) (*renewal.Request, error) {
	return s.store.Repos().Renewals.GetByID(ctx, id)
}

// ListPendingRenewals returns pending requests, oldest first.
func (s *RenewalService) ListPendingRenewals(ctx context.Context, limit int) ([]*renewal.Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Repos().Renewals.ListPending(ctx, limit)
}
