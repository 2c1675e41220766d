package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/logger"
	"github.com/openctemio/entitlements/pkg/pagination"
)

// PaymentService manages the payment ledger. Confirming or rejecting a payment
// here never changes a subscription's status; activation is a separate call.
type PaymentService struct {
	store  Store
	orgs   subscription.OrganizationDirectory
	clock  Clock
	logger *logger.Logger
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(store Store, orgs subscription.OrganizationDirectory, log *logger.Logger) *PaymentService {
	return &PaymentService{
		store:  store,
		orgs:   orgs,
		clock:  systemClock,
		logger: log.With("service", "payment"),
	}
}

// SetClock replaces the service clock.
func (s *PaymentService) SetClock(clock Clock) {
	s.clock = clock
}

// RecordPaymentInput represents the input for recording a standalone payment.
type RecordPaymentInput struct {
	OrganizationID shared.ID
	Amount         decimal.Decimal
	Currency       shared.Currency
	Method         payment.Method
	// PeriodStart and PeriodEnd are optional and set together.
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	Note        string
}

// RecordPayment creates a pending payment independent of any renewal request.
func (s *PaymentService) RecordPayment(ctx context.Context, actor shared.Actor, input RecordPaymentInput) (*payment.Record, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	amount, err := shared.NewMoney(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	if (input.PeriodStart == nil) != (input.PeriodEnd == nil) {
		return nil, fmt.Errorf("%w: period start and end must be set together", shared.ErrValidation)
	}
	if input.PeriodStart != nil && !input.PeriodEnd.After(*input.PeriodStart) {
		return nil, fmt.Errorf("%w: period end must be after period start", shared.ErrValidation)
	}
	if err := requireOrganization(ctx, s.orgs, input.OrganizationID); err != nil {
		return nil, err
	}

	now := s.clock()
	rec, err := payment.NewPending(input.OrganizationID, amount, input.Method, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		sub, err := tx.Subscriptions.GetByOrganization(ctx, input.OrganizationID)
		switch {
		case err == nil:
			if input.PeriodStart != nil {
				rec.Attach(sub.ID(), payment.Period{Start: *input.PeriodStart, End: *input.PeriodEnd})
			}
		case errors.Is(err, shared.ErrNotFound):
		default:
			return err
		}

		if err := tx.Payments.Create(ctx, rec); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}
		entry := history.NewEntry(input.OrganizationID, history.ActionPaymentRecorded, actor, now).
			WithNote(input.Note).
			With("payment_id", rec.ID().String()).
			With("amount", amount.String()).
			With("method", string(rec.Method()))
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		"organization_id", input.OrganizationID.String(),
		"payment_id", rec.ID().String(),
		"amount", amount.String(),
	)
	return rec, nil
}

// ConfirmPayment marks a pending payment as received.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actor shared.Actor, paymentID shared.ID) (*payment.Record, error) {
	return s.decide(ctx, actor, paymentID, history.ActionPaymentConfirmed, "", func(rec *payment.Record, now time.Time) error {
		return rec.Confirm(actor.ID, now)
	})
}

// RejectPayment marks a pending payment as not received.
func (s *PaymentService) RejectPayment(ctx context.Context, actor shared.Actor, paymentID shared.ID, reason string) (*payment.Record, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", shared.ErrValidation)
	}
	return s.decide(ctx, actor, paymentID, history.ActionPaymentRejected, reason, func(rec *payment.Record, now time.Time) error {
		return rec.Reject(reason, actor.ID, now)
	})
}

func (s *PaymentService) decide(
	ctx context.Context,
	actor shared.Actor,
	paymentID shared.ID,
	action history.Action,
	note string,
	apply func(*payment.Record, time.Time) error,
) (*payment.Record, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	now := s.clock()
	var rec *payment.Record
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		rec, err = tx.Payments.GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if err := apply(rec, now); err != nil {
			return err
		}
		if err := tx.Payments.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		entry := history.NewEntry(rec.OrganizationID(), action, actor, now).
			WithNote(note).
			With("payment_id", rec.ID().String()).
			With("amount", rec.Amount().StringFixed(2)+" "+string(rec.Currency()))
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment decided",
		"organization_id", rec.OrganizationID().String(),
		"payment_id", rec.ID().String(),
		"status", string(rec.Status()),
		"actor_id", actor.ID.String(),
	)
	return rec, nil
}

// GetPayment retrieves a payment record.
func (s *PaymentService) GetPayment(ctx context.Context, id shared.ID) (*payment.Record, error) {
	return s.store.Repos().Payments.GetByID(ctx, id)
}

// ListPayments returns an organization's payments, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*payment.Record], error) {
	return s.store.Repos().Payments.ListByOrganization(ctx, orgID, page)
}
