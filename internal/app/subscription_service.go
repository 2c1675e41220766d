package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/logger"
	"github.com/openctemio/entitlements/pkg/pagination"
)

// SubscriptionService handles explicit subscription lifecycle events.
// Time-driven transitions belong to StatusTransitionService.
type SubscriptionService struct {
	store  Store
	cache  *EntitlementCacheService
	orgs   subscription.OrganizationDirectory
	clock  Clock
	logger *logger.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store Store, cache *EntitlementCacheService, orgs subscription.OrganizationDirectory, log *logger.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:  store,
		cache:  cache,
		orgs:   orgs,
		clock:  systemClock,
		logger: log.With("service", "subscription"),
	}
}

// SetClock replaces the service clock.
func (s *SubscriptionService) SetClock(clock Clock) {
	s.clock = clock
}

// GetSubscription returns an organization's subscription.
func (s *SubscriptionService) GetSubscription(ctx context.Context, orgID shared.ID) (*subscription.Subscription, error) {
	return s.store.Repos().Subscriptions.GetByOrganization(ctx, orgID)
}

// GetSubscriptionStatus returns the status with computed flags. It never writes.
func (s *SubscriptionService) GetSubscriptionStatus(ctx context.Context, orgID shared.ID) (subscription.StatusView, error) {
	sub, err := s.GetSubscription(ctx, orgID)
	if err != nil {
		return subscription.StatusView{}, err
	}
	return sub.View(s.clock()), nil
}

// StartTrial creates a trial subscription on the given plan, or on the default
// plan when planID is zero.
func (s *SubscriptionService) StartTrial(ctx context.Context, actor shared.Actor, orgID, planID shared.ID) (*subscription.Subscription, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := requireOrganization(ctx, s.orgs, orgID); err != nil {
		return nil, err
	}

	now := s.clock()
	var sub *subscription.Subscription
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		p, err := resolvePlan(ctx, tx.Plans, planID)
		if err != nil {
			return err
		}

		_, err = tx.Subscriptions.GetByOrganization(ctx, orgID)
		if err == nil {
			return subscription.ErrSubscriptionExists
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		sub, err = subscription.NewTrial(orgID, p, now)
		if err != nil {
			return err
		}
		if err := tx.Subscriptions.Create(ctx, sub); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				return subscription.ErrSubscriptionExists
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		entry := history.NewEntry(orgID, history.ActionTrialStarted, actor, now).
			WithStatus(sub.ID(), "", string(sub.Status())).
			With("plan_id", p.ID().String()).
			With("trial_ends_at", sub.TrialEndsAt())
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)

	s.logger.Info("trial started",
		"organization_id", orgID.String(),
		"plan_id", sub.PlanID().String(),
		"trial_ends_at", sub.TrialEndsAt(),
	)
	return sub, nil
}

// ActivateSubscriptionInput represents the input for activating a subscription.
type ActivateSubscriptionInput struct {
	OrganizationID    shared.ID
	PlanID            shared.ID
	Currency          shared.Currency
	AmountPaid        decimal.Decimal
	AdditionalSchools int
	Method            payment.Method
	Notes             string
}

// ActivateSubscription creates or extends an organization's subscription for one
// paid period from now, and records the payment as confirmed.
func (s *SubscriptionService) ActivateSubscription(ctx context.Context, actor shared.Actor, input ActivateSubscriptionInput) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "SubscriptionService.ActivateSubscription",
		trace.WithAttributes(attribute.String("organization_id", input.OrganizationID.String())))
	defer func() { endSpan(span, err) }()

	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	amount, err := shared.NewMoney(input.AmountPaid, input.Currency)
	if err != nil {
		return nil, err
	}
	if input.Method == "" {
		input.Method = payment.MethodManual
	}
	if err := requireOrganization(ctx, s.orgs, input.OrganizationID); err != nil {
		return nil, err
	}

	now := s.clock()
	var before subscription.Status
	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		p, err := tx.Plans.GetByID(ctx, input.PlanID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return plan.ErrInvalidPlan
		}

		sub, err = tx.Subscriptions.GetByOrganizationForUpdate(ctx, input.OrganizationID)
		switch {
		case err == nil:
			before = sub.Status()
			if err := sub.Activate(p, input.AdditionalSchools, now); err != nil {
				return err
			}
			if err := tx.Subscriptions.Update(ctx, sub); err != nil {
				return fmt.Errorf("failed to update subscription: %w", err)
			}
		case errors.Is(err, shared.ErrNotFound):
			sub, err = subscription.NewActive(input.OrganizationID, p, input.AdditionalSchools, now)
			if err != nil {
				return err
			}
			if err := tx.Subscriptions.Create(ctx, sub); err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
		default:
			return err
		}

		rec, err := payment.NewConfirmed(input.OrganizationID, amount, input.Method, actor.ID, now)
		if err != nil {
			return err
		}
		rec.Attach(sub.ID(), payment.Period{Start: now, End: *sub.ExpiresAt()})
		if err := tx.Payments.Create(ctx, rec); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		entry := history.NewEntry(input.OrganizationID, history.ActionActivated, actor, now).
			WithStatus(sub.ID(), string(before), string(sub.Status())).
			WithNote(input.Notes).
			With("plan_id", p.ID().String()).
			With("payment_id", rec.ID().String()).
			With("amount", amount.String()).
			With("additional_schools", input.AdditionalSchools).
			With("expires_at", sub.ExpiresAt())
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, input.OrganizationID)
	if before != subscription.StatusActive {
		metrics.StatusTransitionsTotal.WithLabelValues(statusLabel(before), string(subscription.StatusActive), "activate").Inc()
	}

	s.logger.Info("subscription activated",
		"organization_id", input.OrganizationID.String(),
		"plan_id", input.PlanID.String(),
		"status_before", string(before),
		"expires_at", sub.ExpiresAt(),
		"actor_id", actor.ID.String(),
	)
	return sub, nil
}

// SuspendSubscription blocks an organization's subscription until it is reactivated.
func (s *SubscriptionService) SuspendSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, reason string) (*subscription.Subscription, error) {
	return s.mutate(ctx, actor, orgID, history.ActionSuspended, reason, "suspend",
		func(sub *subscription.Subscription) error {
			return sub.Suspend(reason, s.clock())
		})
}

// CancelSubscription ends an organization's subscription until it is reactivated.
func (s *SubscriptionService) CancelSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, reason string) (*subscription.Subscription, error) {
	return s.mutate(ctx, actor, orgID, history.ActionCancelled, reason, "cancel",
		func(sub *subscription.Subscription) error {
			return sub.Cancel(reason, s.clock())
		})
}

// ReactivateSubscription lifts a suspension or cancellation. The resulting status is
// derived from the stored timestamps, so a lapsed subscription comes back expired.
func (s *SubscriptionService) ReactivateSubscription(ctx context.Context, actor shared.Actor, orgID shared.ID, note string) (*subscription.Subscription, error) {
	return s.mutate(ctx, actor, orgID, history.ActionReactivated, note, "reactivate",
		func(sub *subscription.Subscription) error {
			return sub.Reactivate(s.clock())
		})
}

// mutate applies an administrative change under the subscription row lock.
func (s *SubscriptionService) mutate(
	ctx context.Context,
	actor shared.Actor,
	orgID shared.ID,
	action history.Action,
	note, trigger string,
	apply func(*subscription.Subscription) error,
) (sub *subscription.Subscription, err error) {
	ctx, span := tracer.Start(ctx, "SubscriptionService."+string(action),
		trace.WithAttributes(attribute.String("organization_id", orgID.String())))
	defer func() { endSpan(span, err) }()

	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}

	var before subscription.Status
	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		sub, err = tx.Subscriptions.GetByOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		before = sub.Status()
		if err := apply(sub); err != nil {
			return err
		}
		if err := tx.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		entry := history.NewEntry(orgID, action, actor, s.clock()).
			WithStatus(sub.ID(), string(before), string(sub.Status())).
			WithNote(note)
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)
	metrics.StatusTransitionsTotal.WithLabelValues(string(before), string(sub.Status()), trigger).Inc()

	s.logger.Info("subscription "+trigger,
		"organization_id", orgID.String(),
		"status_before", string(before),
		"status_after", string(sub.Status()),
		"actor_id", actor.ID.String(),
	)
	return sub, nil
}

// ListHistory returns an organization's audit trail, newest first.
func (s *SubscriptionService) ListHistory(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*history.Entry], error) {
	if orgID.IsZero() {
		return pagination.Result[*history.Entry]{}, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	return s.store.Repos().History.ListByOrganization(ctx, orgID, page)
}

// resolvePlan loads an active plan, or the default plan when id is zero.
func resolvePlan(ctx context.Context, plans plan.Repository, id shared.ID) (*plan.Plan, error) {
	var (
		p   *plan.Plan
		err error
	)
	if id.IsZero() {
		p, err = plans.GetDefault(ctx)
	} else {
		p, err = plans.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, plan.ErrInvalidPlan
	}
	return p, nil
}

func statusLabel(s subscription.Status) string {
	if s == "" {
		return "none"
	}
	return string(s)
}
