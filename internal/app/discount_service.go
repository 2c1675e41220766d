package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/logger"
)

// DiscountService validates and prices discount codes. Pricing never consumes a
// use; uses are recorded only when a renewal carrying the code is approved.
type DiscountService struct {
	store  Store
	clock  Clock
	logger *logger.Logger
}

// NewDiscountService creates a new DiscountService.
func NewDiscountService(store Store, log *logger.Logger) *DiscountService {
	return &DiscountService{
		store:  store,
		clock:  systemClock,
		logger: log.With("service", "discount"),
	}
}

// SetClock replaces the service clock.
func (s *DiscountService) SetClock(clock Clock) {
	s.clock = clock
}

// QuoteInput represents the input for pricing a renewal.
type QuoteInput struct {
	OrganizationID    shared.ID
	PlanID            shared.ID
	Currency          shared.Currency
	AdditionalSchools int
	// Code is optional.
	Code string
}

// ValidateAndPrice validates a code for a plan, organization and currency and
// prices the plan's yearly base with it.
func (s *DiscountService) ValidateAndPrice(ctx context.Context, code string, planID, orgID shared.ID, currency shared.Currency) (discount.Quote, error) {
	if discount.NormalizeCode(code) == "" {
		return discount.Quote{}, discount.ErrCodeNotFound
	}
	return s.QuoteRenewal(ctx, QuoteInput{
		OrganizationID: orgID,
		PlanID:         planID,
		Currency:       currency,
		Code:           code,
	})
}

// QuoteRenewal prices one renewal period: the yearly price plus additional schools,
// minus the discount of the code when one is given.
func (s *DiscountService) QuoteRenewal(ctx context.Context, input QuoteInput) (discount.Quote, error) {
	if input.OrganizationID.IsZero() {
		return discount.Quote{}, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	repos := s.store.Repos()
	p, err := repos.Plans.GetByID(ctx, input.PlanID)
	if err != nil {
		return discount.Quote{}, err
	}
	quote, _, err := priceRenewal(ctx, repos, p, input.OrganizationID, input.Currency, input.AdditionalSchools, input.Code, s.clock())
	return quote, err
}

// priceRenewal quotes a renewal with an optional code and returns the validated
// code, or nil when none was given.
func priceRenewal(
	ctx context.Context,
	repos Repositories,
	p *plan.Plan,
	orgID shared.ID,
	currency shared.Currency,
	additionalSchools int,
	code string,
	now time.Time,
) (discount.Quote, *discount.Code, error) {
	if !p.IsActive() {
		return discount.Quote{}, nil, plan.ErrInvalidPlan
	}
	if additionalSchools < 0 {
		return discount.Quote{}, nil, fmt.Errorf("%w: additional schools must not be negative", shared.ErrValidation)
	}
	if !currency.IsValid() {
		return discount.Quote{}, nil, fmt.Errorf("%w: unsupported currency %q", shared.ErrValidation, currency)
	}
	base, err := p.BasePrice(currency, additionalSchools)
	if err != nil {
		return discount.Quote{}, nil, err
	}

	normalized := discount.NormalizeCode(code)
	if normalized == "" {
		return discount.NoDiscount(base, currency), nil, nil
	}
	c, err := repos.Discounts.GetByCode(ctx, normalized)
	if err != nil {
		return discount.Quote{}, nil, err
	}
	uses, err := repos.Discounts.CountUses(ctx, c.ID(), orgID)
	if err != nil {
		return discount.Quote{}, nil, fmt.Errorf("failed to count discount uses: %w", err)
	}
	if err := c.Validate(p.ID(), currency, uses, now); err != nil {
		return discount.Quote{}, nil, err
	}
	return c.Price(base, currency), c, nil
}

// CreateCode adds a discount code.
func (s *DiscountService) CreateCode(ctx context.Context, actor shared.Actor, def discount.Definition) (*discount.Code, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	c, err := discount.NewCode(def, s.clock())
	if err != nil {
		return nil, err
	}
	if !c.ApplicablePlanID().IsZero() {
		if _, err := s.store.Repos().Plans.GetByID(ctx, c.ApplicablePlanID()); err != nil {
			return nil, err
		}
	}
	if err := s.store.Repos().Discounts.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("discount code created", "code", c.Code(), "type", string(c.Type()), "actor_id", actor.ID.String())
	return c, nil
}

// DeactivateCode stops a code from validating. Its use history is kept.
func (s *DiscountService) DeactivateCode(ctx context.Context, actor shared.Actor, id shared.ID) error {
	if err := actor.RequireAdmin(); err != nil {
		return err
	}
	if err := s.store.Repos().Discounts.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("discount code deactivated", "discount_code_id", id.String(), "actor_id", actor.ID.String())
	return nil
}

// ListCodes lists discount codes, newest first.
func (s *DiscountService) ListCodes(ctx context.Context, activeOnly bool) ([]*discount.Code, error) {
	return s.store.Repos().Discounts.List(ctx, activeOnly)
}
