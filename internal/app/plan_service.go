package app

import (
	"context"

	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/logger"
)

// PlanService manages the plan catalog.
type PlanService struct {
	store  Store
	cache  *EntitlementCacheService
	logger *logger.Logger
}

// NewPlanService creates a new PlanService.
func NewPlanService(store Store, cache *EntitlementCacheService, log *logger.Logger) *PlanService {
	return &PlanService{
		store:  store,
		cache:  cache,
		logger: log.With("service", "plan"),
	}
}

// PlanInput represents the input for creating or replacing a plan.
type PlanInput struct {
	Slug        string
	Name        string
	Description string
	Prices      map[shared.Currency]plan.Pricing
	Periods     plan.Periods
	MaxSchools  int64
	Features    map[string]bool
	Limits      map[string]int64
	SortOrder   int
	IsDefault   bool
}

// CreatePlan adds a plan to the catalog.
func (s *PlanService) CreatePlan(ctx context.Context, actor shared.Actor, input PlanInput) (*plan.Plan, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	p, err := plan.NewPlan(input.Slug, input.Name, input.Prices, input.Periods, input.MaxSchools)
	if err != nil {
		return nil, err
	}
	if err := s.apply(p, input); err != nil {
		return nil, err
	}

	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		if err := tx.Plans.Create(ctx, p); err != nil {
			return err
		}
		if input.IsDefault {
			if err := p.SetDefault(true); err != nil {
				return err
			}
			return tx.Plans.SetDefault(ctx, p.ID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan created", "plan_id", p.ID().String(), "slug", p.Slug(), "actor_id", actor.ID.String())
	return p, nil
}

// UpdatePlan replaces a plan's prices, periods, features and limits. The slug never changes.
func (s *PlanService) UpdatePlan(ctx context.Context, actor shared.Actor, id shared.ID, input PlanInput) (*plan.Plan, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	var p *plan.Plan
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		p, err = tx.Plans.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := p.Revise(input.Name, input.Description, input.Prices, input.Periods, input.MaxSchools); err != nil {
			return err
		}
		if err := s.apply(p, input); err != nil {
			return err
		}
		if err := tx.Plans.Update(ctx, p); err != nil {
			return err
		}
		if input.IsDefault && !p.IsDefault() {
			if err := p.SetDefault(true); err != nil {
				return err
			}
			return tx.Plans.SetDefault(ctx, p.ID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateAll(ctx)

	s.logger.Info("plan updated", "plan_id", p.ID().String(), "slug", p.Slug(), "actor_id", actor.ID.String())
	return p, nil
}

func (s *PlanService) apply(p *plan.Plan, input PlanInput) error {
	p.ReplaceFeatures(input.Features)
	if err := p.ReplaceLimits(input.Limits); err != nil {
		return err
	}
	p.SetSortOrder(input.SortOrder)
	return nil
}

// DeactivatePlan soft-deletes a plan. Existing subscriptions keep referencing it,
// but it can no longer be activated or renewed onto.
func (s *PlanService) DeactivatePlan(ctx context.Context, actor shared.Actor, id shared.ID) (*plan.Plan, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}

	var p *plan.Plan
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		var err error
		p, err = tx.Plans.GetByID(ctx, id)
		if err != nil {
			return err
		}
		p.Deactivate()
		return tx.Plans.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("plan deactivated", "plan_id", id.String(), "actor_id", actor.ID.String())
	return p, nil
}

// SetDefaultPlan makes an active plan the only default plan.
func (s *PlanService) SetDefaultPlan(ctx context.Context, actor shared.Actor, id shared.ID) error {
	if err := actor.RequireAdmin(); err != nil {
		return err
	}
	return s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		p, err := tx.Plans.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := p.SetDefault(true); err != nil {
			return err
		}
		return tx.Plans.SetDefault(ctx, id)
	})
}

// GetPlan retrieves a plan by ID.
func (s *PlanService) GetPlan(ctx context.Context, id shared.ID) (*plan.Plan, error) {
	return s.store.Repos().Plans.GetByID(ctx, id)
}

// GetPlanBySlug retrieves a plan by slug.
func (s *PlanService) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return s.store.Repos().Plans.GetBySlug(ctx, slug)
}

// GetDefaultPlan retrieves the default plan.
func (s *PlanService) GetDefaultPlan(ctx context.Context) (*plan.Plan, error) {
	return s.store.Repos().Plans.GetDefault(ctx)
}

// ListPlans lists plans by sort order.
func (s *PlanService) ListPlans(ctx context.Context, activeOnly bool) ([]*plan.Plan, error) {
	return s.store.Repos().Plans.List(ctx, activeOnly)
}
