package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/logger"
)

// FeatureGateService resolves which features an organization may use.
type FeatureGateService struct {
	store  Store
	cache  *EntitlementCacheService
	orgs   subscription.OrganizationDirectory
	clock  Clock
	logger *logger.Logger
}

// NewFeatureGateService creates a new FeatureGateService.
func NewFeatureGateService(store Store, cache *EntitlementCacheService, orgs subscription.OrganizationDirectory, log *logger.Logger) *FeatureGateService {
	return &FeatureGateService{
		store:  store,
		cache:  cache,
		orgs:   orgs,
		clock:  systemClock,
		logger: log.With("service", "feature_gate"),
	}
}

// SetClock replaces the service clock.
func (s *FeatureGateService) SetClock(clock Clock) {
	s.clock = clock
}

// IsFeatureEnabled resolves one feature as of the given time. A zero asOf means now.
func (s *FeatureGateService) IsFeatureEnabled(ctx context.Context, orgID shared.ID, featureKey string, asOf time.Time) (bool, error) {
	if asOf.IsZero() {
		asOf = s.clock()
	}
	ent, err := s.cache.Get(ctx, orgID)
	if err != nil {
		return false, err
	}
	enabled := ent.Features().IsEnabled(featureKey, asOf)
	metrics.FeatureChecksTotal.WithLabelValues(resultLabel(enabled)).Inc()
	return enabled, nil
}

// GetAllFeaturesStatus resolves every feature known to the organization's plan and addons.
// It performs no writes.
func (s *FeatureGateService) GetAllFeaturesStatus(ctx context.Context, orgID shared.ID) (map[string]bool, error) {
	ent, err := s.cache.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return ent.Features().Resolve(s.clock()), nil
}

// AddFeatureAddonInput represents the input for granting a feature addon.
type AddFeatureAddonInput struct {
	OrganizationID shared.ID
	FeatureKey     string
	PricePaid      decimal.Decimal
	Currency       shared.Currency
	// ExpiresAt nil ties the addon to the subscription.
	ExpiresAt *time.Time
	Note      string
}

// AddFeatureAddon grants a feature to an organization independent of its plan.
func (s *FeatureGateService) AddFeatureAddon(ctx context.Context, actor shared.Actor, input AddFeatureAddonInput) (*feature.Addon, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	price, err := shared.NewMoney(input.PricePaid, input.Currency)
	if err != nil {
		return nil, err
	}
	if err := s.requireOrganization(ctx, input.OrganizationID); err != nil {
		return nil, err
	}

	now := s.clock()
	addon, err := feature.NewAddon(input.OrganizationID, input.FeatureKey, true, price, input.ExpiresAt, actor.ID, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		if err := tx.Addons.Create(ctx, addon); err != nil {
			return fmt.Errorf("failed to create addon: %w", err)
		}
		entry := history.NewEntry(input.OrganizationID, history.ActionAddonAdded, actor, now).
			WithNote(input.Note).
			With("feature_key", addon.FeatureKey()).
			With("price_paid", price.String())
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, input.OrganizationID)

	s.logger.Info("feature addon added",
		"organization_id", input.OrganizationID.String(),
		"feature_key", addon.FeatureKey(),
		"actor_id", actor.ID.String(),
	)
	return addon, nil
}

// ToggleFeature flips a feature's plan-and-addon state for an organization by
// recording a new addon: enabled when it is currently not granted, disabled
// otherwise. The subscription status is ignored, so a suspended or expired
// organization can still have a feature revoked ahead of reactivation.
func (s *FeatureGateService) ToggleFeature(ctx context.Context, actor shared.Actor, orgID shared.ID, featureKey string) (*feature.Addon, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := feature.ValidateKey(featureKey); err != nil {
		return nil, err
	}
	if err := s.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	now := s.clock()
	var addon *feature.Addon
	err := s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		current, err := s.cache.Load(ctx, tx, orgID)
		if err != nil {
			return err
		}
		enabled := current.Features().Granted(featureKey, now)

		free := shared.Money{Amount: decimal.Zero, Currency: shared.CurrencyUSD}
		addon, err = feature.NewAddon(orgID, featureKey, !enabled, free, nil, actor.ID, now)
		if err != nil {
			return err
		}
		if err := tx.Addons.Create(ctx, addon); err != nil {
			return fmt.Errorf("failed to create addon: %w", err)
		}
		entry := history.NewEntry(orgID, history.ActionFeatureToggled, actor, now).
			With("feature_key", featureKey).
			With("enabled", !enabled)
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, orgID)

	s.logger.Info("feature toggled",
		"organization_id", orgID.String(),
		"feature_key", featureKey,
		"enabled", addon.IsEnabled(),
		"actor_id", actor.ID.String(),
	)
	return addon, nil
}

func (s *FeatureGateService) requireOrganization(ctx context.Context, orgID shared.ID) error {
	return requireOrganization(ctx, s.orgs, orgID)
}

func requireOrganization(ctx context.Context, orgs subscription.OrganizationDirectory, orgID shared.ID) error {
	if orgID.IsZero() {
		return fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	if orgs == nil {
		return nil
	}
	ok, err := orgs.Exists(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to look up organization: %w", err)
	}
	if !ok {
		return subscription.ErrOrganizationNotFound
	}
	return nil
}

func resultLabel(ok bool) string {
	if ok {
		return "allowed"
	}
	return "denied"
}
