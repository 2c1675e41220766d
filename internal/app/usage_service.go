package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/logger"
)

// UsageService resolves effective limits and compares them with live usage.
// Enforcement always counts live rows; snapshots are for reporting only.
type UsageService struct {
	store   Store
	cache   *EntitlementCacheService
	counter usage.Counter
	orgs    subscription.OrganizationDirectory
	clock   Clock
	logger  *logger.Logger
}

// NewUsageService creates a new UsageService.
func NewUsageService(store Store, cache *EntitlementCacheService, counter usage.Counter, orgs subscription.OrganizationDirectory, log *logger.Logger) *UsageService {
	return &UsageService{
		store:   store,
		cache:   cache,
		counter: counter,
		orgs:    orgs,
		clock:   systemClock,
		logger:  log.With("service", "usage"),
	}
}

// SetClock replaces the service clock.
func (s *UsageService) SetClock(clock Clock) {
	s.clock = clock
}

// GetEffectiveLimit returns the limit that applies to a resource: an active
// override, else the plan limit, else 0. -1 means unlimited.
func (s *UsageService) GetEffectiveLimit(ctx context.Context, orgID shared.ID, resourceKey string) (usage.EffectiveLimit, error) {
	ent, err := s.cache.Get(ctx, orgID)
	if err != nil {
		return usage.EffectiveLimit{}, err
	}
	return usage.ResolveLimit(resourceKey, ent.LimitOverrides(), ent.PlanLimits, s.clock()), nil
}

// GetCurrentUsage counts live rows of a resource.
func (s *UsageService) GetCurrentUsage(ctx context.Context, orgID shared.ID, resourceKey string) (int64, error) {
	n, err := s.counter.Count(ctx, orgID, resourceKey)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", resourceKey, err)
	}
	return n, nil
}

// CheckLimit answers whether one more unit of a resource may be created, with detail.
// Unlimited and zero limits are decided without counting.
func (s *UsageService) CheckLimit(ctx context.Context, orgID shared.ID, resourceKey string) (usage.Check, error) {
	limit, err := s.GetEffectiveLimit(ctx, orgID, resourceKey)
	if err != nil {
		return usage.Check{}, err
	}

	var current int64
	if !limit.IsUnlimited() && limit.Value > 0 {
		current, err = s.GetCurrentUsage(ctx, orgID, resourceKey)
		if err != nil {
			return usage.Check{}, err
		}
	}

	check := usage.NewCheck(resourceKey, current, limit)
	metrics.LimitChecksTotal.WithLabelValues(resourceKey, resultLabel(check.Allowed)).Inc()
	return check, nil
}

// IsWithinLimit reports whether usage is strictly below the effective limit.
func (s *UsageService) IsWithinLimit(ctx context.Context, orgID shared.ID, resourceKey string) (bool, error) {
	check, err := s.CheckLimit(ctx, orgID, resourceKey)
	if err != nil {
		return false, err
	}
	return check.Allowed, nil
}

// RecalculateUsage counts every known resource and persists the counts as today's snapshots.
func (s *UsageService) RecalculateUsage(ctx context.Context, orgID shared.ID) (map[string]int64, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	counts := make(map[string]int64)
	for _, key := range s.counter.ResourceKeys() {
		n, err := s.counter.Count(ctx, orgID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", key, err)
		}
		counts[key] = n
	}

	snapshots := usage.NewSnapshots(orgID, counts, s.clock())
	if err := s.store.Repos().Snapshots.Save(ctx, snapshots); err != nil {
		return nil, fmt.Errorf("failed to save usage snapshots: %w", err)
	}

	s.logger.Debug("usage recalculated", "organization_id", orgID.String(), "resources", len(counts))
	return counts, nil
}

// SnapshotReport summarizes one run of RecalculateAllUsage.
type SnapshotReport struct {
	Organizations int            `json:"organizations"`
	Failures      []SweepFailure `json:"failures"`
}

// RecalculateAllUsage snapshots usage for every organization holding a subscription.
// One organization failing does not stop the others.
func (s *UsageService) RecalculateAllUsage(ctx context.Context, concurrency int) (*SnapshotReport, error) {
	orgIDs, err := s.store.Repos().Subscriptions.ListOrganizationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	report := &SnapshotReport{Failures: make([]SweepFailure, 0)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, orgID := range orgIDs {
		g.Go(func() error {
			_, err := s.RecalculateUsage(gctx, orgID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("usage snapshot failed", "organization_id", orgID.String(), "error", err)
				report.Failures = append(report.Failures, SweepFailure{OrganizationID: orgID, Error: err.Error()})
				return nil
			}
			report.Organizations++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	s.logger.Info("usage snapshots captured", "organizations", report.Organizations, "failures", len(report.Failures))
	return report, nil
}

// ListUsageSnapshots returns stored snapshots between two dates, inclusive.
func (s *UsageService) ListUsageSnapshots(ctx context.Context, orgID shared.ID, from, to time.Time) ([]usage.Snapshot, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", shared.ErrValidation)
	}
	return s.store.Repos().Snapshots.List(ctx, orgID, from, to)
}

// AddLimitOverrideInput represents the input for overriding a limit.
type AddLimitOverrideInput struct {
	OrganizationID shared.ID
	ResourceKey    string
	LimitValue     int64
	Reason         string
	// ExpiresAt nil makes the override permanent.
	ExpiresAt *time.Time
}

// AddLimitOverride replaces the plan limit of one resource for one organization.
func (s *UsageService) AddLimitOverride(ctx context.Context, actor shared.Actor, input AddLimitOverrideInput) (*usage.Override, error) {
	if err := actor.RequireAdmin(); err != nil {
		return nil, err
	}
	if err := requireOrganization(ctx, s.orgs, input.OrganizationID); err != nil {
		return nil, err
	}

	now := s.clock()
	o, err := usage.NewOverride(input.OrganizationID, input.ResourceKey, input.LimitValue, input.Reason, input.ExpiresAt, actor.ID, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Within(ctx, func(ctx context.Context, tx Repositories) error {
		if err := tx.Overrides.Create(ctx, o); err != nil {
			return fmt.Errorf("failed to create limit override: %w", err)
		}
		entry := history.NewEntry(input.OrganizationID, history.ActionLimitOverridden, actor, now).
			WithNote(input.Reason).
			With("resource_key", o.ResourceKey()).
			With("limit_value", o.LimitValue())
		if o.ExpiresAt() != nil {
			entry.With("expires_at", o.ExpiresAt().Format(time.RFC3339))
		}
		return tx.History.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, input.OrganizationID)

	s.logger.Info("limit override added",
		"organization_id", input.OrganizationID.String(),
		"resource_key", o.ResourceKey(),
		"limit_value", o.LimitValue(),
		"actor_id", actor.ID.String(),
	)
	return o, nil
}
