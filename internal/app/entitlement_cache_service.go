package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/internal/infra/redis"
	"github.com/openctemio/entitlements/internal/metrics"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/logger"
)

// SnapshotCache is the shared cache behind the per-process one.
// *redis.Cache[CachedEntitlements] implements it.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*CachedEntitlements, error)
	Set(ctx context.Context, key string, value CachedEntitlements) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
}

// CachedEntitlements is everything gating decisions read for one organization.
type CachedEntitlements struct {
	OrganizationID  string           `json:"organization_id"`
	HasSubscription bool             `json:"has_subscription"`
	Status          string           `json:"status,omitempty"`
	PlanID          string           `json:"plan_id,omitempty"`
	PlanFeatures    map[string]bool  `json:"plan_features,omitempty"`
	PlanLimits      map[string]int64 `json:"plan_limits,omitempty"`
	Addons          []CachedAddon    `json:"addons,omitempty"`
	Overrides       []CachedOverride `json:"overrides,omitempty"`
	CachedAt        time.Time        `json:"cached_at"`
}

// CachedAddon is the cached form of a feature addon.
type CachedAddon struct {
	ID         string     `json:"id"`
	FeatureKey string     `json:"feature_key"`
	IsEnabled  bool       `json:"is_enabled"`
	StartedAt  time.Time  `json:"started_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CachedOverride is the cached form of a limit override.
type CachedOverride struct {
	ID          string     `json:"id"`
	ResourceKey string     `json:"resource_key"`
	LimitValue  int64      `json:"limit_value"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SubscriptionStatus returns the cached status, or "" without a subscription.
func (c *CachedEntitlements) SubscriptionStatus() subscription.Status {
	return subscription.Status(c.Status)
}

// Features rebuilds the feature resolution input.
func (c *CachedEntitlements) Features() feature.Entitlements {
	addons := make([]*feature.Addon, 0, len(c.Addons))
	orgID, _ := shared.IDFromString(c.OrganizationID)
	for _, a := range c.Addons {
		id, _ := shared.IDFromString(a.ID)
		addons = append(addons, feature.ReconstructAddon(id, orgID, a.FeatureKey, a.IsEnabled, a.StartedAt,
			a.ExpiresAt, decimal.Zero, "", shared.ID{}, a.CreatedAt, nil))
	}
	return feature.Entitlements{
		GrantsFeatures: c.HasSubscription && c.SubscriptionStatus().GrantsFeatures(),
		PlanFeatures:   c.PlanFeatures,
		Addons:         addons,
	}
}

// LimitOverrides rebuilds the organization's overrides.
func (c *CachedEntitlements) LimitOverrides() []*usage.Override {
	out := make([]*usage.Override, 0, len(c.Overrides))
	orgID, _ := shared.IDFromString(c.OrganizationID)
	for _, o := range c.Overrides {
		id, _ := shared.IDFromString(o.ID)
		out = append(out, usage.ReconstructOverride(id, orgID, o.ResourceKey, o.LimitValue, "", o.ExpiresAt, shared.ID{}, o.CreatedAt))
	}
	return out
}

// EntitlementCacheConfig configures the two cache tiers.
type EntitlementCacheConfig struct {
	// LocalSize is the number of organizations kept in process. Zero disables the local tier.
	LocalSize int
	// LocalTTL bounds how stale another instance's write can look here.
	LocalTTL time.Duration
}

// EntitlementCacheService provides cached access to the inputs of feature and
// limit decisions. Every mutation of an organization's entitlements must call
// Invalidate after its transaction commits.
//
// Key format: entitlements:{organization_id}
type EntitlementCacheService struct {
	store  Store
	shared SnapshotCache
	local  *expirable.LRU[string, CachedEntitlements]
	clock  Clock
	logger *logger.Logger
}

const (
	entitlementCachePrefix = "entitlements"
	entitlementCacheTTL    = 5 * time.Minute
)

// NewEntitlementRedisCache creates the shared tier on top of a redis client.
func NewEntitlementRedisCache(client *redis.Client) (*redis.Cache[CachedEntitlements], error) {
	return redis.NewCache[CachedEntitlements](client, entitlementCachePrefix, entitlementCacheTTL)
}

// NewEntitlementCacheService creates a new entitlement cache service.
// sharedCache may be nil when redis is not configured.
func NewEntitlementCacheService(store Store, sharedCache SnapshotCache, cfg EntitlementCacheConfig, log *logger.Logger) *EntitlementCacheService {
	s := &EntitlementCacheService{
		store:  store,
		shared: sharedCache,
		clock:  systemClock,
		logger: log.With("service", "entitlement_cache"),
	}
	if cfg.LocalSize > 0 {
		ttl := cfg.LocalTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		s.local = expirable.NewLRU[string, CachedEntitlements](cfg.LocalSize, nil, ttl)
	}
	return s
}

// SetClock replaces the service clock.
func (s *EntitlementCacheService) SetClock(clock Clock) {
	s.clock = clock
}

// Get returns the organization's cached entitlements, loading them on a miss.
func (s *EntitlementCacheService) Get(ctx context.Context, orgID shared.ID) (*CachedEntitlements, error) {
	key := orgID.String()

	if s.local != nil {
		if v, ok := s.local.Get(key); ok {
			metrics.EntitlementCacheLookups.WithLabelValues("local", "hit").Inc()
			return &v, nil
		}
		metrics.EntitlementCacheLookups.WithLabelValues("local", "miss").Inc()
	}

	if s.shared != nil {
		cached, err := s.shared.Get(ctx, key)
		if err == nil && cached != nil {
			metrics.EntitlementCacheLookups.WithLabelValues("redis", "hit").Inc()
			s.remember(key, *cached)
			return cached, nil
		}
		metrics.EntitlementCacheLookups.WithLabelValues("redis", "miss").Inc()
		if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("entitlement cache read failed", "organization_id", key, "error", err)
		}
	}

	loaded, err := s.Load(ctx, s.store.Repos(), orgID)
	if err != nil {
		return nil, err
	}

	if s.shared != nil {
		if err := s.shared.Set(ctx, key, *loaded); err != nil {
			s.logger.Warn("failed to cache entitlements", "organization_id", key, "error", err)
		}
	}
	s.remember(key, *loaded)
	return loaded, nil
}

// Load reads an organization's entitlements from the repositories, bypassing the cache.
func (s *EntitlementCacheService) Load(ctx context.Context, repos Repositories, orgID shared.ID) (*CachedEntitlements, error) {
	out := &CachedEntitlements{
		OrganizationID: orgID.String(),
		CachedAt:       s.clock(),
	}

	sub, err := repos.Subscriptions.GetByOrganization(ctx, orgID)
	switch {
	case err == nil:
		out.HasSubscription = true
		out.Status = string(sub.Status())
		out.PlanID = sub.PlanID().String()
		p, err := repos.Plans.GetByID(ctx, sub.PlanID())
		if err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
		out.PlanFeatures = p.Features()
		out.PlanLimits = p.Limits()
	case errors.Is(err, shared.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	addons, err := repos.Addons.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load addons: %w", err)
	}
	for _, a := range addons {
		out.Addons = append(out.Addons, CachedAddon{
			ID:         a.ID().String(),
			FeatureKey: a.FeatureKey(),
			IsEnabled:  a.IsEnabled(),
			StartedAt:  a.StartedAt(),
			ExpiresAt:  a.ExpiresAt(),
			CreatedAt:  a.CreatedAt(),
		})
	}

	overrides, err := repos.Overrides.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load limit overrides: %w", err)
	}
	for _, o := range overrides {
		out.Overrides = append(out.Overrides, CachedOverride{
			ID:          o.ID().String(),
			ResourceKey: o.ResourceKey(),
			LimitValue:  o.LimitValue(),
			ExpiresAt:   o.ExpiresAt(),
			CreatedAt:   o.CreatedAt(),
		})
	}
	return out, nil
}

// Invalidate drops an organization from both tiers.
func (s *EntitlementCacheService) Invalidate(ctx context.Context, orgID shared.ID) {
	key := orgID.String()
	if s.local != nil {
		s.local.Remove(key)
	}
	if s.shared != nil {
		if err := s.shared.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to invalidate entitlement cache", "organization_id", key, "error", err)
		}
	}
}

// InvalidateAll drops every organization. Plan catalog changes call it since
// any number of organizations may be on the changed plan.
func (s *EntitlementCacheService) InvalidateAll(ctx context.Context) {
	if s.local != nil {
		s.local.Purge()
	}
	if s.shared != nil {
		if err := s.shared.DeletePattern(ctx, "*"); err != nil {
			s.logger.Warn("failed to invalidate entitlement cache", "error", err)
		}
	}
}

func (s *EntitlementCacheService) remember(key string, v CachedEntitlements) {
	if s.local != nil {
		s.local.Add(key, v)
	}
}
