package usage

import (
	"time"

	"github.com/openctemio/entitlements/pkg/domain/plan"
)

// DefaultLimit applies when neither an override nor the plan defines a limit.
// Zero denies, so a misconfigured resource fails closed.
const DefaultLimit int64 = 0

// LimitSource tells where an effective limit came from.
type LimitSource string

const (
	SourceOverride LimitSource = "override"
	SourcePlan     LimitSource = "plan"
	SourceDefault  LimitSource = "default"
)

// EffectiveLimit is a resolved limit and its origin.
type EffectiveLimit struct {
	Value  int64       `json:"limit"`
	Source LimitSource `json:"source"`
}

// IsUnlimited reports whether the limit imposes no cap.
func (l EffectiveLimit) IsUnlimited() bool {
	return plan.IsUnlimited(l.Value)
}

// Allows reports whether usage is strictly below the limit.
func (l EffectiveLimit) Allows(usage int64) bool {
	if l.IsUnlimited() {
		return true
	}
	return usage < l.Value
}

// Remaining returns how many more units fit under the limit, or -1 when unlimited.
func (l EffectiveLimit) Remaining(usage int64) int64 {
	if l.IsUnlimited() {
		return plan.Unlimited
	}
	if r := l.Value - usage; r > 0 {
		return r
	}
	return 0
}

// ResolveLimit is the single place limit precedence is decided: the most recently
// created active override wins, then the plan limit, then DefaultLimit.
// planLimits may be nil when the organization has no plan.
func ResolveLimit(resourceKey string, overrides []*Override, planLimits map[string]int64, at time.Time) EffectiveLimit {
	var chosen *Override
	for _, o := range overrides {
		if o.resourceKey != resourceKey || !o.IsActiveAt(at) {
			continue
		}
		if chosen == nil || o.createdAt.After(chosen.createdAt) {
			chosen = o
		}
	}
	if chosen != nil {
		return EffectiveLimit{Value: chosen.limitValue, Source: SourceOverride}
	}
	if v, ok := planLimits[resourceKey]; ok {
		return EffectiveLimit{Value: v, Source: SourcePlan}
	}
	return EffectiveLimit{Value: DefaultLimit, Source: SourceDefault}
}

// Check is the detailed answer to "can one more unit of this resource be created".
type Check struct {
	ResourceKey string      `json:"resource_key"`
	Allowed     bool        `json:"allowed"`
	Usage       int64       `json:"usage"`
	Limit       int64       `json:"limit"`
	Remaining   int64       `json:"remaining"`
	Source      LimitSource `json:"source"`
}

// NewCheck combines a usage count with its effective limit.
func NewCheck(resourceKey string, usage int64, limit EffectiveLimit) Check {
	return Check{
		ResourceKey: resourceKey,
		Allowed:     limit.Allows(usage),
		Usage:       usage,
		Limit:       limit.Value,
		Remaining:   limit.Remaining(usage),
		Source:      limit.Source,
	}
}
