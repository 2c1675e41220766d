package feature

import (
	"sort"
	"time"
)

// Entitlements is everything needed to resolve an organization's features at any
// point in time without further reads.
type Entitlements struct {
	// GrantsFeatures is false when the subscription status blocks all features
	// or the organization has no subscription.
	GrantsFeatures bool
	PlanFeatures   map[string]bool
	Addons         []*Addon
}

// latestAddon returns the most recently started addon for key that counts at the given time.
func (e Entitlements) latestAddon(key string, at time.Time) *Addon {
	var latest *Addon
	for _, a := range e.Addons {
		if a.featureKey != key || !a.IsActiveAt(at) {
			continue
		}
		if latest == nil || a.startedAt.After(latest.startedAt) ||
			(a.startedAt.Equal(latest.startedAt) && a.createdAt.After(latest.createdAt)) {
			latest = a
		}
	}
	return latest
}

// IsEnabled resolves one feature. Blocked statuses disable everything; otherwise
// the result is Granted. Unknown keys are disabled.
func (e Entitlements) IsEnabled(key string, at time.Time) bool {
	return e.GrantsFeatures && e.Granted(key, at)
}

// Granted resolves a feature from the plan and addons alone, ignoring the
// subscription status. The latest counting addon decides when present, so a
// disabled addon revokes a plan feature.
func (e Entitlements) Granted(key string, at time.Time) bool {
	if a := e.latestAddon(key, at); a != nil {
		return a.isEnabled
	}
	return e.PlanFeatures[key]
}

// EnabledByAddon reports whether the feature is currently granted through an addon.
func (e Entitlements) EnabledByAddon(key string, at time.Time) bool {
	a := e.latestAddon(key, at)
	return a != nil && a.isEnabled
}

// Keys returns every feature key known to the plan or the organization's addons.
func (e Entitlements) Keys() []string {
	seen := make(map[string]struct{}, len(e.PlanFeatures)+len(e.Addons))
	for k := range e.PlanFeatures {
		seen[k] = struct{}{}
	}
	for _, a := range e.Addons {
		seen[a.featureKey] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the resolved state of every known feature.
func (e Entitlements) Resolve(at time.Time) map[string]bool {
	keys := e.Keys()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = e.IsEnabled(k, at)
	}
	return out
}
