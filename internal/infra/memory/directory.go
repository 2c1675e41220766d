package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

// Organizations is a subscription.OrganizationDirectory backed by a set.
type Organizations struct {
	mu  sync.RWMutex
	ids map[shared.ID]struct{}
}

var _ subscription.OrganizationDirectory = (*Organizations)(nil)

// NewOrganizations creates a directory holding ids.
func NewOrganizations(ids ...shared.ID) *Organizations {
	o := &Organizations{ids: make(map[shared.ID]struct{}, len(ids))}
	for _, id := range ids {
		o.ids[id] = struct{}{}
	}
	return o
}

// Add registers an organization.
func (o *Organizations) Add(id shared.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids[id] = struct{}{}
}

func (o *Organizations) Exists(_ context.Context, id shared.ID) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.ids[id]
	return ok, nil
}

// Counter is a usage.Counter holding counts set by the caller.
type Counter struct {
	mu     sync.RWMutex
	keys   []string
	counts map[shared.ID]map[string]int64
}

var _ usage.Counter = (*Counter)(nil)

// NewCounter creates a counter for the given resource keys.
func NewCounter(keys ...string) *Counter {
	k := append([]string(nil), keys...)
	sort.Strings(k)
	return &Counter{keys: k, counts: make(map[shared.ID]map[string]int64)}
}

// Set fixes the live count of a resource.
func (c *Counter) Set(orgID shared.ID, resourceKey string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[orgID] == nil {
		c.counts[orgID] = make(map[string]int64)
	}
	c.counts[orgID][resourceKey] = n
}

func (c *Counter) Count(_ context.Context, orgID shared.ID, resourceKey string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.known(resourceKey) {
		return 0, usage.ErrUnknownResource
	}
	return c.counts[orgID][resourceKey], nil
}

func (c *Counter) ResourceKeys() []string {
	return append([]string(nil), c.keys...)
}

func (c *Counter) known(key string) bool {
	i := sort.SearchStrings(c.keys, key)
	return i < len(c.keys) && c.keys[i] == key
}
