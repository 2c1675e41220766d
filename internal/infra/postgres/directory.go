package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

// OrganizationDirectory answers existence checks against the organizations table.
type OrganizationDirectory struct {
	q Querier
}

// NewOrganizationDirectory creates a new OrganizationDirectory.
func NewOrganizationDirectory(q Querier) *OrganizationDirectory {
	return &OrganizationDirectory{q: q}
}

var _ subscription.OrganizationDirectory = (*OrganizationDirectory)(nil)

// Exists reports whether the organization exists and is not deleted.
func (d *OrganizationDirectory) Exists(ctx context.Context, orgID shared.ID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1 AND deleted_at IS NULL)`
	if err := d.q.QueryRowContext(ctx, query, orgID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check organization existence: %w", err)
	}
	return exists, nil
}

// ResourceCounter counts live rows of tenant-owned tables. Each resource key maps
// to a table with organization_id and deleted_at columns.
type ResourceCounter struct {
	q      Querier
	tables map[string]string
	keys   []string
}

// NewResourceCounter creates a counter for the resource -> table map.
func NewResourceCounter(q Querier, tables map[string]string) *ResourceCounter {
	t := make(map[string]string, len(tables))
	keys := make([]string, 0, len(tables))
	for k, v := range tables {
		t[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &ResourceCounter{q: q, tables: t, keys: keys}
}

var _ usage.Counter = (*ResourceCounter)(nil)

// Count returns the live count of a resource for an organization.
func (c *ResourceCounter) Count(ctx context.Context, orgID shared.ID, resourceKey string) (int64, error) {
	table, ok := c.tables[resourceKey]
	if !ok {
		return 0, fmt.Errorf("%w: %s", usage.ErrUnknownResource, resourceKey)
	}
	// Table names come from configuration, never from request input.
	query := `SELECT COUNT(*) FROM ` + pq.QuoteIdentifier(table) + ` WHERE organization_id = $1 AND deleted_at IS NULL`

	var n int64
	if err := c.q.QueryRowContext(ctx, query, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", resourceKey, err)
	}
	return n, nil
}

// ResourceKeys lists every resource this counter can count.
func (c *ResourceCounter) ResourceKeys() []string {
	return append([]string(nil), c.keys...)
}
