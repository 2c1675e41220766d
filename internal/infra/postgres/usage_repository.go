package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

// OverrideRepository implements usage.OverrideRepository using PostgreSQL.
type OverrideRepository struct {
	q Querier
}

// NewOverrideRepository creates a new OverrideRepository.
func NewOverrideRepository(q Querier) *OverrideRepository {
	return &OverrideRepository{q: q}
}

var _ usage.OverrideRepository = (*OverrideRepository)(nil)

// Create persists a new override.
func (r *OverrideRepository) Create(ctx context.Context, o *usage.Override) error {
	query := `
		INSERT INTO limit_overrides (id, organization_id, resource_key, limit_value, reason, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.ExecContext(ctx, query,
		o.ID(), o.OrganizationID(), o.ResourceKey(), o.LimitValue(), o.Reason(),
		nullTime(o.ExpiresAt()), o.CreatedBy(), o.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to create limit override: %w", classify(err))
	}
	return nil
}

// ListByOrganization returns all overrides of an organization, oldest first.
func (r *OverrideRepository) ListByOrganization(ctx context.Context, orgID shared.ID) ([]*usage.Override, error) {
	query := `
		SELECT id, organization_id, resource_key, limit_value, reason, expires_at, created_by, created_at
		FROM limit_overrides
		WHERE organization_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.q.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list limit overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]*usage.Override, 0)
	for rows.Next() {
		var (
			id, org, createdBy shared.ID
			key, reason        string
			value              int64
			expiresAt          sql.NullTime
			createdAt          time.Time
		)
		if err := rows.Scan(&id, &org, &key, &value, &reason, &expiresAt, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan limit override: %w", err)
		}
		overrides = append(overrides, usage.ReconstructOverride(
			id, org, key, value, reason, nullTimeValue(expiresAt), createdBy, createdAt.UTC(),
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate limit overrides: %w", err)
	}
	return overrides, nil
}

// SnapshotRepository implements usage.SnapshotRepository using PostgreSQL.
type SnapshotRepository struct {
	q Querier
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(q Querier) *SnapshotRepository {
	return &SnapshotRepository{q: q}
}

var _ usage.SnapshotRepository = (*SnapshotRepository)(nil)

// Save upserts snapshots keyed by (organization, date, resource) in one statement.
func (r *SnapshotRepository) Save(ctx context.Context, snapshots []usage.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	var (
		ids, orgs, dates, keys []string
		counts                 []int64
		captured               []string
	)
	for _, s := range snapshots {
		ids = append(ids, s.ID.String())
		orgs = append(orgs, s.OrganizationID.String())
		dates = append(dates, s.SnapshotDate.Format(time.DateOnly))
		keys = append(keys, s.ResourceKey)
		counts = append(counts, s.Count)
		captured = append(captured, s.CapturedAt.UTC().Format(time.RFC3339Nano))
	}

	query := `
		INSERT INTO usage_snapshots (id, organization_id, snapshot_date, resource_key, count, captured_at)
		SELECT * FROM unnest($1::uuid[], $2::uuid[], $3::date[], $4::text[], $5::bigint[], $6::timestamptz[])
		ON CONFLICT (organization_id, snapshot_date, resource_key)
		DO UPDATE SET count = EXCLUDED.count, captured_at = EXCLUDED.captured_at
	`
	_, err := r.q.ExecContext(ctx, query,
		pq.Array(ids), pq.Array(orgs), pq.Array(dates), pq.Array(keys), pq.Array(counts), pq.Array(captured),
	)
	if err != nil {
		return fmt.Errorf("failed to save usage snapshots: %w", classify(err))
	}
	return nil
}

// List returns an organization's snapshots with snapshot_date in [from, to].
func (r *SnapshotRepository) List(ctx context.Context, orgID shared.ID, from, to time.Time) ([]usage.Snapshot, error) {
	query := `
		SELECT id, organization_id, snapshot_date, resource_key, count, captured_at
		FROM usage_snapshots
		WHERE organization_id = $1 AND snapshot_date BETWEEN $2::date AND $3::date
		ORDER BY snapshot_date, resource_key
	`
	rows, err := r.q.QueryContext(ctx, query, orgID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]usage.Snapshot, 0)
	for rows.Next() {
		var s usage.Snapshot
		if err := rows.Scan(&s.ID, &s.OrganizationID, &s.SnapshotDate, &s.ResourceKey, &s.Count, &s.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage snapshot: %w", err)
		}
		s.SnapshotDate = s.SnapshotDate.UTC()
		s.CapturedAt = s.CapturedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage snapshots: %w", err)
	}
	return out, nil
}
