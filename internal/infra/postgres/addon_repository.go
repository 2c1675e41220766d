package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// AddonRepository implements feature.AddonRepository using PostgreSQL.
type AddonRepository struct {
	q Querier
}

// NewAddonRepository creates a new AddonRepository.
func NewAddonRepository(q Querier) *AddonRepository {
	return &AddonRepository{q: q}
}

var _ feature.AddonRepository = (*AddonRepository)(nil)

// Create persists a new addon.
func (r *AddonRepository) Create(ctx context.Context, a *feature.Addon) error {
	query := `
		INSERT INTO feature_addons (id, organization_id, feature_key, is_enabled, started_at, expires_at,
		                            price_paid, currency, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.q.ExecContext(ctx, query,
		a.ID(), a.OrganizationID(), a.FeatureKey(), a.IsEnabled(), a.StartedAt(), nullTime(a.ExpiresAt()),
		a.PricePaid(), string(a.Currency()), a.CreatedBy(), a.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to create feature addon: %w", classify(err))
	}
	return nil
}

// ListByOrganization returns all non-deleted addons of an organization, oldest first.
func (r *AddonRepository) ListByOrganization(ctx context.Context, orgID shared.ID) ([]*feature.Addon, error) {
	query := `
		SELECT id, organization_id, feature_key, is_enabled, started_at, expires_at,
		       price_paid, currency, created_by, created_at, deleted_at
		FROM feature_addons
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`
	rows, err := r.q.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature addons: %w", err)
	}
	defer rows.Close()

	addons := make([]*feature.Addon, 0)
	for rows.Next() {
		var (
			id, org, createdBy   shared.ID
			key, currency        string
			enabled              bool
			startedAt, createdAt time.Time
			expiresAt, deletedAt sql.NullTime
			price                decimal.Decimal
		)
		if err := rows.Scan(&id, &org, &key, &enabled, &startedAt, &expiresAt,
			&price, &currency, &createdBy, &createdAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature addon: %w", err)
		}
		addons = append(addons, feature.ReconstructAddon(
			id, org, key, enabled, startedAt.UTC(), nullTimeValue(expiresAt),
			price, shared.Currency(currency), createdBy, createdAt.UTC(), nullTimeValue(deletedAt),
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feature addons: %w", err)
	}
	return addons, nil
}
