package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

const planColumns = `
	id, slug, name, description, prices, trial_days, grace_period_days, readonly_period_days,
	max_schools, is_active, is_default, sort_order, created_at, updated_at`

// PlanRepository implements plan.Repository using PostgreSQL.
// Feature flags and limits live in plan_features and plan_limits.
type PlanRepository struct {
	q Querier
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(q Querier) *PlanRepository {
	return &PlanRepository{q: q}
}

var _ plan.Repository = (*PlanRepository)(nil)

// Create persists a new plan with its features and limits.
func (r *PlanRepository) Create(ctx context.Context, p *plan.Plan) error {
	prices, err := toJSONB(p.Prices())
	if err != nil {
		return fmt.Errorf("failed to marshal prices: %w", err)
	}
	periods := p.Periods()

	query := `
		INSERT INTO plans (` + planColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.q.ExecContext(ctx, query,
		p.ID(), p.Slug(), p.Name(), p.Description(), prices,
		periods.TrialDays, periods.GraceDays, periods.ReadonlyDays,
		p.MaxSchools(), p.IsActive(), p.IsDefault(), p.SortOrder(),
		p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "plans_slug_key") {
			return plan.ErrPlanSlugExists
		}
		return fmt.Errorf("failed to create plan: %w", classify(err))
	}
	return r.replaceChildren(ctx, p)
}

// Update replaces a plan's fields, features and limits. The slug is immutable.
func (r *PlanRepository) Update(ctx context.Context, p *plan.Plan) error {
	prices, err := toJSONB(p.Prices())
	if err != nil {
		return fmt.Errorf("failed to marshal prices: %w", err)
	}
	periods := p.Periods()

	query := `
		UPDATE plans
		SET name = $2, description = $3, prices = $4, trial_days = $5, grace_period_days = $6,
		    readonly_period_days = $7, max_schools = $8, is_active = $9, is_default = $10,
		    sort_order = $11, updated_at = $12
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		p.ID(), p.Name(), p.Description(), prices,
		periods.TrialDays, periods.GraceDays, periods.ReadonlyDays,
		p.MaxSchools(), p.IsActive(), p.IsDefault(), p.SortOrder(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return plan.ErrPlanNotFound
	}
	return r.replaceChildren(ctx, p)
}

func (r *PlanRepository) replaceChildren(ctx context.Context, p *plan.Plan) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM plan_features WHERE plan_id = $1`, p.ID()); err != nil {
		return fmt.Errorf("failed to clear plan features: %w", err)
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM plan_limits WHERE plan_id = $1`, p.ID()); err != nil {
		return fmt.Errorf("failed to clear plan limits: %w", err)
	}

	features := p.Features()
	if len(features) > 0 {
		keys := make([]string, 0, len(features))
		enabled := make([]bool, 0, len(features))
		for _, k := range p.FeatureKeys() {
			keys = append(keys, k)
			enabled = append(enabled, features[k])
		}
		query := `
			INSERT INTO plan_features (plan_id, feature_key, is_enabled)
			SELECT $1, k, e FROM unnest($2::text[], $3::boolean[]) AS t(k, e)
		`
		if _, err := r.q.ExecContext(ctx, query, p.ID(), pq.Array(keys), pq.Array(enabled)); err != nil {
			return fmt.Errorf("failed to insert plan features: %w", err)
		}
	}

	limits := p.Limits()
	if len(limits) > 0 {
		keys := make([]string, 0, len(limits))
		values := make([]int64, 0, len(limits))
		for k, v := range limits {
			keys = append(keys, k)
			values = append(values, v)
		}
		query := `
			INSERT INTO plan_limits (plan_id, resource_key, limit_value)
			SELECT $1, k, v FROM unnest($2::text[], $3::bigint[]) AS t(k, v)
		`
		if _, err := r.q.ExecContext(ctx, query, p.ID(), pq.Array(keys), pq.Array(values)); err != nil {
			return fmt.Errorf("failed to insert plan limits: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a plan by its ID, including inactive plans.
func (r *PlanRepository) GetByID(ctx context.Context, id shared.ID) (*plan.Plan, error) {
	return r.getOne(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
}

// GetBySlug retrieves a plan by its slug.
func (r *PlanRepository) GetBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	return r.getOne(ctx, `SELECT `+planColumns+` FROM plans WHERE slug = $1`, slug)
}

// GetDefault retrieves the active default plan.
func (r *PlanRepository) GetDefault(ctx context.Context) (*plan.Plan, error) {
	p, err := r.getOne(ctx, `SELECT `+planColumns+` FROM plans WHERE is_default AND is_active`)
	if errors.Is(err, plan.ErrPlanNotFound) {
		return nil, plan.ErrNoDefaultPlan
	}
	return p, err
}

// List returns plans ordered by sort order.
func (r *PlanRepository) List(ctx context.Context, activeOnly bool) ([]*plan.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY sort_order, slug`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var rs []planRow
	for rows.Next() {
		row, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		rs = append(rs, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return r.hydrate(ctx, rs)
}

// SetDefault makes the given plan the only default plan. Callers run it in a transaction.
func (r *PlanRepository) SetDefault(ctx context.Context, id shared.ID) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE plans SET is_default = FALSE WHERE is_default AND id <> $1`, id); err != nil {
		return fmt.Errorf("failed to clear default plan: %w", classify(err))
	}
	result, err := r.q.ExecContext(ctx, `UPDATE plans SET is_default = TRUE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("failed to set default plan: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return plan.ErrInvalidPlan
	}
	return nil
}

func (r *PlanRepository) getOne(ctx context.Context, query string, args ...any) (*plan.Plan, error) {
	row, err := scanPlanRow(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, plan.ErrPlanNotFound
		}
		return nil, err
	}
	plans, err := r.hydrate(ctx, []planRow{row})
	if err != nil {
		return nil, err
	}
	return plans[0], nil
}

// hydrate loads features and limits for all rows in two queries.
func (r *PlanRepository) hydrate(ctx context.Context, rs []planRow) ([]*plan.Plan, error) {
	if len(rs) == 0 {
		return []*plan.Plan{}, nil
	}
	ids := make([]shared.ID, len(rs))
	for i, row := range rs {
		ids[i] = row.id
	}

	features := make(map[string]map[string]bool, len(rs))
	rows, err := r.q.QueryContext(ctx,
		`SELECT plan_id, feature_key, is_enabled FROM plan_features WHERE plan_id = ANY($1)`,
		pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to load plan features: %w", err)
	}
	for rows.Next() {
		var planID, key string
		var enabled bool
		if err := rows.Scan(&planID, &key, &enabled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan feature: %w", err)
		}
		if features[planID] == nil {
			features[planID] = make(map[string]bool)
		}
		features[planID][key] = enabled
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan features: %w", err)
	}

	limits := make(map[string]map[string]int64, len(rs))
	rows, err = r.q.QueryContext(ctx,
		`SELECT plan_id, resource_key, limit_value FROM plan_limits WHERE plan_id = ANY($1)`,
		pq.Array(idStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to load plan limits: %w", err)
	}
	for rows.Next() {
		var planID, key string
		var value int64
		if err := rows.Scan(&planID, &key, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan plan limit: %w", err)
		}
		if limits[planID] == nil {
			limits[planID] = make(map[string]int64)
		}
		limits[planID][key] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan limits: %w", err)
	}

	out := make([]*plan.Plan, len(rs))
	for i, row := range rs {
		key := row.id.String()
		out[i] = plan.Reconstruct(
			row.id, row.slug, row.name, row.description, row.prices, row.periods,
			row.maxSchools, row.isActive, row.isDefault, row.sortOrder,
			features[key], limits[key], row.createdAt, row.updatedAt,
		)
	}
	return out, nil
}

type planRow struct {
	id          shared.ID
	slug        string
	name        string
	description string
	prices      map[shared.Currency]plan.Pricing
	periods     plan.Periods
	maxSchools  int64
	isActive    bool
	isDefault   bool
	sortOrder   int
	createdAt   time.Time
	updatedAt   time.Time
}

func scanPlanRow(s scanner) (planRow, error) {
	var (
		row         planRow
		description sql.NullString
		prices      []byte
	)
	err := s.Scan(
		&row.id, &row.slug, &row.name, &description, &prices,
		&row.periods.TrialDays, &row.periods.GraceDays, &row.periods.ReadonlyDays,
		&row.maxSchools, &row.isActive, &row.isDefault, &row.sortOrder,
		&row.createdAt, &row.updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, err
		}
		return row, fmt.Errorf("failed to scan plan: %w", err)
	}
	row.description = nullStringValue(description)
	if err := fromJSONB(prices, &row.prices); err != nil {
		return row, fmt.Errorf("failed to unmarshal plan prices: %w", err)
	}
	return row, nil
}
