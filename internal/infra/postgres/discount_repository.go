package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

const discountColumns = `
	id, code, discount_type, value, max_discount_amount, currency, applicable_plan_id,
	max_uses, max_uses_per_org, used_count, valid_from, valid_until, is_active, created_at`

// DiscountRepository implements discount.Repository using PostgreSQL.
type DiscountRepository struct {
	q Querier
}

// NewDiscountRepository creates a new DiscountRepository.
func NewDiscountRepository(q Querier) *DiscountRepository {
	return &DiscountRepository{q: q}
}

var _ discount.Repository = (*DiscountRepository)(nil)

// Create persists a new code.
func (r *DiscountRepository) Create(ctx context.Context, c *discount.Code) error {
	query := `
		INSERT INTO discount_codes (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	var maxDiscount decimal.NullDecimal
	if m := c.MaxDiscountAmount(); m != nil {
		maxDiscount = decimal.NewNullDecimal(*m)
	}
	_, err := r.q.ExecContext(ctx, query,
		c.ID(), c.Code(), string(c.Type()), c.Value(), maxDiscount, nullString(string(c.Currency())),
		c.ApplicablePlanID(), nullInt(c.MaxUses()), c.MaxUsesPerOrg(), c.UsedCount(),
		c.ValidFrom(), nullTime(c.ValidUntil()), c.IsActive(), c.CreatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "discount_codes_code_key") {
			return discount.ErrDiscountCodeExists
		}
		return fmt.Errorf("failed to create discount code: %w", classify(err))
	}
	return nil
}

// GetByID retrieves a code by its ID.
func (r *DiscountRepository) GetByID(ctx context.Context, id shared.ID) (*discount.Code, error) {
	query := `SELECT ` + discountColumns + ` FROM discount_codes WHERE id = $1`
	return scanDiscount(r.q.QueryRowContext(ctx, query, id))
}

// GetByCode retrieves a code by its normalized code.
func (r *DiscountRepository) GetByCode(ctx context.Context, code string) (*discount.Code, error) {
	query := `SELECT ` + discountColumns + ` FROM discount_codes WHERE code = $1`
	return scanDiscount(r.q.QueryRowContext(ctx, query, discount.NormalizeCode(code)))
}

// List returns codes, newest first.
func (r *DiscountRepository) List(ctx context.Context, activeOnly bool) ([]*discount.Code, error) {
	query := `SELECT ` + discountColumns + ` FROM discount_codes`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC, code`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list discount codes: %w", err)
	}
	defer rows.Close()

	codes := make([]*discount.Code, 0)
	for rows.Next() {
		c, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate discount codes: %w", err)
	}
	return codes, nil
}

// SetActive flips the active flag.
func (r *DiscountRepository) SetActive(ctx context.Context, id shared.ID, active bool) error {
	result, err := r.q.ExecContext(ctx, `UPDATE discount_codes SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update discount code: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return discount.ErrCodeNotFound
	}
	return nil
}

// CountUses returns how many times an organization used a code.
func (r *DiscountRepository) CountUses(ctx context.Context, codeID, orgID shared.ID) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM discount_code_usages WHERE discount_code_id = $1 AND organization_id = $2`
	if err := r.q.QueryRowContext(ctx, query, codeID, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count discount uses: %w", err)
	}
	return n, nil
}

// RecordUse increments the global counter only while it is below max_uses, then
// stores the use. Zero rows updated means the cap was reached.
func (r *DiscountRepository) RecordUse(ctx context.Context, use discount.Use) error {
	query := `
		UPDATE discount_codes
		SET used_count = used_count + 1
		WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)
	`
	result, err := r.q.ExecContext(ctx, query, use.CodeID)
	if err != nil {
		return fmt.Errorf("failed to increment discount usage: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return discount.ErrUsageExceeded
	}

	query = `
		INSERT INTO discount_code_usages (id, discount_code_id, organization_id, renewal_request_id, used_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.q.ExecContext(ctx, query, use.ID, use.CodeID, use.OrganizationID, use.RenewalID, use.UsedAt); err != nil {
		return fmt.Errorf("failed to record discount use: %w", classify(err))
	}
	return nil
}

func scanDiscount(s scanner) (*discount.Code, error) {
	var (
		id, planID               shared.ID
		code, discountType       string
		value                    decimal.Decimal
		maxDiscount              decimal.NullDecimal
		currency                 sql.NullString
		maxUses                  sql.NullInt64
		maxUsesPerOrg, usedCount int
		validFrom, createdAt     time.Time
		validUntil               sql.NullTime
		isActive                 bool
	)
	err := s.Scan(
		&id, &code, &discountType, &value, &maxDiscount, &currency, &planID,
		&maxUses, &maxUsesPerOrg, &usedCount, &validFrom, &validUntil, &isActive, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, discount.ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to scan discount code: %w", err)
	}
	var maxDiscountAmount *decimal.Decimal
	if maxDiscount.Valid {
		maxDiscountAmount = &maxDiscount.Decimal
	}
	return discount.Reconstruct(
		id, code, discount.Type(discountType), value, maxDiscountAmount,
		shared.Currency(nullStringValue(currency)), planID, nullIntValue(maxUses),
		maxUsesPerOrg, usedCount, validFrom.UTC(), nullTimeValue(validUntil), isActive, createdAt.UTC(),
	), nil
}
