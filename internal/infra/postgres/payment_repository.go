package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/pagination"
)

const paymentColumns = `
	id, organization_id, subscription_id, amount, currency, discount_code_id, discount_amount,
	status, payment_method, period_start, period_end, confirmed_by, confirmed_at, rejection_reason,
	created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(q Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

var _ payment.Repository = (*PaymentRepository)(nil)

// Create persists a new payment record.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Record) error {
	query := `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.q.ExecContext(ctx, query,
		p.ID(), p.OrganizationID(), p.SubscriptionID(), p.Amount(), string(p.Currency()),
		p.DiscountCodeID(), p.DiscountAmount(), string(p.Status()), string(p.Method()),
		nullTime(p.PeriodStart()), nullTime(p.PeriodEnd()), p.ConfirmedBy(), nullTime(p.ConfirmedAt()),
		nullString(p.RejectionReason()), p.CreatedAt(), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to create payment record: %w", classify(err))
	}
	return nil
}

// Update persists status, decision and linkage fields.
func (r *PaymentRepository) Update(ctx context.Context, p *payment.Record) error {
	query := `
		UPDATE payment_records
		SET subscription_id = $2, discount_code_id = $3, discount_amount = $4, status = $5,
		    period_start = $6, period_end = $7, confirmed_by = $8, confirmed_at = $9,
		    rejection_reason = $10, updated_at = $11
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		p.ID(), p.SubscriptionID(), p.DiscountCodeID(), p.DiscountAmount(), string(p.Status()),
		nullTime(p.PeriodStart()), nullTime(p.PeriodEnd()), p.ConfirmedBy(), nullTime(p.ConfirmedAt()),
		nullString(p.RejectionReason()), p.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update payment record: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return payment.ErrPaymentNotFound
	}
	return nil
}

// GetByID retrieves a payment record.
func (r *PaymentRepository) GetByID(ctx context.Context, id shared.ID) (*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id = $1`
	return scanPayment(r.q.QueryRowContext(ctx, query, id))
}

// GetByIDForUpdate retrieves and row-locks a payment record.
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id shared.ID) (*payment.Record, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id = $1 FOR UPDATE`
	p, err := scanPayment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

// ListByOrganization returns an organization's payments, newest first.
func (r *PaymentRepository) ListByOrganization(ctx context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*payment.Record], error) {
	var total int64
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_records WHERE organization_id = $1`, orgID).Scan(&total); err != nil {
		return pagination.Result[*payment.Record]{}, fmt.Errorf("failed to count payment records: %w", err)
	}

	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.q.QueryContext(ctx, query, orgID, page.Limit(), page.Offset())
	if err != nil {
		return pagination.Result[*payment.Record]{}, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	records := make([]*payment.Record, 0, page.Limit())
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return pagination.Result[*payment.Record]{}, err
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*payment.Record]{}, fmt.Errorf("failed to iterate payment records: %w", err)
	}
	return pagination.NewResult(records, total, page), nil
}

func scanPayment(s scanner) (*payment.Record, error) {
	var (
		id, orgID, subscriptionID, discountCodeID, confirmedBy shared.ID
		amount, discountAmount                                 decimal.Decimal
		currency, status, method                               string
		periodStart, periodEnd, confirmedAt                    sql.NullTime
		rejectionReason                                        sql.NullString
		createdAt, updatedAt                                   time.Time
	)
	err := s.Scan(
		&id, &orgID, &subscriptionID, &amount, &currency, &discountCodeID, &discountAmount,
		&status, &method, &periodStart, &periodEnd, &confirmedBy, &confirmedAt, &rejectionReason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment record: %w", err)
	}
	return payment.Reconstruct(
		id, orgID, subscriptionID, amount, shared.Currency(currency), discountCodeID, discountAmount,
		payment.Status(status), payment.Method(method), nullTimeValue(periodStart), nullTimeValue(periodEnd),
		confirmedBy, nullTimeValue(confirmedAt), nullStringValue(rejectionReason),
		createdAt.UTC(), updatedAt.UTC(),
	), nil
}
