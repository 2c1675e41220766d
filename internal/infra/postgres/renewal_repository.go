package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

const renewalColumns = `
	id, organization_id, subscription_id, requested_plan_id, additional_schools, discount_code_id,
	payment_record_id, status, requested_at, requested_by, decided_by, decided_at, rejection_reason`

// Unique indexes on renewal_requests, see migrations/000004_billing.up.sql.
const (
	renewalPendingIndex = "renewal_requests_one_pending_per_org"
	renewalPaymentIndex = "renewal_requests_payment_record_id_key"
)

// RenewalRepository implements renewal.Repository using PostgreSQL.
type RenewalRepository struct {
	q Querier
}

// NewRenewalRepository creates a new RenewalRepository.
func NewRenewalRepository(q Querier) *RenewalRepository {
	return &RenewalRepository{q: q}
}

var _ renewal.Repository = (*RenewalRepository)(nil)

// Create persists a new request.
func (r *RenewalRepository) Create(ctx context.Context, req *renewal.Request) error {
	query := `
		INSERT INTO renewal_requests (` + renewalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.q.ExecContext(ctx, query,
		req.ID(), req.OrganizationID(), req.SubscriptionID(), req.RequestedPlanID(), req.AdditionalSchools(),
		req.DiscountCodeID(), req.PaymentRecordID(), string(req.Status()), req.RequestedAt(),
		req.RequestedBy(), req.DecidedBy(), nullTime(req.DecidedAt()), nullString(req.RejectionReason()),
	)
	if err != nil {
		return r.mapWriteError("create", err)
	}
	return nil
}

// Update persists decision and payment linkage fields.
func (r *RenewalRepository) Update(ctx context.Context, req *renewal.Request) error {
	query := `
		UPDATE renewal_requests
		SET payment_record_id = $2, status = $3, decided_by = $4, decided_at = $5, rejection_reason = $6
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		req.ID(), req.PaymentRecordID(), string(req.Status()), req.DecidedBy(),
		nullTime(req.DecidedAt()), nullString(req.RejectionReason()),
	)
	if err != nil {
		return r.mapWriteError("update", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return renewal.ErrRenewalNotFound
	}
	return nil
}

func (r *RenewalRepository) mapWriteError(op string, err error) error {
	switch {
	case isUniqueViolation(err, renewalPendingIndex):
		return renewal.ErrPendingExists
	case isUniqueViolation(err, renewalPaymentIndex):
		return payment.ErrPaymentLinked
	default:
		return fmt.Errorf("failed to %s renewal request: %w", op, classify(err))
	}
}

// GetByID retrieves a request without locking.
func (r *RenewalRepository) GetByID(ctx context.Context, id shared.ID) (*renewal.Request, error) {
	query := `SELECT ` + renewalColumns + ` FROM renewal_requests WHERE id = $1`
	return scanRenewal(r.q.QueryRowContext(ctx, query, id))
}

// GetByIDForUpdate retrieves and row-locks a request.
func (r *RenewalRepository) GetByIDForUpdate(ctx context.Context, id shared.ID) (*renewal.Request, error) {
	query := `SELECT ` + renewalColumns + ` FROM renewal_requests WHERE id = $1 FOR UPDATE`
	req, err := scanRenewal(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err)
	}
	return req, nil
}

// ListPending returns pending requests, oldest first.
func (r *RenewalRepository) ListPending(ctx context.Context, limit int) ([]*renewal.Request, error) {
	query := `
		SELECT ` + renewalColumns + `
		FROM renewal_requests
		WHERE status = 'pending'
		ORDER BY requested_at, id
		LIMIT $1
	`
	rows, err := r.q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending renewals: %w", err)
	}
	defer rows.Close()

	out := make([]*renewal.Request, 0)
	for rows.Next() {
		req, err := scanRenewal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending renewals: %w", err)
	}
	return out, nil
}

func scanRenewal(s scanner) (*renewal.Request, error) {
	var (
		id, orgID, subscriptionID, planID shared.ID
		discountCodeID, paymentID         shared.ID
		requestedBy, decidedBy            shared.ID
		additionalSchools                 int
		status                            string
		requestedAt                       time.Time
		decidedAt                         sql.NullTime
		rejectionReason                   sql.NullString
	)
	err := s.Scan(
		&id, &orgID, &subscriptionID, &planID, &additionalSchools, &discountCodeID,
		&paymentID, &status, &requestedAt, &requestedBy, &decidedBy, &decidedAt, &rejectionReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, renewal.ErrRenewalNotFound
		}
		return nil, fmt.Errorf("failed to scan renewal request: %w", err)
	}
	return renewal.Reconstruct(
		id, orgID, subscriptionID, planID, additionalSchools, discountCodeID, paymentID,
		renewal.Status(status), requestedAt.UTC(), requestedBy, decidedBy,
		nullTimeValue(decidedAt), nullStringValue(rejectionReason),
	), nil
}
