package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
)

const subscriptionColumns = `
	id, organization_id, plan_id, status, started_at, trial_ends_at, expires_at, grace_ends_at,
	readonly_ends_at, additional_schools, suspended_reason, cancelled_at, last_transition_at,
	created_at, updated_at`

// SubscriptionRepository implements subscription.Repository using PostgreSQL.
type SubscriptionRepository struct {
	q Querier
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(q Querier) *SubscriptionRepository {
	return &SubscriptionRepository{q: q}
}

var _ subscription.Repository = (*SubscriptionRepository)(nil)

// Create persists a new subscription. organization_id is unique.
func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.q.ExecContext(ctx, query,
		s.ID(), s.OrganizationID(), s.PlanID(), string(s.Status()), s.StartedAt(),
		nullTime(s.TrialEndsAt()), nullTime(s.ExpiresAt()), nullTime(s.GraceEndsAt()),
		nullTime(s.ReadonlyEndsAt()), s.AdditionalSchools(), nullString(s.SuspendedReason()),
		nullTime(s.CancelledAt()), nullTime(s.LastTransitionAt()), s.CreatedAt(), s.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err, "subscriptions_organization_id_key") {
			return shared.NewDomainError("SUBSCRIPTION_EXISTS", "organization already has a subscription", shared.ErrConflict)
		}
		return fmt.Errorf("failed to create subscription: %w", classify(err))
	}
	return nil
}

// Update persists the mutable fields of a subscription.
func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	query := `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, trial_ends_at = $4, expires_at = $5, grace_ends_at = $6,
		    readonly_ends_at = $7, additional_schools = $8, suspended_reason = $9, cancelled_at = $10,
		    last_transition_at = $11, updated_at = $12
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		s.ID(), s.PlanID(), string(s.Status()),
		nullTime(s.TrialEndsAt()), nullTime(s.ExpiresAt()), nullTime(s.GraceEndsAt()),
		nullTime(s.ReadonlyEndsAt()), s.AdditionalSchools(), nullString(s.SuspendedReason()),
		nullTime(s.CancelledAt()), nullTime(s.LastTransitionAt()), s.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", classify(err))
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

// GetByOrganization retrieves an organization's subscription without locking.
func (r *SubscriptionRepository) GetByOrganization(ctx context.Context, orgID shared.ID) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE organization_id = $1`
	return scanSubscription(r.q.QueryRowContext(ctx, query, orgID))
}

// GetByOrganizationForUpdate retrieves and row-locks an organization's subscription.
func (r *SubscriptionRepository) GetByOrganizationForUpdate(ctx context.Context, orgID shared.ID) (*subscription.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE organization_id = $1 FOR UPDATE`
	s, err := scanSubscription(r.q.QueryRowContext(ctx, query, orgID))
	if err != nil {
		return nil, classify(err)
	}
	return s, nil
}

// ListDueForTransition returns organizations with a time-driven transition due.
// Only timestamps are compared here; the caller re-checks each row under lock.
func (r *SubscriptionRepository) ListDueForTransition(ctx context.Context, now time.Time, limit int) ([]shared.ID, error) {
	query := `
		SELECT organization_id
		FROM subscriptions
		WHERE (status = 'trial' AND trial_ends_at <= $1)
		   OR (status = 'active' AND expires_at <= $1)
		   OR (status = 'grace_period' AND grace_ends_at <= $1)
		   OR (status = 'readonly' AND readonly_ends_at <= $1)
		ORDER BY last_transition_at NULLS FIRST, organization_id
		LIMIT $2
	`
	rows, err := r.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	return scanIDs(rows)
}

// ListOrganizationIDs returns every organization holding a subscription.
func (r *SubscriptionRepository) ListOrganizationIDs(ctx context.Context) ([]shared.ID, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT organization_id FROM subscriptions ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]shared.ID, error) {
	defer rows.Close()
	ids := make([]shared.ID, 0)
	for rows.Next() {
		var id shared.ID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

func scanSubscription(s scanner) (*subscription.Subscription, error) {
	var (
		id, orgID, planID                                   shared.ID
		status                                              string
		startedAt, createdAt, updatedAt                     time.Time
		trialEndsAt, expiresAt, graceEndsAt, readonlyEndsAt sql.NullTime
		additionalSchools                                   int
		suspendedReason                                     sql.NullString
		cancelledAt, lastTransitionAt                       sql.NullTime
	)
	err := s.Scan(
		&id, &orgID, &planID, &status, &startedAt, &trialEndsAt, &expiresAt, &graceEndsAt,
		&readonlyEndsAt, &additionalSchools, &suspendedReason, &cancelledAt, &lastTransitionAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return subscription.Reconstruct(
		id, orgID, planID, subscription.Status(status), startedAt.UTC(),
		nullTimeValue(trialEndsAt), nullTimeValue(expiresAt), nullTimeValue(graceEndsAt), nullTimeValue(readonlyEndsAt),
		additionalSchools, nullStringValue(suspendedReason),
		nullTimeValue(cancelledAt), nullTimeValue(lastTransitionAt),
		createdAt.UTC(), updatedAt.UTC(),
	), nil
}
