package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/pagination"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Wrap(db), mock
}

func TestStore_WithinCommits(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)
	org := shared.NewID()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO subscription_history").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Within(context.Background(), func(ctx context.Context, tx app.Repositories) error {
		return tx.History.Append(ctx, history.NewEntry(org, history.ActionSuspended, shared.SystemActor, time.Now()))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_WithinRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.Within(context.Background(), func(context.Context, app.Repositories) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SerializationFailureOnCommitIsConflict(t *testing.T) {
	db, mock := newMock(t)
	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: codeSerializationFailure})

	err := store.Within(context.Background(), func(context.Context, app.Repositories) error { return nil })
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		conflict bool
	}{
		{"unique violation", &pq.Error{Code: codeUniqueViolation}, true},
		{"serialization failure", &pq.Error{Code: codeSerializationFailure}, true},
		{"deadlock", &pq.Error{Code: codeDeadlockDetected}, true},
		{"lock not available", &pq.Error{Code: codeLockNotAvailable}, true},
		{"foreign key", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("network"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(err, shared.ErrConflict))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPlanRepository_GetByIDLoadsFeaturesAndLimits(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepository(db)
	id := shared.NewID()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM plans WHERE id = \\$1").
		WithArgs(id.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "slug", "name", "description", "prices", "trial_days", "grace_period_days",
			"readonly_period_days", "max_schools", "is_active", "is_default", "sort_order", "created_at", "updated_at",
		}).AddRow(
			id.String(), "basic", "Basic", nil, []byte(`{"USD":{"yearly":"100","per_additional_school":"10"}}`),
			14, 7, 30, int64(3), true, true, 1, now, now,
		))
	mock.ExpectQuery("SELECT plan_id, feature_key, is_enabled FROM plan_features").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id", "feature_key", "is_enabled"}).
			AddRow(id.String(), "reports", true).
			AddRow(id.String(), "sms", false))
	mock.ExpectQuery("SELECT plan_id, resource_key, limit_value FROM plan_limits").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"plan_id", "resource_key", "limit_value"}).
			AddRow(id.String(), "users", int64(5)).
			AddRow(id.String(), "schools", int64(-1)))

	p, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "basic", p.Slug())
	assert.Equal(t, 14, p.TrialDays())
	assert.True(t, p.HasFeature("reports"))
	assert.False(t, p.HasFeature("sms"))
	limit, ok := p.Limit("schools")
	assert.True(t, ok)
	assert.Equal(t, plan.Unlimited, limit)

	price, err := p.BasePrice(shared.CurrencyUSD, 2)
	require.NoError(t, err)
	assert.Equal(t, "120.00", price.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepository_Errors(t *testing.T) {
	db, mock := newMock(t)
	repo := NewPlanRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM plans WHERE is_default AND is_active").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetDefault(context.Background())
	assert.ErrorIs(t, err, plan.ErrNoDefaultPlan)

	mock.ExpectExec("UPDATE plans SET is_default = FALSE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE plans SET is_default = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.SetDefault(context.Background(), shared.NewID())
	assert.ErrorIs(t, err, plan.ErrInvalidPlan)

	p, err := plan.NewPlan("basic", "Basic", nil, plan.Periods{TrialDays: 14}, 1)
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO plans").WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: "plans_slug_key"})
	err = repo.Create(context.Background(), p)
	assert.ErrorIs(t, err, plan.ErrPlanSlugExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSubscriptionRepository(db)
	p, err := plan.NewPlan("basic", "Basic", nil, plan.Periods{TrialDays: 14}, 1)
	require.NoError(t, err)
	sub, err := subscription.NewTrial(shared.NewID(), p, time.Now())
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: "subscriptions_organization_id_key"})

	err = repo.Create(context.Background(), sub)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_GetForUpdate(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSubscriptionRepository(db)
	org := shared.NewID()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	trialEnds := now.AddDate(0, 0, 14)

	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE organization_id = \\$1 FOR UPDATE").
		WithArgs(org.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "plan_id", "status", "started_at", "trial_ends_at", "expires_at",
			"grace_ends_at", "readonly_ends_at", "additional_schools", "suspended_reason", "cancelled_at",
			"last_transition_at", "created_at", "updated_at",
		}).AddRow(
			shared.NewID().String(), org.String(), shared.NewID().String(), "trial", now, trialEnds, nil,
			nil, nil, 0, nil, nil, nil, now, now,
		))

	sub, err := repo.GetByOrganizationForUpdate(context.Background(), org)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrial, sub.Status())
	assert.Equal(t, org, sub.OrganizationID())
	require.NotNil(t, sub.TrialEndsAt())
	assert.Equal(t, trialEnds, *sub.TrialEndsAt())
	assert.Nil(t, sub.ExpiresAt())

	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE organization_id = \\$1$").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByOrganization(context.Background(), org)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	mock.ExpectQuery("FOR UPDATE").WillReturnError(&pq.Error{Code: codeLockNotAvailable})
	_, err = repo.GetByOrganizationForUpdate(context.Background(), org)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_ListDueForTransition(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSubscriptionRepository(db)
	now := time.Now().UTC()
	a, b := shared.NewID(), shared.NewID()

	mock.ExpectQuery("SELECT organization_id FROM subscriptions WHERE").
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow(a.String()).AddRow(b.String()))

	ids, err := repo.ListDueForTransition(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{a, b}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewalRepository_CreateMapsUniqueIndexes(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		want       error
	}{
		{"pending per organization", renewalPendingIndex, renewal.ErrPendingExists},
		{"payment reused", renewalPaymentIndex, payment.ErrPaymentLinked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMock(t)
			repo := NewRenewalRepository(db)
			req, err := renewal.NewRequest(shared.NewID(), shared.NewID(), shared.NewID(), 0,
				shared.ID{}, shared.NewID(), shared.NewID(), time.Now())
			require.NoError(t, err)

			mock.ExpectExec("INSERT INTO renewal_requests").
				WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: tt.constraint})

			err = repo.Create(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDiscountRepository_RecordUse(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDiscountRepository(db)
	use := discount.Use{
		ID:             shared.NewID(),
		CodeID:         shared.NewID(),
		OrganizationID: shared.NewID(),
		RenewalID:      shared.NewID(),
		UsedAt:         time.Now(),
	}

	mock.ExpectExec("UPDATE discount_codes SET used_count = used_count \\+ 1").
		WithArgs(use.CodeID.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO discount_code_usages").
		WithArgs(use.ID.String(), use.CodeID.String(), use.OrganizationID.String(), use.RenewalID.String(), use.UsedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordUse(context.Background(), use))

	// Cap reached: nothing is inserted.
	mock.ExpectExec("UPDATE discount_codes SET used_count").WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.RecordUse(context.Background(), use)
	assert.ErrorIs(t, err, discount.ErrUsageExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscountRepository_GetByCodeNormalizes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDiscountRepository(db)
	id := shared.NewID()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM discount_codes WHERE code = \\$1").
		WithArgs("SCHOOL20").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "code", "discount_type", "value", "max_discount_amount", "currency", "applicable_plan_id",
			"max_uses", "max_uses_per_org", "used_count", "valid_from", "valid_until", "is_active", "created_at",
		}).AddRow(
			id.String(), "SCHOOL20", "percentage", "20", "50", nil, nil,
			int64(100), 1, 3, now, nil, true, now,
		))

	c, err := repo.GetByCode(context.Background(), "  school20 ")
	require.NoError(t, err)
	assert.Equal(t, discount.TypePercentage, c.Type())
	require.NotNil(t, c.MaxDiscountAmount())
	assert.True(t, c.MaxDiscountAmount().Equal(decimal.NewFromInt(50)))
	require.NotNil(t, c.MaxUses())
	assert.Equal(t, 100, *c.MaxUses())
	assert.True(t, c.ApplicablePlanID().IsZero())
	assert.Nil(t, c.ValidUntil())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepository_ListByOrganization(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepository(db)
	org := shared.NewID()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM subscription_history").
		WithArgs(org.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT (.+) FROM subscription_history").
		WithArgs(org.String(), 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "action", "subscription_id", "status_before", "status_after",
			"actor_id", "note", "metadata", "created_at",
		}).
			AddRow(shared.NewID().String(), org.String(), "suspended", nil, "active", "suspended", nil, "audit", []byte(`{"k":"v"}`), now).
			AddRow(shared.NewID().String(), org.String(), "activated", nil, "trial", "active", nil, nil, nil, now))

	res, err := repo.ListByOrganization(context.Background(), org, pagination.New(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	require.Len(t, res.Data, 2)
	assert.Equal(t, history.ActionSuspended, res.Data[0].Action)
	assert.Equal(t, "audit", res.Data[0].Note)
	assert.Equal(t, "v", res.Data[0].Metadata["k"])
	assert.True(t, res.Data[1].ActorID.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_SaveUpserts(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSnapshotRepository(db)
	snaps := usage.NewSnapshots(shared.NewID(), map[string]int64{"users": 3, "schools": 1}, time.Now())

	mock.ExpectExec("INSERT INTO usage_snapshots (.+) ON CONFLICT").WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.Save(context.Background(), snaps))

	// Nothing to save issues no statement.
	require.NoError(t, repo.Save(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResourceCounter(t *testing.T) {
	db, mock := newMock(t)
	counter := NewResourceCounter(db, map[string]string{"users": "users", "schools": "schools"})
	org := shared.NewID()

	assert.Equal(t, []string{"schools", "users"}, counter.ResourceKeys())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "users" WHERE organization_id = \$1`).
		WithArgs(org.String()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))
	n, err := counter.Count(context.Background(), org, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = counter.Count(context.Background(), org, "buses")
	assert.ErrorIs(t, err, usage.ErrUnknownResource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrganizationDirectory_Exists(t *testing.T) {
	db, mock := newMock(t)
	dir := NewOrganizationDirectory(db)
	org := shared.NewID()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(org.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := dir.Exists(context.Background(), org)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
