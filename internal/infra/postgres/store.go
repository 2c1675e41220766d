package postgres

import (
	"context"
	"database/sql"

	"github.com/openctemio/entitlements/internal/app"
)

// Store implements app.Store on a PostgreSQL pool. Repositories handed to
// Within share one *sql.Tx.
type Store struct {
	db *DB
}

// NewStore creates a new Store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ app.Store = (*Store)(nil)

// Repos returns repositories bound to the pool.
func (s *Store) Repos() app.Repositories {
	return repositories(s.db)
}

// Within runs fn in one transaction.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx app.Repositories) error) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, repositories(tx))
	})
}

func repositories(q Querier) app.Repositories {
	return app.Repositories{
		Plans:         NewPlanRepository(q),
		Subscriptions: NewSubscriptionRepository(q),
		Addons:        NewAddonRepository(q),
		Overrides:     NewOverrideRepository(q),
		Snapshots:     NewSnapshotRepository(q),
		Payments:      NewPaymentRepository(q),
		Renewals:      NewRenewalRepository(q),
		Discounts:     NewDiscountRepository(q),
		History:       NewHistoryRepository(q),
	}
}
