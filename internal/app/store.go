package app

import (
	"context"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

// Repositories groups every repository of the entitlement core. A value
// obtained from Store.Within is bound to that transaction.
type Repositories struct {
	Plans         plan.Repository
	Subscriptions subscription.Repository
	Addons        feature.AddonRepository
	Overrides     usage.OverrideRepository
	Snapshots     usage.SnapshotRepository
	Payments      payment.Repository
	Renewals      renewal.Repository
	Discounts     discount.Repository
	History       history.Repository
}

// Store gives access to repositories, either directly or inside a transaction.
type Store interface {
	// Repos returns repositories that run each call in its own statement.
	Repos() Repositories

	// Within runs fn in one transaction. The transaction commits when fn returns
	// nil and rolls back otherwise. Row locks taken by *ForUpdate reads are held
	// until it ends.
	Within(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
