// Package memory is an in-process implementation of the entitlement store.
//
// It backs the service tests and the "memory" database driver used for local
// development. Transactions are serialized by a single lock and run against a
// copy of the state, which replaces the live state only when fn succeeds.
// Aggregates are copied in and out, so a caller mutating a returned value never
// changes stored state without an Update.
package memory

import (
	"context"
	"sync"

	"github.com/openctemio/entitlements/internal/app"
	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
)

type snapshotKey struct {
	org shared.ID
	day string
	key string
}

type state struct {
	plans     map[shared.ID]plan.Plan
	subs      map[shared.ID]subscription.Subscription // by organization
	addons    []feature.Addon
	overrides []usage.Override
	snapshots map[snapshotKey]usage.Snapshot
	payments  map[shared.ID]payment.Record
	renewals  map[shared.ID]renewal.Request
	codes     map[shared.ID]discount.Code
	uses      []discount.Use
	history   []history.Entry
}

func newState() *state {
	return &state{
		plans:     make(map[shared.ID]plan.Plan),
		subs:      make(map[shared.ID]subscription.Subscription),
		snapshots: make(map[snapshotKey]usage.Snapshot),
		payments:  make(map[shared.ID]payment.Record),
		renewals:  make(map[shared.ID]renewal.Request),
		codes:     make(map[shared.ID]discount.Code),
	}
}

func (s *state) clone() *state {
	c := &state{
		plans:     make(map[shared.ID]plan.Plan, len(s.plans)),
		subs:      make(map[shared.ID]subscription.Subscription, len(s.subs)),
		addons:    append([]feature.Addon(nil), s.addons...),
		overrides: append([]usage.Override(nil), s.overrides...),
		snapshots: make(map[snapshotKey]usage.Snapshot, len(s.snapshots)),
		payments:  make(map[shared.ID]payment.Record, len(s.payments)),
		renewals:  make(map[shared.ID]renewal.Request, len(s.renewals)),
		codes:     make(map[shared.ID]discount.Code, len(s.codes)),
		uses:      append([]discount.Use(nil), s.uses...),
		history:   append([]history.Entry(nil), s.history...),
	}
	for k, v := range s.plans {
		c.plans[k] = v
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.renewals {
		c.renewals[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	return c
}

// Store is an in-memory app.Store.
type Store struct {
	mu    sync.Mutex
	state *state
}

var _ app.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState()}
}

// Repos returns repositories that each lock the store for one call.
func (s *Store) Repos() app.Repositories {
	return repositories(&access{
		run: func(fn func(*state) error) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			return fn(s.state)
		},
	})
}

// Within runs fn against a copy of the state and keeps the copy if fn succeeds.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, tx app.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	tx := repositories(&access{
		run: func(fn func(*state) error) error {
			return fn(working)
		},
	})
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = working
	return nil
}

// access runs a function against the state it is bound to.
type access struct {
	run func(func(*state) error) error
}

func repositories(a *access) app.Repositories {
	return app.Repositories{
		Plans:         &planRepo{a},
		Subscriptions: &subscriptionRepo{a},
		Addons:        &addonRepo{a},
		Overrides:     &overrideRepo{a},
		Snapshots:     &snapshotRepo{a},
		Payments:      &paymentRepo{a},
		Renewals:      &renewalRepo{a},
		Discounts:     &discountRepo{a},
		History:       &historyRepo{a},
	}
}
