package memory

import (
	"context"
	"sort"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/discount"
	"github.com/openctemio/entitlements/pkg/domain/feature"
	"github.com/openctemio/entitlements/pkg/domain/history"
	"github.com/openctemio/entitlements/pkg/domain/payment"
	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/renewal"
	"github.com/openctemio/entitlements/pkg/domain/shared"
	"github.com/openctemio/entitlements/pkg/domain/subscription"
	"github.com/openctemio/entitlements/pkg/domain/usage"
	"github.com/openctemio/entitlements/pkg/pagination"
)

func copyOf[T any](v T) *T {
	return &v
}

// =============================================================================
// Plans
// =============================================================================

type planRepo struct{ a *access }

func (r *planRepo) Create(_ context.Context, p *plan.Plan) error {
	return r.a.run(func(s *state) error {
		for _, existing := range s.plans {
			if existing.Slug() == p.Slug() {
				return plan.ErrPlanSlugExists
			}
		}
		s.plans[p.ID()] = *p
		return nil
	})
}

func (r *planRepo) Update(_ context.Context, p *plan.Plan) error {
	return r.a.run(func(s *state) error {
		if _, ok := s.plans[p.ID()]; !ok {
			return plan.ErrPlanNotFound
		}
		s.plans[p.ID()] = *p
		return nil
	})
}

func (r *planRepo) GetByID(_ context.Context, id shared.ID) (*plan.Plan, error) {
	var out *plan.Plan
	err := r.a.run(func(s *state) error {
		p, ok := s.plans[id]
		if !ok {
			return plan.ErrPlanNotFound
		}
		out = copyOf(p)
		return nil
	})
	return out, err
}

func (r *planRepo) GetBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	var out *plan.Plan
	err := r.a.run(func(s *state) error {
		for _, p := range s.plans {
			if p.Slug() == slug {
				out = copyOf(p)
				return nil
			}
		}
		return plan.ErrPlanNotFound
	})
	return out, err
}

func (r *planRepo) GetDefault(_ context.Context) (*plan.Plan, error) {
	var out *plan.Plan
	err := r.a.run(func(s *state) error {
		for _, p := range s.plans {
			if p.IsDefault() && p.IsActive() {
				out = copyOf(p)
				return nil
			}
		}
		return plan.ErrNoDefaultPlan
	})
	return out, err
}

func (r *planRepo) List(_ context.Context, activeOnly bool) ([]*plan.Plan, error) {
	var out []*plan.Plan
	err := r.a.run(func(s *state) error {
		for _, p := range s.plans {
			if activeOnly && !p.IsActive() {
				continue
			}
			out = append(out, copyOf(p))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder() != out[j].SortOrder() {
			return out[i].SortOrder() < out[j].SortOrder()
		}
		return out[i].Slug() < out[j].Slug()
	})
	return out, err
}

func (r *planRepo) SetDefault(_ context.Context, id shared.ID) error {
	return r.a.run(func(s *state) error {
		target, ok := s.plans[id]
		if !ok {
			return plan.ErrPlanNotFound
		}
		if err := target.SetDefault(true); err != nil {
			return err
		}
		for k, p := range s.plans {
			if k != id && p.IsDefault() {
				_ = p.SetDefault(false)
				s.plans[k] = p
			}
		}
		s.plans[id] = target
		return nil
	})
}

// =============================================================================
// Subscriptions
// =============================================================================

type subscriptionRepo struct{ a *access }

func (r *subscriptionRepo) Create(_ context.Context, sub *subscription.Subscription) error {
	return r.a.run(func(s *state) error {
		if _, ok := s.subs[sub.OrganizationID()]; ok {
			return shared.NewDomainError("SUBSCRIPTION_EXISTS", "organization already has a subscription", shared.ErrConflict)
		}
		s.subs[sub.OrganizationID()] = *sub
		return nil
	})
}

func (r *subscriptionRepo) Update(_ context.Context, sub *subscription.Subscription) error {
	return r.a.run(func(s *state) error {
		if _, ok := s.subs[sub.OrganizationID()]; !ok {
			return subscription.ErrSubscriptionNotFound
		}
		s.subs[sub.OrganizationID()] = *sub
		return nil
	})
}

func (r *subscriptionRepo) GetByOrganization(_ context.Context, orgID shared.ID) (*subscription.Subscription, error) {
	var out *subscription.Subscription
	err := r.a.run(func(s *state) error {
		sub, ok := s.subs[orgID]
		if !ok {
			return subscription.ErrSubscriptionNotFound
		}
		out = copyOf(sub)
		return nil
	})
	return out, err
}

// GetByOrganizationForUpdate needs no row lock: transactions are serialized.
func (r *subscriptionRepo) GetByOrganizationForUpdate(ctx context.Context, orgID shared.ID) (*subscription.Subscription, error) {
	return r.GetByOrganization(ctx, orgID)
}

func (r *subscriptionRepo) ListDueForTransition(_ context.Context, now time.Time, limit int) ([]shared.ID, error) {
	var out []shared.ID
	err := r.a.run(func(s *state) error {
		for orgID, sub := range s.subs {
			if _, due := sub.NextTransition(now); due {
				out = append(out, orgID)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *subscriptionRepo) ListOrganizationIDs(_ context.Context) ([]shared.ID, error) {
	var out []shared.ID
	err := r.a.run(func(s *state) error {
		for orgID := range s.subs {
			out = append(out, orgID)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, err
}

// =============================================================================
// Addons and overrides
// =============================================================================

type addonRepo struct{ a *access }

func (r *addonRepo) Create(_ context.Context, addon *feature.Addon) error {
	return r.a.run(func(s *state) error {
		s.addons = append(s.addons, *addon)
		return nil
	})
}

func (r *addonRepo) ListByOrganization(_ context.Context, orgID shared.ID) ([]*feature.Addon, error) {
	var out []*feature.Addon
	err := r.a.run(func(s *state) error {
		for _, a := range s.addons {
			if a.OrganizationID().Equals(orgID) && a.DeletedAt() == nil {
				out = append(out, copyOf(a))
			}
		}
		return nil
	})
	return out, err
}

type overrideRepo struct{ a *access }

func (r *overrideRepo) Create(_ context.Context, o *usage.Override) error {
	return r.a.run(func(s *state) error {
		s.overrides = append(s.overrides, *o)
		return nil
	})
}

func (r *overrideRepo) ListByOrganization(_ context.Context, orgID shared.ID) ([]*usage.Override, error) {
	var out []*usage.Override
	err := r.a.run(func(s *state) error {
		for _, o := range s.overrides {
			if o.OrganizationID().Equals(orgID) {
				out = append(out, copyOf(o))
			}
		}
		return nil
	})
	return out, err
}

type snapshotRepo struct{ a *access }

func (r *snapshotRepo) Save(_ context.Context, snapshots []usage.Snapshot) error {
	return r.a.run(func(s *state) error {
		for _, snap := range snapshots {
			k := snapshotKey{org: snap.OrganizationID, day: snap.SnapshotDate.Format(time.DateOnly), key: snap.ResourceKey}
			if existing, ok := s.snapshots[k]; ok {
				snap.ID = existing.ID
			}
			s.snapshots[k] = snap
		}
		return nil
	})
}

func (r *snapshotRepo) List(_ context.Context, orgID shared.ID, from, to time.Time) ([]usage.Snapshot, error) {
	out := make([]usage.Snapshot, 0)
	err := r.a.run(func(s *state) error {
		for _, snap := range s.snapshots {
			if !snap.OrganizationID.Equals(orgID) || snap.SnapshotDate.Before(from) || snap.SnapshotDate.After(to) {
				continue
			}
			out = append(out, snap)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotDate.Equal(out[j].SnapshotDate) {
			return out[i].SnapshotDate.Before(out[j].SnapshotDate)
		}
		return out[i].ResourceKey < out[j].ResourceKey
	})
	return out, err
}

// =============================================================================
// Payments and renewals
// =============================================================================

type paymentRepo struct{ a *access }

func (r *paymentRepo) Create(_ context.Context, rec *payment.Record) error {
	return r.a.run(func(s *state) error {
		s.payments[rec.ID()] = *rec
		return nil
	})
}

func (r *paymentRepo) Update(_ context.Context, rec *payment.Record) error {
	return r.a.run(func(s *state) error {
		if _, ok := s.payments[rec.ID()]; !ok {
			return payment.ErrPaymentNotFound
		}
		s.payments[rec.ID()] = *rec
		return nil
	})
}

func (r *paymentRepo) GetByID(_ context.Context, id shared.ID) (*payment.Record, error) {
	var out *payment.Record
	err := r.a.run(func(s *state) error {
		rec, ok := s.payments[id]
		if !ok {
			return payment.ErrPaymentNotFound
		}
		out = copyOf(rec)
		return nil
	})
	return out, err
}

func (r *paymentRepo) GetByIDForUpdate(ctx context.Context, id shared.ID) (*payment.Record, error) {
	return r.GetByID(ctx, id)
}

func (r *paymentRepo) ListByOrganization(_ context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*payment.Record], error) {
	var all []*payment.Record
	err := r.a.run(func(s *state) error {
		for _, rec := range s.payments {
			if rec.OrganizationID().Equals(orgID) {
				all = append(all, copyOf(rec))
			}
		}
		return nil
	})
	if err != nil {
		return pagination.Result[*payment.Record]{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt().After(all[j].CreatedAt()) })
	return paginate(all, page), nil
}

type renewalRepo struct{ a *access }

func (r *renewalRepo) Create(_ context.Context, req *renewal.Request) error {
	return r.a.run(func(s *state) error {
		for _, existing := range s.renewals {
			if existing.OrganizationID().Equals(req.OrganizationID()) && existing.Status() == renewal.StatusPending {
				return renewal.ErrPendingExists
			}
			if !req.PaymentRecordID().IsZero() && existing.PaymentRecordID().Equals(req.PaymentRecordID()) {
				return payment.ErrPaymentLinked
			}
		}
		s.renewals[req.ID()] = *req
		return nil
	})
}

func (r *renewalRepo) Update(_ context.Context, req *renewal.Request) error {
	return r.a.run(func(s *state) error {
		if _, ok := s.renewals[req.ID()]; !ok {
			return renewal.ErrRenewalNotFound
		}
		s.renewals[req.ID()] = *req
		return nil
	})
}

func (r *renewalRepo) GetByID(_ context.Context, id shared.ID) (*renewal.Request, error) {
	var out *renewal.Request
	err := r.a.run(func(s *state) error {
		req, ok := s.renewals[id]
		if !ok {
			return renewal.ErrRenewalNotFound
		}
		out = copyOf(req)
		return nil
	})
	return out, err
}

func (r *renewalRepo) GetByIDForUpdate(ctx context.Context, id shared.ID) (*renewal.Request, error) {
	return r.GetByID(ctx, id)
}

func (r *renewalRepo) ListPending(_ context.Context, limit int) ([]*renewal.Request, error) {
	var out []*renewal.Request
	err := r.a.run(func(s *state) error {
		for _, req := range s.renewals {
			if req.Status() == renewal.StatusPending {
				out = append(out, copyOf(req))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt().Before(out[j].RequestedAt()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// =============================================================================
// Discounts
// =============================================================================

type discountRepo struct{ a *access }

func (r *discountRepo) Create(_ context.Context, c *discount.Code) error {
	return r.a.run(func(s *state) error {
		for _, existing := range s.codes {
			if existing.Code() == c.Code() {
				return discount.ErrDiscountCodeExists
			}
		}
		s.codes[c.ID()] = *c
		return nil
	})
}

func (r *discountRepo) GetByID(_ context.Context, id shared.ID) (*discount.Code, error) {
	var out *discount.Code
	err := r.a.run(func(s *state) error {
		c, ok := s.codes[id]
		if !ok {
			return discount.ErrCodeNotFound
		}
		out = copyOf(c)
		return nil
	})
	return out, err
}

func (r *discountRepo) GetByCode(_ context.Context, code string) (*discount.Code, error) {
	var out *discount.Code
	code = discount.NormalizeCode(code)
	err := r.a.run(func(s *state) error {
		for _, c := range s.codes {
			if c.Code() == code {
				out = copyOf(c)
				return nil
			}
		}
		return discount.ErrCodeNotFound
	})
	return out, err
}

func (r *discountRepo) List(_ context.Context, activeOnly bool) ([]*discount.Code, error) {
	var out []*discount.Code
	err := r.a.run(func(s *state) error {
		for _, c := range s.codes {
			if activeOnly && !c.IsActive() {
				continue
			}
			out = append(out, copyOf(c))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().After(out[j].CreatedAt()) })
	return out, err
}

func (r *discountRepo) SetActive(_ context.Context, id shared.ID, active bool) error {
	return r.a.run(func(s *state) error {
		c, ok := s.codes[id]
		if !ok {
			return discount.ErrCodeNotFound
		}
		s.codes[id] = *rebuildCode(&c, c.UsedCount(), active)
		return nil
	})
}

func (r *discountRepo) CountUses(_ context.Context, codeID, orgID shared.ID) (int, error) {
	n := 0
	err := r.a.run(func(s *state) error {
		for _, u := range s.uses {
			if u.CodeID.Equals(codeID) && u.OrganizationID.Equals(orgID) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *discountRepo) RecordUse(_ context.Context, use discount.Use) error {
	return r.a.run(func(s *state) error {
		c, ok := s.codes[use.CodeID]
		if !ok {
			return discount.ErrCodeNotFound
		}
		if max := c.MaxUses(); max != nil && c.UsedCount() >= *max {
			return discount.ErrUsageExceeded
		}
		s.codes[use.CodeID] = *rebuildCode(&c, c.UsedCount()+1, c.IsActive())
		s.uses = append(s.uses, use)
		return nil
	})
}

func rebuildCode(c *discount.Code, usedCount int, active bool) *discount.Code {
	return discount.Reconstruct(c.ID(), c.Code(), c.Type(), c.Value(), c.MaxDiscountAmount(), c.Currency(),
		c.ApplicablePlanID(), c.MaxUses(), c.MaxUsesPerOrg(), usedCount, c.ValidFrom(), c.ValidUntil(), active, c.CreatedAt())
}

// =============================================================================
// History
// =============================================================================

type historyRepo struct{ a *access }

func (r *historyRepo) Append(_ context.Context, e *history.Entry) error {
	return r.a.run(func(s *state) error {
		s.history = append(s.history, *e)
		return nil
	})
}

func (r *historyRepo) ListByOrganization(_ context.Context, orgID shared.ID, page pagination.Pagination) (pagination.Result[*history.Entry], error) {
	var all []*history.Entry
	err := r.a.run(func(s *state) error {
		for i := len(s.history) - 1; i >= 0; i-- {
			if s.history[i].OrganizationID.Equals(orgID) {
				all = append(all, copyOf(s.history[i]))
			}
		}
		return nil
	})
	if err != nil {
		return pagination.Result[*history.Entry]{}, err
	}
	return paginate(all, page), nil
}

func paginate[T any](all []T, page pagination.Pagination) pagination.Result[T] {
	page = pagination.New(page.Page, page.PerPage)
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return pagination.NewResult(all[start:end], int64(len(all)), page)
}
