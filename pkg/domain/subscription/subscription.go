// Package subscription owns the lifecycle of an organization's subscription record.
//
// The timeline is trial -> active -> grace_period -> readonly -> expired. Only the
// periodic sweep moves a subscription along that timeline because time passed;
// activation, renewal, suspension and cancellation are explicit events.
package subscription

import (
	"fmt"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/plan"
	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// RenewalPeriod is the length of one paid subscription period.
const RenewalPeriod = 1 // years

// Subscription is the current subscription lineage of one organization.
type Subscription struct {
	id                shared.ID
	organizationID    shared.ID
	planID            shared.ID
	status            Status
	startedAt         time.Time
	trialEndsAt       *time.Time
	expiresAt         *time.Time
	graceEndsAt       *time.Time
	readonlyEndsAt    *time.Time
	additionalSchools int
	suspendedReason   string
	cancelledAt       *time.Time
	lastTransitionAt  *time.Time
	createdAt         time.Time
	updatedAt         time.Time
}

// NewTrial creates a trial subscription ending after the plan's trial days.
func NewTrial(orgID shared.ID, p *plan.Plan, now time.Time) (*Subscription, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	if !p.IsActive() {
		return nil, plan.ErrInvalidPlan
	}
	now = now.UTC()
	trialEnds := now.AddDate(0, 0, p.TrialDays())
	return &Subscription{
		id:             shared.NewID(),
		organizationID: orgID,
		planID:         p.ID(),
		status:         StatusTrial,
		startedAt:      now,
		trialEndsAt:    &trialEnds,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// NewActive creates an active subscription for one paid period starting now.
func NewActive(orgID shared.ID, p *plan.Plan, additionalSchools int, now time.Time) (*Subscription, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organization id is required", shared.ErrValidation)
	}
	now = now.UTC()
	s := &Subscription{
		id:             shared.NewID(),
		organizationID: orgID,
		status:         StatusActive,
		startedAt:      now,
		createdAt:      now,
	}
	if err := s.extend(p, additionalSchools, now); err != nil {
		return nil, err
	}
	return s, nil
}

// Activate extends the lineage by one paid period from now on the given plan.
// It is valid from every status; cancelled and suspended subscriptions are reactivated by it.
func (s *Subscription) Activate(p *plan.Plan, additionalSchools int, now time.Time) error {
	return s.extend(p, additionalSchools, now.UTC())
}

// Renew applies an approved renewal. Suspended and cancelled subscriptions must be
// reactivated first.
func (s *Subscription) Renew(p *plan.Plan, additionalSchools int, now time.Time) error {
	if s.status == StatusCancelled {
		return ErrAlreadyTerminal
	}
	if !CanTransition(s.status, StatusActive) || s.status == StatusSuspended {
		return fmt.Errorf("%w: cannot renew from %s", ErrInvalidTransition, s.status)
	}
	return s.extend(p, additionalSchools, now.UTC())
}

func (s *Subscription) extend(p *plan.Plan, additionalSchools int, now time.Time) error {
	if !p.IsActive() {
		return plan.ErrInvalidPlan
	}
	if additionalSchools < 0 {
		return ErrInvalidAdditionalCount
	}
	if s.status != "" && s.status != StatusActive && !CanTransition(s.status, StatusActive) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, StatusActive)
	}
	expires := now.AddDate(RenewalPeriod, 0, 0)
	s.planID = p.ID()
	s.additionalSchools = additionalSchools
	s.status = StatusActive
	s.expiresAt = &expires
	s.suspendedReason = ""
	s.cancelledAt = nil
	s.recomputeWindows(p.Periods())
	s.updatedAt = now
	return nil
}

// ChangePlan moves the subscription to another plan and re-derives its windows.
func (s *Subscription) ChangePlan(p *plan.Plan, now time.Time) error {
	if !p.IsActive() {
		return plan.ErrInvalidPlan
	}
	s.planID = p.ID()
	s.recomputeWindows(p.Periods())
	s.updatedAt = now.UTC()
	return nil
}

// recomputeWindows derives grace and readonly ends from expires_at.
func (s *Subscription) recomputeWindows(periods plan.Periods) {
	if s.expiresAt == nil {
		s.graceEndsAt = nil
		s.readonlyEndsAt = nil
		return
	}
	grace := s.expiresAt.AddDate(0, 0, periods.GraceDays)
	readonly := grace.AddDate(0, 0, periods.ReadonlyDays)
	s.graceEndsAt = &grace
	s.readonlyEndsAt = &readonly
}

// Suspend blocks the subscription. Only a cancelled subscription cannot be suspended.
func (s *Subscription) Suspend(reason string, now time.Time) error {
	if s.status == StatusCancelled {
		return ErrAlreadyTerminal
	}
	if reason == "" {
		return fmt.Errorf("%w: suspension reason is required", shared.ErrValidation)
	}
	s.status = StatusSuspended
	s.suspendedReason = reason
	s.updatedAt = now.UTC()
	return nil
}

// Cancel ends the subscription until it is explicitly reactivated.
func (s *Subscription) Cancel(reason string, now time.Time) error {
	if s.status == StatusCancelled {
		return ErrAlreadyTerminal
	}
	now = now.UTC()
	s.status = StatusCancelled
	s.suspendedReason = reason
	s.cancelledAt = &now
	s.updatedAt = now
	return nil
}

// Reactivate lifts a suspension or cancellation and re-derives the status from the
// stored timestamps as of now.
func (s *Subscription) Reactivate(now time.Time) error {
	if !s.status.IsAdministrative() {
		return ErrNotAdministrative
	}
	now = now.UTC()
	s.status = s.DeriveStatus(now)
	s.suspendedReason = ""
	s.cancelledAt = nil
	s.updatedAt = now
	return nil
}

// DeriveStatus computes the timeline status the stored timestamps imply as of now,
// ignoring administrative statuses.
func (s *Subscription) DeriveStatus(now time.Time) Status {
	if s.expiresAt == nil {
		if s.trialEndsAt != nil && now.Before(*s.trialEndsAt) {
			return StatusTrial
		}
		return StatusExpired
	}
	switch {
	case now.Before(*s.expiresAt):
		return StatusActive
	case s.graceEndsAt != nil && now.Before(*s.graceEndsAt):
		return StatusGracePeriod
	case s.readonlyEndsAt != nil && now.Before(*s.readonlyEndsAt):
		return StatusReadonly
	default:
		return StatusExpired
	}
}

// NextTransition returns the single time-driven transition due as of now, if any.
// A trial that reached trial_ends_at without a payment expires.
func (s *Subscription) NextTransition(now time.Time) (Status, bool) {
	switch s.status {
	case StatusTrial:
		if s.trialEndsAt != nil && !now.Before(*s.trialEndsAt) {
			return StatusExpired, true
		}
	case StatusActive:
		if s.expiresAt != nil && !now.Before(*s.expiresAt) {
			return StatusGracePeriod, true
		}
	case StatusGracePeriod:
		if s.graceEndsAt != nil && !now.Before(*s.graceEndsAt) {
			return StatusReadonly, true
		}
	case StatusReadonly:
		if s.readonlyEndsAt != nil && !now.Before(*s.readonlyEndsAt) {
			return StatusExpired, true
		}
	}
	return "", false
}

// StepDue is NextTransition for the sweep: a subscription that already took a
// time-driven step less than minStep ago waits for a later run, so two runs in
// immediate succession leave the same statuses as one.
func (s *Subscription) StepDue(now time.Time, minStep time.Duration) (Status, bool) {
	if s.lastTransitionAt != nil && minStep > 0 && now.Sub(*s.lastTransitionAt) < minStep {
		return "", false
	}
	return s.NextTransition(now)
}

// AdvanceTo applies a time-driven transition after checking it is still due.
// It returns false without changes when the subscription has already moved on.
func (s *Subscription) AdvanceTo(to Status, now time.Time) (bool, error) {
	due, ok := s.NextTransition(now)
	if !ok || due != to {
		return false, nil
	}
	if !CanTransition(s.status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
	}
	now = now.UTC()
	s.status = to
	s.lastTransitionAt = &now
	s.updatedAt = now
	return true, nil
}

// CheckInvariants verifies the stored timestamps are mutually consistent.
func (s *Subscription) CheckInvariants() error {
	if s.expiresAt != nil && s.graceEndsAt != nil && s.graceEndsAt.Before(*s.expiresAt) {
		return fmt.Errorf("%w: grace_ends_at before expires_at", ErrInconsistentTimestamps)
	}
	if s.graceEndsAt != nil && s.readonlyEndsAt != nil && s.readonlyEndsAt.Before(*s.graceEndsAt) {
		return fmt.Errorf("%w: readonly_ends_at before grace_ends_at", ErrInconsistentTimestamps)
	}
	if s.status == StatusActive && s.expiresAt == nil {
		return fmt.Errorf("%w: active without expires_at", ErrInconsistentTimestamps)
	}
	if s.status == StatusTrial && s.trialEndsAt == nil {
		return fmt.Errorf("%w: trial without trial_ends_at", ErrInconsistentTimestamps)
	}
	return nil
}

// Getters

func (s *Subscription) ID() shared.ID                { return s.id }
func (s *Subscription) OrganizationID() shared.ID    { return s.organizationID }
func (s *Subscription) PlanID() shared.ID            { return s.planID }
func (s *Subscription) Status() Status               { return s.status }
func (s *Subscription) StartedAt() time.Time         { return s.startedAt }
func (s *Subscription) TrialEndsAt() *time.Time      { return s.trialEndsAt }
func (s *Subscription) ExpiresAt() *time.Time        { return s.expiresAt }
func (s *Subscription) GraceEndsAt() *time.Time      { return s.graceEndsAt }
func (s *Subscription) ReadonlyEndsAt() *time.Time   { return s.readonlyEndsAt }
func (s *Subscription) AdditionalSchools() int       { return s.additionalSchools }
func (s *Subscription) SuspendedReason() string      { return s.suspendedReason }
func (s *Subscription) CancelledAt() *time.Time      { return s.cancelledAt }
func (s *Subscription) LastTransitionAt() *time.Time { return s.lastTransitionAt }
func (s *Subscription) CreatedAt() time.Time         { return s.createdAt }
func (s *Subscription) UpdatedAt() time.Time         { return s.updatedAt }

// Reconstruct creates a Subscription from stored data.
func Reconstruct(
	id, organizationID, planID shared.ID,
	status Status,
	startedAt time.Time,
	trialEndsAt, expiresAt, graceEndsAt, readonlyEndsAt *time.Time,
	additionalSchools int,
	suspendedReason string,
	cancelledAt, lastTransitionAt *time.Time,
	createdAt, updatedAt time.Time,
) *Subscription {
	return &Subscription{
		id:                id,
		organizationID:    organizationID,
		planID:            planID,
		status:            status,
		startedAt:         startedAt,
		trialEndsAt:       trialEndsAt,
		expiresAt:         expiresAt,
		graceEndsAt:       graceEndsAt,
		readonlyEndsAt:    readonlyEndsAt,
		additionalSchools: additionalSchools,
		suspendedReason:   suspendedReason,
		cancelledAt:       cancelledAt,
		lastTransitionAt:  lastTransitionAt,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}
