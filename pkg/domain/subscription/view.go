package subscription

import (
	"math"
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// StatusView is the read-only status of a subscription with computed flags.
type StatusView struct {
	OrganizationID    shared.ID   `json:"organization_id"`
	PlanID            shared.ID   `json:"plan_id"`
	Status            Status      `json:"status"`
	AccessLevel       AccessLevel `json:"access_level"`
	TrialEndsAt       *time.Time  `json:"trial_ends_at,omitempty"`
	ExpiresAt         *time.Time  `json:"expires_at,omitempty"`
	GracePeriodEndsAt *time.Time  `json:"grace_period_ends_at,omitempty"`
	ReadonlyEndsAt    *time.Time  `json:"readonly_ends_at,omitempty"`
	DaysUntilExpiry   int         `json:"days_until_expiry"`
	IsInGracePeriod   bool        `json:"is_in_grace_period"`
	IsReadOnly        bool        `json:"is_read_only"`
	IsBlocked         bool        `json:"is_blocked"`
	SuspendedReason   string      `json:"suspended_reason,omitempty"`
}

// View computes the status view as of now.
func (s *Subscription) View(now time.Time) StatusView {
	return StatusView{
		OrganizationID:    s.organizationID,
		PlanID:            s.planID,
		Status:            s.status,
		AccessLevel:       s.status.AccessLevel(),
		TrialEndsAt:       s.trialEndsAt,
		ExpiresAt:         s.expiresAt,
		GracePeriodEndsAt: s.graceEndsAt,
		ReadonlyEndsAt:    s.readonlyEndsAt,
		DaysUntilExpiry:   s.DaysUntilExpiry(now),
		IsInGracePeriod:   s.status == StatusGracePeriod,
		IsReadOnly:        s.status == StatusReadonly,
		IsBlocked:         s.status.AccessLevel() == AccessBlocked,
		SuspendedReason:   s.suspendedReason,
	}
}

// DaysUntilExpiry returns the days until the paid period (or trial) ends, counting
// any started day: 23 hours left is 1. Once the end has passed the value is the
// negated count of started days since, so 23 hours past is -1. It is 0 exactly at
// the end and when no end is set.
func (s *Subscription) DaysUntilExpiry(now time.Time) int {
	end := s.expiresAt
	if end == nil {
		end = s.trialEndsAt
	}
	if end == nil {
		return 0
	}
	days := end.Sub(now).Hours() / 24
	if days < 0 {
		return -int(math.Ceil(-days))
	}
	return int(math.Ceil(days))
}
