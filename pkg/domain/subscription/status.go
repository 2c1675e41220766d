package subscription

import (
	"fmt"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Status represents the lifecycle status of an organization's subscription.
type Status string

const (
	StatusTrial       Status = "trial"
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusReadonly    Status = "readonly"
	StatusExpired     Status = "expired"
	StatusSuspended   Status = "suspended"
	StatusCancelled   Status = "cancelled"
)

// AllStatuses returns every status in timeline order.
func AllStatuses() []Status {
	return []Status{
		StatusTrial, StatusActive, StatusGracePeriod, StatusReadonly,
		StatusExpired, StatusSuspended, StatusCancelled,
	}
}

// ParseStatus parses a stored status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown subscription status %q", shared.ErrValidation, s)
	}
	return st, nil
}

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusTrial, StatusActive, StatusGracePeriod, StatusReadonly,
		StatusExpired, StatusSuspended, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsAdministrative reports whether the status was set by an administrator and is
// never advanced by the time-driven sweep.
func (s Status) IsAdministrative() bool {
	return s == StatusSuspended || s == StatusCancelled
}

// GrantsFeatures reports whether features may resolve to enabled in this status.
func (s Status) GrantsFeatures() bool {
	switch s {
	case StatusExpired, StatusSuspended, StatusCancelled:
		return false
	default:
		return s.IsValid()
	}
}

// AccessLevel is the advisory access level callers derive from a status.
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessReadonly AccessLevel = "readonly"
	AccessBlocked  AccessLevel = "blocked"
)

// AccessLevel returns the advisory access level for the status.
// Blocked statuses still allow renewal and payment flows.
func (s Status) AccessLevel() AccessLevel {
	switch s {
	case StatusTrial, StatusActive, StatusGracePeriod:
		return AccessFull
	case StatusReadonly:
		return AccessReadonly
	default:
		return AccessBlocked
	}
}

type transition struct {
	from Status
	to   Status
}

// validTransitions lists every status change a subscription may make.
var validTransitions = map[transition]bool{
	// Time-driven sweep.
	{StatusTrial, StatusExpired}:        true,
	{StatusActive, StatusGracePeriod}:   true,
	{StatusGracePeriod, StatusReadonly}: true,
	{StatusReadonly, StatusExpired}:     true,

	// Payment confirmed, activation or renewal approved.
	{StatusTrial, StatusActive}:       true,
	{StatusActive, StatusActive}:      true,
	{StatusGracePeriod, StatusActive}: true,
	{StatusReadonly, StatusActive}:    true,
	{StatusExpired, StatusActive}:     true,

	// Administrative.
	{StatusTrial, StatusSuspended}:       true,
	{StatusActive, StatusSuspended}:      true,
	{StatusGracePeriod, StatusSuspended}: true,
	{StatusReadonly, StatusSuspended}:    true,
	{StatusExpired, StatusSuspended}:     true,
	{StatusSuspended, StatusSuspended}:   true,
	{StatusTrial, StatusCancelled}:       true,
	{StatusActive, StatusCancelled}:      true,
	{StatusGracePeriod, StatusCancelled}: true,
	{StatusReadonly, StatusCancelled}:    true,
	{StatusExpired, StatusCancelled}:     true,
	{StatusSuspended, StatusCancelled}:   true,

	// Explicit activation or reactivation out of an administrative status.
	{StatusSuspended, StatusActive}:      true,
	{StatusCancelled, StatusActive}:      true,
	{StatusSuspended, StatusTrial}:       true,
	{StatusCancelled, StatusTrial}:       true,
	{StatusSuspended, StatusGracePeriod}: true,
	{StatusCancelled, StatusGracePeriod}: true,
	{StatusSuspended, StatusReadonly}:    true,
	{StatusCancelled, StatusReadonly}:    true,
	{StatusSuspended, StatusExpired}:     true,
	{StatusCancelled, StatusExpired}:     true,
}

// CanTransition reports whether a subscription may move from one status to another.
func CanTransition(from, to Status) bool {
	return validTransitions[transition{from: from, to: to}]
}
