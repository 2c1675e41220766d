// Package history is the append-only audit trail of subscription changes.
package history

import (
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Action is what happened to an organization's entitlements.
type Action string

const (
	ActionTrialStarted       Action = "trial_started"
	ActionActivated          Action = "activated"
	ActionRenewed            Action = "renewed"
	ActionPlanChanged        Action = "plan_changed"
	ActionSuspended          Action = "suspended"
	ActionCancelled          Action = "cancelled"
	ActionReactivated        Action = "reactivated"
	ActionStatusTransitioned Action = "status_transitioned"
	ActionLimitOverridden    Action = "limit_override_added"
	ActionAddonAdded         Action = "feature_addon_added"
	ActionFeatureToggled     Action = "feature_toggled"
	ActionPaymentRecorded    Action = "payment_recorded"
	ActionPaymentConfirmed   Action = "payment_confirmed"
	ActionPaymentRejected    Action = "payment_rejected"
	ActionRenewalRequested   Action = "renewal_requested"
	ActionRenewalApproved    Action = "renewal_approved"
	ActionRenewalRejected    Action = "renewal_rejected"
)

// Entry is one audit record. Entries are never updated or deleted.
type Entry struct {
	ID             shared.ID      `json:"id"`
	OrganizationID shared.ID      `json:"organization_id"`
	Action         Action         `json:"action"`
	SubscriptionID shared.ID      `json:"subscription_id,omitempty"`
	StatusBefore   string         `json:"status_before,omitempty"`
	StatusAfter    string         `json:"status_after,omitempty"`
	ActorID        shared.ID      `json:"actor_id,omitempty"`
	Note           string         `json:"note,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewEntry creates an entry for an organization.
func NewEntry(orgID shared.ID, action Action, actor shared.Actor, now time.Time) *Entry {
	return &Entry{
		ID:             shared.NewID(),
		OrganizationID: orgID,
		Action:         action,
		ActorID:        actor.ID,
		Metadata:       make(map[string]any),
		CreatedAt:      now.UTC(),
	}
}

// WithStatus records the status change the entry describes.
func (e *Entry) WithStatus(subscriptionID shared.ID, before, after string) *Entry {
	e.SubscriptionID = subscriptionID
	e.StatusBefore = before
	e.StatusAfter = after
	return e
}

// WithNote sets the free-text note.
func (e *Entry) WithNote(note string) *Entry {
	e.Note = note
	return e
}

// With adds a metadata attribute.
func (e *Entry) With(key string, value any) *Entry {
	e.Metadata[key] = value
	return e
}
