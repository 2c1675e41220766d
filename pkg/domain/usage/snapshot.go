package usage

import (
	"time"

	"github.com/openctemio/entitlements/pkg/domain/shared"
)

// Snapshot is a persisted point-in-time count of one resource. It is used for
// reporting only and never for enforcement.
type Snapshot struct {
	ID             shared.ID `json:"id"`
	OrganizationID shared.ID `json:"organization_id"`
	SnapshotDate   time.Time `json:"snapshot_date"`
	ResourceKey    string    `json:"resource_key"`
	Count          int64     `json:"count"`
	CapturedAt     time.Time `json:"captured_at"`
}

// NewSnapshots builds one snapshot per counted resource for the day of now.
func NewSnapshots(orgID shared.ID, counts map[string]int64, now time.Time) []Snapshot {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]Snapshot, 0, len(counts))
	for key, n := range counts {
		out = append(out, Snapshot{
			ID:             shared.NewID(),
			OrganizationID: orgID,
			SnapshotDate:   day,
			ResourceKey:    key,
			Count:          n,
			CapturedAt:     now,
		})
	}
	return out
}
