// Package record persists the immutable attendance records produced by
// reconciliation. Once written, a record never changes except for the
// per-viewer hidden set.
package record

import "time"

// SummaryRow is one participant's outcome inside a record. DistanceMeters
// is nil when either side had no location fix.
type SummaryRow struct {
	ParticipantID  string   `json:"participantId"`
	UserID         string   `json:"userId"`
	DisplayName    string   `json:"displayName,omitempty"`
	ContactHandle  string   `json:"contactHandle,omitempty"`
	Status         string   `json:"status"`
	DistanceMeters *float64 `json:"distanceMeters"`
}

// Record is the reconciled outcome of one session.
type Record struct {
	ID               string       `json:"id"`
	SessionID        string       `json:"sessionId"`
	Label            string       `json:"label"`
	Code             string       `json:"code"`
	ThresholdMinutes int          `json:"thresholdMinutes"`
	RadiusMeters     int          `json:"radiusMeters"`
	OwnerID          string       `json:"ownerId"`
	Summary          []SummaryRow `json:"summary"`
	SummaryUserIDs   []string     `json:"summaryUserIds"`
	HiddenBy         []string     `json:"hiddenBy,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}
