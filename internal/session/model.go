package session

import (
	"focusattend/internal/geo"
	"focusattend/internal/rtstore"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusArchived Status = "archived"
)

// Collection is the real-time store collection holding session documents.
const Collection = "sessions"

// Session is a single time-boxed attendance-taking event. EndsAtMs is fixed
// at creation and never recomputed; every countdown derives from it.
type Session struct {
	ID               string     `json:"-"`
	Code             string     `json:"code"`
	OwnerID          string     `json:"ownerId"`
	Label            string     `json:"label"`
	ThresholdMinutes int        `json:"thresholdMinutes"`
	RadiusMeters     int        `json:"radiusMeters"`
	OwnerLocation    *geo.Point `json:"ownerLocation,omitempty"`
	Status           Status     `json:"status"`
	CreatedAt        int64      `json:"createdAt,omitempty"`
	UpdatedAt        int64      `json:"updatedAt,omitempty"`
	EndedAt          int64      `json:"endedAt,omitempty"`
	ArchivedAt       int64      `json:"archivedAt,omitempty"`
	EndsAtMs         int64      `json:"endsAtMs"`
}

// Path returns the store path of a session document.
func Path(id string) string { return Collection + "/" + id }

// FromDoc decodes a session document.
func FromDoc(id string, doc rtstore.Doc) (Session, error) {
	var s Session
	if err := rtstore.Decode(doc, &s); err != nil {
		return Session{}, err
	}
	s.ID = id
	return s, nil
}
