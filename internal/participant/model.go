package participant

import (
	"focusattend/internal/geo"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

// Status is the participant attendance state within one session. It only
// ever moves toward absent: nothing upgrades a downgraded participant.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// AbsenceReason tags why a participant was marked absent, for audit.
type AbsenceReason string

const (
	ReasonExited   AbsenceReason = "exited"
	ReasonTimeout  AbsenceReason = "timeout"
	ReasonExceeded AbsenceReason = "exceeded"
)

// Participant is one user's join record within a session, keyed by
// (sessionID, userID). It is destroyed together with the session document.
type Participant struct {
	UserID               string     `json:"userId"`
	DisplayName          string     `json:"displayName,omitempty"`
	ContactHandle        string     `json:"contactHandle,omitempty"`
	ImageRef             *string    `json:"imageRef,omitempty"`
	JoinedAt             int64      `json:"joinedAt,omitempty"`
	Location             *geo.Point `json:"location,omitempty"`
	Status               Status     `json:"status"`
	Present              bool       `json:"present"`
	CodeVerified         bool       `json:"codeVerified"`
	CodeVerifiedAt       int64      `json:"codeVerifiedAt,omitempty"`
	ExitedEarly          bool       `json:"exitedEarly"`
	ExitedAt             int64      `json:"exitedAt,omitempty"`
	CodeAttemptsExceeded bool       `json:"codeAttemptsExceeded"`
	CodeTimeoutAbsent    bool       `json:"codeTimeoutAbsent"`
}

// Profile carries the identity collaborator's view of the joining user.
type Profile struct {
	DisplayName   string
	ContactHandle string
	ImageRef      *string
}

// CollectionPath returns the participants collection under a session.
func CollectionPath(sessionID string) string {
	return session.Path(sessionID) + "/participants"
}

// Path returns the store path of one participant document.
func Path(sessionID, userID string) string {
	return CollectionPath(sessionID) + "/" + userID
}

// FromDoc decodes a participant document.
func FromDoc(doc rtstore.Doc) (Participant, error) {
	var p Participant
	if err := rtstore.Decode(doc, &p); err != nil {
		return Participant{}, err
	}
	if p.Status == "" {
		p.Status = StatusPresent
	}
	return p, nil
}
