package publish

import (
	"fmt"
	"time"
)

// State is a step of the publish lifecycle.
type State string

const (
	StateRendered         State = "rendered"
	StateUploading        State = "uploading"
	StateUploadedUnlisted State = "uploaded_unlisted"
	StateClaimPending     State = "claim_pending"
	StatePublic           State = "public"
	StateClaimed          State = "claimed"
	StateStruck           State = "struck"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StateRendered:         {StateUploading, StateFailed},
	StateUploading:        {StateUploadedUnlisted, StateFailed},
	StateUploadedUnlisted: {StateClaimPending, StateFailed},
	StateClaimPending:     {StatePublic, StateClaimed, StateStruck, StateFailed},
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

type ClaimStatus string

const (
	ClaimUnknown ClaimStatus = "unknown"
	ClaimClean   ClaimStatus = "clean"
	ClaimClaimed ClaimStatus = "claimed"
	ClaimStruck  ClaimStatus = "struck"
)

// Transition is one entry of a record's history.
type Transition struct {
	From State     `json:"from,omitempty"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

// Record is the durable publish state of one clip on one platform.
type Record struct {
	ClipID          string       `json:"clip_id"`
	VideoID         string       `json:"video_id"`
	Creator         string       `json:"creator,omitempty"`
	Platform        string       `json:"platform"`
	Title           string       `json:"title,omitempty"`
	Description     string       `json:"description,omitempty"`
	Artifact        string       `json:"artifact"`
	State           State        `json:"state"`
	RemoteVideoID   string       `json:"remote_video_id,omitempty"`
	Visibility      Visibility   `json:"visibility"`
	ClaimStatus     ClaimStatus  `json:"claim_status"`
	UploadedAt      *time.Time   `json:"uploaded_at,omitempty"`
	ScheduledFlipAt *time.Time   `json:"scheduled_flip_at,omitempty"`
	Attempts        int          `json:"attempts"`
	ClaimAttempts   int          `json:"claim_attempts"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	History         []Transition `json:"history,omitempty"`
}

// transition moves the record to next, recording the step in its history.
func (r *Record) transition(next State, at time.Time, note string) error {
	if !CanTransition(r.State, next) {
		return fmt.Errorf("illegal transition %s -> %s for clip %s", r.State, next, r.ClipID)
	}
	r.History = append(r.History, Transition{From: r.State, To: next, At: at, Note: note})
	r.State = next
	r.UpdatedAt = at
	return nil
}

func (r Record) clone() Record {
	out := r
	if r.History != nil {
		out.History = make([]Transition, len(r.History))
		copy(out.History, r.History)
	}
	if r.UploadedAt != nil {
		t := *r.UploadedAt
		out.UploadedAt = &t
	}
	if r.ScheduledFlipAt != nil {
		t := *r.ScheduledFlipAt
		out.ScheduledFlipAt = &t
	}
	return out
}
