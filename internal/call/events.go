package call

import "encoding/json"

// Event is the union of call-related frames arriving on the room channel.
// The router splits them into call lifecycle and peer negotiation; the two
// groups have different gating rules.
type Event interface {
	callEvent()
}

// Offer is an SDP offer addressed to the local user.
type Offer struct {
	FromUserID   string
	FromUsername string
	SDP          string
}

// Answer is an SDP answer addressed to the local user.
type Answer struct {
	FromUserID string
	SDP        string
}

// Candidate is a trickled ICE candidate from a remote peer. The payload
// stays raw until the mesh parses it; malformed candidates are non-fatal.
type Candidate struct {
	FromUserID string
	Candidate  json.RawMessage
}

// MediaToggle announces a participant muting or unmuting audio, video or
// screen share.
type MediaToggle struct {
	UserID    string
	Username  string
	MediaType MediaKind
	Enabled   bool
}

// Started announces a new call in the room. Non-participants use it to
// show a join affordance; no peer connection is created from it.
type Started struct {
	CallID        string
	CallType      string
	InitiatedBy   string
	InitiatedByID string
}

// ParticipantJoined announces a participant entering the active call.
type ParticipantJoined struct {
	CallID       string
	UserID       string
	Username     string
	AudioEnabled bool
	VideoEnabled bool
}

// ParticipantLeft announces a participant leaving the active call.
type ParticipantLeft struct {
	CallID   string
	UserID   string
	Username string
}

// Ended announces the call terminating for everyone.
type Ended struct {
	CallID  string
	Reason  string
	EndedBy string
}

func (Offer) callEvent()             {}
func (Answer) callEvent()            {}
func (Candidate) callEvent()         {}
func (MediaToggle) callEvent()       {}
func (Started) callEvent()           {}
func (ParticipantJoined) callEvent() {}
func (ParticipantLeft) callEvent()   {}
func (Ended) callEvent()             {}

// MediaKind names a toggleable media stream.
type MediaKind string

const (
	MediaAudio  MediaKind = "audio"
	MediaVideo  MediaKind = "video"
	MediaScreen MediaKind = "screen"
)

// Info is the lightweight "someone is in a call" indicator kept for every
// room member, participant or not.
type Info struct {
	ID               string
	CallType         string
	InitiatedBy      string
	ParticipantCount int
}
