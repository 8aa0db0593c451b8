package call

import (
	"log/slog"
	"sync"
)

// Router classifies inbound call frames and drives the mesh. Negotiation
// frames (offer/answer/candidate) are dropped entirely unless the local
// user is in the call; a bystander must never grow peer connections from
// stray signaling. Lifecycle frames are processed for everyone so the room
// can show an active-call indicator with a join affordance.
type Router struct {
	selfID string
	mesh   *Manager
	logger *slog.Logger

	mu     sync.Mutex
	active *Info
}

// NewRouter creates a router for the given mesh manager.
func NewRouter(selfID string, mesh *Manager, logger *slog.Logger) *Router {
	return &Router{selfID: selfID, mesh: mesh, logger: logger}
}

// SeedActive installs call info learned from the session snapshot, so a
// client entering a room mid-call sees the indicator immediately.
func (r *Router) SeedActive(info *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = info
}

// Active returns the current call indicator, or nil when no call is live.
func (r *Router) Active() *Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	info := *r.active
	return &info
}

// Handle dispatches one inbound call event.
func (r *Router) Handle(ev Event) {
	switch e := ev.(type) {
	case Started:
		r.mu.Lock()
		if r.active == nil {
			r.active = &Info{
				ID:               e.CallID,
				CallType:         e.CallType,
				InitiatedBy:      e.InitiatedBy,
				ParticipantCount: 1,
			}
		}
		r.mu.Unlock()

	case ParticipantJoined:
		r.mu.Lock()
		if r.active != nil && r.active.ID == e.CallID {
			r.active.ParticipantCount++
		}
		r.mu.Unlock()
		if r.mesh.InCall() && e.UserID != r.selfID {
			// Local side is the offerer towards every newcomer.
			r.mesh.ConnectTo(e.UserID, e.Username)
		}

	case ParticipantLeft:
		r.mu.Lock()
		if r.active != nil && r.active.ID == e.CallID && r.active.ParticipantCount > 0 {
			r.active.ParticipantCount--
		}
		r.mu.Unlock()
		if r.mesh.InCall() {
			r.mesh.RemovePeer(e.UserID)
		}

	case Ended:
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		if r.mesh.InCall() {
			r.mesh.Leave()
		}

	case Offer:
		if !r.mesh.InCall() {
			return
		}
		r.mesh.HandleOffer(e.FromUserID, e.FromUsername, e.SDP)

	case Answer:
		if !r.mesh.InCall() {
			return
		}
		r.mesh.HandleAnswer(e.FromUserID, e.SDP)

	case Candidate:
		if !r.mesh.InCall() {
			return
		}
		r.mesh.HandleCandidate(e.FromUserID, e.Candidate)

	case MediaToggle:
		if !r.mesh.InCall() {
			return
		}
		r.mesh.SetRemoteMedia(e.UserID, e.MediaType, e.Enabled)

	default:
		r.logger.Debug("ignoring unknown call event")
	}
}
