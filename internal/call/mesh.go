package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	ErrNotInCall     = errors.New("not in a call")
	ErrAlreadyInCall = errors.New("already in a call")
)

// Signaler carries outbound negotiation frames to the server. Offers,
// answers and candidates are point-to-point: they name a target user and
// the server relays them to that participant only.
type Signaler interface {
	SendOffer(targetUserID, sdp string) error
	SendAnswer(targetUserID, sdp string) error
	SendCandidate(targetUserID string, candidate webrtc.ICECandidateInit) error
	SendMediaToggle(kind MediaKind, enabled bool) error
	SendCallLeft() error
}

// LinkState is the lifecycle of one peer connection.
type LinkState int

const (
	LinkCreated LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkCreated:
		return "created"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink is the connection to one remote participant. At most one link
// exists per remote user; all mutation goes through the Manager.
type PeerLink struct {
	UserID   string
	Username string

	pc       *webrtc.PeerConnection
	state    LinkState
	degraded bool

	// pending buffers candidates that raced ahead of the remote
	// description. Flushed after SetRemoteDescription succeeds.
	pending []webrtc.ICECandidateInit

	remoteAudio  bool
	remoteVideo  bool
	remoteScreen bool
	hasStream    bool
}

// LinkSnapshot is a copy of a link's observable state for UI reads. The
// live PeerLink is never handed out: a reader must not observe a link
// mid-teardown.
type LinkSnapshot struct {
	UserID       string
	Username     string
	State        LinkState
	Degraded     bool
	HasStream    bool
	AudioEnabled bool
	VideoEnabled bool
	Screen       bool
}

// Manager owns the full mesh: one PeerLink per remote participant plus the
// local media tracks. It is the only mutator of the link map; every entry
// point takes the manager lock, and UI reads get snapshot copies.
type Manager struct {
	selfID   string
	signaler Signaler
	capture  Capture
	logger   *slog.Logger

	mu         sync.Mutex
	iceServers []webrtc.ICEServer
	links      map[string]*PeerLink
	localAudio *Track
	localVideo *Track
	screen     *Track
	inCall     bool
	leftSent   bool

	// onChange pokes the UI after any link or media state transition.
	onChange func()
}

// NewManager creates a mesh manager. iceServers comes from the discovery
// endpoint (or its STUN fallback).
func NewManager(selfID string, signaler Signaler, capture Capture, iceServers []webrtc.ICEServer, logger *slog.Logger) *Manager {
	return &Manager{
		selfID:     selfID,
		signaler:   signaler,
		capture:    capture,
		iceServers: iceServers,
		links:      make(map[string]*PeerLink),
		logger:     logger,
	}
}

// OnChange registers a callback fired after state transitions. Used by the
// room view to redraw.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Join acquires the local microphone (muted) and marks the user in-call.
// Peer links are not created here; they grow as participant-joined frames
// arrive or offers come in. A failed audio acquisition degrades the call
// to listen-only instead of aborting it.
func (m *Manager) Join() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inCall {
		return ErrAlreadyInCall
	}

	audio, err := m.capture.AudioTrack()
	if err != nil {
		m.logger.Warn("microphone unavailable, joining listen-only", "error", err)
	} else {
		audio.SetEnabled(false) // start muted
		m.localAudio = audio
	}

	m.inCall = true
	m.leftSent = false
	return nil
}

// InCall reports whether the local user is in the room's call.
func (m *Manager) InCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inCall
}

// ConnectTo makes the local side the offerer towards a participant. If a
// link already exists it is reused; two links for one user would race each
// other's negotiation.
func (m *Manager) ConnectTo(userID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall || userID == m.selfID {
		return
	}

	link, created, err := m.getOrCreateLink(userID, username)
	if err != nil {
		m.logger.Error("failed to create peer link", "user", username, "error", err)
		return
	}
	if !created {
		return
	}
	m.negotiateLocked(link)
}

// HandleOffer answers an inbound offer, reusing an existing link for the
// sender when present. The same path serves first negotiation and
// renegotiation after the remote side added a track.
func (m *Manager) HandleOffer(fromUserID, fromUsername, sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return
	}

	link, _, err := m.getOrCreateLink(fromUserID, fromUsername)
	if err != nil {
		m.logger.Error("failed to create peer link for offer", "user", fromUsername, "error", err)
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(offer); err != nil {
		m.degradeLocked(link, fmt.Errorf("set remote offer: %w", err))
		return
	}
	m.flushPendingLocked(link)

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		m.degradeLocked(link, fmt.Errorf("create answer: %w", err))
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		m.degradeLocked(link, fmt.Errorf("set local answer: %w", err))
		return
	}

	link.state = LinkNegotiating
	if err := m.signaler.SendAnswer(fromUserID, link.pc.LocalDescription().SDP); err != nil {
		m.logger.Warn("failed to send answer", "user", fromUsername, "error", err)
	}
	m.notifyLocked()
}

// HandleAnswer completes a negotiation this side initiated.
func (m *Manager) HandleAnswer(fromUserID, sdp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[fromUserID]
	if !ok {
		return
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := link.pc.SetRemoteDescription(answer); err != nil {
		m.degradeLocked(link, fmt.Errorf("set remote answer: %w", err))
		return
	}
	m.flushPendingLocked(link)
}

// HandleCandidate applies a trickled ICE candidate. Candidates that arrive
// before the remote description are buffered; malformed ones are logged
// and dropped. Neither case is fatal to the link.
func (m *Manager) HandleCandidate(fromUserID string, raw json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[fromUserID]
	if !ok {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		m.logger.Warn("dropping malformed ICE candidate", "user", link.Username, "error", err)
		return
	}

	if link.pc.RemoteDescription() == nil {
		link.pending = append(link.pending, candidate)
		return
	}
	if err := link.pc.AddICECandidate(candidate); err != nil {
		m.logger.Warn("failed to add ICE candidate", "user", link.Username, "error", err)
	}
}

// ToggleAudio flips the microphone mute flag. No renegotiation: the track
// stays attached, only the enabled bit changes.
func (m *Manager) ToggleAudio() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return false, ErrNotInCall
	}
	if m.localAudio == nil {
		return false, errors.New("no microphone track")
	}

	enabled := !m.localAudio.Enabled()
	m.localAudio.SetEnabled(enabled)
	if err := m.signaler.SendMediaToggle(MediaAudio, enabled); err != nil {
		m.logger.Warn("failed to announce audio toggle", "error", err)
	}
	m.notifyLocked()
	return enabled, nil
}

// ToggleVideo flips the camera flag when a video track already exists.
// First-time enable is structurally different: it acquires a capture
// track, attaches it to every link and renegotiates each one, because
// adding a track changes the SDP. One peer failing to renegotiate does not
// stop the fan-out to the rest.
func (m *Manager) ToggleVideo() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return false, ErrNotInCall
	}

	if m.localVideo != nil {
		enabled := !m.localVideo.Enabled()
		m.localVideo.SetEnabled(enabled)
		if err := m.signaler.SendMediaToggle(MediaVideo, enabled); err != nil {
			m.logger.Warn("failed to announce video toggle", "error", err)
		}
		m.notifyLocked()
		return enabled, nil
	}

	video, err := m.capture.VideoTrack()
	if err != nil {
		return false, fmt.Errorf("acquire camera: %w", err)
	}
	m.localVideo = video

	for _, link := range m.links {
		if _, err := link.pc.AddTrack(video.Local()); err != nil {
			m.degradeLocked(link, fmt.Errorf("add video track: %w", err))
			continue
		}
		m.negotiateLocked(link)
	}

	if err := m.signaler.SendMediaToggle(MediaVideo, true); err != nil {
		m.logger.Warn("failed to announce video toggle", "error", err)
	}
	m.notifyLocked()
	return true, nil
}

// StartScreenShare substitutes the outgoing video track on every link's
// sender in place. Where a video sender already exists no renegotiation is
// needed; audio-only links grow a video sender and renegotiate.
func (m *Manager) StartScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return ErrNotInCall
	}
	if m.screen != nil {
		return nil
	}

	screen, err := m.capture.ScreenTrack()
	if err != nil {
		return fmt.Errorf("acquire screen: %w", err)
	}
	m.screen = screen

	// The OS-level stop affordance lands here too, converging with
	// StopScreenShare on the same cleanup.
	screen.OnEnded(func() {
		if err := m.StopScreenShare(); err != nil && !errors.Is(err, ErrNotInCall) {
			m.logger.Warn("screen share cleanup failed", "error", err)
		}
	})

	for _, link := range m.links {
		m.replaceVideoLocked(link, screen.Local())
	}

	if err := m.signaler.SendMediaToggle(MediaScreen, true); err != nil {
		m.logger.Warn("failed to announce screen share", "error", err)
	}
	m.notifyLocked()
	return nil
}

// StopScreenShare restores the camera track (or no-video) on every sender.
// Explicit user action and the capture source ending both call this; it is
// idempotent.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return ErrNotInCall
	}
	if m.screen == nil {
		return nil
	}

	m.screen.Stop()
	m.screen = nil

	var camera webrtc.TrackLocal
	if m.localVideo != nil {
		camera = m.localVideo.Local()
	}
	for _, link := range m.links {
		m.replaceVideoLocked(link, camera)
	}

	if err := m.signaler.SendMediaToggle(MediaScreen, false); err != nil {
		m.logger.Warn("failed to announce screen share stop", "error", err)
	}
	m.notifyLocked()
	return nil
}

// ScreenSharing reports whether a screen track is live.
func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen != nil
}

// AudioEnabled reports the local microphone state.
func (m *Manager) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localAudio != nil && m.localAudio.Enabled()
}

// VideoEnabled reports the local camera state.
func (m *Manager) VideoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localVideo != nil && m.localVideo.Enabled()
}

// SetRemoteMedia records a participant's announced mute state.
func (m *Manager) SetRemoteMedia(userID string, kind MediaKind, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[userID]
	if !ok {
		return
	}
	switch kind {
	case MediaAudio:
		link.remoteAudio = enabled
	case MediaVideo:
		link.remoteVideo = enabled
	case MediaScreen:
		link.remoteScreen = enabled
	}
	m.notifyLocked()
}

// RemovePeer tears down the link to one departed participant. Other links
// are untouched.
func (m *Manager) RemovePeer(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[userID]
	if !ok {
		return
	}
	delete(m.links, userID)
	link.state = LinkClosed
	if err := link.pc.Close(); err != nil {
		m.logger.Warn("error closing peer connection", "user", link.Username, "error", err)
	}
	m.notifyLocked()
}

// Leave tears down the whole call: stops local tracks, closes every link,
// clears call-scoped state and notifies the server exactly once. Safe to
// call repeatedly; later calls are no-ops.
func (m *Manager) Leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inCall {
		return
	}

	for _, track := range []*Track{m.localAudio, m.localVideo, m.screen} {
		if track != nil {
			track.Stop()
		}
	}
	m.localAudio, m.localVideo, m.screen = nil, nil, nil

	for userID, link := range m.links {
		link.state = LinkClosed
		if err := link.pc.Close(); err != nil {
			m.logger.Warn("error closing peer connection", "user", link.Username, "error", err)
		}
		delete(m.links, userID)
	}

	m.inCall = false
	if !m.leftSent {
		m.leftSent = true
		if err := m.signaler.SendCallLeft(); err != nil {
			m.logger.Warn("failed to notify call leave", "error", err)
		}
	}
	m.notifyLocked()
}

// Links returns snapshot copies of every live link.
func (m *Manager) Links() []LinkSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LinkSnapshot, 0, len(m.links))
	for _, link := range m.links {
		out = append(out, LinkSnapshot{
			UserID:       link.UserID,
			Username:     link.Username,
			State:        link.state,
			Degraded:     link.degraded,
			HasStream:    link.hasStream,
			AudioEnabled: link.remoteAudio,
			VideoEnabled: link.remoteVideo,
			Screen:       link.remoteScreen,
		})
	}
	return out
}

// getOrCreateLink returns the existing link for userID or builds a fresh
// peer connection with all current local tracks attached. Caller holds mu.
func (m *Manager) getOrCreateLink(userID, username string) (*PeerLink, bool, error) {
	if link, ok := m.links[userID]; ok {
		return link, false, nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.iceServers})
	if err != nil {
		return nil, false, err
	}

	link := &PeerLink{UserID: userID, Username: username, pc: pc, state: LinkCreated}

	for _, track := range m.outgoingTracksLocked() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, false, fmt.Errorf("attach local track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := m.signaler.SendCandidate(userID, c.ToJSON()); err != nil {
			m.logger.Warn("failed to send ICE candidate", "user", username, "error", err)
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		defer m.mu.Unlock()
		link.hasStream = true
		switch remote.Kind() {
		case webrtc.RTPCodecTypeAudio:
			link.remoteAudio = true
		case webrtc.RTPCodecTypeVideo:
			link.remoteVideo = true
		}
		m.notifyLocked()
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		m.mu.Lock()
		defer m.mu.Unlock()
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			link.state = LinkConnected
			link.degraded = false
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			// Degraded is per-link: one flaky participant never tears
			// down the rest of the mesh.
			link.degraded = true
			m.logger.Warn("peer link degraded", "user", username, "ice_state", state.String())
		}
		m.notifyLocked()
	})

	m.links[userID] = link
	return link, true, nil
}

// outgoingTracksLocked lists the local tracks a new link should carry.
// During a screen share the screen track takes the video slot.
func (m *Manager) outgoingTracksLocked() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if m.localAudio != nil {
		tracks = append(tracks, m.localAudio.Local())
	}
	switch {
	case m.screen != nil:
		tracks = append(tracks, m.screen.Local())
	case m.localVideo != nil:
		tracks = append(tracks, m.localVideo.Local())
	}
	return tracks
}

// negotiateLocked runs one offer cycle on a link. Used for both first
// negotiation and renegotiation after a track change. Caller holds mu.
func (m *Manager) negotiateLocked(link *PeerLink) {
	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		m.degradeLocked(link, fmt.Errorf("create offer: %w", err))
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		m.degradeLocked(link, fmt.Errorf("set local offer: %w", err))
		return
	}

	link.state = LinkNegotiating
	if err := m.signaler.SendOffer(link.UserID, link.pc.LocalDescription().SDP); err != nil {
		m.logger.Warn("failed to send offer", "user", link.Username, "error", err)
	}
	m.notifyLocked()
}

// replaceVideoLocked swaps the track on a link's video sender in place.
// track may be nil to stop sending video. The transceiver keeps its kind
// even while its sender carries no track, so a paused sender is still
// found here. A link with no video sender at all grows one, which does
// require a renegotiation. Caller holds mu.
func (m *Manager) replaceVideoLocked(link *PeerLink, track webrtc.TrackLocal) {
	for _, transceiver := range link.pc.GetTransceivers() {
		if transceiver.Kind() != webrtc.RTPCodecTypeVideo || transceiver.Sender() == nil {
			continue
		}
		if err := transceiver.Sender().ReplaceTrack(track); err != nil {
			m.degradeLocked(link, fmt.Errorf("replace video track: %w", err))
		}
		return
	}

	if track == nil {
		return
	}
	if _, err := link.pc.AddTrack(track); err != nil {
		m.degradeLocked(link, fmt.Errorf("add video track: %w", err))
		return
	}
	m.negotiateLocked(link)
}

// flushPendingLocked applies candidates buffered before the remote
// description arrived. Caller holds mu.
func (m *Manager) flushPendingLocked(link *PeerLink) {
	for _, candidate := range link.pending {
		if err := link.pc.AddICECandidate(candidate); err != nil {
			m.logger.Warn("failed to add buffered ICE candidate", "user", link.Username, "error", err)
		}
	}
	link.pending = nil
}

// degradeLocked records a scoped negotiation failure. The link stays in
// the mesh so a later renegotiation can recover it. Caller holds mu.
func (m *Manager) degradeLocked(link *PeerLink, err error) {
	link.degraded = true
	m.logger.Error("peer link error", "user", link.Username, "error", err)
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	if m.onChange != nil {
		go m.onChange()
	}
}
