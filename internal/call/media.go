package call

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track wraps a local pion track with a mute flag and teardown hook.
// Muting only flips the flag; the track stays attached to every peer
// connection, so no renegotiation happens. Producers writing samples must
// check Enabled before each write.
type Track struct {
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	stop    func()
	onEnded func()
}

// NewTrack wraps a pion local track. stop releases the underlying capture
// resource and may be nil.
func NewTrack(local webrtc.TrackLocal, stop func()) *Track {
	return &Track{local: local, enabled: true, stop: stop}
}

// Local returns the underlying pion track for AddTrack/ReplaceTrack.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

// Kind returns audio or video.
func (t *Track) Kind() webrtc.RTPCodecType {
	return t.local.Kind()
}

// Enabled reports whether the track is live (unmuted).
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled mutes or unmutes the track.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// OnEnded registers a callback fired when the capture source stops on its
// own, e.g. the OS-level "stop sharing" affordance ending a screen grab.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

// EndedBySource reports a source-initiated stop. It converges on the same
// cleanup as an explicit Stop via the registered callback.
func (t *Track) EndedBySource() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop releases the capture resource. Safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	stop := t.stop
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Capture acquires local media tracks. Acquisition can fail (no device,
// permission denied); the call then proceeds in degraded mode rather than
// aborting. Tests substitute a fake.
type Capture interface {
	AudioTrack() (*Track, error)
	VideoTrack() (*Track, error)
	ScreenTrack() (*Track, error)
}

// SampleCapture builds static sample tracks with the standard codecs. It
// carries no device integration: producers are attached by the caller, and
// an unfed track is simply silent. This keeps the mesh testable and the
// CLI usable on headless machines.
type SampleCapture struct{}

func (SampleCapture) AudioTrack() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(), "studyhive",
	)
	if err != nil {
		return nil, err
	}
	return NewTrack(local, nil), nil
}

func (SampleCapture) VideoTrack() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+uuid.NewString(), "studyhive",
	)
	if err != nil {
		return nil, err
	}
	return NewTrack(local, nil), nil
}

func (SampleCapture) ScreenTrack() (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen-"+uuid.NewString(), "studyhive",
	)
	if err != nil {
		return nil, err
	}
	return NewTrack(local, nil), nil
}
