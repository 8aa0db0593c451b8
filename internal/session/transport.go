package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/studyhive/studyhive-cli/internal/call"
	"github.com/studyhive/studyhive-cli/internal/dns"
	"github.com/studyhive/studyhive-cli/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBuffer = 64

	reconnectBase        = time.Second
	reconnectCap         = 30 * time.Second
	maxReconnectAttempts = 8
)

// State is the transport connection state, surfaced to the UI.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TokenSource supplies the access token embedded in the socket URI and
// refreshes it when a reconnect dial is rejected as unauthorized.
type TokenSource interface {
	Access() string
	Refresh(ctx context.Context) (string, error)
}

// Transport owns the room's multiplexed websocket: one connection carries
// chat, presence, moderation, and call signaling. It reconnects on its own
// with bounded exponential backoff; callers observe state transitions and
// reconcile missed history when OnReconnected fires.
type Transport struct {
	socketURL func(token string) string
	tokens    TokenSource
	decoder   *Decoder
	logger    *slog.Logger

	onEvent       func(Decoded)
	onState       func(State)
	onReconnected func()

	outgoing chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// NewTransport builds an unconnected transport. socketURL maps an access
// token to the full connect URI for the room.
func NewTransport(socketURL func(token string) string, tokens TokenSource, decoder *Decoder, logger *slog.Logger) *Transport {
	return &Transport{
		socketURL: socketURL,
		tokens:    tokens,
		decoder:   decoder,
		logger:    logger.With("component", "transport"),
		outgoing:  make(chan []byte, outgoingBuffer),
		done:      make(chan struct{}),
		state:     StateConnecting,
	}
}

// OnEvent registers the inbound frame handler. Must be set before Connect;
// frames are delivered sequentially from the read loop.
func (t *Transport) OnEvent(fn func(Decoded)) { t.onEvent = fn }

// OnStateChange registers the connection state observer.
func (t *Transport) OnStateChange(fn func(State)) { t.onState = fn }

// OnReconnected registers the reconciliation hook, invoked after every
// successful reconnect so the caller can re-fetch history it may have
// missed while the socket was down.
func (t *Transport) OnReconnected(fn func()) { t.onReconnected = fn }

// Connect dials the room socket and starts the read and write loops.
func (t *Transport) Connect(ctx context.Context) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return NewError("connect room socket", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(StateConnected)

	go t.run(conn)
	go t.writePump()
	return nil
}

// Close tears the session down. Safe to call more than once.
func (t *Transport) Close() {
	t.stopOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			deadline := time.Now().Add(writeWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		t.setState(StateClosed)
	})
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	if t.state == StateClosed || t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	rawURL := t.socketURL(t.tokens.Access())

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := dns.Lookup(host)
			if err != nil {
				return nil, err
			}
			d := new(net.Dialer)
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			token, refreshErr := t.tokens.Refresh(ctx)
			if refreshErr != nil {
				return nil, refreshErr
			}
			conn, resp, err = dialer.DialContext(ctx, t.socketURL(token), nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return conn, nil
}

// run drives one connection's read loop, then reconnects until the
// transport is closed or the attempts run out.
func (t *Transport) run(conn *websocket.Conn) {
	for {
		t.readPump(conn)

		select {
		case <-t.done:
			return
		default:
		}

		t.setState(StateReconnecting)
		next, err := t.reconnect()
		if err != nil {
			if err != ErrClosed {
				t.logger.Error("reconnect failed", "error", err)
				t.setState(StateFailed)
			}
			return
		}
		conn = next
	}
}

func (t *Transport) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("room socket dropped", "error", err)
			}
			return
		}

		decoded, err := t.decoder.Decode(data)
		if err != nil {
			t.logger.Debug("ignoring frame", "error", err)
			continue
		}
		if t.onEvent != nil {
			t.onEvent(decoded)
		}
	}
}

// writePump serializes all outbound traffic and keepalive pings. It runs
// for the transport's lifetime; frames queued while the socket is down are
// dropped with a warning rather than blocking the caller.
func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case data := <-t.outgoing:
			if err := t.writeMessage(websocket.TextMessage, data); err != nil {
				t.logger.Warn("dropping outbound frame", "error", err)
			}
		case <-ticker.C:
			if err := t.writeMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Debug("ping failed", "error", err)
			}
		}
	}
}

func (t *Transport) writeMessage(messageType int, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

func (t *Transport) reconnect() (*websocket.Conn, error) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt)
		t.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-t.done:
			return nil, ErrClosed
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			t.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		t.setState(StateConnected)
		if t.onReconnected != nil {
			t.onReconnected()
		}
		return conn, nil
	}
	return nil, ErrReconnectGone
}

// backoffDelay doubles per attempt up to a ceiling, with the upper half
// randomized so reconnecting clients do not stampede the server together.
func backoffDelay(attempt int) time.Duration {
	d := reconnectBase << (attempt - 1)
	if d > reconnectCap {
		d = reconnectCap
	}
	half := d / 2
	return half + time.Duration(rand.Int64N(int64(half)+1))
}

func (t *Transport) enqueue(op string, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return NewError(op, err)
	}
	select {
	case <-t.done:
		return ErrClosed
	case t.outgoing <- data:
		return nil
	default:
		return WrapError(op, ErrNotConnected, "outbound buffer full")
	}
}

// SendChat sends a chat message, optionally replying to another message.
// The chat frame is the one outbound shape with no type field; the server
// recognizes it by the message key.
func (t *Transport) SendChat(body, repliedToID string) error {
	return t.enqueue("send chat", struct {
		Message     string `json:"message"`
		RepliedToID string `json:"replied_to_id,omitempty"`
	}{Message: body, RepliedToID: repliedToID})
}

// EditMessage replaces the body of one of the caller's own messages. The
// outbound frame keys the target as message_id and the new body as content;
// the broadcast coming back uses id and message instead.
func (t *Transport) EditMessage(messageID, body string) error {
	return t.enqueue("edit message", struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}{Type: "edit_message", MessageID: messageID, Content: body})
}

// DeleteMessage removes one of the caller's own messages.
func (t *Transport) DeleteMessage(messageID string) error {
	return t.enqueue("delete message", struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
	}{Type: "delete_message", MessageID: messageID})
}

// SetTyping broadcasts the caller's typing state. Callers are expected to
// debounce; the server relays every frame as-is.
func (t *Transport) SetTyping(typing bool) error {
	return t.enqueue("set typing", struct {
		Type     string `json:"type"`
		IsTyping bool   `json:"is_typing"`
	}{Type: "typing", IsTyping: typing})
}

// MarkSeen records that the caller has seen a message.
func (t *Transport) MarkSeen(messageID string) error {
	return t.enqueue("mark seen", struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
	}{Type: "mark_seen", MessageID: messageID})
}

// KickUser ejects a user from the room. Moderator only; the server answers
// unauthorized attempts with an error frame.
func (t *Transport) KickUser(userID string) error {
	return t.enqueue("kick user", struct {
		Type   string `json:"type"`
		UserID string `json:"user_id"`
	}{Type: "kick_user", UserID: userID})
}

// PromoteUser changes a user's role. Moderator only.
func (t *Transport) PromoteUser(userID string, role room.Role) error {
	return t.enqueue("promote user", struct {
		Type   string    `json:"type"`
		UserID string    `json:"user_id"`
		Role   room.Role `json:"role"`
	}{Type: "promote_user", UserID: userID, Role: role})
}

// MuteUser mutes or unmutes a user's chat. Moderator only.
func (t *Transport) MuteUser(userID string, muted bool) error {
	return t.enqueue("mute user", struct {
		Type    string `json:"type"`
		UserID  string `json:"user_id"`
		IsMuted bool   `json:"is_muted"`
	}{Type: "mute_user", UserID: userID, IsMuted: muted})
}

// AddReaction attaches an emoji reaction to a message.
func (t *Transport) AddReaction(messageID, emoji string) error {
	return t.enqueue("add reaction", struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	}{Type: "add_reaction", MessageID: messageID, Emoji: emoji})
}

// RemoveReaction detaches the caller's emoji reaction from a message.
func (t *Transport) RemoveReaction(messageID, emoji string) error {
	return t.enqueue("remove reaction", struct {
		Type      string `json:"type"`
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	}{Type: "remove_reaction", MessageID: messageID, Emoji: emoji})
}

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SendOffer relays an SDP offer to one peer over the room socket.
func (t *Transport) SendOffer(targetUserID, sdp string) error {
	return t.enqueue("send offer", struct {
		Type         string             `json:"type"`
		TargetUserID string             `json:"target_user_id"`
		Offer        sessionDescription `json:"offer"`
	}{Type: "webrtc_offer", TargetUserID: targetUserID, Offer: sessionDescription{Type: "offer", SDP: sdp}})
}

// SendAnswer relays an SDP answer to one peer.
func (t *Transport) SendAnswer(targetUserID, sdp string) error {
	return t.enqueue("send answer", struct {
		Type         string             `json:"type"`
		TargetUserID string             `json:"target_user_id"`
		Answer       sessionDescription `json:"answer"`
	}{Type: "webrtc_answer", TargetUserID: targetUserID, Answer: sessionDescription{Type: "answer", SDP: sdp}})
}

// SendCandidate relays one ICE candidate to one peer.
func (t *Transport) SendCandidate(targetUserID string, candidate webrtc.ICECandidateInit) error {
	return t.enqueue("send candidate", struct {
		Type         string                  `json:"type"`
		TargetUserID string                  `json:"target_user_id"`
		Candidate    webrtc.ICECandidateInit `json:"candidate"`
	}{Type: "ice_candidate", TargetUserID: targetUserID, Candidate: candidate})
}

// SendMediaToggle broadcasts a local media state change to the room.
func (t *Transport) SendMediaToggle(kind call.MediaKind, enabled bool) error {
	return t.enqueue("send media toggle", struct {
		Type    string `json:"type"`
		Enabled bool   `json:"enabled"`
	}{Type: "call_toggle_" + string(kind), Enabled: enabled})
}

// SendCallLeft announces that the caller has left the call.
func (t *Transport) SendCallLeft() error {
	return t.enqueue("send call left", struct {
		Type string `json:"type"`
	}{Type: "call_left"})
}

var _ call.Signaler = (*Transport)(nil)
