package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studyhive/studyhive-cli/internal/api"
	"github.com/studyhive/studyhive-cli/internal/call"
	"github.com/studyhive/studyhive-cli/internal/room"
)

// Options wires a controller to the room it drives.
type Options struct {
	RoomID       string
	SocketURL    func(token string) string
	Tokens       TokenSource
	Client       *api.Client
	Capture      call.Capture
	FallbackSTUN string
	Logger       *slog.Logger
}

// Controller is the live room session: it seeds state over REST, connects
// the multiplexed socket, and routes every inbound frame to the message
// store or the call mesh. All UI-facing reads go through the store and
// mesh snapshots; writes go through the typed send methods here.
type Controller struct {
	roomID    string
	user      api.User
	client    *api.Client
	transport *Transport
	store     *room.Store
	paginator *room.Paginator
	mesh      *call.Manager
	router    *call.Router
	logger    *slog.Logger

	onUpdate func()

	mu         sync.Mutex
	pomodoro   api.PomodoroState
	lastTyping bool
}

// Start seeds the session from the REST API and connects the room socket.
// The returned controller is live: frames are flowing before Start returns.
func Start(ctx context.Context, opts Options) (*Controller, error) {
	logger := opts.Logger.With("room", opts.RoomID)

	user, err := opts.Client.CurrentUser(ctx)
	if err != nil {
		return nil, NewError("resolve current user", err)
	}

	record, err := opts.Client.GetRoom(ctx, opts.RoomID)
	if err != nil {
		return nil, NewError("load room", err)
	}

	store := room.NewStore(user.ID, logger)
	store.SetSettings(record.Settings())

	history, err := opts.Client.MessagePage(ctx, opts.RoomID, 1)
	if err != nil {
		return nil, NewError("load history", err)
	}
	store.PrependHistory(ascending(history.Results))

	fetch := func(ctx context.Context, page int) (room.Page, error) {
		hp, err := opts.Client.MessagePage(ctx, opts.RoomID, page)
		if err != nil {
			return room.Page{}, err
		}
		return room.Page{Messages: hp.Results, HasNext: hp.Next != nil}, nil
	}
	paginator := room.NewPaginator(store, fetch, logger)
	paginator.SetHasMore(history.Next != nil)

	c := &Controller{
		roomID:    opts.RoomID,
		user:      user,
		client:    opts.Client,
		store:     store,
		paginator: paginator,
		logger:    logger,
	}

	if state, err := opts.Client.Pomodoro(ctx, opts.RoomID); err != nil {
		logger.Warn("pomodoro snapshot unavailable", "error", err)
	} else {
		c.pomodoro = state
	}

	iceServers := call.FetchICEConfig(ctx, opts.Client, opts.FallbackSTUN, logger)

	c.transport = NewTransport(opts.SocketURL, opts.Tokens, NewDecoder(user.ID), logger)
	c.mesh = call.NewManager(user.ID, c.transport, opts.Capture, iceServers, logger)
	c.router = call.NewRouter(user.ID, c.mesh, logger)

	if active, err := opts.Client.ActiveCall(ctx, opts.RoomID); err != nil {
		logger.Warn("active call lookup failed", "error", err)
	} else if active != nil {
		c.router.SeedActive(&call.Info{
			ID:               active.ID,
			CallType:         active.CallType,
			InitiatedBy:      active.InitiatedBy,
			ParticipantCount: active.ParticipantCount,
		})
	}

	c.transport.OnEvent(c.dispatch)
	c.transport.OnReconnected(c.reconcile)
	c.transport.OnStateChange(func(State) { c.notify() })
	c.mesh.OnChange(c.notify)

	if err := c.transport.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// OnUpdate registers a hook invoked whenever session state changes. Must be
// set before any frame arrives that the caller cares about; the UI sets it
// immediately after Start.
func (c *Controller) OnUpdate(fn func()) { c.onUpdate = fn }

func (c *Controller) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

func (c *Controller) dispatch(d Decoded) {
	if d.Room != nil {
		if effect := c.store.Apply(d.Room); effect == room.EffectLeaveRoom {
			c.logger.Info("removed from room, closing session")
			if c.mesh.InCall() {
				c.mesh.Leave()
			}
			c.transport.Close()
		}
	}
	if d.Call != nil {
		c.router.Handle(d.Call)
	}
	c.notify()
}

// reconcile re-fetches the newest history page after a reconnect and merges
// anything the socket missed while it was down.
func (c *Controller) reconcile() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		hp, err := c.client.MessagePage(ctx, c.roomID, 1)
		if err != nil {
			c.logger.Warn("reconnect reconciliation failed", "error", err)
			return
		}
		if merged := c.store.MergeLatest(ascending(hp.Results)); merged > 0 {
			c.logger.Info("recovered messages missed during reconnect", "count", merged)
		}
		c.notify()
	}()
}

// User returns the authenticated account driving this session.
func (c *Controller) User() api.User { return c.user }

// Store exposes the session's message and presence state for rendering.
func (c *Controller) Store() *room.Store { return c.store }

// ConnectionState reports the socket state for the status line.
func (c *Controller) ConnectionState() State { return c.transport.State() }

// Pomodoro returns the last fetched timer snapshot.
func (c *Controller) Pomodoro() api.PomodoroState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pomodoro
}

// RefreshPomodoro re-fetches the server-authoritative timer snapshot.
func (c *Controller) RefreshPomodoro(ctx context.Context) error {
	state, err := c.client.Pomodoro(ctx, c.roomID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pomodoro = state
	c.mu.Unlock()
	c.notify()
	return nil
}

// SendChat sends a message with an optimistic local echo. The echo renders
// immediately as pending and is reconciled when the server's broadcast of
// the same message arrives.
func (c *Controller) SendChat(body, repliedToID string) error {
	if c.store.Muted() {
		return NewError("send chat", ErrMuted)
	}
	c.store.AppendLocalEcho(uuid.NewString(), c.user.Username, body)
	if err := c.transport.SendChat(body, repliedToID); err != nil {
		return err
	}
	c.notify()
	return nil
}

// EditMessage edits one of the caller's own messages.
func (c *Controller) EditMessage(messageID, body string) error {
	return c.transport.EditMessage(messageID, body)
}

// DeleteMessage deletes one of the caller's own messages.
func (c *Controller) DeleteMessage(messageID string) error {
	return c.transport.DeleteMessage(messageID)
}

// SetTyping broadcasts the typing state, deduplicating repeats so keypress
// storms do not flood the socket.
func (c *Controller) SetTyping(typing bool) error {
	c.mu.Lock()
	if c.lastTyping == typing {
		c.mu.Unlock()
		return nil
	}
	c.lastTyping = typing
	c.mu.Unlock()
	return c.transport.SetTyping(typing)
}

// MarkSeen records that the caller has read a message.
func (c *Controller) MarkSeen(messageID string) error {
	return c.transport.MarkSeen(messageID)
}

// AddReaction attaches an emoji reaction to a message.
func (c *Controller) AddReaction(messageID, emoji string) error {
	return c.transport.AddReaction(messageID, emoji)
}

// RemoveReaction removes the caller's reaction from a message.
func (c *Controller) RemoveReaction(messageID, emoji string) error {
	return c.transport.RemoveReaction(messageID, emoji)
}

// KickUser ejects a user. Moderator only; failures arrive as error frames.
func (c *Controller) KickUser(userID string) error {
	return c.transport.KickUser(userID)
}

// PromoteUser changes a user's role. Moderator only.
func (c *Controller) PromoteUser(userID string, role room.Role) error {
	return c.transport.PromoteUser(userID, role)
}

// MuteUser mutes or unmutes a user's chat. Moderator only.
func (c *Controller) MuteUser(userID string, muted bool) error {
	return c.transport.MuteUser(userID, muted)
}

// ShouldLoadOlder reports whether the viewport has scrolled close enough to
// the top to trigger a history fetch.
func (c *Controller) ShouldLoadOlder(offset int) bool {
	return c.paginator.ShouldTrigger(offset)
}

// LoadOlder fetches the next older history page and compensates the
// viewport so the visible messages do not jump.
func (c *Controller) LoadOlder(ctx context.Context, vp room.Viewport) error {
	if err := c.paginator.LoadOlder(ctx, vp); err != nil {
		return err
	}
	c.notify()
	return nil
}

// ActiveCall returns the room's call indicator, or nil when no call is live.
func (c *Controller) ActiveCall() *call.Info { return c.router.Active() }

// JoinCall starts or joins the room call. The REST join registers the
// participant; existing participants then offer to us over the socket.
func (c *Controller) JoinCall(ctx context.Context, callType string) error {
	session, err := c.client.JoinCall(ctx, c.roomID, callType)
	if err != nil {
		return err
	}
	if err := c.mesh.Join(); err != nil {
		return err
	}
	c.router.SeedActive(&call.Info{
		ID:               session.ID,
		CallType:         session.CallType,
		InitiatedBy:      session.InitiatedBy,
		ParticipantCount: session.ParticipantCount,
	})
	c.notify()
	return nil
}

// LeaveCall exits the call locally, announcing the departure exactly once.
func (c *Controller) LeaveCall() {
	c.mesh.Leave()
	c.notify()
}

// EndCall terminates the call for everyone. Moderator only; the server's
// call_ended broadcast tears down the local mesh.
func (c *Controller) EndCall(ctx context.Context) error {
	return c.client.EndCall(ctx, c.roomID)
}

// InCall reports whether the local user is a call participant.
func (c *Controller) InCall() bool { return c.mesh.InCall() }

// ToggleAudio flips the microphone and reports the new state.
func (c *Controller) ToggleAudio() (bool, error) { return c.mesh.ToggleAudio() }

// ToggleVideo flips the camera, acquiring and renegotiating on first enable.
func (c *Controller) ToggleVideo() (bool, error) { return c.mesh.ToggleVideo() }

// StartScreenShare swaps the outgoing video for a screen track.
func (c *Controller) StartScreenShare() error { return c.mesh.StartScreenShare() }

// StopScreenShare restores the camera track.
func (c *Controller) StopScreenShare() error { return c.mesh.StopScreenShare() }

// ScreenSharing reports whether a screen track is outgoing.
func (c *Controller) ScreenSharing() bool { return c.mesh.ScreenSharing() }

// AudioEnabled reports the local microphone state.
func (c *Controller) AudioEnabled() bool { return c.mesh.AudioEnabled() }

// VideoEnabled reports the local camera state.
func (c *Controller) VideoEnabled() bool { return c.mesh.VideoEnabled() }

// Links snapshots every peer connection for the call roster.
func (c *Controller) Links() []call.LinkSnapshot { return c.mesh.Links() }

// Close ends the session, leaving the call first when necessary.
func (c *Controller) Close() {
	if c.mesh.InCall() {
		c.mesh.Leave()
	}
	c.transport.Close()
}

// ascending reverses a newest-first history page into store order.
func ascending(page []room.Message) []room.Message {
	out := make([]room.Message, len(page))
	for i, m := range page {
		out[len(page)-1-i] = m
	}
	return out
}
