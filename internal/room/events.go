package room

// Event is the discriminated union of everything the server pushes over the
// room channel that affects chat state. Each variant reduces into the Store
// through exactly one arm of Store.Apply; unknown ids inside a variant are
// no-ops because the server is authoritative.
type Event interface {
	event()
}

// MessageReceived carries a full message, either the legacy untyped chat
// shape or a typed join/leave/system notice.
type MessageReceived struct {
	Message Message
}

// MessageEdited rewrites the body of an existing message in place.
type MessageEdited struct {
	ID   string
	Body string
}

// MessageDeleted removes a message from the log.
type MessageDeleted struct {
	ID string
}

// ReactionAdded adds a user to a message's per-emoji reaction set.
type ReactionAdded struct {
	MessageID string
	Emoji     string
	UserID    string
}

// ReactionRemoved removes a user from a message's per-emoji reaction set.
type ReactionRemoved struct {
	MessageID string
	Emoji     string
	UserID    string
}

// SeenUpdated records that a user has seen a message.
type SeenUpdated struct {
	MessageID string
	UserID    string
}

// PresenceUpdated replaces the connected-user roster wholesale.
type PresenceUpdated struct {
	Users []PresenceEntry
}

// TypingChanged adds or removes a typing indicator entry.
type TypingChanged struct {
	UserID   string
	Username string
	Typing   bool
}

// UnreadCountUpdated replaces the unread counter with the server's value.
type UnreadCountUpdated struct {
	Count int
}

// UserKicked announces a kick. When it names the local user the session
// must leave the room and sever the transport.
type UserKicked struct {
	UserID   string
	Username string
}

// UserRemoved announces a membership removal (distinct from a kick of a
// connected socket; the server sends both shapes).
type UserRemoved struct {
	UserID string
}

// RoleUpdated changes a roster entry's moderation level.
type RoleUpdated struct {
	UserID string
	Role   Role
}

// UserMuted toggles a user's muted flag. The server also pushes a personal
// notification variant when the local user is the target.
type UserMuted struct {
	UserID   string
	Username string
	Muted    bool
}

// SettingsUpdated carries new room metadata after a moderator edit.
type SettingsUpdated struct {
	Settings Settings
}

// Notice is a server-pushed error or informational line. It is shown and
// discarded; it never mutates chat state.
type Notice struct {
	Detail string
}

func (MessageReceived) event()    {}
func (MessageEdited) event()      {}
func (MessageDeleted) event()     {}
func (ReactionAdded) event()      {}
func (ReactionRemoved) event()    {}
func (SeenUpdated) event()        {}
func (PresenceUpdated) event()    {}
func (TypingChanged) event()      {}
func (UnreadCountUpdated) event() {}
func (UserKicked) event()         {}
func (UserRemoved) event()        {}
func (RoleUpdated) event()        {}
func (UserMuted) event()          {}
func (SettingsUpdated) event()    {}
func (Notice) event()             {}

// Settings is the mutable room metadata the server may update mid-session.
type Settings struct {
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	Capacity    int    `json:"capacity"`
}
