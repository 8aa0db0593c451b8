package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TypingTTL bounds how long a typing indicator survives without a refresh.
// The sender clears its own indicator, but that frame can be dropped; the
// store expires stale entries instead of trusting the network.
const TypingTTL = 6 * time.Second

// EchoWindow is how far apart an optimistic local echo and its authoritative
// server copy may be timestamped and still be matched up.
const EchoWindow = 30 * time.Second

// Effect tells the caller what must happen outside the store after an
// event is applied. The reducer itself never touches the network.
type Effect int

const (
	EffectNone Effect = iota
	// EffectLeaveRoom means the local user was kicked: the session must
	// sever the transport and navigate away. A zombie socket would keep
	// receiving room traffic after the server revoked access.
	EffectLeaveRoom
)

type typingEntry struct {
	username string
	deadline time.Time
}

// Store reduces the room event stream into chat state: the ordered message
// log, the presence roster, the typing set and the unread counter. It holds
// no network code; the transport feeds it and the UI reads snapshots.
type Store struct {
	selfID string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	messages []Message // ascending by CreatedAt
	presence []PresenceEntry
	typing   map[string]typingEntry
	unread   int
	settings Settings
	muted    bool
	kicked   bool
}

// NewStore creates an empty store for the given local user.
func NewStore(selfID string, logger *slog.Logger) *Store {
	return &Store{
		selfID: selfID,
		logger: logger,
		now:    time.Now,
		typing: make(map[string]typingEntry),
	}
}

// Apply reduces one event into the store and reports any required side
// effect. Events referencing unknown message ids are no-ops: the server is
// authoritative and the id may simply have scrolled out of a fetched page.
func (s *Store) Apply(ev Event) Effect {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case MessageReceived:
		s.insertMessage(e.Message)
	case MessageEdited:
		if m := s.find(e.ID); m != nil {
			m.Body = e.Body
			m.Edited = true
		}
	case MessageDeleted:
		s.remove(e.ID)
	case ReactionAdded:
		if m := s.find(e.MessageID); m != nil {
			addReaction(m, e.Emoji, e.UserID)
		}
	case ReactionRemoved:
		if m := s.find(e.MessageID); m != nil {
			removeReaction(m, e.Emoji, e.UserID)
		}
	case SeenUpdated:
		if m := s.find(e.MessageID); m != nil && !m.SeenByContains(e.UserID) {
			m.SeenBy = append(m.SeenBy, e.UserID)
		}
	case PresenceUpdated:
		s.presence = append([]PresenceEntry(nil), e.Users...)
	case TypingChanged:
		if e.Typing {
			s.typing[e.UserID] = typingEntry{username: e.Username, deadline: s.now().Add(TypingTTL)}
		} else {
			delete(s.typing, e.UserID)
		}
	case UnreadCountUpdated:
		s.unread = e.Count
	case UserKicked:
		if e.UserID == s.selfID {
			s.kicked = true
			return EffectLeaveRoom
		}
		s.dropFromRoster(e.UserID)
	case UserRemoved:
		if e.UserID == s.selfID {
			s.kicked = true
			return EffectLeaveRoom
		}
		s.dropFromRoster(e.UserID)
	case RoleUpdated:
		for i := range s.presence {
			if s.presence[i].UserID == e.UserID {
				s.presence[i].Role = e.Role
			}
		}
	case UserMuted:
		if e.UserID == s.selfID {
			s.muted = e.Muted
		}
	case SettingsUpdated:
		s.settings = e.Settings
	case Notice:
		s.logger.Warn("server notice", "detail", e.Detail)
	default:
		s.logger.Debug("ignoring unknown room event")
	}
	return EffectNone
}

// insertMessage appends to the log, keeping ascending CreatedAt order. An
// arriving server message first tries to reconcile a pending local echo.
func (s *Store) insertMessage(msg Message) {
	if msg.ID != "" && s.find(msg.ID) != nil {
		return // duplicate, e.g. replayed during reconnect reconciliation
	}

	if i := s.matchPendingEcho(msg); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}

	n := len(s.messages)
	if n == 0 || !msg.CreatedAt.Before(s.messages[n-1].CreatedAt) {
		s.messages = append(s.messages, msg)
		return
	}

	// Rare out-of-order delivery: insert at the sorted position.
	i := sort.Search(n, func(i int) bool {
		return s.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	s.messages = append(s.messages, Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = msg
}

// matchPendingEcho finds the optimistic entry the given authoritative
// message confirms: same author, same body, timestamps within EchoWindow.
func (s *Store) matchPendingEcho(msg Message) int {
	best := -1
	var bestDelta time.Duration
	for i := range s.messages {
		m := &s.messages[i]
		if !m.Pending || m.Username != msg.Username || m.Body != msg.Body {
			continue
		}
		delta := msg.CreatedAt.Sub(m.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > EchoWindow {
			continue
		}
		if best == -1 || delta < bestDelta {
			best, bestDelta = i, delta
		}
	}
	return best
}

// AppendLocalEcho records an optimistic, unconfirmed copy of a message the
// local user just sent. tempID must be client-unique; the entry is dropped
// when the server echoes the authoritative copy back.
func (s *Store) AppendLocalEcho(tempID, username, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertMessage(Message{
		ID:        tempID,
		Username:  username,
		Body:      body,
		Type:      MessageChat,
		CreatedAt: s.now(),
		Pending:   true,
	})
}

// PrependHistory inserts an older page at the front of the log. The page
// must already be in ascending order (pages arrive newest-first from the
// API and are reversed by the paginator). Ids already present are skipped.
func (s *Store) PrependHistory(page []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		if s.find(m.ID) == nil {
			fresh = append(fresh, m)
		}
	}
	s.messages = append(fresh, s.messages...)
	return len(fresh)
}

// MergeLatest folds a re-fetched newest page into the log after a
// reconnect, de-duplicating by id. Messages created while the socket was
// down slot in; everything already known is ignored.
func (s *Store) MergeLatest(page []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, m := range page {
		before := len(s.messages)
		s.insertMessage(m)
		if len(s.messages) != before {
			added++
		}
	}
	return added
}

func (s *Store) find(id string) *Message {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i]
		}
	}
	return nil
}

func (s *Store) remove(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Store) dropFromRoster(userID string) {
	for i := range s.presence {
		if s.presence[i].UserID == userID {
			s.presence = append(s.presence[:i], s.presence[i+1:]...)
			return
		}
	}
}

func addReaction(m *Message, emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return // idempotent
		}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}

func removeReaction(m *Message, emoji, userID string) {
	users := m.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			m.Reactions[emoji] = append(users[:i], users[i+1:]...)
			return
		}
	}
}

// Messages returns a copy of the ordered log.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages...)
}

// OldestID returns the id of the first message in the log, or "".
func (s *Store) OldestID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return ""
	}
	return s.messages[0].ID
}

// Presence returns a copy of the connected-user roster.
func (s *Store) Presence() []PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PresenceEntry(nil), s.presence...)
}

// TypingUsernames returns who is typing right now, expired entries
// excluded. The expiry sweep happens here rather than on a timer so the
// store stays passive.
func (s *Store) TypingUsernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	names := make([]string, 0, len(s.typing))
	for id, entry := range s.typing {
		if now.After(entry.deadline) {
			delete(s.typing, id)
			continue
		}
		names = append(names, entry.username)
	}
	sort.Strings(names)
	return names
}

// Unread returns the server-authoritative unread counter.
func (s *Store) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Settings returns the current room metadata.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Muted reports whether the local user is muted.
func (s *Store) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

// Kicked reports whether the local user has been kicked from the room.
func (s *Store) Kicked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kicked
}

// SetSettings seeds room metadata from the REST snapshot on entry.
func (s *Store) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// SetClock overrides the store's time source. Tests use this to control
// typing expiry and echo matching.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
