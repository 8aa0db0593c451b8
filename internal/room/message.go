package room

import "time"

// MessageType distinguishes chat text from membership and system notices.
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageFile   MessageType = "file"
	MessageJoin   MessageType = "join"
	MessageLeave  MessageType = "leave"
	MessageSystem MessageType = "system"
)

// Role is a member's moderation level within a room.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ReplyRef is the snippet of a message another message replies to.
type ReplyRef struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	BodySnippet string    `json:"message_snippet"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileRef points at an uploaded attachment. Upload and storage are
// server-side concerns; the client only carries the reference.
type FileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Message is one entry in the room's ordered log. IDs are server-assigned
// and stable; edits, deletes and reactions address messages by id.
type Message struct {
	ID        string              `json:"id"`
	Username  string              `json:"username"`
	Body      string              `json:"message"`
	Type      MessageType         `json:"message_type"`
	CreatedAt time.Time           `json:"created_at"`
	Edited    bool                `json:"is_edited"`
	SeenBy    []string            `json:"seen_by"`
	Reactions map[string][]string `json:"reactions"`
	RepliedTo *ReplyRef           `json:"replied_to,omitempty"`
	File      *FileRef            `json:"file,omitempty"`

	// Pending marks an optimistic local echo that has not been confirmed
	// by the server yet. Never set on server-sourced messages.
	Pending bool `json:"-"`
}

// SeenByContains reports whether userID already marked the message seen.
func (m *Message) SeenByContains(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// PresenceEntry is one currently connected member. The roster is a
// snapshot: every presence frame replaces it wholesale.
type PresenceEntry struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}
