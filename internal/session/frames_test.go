package session

import (
	"errors"
	"testing"

	"github.com/studyhive/studyhive-cli/internal/call"
	"github.com/studyhive/studyhive-cli/internal/room"
)

func TestDecodeChatFrame(t *testing.T) {
	t.Parallel()

	frame := []byte(`{
		"type": "chat-message",
		"id": "m1",
		"username": "alice",
		"message": "hello",
		"message_type": "chat",
		"created_at": "2026-03-01T10:00:00Z",
		"reactions": {"👍": ["u1"]}
	}`)

	decoded, err := NewDecoder("self").Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev, ok := decoded.Room.(room.MessageReceived)
	if !ok {
		t.Fatalf("decoded.Room = %T, want MessageReceived", decoded.Room)
	}
	if ev.Message.ID != "m1" || ev.Message.Username != "alice" || ev.Message.Body != "hello" {
		t.Errorf("message = %+v", ev.Message)
	}
	if got := ev.Message.Reactions["👍"]; len(got) != 1 || got[0] != "u1" {
		t.Errorf("reactions = %v, want one 👍 from u1", ev.Message.Reactions)
	}
}

func TestDecodeLegacyChatShape(t *testing.T) {
	t.Parallel()

	// Older server builds broadcast chat with no type discriminant at all;
	// the message key alone identifies the frame.
	frame := []byte(`{"id": "m2", "username": "bob", "message": "still works", "created_at": "2026-03-01T10:00:00Z"}`)

	decoded, err := NewDecoder("self").Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev, ok := decoded.Room.(room.MessageReceived)
	if !ok {
		t.Fatalf("decoded.Room = %T, want MessageReceived", decoded.Room)
	}
	if ev.Message.Body != "still works" {
		t.Errorf("Body = %q, want %q", ev.Message.Body, "still works")
	}
	if ev.Message.Type != room.MessageChat {
		t.Errorf("Type = %q, want default chat type", ev.Message.Type)
	}
}

func TestDecodeUnknownFrame(t *testing.T) {
	t.Parallel()

	_, err := NewDecoder("self").Decode([]byte(`{"type": "never-heard-of-it"}`))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("error = %v, want ErrUnknownFrame", err)
	}

	_, err = NewDecoder("self").Decode([]byte(`{"ping": true}`))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("typeless non-chat frame: error = %v, want ErrUnknownFrame", err)
	}
}

func TestDecodeRoomFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		frame string
		want  room.Event
	}{
		{
			name:  "edit",
			frame: `{"type": "message_update", "id": "m1", "message": "fixed"}`,
			want:  room.MessageEdited{ID: "m1", Body: "fixed"},
		},
		{
			name:  "delete",
			frame: `{"type": "message_delete", "id": "m1"}`,
			want:  room.MessageDeleted{ID: "m1"},
		},
		{
			name:  "typing",
			frame: `{"type": "user_typing", "user_id": "u1", "username": "alice", "is_typing": true}`,
			want:  room.TypingChanged{UserID: "u1", Username: "alice", Typing: true},
		},
		{
			name:  "reaction added",
			frame: `{"type": "message_reaction_added", "message_id": "m1", "emoji": "🔥", "user_id": "u1"}`,
			want:  room.ReactionAdded{MessageID: "m1", Emoji: "🔥", UserID: "u1"},
		},
		{
			name:  "reaction removed",
			frame: `{"type": "message_reaction_removed", "message_id": "m1", "emoji": "🔥", "user_id": "u1"}`,
			want:  room.ReactionRemoved{MessageID: "m1", Emoji: "🔥", UserID: "u1"},
		},
		{
			name:  "kick",
			frame: `{"type": "user_kicked", "user_id": "u9", "username": "mallory"}`,
			want:  room.UserKicked{UserID: "u9", Username: "mallory"},
		},
		{
			name:  "unread",
			frame: `{"type": "unread_count_update", "unread_count": 4}`,
			want:  room.UnreadCountUpdated{Count: 4},
		},
		{
			name:  "personal mute addressed to self",
			frame: `{"type": "user_muted_notification", "is_muted": true}`,
			want:  room.UserMuted{UserID: "self", Muted: true},
		},
		{
			name:  "server error relayed as notice",
			frame: `{"type": "error", "error": "you cannot edit this message"}`,
			want:  room.Notice{Detail: "you cannot edit this message"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			decoded, err := NewDecoder("self").Decode([]byte(test.frame))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded.Room != test.want {
				t.Errorf("decoded.Room = %#v, want %#v", decoded.Room, test.want)
			}
		})
	}
}

func TestDecodePresenceFrame(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"type": "presence_update", "users": [
		{"id": "u1", "username": "alice", "role": "moderator"},
		{"id": "u2", "username": "bob", "role": "member"}
	]}`)

	decoded, err := NewDecoder("self").Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev, ok := decoded.Room.(room.PresenceUpdated)
	if !ok {
		t.Fatalf("decoded.Room = %T, want PresenceUpdated", decoded.Room)
	}
	if len(ev.Users) != 2 || ev.Users[0].Role != room.RoleModerator {
		t.Errorf("users = %+v", ev.Users)
	}
}

func TestDecodeCallFrames(t *testing.T) {
	t.Parallel()

	offer, err := NewDecoder("self").Decode([]byte(
		`{"type": "webrtc_offer", "from_user_id": "u1", "from_username": "alice", "offer": {"type": "offer", "sdp": "v=0 fake"}}`))
	if err != nil {
		t.Fatalf("Decode offer: %v", err)
	}
	if ev, ok := offer.Call.(call.Offer); !ok || ev.FromUserID != "u1" || ev.SDP != "v=0 fake" {
		t.Errorf("offer = %#v", offer.Call)
	}

	joined, err := NewDecoder("self").Decode([]byte(
		`{"type": "call_participant_joined", "call_id": "c1", "user_id": "u2", "username": "bob", "is_audio_enabled": true}`))
	if err != nil {
		t.Fatalf("Decode joined: %v", err)
	}
	if ev, ok := joined.Call.(call.ParticipantJoined); !ok || !ev.AudioEnabled || ev.Username != "bob" {
		t.Errorf("participant joined = %#v", joined.Call)
	}

	// The candidate payload is passed through raw; the mesh validates it.
	cand, err := NewDecoder("self").Decode([]byte(
		`{"type": "ice_candidate", "from_user_id": "u1", "candidate": {"candidate": "candidate:1 1 udp"}}`))
	if err != nil {
		t.Fatalf("Decode candidate: %v", err)
	}
	if ev, ok := cand.Call.(call.Candidate); !ok || len(ev.Candidate) == 0 {
		t.Errorf("candidate = %#v", cand.Call)
	}

	toggle, err := NewDecoder("self").Decode([]byte(
		`{"type": "call_media_toggle", "user_id": "u2", "media_type": "screen", "enabled": true}`))
	if err != nil {
		t.Fatalf("Decode toggle: %v", err)
	}
	if ev, ok := toggle.Call.(call.MediaToggle); !ok || ev.MediaType != call.MediaScreen || !ev.Enabled {
		t.Errorf("media toggle = %#v", toggle.Call)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	t.Parallel()

	if _, err := NewDecoder("self").Decode([]byte(`not json at all`)); err == nil {
		t.Error("Decode of malformed frame succeeded, want error")
	}
}
