package room

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chatMessage(id, username, body string, at time.Time) Message {
	return Message{ID: id, Username: username, Body: body, Type: MessageChat, CreatedAt: at}
}

func TestApplyUnknownIDIsNoOp(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "hi", base)})

	events := []Event{
		MessageEdited{ID: "ghost", Body: "changed"},
		MessageDeleted{ID: "ghost"},
		ReactionAdded{MessageID: "ghost", Emoji: "👍", UserID: "u1"},
		ReactionRemoved{MessageID: "ghost", Emoji: "👍", UserID: "u1"},
		SeenUpdated{MessageID: "ghost", UserID: "u1"},
	}
	for _, ev := range events {
		if effect := store.Apply(ev); effect != EffectNone {
			t.Errorf("Apply(%T) effect = %v, want EffectNone", ev, effect)
		}
	}

	msgs := store.Messages()
	if len(msgs) != 1 || msgs[0].Body != "hi" || msgs[0].Edited {
		t.Errorf("log changed by unknown-id events: %+v", msgs)
	}
}

func TestInsertKeepsAscendingOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())

	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "first", base)})
	store.Apply(MessageReceived{Message: chatMessage("m3", "alice", "third", base.Add(2 * time.Minute))})
	// Late delivery of the middle message.
	store.Apply(MessageReceived{Message: chatMessage("m2", "bob", "second", base.Add(time.Minute))})

	got := store.Messages()
	want := []string{"m1", "m2", "m3"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("message[%d].ID = %q, want %q (order %v)", i, got[i].ID, id, ids(got))
		}
	}
}

func TestDuplicateMessageIgnored(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	msg := chatMessage("m1", "alice", "hi", base)

	store.Apply(MessageReceived{Message: msg})
	store.Apply(MessageReceived{Message: msg})

	if got := len(store.Messages()); got != 1 {
		t.Errorf("len(Messages()) = %d, want 1", got)
	}
}

func TestEchoReconciliation(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.SetClock(func() time.Time { return base })

	store.AppendLocalEcho("tmp-1", "self-user", "hello room")

	msgs := store.Messages()
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Fatalf("echo not recorded as pending: %+v", msgs)
	}

	// Authoritative copy arrives a moment later with the server id.
	store.Apply(MessageReceived{Message: chatMessage("srv-1", "self-user", "hello room", base.Add(2*time.Second))})

	msgs = store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len(Messages()) = %d, want 1 after reconciliation", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Pending {
		t.Errorf("reconciled message = %+v, want server copy, not pending", msgs[0])
	}
}

func TestEchoNotReconciledOutsideWindow(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.SetClock(func() time.Time { return base })

	store.AppendLocalEcho("tmp-1", "self-user", "hello")
	store.Apply(MessageReceived{Message: chatMessage("srv-1", "self-user", "hello", base.Add(EchoWindow+time.Second))})

	if got := len(store.Messages()); got != 2 {
		t.Errorf("len(Messages()) = %d, want 2 (echo outside window kept)", got)
	}
}

func TestEditAndDelete(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "typo", base)})
	store.Apply(MessageReceived{Message: chatMessage("m2", "alice", "other", base.Add(time.Second))})

	store.Apply(MessageEdited{ID: "m1", Body: "fixed"})

	msgs := store.Messages()
	if msgs[0].Body != "fixed" || !msgs[0].Edited {
		t.Errorf("edited message = %+v, want body %q with edited flag", msgs[0], "fixed")
	}

	store.Apply(MessageDeleted{ID: "m1"})
	msgs = store.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Errorf("after delete, log = %v, want only m2", ids(msgs))
	}
}

func TestReactionsIdempotent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "hi", base)})

	store.Apply(ReactionAdded{MessageID: "m1", Emoji: "👍", UserID: "u1"})
	store.Apply(ReactionAdded{MessageID: "m1", Emoji: "👍", UserID: "u1"})

	msg := store.Messages()[0]
	if got := len(msg.Reactions["👍"]); got != 1 {
		t.Errorf("reaction count after duplicate add = %d, want 1", got)
	}

	store.Apply(ReactionRemoved{MessageID: "m1", Emoji: "👍", UserID: "u1"})
	store.Apply(ReactionRemoved{MessageID: "m1", Emoji: "👍", UserID: "u1"})

	msg = store.Messages()[0]
	if got := len(msg.Reactions["👍"]); got != 0 {
		t.Errorf("reaction count after remove = %d, want 0", got)
	}
}

func TestSeenByGrowsOncePerUser(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "hi", base)})

	store.Apply(SeenUpdated{MessageID: "m1", UserID: "u1"})
	store.Apply(SeenUpdated{MessageID: "m1", UserID: "u1"})
	store.Apply(SeenUpdated{MessageID: "m1", UserID: "u2"})

	msg := store.Messages()[0]
	if got := len(msg.SeenBy); got != 2 {
		t.Errorf("len(SeenBy) = %d, want 2", got)
	}
}

func TestPresenceReplacedWholesale(t *testing.T) {
	t.Parallel()

	store := NewStore("self", testLogger())
	store.Apply(PresenceUpdated{Users: []PresenceEntry{
		{UserID: "u1", Username: "alice", Role: RoleMember},
		{UserID: "u2", Username: "bob", Role: RoleMember},
	}})
	store.Apply(PresenceUpdated{Users: []PresenceEntry{
		{UserID: "u2", Username: "bob", Role: RoleModerator},
	}})

	got := store.Presence()
	if len(got) != 1 || got[0].UserID != "u2" || got[0].Role != RoleModerator {
		t.Errorf("Presence() = %+v, want only bob as moderator", got)
	}
}

func TestTypingExpiry(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	store := NewStore("self", testLogger())
	store.SetClock(func() time.Time { return now })

	store.Apply(TypingChanged{UserID: "u1", Username: "alice", Typing: true})
	store.Apply(TypingChanged{UserID: "u2", Username: "bob", Typing: true})

	if got := store.TypingUsernames(); len(got) != 2 {
		t.Fatalf("TypingUsernames() = %v, want 2 entries", got)
	}

	// Explicit stop removes immediately.
	store.Apply(TypingChanged{UserID: "u2", Typing: false})
	if got := store.TypingUsernames(); len(got) != 1 || got[0] != "alice" {
		t.Errorf("TypingUsernames() = %v, want [alice]", got)
	}

	// A dropped stop frame expires on its own.
	now = base.Add(TypingTTL + time.Second)
	if got := store.TypingUsernames(); len(got) != 0 {
		t.Errorf("TypingUsernames() after TTL = %v, want empty", got)
	}
}

func TestKickOfSelfYieldsLeaveEffect(t *testing.T) {
	t.Parallel()

	store := NewStore("self", testLogger())
	store.Apply(PresenceUpdated{Users: []PresenceEntry{
		{UserID: "self", Username: "me"},
		{UserID: "u1", Username: "alice"},
	}})

	if effect := store.Apply(UserKicked{UserID: "u1", Username: "alice"}); effect != EffectNone {
		t.Errorf("kick of other: effect = %v, want EffectNone", effect)
	}
	if got := store.Presence(); len(got) != 1 {
		t.Errorf("Presence() after other kicked = %+v, want self only", got)
	}

	if effect := store.Apply(UserKicked{UserID: "self", Username: "me"}); effect != EffectLeaveRoom {
		t.Errorf("kick of self: effect = %v, want EffectLeaveRoom", effect)
	}
	if !store.Kicked() {
		t.Error("Kicked() = false after self kick")
	}
}

func TestMuteTargetsSelfOnly(t *testing.T) {
	t.Parallel()

	store := NewStore("self", testLogger())

	store.Apply(UserMuted{UserID: "u1", Muted: true})
	if store.Muted() {
		t.Error("Muted() = true after another user was muted")
	}

	store.Apply(UserMuted{UserID: "self", Muted: true})
	if !store.Muted() {
		t.Error("Muted() = false after self mute")
	}

	store.Apply(UserMuted{UserID: "self", Muted: false})
	if store.Muted() {
		t.Error("Muted() = true after self unmute")
	}
}

func TestPrependHistorySkipsKnownIDs(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m3", "alice", "three", base.Add(2*time.Second))})

	added := store.PrependHistory([]Message{
		chatMessage("m1", "alice", "one", base),
		chatMessage("m2", "bob", "two", base.Add(time.Second)),
		chatMessage("m3", "alice", "three", base.Add(2*time.Second)),
	})
	if added != 2 {
		t.Errorf("PrependHistory added = %d, want 2", added)
	}

	got := ids(store.Messages())
	want := []string{"m1", "m2", "m3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log after prepend = %v, want %v", got, want)
	}
}

func TestMergeLatestAfterReconnect(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewStore("self", testLogger())
	store.Apply(MessageReceived{Message: chatMessage("m1", "alice", "one", base)})
	store.Apply(MessageReceived{Message: chatMessage("m2", "bob", "two", base.Add(time.Second))})

	// Page re-fetched after reconnect overlaps what we already hold.
	added := store.MergeLatest([]Message{
		chatMessage("m2", "bob", "two", base.Add(time.Second)),
		chatMessage("m3", "alice", "missed", base.Add(2*time.Second)),
	})
	if added != 1 {
		t.Errorf("MergeLatest added = %d, want 1", added)
	}

	got := ids(store.Messages())
	want := []string{"m1", "m2", "m3"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("log after merge = %v, want %v", got, want)
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
