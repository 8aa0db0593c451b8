package session

import (
	"encoding/json"

	"github.com/studyhive/studyhive-cli/internal/call"
	"github.com/studyhive/studyhive-cli/internal/room"
)

// Decoded is the result of classifying one inbound frame. Exactly one of
// Room and Call is set; both nil means the frame carried nothing actionable.
type Decoded struct {
	Room room.Event
	Call call.Event
}

func roomEvent(ev room.Event) (Decoded, error) { return Decoded{Room: ev}, nil }
func callEvent(ev call.Event) (Decoded, error) { return Decoded{Call: ev}, nil }

// Decoder turns raw frames into typed events. Dispatch is a table keyed by
// the type discriminant; every arm decodes its own payload shape, so a
// malformed frame degrades to a logged no-op instead of poisoning the
// stream. The one legacy shape, a chat message with no type field, is
// recognized solely by the presence of a "message" key.
type Decoder struct {
	selfID string
}

// NewDecoder creates a decoder. selfID resolves frames that implicitly
// target the local user, like the personal mute notification.
func NewDecoder(selfID string) *Decoder {
	d := &Decoder{selfID: selfID}
	return d
}

// Decode classifies one frame. Unrecognized types return ErrUnknownFrame;
// callers log and move on.
func (d *Decoder) Decode(data []byte) (Decoded, error) {
	var probe struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Decoded{}, NewError("decode frame", err)
	}

	if probe.Type == "" {
		if probe.Message == nil {
			return Decoded{}, ErrUnknownFrame
		}
		return d.decodeChatMessage(data)
	}

	arm, ok := frameTable[probe.Type]
	if !ok {
		return Decoded{}, ErrUnknownFrame
	}
	return arm(d, data)
}

var frameTable = map[string]func(*Decoder, []byte) (Decoded, error){
	"chat-message": (*Decoder).decodeChatMessage,

	"message_update": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			ID      string `json:"id"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.MessageEdited{ID: f.ID, Body: f.Message})
	},

	"message_delete": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.MessageDeleted{ID: f.ID})
	},

	"user_typing": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			IsTyping bool   `json:"is_typing"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.TypingChanged{UserID: f.UserID, Username: f.Username, Typing: f.IsTyping})
	},

	"unread_count_update": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UnreadCount int `json:"unread_count"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.UnreadCountUpdated{Count: f.UnreadCount})
	},

	"message_seen_update": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			MessageID string `json:"message_id"`
			UserID    string `json:"user_id"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.SeenUpdated{MessageID: f.MessageID, UserID: f.UserID})
	},

	"presence_update": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			Users []room.PresenceEntry `json:"users"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.PresenceUpdated{Users: f.Users})
	},

	"user_kicked": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.UserKicked{UserID: f.UserID, Username: f.Username})
	},

	"user_removed": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.UserRemoved{UserID: f.UserID})
	},

	"user_role_updated": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID string    `json:"user_id"`
			Role   room.Role `json:"role"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.RoleUpdated{UserID: f.UserID, Role: f.Role})
	},

	"room_settings_updated": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			Settings room.Settings `json:"settings"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.SettingsUpdated{Settings: f.Settings})
	},

	"user_muted": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			IsMuted  bool   `json:"is_muted"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.UserMuted{UserID: f.UserID, Username: f.Username, Muted: f.IsMuted})
	},

	"user_muted_notification": func(d *Decoder, data []byte) (Decoded, error) {
		var f struct {
			IsMuted bool `json:"is_muted"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.UserMuted{UserID: d.selfID, Muted: f.IsMuted})
	},

	"message_reaction_added": func(_ *Decoder, data []byte) (Decoded, error) {
		ev, err := decodeReaction(data)
		if err != nil {
			return Decoded{}, err
		}
		return roomEvent(ev)
	},

	"message_reaction_removed": func(_ *Decoder, data []byte) (Decoded, error) {
		ev, err := decodeReaction(data)
		if err != nil {
			return Decoded{}, err
		}
		return roomEvent(room.ReactionRemoved(ev))
	},

	"error": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			Error   string `json:"error"`
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		detail := f.Error
		if detail == "" {
			detail = f.Detail
		}
		if detail == "" {
			detail = f.Message
		}
		return roomEvent(room.Notice{Detail: detail})
	},

	"call_started": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			CallID        string `json:"call_id"`
			CallType      string `json:"call_type"`
			InitiatedBy   string `json:"initiated_by"`
			InitiatedByID string `json:"initiated_by_id"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.Started{
			CallID:        f.CallID,
			CallType:      f.CallType,
			InitiatedBy:   f.InitiatedBy,
			InitiatedByID: f.InitiatedByID,
		})
	},

	"call_participant_joined": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			CallID         string `json:"call_id"`
			UserID         string `json:"user_id"`
			Username       string `json:"username"`
			IsAudioEnabled bool   `json:"is_audio_enabled"`
			IsVideoEnabled bool   `json:"is_video_enabled"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.ParticipantJoined{
			CallID:       f.CallID,
			UserID:       f.UserID,
			Username:     f.Username,
			AudioEnabled: f.IsAudioEnabled,
			VideoEnabled: f.IsVideoEnabled,
		})
	},

	"call_participant_left": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			CallID   string `json:"call_id"`
			UserID   string `json:"user_id"`
			Username string `json:"username"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.ParticipantLeft{CallID: f.CallID, UserID: f.UserID, Username: f.Username})
	},

	"call_ended": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			CallID  string `json:"call_id"`
			Reason  string `json:"reason"`
			EndedBy string `json:"ended_by"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.Ended{CallID: f.CallID, Reason: f.Reason, EndedBy: f.EndedBy})
	},

	"webrtc_offer": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			FromUserID   string `json:"from_user_id"`
			FromUsername string `json:"from_username"`
			Offer        struct {
				SDP string `json:"sdp"`
			} `json:"offer"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.Offer{FromUserID: f.FromUserID, FromUsername: f.FromUsername, SDP: f.Offer.SDP})
	},

	"webrtc_answer": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			FromUserID string `json:"from_user_id"`
			Answer     struct {
				SDP string `json:"sdp"`
			} `json:"answer"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.Answer{FromUserID: f.FromUserID, SDP: f.Answer.SDP})
	},

	"ice_candidate": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			FromUserID string          `json:"from_user_id"`
			Candidate  json.RawMessage `json:"candidate"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.Candidate{FromUserID: f.FromUserID, Candidate: f.Candidate})
	},

	"call_media_toggle": func(_ *Decoder, data []byte) (Decoded, error) {
		var f struct {
			UserID    string `json:"user_id"`
			Username  string `json:"username"`
			MediaType string `json:"media_type"`
			Enabled   bool   `json:"enabled"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return Decoded{}, err
		}
		return callEvent(call.MediaToggle{
			UserID:    f.UserID,
			Username:  f.Username,
			MediaType: call.MediaKind(f.MediaType),
			Enabled:   f.Enabled,
		})
	},
}

func (d *Decoder) decodeChatMessage(data []byte) (Decoded, error) {
	var msg room.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Decoded{}, err
	}
	if msg.Type == "" {
		msg.Type = room.MessageChat
	}
	return roomEvent(room.MessageReceived{Message: msg})
}

func decodeReaction(data []byte) (room.ReactionAdded, error) {
	var f struct {
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
		UserID    string `json:"user_id"`
	}
	err := json.Unmarshal(data, &f)
	return room.ReactionAdded{MessageID: f.MessageID, Emoji: f.Emoji, UserID: f.UserID}, err
}
