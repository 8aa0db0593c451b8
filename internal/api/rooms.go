package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/studyhive/studyhive-cli/internal/room"
)

// User is the authenticated account, from /auth/me/.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Room is a study room as served by the rooms endpoints.
type Room struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Topic         string    `json:"topic"`
	IsPrivate     bool      `json:"is_private"`
	Capacity      int       `json:"capacity"`
	OwnerUsername string    `json:"owner_username"`
	ActiveMembers int       `json:"active_members_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Settings converts the room record into the mutable metadata the store
// tracks during a session.
func (r Room) Settings() room.Settings {
	return room.Settings{
		Name:        r.Name,
		Topic:       r.Topic,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		Capacity:    r.Capacity,
	}
}

// RoomPage is the paged envelope for the room list.
type RoomPage struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []Room  `json:"results"`
}

// Member is a persisted room membership. Distinct from presence: the
// member list covers everyone who joined the room, connected or not, and
// is reconciled client-side for offline display.
type Member struct {
	UserID   string    `json:"user"`
	Username string    `json:"username"`
	Role     room.Role `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// HistoryPage is the paged envelope the message history endpoint returns.
// Results are newest first; Next is null on the last (oldest) page.
type HistoryPage struct {
	Count    int            `json:"count"`
	Next     *string        `json:"next"`
	Previous *string        `json:"previous"`
	Results  []room.Message `json:"results"`
}

// ICEServer mirrors one entry of the ICE discovery response. The call
// package converts these into pion configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// PomodoroState is the server-authoritative timer snapshot. The client
// only displays it; all timer logic lives on the server.
type PomodoroState struct {
	Mode             string    `json:"mode"`
	Running          bool      `json:"running"`
	RemainingSeconds int       `json:"remaining_seconds"`
	EndsAt           time.Time `json:"ends_at"`
}

// CallSession describes a room call as the REST API reports it.
type CallSession struct {
	ID               string `json:"id"`
	CallType         string `json:"call_type"`
	Status           string `json:"status"`
	InitiatedBy      string `json:"initiated_by_username"`
	ParticipantCount int    `json:"participant_count"`
}

// CurrentUser returns the authenticated account.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var user User
	if err := c.get(ctx, "/auth/me/", &user); err != nil {
		return User{}, err
	}
	return user, nil
}

// ListRooms returns one page of rooms visible to the current user.
func (c *Client) ListRooms(ctx context.Context, page int) (RoomPage, error) {
	var envelope RoomPage
	if err := c.get(ctx, fmt.Sprintf("/rooms/?page=%d", page), &envelope); err != nil {
		return RoomPage{}, err
	}
	return envelope, nil
}

// GetRoom returns one room's record.
func (c *Client) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	if err := c.get(ctx, "/rooms/"+roomID+"/", &r); err != nil {
		return Room{}, err
	}
	return r, nil
}

// Members returns the persisted membership roster.
func (c *Client) Members(ctx context.Context, roomID string) ([]Member, error) {
	var members []Member
	if err := c.get(ctx, "/rooms/"+roomID+"/members/", &members); err != nil {
		return nil, err
	}
	return members, nil
}

// MessagePage fetches one history page for a room. Pages are numbered from
// 1 (newest) and the server controls page size.
func (c *Client) MessagePage(ctx context.Context, roomID string, page int) (HistoryPage, error) {
	var envelope HistoryPage
	path := fmt.Sprintf("/rooms/%s/messages/?page=%d", roomID, page)
	if err := c.get(ctx, path, &envelope); err != nil {
		return HistoryPage{}, err
	}
	return envelope, nil
}

// Pomodoro fetches the room's timer snapshot.
func (c *Client) Pomodoro(ctx context.Context, roomID string) (PomodoroState, error) {
	var state PomodoroState
	if err := c.get(ctx, "/rooms/"+roomID+"/pomodoro/", &state); err != nil {
		return PomodoroState{}, err
	}
	return state, nil
}

// ActiveCall returns the room's live call, or nil when none is active.
func (c *Client) ActiveCall(ctx context.Context, roomID string) (*CallSession, error) {
	var session CallSession
	err := c.get(ctx, "/rooms/"+roomID+"/call/", &session)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if session.ID == "" {
		return nil, nil
	}
	return &session, nil
}

// JoinCall starts the room call, or joins it when one is already active.
func (c *Client) JoinCall(ctx context.Context, roomID, callType string) (CallSession, error) {
	var session CallSession
	body := map[string]string{"call_type": callType}
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/call/", body, &session); err != nil {
		return CallSession{}, err
	}
	return session, nil
}

// EndCall terminates the call for everyone. Requires moderator rights; an
// unauthorized attempt surfaces as a server-pushed error frame.
func (c *Client) EndCall(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/call/end/", nil, nil)
}

// ICEServers fetches call transport configuration, once per call start.
// Callers fall back to a public STUN default when this fails; a missing
// TURN deployment must not block a call.
func (c *Client) ICEServers(ctx context.Context) ([]ICEServer, error) {
	var payload struct {
		ICEServers []ICEServer `json:"ice_servers"`
	}
	if err := c.get(ctx, "/rooms/ice-servers/", &payload); err != nil {
		return nil, err
	}
	return payload.ICEServers, nil
}
