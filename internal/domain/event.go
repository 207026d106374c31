package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies a wire frame exchanged with clients
type EventType string

// Inbound (client -> server)
const (
	EventCreateRoom    EventType = "create_room"
	EventJoinRoom      EventType = "join_room"
	EventLeaveRoom     EventType = "leave_room"
	EventSendMessage   EventType = "send_message"
	EventKickUser      EventType = "kick_user"
	EventDeleteRoom    EventType = "delete_room"
	EventCheckUsername EventType = "check_username"
)

// Outbound (server -> client)
const (
	EventRoomCreated    EventType = "room_created"
	EventRoomJoined     EventType = "room_joined"
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventOwnerChanged   EventType = "owner_changed"
	EventMessage        EventType = "message"
	EventKicked         EventType = "kicked"
	EventRoomDeleted    EventType = "room_deleted"
	EventUsernameStatus EventType = "username_status"
	EventError          EventType = "error"
)

// Event is the JSON envelope for every frame
type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// NewEvent marshals payload into an envelope
func NewEvent(t EventType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{
		Type:      t,
		Payload:   raw,
		CreatedAt: time.Now(),
	})
}

// CreateRoomPayload is sent with create_room
type CreateRoomPayload struct {
	Username string `json:"username"`
}

// JoinRoomPayload is sent with join_room and check_username
type JoinRoomPayload struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

// SendMessagePayload is sent with send_message
type SendMessagePayload struct {
	Text string `json:"text"`
}

// KickUserPayload is sent with kick_user
type KickUserPayload struct {
	Target string `json:"target"`
	Ban    bool   `json:"ban"`
	Token  string `json:"token"`
}

// DeleteRoomPayload is sent with delete_room
type DeleteRoomPayload struct {
	Token string `json:"token"`
}

// SessionPayload answers create_room and join_room
type SessionPayload struct {
	Room   RoomView `json:"room"`
	UserID string   `json:"userId"`
	Token  string   `json:"token"`
	CSRF   string   `json:"csrf"`
}

// UserEventPayload accompanies user_joined, user_left and kicked
type UserEventPayload struct {
	User       UserView `json:"user"`
	UserCount  int      `json:"userCount"`
	NewOwnerID string   `json:"newOwnerId,omitempty"`
}

// OwnerChangedPayload accompanies owner_changed
type OwnerChangedPayload struct {
	OwnerID  string `json:"ownerId"`
	Username string `json:"username"`
}

// RoomDeletedPayload accompanies room_deleted
type RoomDeletedPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// UsernameStatusPayload answers check_username
type UsernameStatusPayload struct {
	Username string `json:"username"`
	Taken    bool   `json:"taken"`
}

// ErrorPayload accompanies error
type ErrorPayload struct {
	Message string `json:"message"`
}
