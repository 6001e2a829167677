package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event names. The client→server and server→client sets share typing and reaction names.
const (
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventSendMessage   = "sendMessage"
	EventTyping        = "typing"
	EventStopTyping    = "stopTyping"
	EventReactionAdded = "reactionAdded"

	EventUserJoined  = "userJoined"
	EventUserLeft    = "userLeft"
	EventNewMessage  = "newMessage"
	EventRoomExpired = "roomExpired"
	EventError       = "error"
)

// Error codes carried by the error event.
const (
	CodeRoomNotFound = "room_not_found"
	CodeRoomExpired  = "room_expired"
	CodeUserNotFound = "user_not_found"
	CodeRateLimited  = "rate_limited"
	CodeNotInRoom    = "not_in_room"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

// MaxContentLength bounds message content after trimming.
const MaxContentLength = 1000

// JoinRoomData requests to join a room's broadcast group.
type JoinRoomData struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"required,max=64"`
}

// LeaveRoomData requests to leave a room's broadcast group.
type LeaveRoomData struct {
	RoomID string `json:"roomId" validate:"required,max=64"`
	UserID string `json:"userId" validate:"omitempty,max=64"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	RoomID  string `json:"roomId" validate:"required,max=64"`
	UserID  string `json:"userId" validate:"required,max=64"`
	Content string `json:"content" validate:"required,max=1000"`
}

// TypingData flags (or clears) a typing indicator.
type TypingData struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=64"`
}

// ReactionData adds an emoji reaction to a message.
type ReactionData struct {
	RoomID    string `json:"roomId" validate:"required,max=64"`
	MessageID string `json:"messageId" validate:"required,max=64"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
	UserID    string `json:"userId" validate:"required,max=64"`
}

// UserJoined notifies that a user joined a room.
type UserJoined struct {
	Username    string `json:"username"`
	MemberCount int    `json:"memberCount"`
}

// UserLeft notifies that a user left a room.
type UserLeft struct {
	Username string `json:"username"`
}

// Sender identifies the author of a message.
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// NewMessage is a server-confirmed chat message.
type NewMessage struct {
	MessageID string    `json:"messageId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomExpired tells participants the room reached its lifetime.
type RoomExpired struct {
	RoomID string `json:"roomId"`
}

// TypingSignal is relayed to a room when someone starts or stops typing.
type TypingSignal struct {
	Username string `json:"username"`
}

// ReactionAdded is relayed to a room when someone reacts to a message.
type ReactionAdded struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Event is the client event this error answers, e.g. "sendMessage".
	Event string `json:"event,omitempty"`
}
