package core

import "time"

// Message is the domain model for a confirmed chat message.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Sender    string
	Content   string
	CreatedAt time.Time
}

// Reaction is an emoji attached to a message by a user.
type Reaction struct {
	MessageID string
	Emoji     string
	UserID    string
}
