package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64
	Longitude float64
}

// User is an anonymous participant identified by a self-declared nickname.
type User struct {
	ID        string
	Username  string
	Location  Location
	CreatedAt time.Time
}

// Room is a time-bounded broadcast domain.
type Room struct {
	ID        string
	Title     string
	Tags      []string
	CreatorID string
	Location  Location
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the room's lifetime has passed at now.
func (r *Room) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Message represents a persisted chat message. It expires together with its room.
type Message struct {
	ID        string
	RoomID    string
	SenderID  string
	Sender    string // username, filled on reads
	Content   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new anonymous user.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// UpdateUsername changes a user's nickname and returns the updated record.
	UpdateUsername(ctx context.Context, id, username string) (*User, error)
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom creates a new room; the creator becomes its first member.
	CreateRoom(ctx context.Context, room *Room) error

	// GetRoomByID retrieves a room by ID regardless of expiry.
	GetRoomByID(ctx context.Context, id string) (*Room, error)

	// ListActiveRooms lists rooms whose expiry is after now, newest first.
	ListActiveRooms(ctx context.Context, now time.Time) ([]*Room, error)

	// AddMember records room membership. Adding an existing member is a no-op.
	AddMember(ctx context.Context, roomID, userID string) error

	// ListMembers lists the members of a room in join order.
	ListMembers(ctx context.Context, roomID string) ([]*User, error)

	// CountMembers returns the number of persisted members of a room.
	CountMembers(ctx context.Context, roomID string) (int, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and assigns its ID when empty.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit messages of a room in chronological order.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	// PurgeExpired deletes rooms and messages whose expiry is at or before now.
	// Returns the number of deleted rooms and messages.
	PurgeExpired(ctx context.Context, now time.Time) (rooms, messages int64, err error)

	// Close closes the underlying database connection.
	Close() error
}
