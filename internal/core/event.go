package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUserJoined notifies room participants about a join.
	EventUserJoined EventKind = iota
	// EventUserLeft notifies the remaining participants about a leave.
	EventUserLeft
	// EventNewMessage delivers a persisted chat message.
	EventNewMessage
	// EventRoomExpired tells participants the room reached its lifetime.
	EventRoomExpired
	// EventTyping relays a typing indicator.
	EventTyping
	// EventStopTyping relays the end of a typing indicator.
	EventStopTyping
	// EventReactionAdded relays an emoji reaction.
	EventReactionAdded
	// EventError notifies a single client about a failed command.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUserJoined:
		return "userJoined"
	case EventUserLeft:
		return "userLeft"
	case EventNewMessage:
		return "newMessage"
	case EventRoomExpired:
		return "roomExpired"
	case EventTyping:
		return "typing"
	case EventStopTyping:
		return "stopTyping"
	case EventReactionAdded:
		return "reactionAdded"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in a room. Events are shared
// between recipients and must not be mutated after broadcast.
type Event struct {
	Kind        EventKind
	RoomID      string
	Username    string
	MemberCount int
	Message     Message
	Reaction    Reaction
	Error       *CoreError
}
