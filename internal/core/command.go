package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandSendMessage persists and delivers a chat message to room participants.
	CommandSendMessage
	// CommandTyping flags the user as typing.
	CommandTyping
	// CommandStopTyping clears the typing flag.
	CommandStopTyping
	// CommandReaction relays an emoji reaction to a message.
	CommandReaction
)

func (k CommandKind) String() string {
	switch k {
	case CommandJoinRoom:
		return "joinRoom"
	case CommandLeaveRoom:
		return "leaveRoom"
	case CommandSendMessage:
		return "sendMessage"
	case CommandTyping:
		return "typing"
	case CommandStopTyping:
		return "stopTyping"
	case CommandReaction:
		return "reactionAdded"
	default:
		return "unknown"
	}
}

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	RoomID    string
	UserID    string
	Username  string // typing commands carry the nickname instead of a user id
	Content   string
	MessageID string
	Emoji     string
}
