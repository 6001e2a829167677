package http

import (
	"errors"

	"github.com/vovakirdan/pulsechat/internal/core"
	"github.com/vovakirdan/pulsechat/internal/proto"
)

// inboundToCommand decodes a wire envelope into a hub command. Protocol errors are
// reported back to the client without closing the connection.
func inboundToCommand(in proto.Inbound) (*core.Command, *proto.Error) {
	payload, err := proto.DecodeInbound(in)
	if err != nil {
		return nil, protoError(in.Type, err)
	}

	switch data := payload.(type) {
	case *proto.JoinRoomData:
		return &core.Command{Kind: core.CommandJoinRoom, RoomID: data.RoomID, UserID: data.UserID}, nil
	case *proto.LeaveRoomData:
		return &core.Command{Kind: core.CommandLeaveRoom, RoomID: data.RoomID, UserID: data.UserID}, nil
	case *proto.SendMessageData:
		return &core.Command{
			Kind:    core.CommandSendMessage,
			RoomID:  data.RoomID,
			UserID:  data.UserID,
			Content: data.Content,
		}, nil
	case *proto.TypingData:
		kind := core.CommandTyping
		if in.Type == proto.EventStopTyping {
			kind = core.CommandStopTyping
		}
		return &core.Command{Kind: kind, RoomID: data.RoomID, Username: data.Username}, nil
	case *proto.ReactionData:
		return &core.Command{
			Kind:      core.CommandReaction,
			RoomID:    data.RoomID,
			MessageID: data.MessageID,
			Emoji:     data.Emoji,
			UserID:    data.UserID,
		}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeBadRequest, Message: "unsupported message type", Event: in.Type}
	}
}

func protoError(eventType string, err error) *proto.Error {
	var verr *proto.ValidationError
	switch {
	case errors.As(err, &verr):
		return &proto.Error{Code: core.ErrCodeBadRequest, Message: verr.Error(), Event: eventType}
	case errors.Is(err, proto.ErrUnknownType):
		return &proto.Error{Code: core.ErrCodeBadRequest, Message: "unsupported message type"}
	default:
		return &proto.Error{Code: core.ErrCodeBadRequest, Message: "invalid message payload", Event: eventType}
	}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventUserJoined:
		return proto.Encode(proto.EventUserJoined, proto.UserJoined{Username: ev.Username, MemberCount: ev.MemberCount})
	case core.EventUserLeft:
		return proto.Encode(proto.EventUserLeft, proto.UserLeft{Username: ev.Username})
	case core.EventNewMessage:
		return proto.Encode(proto.EventNewMessage, newMessagePayload(ev.Message))
	case core.EventRoomExpired:
		return proto.Encode(proto.EventRoomExpired, proto.RoomExpired{RoomID: ev.RoomID})
	case core.EventTyping:
		return proto.Encode(proto.EventTyping, proto.TypingSignal{Username: ev.Username})
	case core.EventStopTyping:
		return proto.Encode(proto.EventStopTyping, proto.TypingSignal{Username: ev.Username})
	case core.EventReactionAdded:
		return proto.Encode(proto.EventReactionAdded, proto.ReactionAdded{
			MessageID: ev.Reaction.MessageID,
			Emoji:     ev.Reaction.Emoji,
			UserID:    ev.Reaction.UserID,
		})
	case core.EventError:
		out := proto.Error{Code: core.ErrCodeInternal, Message: "internal error"}
		if ev.Error != nil {
			out = proto.Error{Code: ev.Error.Code, Message: ev.Error.Message, Event: ev.Error.Event}
		}
		return proto.Encode(proto.EventError, out)
	default:
		return proto.Encode(proto.EventError, proto.Error{Code: core.ErrCodeInternal, Message: "unknown event"})
	}
}

func newMessagePayload(m core.Message) proto.NewMessage {
	return proto.NewMessage{
		MessageID: m.ID,
		Sender:    proto.Sender{ID: m.SenderID, Username: m.Sender},
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
