package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrUnknownType is returned for envelopes outside the closed event set.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when the payload is not valid JSON for its type.
	ErrMalformed = errors.New("malformed payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FieldError names a payload field that failed validation.
type FieldError struct {
	Field string
	Rule  string
}

// ValidationError lists every failed field of a payload.
type ValidationError struct {
	Type   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Rule)
	}
	return fmt.Sprintf("invalid %s: %s", e.Type, strings.Join(parts, ", "))
}

// DecodeInbound maps an envelope to its typed payload and validates it.
// The returned value is one of *JoinRoomData, *LeaveRoomData, *SendMessageData,
// *TypingData (for both typing and stopTyping) or *ReactionData.
func DecodeInbound(in Inbound) (any, error) {
	var payload any
	switch in.Type {
	case EventJoinRoom:
		payload = &JoinRoomData{}
	case EventLeaveRoom:
		payload = &LeaveRoomData{}
	case EventSendMessage:
		payload = &SendMessageData{}
	case EventTyping, EventStopTyping:
		payload = &TypingData{}
	case EventReactionAdded:
		payload = &ReactionData{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}

	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformed, in.Type)
	}
	if err := json.Unmarshal(in.Data, payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, in.Type, err)
	}
	if err := Validate(in.Type, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Validate checks struct tags on a payload and converts failures into a ValidationError.
func Validate(eventType string, payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Type: eventType}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// Encode wraps a payload in an outbound envelope.
func Encode(eventType string, data any) Outbound {
	return Outbound{Type: eventType, Data: data}
}

// Marshal builds the raw inbound envelope for eventType, used by clients.
func Marshal(eventType string, data any) (Inbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Inbound{Type: eventType, Data: raw}, nil
}
