package core

import "github.com/vovakirdan/pulsechat/internal/proto"

// Error codes for domain errors.
const (
	ErrCodeRoomNotFound = proto.CodeRoomNotFound
	ErrCodeRoomExpired  = proto.CodeRoomExpired
	ErrCodeUserNotFound = proto.CodeUserNotFound
	ErrCodeRateLimited  = proto.CodeRateLimited
	ErrCodeNotInRoom    = proto.CodeNotInRoom
	ErrCodeBadRequest   = proto.CodeBadRequest
	ErrCodeInternal     = proto.CodeInternal
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	// Event names the client event that was rejected, when known.
	Event string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
