package realtime

// Error codes sent to subscribers.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeAlreadyJoined  = "already_joined"
	ErrCodeNotSubscribed  = "not_subscribed"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeUnknownCommand = "unknown_command"
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func hubError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
