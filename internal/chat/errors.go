package chat

import "errors"

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrChatFull     = errors.New("chat is full")
	ErrNameTaken    = errors.New("name already taken")
	ErrInvalidName  = errors.New("invalid name")
	ErrNotInChat    = errors.New("not in chat")
)
