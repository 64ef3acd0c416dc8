package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vovakirdan/onetimechat/internal/chat"
	"github.com/vovakirdan/onetimechat/internal/dbclient"
)

func participantUser(p dbclient.Participant) chat.User {
	return chat.User{
		ID:       p.ID,
		Name:     p.UserName,
		JoinedAt: p.JoinedAt,
		Online:   p.IsOnline,
	}
}

func messageFromRow(m dbclient.MessageRow) chat.Message {
	msg := chat.Message{
		ID:        m.ID,
		Type:      chat.MessageType(m.MessageType),
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
	if m.AuthorName != nil {
		msg.Author = *m.AuthorName
	}
	return msg
}

// joinError maps a rejected participant insert to the chat sentinels. The
// backend repeats the capacity and name checks under its own lock, so a
// race lost between the local checks and the insert lands here.
func joinError(err error) error {
	var apiErr *dbclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("join chat: %w", err)
	}
	switch {
	case apiErr.Code == "chat_full":
		return chat.ErrChatFull
	case apiErr.Code == "name_taken":
		return chat.ErrNameTaken
	case apiErr.Status == http.StatusNotFound, apiErr.Status == http.StatusGone:
		return chat.ErrChatNotFound
	case apiErr.Status == http.StatusBadRequest:
		return chat.ErrInvalidName
	}
	return fmt.Errorf("join chat: %w", err)
}
