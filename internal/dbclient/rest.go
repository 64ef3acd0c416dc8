package dbclient

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// InsertChat creates a chat and returns its row.
func (c *Client) InsertChat(ctx context.Context) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodPost, "/chats", nil, nil, &chat, ""); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetChat fetches a chat whatever its state.
func (c *Client) GetChat(ctx context.Context, id string) (*Chat, error) {
	var chat Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, nil, &chat, ""); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetActiveChat fetches a chat flagged active. Inactive chats yield
// ErrNotFound; expiry is left to the caller.
func (c *Client) GetActiveChat(ctx context.Context, id string) (*Chat, error) {
	chat, err := c.GetChat(ctx, id)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive {
		return nil, ErrNotFound
	}
	return chat, nil
}

// DeactivateChat clears the chat's active flag.
func (c *Client) DeactivateChat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/chats/"+url.PathEscape(id), nil, chatPatch{IsActive: false}, nil, "")
}

// CountOnline counts the online participants of a chat.
func (c *Client) CountOnline(ctx context.Context, chatID string) (int, error) {
	var body countBody
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/participants/count", nil, nil, &body, ""); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// FindOnlineByName returns the online participant called name, or
// ErrNotFound.
func (c *Client) FindOnlineByName(ctx context.Context, chatID, name string) (*Participant, error) {
	var rows []Participant
	q := url.Values{"name": {name}}
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/participants", q, nil, &rows, ""); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// InsertParticipant joins a chat.
func (c *Client) InsertParticipant(ctx context.Context, p NewParticipant) (*Participant, error) {
	var row Participant
	if err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(p.ChatID)+"/participants", nil, p, &row, ""); err != nil {
		return nil, err
	}
	return &row, nil
}

// GetOnlineParticipant fetches a participant that is still online.
// Offline participants yield ErrNotFound.
func (c *Client) GetOnlineParticipant(ctx context.Context, id string) (*Participant, error) {
	var row Participant
	if err := c.do(ctx, http.MethodGet, "/participants/"+url.PathEscape(id), nil, nil, &row, ""); err != nil {
		return nil, err
	}
	if !row.IsOnline {
		return nil, ErrNotFound
	}
	return &row, nil
}

// SetParticipantOnline flips a participant's online flag. sessionToken is
// the SessionID given at insert.
func (c *Client) SetParticipantOnline(ctx context.Context, id, sessionToken string, online bool) (*Participant, error) {
	var row Participant
	if err := c.do(ctx, http.MethodPatch, "/participants/"+url.PathEscape(id), nil, participantPatch{IsOnline: online}, &row, sessionToken); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListOnlineParticipants lists online participants ordered by join time.
func (c *Client) ListOnlineParticipants(ctx context.Context, chatID string) ([]Participant, error) {
	var rows []Participant
	q := url.Values{"online": {"true"}}
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/participants", q, nil, &rows, ""); err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertMessage posts a message. sessionToken is required for user
// messages.
func (c *Client) InsertMessage(ctx context.Context, m NewMessage, sessionToken string) (*MessageRow, error) {
	var row MessageRow
	if err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(m.ChatID)+"/messages", nil, m, &row, sessionToken); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListMessages lists the messages of a chat ordered by creation time.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]MessageRow, error) {
	var rows []MessageRow
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, nil, &rows, ""); err != nil {
		return nil, err
	}
	return rows, nil
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/health"

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}
