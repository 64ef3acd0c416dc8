package realtime

// Client is a websocket connection as seen by the hub.
type Client struct {
	ID       string
	Commands chan *Command
	Events   chan *Event

	// topics is owned by the hub goroutine.
	topics map[string]struct{}
	done   chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 64),
		topics:   make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has unregistered the client. Events is closed
// at the same time.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
