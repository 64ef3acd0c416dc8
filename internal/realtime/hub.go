package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const publishBuffer = 256

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub owns topics and subscriptions. All state is touched only by the Run
// goroutine.
type Hub struct {
	log *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	publish    chan Change
	stats      chan chan Stats

	clients map[*Client]struct{}
	topics  map[string]*Topic
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients int
	Topics  int
}

// NewHub creates a hub. Run must be called to start it.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		publish:    make(chan Change, publishBuffer),
		stats:      make(chan chan Stats),
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]*Topic),
	}
}

// Run processes registrations, commands and published changes until ctx is
// done. Remaining clients are released on exit.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			h.drop(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			go h.forward(ctx, c)
			h.log.Debug().Str("client_id", c.ID).Msg("realtime client registered")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Debug().Str("client_id", c.ID).Msg("realtime client unregistered")
			}
		case cc := <-h.commands:
			if _, ok := h.clients[cc.client]; ok {
				h.handle(cc.client, cc.cmd)
			}
		case ch := <-h.publish:
			h.fanOut(ch)
		case reply := <-h.stats:
			reply <- Stats{Clients: len(h.clients), Topics: len(h.topics)}
		}
	}
}

// RegisterClient attaches c to the hub. Blocks until the hub accepts it or
// ctx is done.
func (h *Hub) RegisterClient(ctx context.Context, c *Client) error {
	select {
	case h.register <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnregisterClient detaches c, removes its subscriptions and closes its
// Events channel.
func (h *Hub) UnregisterClient(ctx context.Context, c *Client) {
	select {
	case h.unregister <- c:
	case <-c.done:
	case <-ctx.Done():
	}
}

// Publish queues a change for fan-out. It never blocks; when the queue is
// full the change is dropped and false is returned.
func (h *Hub) Publish(ch Change) bool {
	if ch.Timestamp.IsZero() {
		ch.Timestamp = time.Now().UTC()
	}
	select {
	case h.publish <- ch:
		return true
	default:
		h.log.Warn().Str("table", ch.Table).Str("chat_id", ch.ChatID).Msg("realtime queue full, change dropped")
		return false
	}
}

// Stats returns the current number of clients and topics.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// forward moves commands from the client into the hub loop.
func (h *Hub) forward(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandSubscribe:
		h.subscribe(c, cmd)
	case CommandUnsubscribe:
		h.unsubscribe(c, cmd)
	default:
		h.reply(c, &Event{Kind: EventError, Topic: cmd.Topic, Ref: cmd.Ref,
			Error: hubError(ErrCodeUnknownCommand, "unknown command")})
	}
}

func (h *Hub) subscribe(c *Client, cmd *Command) {
	if cmd.Topic == "" || cmd.Filter.Table == "" || !cmd.Filter.Event.Valid() {
		h.reply(c, &Event{Kind: EventError, Topic: cmd.Topic, Ref: cmd.Ref,
			Error: hubError(ErrCodeBadRequest, "topic, table and a valid event are required")})
		return
	}

	topic, ok := h.topics[cmd.Topic]
	if !ok {
		topic = NewTopic(cmd.Topic)
		h.topics[cmd.Topic] = topic
	}
	if !topic.Add(c, cmd.Filter) {
		h.reply(c, &Event{Kind: EventError, Topic: cmd.Topic, Ref: cmd.Ref,
			Error: hubError(ErrCodeAlreadyJoined, "already subscribed to topic")})
		return
	}
	c.topics[cmd.Topic] = struct{}{}

	h.log.Debug().
		Str("client_id", c.ID).
		Str("topic", cmd.Topic).
		Str("table", cmd.Filter.Table).
		Str("chat_id", cmd.Filter.ChatID).
		Msg("subscribed")
	h.reply(c, &Event{Kind: EventSubscribed, Topic: cmd.Topic, Ref: cmd.Ref})
}

func (h *Hub) unsubscribe(c *Client, cmd *Command) {
	topic, ok := h.topics[cmd.Topic]
	if !ok || !topic.Remove(c) {
		h.reply(c, &Event{Kind: EventError, Topic: cmd.Topic, Ref: cmd.Ref,
			Error: hubError(ErrCodeNotSubscribed, "not subscribed to topic")})
		return
	}
	delete(c.topics, cmd.Topic)
	if topic.Empty() {
		delete(h.topics, cmd.Topic)
	}
	h.reply(c, &Event{Kind: EventUnsubscribed, Topic: cmd.Topic, Ref: cmd.Ref})
}

func (h *Hub) fanOut(ch Change) {
	for _, topic := range h.topics {
		if dropped := topic.Broadcast(ch); dropped > 0 {
			h.log.Warn().Str("topic", topic.Name).Int("dropped", dropped).Msg("slow subscribers, events dropped")
		}
	}
}

// reply delivers a control event, dropping it for a slow consumer.
func (h *Hub) reply(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.log.Warn().Str("client_id", c.ID).Msg("client events full, reply dropped")
	}
}

func (h *Hub) drop(c *Client) {
	for name := range c.topics {
		if topic, ok := h.topics[name]; ok {
			topic.Remove(c)
			if topic.Empty() {
				delete(h.topics, name)
			}
		}
	}
	delete(h.clients, c)
	close(c.done)
	close(c.Events)
}
