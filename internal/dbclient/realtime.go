package dbclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sethvargo/go-retry"

	"github.com/vovakirdan/onetimechat/internal/proto"
)

// Change event types accepted in a Filter.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAll    = "*"
)

const (
	reconnectBase = 500 * time.Millisecond
	reconnectCap  = 10 * time.Second
)

// Filter selects the changes delivered to a subscription.
type Filter struct {
	Table  string
	Event  string
	ChatID string
}

// ChangeEvent is one row change. Record holds the changed row; decode it
// with the row type of Table.
type ChangeEvent struct {
	Topic           string
	Table           string
	Type            string
	ChatID          string
	Record          json.RawMessage
	CommitTimestamp time.Time
}

// Handler receives change events. Handlers of one client run one at a
// time on a dedicated goroutine.
type Handler func(ChangeEvent)

// Subscription is an active realtime subscription.
type Subscription struct {
	topic   string
	filter  Filter
	handler Handler
}

// Topic returns the subscription's topic.
func (s *Subscription) Topic() string {
	return s.topic
}

type dispatch struct {
	sub *Subscription
	ev  ChangeEvent
}

// Subscribe registers handler for the changes matching filter under topic.
// The realtime connection is dialed on first use. It returns once the
// backend acknowledged the subscription.
func (c *Client) Subscribe(ctx context.Context, topic string, filter Filter, handler Handler) (*Subscription, error) {
	if filter.Event == "" {
		filter.Event = EventAll
	}
	sub := &Subscription{topic: topic, filter: filter, handler: handler}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := c.subs[topic]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("dbclient: topic %q already subscribed", topic)
	}
	conn, err := c.ensureConnLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	ref, ack := c.newRefLocked()
	c.subs[topic] = sub
	c.mu.Unlock()

	if err := writeSubscribe(ctx, conn, sub, ref); err != nil {
		c.forget(topic, ref)
		return nil, fmt.Errorf("dbclient: subscribe %s: %w", topic, err)
	}
	if err := c.await(ctx, ack); err != nil {
		c.forget(topic, ref)
		return nil, fmt.Errorf("dbclient: subscribe %s: %w", topic, err)
	}

	c.log.Debug().Str("topic", topic).Str("table", filter.Table).Str("chat_id", filter.ChatID).Msg("realtime subscribed")
	return sub, nil
}

// RemoveSubscription stops delivering events to sub. The connection stays
// open for other subscriptions.
func (c *Client) RemoveSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	if current, ok := c.subs[sub.topic]; !ok || current != sub {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, sub.topic)
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	ref, ack := c.newRefLocked()
	c.mu.Unlock()

	payload, err := json.Marshal(proto.UnsubscribeData{Topic: sub.topic, Ref: ref})
	if err != nil {
		c.dropPending(ref)
		return err
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeUnsubscribe, Data: payload}); err != nil {
		c.dropPending(ref)
		return fmt.Errorf("dbclient: unsubscribe %s: %w", sub.topic, err)
	}

	var apiErr *APIError
	if err := c.await(ctx, ack); err != nil && !(errors.As(err, &apiErr) && apiErr.Code == "not_subscribed") {
		return fmt.Errorf("dbclient: unsubscribe %s: %w", sub.topic, err)
	}
	c.log.Debug().Str("topic", sub.topic).Msg("realtime unsubscribed")
	return nil
}

// Subscriptions returns the number of active subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Client) realtimeURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/realtime/v1/websocket"
	u.RawQuery = url.Values{headerAPIKey: {c.apiKey}}.Encode()
	return u.String()
}

// ensureConnLocked dials the realtime socket if needed. c.mu must be held.
func (c *Client) ensureConnLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.realtimeURL(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return nil, fmt.Errorf("dbclient: dial realtime: %w", err)
	}
	conn.SetReadLimit(1 << 20)
	c.conn = conn

	if !c.started {
		c.started = true
		go c.dispatchLoop()
	}
	go c.readLoop(conn)

	c.log.Debug().Str("url", c.baseURL.String()).Msg("realtime connected")
	return conn, nil
}

func (c *Client) newRefLocked() (string, chan error) {
	c.refSeq++
	ref := strconv.FormatUint(c.refSeq, 10)
	ack := make(chan error, 1)
	c.pending[ref] = ack
	return ref, ack
}

func (c *Client) await(ctx context.Context, ack <-chan error) error {
	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) forget(topic, ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	delete(c.pending, ref)
}

func (c *Client) dropPending(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, ref)
}

func (c *Client) resolve(ref string, err error) {
	if ref == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ack, ok := c.pending[ref]; ok {
		ack <- err
		delete(c.pending, ref)
	}
}

func writeSubscribe(ctx context.Context, conn *websocket.Conn, sub *Subscription, ref string) error {
	payload, err := json.Marshal(proto.SubscribeData{
		Topic:  sub.topic,
		Ref:    ref,
		Table:  sub.filter.Table,
		Event:  sub.filter.Event,
		ChatID: sub.filter.ChatID,
	})
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeSubscribe, Data: payload})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var out proto.RawOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			c.connLost(conn, err)
			return
		}

		switch {
		case out.Type == proto.OutboundTypeError:
			apiErr := &APIError{Message: "realtime error"}
			if out.Error != nil {
				apiErr.Code = out.Error.Code
				apiErr.Message = out.Error.Msg
			}
			if out.Ref == "" {
				c.log.Warn().Str("code", apiErr.Code).Str("topic", out.Topic).Msg(apiErr.Message)
			}
			c.resolve(out.Ref, apiErr)
		case out.Event == proto.EventSubscribed, out.Event == proto.EventUnsubscribed:
			c.resolve(out.Ref, nil)
		case out.Event == proto.EventChange:
			c.enqueue(out)
		}
	}
}

func (c *Client) enqueue(out proto.RawOutbound) {
	var data proto.ChangeData
	if err := json.Unmarshal(out.Data, &data); err != nil {
		c.log.Warn().Err(err).Str("topic", out.Topic).Msg("malformed change event")
		return
	}

	c.mu.Lock()
	sub, ok := c.subs[out.Topic]
	c.mu.Unlock()
	if !ok {
		return
	}

	ev := ChangeEvent{
		Topic:           out.Topic,
		Table:           data.Table,
		Type:            data.Type,
		ChatID:          data.ChatID,
		Record:          data.Record,
		CommitTimestamp: data.CommitTimestamp,
	}
	select {
	case c.events <- dispatch{sub: sub, ev: ev}:
	default:
		c.log.Warn().Str("topic", out.Topic).Msg("handler queue full, change dropped")
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.quit:
			return
		case d := <-c.events:
			c.mu.Lock()
			current := c.subs[d.sub.topic]
			c.mu.Unlock()
			if current == d.sub {
				d.sub.handler(d.ev)
			}
		}
	}
}

// connLost fails pending requests and, while subscriptions remain,
// reconnects with exponential backoff and subscribes them again.
func (c *Client) connLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	for ref, ack := range c.pending {
		ack <- fmt.Errorf("dbclient: realtime connection lost: %w", cause)
		delete(c.pending, ref)
	}
	closed := c.closed
	remaining := len(c.subs)
	c.mu.Unlock()

	if closed || remaining == 0 {
		return
	}
	c.log.Warn().Err(cause).Int("subscriptions", remaining).Msg("realtime connection lost, reconnecting")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-c.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer cancel()

	backoff := retry.WithCappedDuration(reconnectCap, retry.NewExponential(reconnectBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		conn, err := c.ensureConnLocked(ctx)
		if err != nil {
			c.mu.Unlock()
			return retry.RetryableError(err)
		}
		subs := make([]*Subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		c.mu.Unlock()

		for _, sub := range subs {
			// Acks of resubscriptions carry no ref and are ignored.
			if err := writeSubscribe(ctx, conn, sub, ""); err != nil {
				return retry.RetryableError(err)
			}
		}
		c.log.Info().Int("subscriptions", len(subs)).Msg("realtime reconnected")
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error().Err(err).Msg("realtime reconnect failed")
	}
}
