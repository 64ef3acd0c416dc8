package realtime

// Topic groups the subscriptions sharing one name. Each subscriber keeps
// its own filter.
type Topic struct {
	Name        string
	subscribers map[*Client]Filter
}

// NewTopic constructs a topic with no subscribers.
func NewTopic(name string) *Topic {
	return &Topic{
		Name:        name,
		subscribers: make(map[*Client]Filter),
	}
}

// Add subscribes c. Returns false if c is already subscribed.
func (t *Topic) Add(c *Client, f Filter) bool {
	if _, exists := t.subscribers[c]; exists {
		return false
	}
	t.subscribers[c] = f
	return true
}

// Remove unsubscribes c. Returns true if removed.
func (t *Topic) Remove(c *Client) bool {
	if _, exists := t.subscribers[c]; !exists {
		return false
	}
	delete(t.subscribers, c)
	return true
}

// Broadcast sends ch to every subscriber whose filter matches and returns
// the number of events dropped for slow consumers.
func (t *Topic) Broadcast(ch Change) int {
	dropped := 0
	for client, f := range t.subscribers {
		if !f.Matches(ch) {
			continue
		}
		change := ch
		select {
		case client.Events <- &Event{Kind: EventChange, Topic: t.Name, Change: &change}:
		default:
			dropped++
		}
	}
	return dropped
}

// Empty returns true if no clients are subscribed.
func (t *Topic) Empty() bool {
	return len(t.subscribers) == 0
}
