package realtime

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSubscribe attaches the client to a topic with a filter.
	CommandSubscribe CommandKind = iota
	// CommandUnsubscribe detaches the client from a topic.
	CommandUnsubscribe
)

// Command represents an action requested by a client. Ref is echoed back in
// the reply so the client can match it with its request.
type Command struct {
	Kind   CommandKind
	Topic  string
	Filter Filter
	Ref    string
}
