package realtime

// EventKind is a notification the hub emits to clients.
type EventKind int

const (
	// EventSubscribed confirms a subscription.
	EventSubscribed EventKind = iota
	// EventUnsubscribed confirms an unsubscription.
	EventUnsubscribed
	// EventChange delivers a matching row change.
	EventChange
	// EventError reports a failed command.
	EventError
)

// Event is sent to clients to describe what happened.
type Event struct {
	Kind   EventKind
	Topic  string
	Ref    string
	Change *Change
	Error  *Error
}
