package bus

import "time"

// Event is a domain event published on the bus. Kind is a dotted name
// ("net.online", "sync.completed", "feed.message_added") and doubles as the
// subscription namespace.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
