package bus

// Event represents a runtime event to broadcast to subscribers
// (WebSocket clients, the event log, tests).
type Event struct {
	Name    string      `json:"name"` // event name (e.g. "office", "panel", "approval.requested")
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server and the orchestrators to decouple from
// the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
