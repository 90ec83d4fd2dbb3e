package interfaces

// EventPublisher decouples event producers (executor worker, handlers) from
// the websocket fan-out. Implementations must be safe to call from any
// goroutine; delivery order is the order of Publish calls.
type EventPublisher interface {
	// Publish sends a JSON event to one session (non-empty clientID) or to
	// every session (empty clientID).
	Publish(eventType string, data any, clientID string)

	// PublishBinary sends a tagged binary frame. Tag must be positive;
	// a non-positive tag is a programming error and panics.
	PublishBinary(tag uint32, payload []byte, clientID string)

	// QueueUpdated broadcasts the current queue-status event to all
	// sessions.
	QueueUpdated()
}
