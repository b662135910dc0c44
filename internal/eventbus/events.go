// Package eventbus provides the in-process publish/dispatch bus that units
// use to signal each other while the scheduler runs them.
package eventbus

// Handler receives an event payload by reference. A handler may read or
// rewrite the payload; later handlers observe the rewritten value.
type Handler func(payload *string)

// Listener is a single registration on the bus.
type Listener struct {
	Event   string
	Handler Handler
}

// Subscriber registers handlers for named events.
type Subscriber interface {
	Subscribe(event string, handler Handler)
}

// Publisher dispatches named events to registered handlers.
type Publisher interface {
	Publish(event string, payload string) string
}
