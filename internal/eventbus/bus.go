package eventbus

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/syscore/internal/log"
)

// Bus is a synchronous event bus.
// Listeners are kept in registration order and are never removed.
// Publish runs matching handlers on the calling goroutine and returns once
// all of them have returned.
type Bus struct {
	listeners []Listener
	mu        sync.RWMutex
	published atomic.Int64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe appends a listener for event.
// It is safe to call concurrently with Publish and from inside a handler.
// A nil handler is ignored.
func (b *Bus) Subscribe(event string, handler Handler) {
	if handler == nil {
		log.Warn(log.CatBus, "ignoring nil handler", "event", event)
		return
	}

	b.mu.Lock()
	b.listeners = append(b.listeners, Listener{Event: event, Handler: handler})
	count := len(b.listeners)
	b.mu.Unlock()

	log.Debug(log.CatBus, "listener subscribed", "event", event, "listeners", count)
}

// Publish invokes every handler registered for event, in registration order,
// passing a shared pointer to payload. It returns the payload as left by the
// last handler. Publishing an event with no listeners is a no-op.
//
// Matching listeners are snapshotted before dispatch, so handlers may
// Subscribe or Publish re-entrantly; listeners added during a dispatch are
// not invoked by that dispatch.
func (b *Bus) Publish(event string, payload string) string {
	handlers := b.match(event)
	b.published.Add(1)

	if len(handlers) == 0 {
		log.Debug(log.CatBus, "publish without listeners", "event", event)
		return payload
	}

	log.Debug(log.CatBus, "dispatching", "event", event, "handlers", len(handlers))
	for _, h := range handlers {
		h(&payload)
	}
	return payload
}

func (b *Bus) match(event string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var handlers []Handler
	for _, l := range b.listeners {
		if l.Event == event {
			handlers = append(handlers, l.Handler)
		}
	}
	return handlers
}

// ListenerCount returns the number of listeners registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, l := range b.listeners {
		if l.Event == event {
			n++
		}
	}
	return n
}

// Events returns the sorted set of event names with at least one listener.
func (b *Bus) Events() []string {
	b.mu.RLock()
	seen := make(map[string]struct{}, len(b.listeners))
	for _, l := range b.listeners {
		seen[l.Event] = struct{}{}
	}
	b.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Published returns how many Publish calls the bus has served.
func (b *Bus) Published() int64 {
	return b.published.Load()
}
