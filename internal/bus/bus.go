package bus

import (
	"log/slog"
	"sync"
)

// subscriberQueueSize bounds the per-subscriber delivery queue. A slow
// subscriber drops events past this depth instead of blocking producers.
const subscriberQueueSize = 256

// MessageBus is an in-process event broadcaster. Each subscriber gets its
// own delivery goroutine, so events reach every subscriber in the order the
// producer emitted them while a slow or panicking subscriber never blocks
// the producer or its peers.
type MessageBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

type subscriber struct {
	id      string
	handler EventHandler
	queue   chan Event
	done    chan struct{}
}

// NewMessageBus creates an empty bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a handler under id, replacing any previous handler
// with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	sub := &subscriber{
		id:      id,
		handler: handler,
		queue:   make(chan Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.queue)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()
}

// Unsubscribe removes a handler and stops its delivery goroutine.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.queue)
		<-sub.done
	}
}

// Broadcast delivers the event to every subscriber's queue. Delivery is
// non-blocking: a full queue drops the event with a warning.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.queue <- event:
		default:
			slog.Warn("bus: subscriber queue full, dropping event",
				"subscriber", sub.id, "event", event.Name)
		}
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.deliver(ev)
	}
}

// deliver invokes the handler, containing panics so one bad subscriber
// cannot kill the bus.
func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked", "subscriber", s.id, "event", ev.Name, "panic", r)
		}
	}()
	s.handler(ev)
}
