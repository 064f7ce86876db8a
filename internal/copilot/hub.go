package copilot

import (
	"log/slog"
	"sync"
)

// toolEventHub fans tool events out to subscribers. Subscribers see events
// in emission order; a panicking handler is contained and logged.
type toolEventHub struct {
	mu   sync.RWMutex
	subs map[string]ToolEventHandler
}

func newToolEventHub() *toolEventHub {
	return &toolEventHub{subs: make(map[string]ToolEventHandler)}
}

func (h *toolEventHub) subscribe(id string, handler ToolEventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = handler
}

func (h *toolEventHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *toolEventHub) emit(ev ToolEvent) {
	h.mu.RLock()
	handlers := make([]ToolEventHandler, 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("tool event handler panicked", "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}
