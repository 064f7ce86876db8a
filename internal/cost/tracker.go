// Package cost accumulates token usage across all sessions and publishes
// cost updates to the bus.
package cost

import (
	"sync"
	"sync/atomic"

	"github.com/rashmirrout/pilotdesk/internal/bus"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

// Snapshot is one point-in-time view of accumulated usage.
type Snapshot struct {
	Requests     int64            `json:"requests"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	ByModel      map[string]int64 `json:"by_model"` // total tokens per model
}

// Tracker counts token usage with atomics and broadcasts a cost event on
// every recorded call. Plug Record into the chat client's usage hook.
type Tracker struct {
	events bus.EventPublisher

	requests     atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64

	mu      sync.Mutex
	byModel map[string]int64
}

// NewTracker creates a tracker. events may be nil.
func NewTracker(events bus.EventPublisher) *Tracker {
	return &Tracker{events: events, byModel: make(map[string]int64)}
}

// Record accumulates one call's usage.
func (t *Tracker) Record(model string, u copilot.Usage) {
	t.requests.Add(1)
	t.inputTokens.Add(int64(u.PromptTokens))
	t.outputTokens.Add(int64(u.CompletionTokens))

	t.mu.Lock()
	t.byModel[model] += int64(u.TotalTokens)
	t.mu.Unlock()

	if t.events != nil {
		t.events.Broadcast(bus.Event{Name: protocol.EventCost, Payload: t.Snapshot()})
	}
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	byModel := make(map[string]int64, len(t.byModel))
	for k, v := range t.byModel {
		byModel[k] = v
	}
	t.mu.Unlock()

	return Snapshot{
		Requests:     t.requests.Load(),
		InputTokens:  t.inputTokens.Load(),
		OutputTokens: t.outputTokens.Load(),
		ByModel:      byModel,
	}
}
