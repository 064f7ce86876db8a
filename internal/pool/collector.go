package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// Collector subscribes to the adapter's tool event channel for the
// lifetime of a single assistant task and yields ordered tool-execution
// records. It is strictly scoped to one session id; each collector holds
// its own lock with no cross-collector coupling.
type Collector struct {
	client    copilot.Client
	sessionID string
	subID     string

	mu         sync.Mutex
	done       bool
	executions []ToolExecution
	open       *openTool
}

type openTool struct {
	callID    string
	name      string
	startedAt time.Time
}

// NewCollector creates a collector for one session id.
func NewCollector(client copilot.Client, sessionID string) *Collector {
	return &Collector{
		client:    client,
		sessionID: sessionID,
		subID:     "collector-" + uuid.NewString(),
	}
}

// Start subscribes to the tool event channel.
func (c *Collector) Start() {
	c.client.SubscribeToolEvents(c.subID, c.onEvent)
}

func (c *Collector) onEvent(ev copilot.ToolEvent) {
	if ev.SessionID != c.sessionID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}

	switch ev.Kind {
	case copilot.ToolStart:
		// A new tool starting while another is still open means the
		// service never reported the first one's completion.
		if c.open != nil {
			c.closeOpen(ev.Timestamp, "superseded")
		}
		c.open = &openTool{
			callID:    ev.ToolCallID,
			name:      ev.ToolName,
			startedAt: ev.Timestamp,
		}
	case copilot.ToolComplete:
		if c.open != nil && c.open.callID == ev.ToolCallID {
			c.closeOpen(ev.Timestamp, "")
		}
	}
}

// closeOpen records the open tool as finished. Caller holds the lock.
func (c *Collector) closeOpen(at time.Time, description string) {
	c.executions = append(c.executions, ToolExecution{
		ToolName:    c.open.name,
		StartedAt:   c.open.startedAt,
		CompletedAt: at,
		Success:     true,
		Description: description,
	})
	c.open = nil
}

// Complete flushes any open tool, unsubscribes, and returns the ordered
// records. Safe to call exactly once; events arriving afterwards are
// ignored.
func (c *Collector) Complete() []ToolExecution {
	c.mu.Lock()
	c.done = true
	if c.open != nil {
		c.closeOpen(time.Now().UTC(), "finalized at collection end")
	}
	out := make([]ToolExecution, len(c.executions))
	copy(out, c.executions)
	c.mu.Unlock()

	c.client.UnsubscribeToolEvents(c.subID)
	return out
}
