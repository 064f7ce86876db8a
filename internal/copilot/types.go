package copilot

import "time"

// Message is a single chat message returned by the service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one item of a streaming response. Content is CUMULATIVE, not a
// delta: consumers must track the previous length and take the new suffix.
// The final chunk carries the complete response with trailing whitespace
// trimmed. A transport failure surfaces as a single terminal chunk with Err
// set; no further chunks follow it.
type Chunk struct {
	Content string
	Err     error
}

// ToolEventKind tags the tool/reasoning event sum.
type ToolEventKind int

const (
	ReasoningDelta ToolEventKind = iota
	ToolStart
	ToolComplete
)

func (k ToolEventKind) String() string {
	switch k {
	case ReasoningDelta:
		return "reasoning_delta"
	case ToolStart:
		return "tool_start"
	case ToolComplete:
		return "tool_complete"
	default:
		return "unknown"
	}
}

// ToolEvent is emitted on the adapter's tool/reasoning event channel.
// Events are routed solely by SessionID; two sessions never cross-talk.
type ToolEvent struct {
	SessionID  string
	Kind       ToolEventKind
	ToolCallID string // set for ToolStart and ToolComplete
	ToolName   string // set for ToolStart
	Delta      string // set for ReasoningDelta
	Timestamp  time.Time
}

// SessionOptions configures a new chat session.
type SessionOptions struct {
	Model        string
	SystemPrompt string
	MCPServers   []string // opaque identifiers, forwarded to the service
	Skills       []string // opaque identifiers, forwarded to the service

	// Autonomous marks the session as bypassing tool approval.
	Autonomous bool
}

// ToolEventHandler receives tool events for all sessions; consumers filter
// by SessionID.
type ToolEventHandler func(ToolEvent)
