package approval

import (
	"encoding/json"
	"time"
)

// RiskLevel classifies how dangerous a requested tool execution is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Scope controls how long an approval decision is remembered.
type Scope string

const (
	// ScopeOnce applies to this request only and is never stored.
	ScopeOnce Scope = "once"
	// ScopeSession is remembered for the lifetime of the owning session
	// (in-memory only; not persisted across restarts).
	ScopeSession Scope = "session"
	// ScopeGlobal is remembered across runs and persisted.
	ScopeGlobal Scope = "global"
)

// Request asks for permission to execute a tool.
type Request struct {
	ID               string          `json:"id"`
	ToolName         string          `json:"tool_name"`
	ToolArgs         json.RawMessage `json:"tool_args,omitempty"` // opaque
	WorkingDirectory string          `json:"working_directory,omitempty"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	Description      string          `json:"description,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Response is the decision for one Request.
type Response struct {
	Approved         bool   `json:"approved"`
	Scope            Scope  `json:"scope"`
	RememberDecision bool   `json:"remember_decision"`
	Reason           string `json:"reason,omitempty"`
}

// Future resolves exactly once with the response for a request.
type Future struct {
	ch chan Response
}

func newFuture() *Future {
	return &Future{ch: make(chan Response, 1)}
}

// Done returns a channel that receives the response exactly once.
func (f *Future) Done() <-chan Response { return f.ch }

func (f *Future) resolve(resp Response) {
	// Buffered size-1 channel; the broker guarantees a single resolve.
	f.ch <- resp
	close(f.ch)
}
