package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rashmirrout/pilotdesk/internal/bus"
	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/store"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

// UI resolution timeouts. Inline toasts auto-deny after inlineTimeout;
// "both" mode gives the quick toast quickWindow before escalating to modal.
const (
	defaultInlineTimeout = 10 * time.Second
	defaultQuickWindow   = 3 * time.Second
)

// Broker interposes a human decision (or cached rule) between a tool
// request and its execution. Each request owns a single-shot future.
// Concurrent requests for the same tool are independent — no coalescing —
// but rule cache hits short-circuit before any UI work.
type Broker struct {
	rules  *RuleCache
	state  store.StateStore
	events bus.EventPublisher
	uiMode config.ApprovalUIMode

	inlineTimeout time.Duration
	quickWindow   time.Duration

	mu         sync.Mutex
	pending    map[string]chan Response // request id → UI answer
	autonomous map[string]bool          // session id → bypass flag
}

// NewBroker creates a broker and loads persisted Global rules.
func NewBroker(state store.StateStore, events bus.EventPublisher, uiMode config.ApprovalUIMode) *Broker {
	b := &Broker{
		rules:         NewRuleCache(),
		state:         state,
		events:        events,
		uiMode:        uiMode,
		inlineTimeout: defaultInlineTimeout,
		quickWindow:   defaultQuickWindow,
		pending:       make(map[string]chan Response),
		autonomous:    make(map[string]bool),
	}
	b.rules.Load(state)
	return b
}

// SetUIMode swaps the UI strategy (settings hot reload).
func (b *Broker) SetUIMode(mode config.ApprovalUIMode) {
	b.mu.Lock()
	b.uiMode = mode
	b.mu.Unlock()
}

// SetAutonomous toggles the autonomous-mode bypass for a session. While
// set, every request from that session resolves {approved, once} without
// touching the rule cache.
func (b *Broker) SetAutonomous(sessionID string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.autonomous[sessionID] = true
	} else {
		delete(b.autonomous, sessionID)
	}
}

// Rules exposes the rule cache (read/record from the gateway).
func (b *Broker) Rules() *RuleCache { return b.rules }

// RequestApproval runs the resolution pipeline and returns a future that
// completes exactly once, in finite time bounded by the UI strategy.
func (b *Broker) RequestApproval(ctx context.Context, req Request) *Future {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	fut := newFuture()

	// Autonomous bypass: approve without consulting or touching the cache.
	b.mu.Lock()
	bypass := req.SessionID != "" && b.autonomous[req.SessionID]
	b.mu.Unlock()
	if bypass {
		fut.resolve(Response{Approved: true, Scope: ScopeOnce, Reason: "autonomous session"})
		return fut
	}

	// Cached rule short-circuits before any UI work.
	if verdict, ok := b.rules.Lookup(req.ToolName, req.SessionID); ok {
		fut.resolve(Response{Approved: verdict == VerdictAllow, Scope: ScopeOnce, Reason: "cached rule"})
		return fut
	}

	go b.resolveViaUI(ctx, req, fut)
	return fut
}

// Resolve delivers a user's answer for a pending request. Unknown or
// already-resolved ids are no-ops.
func (b *Broker) Resolve(requestID string, resp Response) {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if ok {
		ch <- resp
	}
}

func (b *Broker) resolveViaUI(ctx context.Context, req Request, fut *Future) {
	answer := make(chan Response, 1)
	b.mu.Lock()
	b.pending[req.ID] = answer
	mode := b.uiMode
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	b.events.Broadcast(bus.Event{Name: protocol.EventApprovalRequested, Payload: req})

	resp, err := b.waitForAnswer(ctx, mode, req, answer)
	if err != nil {
		// Fail closed at the UI boundary.
		resp = Response{Approved: false, Scope: ScopeOnce, Reason: err.Error()}
	}

	b.recordDecision(req, resp)
	b.events.Broadcast(bus.Event{Name: protocol.EventApprovalResolved, Payload: map[string]any{
		"request_id": req.ID,
		"approved":   resp.Approved,
		"reason":     resp.Reason,
	}})
	fut.resolve(resp)
}

func (b *Broker) waitForAnswer(ctx context.Context, mode config.ApprovalUIMode, req Request, answer <-chan Response) (Response, error) {
	switch mode {
	case config.ApprovalInline:
		select {
		case resp := <-answer:
			return resp, nil
		case <-time.After(b.inlineTimeout):
			return Response{Approved: false, Scope: ScopeOnce, Reason: "auto-denied: no answer within timeout"}, nil
		case <-ctx.Done():
			return Response{}, fmt.Errorf("approval cancelled: %v", ctx.Err())
		}

	case config.ApprovalBoth:
		// Quick-action window first, then escalate to a modal.
		select {
		case resp := <-answer:
			return resp, nil
		case <-time.After(b.quickWindow):
			b.events.Broadcast(bus.Event{Name: protocol.EventApprovalEscalated, Payload: map[string]any{
				"request_id": req.ID,
			}})
		case <-ctx.Done():
			return Response{}, fmt.Errorf("approval cancelled: %v", ctx.Err())
		}
		fallthrough

	default: // config.ApprovalModal
		select {
		case resp := <-answer:
			return resp, nil
		case <-ctx.Done():
			return Response{}, fmt.Errorf("approval cancelled: %v", ctx.Err())
		}
	}
}

// recordDecision persists the decision per its scope.
func (b *Broker) recordDecision(req Request, resp Response) {
	if !resp.RememberDecision && resp.Scope == ScopeOnce {
		return
	}
	b.rules.Record(req.ToolName, resp.Scope, req.SessionID, resp.Approved)
	if resp.Scope == ScopeGlobal {
		if err := b.rules.Save(b.state); err != nil {
			slog.Warn("approval: persist rules failed", "error", err)
		}
	}
}
