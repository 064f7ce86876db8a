package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rashmirrout/pilotdesk/internal/approval"
	"github.com/rashmirrout/pilotdesk/internal/bus"
	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/internal/office"
	"github.com/rashmirrout/pilotdesk/internal/panel"
	"github.com/rashmirrout/pilotdesk/internal/store/file"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

type stubClient struct{}

func (stubClient) CreateSession(string, copilot.SessionOptions) error { return nil }

func (stubClient) SendBlocking(context.Context, string, string) (copilot.Message, error) {
	return copilot.Message{}, nil
}

func (stubClient) SendStreaming(context.Context, string, string) (<-chan copilot.Chunk, error) {
	ch := make(chan copilot.Chunk)
	close(ch)
	return ch, nil
}

func (stubClient) TerminateSession(string) error { return nil }

func (stubClient) ListModels(context.Context) ([]string, error) { return nil, nil }

func (stubClient) SubscribeToolEvents(string, copilot.ToolEventHandler) {}

func (stubClient) UnsubscribeToolEvents(string) {}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	state, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	settings := config.Default()

	om := office.NewManager(stubClient{}, state, func(office.Event) {})
	po := panel.NewOrchestrator(stubClient{}, state, settings.Panel, func(panel.Event) {})
	broker := approval.NewBroker(state, bus.NewMessageBus(), config.ApprovalModal)

	return NewDispatcher(settings, om, po, broker)
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), "no.such.method", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown method") {
		t.Errorf("err = %v, want unknown method error", err)
	}
}

func TestDispatchConnectAndHealth(t *testing.T) {
	d := newTestDispatcher(t)

	for _, method := range []string{protocol.MethodConnect, protocol.MethodHealth} {
		result, err := d.Dispatch(context.Background(), method, nil)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		m, ok := result.(map[string]any)
		if !ok {
			t.Fatalf("%s result = %T, want map", method, result)
		}
		if m["status"] != "ok" || m["protocol"] != protocol.ProtocolVersion {
			t.Errorf("%s result = %v", method, m)
		}
	}
}

func TestDispatchStatusIdle(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Dispatch(context.Background(), protocol.MethodStatus, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	m := result.(map[string]any)
	officeStatus := m["office"].(map[string]any)
	if officeStatus["phase"] != office.PhaseIdle || officeStatus["iteration"] != 0 {
		t.Errorf("office status = %v", officeStatus)
	}
	panelStatus := m["panel"].(map[string]any)
	if panelStatus["phase"] != panel.PhaseIdle {
		t.Errorf("panel status = %v", panelStatus)
	}
}

func TestDispatchMalformedParams(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), protocol.MethodOfficeInject, json.RawMessage(`{"text": 5}`))
	if err == nil || !strings.Contains(err.Error(), "invalid params") {
		t.Errorf("err = %v, want invalid params error", err)
	}
}

func TestDispatchOfficeStartRequiresObjective(t *testing.T) {
	d := newTestDispatcher(t)

	// Defaults carry no objective, so an empty start is rejected.
	_, err := d.Dispatch(context.Background(), protocol.MethodOfficeStart, nil)
	if err == nil {
		t.Error("start without objective succeeded")
	}
}

func TestDispatchOfficeSetIntervalRejectsZero(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), protocol.MethodOfficeSetInterval, json.RawMessage(`{"minutes": 0}`))
	if err == nil {
		t.Error("interval 0 accepted")
	}
}

// Lifecycle commands against an idle runtime are guarded no-ops, not errors.
func TestDispatchIdleNoOps(t *testing.T) {
	d := newTestDispatcher(t)

	methods := []string{
		protocol.MethodOfficePause,
		protocol.MethodOfficeResume,
		protocol.MethodOfficeStop,
		protocol.MethodOfficeReset,
		protocol.MethodOfficeApprovePlan,
		protocol.MethodPanelPause,
		protocol.MethodPanelResume,
		protocol.MethodPanelStop,
		protocol.MethodPanelReset,
		protocol.MethodPanelApprove,
	}
	for _, method := range methods {
		if _, err := d.Dispatch(context.Background(), method, nil); err != nil {
			t.Errorf("%s on idle runtime: %v", method, err)
		}
	}
}

func TestDispatchApprovalResolveUnknownRequest(t *testing.T) {
	d := newTestDispatcher(t)

	params := json.RawMessage(`{"request_id": "nope", "approved": true, "scope": "global"}`)
	if _, err := d.Dispatch(context.Background(), protocol.MethodApprovalResolve, params); err != nil {
		t.Errorf("resolve of unknown request: %v", err)
	}
}

func TestDispatchApprovalRequestRequiresToolName(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), protocol.MethodApprovalRequest, json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "tool_name") {
		t.Errorf("err = %v, want tool_name error", err)
	}
}

func TestDispatchApprovalRequestAutonomousBypass(t *testing.T) {
	d := newTestDispatcher(t)
	d.broker.SetAutonomous("assistant-abc", true)

	params := json.RawMessage(`{"tool_name": "shell", "session_id": "assistant-abc", "risk_level": "high"}`)
	result, err := d.Dispatch(context.Background(), protocol.MethodApprovalRequest, params)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, ok := result.(approval.Response)
	if !ok {
		t.Fatalf("result = %T, want approval.Response", result)
	}
	if !resp.Approved || resp.Reason != "autonomous session" {
		t.Errorf("resp = %+v, want autonomous approval", resp)
	}
}

func TestDispatchApprovalRequestCachedRule(t *testing.T) {
	d := newTestDispatcher(t)
	d.broker.Rules().Record("read_file", approval.ScopeGlobal, "", true)

	params := json.RawMessage(`{"tool_name": "read_file", "session_id": "s1"}`)
	result, err := d.Dispatch(context.Background(), protocol.MethodApprovalRequest, params)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp := result.(approval.Response)
	if !resp.Approved || resp.Reason != "cached rule" {
		t.Errorf("resp = %+v, want cached-rule approval", resp)
	}
}

func TestDispatchApprovalRequestResolvedByUser(t *testing.T) {
	d := newTestDispatcher(t)

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	params := json.RawMessage(`{"id": "req-77", "tool_name": "shell", "session_id": "s1"}`)
	go func() {
		result, err := d.Dispatch(context.Background(), protocol.MethodApprovalRequest, params)
		done <- outcome{result, err}
	}()

	// The request id is caller-supplied, so the answer can be delivered as
	// soon as the broker registers it. Resolving an unknown id is a no-op,
	// so retry until the dispatch returns.
	deadline := time.After(5 * time.Second)
	for {
		d.broker.Resolve("req-77", approval.Response{Approved: false, Scope: approval.ScopeOnce, Reason: "not now"})
		select {
		case out := <-done:
			if out.err != nil {
				t.Fatalf("request: %v", out.err)
			}
			resp := out.result.(approval.Response)
			if resp.Approved || resp.Reason != "not now" {
				t.Errorf("resp = %+v, want the user's denial", resp)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for the approval answer")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestDispatchApprovalRulesEmpty(t *testing.T) {
	d := newTestDispatcher(t)

	result, err := d.Dispatch(context.Background(), protocol.MethodApprovalRules, nil)
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	rules, ok := result.(map[string]approval.Verdict)
	if !ok {
		t.Fatalf("result = %T, want rule map", result)
	}
	if len(rules) != 0 {
		t.Errorf("fresh broker has %d rules", len(rules))
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want approval.Scope
	}{
		{"session", approval.ScopeSession},
		{"global", approval.ScopeGlobal},
		{"once", approval.ScopeOnce},
		{"", approval.ScopeOnce},
		{"bogus", approval.ScopeOnce},
	}
	for _, tt := range tests {
		if got := parseScope(tt.in); got != tt.want {
			t.Errorf("parseScope(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUnmarshalParamsEmpty(t *testing.T) {
	p := textParams{Text: "unchanged"}
	if err := unmarshalParams(nil, &p); err != nil {
		t.Fatalf("nil params: %v", err)
	}
	if p.Text != "unchanged" {
		t.Errorf("empty params overwrote fields: %+v", p)
	}
}
