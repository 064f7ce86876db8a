package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rashmirrout/pilotdesk/internal/approval"
	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/office"
	"github.com/rashmirrout/pilotdesk/internal/panel"
	"github.com/rashmirrout/pilotdesk/pkg/protocol"
)

// Dispatcher routes RPC methods to the office manager, the panel
// orchestrator, and the approval broker.
type Dispatcher struct {
	settings *config.Settings
	office   *office.Manager
	panel    *panel.Orchestrator
	broker   *approval.Broker
}

// NewDispatcher wires the runtime command surface.
func NewDispatcher(settings *config.Settings, om *office.Manager, po *panel.Orchestrator, broker *approval.Broker) *Dispatcher {
	return &Dispatcher{settings: settings, office: om, panel: po, broker: broker}
}

type textParams struct {
	Text string `json:"text"`
}

type feedbackParams struct {
	Feedback string `json:"feedback"`
}

type intervalParams struct {
	Minutes int `json:"minutes"`
}

type panelStartParams struct {
	Prompt string `json:"prompt"`
}

type followupParams struct {
	Question string `json:"question"`
}

type resolveParams struct {
	RequestID        string `json:"request_id"`
	Approved         bool   `json:"approved"`
	Scope            string `json:"scope"`
	RememberDecision bool   `json:"remember_decision"`
	Reason           string `json:"reason"`
}

// Dispatch executes one RPC method. Unknown methods and malformed
// params are errors; FSM-guarded no-ops succeed with an empty payload.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {

	case protocol.MethodOfficeStart:
		// Provided fields overlay the configured office defaults.
		cfg := d.settings.NewOfficeConfig("", "")
		if err := unmarshalParams(params, &cfg); err != nil {
			return nil, err
		}
		if err := d.office.Start(cfg); err != nil {
			return nil, err
		}
		return map[string]any{"run_id": d.office.RunID()}, nil

	case protocol.MethodOfficeApprovePlan:
		d.office.ApprovePlan()
		return nil, nil

	case protocol.MethodOfficeRejectPlan:
		var p feedbackParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.office.RejectPlan(p.Feedback)
		return nil, nil

	case protocol.MethodOfficeInject:
		var p textParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.office.InjectInstruction(p.Text)
		return nil, nil

	case protocol.MethodOfficeClarify:
		var p textParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.office.RespondToClarification(p.Text)
		return nil, nil

	case protocol.MethodOfficePause:
		d.office.Pause()
		return nil, nil

	case protocol.MethodOfficeResume:
		d.office.Resume()
		return nil, nil

	case protocol.MethodOfficeStop:
		d.office.Stop()
		return nil, nil

	case protocol.MethodOfficeReset:
		d.office.Reset()
		return nil, nil

	case protocol.MethodOfficeSetInterval:
		var p intervalParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := d.office.UpdateCheckInterval(p.Minutes); err != nil {
			return nil, err
		}
		return nil, nil

	case protocol.MethodOfficeReports:
		return d.office.Reports(), nil

	case protocol.MethodOfficeEvents:
		return d.office.Events().All(), nil

	case protocol.MethodPanelStart:
		var p panelStartParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		if err := d.panel.Start(p.Prompt); err != nil {
			return nil, err
		}
		return map[string]any{"session_id": d.panel.SessionID()}, nil

	case protocol.MethodPanelSend:
		var p textParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.panel.SendUserMessage(p.Text)
		return nil, nil

	case protocol.MethodPanelApprove:
		d.panel.Approve()
		return nil, nil

	case protocol.MethodPanelReject:
		var p feedbackParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.panel.Reject(p.Feedback)
		return nil, nil

	case protocol.MethodPanelPause:
		d.panel.Pause()
		return nil, nil

	case protocol.MethodPanelResume:
		d.panel.Resume()
		return nil, nil

	case protocol.MethodPanelStop:
		d.panel.Stop()
		return nil, nil

	case protocol.MethodPanelReset:
		d.panel.Reset()
		return nil, nil

	case protocol.MethodPanelFollowUp:
		var p followupParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		answer, err := d.panel.FollowUp(ctx, p.Question)
		if err != nil {
			return nil, err
		}
		return map[string]any{"answer": answer}, nil

	case protocol.MethodApprovalRequest:
		var req approval.Request
		if err := unmarshalParams(params, &req); err != nil {
			return nil, err
		}
		if req.ToolName == "" {
			return nil, fmt.Errorf("tool_name is required")
		}
		fut := d.broker.RequestApproval(ctx, req)
		select {
		case resp := <-fut.Done():
			return resp, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	case protocol.MethodApprovalResolve:
		var p resolveParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		d.broker.Resolve(p.RequestID, approval.Response{
			Approved:         p.Approved,
			Scope:            parseScope(p.Scope),
			RememberDecision: p.RememberDecision,
			Reason:           p.Reason,
		})
		return nil, nil

	case protocol.MethodApprovalRules:
		return d.broker.Rules().GlobalRules(), nil

	case protocol.MethodConnect, protocol.MethodHealth:
		return map[string]any{"status": "ok", "protocol": protocol.ProtocolVersion}, nil

	case protocol.MethodStatus:
		officeStatus := map[string]any{
			"phase":     d.office.Phase(),
			"iteration": d.office.Iteration(),
			"run_id":    d.office.RunID(),
		}
		if report, ok := d.office.LastReport(); ok {
			officeStatus["last_report"] = report
		}
		return map[string]any{
			"office": officeStatus,
			"panel": map[string]any{
				"phase":      d.panel.Phase(),
				"turn":       d.panel.Turn(),
				"session_id": d.panel.SessionID(),
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func unmarshalParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func parseScope(s string) approval.Scope {
	switch approval.Scope(s) {
	case approval.ScopeSession:
		return approval.ScopeSession
	case approval.ScopeGlobal:
		return approval.ScopeGlobal
	default:
		return approval.ScopeOnce
	}
}
