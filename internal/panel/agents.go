package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// agentCore is the shared agent shape: identity, a session handle, and a
// publish-only event sink. Agents never hold a pointer back to the
// orchestrator.
type agentCore struct {
	id        int
	name      string
	role      Role
	client    copilot.Client
	sessionID string
	sink      func(Event)
}

func (a *agentCore) emitStatus(status string) {
	a.sink(Event{
		Type:      EventAgentStatus,
		AgentID:   a.id,
		AgentName: a.name,
		AgentRole: a.role,
		Status:    status,
	})
}

// dispose terminates the agent's session. Termination failures are
// logged and swallowed.
func (a *agentCore) dispose() {
	if a.sessionID == "" {
		return
	}
	if err := a.client.TerminateSession(a.sessionID); err != nil && !errors.Is(err, copilot.ErrUnknownSession) {
		slog.Warn("panel: terminate agent session failed", "agent", a.name, "session", a.sessionID, "error", err)
	}
	a.sessionID = ""
}

// Head drives intake and synthesis over one long-lived session.
type Head struct {
	agentCore
}

// NewHead creates the head and its session.
func NewHead(client copilot.Client, sink func(Event), sessionID, model string) (*Head, error) {
	h := &Head{agentCore: agentCore{
		id: 100, name: "Head", role: RoleHead,
		client: client, sessionID: sessionID, sink: sink,
	}}
	opts := copilot.SessionOptions{
		Model:        model,
		SystemPrompt: headSystemPrompt,
	}
	if err := client.CreateSession(sessionID, opts); err != nil {
		return nil, fmt.Errorf("create head session: %w", err)
	}
	return h, nil
}

// Clarify sends the user's opening prompt (or a follow-up answer during
// clarification) and returns the head's raw reply.
func (h *Head) Clarify(ctx context.Context, text string) (string, error) {
	h.emitStatus(StatusThinking)
	defer h.emitStatus(StatusIdle)
	reply, err := h.client.SendBlocking(ctx, h.sessionID, text)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// ComposeTopic asks the head to distill the clarification exchange into
// a topic of discussion.
func (h *Head) ComposeTopic(ctx context.Context) (string, error) {
	h.emitStatus(StatusThinking)
	defer h.emitStatus(StatusIdle)
	reply, err := h.client.SendBlocking(ctx, h.sessionID, composeTopicPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Content), nil
}

// Synthesize produces the final structured report from the compressed
// transcript.
func (h *Head) Synthesize(ctx context.Context, topic, compressed string) (string, error) {
	h.emitStatus(StatusThinking)
	defer h.emitStatus(StatusIdle)
	reply, err := h.client.SendBlocking(ctx, h.sessionID, synthesisPrompt(topic, compressed))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Content), nil
}

// Panelist argues one perspective over its own session.
type Panelist struct {
	agentCore
	profile Profile
}

// NewPanelist creates a panelist and its session.
func NewPanelist(client copilot.Client, sink func(Event), sessionID, model string, profile Profile) (*Panelist, error) {
	p := &Panelist{
		agentCore: agentCore{
			id: profile.ID, name: profile.Name, role: RolePanelist,
			client: client, sessionID: sessionID, sink: sink,
		},
		profile: profile,
	}
	opts := copilot.SessionOptions{
		Model:        model,
		SystemPrompt: panelistSystemPrompt(profile),
	}
	if err := client.CreateSession(sessionID, opts); err != nil {
		return nil, fmt.Errorf("create panelist session: %w", err)
	}
	return p, nil
}

// Name returns the panelist's display name, which moderator decisions
// reference.
func (p *Panelist) Name() string { return p.name }

// Process produces this panelist's next argument given the topic and the
// recent transcript. redirect, when set, is a moderator instruction the
// panelist must address.
func (p *Panelist) Process(ctx context.Context, topic string, recent []Message, redirect string) (string, error) {
	p.emitStatus(StatusThinking)
	defer p.emitStatus(StatusIdle)

	reply, err := p.client.SendBlocking(ctx, p.sessionID, panelistTurnPrompt(topic, recent, redirect))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Content), nil
}
