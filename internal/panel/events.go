package panel

import (
	"time"

	"github.com/rashmirrout/pilotdesk/internal/events"
)

// EventType is the panel event taxonomy, disjoint from the office's.
type EventType string

const (
	EventPhaseChanged  EventType = "phase.changed"
	EventAgentMessage  EventType = "agent.message"
	EventAgentStatus   EventType = "agent.status"
	EventProgress      EventType = "progress"
	EventTurnCompleted EventType = "turn.completed"
	EventError         EventType = "error"
)

// AgentStatus values carried by EventAgentStatus.
const (
	StatusThinking = "thinking"
	StatusIdle     = "idle"
)

// Event is one immutable panel event record. Timestamps are UTC.
type Event struct {
	Type      EventType `json:"type"`
	Turn      int       `json:"turn"`
	Timestamp time.Time `json:"timestamp"`

	PreviousPhase Phase `json:"previous_phase,omitempty"`
	NewPhase      Phase `json:"new_phase,omitempty"`

	AgentID   int    `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	AgentRole Role   `json:"agent_role,omitempty"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// EventLog is the panel view over the append-only log.
type EventLog struct {
	log *events.Log[Event]
}

func NewEventLog() *EventLog {
	return &EventLog{log: events.NewLog[Event]()}
}

func (l *EventLog) Log(ev Event) { l.log.Append(ev) }

func (l *EventLog) All() []Event { return l.log.Snapshot() }

func (l *EventLog) ByTurn(n int) []Event {
	return l.log.Filter(func(e Event) bool { return e.Turn == n })
}

func (l *EventLog) ByType(t EventType) []Event {
	return l.log.Filter(func(e Event) bool { return e.Type == t })
}

func (l *EventLog) Clear() { l.log.Clear() }
