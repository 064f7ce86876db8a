package office

import (
	"time"

	"github.com/rashmirrout/pilotdesk/internal/events"
)

// EventType is the office event taxonomy. It is intentionally disjoint
// from the panel's.
type EventType string

const (
	EventPhaseChanged       EventType = "phase.changed"
	EventChatMessage        EventType = "chat.message"
	EventCommentary         EventType = "commentary"
	EventScheduling         EventType = "scheduling"
	EventAssistantStarted   EventType = "assistant.started"
	EventAssistantProgress  EventType = "assistant.progress"
	EventAssistantCompleted EventType = "assistant.completed"
	EventAssistantFailed    EventType = "assistant.failed"
	EventRestCountdown      EventType = "rest.countdown"
	EventIterationCompleted EventType = "iteration.completed"
	EventError              EventType = "error"
)

// Event is one immutable office event record. Timestamps are UTC.
type Event struct {
	Type      EventType `json:"type"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`

	// PhaseChanged
	PreviousPhase Phase `json:"previous_phase,omitempty"`
	NewPhase      Phase `json:"new_phase,omitempty"`

	// ChatMessage / Commentary / Scheduling / Error
	Message string `json:"message,omitempty"`

	// Assistant lifecycle
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail,omitempty"`

	// RestCountdown
	SecondsRemaining int `json:"seconds_remaining,omitempty"`
	TotalSeconds     int `json:"total_seconds,omitempty"`
}

// EventLog is the office view over the append-only log.
type EventLog struct {
	log *events.Log[Event]
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{log: events.NewLog[Event]()}
}

// Log appends an event.
func (l *EventLog) Log(ev Event) { l.log.Append(ev) }

// All returns a snapshot of every event in append order.
func (l *EventLog) All() []Event { return l.log.Snapshot() }

// ByIteration returns the events of one iteration.
func (l *EventLog) ByIteration(n int) []Event {
	return l.log.Filter(func(e Event) bool { return e.Iteration == n })
}

// ByType returns the events of one type.
func (l *EventLog) ByType(t EventType) []Event {
	return l.log.Filter(func(e Event) bool { return e.Type == t })
}

// SchedulingLog returns the scheduling decision trail.
func (l *EventLog) SchedulingLog() []Event { return l.ByType(EventScheduling) }

// Clear removes all events.
func (l *EventLog) Clear() { l.log.Clear() }
