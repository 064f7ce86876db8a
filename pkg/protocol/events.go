package protocol

// WebSocket event names pushed from server to client.
const (
	EventOffice   = "office"
	EventPanel    = "panel"
	EventHealth   = "health"
	EventTick     = "tick"
	EventCost     = "cost"
	EventShutdown = "shutdown"

	// Tool approval events (payload: approval.Request / approval.Response).
	EventApprovalRequested = "approval.requested"
	EventApprovalResolved  = "approval.resolved"
	EventApprovalEscalated = "approval.escalated"
)

// Office event subtypes (in payload.type)
const (
	OfficeEventPhaseChanged       = "phase.changed"
	OfficeEventChatMessage        = "chat.message"
	OfficeEventCommentary         = "commentary"
	OfficeEventScheduling         = "scheduling"
	OfficeEventAssistantStarted   = "assistant.started"
	OfficeEventAssistantProgress  = "assistant.progress"
	OfficeEventAssistantCompleted = "assistant.completed"
	OfficeEventAssistantFailed    = "assistant.failed"
	OfficeEventRestCountdown      = "rest.countdown"
	OfficeEventIterationCompleted = "iteration.completed"
	OfficeEventError              = "error"
)

// Panel event subtypes (in payload.type)
const (
	PanelEventPhaseChanged = "phase.changed"
	PanelEventAgentMessage = "agent.message"
	PanelEventAgentStatus  = "agent.status"
	PanelEventProgress     = "progress"
	PanelEventTurn         = "turn.completed"
	PanelEventError        = "error"
)
