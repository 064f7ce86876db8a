package panel

// Phase is the panel FSM state. A discussion is finite: it ends in
// Completed, Stopped, or Failed.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseClarifying       Phase = "clarifying"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhasePreparing        Phase = "preparing"
	PhaseRunning          Phase = "running"
	PhasePaused           Phase = "paused"
	PhaseConverging       Phase = "converging"
	PhaseSynthesizing     Phase = "synthesizing"
	PhaseCompleted        Phase = "completed"
	PhaseStopped          Phase = "stopped"
	PhaseFailed           Phase = "failed"
)

func (p Phase) terminal() bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// active reports whether a discussion loop may be in flight.
func (p Phase) active() bool {
	return p == PhaseRunning || p == PhasePaused
}
