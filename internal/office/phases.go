package office

// Phase is the manager FSM state. Transitions are totally ordered per
// manager instance and every change emits a PhaseChanged event.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseClarifying       Phase = "clarifying"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseFetchingEvents   Phase = "fetching_events"
	PhaseScheduling       Phase = "scheduling"
	PhaseExecuting        Phase = "executing"
	PhaseAggregating      Phase = "aggregating"
	PhaseResting          Phase = "resting"
	PhasePaused           Phase = "paused"
	PhaseStopped          Phase = "stopped"
	PhaseError            Phase = "error"
)

// terminal reports whether the phase ends a run.
func (p Phase) terminal() bool {
	return p == PhaseStopped || p == PhaseError
}
