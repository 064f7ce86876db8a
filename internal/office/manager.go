// Package office runs the cyclic manager: plan, delegate to the
// assistant pool, aggregate, rest, repeat until stopped.
package office

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/internal/pool"
	"github.com/rashmirrout/pilotdesk/internal/schedule"
	"github.com/rashmirrout/pilotdesk/internal/store"
)

// planDecision is the user's answer to a plan awaiting approval.
type planDecision struct {
	approved bool
	feedback string
}

// Manager owns one office run at a time. All commands are safe to call
// from any goroutine; commands that do not match the current phase are
// no-ops.
type Manager struct {
	client copilot.Client
	state  store.StateStore
	sink   func(Event) // forwarded to the bus, never nil

	log       *EventLog
	pool      *pool.Pool
	countdown *schedule.Countdown
	reports   *reportRing

	mu          sync.Mutex
	phase       Phase
	cfg         config.OfficeConfig
	runID       string
	sessionID   string
	iteration   int
	plan        string
	lastSummary string
	clarify     *clarifyGate
	approvalCh  chan planDecision
	runCancel   context.CancelFunc
	runCtx      context.Context
	loopDone    chan struct{}

	injectMu sync.Mutex
	injected []string

	pause pauseGate
}

// NewManager creates an idle manager. sink may be nil.
func NewManager(client copilot.Client, state store.StateStore, sink func(Event)) *Manager {
	m := &Manager{
		client:  client,
		state:   state,
		sink:    sink,
		log:     NewEventLog(),
		reports: &reportRing{},
		phase:   PhaseIdle,
	}
	if m.sink == nil {
		m.sink = func(Event) {}
	}
	m.pool = pool.New(client, m.onTaskEvent)
	m.countdown = schedule.NewCountdown(m.onRestTick)
	return m
}

// Phase returns the current FSM phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Iteration returns the current iteration number, starting at 1.
func (m *Manager) Iteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.iteration
}

// RunID identifies the active (or last) run.
func (m *Manager) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// Events exposes the append-only event log.
func (m *Manager) Events() *EventLog { return m.log }

// Reports returns the retained iteration reports, oldest first.
func (m *Manager) Reports() []IterationReport { return m.reports.snapshot() }

// LastReport returns the most recent iteration report, if any.
func (m *Manager) LastReport() (IterationReport, bool) { return m.reports.last() }

// Start begins a run. Returns an error for invalid config or when a run
// is already active.
func (m *Manager) Start(cfg config.OfficeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("office: run already active in phase %s", m.phase)
	}
	m.cfg = cfg
	m.runID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	m.sessionID = "manager-" + m.runID
	m.iteration = 0
	m.plan = ""
	m.lastSummary = ""
	m.approvalCh = make(chan planDecision, 1)
	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	m.loopDone = make(chan struct{})
	// Mark the run active before releasing the lock so a concurrent Start
	// cannot pass the guard and orphan this run's cancel anchor.
	ev, _ := m.transitionLocked(PhasePlanning)
	runID := m.runID
	m.mu.Unlock()

	m.publishTransition(ev)
	slog.Info("office: run starting", "run", runID, "objective", cfg.Objective)
	go m.run()
	return nil
}

func (m *Manager) run() {
	defer close(m.loopDone)

	m.mu.Lock()
	cfg := m.cfg
	sessionID := m.sessionID
	m.mu.Unlock()

	opts := copilot.SessionOptions{
		Model:        cfg.ManagerModel,
		SystemPrompt: managerSystemPrompt(cfg),
		MCPServers:   cfg.MCPServers,
		Skills:       cfg.Skills,
		Autonomous:   cfg.Autonomous,
	}
	if err := m.client.CreateSession(sessionID, opts); err != nil {
		m.fail(fmt.Errorf("create manager session: %w", err))
		return
	}
	m.saveMeta()

	if !m.preparePlan() {
		return
	}
	m.loop()
}

// preparePlan drives Planning, Clarifying, and AwaitingApproval until a
// plan is accepted. Returns false when the run ended instead.
func (m *Manager) preparePlan() bool {
	feedback := ""
	for {
		plan, ok := m.generatePlan(feedback)
		if !ok {
			return false
		}
		m.mu.Lock()
		m.plan = plan
		approval := m.cfg.RequirePlanApproval
		ch := m.approvalCh
		m.mu.Unlock()

		m.emitChat(plan)
		if !approval {
			return true
		}

		m.transition(PhaseAwaitingApproval)
		select {
		case d := <-ch:
			if d.approved {
				return true
			}
			feedback = d.feedback
		case <-m.runCtx.Done():
			return false
		}
	}
}

// generatePlan asks the manager model for a plan, handling clarification
// round-trips. The clarification answer path transitions back to
// Planning before the awaiter resumes.
func (m *Manager) generatePlan(feedback string) (string, bool) {
	m.transition(PhasePlanning)
	prompt := planPrompt(m.cfg, feedback)

	for {
		reply, err := m.client.SendBlocking(m.runCtx, m.sessionID, prompt)
		if err != nil {
			if m.runCtx.Err() != nil {
				return "", false
			}
			m.fail(fmt.Errorf("plan generation: %w", err))
			return "", false
		}

		question, needsClarification := parseClarification(reply.Content)
		if !needsClarification {
			return strings.TrimSpace(reply.Content), true
		}

		gate := newClarifyGate(question)
		m.mu.Lock()
		m.clarify = gate
		m.mu.Unlock()
		m.transition(PhaseClarifying)
		m.emitChat(question)

		select {
		case answer := <-gate.reply:
			prompt = clarificationFollowup(answer)
		case <-m.runCtx.Done():
			return "", false
		}
	}
}

func (m *Manager) loop() {
	for {
		if m.runCtx.Err() != nil {
			return
		}

		if m.pause.armed() {
			m.transition(PhasePaused)
			if err := m.pause.wait(m.runCtx); err != nil {
				return
			}
		}

		m.mu.Lock()
		m.iteration++
		iter := m.iteration
		cfg := m.cfg
		plan := m.plan
		lastSummary := m.lastSummary
		m.mu.Unlock()

		instructions := m.drainInstructions()

		m.transition(PhaseFetchingEvents)
		tasks, ok := m.planIteration(cfg, plan, lastSummary, instructions, iter)
		if !ok {
			return
		}

		if len(tasks) == 0 {
			m.emitCommentary("No tasks for this iteration.")
		} else {
			m.transition(PhaseScheduling)
			scheduling := make([]string, 0, len(tasks))
			for _, t := range tasks {
				msg := fmt.Sprintf("Scheduled %q (priority %d)", t.Title, t.Priority)
				scheduling = append(scheduling, msg)
				m.emitScheduling(msg, t.ID)
			}

			m.transition(PhaseExecuting)
			results := m.pool.ExecuteTasks(m.runCtx, tasks, pool.Config{
				MaxAssistants:  cfg.MaxAssistants,
				TimeoutSeconds: cfg.AssistantTimeoutSeconds,
				Model:          cfg.AssistantModel,
				MCPServers:     cfg.MCPServers,
				Skills:         cfg.Skills,
				Autonomous:     cfg.Autonomous,
			})
			if m.runCtx.Err() != nil {
				return
			}

			m.transition(PhaseAggregating)
			summary := m.aggregate(results, instructions)
			m.mu.Lock()
			m.lastSummary = summary
			m.mu.Unlock()

			m.reports.add(buildReport(iter, results, summary, instructions, scheduling))
			m.emitChat(summary)
			m.emit(Event{Type: EventIterationCompleted, Message: summary})
			m.saveMeta()
		}

		m.transition(PhaseResting)
		m.mu.Lock()
		minutes := m.cfg.CheckIntervalMinutes
		m.mu.Unlock()
		for {
			res := m.countdown.Wait(m.runCtx, minutes)
			if res == schedule.WaitOverridden {
				if next, ok := m.countdown.PendingOverride(); ok {
					minutes = next
					continue
				}
			}
			break
		}
	}
}

// planIteration asks the manager model for this iteration's tasks.
// Unparseable responses fall back to generic tasks; an explicit empty
// array means a deliberate no-task iteration.
func (m *Manager) planIteration(cfg config.OfficeConfig, plan, lastSummary string, instructions []string, iter int) ([]pool.AssistantTask, bool) {
	prompt := iterationPrompt(cfg, plan, lastSummary, instructions, iter)
	reply, err := m.client.SendBlocking(m.runCtx, m.sessionID, prompt)
	if err != nil {
		if m.runCtx.Err() != nil {
			return nil, false
		}
		m.fail(fmt.Errorf("iteration planning: %w", err))
		return nil, false
	}

	specs, perr := parseTasks(reply.Content)
	if perr != nil {
		slog.Warn("office: task planning unparseable, using fallback", "run", m.runID, "error", perr)
		m.emitCommentary("Task planning response was not parseable; dispatching generic tasks.")
		specs = fallbackTasks(cfg.Objective)
	}

	tasks := make([]pool.AssistantTask, 0, len(specs))
	for _, s := range specs {
		tasks = append(tasks, pool.NewTask(iter, s.Title, s.Prompt, s.Priority))
	}
	return tasks, true
}

func (m *Manager) aggregate(results []pool.AssistantResult, instructions []string) string {
	reply, err := m.client.SendBlocking(m.runCtx, m.sessionID, aggregationPrompt(results, instructions))
	if err != nil || strings.TrimSpace(reply.Content) == "" {
		if err != nil {
			slog.Warn("office: aggregation failed, using fallback summary", "run", m.runID, "error", err)
		}
		return fallbackAggregation(results)
	}
	return strings.TrimSpace(reply.Content)
}

// ApprovePlan accepts the pending plan. No-op outside AwaitingApproval.
func (m *Manager) ApprovePlan() {
	m.resolvePlan(planDecision{approved: true})
}

// RejectPlan sends the plan back for revision with feedback. No-op
// outside AwaitingApproval.
func (m *Manager) RejectPlan(feedback string) {
	m.resolvePlan(planDecision{feedback: feedback})
}

func (m *Manager) resolvePlan(d planDecision) {
	m.mu.Lock()
	if m.phase != PhaseAwaitingApproval {
		m.mu.Unlock()
		return
	}
	ch := m.approvalCh
	m.mu.Unlock()

	select {
	case ch <- d:
	default:
	}
}

// RespondToClarification answers the pending clarification question.
// The phase moves back to Planning before the answer is delivered, so
// the awaiter always resumes in Planning. No-op outside Clarifying.
func (m *Manager) RespondToClarification(answer string) {
	m.mu.Lock()
	if m.phase != PhaseClarifying || m.clarify == nil {
		m.mu.Unlock()
		return
	}
	gate := m.clarify
	m.clarify = nil
	m.mu.Unlock()

	m.transition(PhasePlanning)
	gate.deliver(answer)
}

// InjectInstruction queues a user instruction for the next iteration.
// The queue is drained exactly once per iteration.
func (m *Manager) InjectInstruction(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	m.injectMu.Lock()
	m.injected = append(m.injected, text)
	m.injectMu.Unlock()
	m.emitCommentary("Instruction queued for the next iteration.")
}

func (m *Manager) drainInstructions() []string {
	m.injectMu.Lock()
	defer m.injectMu.Unlock()
	out := m.injected
	m.injected = nil
	return out
}

// Pause arms the pause gate; the run pauses at the next iteration
// boundary. Pausing during rest cuts the rest short so the pause takes
// effect promptly.
func (m *Manager) Pause() {
	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()
	if phase == PhaseIdle || phase.terminal() || phase == PhasePaused {
		return
	}

	m.pause.arm()
	m.emitCommentary("Pause requested; pausing at the next iteration boundary.")
	if phase == PhaseResting {
		m.countdown.CancelRest()
	}
}

// Resume releases the pause gate. No-op when not paused.
func (m *Manager) Resume() {
	if !m.pause.armed() {
		return
	}
	m.pause.release()
	m.emitCommentary("Resumed.")
}

// UpdateCheckInterval changes the rest interval. Takes effect
// immediately when the run is resting, otherwise at the next rest.
func (m *Manager) UpdateCheckInterval(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("office: check interval must be >= 1 minute, got %d", minutes)
	}
	m.mu.Lock()
	m.cfg.CheckIntervalMinutes = minutes
	resting := m.phase == PhaseResting
	m.mu.Unlock()

	if resting {
		m.countdown.OverrideRest(minutes)
	}
	return nil
}

// Stop ends the run: cancels the loop and all assistants, releases every
// gate, waits for the loop to drain, and terminates the manager session.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.phase == PhaseIdle || m.phase.terminal() {
		m.mu.Unlock()
		return
	}
	cancel := m.runCancel
	done := m.loopDone
	sessionID := m.sessionID
	m.clarify = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.pause.release()
	m.countdown.CancelRest()
	m.pool.CancelAll()

	if done != nil {
		<-done
	}

	if err := m.client.TerminateSession(sessionID); err != nil && !errors.Is(err, copilot.ErrUnknownSession) {
		slog.Warn("office: terminate manager session failed", "session", sessionID, "error", err)
	}

	m.mu.Lock()
	alreadyTerminal := m.phase.terminal()
	m.mu.Unlock()
	if !alreadyTerminal {
		m.transition(PhaseStopped)
	}
	m.saveMetaCompleted()
	slog.Info("office: run stopped", "run", m.runID)
}

// Reset stops any active run and returns to Idle with cleared history.
func (m *Manager) Reset() {
	m.Stop()

	m.log.Clear()
	m.reports.clear()
	m.injectMu.Lock()
	m.injected = nil
	m.injectMu.Unlock()

	m.mu.Lock()
	m.iteration = 0
	m.plan = ""
	m.lastSummary = ""
	m.mu.Unlock()

	m.transition(PhaseIdle)
}

// fail moves the run to the Error phase.
func (m *Manager) fail(err error) {
	slog.Error("office: run failed", "run", m.runID, "error", err)
	m.emit(Event{Type: EventError, Message: err.Error()})
	m.transition(PhaseError)

	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()
	if terr := m.client.TerminateSession(sessionID); terr != nil && !errors.Is(terr, copilot.ErrUnknownSession) {
		slog.Warn("office: terminate manager session failed", "session", sessionID, "error", terr)
	}
}

func (m *Manager) transition(next Phase) {
	m.mu.Lock()
	ev, changed := m.transitionLocked(next)
	m.mu.Unlock()
	if changed {
		m.publishTransition(ev)
	}
}

// transitionLocked updates the phase with m.mu held and returns the event
// to publish. changed is false when the phase is already next.
func (m *Manager) transitionLocked(next Phase) (Event, bool) {
	prev := m.phase
	if prev == next {
		return Event{}, false
	}
	m.phase = next
	return Event{
		Type:          EventPhaseChanged,
		Iteration:     m.iteration,
		Timestamp:     time.Now().UTC(),
		PreviousPhase: prev,
		NewPhase:      next,
	}, true
}

func (m *Manager) publishTransition(ev Event) {
	slog.Debug("office: phase changed", "run", m.runID, "from", ev.PreviousPhase, "to", ev.NewPhase)
	m.log.Log(ev)
	m.sink(ev)
}

// emit stamps iteration and timestamp, logs, and forwards to the sink.
func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	ev.Iteration = m.iteration
	m.mu.Unlock()
	ev.Timestamp = time.Now().UTC()
	m.log.Log(ev)
	m.sink(ev)
}

func (m *Manager) emitChat(msg string) {
	m.emit(Event{Type: EventChatMessage, Message: msg})
}

func (m *Manager) emitCommentary(msg string) {
	m.emit(Event{Type: EventCommentary, Message: msg})
}

func (m *Manager) emitScheduling(msg, taskID string) {
	m.emit(Event{Type: EventScheduling, Message: msg, TaskID: taskID})
}

func (m *Manager) onRestTick(remaining, total int) {
	m.emit(Event{Type: EventRestCountdown, SecondsRemaining: remaining, TotalSeconds: total})
}

func (m *Manager) onTaskEvent(ev pool.TaskEvent) {
	switch ev.Kind {
	case pool.TaskDispatched:
		m.emitCommentary(fmt.Sprintf("Dispatched task %q", ev.Task.Title))
	case pool.TaskStarted:
		m.emit(Event{Type: EventAssistantStarted, TaskID: ev.Task.ID, Message: ev.Task.Title})
	case pool.TaskProgress:
		m.emit(Event{Type: EventAssistantProgress, TaskID: ev.Task.ID, Detail: ev.Detail})
	case pool.TaskCompleted:
		m.emit(Event{Type: EventAssistantCompleted, TaskID: ev.Task.ID, Message: ev.Task.Title})
	case pool.TaskFailed, pool.TaskTimedOut, pool.TaskCancelled:
		m.emit(Event{Type: EventAssistantFailed, TaskID: ev.Task.ID, Message: ev.Task.Title, Detail: ev.Detail})
	}
}

func (m *Manager) saveMeta() {
	if m.state == nil {
		return
	}
	m.mu.Lock()
	meta := store.SessionMeta{
		ID:         m.sessionID,
		Kind:       "office",
		Objective:  m.cfg.Objective,
		Model:      m.cfg.ManagerModel,
		CreatedAt:  time.Now().UTC(),
		Iterations: m.iteration,
	}
	m.mu.Unlock()

	var existing store.SessionMeta
	if err := m.state.Get(store.BucketSessions, meta.ID, &existing); err == nil {
		meta.CreatedAt = existing.CreatedAt
	}
	if err := m.state.Put(store.BucketSessions, meta.ID, meta); err != nil {
		slog.Warn("office: persist session meta failed", "session", meta.ID, "error", err)
	}
}

func (m *Manager) saveMetaCompleted() {
	if m.state == nil {
		return
	}
	m.mu.Lock()
	id := m.sessionID
	iters := m.iteration
	m.mu.Unlock()
	if id == "" {
		return
	}

	var meta store.SessionMeta
	if err := m.state.Get(store.BucketSessions, id, &meta); err != nil {
		return
	}
	meta.CompletedAt = time.Now().UTC()
	meta.Iterations = iters
	if err := m.state.Put(store.BucketSessions, id, meta); err != nil {
		slog.Warn("office: persist session meta failed", "session", id, "error", err)
	}
}
