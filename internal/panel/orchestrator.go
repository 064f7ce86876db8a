package panel

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
	"github.com/rashmirrout/pilotdesk/internal/store"
)

// recentWindow is how many transcript messages agents see per turn.
const recentWindow = 12

var depthMarker = regexp.MustCompile(`(?i)DISCUSSION_DEPTH:\s*(quick|standard|deep)`)

// clearPrefix marks a head reply that ends clarification.
const clearPrefix = "clear:"

// pauseGate is a re-armable one-shot, open by default.
type pauseGate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *pauseGate) arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *pauseGate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

func (g *pauseGate) armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil
}

func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Orchestrator owns one panel discussion at a time: the head, the
// moderator, the panelists, their sessions, and the transcript.
type Orchestrator struct {
	client   copilot.Client
	state    store.StateStore
	sink     func(Event)
	log      *EventLog
	settings config.PanelSettings

	mu             sync.Mutex
	phase          Phase
	run            config.PanelSettings // effective settings for this run
	sessionID      string
	topic          string
	head           *Head
	moderator      *Moderator
	panelists      []*Panelist
	transcript     []Message
	turn           int
	approxTokens   int
	synthesis      string
	brief          *KnowledgeBrief
	firstHeadReply bool
	lastTransition time.Time
	runCtx         context.Context
	runCancel      context.CancelFunc
	loopDone       chan struct{}

	pause pauseGate
}

// NewOrchestrator creates an idle orchestrator. sink may be nil.
func NewOrchestrator(client copilot.Client, state store.StateStore, settings config.PanelSettings, sink func(Event)) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		state:          state,
		sink:           sink,
		log:            NewEventLog(),
		settings:       settings,
		phase:          PhaseIdle,
		lastTransition: time.Now().UTC(),
	}
	if o.sink == nil {
		o.sink = func(Event) {}
	}
	return o
}

// Phase returns the current FSM phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Turn returns the current turn number.
func (o *Orchestrator) Turn() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn
}

// SessionID identifies the active (or last) discussion.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Topic returns the approved topic of discussion.
func (o *Orchestrator) Topic() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topic
}

// Transcript returns a copy of the message transcript.
func (o *Orchestrator) Transcript() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.transcript))
	copy(out, o.transcript)
	return out
}

// Synthesis returns the final report, empty before Completed.
func (o *Orchestrator) Synthesis() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.synthesis
}

// Brief returns the knowledge brief, nil before Completed.
func (o *Orchestrator) Brief() *KnowledgeBrief {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.brief
}

// Events exposes the append-only event log.
func (o *Orchestrator) Events() *EventLog { return o.log }

// LastTransition is the time of the last phase change, observed by the
// zombie cleanup watcher.
func (o *Orchestrator) LastTransition() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastTransition
}

// Start opens a discussion: creates the head session and begins the
// clarification exchange. No-op error when a discussion is active.
func (o *Orchestrator) Start(prompt string) error {
	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return fmt.Errorf("panel: discussion already active in phase %s", o.phase)
	}
	o.sessionID = "panel-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	o.run = o.settings
	o.firstHeadReply = true
	o.runCtx, o.runCancel = context.WithCancel(context.Background())
	// A manual depth override applies before any head reply.
	if o.run.DiscussionDepthOverride != "" && o.run.DiscussionDepthOverride != config.DepthAuto {
		o.run.ApplyDepth(o.run.DiscussionDepthOverride)
	}
	// Mark the discussion active before releasing the lock so a concurrent
	// Start cannot pass the guard.
	ev, _ := o.transitionLocked(PhaseClarifying)
	sessionID := o.sessionID
	model := o.run.PrimaryModel
	o.mu.Unlock()
	o.publishTransition(ev)

	head, err := NewHead(o.client, o.emit, sessionID+"-head", model)
	if err != nil {
		o.mu.Lock()
		cancel := o.runCancel
		o.runCtx, o.runCancel = nil, nil
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		o.transition(PhaseIdle)
		return err
	}
	o.mu.Lock()
	o.head = head
	o.mu.Unlock()

	o.appendMessage(Message{AuthorName: "User", Content: prompt, Type: TypeUserMessage})
	o.saveMeta()

	go o.clarifyStep(clarifyOpeningPrompt(prompt))
	return nil
}

// SendUserMessage continues the clarification exchange. No-op outside
// Clarifying.
func (o *Orchestrator) SendUserMessage(text string) {
	o.mu.Lock()
	if o.phase != PhaseClarifying {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.appendMessage(Message{AuthorName: "User", Content: text, Type: TypeUserMessage})
	go o.clarifyStep(text)
}

func (o *Orchestrator) clarifyStep(text string) {
	o.mu.Lock()
	head := o.head
	ctx := o.runCtx
	o.mu.Unlock()
	if head == nil || ctx == nil {
		return
	}

	reply, err := head.Clarify(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(fmt.Errorf("clarification: %w", err))
		return
	}
	o.handleHeadReply(ctx, reply)
}

func (o *Orchestrator) handleHeadReply(ctx context.Context, reply string) {
	o.mu.Lock()
	first := o.firstHeadReply
	o.firstHeadReply = false
	override := o.run.DiscussionDepthOverride
	o.mu.Unlock()

	// The depth marker in the head's first reply sizes the discussion,
	// unless a manual override already did.
	if first && (override == "" || override == config.DepthAuto) {
		if m := depthMarker.FindStringSubmatch(reply); m != nil {
			depth := config.ParseDepth(m[1])
			o.mu.Lock()
			o.run.ApplyDepth(depth)
			o.mu.Unlock()
			slog.Info("panel: discussion depth detected", "depth", depth)
		}
	}

	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(strings.ToLower(trimmed), clearPrefix) {
		o.appendMessage(Message{AuthorID: 100, AuthorName: "Head", AuthorRole: RoleHead, Content: trimmed, Type: TypeClarification})
		o.emit(Event{Type: EventAgentMessage, AgentID: 100, AgentName: "Head", AgentRole: RoleHead, Message: trimmed})
		return
	}

	o.mu.Lock()
	head := o.head
	o.mu.Unlock()
	topic, err := head.ComposeTopic(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.fail(fmt.Errorf("compose topic: %w", err))
		return
	}

	o.mu.Lock()
	o.topic = topic
	o.mu.Unlock()
	o.appendMessage(Message{AuthorID: 100, AuthorName: "Head", AuthorRole: RoleHead, Content: topic, Type: TypeTopicOfDiscussion})
	o.emit(Event{Type: EventAgentMessage, AgentID: 100, AgentName: "Head", AgentRole: RoleHead, Message: topic})
	o.transition(PhaseAwaitingApproval)
}

// Approve accepts the topic and starts the discussion. No-op outside
// AwaitingApproval.
func (o *Orchestrator) Approve() {
	o.mu.Lock()
	if o.phase != PhaseAwaitingApproval {
		o.mu.Unlock()
		return
	}
	o.loopDone = make(chan struct{})
	// The phase change happens under the guard lock so a concurrent
	// Approve cannot spawn a second discussion loop.
	ev, _ := o.transitionLocked(PhasePreparing)
	o.mu.Unlock()
	o.publishTransition(ev)

	go o.prepareAndRun()
}

// Reject sends the topic back with feedback; the head revises it through
// another clarification round. No-op outside AwaitingApproval.
func (o *Orchestrator) Reject(feedback string) {
	o.mu.Lock()
	if o.phase != PhaseAwaitingApproval {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.transition(PhaseClarifying)
	o.appendMessage(Message{AuthorName: "User", Content: feedback, Type: TypeUserMessage})
	go o.clarifyStep("The user rejected the topic with this feedback. Revise, asking questions if needed, and reply CLEAR: when ready:\n" + feedback)
}

func (o *Orchestrator) prepareAndRun() {
	defer close(o.loopDone)

	o.mu.Lock()
	run := o.run
	sessionID := o.sessionID
	ctx := o.runCtx
	o.mu.Unlock()

	moderator, err := NewModerator(o.client, o.emit, sessionID+"-moderator", run.PrimaryModel, run.MaxTokensPerTurn)
	if err != nil {
		o.fail(err)
		return
	}

	profiles := profilesFor(run.MaxPanelists)
	panelists := make([]*Panelist, 0, len(profiles))
	for _, profile := range profiles {
		id := fmt.Sprintf("%s-panelist-%d", sessionID, profile.ID)
		p, perr := NewPanelist(o.client, o.emit, id, modelFor(profile, run), profile)
		if perr != nil {
			moderator.dispose()
			for _, created := range panelists {
				created.dispose()
			}
			o.fail(perr)
			return
		}
		panelists = append(panelists, p)
	}

	o.mu.Lock()
	o.moderator = moderator
	o.panelists = panelists
	o.mu.Unlock()

	o.transition(PhaseRunning)
	o.loop(ctx)
}

func (o *Orchestrator) loop(ctx context.Context) {
	o.mu.Lock()
	run := o.run
	topic := o.topic
	moderator := o.moderator
	panelists := o.panelists
	o.mu.Unlock()

	names := make([]string, len(panelists))
	for i, p := range panelists {
		names[i] = p.Name()
	}
	detector := NewConvergenceDetector(run.ConvergenceThreshold, run.MaxTurns)

	for {
		if ctx.Err() != nil {
			return
		}
		if o.pause.armed() {
			o.transition(PhasePaused)
			o.emitAllIdle()
			if err := o.pause.wait(ctx); err != nil {
				return
			}
			o.transition(PhaseRunning)
		}

		o.mu.Lock()
		o.turn++
		turn := o.turn
		o.mu.Unlock()
		o.emit(Event{Type: EventProgress, Detail: fmt.Sprintf("turn %d", turn)})

		decision := moderator.Decide(ctx, topic, o.recent(), names, turn)
		if ctx.Err() != nil {
			return
		}
		if decision.StopDiscussion {
			slog.Info("panel: moderator stopped the discussion", "turn", turn, "reason", decision.Reason)
			break
		}

		speakers, parallel := o.selectSpeakers(decision, panelists)
		messages := o.runSpeakers(ctx, speakers, topic, decision.RedirectMessage, parallel)
		if ctx.Err() != nil {
			return
		}

		forced := false
		for _, msg := range messages {
			switch moderator.Validate(msg.Content) {
			case VerdictBlocked:
				slog.Warn("panel: message blocked", "author", msg.AuthorName, "turn", turn)
				continue
			case VerdictForceConverge:
				slog.Warn("panel: forced convergence after repeated violations", "turn", turn)
				forced = true
			default:
				o.appendMessage(msg)
				o.emit(Event{Type: EventAgentMessage, AgentID: msg.AuthorID, AgentName: msg.AuthorName, AgentRole: msg.AuthorRole, Message: msg.Content})
			}
			if forced {
				break
			}
		}
		o.emit(Event{Type: EventTurnCompleted})
		if forced {
			break
		}

		o.mu.Lock()
		tokens := o.approxTokens
		o.mu.Unlock()
		if run.MaxTotalTokens > 0 && tokens > run.MaxTotalTokens {
			slog.Info("panel: token budget exhausted", "turn", turn, "approx_tokens", tokens)
			break
		}

		score, converged, evaluated := detector.Evaluate(turn, o.Transcript(), names)
		if evaluated {
			o.emit(Event{Type: EventProgress, Detail: fmt.Sprintf("convergence score %d", score)})
		}
		if converged {
			break
		}
		if run.MaxTurns > 0 && turn >= run.MaxTurns {
			break
		}
	}

	o.converge(ctx)
}

// selectSpeakers applies the moderator's choice: a parallel group when
// every name resolves, a single speaker, or the full round-robin.
func (o *Orchestrator) selectSpeakers(d Decision, panelists []*Panelist) ([]*Panelist, bool) {
	byName := make(map[string]*Panelist, len(panelists))
	for _, p := range panelists {
		byName[strings.ToLower(p.Name())] = p
	}

	if d.AllowParallelThinking && len(d.ParallelGroup) >= 2 {
		group := make([]*Panelist, 0, len(d.ParallelGroup))
		for _, name := range d.ParallelGroup {
			p, ok := byName[strings.ToLower(name)]
			if !ok {
				slog.Warn("panel: parallel group member unknown, falling back to round-robin", "name", name)
				return panelists, false
			}
			group = append(group, p)
		}
		return group, true
	}

	if d.NextSpeaker != "" {
		if p, ok := byName[strings.ToLower(d.NextSpeaker)]; ok {
			return []*Panelist{p}, false
		}
		slog.Warn("panel: next speaker unknown, falling back to round-robin", "name", d.NextSpeaker)
	}
	return panelists, false
}

// runSpeakers collects one message per speaker. Parallel turns scatter
// via errgroup but the returned order is always the group order. A
// failing panelist is one bad turn, not a run failure.
func (o *Orchestrator) runSpeakers(ctx context.Context, speakers []*Panelist, topic, redirect string, parallel bool) []Message {
	recent := o.recent()
	outputs := make([]string, len(speakers))

	if parallel && len(speakers) > 1 {
		g := new(errgroup.Group)
		for i, p := range speakers {
			g.Go(func() error {
				out, err := p.Process(ctx, topic, recent, redirect)
				if err != nil {
					slog.Warn("panel: panelist turn failed", "panelist", p.Name(), "error", err)
					return nil
				}
				outputs[i] = out
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, p := range speakers {
			out, err := p.Process(ctx, topic, recent, redirect)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("panel: panelist turn failed", "panelist", p.Name(), "error", err)
				continue
			}
			outputs[i] = out
		}
	}

	messages := make([]Message, 0, len(speakers))
	for i, p := range speakers {
		if strings.TrimSpace(outputs[i]) == "" {
			continue
		}
		messages = append(messages, Message{
			AuthorID:   p.profile.ID,
			AuthorName: p.Name(),
			AuthorRole: RolePanelist,
			Content:    outputs[i],
			Type:       TypePanelistArgument,
		})
	}
	return messages
}

func (o *Orchestrator) converge(ctx context.Context) {
	o.transition(PhaseConverging)
	o.transition(PhaseSynthesizing)

	o.mu.Lock()
	head := o.head
	topic := o.topic
	run := o.run
	o.mu.Unlock()

	compressed := compressTranscript(o.Transcript())
	synthesis, err := head.Synthesize(ctx, topic, compressed)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("panel: synthesis failed, using compressed transcript", "error", err)
		synthesis = "The discussion ended before a synthesis could be written. Condensed transcript:\n" + compressed
	}

	o.mu.Lock()
	o.synthesis = synthesis
	o.mu.Unlock()
	o.appendMessage(Message{AuthorID: 100, AuthorName: "Head", AuthorRole: RoleHead, Content: synthesis, Type: TypeSynthesis})
	o.emit(Event{Type: EventAgentMessage, AgentID: 100, AgentName: "Head", AgentRole: RoleHead, Message: synthesis})

	brief := generateBrief(ctx, o.client, run.PrimaryModel, synthesis, o.Transcript())
	o.mu.Lock()
	o.brief = &brief
	o.mu.Unlock()

	o.transition(PhaseCompleted)
	o.saveMeta()
}

// FollowUp answers a question against the knowledge brief. Only valid
// once the discussion completed.
func (o *Orchestrator) FollowUp(ctx context.Context, question string) (string, error) {
	o.mu.Lock()
	phase := o.phase
	brief := o.brief
	model := o.run.PrimaryModel
	o.mu.Unlock()

	if phase != PhaseCompleted || brief == nil {
		return "", fmt.Errorf("panel: no completed discussion to follow up on")
	}
	return answerFollowup(ctx, o.client, model, *brief, question)
}

// Pause arms the pause gate; the loop pauses at the next turn boundary.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	active := o.phase == PhaseRunning
	o.mu.Unlock()
	if !active {
		return
	}
	o.pause.arm()
}

// Resume releases the pause gate. No-op when not paused.
func (o *Orchestrator) Resume() {
	if !o.pause.armed() {
		return
	}
	o.pause.release()
}

// Stop ends the discussion: cancels the loop, releases the pause gate,
// waits for the loop to drain, and disposes every agent session.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.phase == PhaseIdle || o.phase.terminal() {
		o.mu.Unlock()
		return
	}
	cancel := o.runCancel
	done := o.loopDone
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.pause.release()
	if done != nil {
		<-done
	}

	o.disposeAgents()
	o.emitAllIdle()

	o.mu.Lock()
	alreadyTerminal := o.phase.terminal()
	o.mu.Unlock()
	if !alreadyTerminal {
		o.transition(PhaseStopped)
	}
	o.saveMeta()
	slog.Info("panel: discussion stopped", "session", o.SessionID())
}

// Reset stops any active discussion and returns to Idle with a cleared
// transcript and log.
func (o *Orchestrator) Reset() {
	o.Stop()
	o.disposeAgents()

	o.log.Clear()
	o.mu.Lock()
	o.transcript = nil
	o.turn = 0
	o.approxTokens = 0
	o.topic = ""
	o.synthesis = ""
	o.brief = nil
	o.mu.Unlock()

	o.transition(PhaseIdle)
}

func (o *Orchestrator) disposeAgents() {
	o.mu.Lock()
	head := o.head
	moderator := o.moderator
	panelists := o.panelists
	o.head = nil
	o.moderator = nil
	o.panelists = nil
	o.mu.Unlock()

	if head != nil {
		head.dispose()
	}
	if moderator != nil {
		moderator.dispose()
	}
	for _, p := range panelists {
		p.dispose()
	}
}

func (o *Orchestrator) fail(err error) {
	slog.Error("panel: discussion failed", "session", o.SessionID(), "error", err)
	o.emit(Event{Type: EventError, Message: err.Error()})
	o.transition(PhaseFailed)
	o.disposeAgents()
}

// recent returns the tail of the transcript shown to agents each turn.
func (o *Orchestrator) recent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	start := len(o.transcript) - recentWindow
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(o.transcript)-start)
	copy(out, o.transcript[start:])
	return out
}

func (o *Orchestrator) appendMessage(msg Message) {
	o.mu.Lock()
	msg.SessionID = o.sessionID
	msg.Timestamp = time.Now().UTC()
	o.transcript = append(o.transcript, msg)
	o.approxTokens += len(msg.Content) / 4
	o.mu.Unlock()
}

func (o *Orchestrator) emitAllIdle() {
	o.mu.Lock()
	agents := make([]agentCore, 0, len(o.panelists)+2)
	if o.head != nil {
		agents = append(agents, o.head.agentCore)
	}
	if o.moderator != nil {
		agents = append(agents, o.moderator.agentCore)
	}
	for _, p := range o.panelists {
		agents = append(agents, p.agentCore)
	}
	o.mu.Unlock()

	for _, a := range agents {
		o.emit(Event{Type: EventAgentStatus, AgentID: a.id, AgentName: a.name, AgentRole: a.role, Status: StatusIdle})
	}
}

func (o *Orchestrator) transition(next Phase) {
	o.mu.Lock()
	ev, changed := o.transitionLocked(next)
	o.mu.Unlock()
	if changed {
		o.publishTransition(ev)
	}
}

// transitionLocked updates the phase with o.mu held and returns the event
// to publish. changed is false when the phase is already next.
func (o *Orchestrator) transitionLocked(next Phase) (Event, bool) {
	prev := o.phase
	if prev == next {
		return Event{}, false
	}
	o.phase = next
	o.lastTransition = time.Now().UTC()
	return Event{
		Type:          EventPhaseChanged,
		Turn:          o.turn,
		Timestamp:     time.Now().UTC(),
		PreviousPhase: prev,
		NewPhase:      next,
	}, true
}

func (o *Orchestrator) publishTransition(ev Event) {
	slog.Debug("panel: phase changed", "session", o.SessionID(), "from", ev.PreviousPhase, "to", ev.NewPhase)
	o.log.Log(ev)
	o.sink(ev)
}

// emit stamps turn and timestamp, logs, and forwards to the sink.
func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	ev.Turn = o.turn
	o.mu.Unlock()
	ev.Timestamp = time.Now().UTC()
	o.log.Log(ev)
	o.sink(ev)
}

func (o *Orchestrator) saveMeta() {
	if o.state == nil {
		return
	}
	o.mu.Lock()
	meta := store.SessionMeta{
		ID:        o.sessionID,
		Kind:      "panel",
		Objective: o.topic,
		Model:     o.run.PrimaryModel,
		CreatedAt: time.Now().UTC(),
		Turns:     o.turn,
	}
	phase := o.phase
	o.mu.Unlock()
	if meta.ID == "" {
		return
	}

	var existing store.SessionMeta
	if err := o.state.Get(store.BucketSessions, meta.ID, &existing); err == nil {
		meta.CreatedAt = existing.CreatedAt
	}
	if phase.terminal() {
		meta.CompletedAt = time.Now().UTC()
	}
	if err := o.state.Put(store.BucketSessions, meta.ID, meta); err != nil {
		slog.Warn("panel: persist session meta failed", "session", meta.ID, "error", err)
	}
}
