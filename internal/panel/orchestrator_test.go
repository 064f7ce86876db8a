package panel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rashmirrout/pilotdesk/internal/config"
	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// panelClient scripts replies by agent role, derived from the session id.
type panelClient struct {
	headReplies []string // consumed in order by clarification calls
	decision    string   // moderator reply
	panelist    string   // panelist reply

	mu         sync.Mutex
	headCalls  int
	created    []string
	terminated []string
}

func (c *panelClient) CreateSession(sessionID string, opts copilot.SessionOptions) error {
	c.mu.Lock()
	c.created = append(c.created, sessionID)
	c.mu.Unlock()
	return nil
}

func (c *panelClient) TerminateSession(sessionID string) error {
	c.mu.Lock()
	c.terminated = append(c.terminated, sessionID)
	c.mu.Unlock()
	return nil
}

func (c *panelClient) SendBlocking(ctx context.Context, sessionID, prompt string) (copilot.Message, error) {
	reply := func(s string) (copilot.Message, error) {
		return copilot.Message{Role: "assistant", Content: s}, nil
	}

	switch {
	case strings.HasSuffix(sessionID, "-head"):
		switch {
		case strings.Contains(prompt, "Compose a concise Topic"):
			return reply("Should the team adopt the new architecture?")
		case strings.Contains(prompt, "final structured Markdown report"):
			return reply("## Report\nThe panel favors adoption.")
		default:
			c.mu.Lock()
			i := c.headCalls
			c.headCalls++
			c.mu.Unlock()
			if i < len(c.headReplies) {
				return reply(c.headReplies[i])
			}
			return reply("CLEAR: discuss it")
		}
	case strings.HasSuffix(sessionID, "-moderator"):
		return reply(c.decision)
	case strings.Contains(sessionID, "-panelist-"):
		return reply(c.panelist)
	case strings.HasPrefix(sessionID, "brief-"):
		return reply(`{"summary": "adopt it", "key_arguments": ["cost"], "recommendations": ["go"]}`)
	case strings.HasPrefix(sessionID, "followup-"):
		return reply("per the brief: yes")
	default:
		return reply("ok")
	}
}

func (c *panelClient) SendStreaming(context.Context, string, string) (<-chan copilot.Chunk, error) {
	return nil, nil
}
func (c *panelClient) ListModels(context.Context) ([]string, error)         { return nil, nil }
func (c *panelClient) SubscribeToolEvents(string, copilot.ToolEventHandler) {}
func (c *panelClient) UnsubscribeToolEvents(string)                         {}

func (c *panelClient) leaked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created) - len(c.terminated)
}

func (c *panelClient) createdWith(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, id := range c.created {
		if strings.Contains(id, substr) {
			n++
		}
	}
	return n
}

func testSettings() config.PanelSettings {
	return config.PanelSettings{
		PrimaryModel:         "primary",
		MaxPanelists:         2,
		MaxTurns:             4,
		MaxTotalTokens:       100000,
		ConvergenceThreshold: 80,
		MaxTokensPerTurn:     1000,
	}
}

func waitForPanel(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDiscussionFullRun(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: adopt or not"},
		decision:    `{"next_speaker": "", "convergence_score": 0, "stop_discussion": false}`,
		panelist:    "I believe the migration cost is manageable.",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("should we adopt the new architecture?"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	if o.Topic() == "" {
		t.Error("topic empty at approval time")
	}

	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	// Round-robin with 2 panelists over 4 turns: 8 arguments.
	var arguments int
	for _, m := range o.Transcript() {
		if m.Type == TypePanelistArgument {
			arguments++
		}
	}
	if arguments != 8 {
		t.Errorf("got %d panelist arguments, want 8", arguments)
	}

	if !strings.Contains(o.Synthesis(), "## Report") {
		t.Errorf("Synthesis = %q, want the head's report", o.Synthesis())
	}
	brief := o.Brief()
	if brief == nil || brief.Summary != "adopt it" {
		t.Errorf("Brief = %+v, want the parsed brief", brief)
	}

	// The phase trail runs clarify, approve, prepare, run, converge,
	// synthesize, complete in order.
	var phases []Phase
	for _, ev := range o.Events().ByType(EventPhaseChanged) {
		phases = append(phases, ev.NewPhase)
	}
	want := []Phase{PhaseClarifying, PhaseAwaitingApproval, PhasePreparing, PhaseRunning, PhaseConverging, PhaseSynthesizing, PhaseCompleted}
	idx := 0
	for _, p := range phases {
		if idx < len(want) && p == want[idx] {
			idx++
		}
	}
	if idx != len(want) {
		t.Errorf("phases %v missing expected subsequence %v", phases, want)
	}

	// The ephemeral brief session is already gone; Reset disposes the
	// long-lived agent sessions.
	o.Reset()
	waitForPanel(t, "session cleanup", func() bool { return client.leaked() == 0 })
}

func TestClarificationExchange(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"What scale are we talking about?", "CLEAR: got it"},
		decision:    `{"stop_discussion": true, "reason": "nothing to debate"}`,
		panelist:    "ok",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("help me decide something"); err != nil {
		t.Fatal(err)
	}

	// The head's question keeps the exchange in Clarifying.
	waitForPanel(t, "head question", func() bool {
		for _, m := range o.Transcript() {
			if m.Type == TypeClarification && strings.Contains(m.Content, "What scale") {
				return true
			}
		}
		return false
	})
	if o.Phase() != PhaseClarifying {
		t.Fatalf("Phase = %q, want clarifying", o.Phase())
	}

	o.SendUserMessage("about a hundred services")
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Stop()
}

func TestRejectTopicRevises(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: first cut"},
		decision:    `{"stop_discussion": true}`,
		panelist:    "ok",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("decide x"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })

	o.Reject("too broad, narrow it down")
	// The head replies CLEAR again (scripted default), so a revised
	// topic comes back for approval.
	waitForPanel(t, "revised approval", func() bool {
		return o.Phase() == PhaseAwaitingApproval && len(o.Events().ByType(EventPhaseChanged)) >= 4
	})
	o.Stop()
}

func TestModeratorStopEndsDiscussion(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision:    `{"stop_discussion": true, "reason": "consensus reached immediately"}`,
		panelist:    "unused",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("quick question"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	// The moderator stopped before anyone spoke.
	for _, m := range o.Transcript() {
		if m.Type == TypePanelistArgument {
			t.Fatal("panelist spoke after an immediate stop")
		}
	}
}

func TestUnknownParallelGroupFallsBackToRoundRobin(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision: `{"allow_parallel_thinking": true, "parallel_group": ["Priya", "Ghost"],` +
			`"parallel_rationale": "independent views"}`,
		panelist: "I agree with the premise.",
	}
	settings := testSettings()
	settings.MaxTurns = 1
	o := NewOrchestrator(client, nil, settings, nil)

	if err := o.Start("go"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	// "Ghost" is not a panelist, so the whole round-robin spoke instead
	// of a partial parallel group.
	speakers := map[string]bool{}
	for _, m := range o.Transcript() {
		if m.Type == TypePanelistArgument {
			speakers[m.AuthorName] = true
		}
	}
	if !speakers["Priya"] || !speakers["Soren"] {
		t.Errorf("speakers = %v, want the full round-robin", speakers)
	}
}

func TestKnownParallelGroupSpeaksInGroupOrder(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision: `{"allow_parallel_thinking": true, "parallel_group": ["Soren", "Priya"],` +
			`"parallel_rationale": "independent views"}`,
		panelist: "Parallel argument.",
	}
	settings := testSettings()
	settings.MaxTurns = 1
	o := NewOrchestrator(client, nil, settings, nil)

	if err := o.Start("go"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	var order []string
	for _, m := range o.Transcript() {
		if m.Type == TypePanelistArgument {
			order = append(order, m.AuthorName)
		}
	}
	// Group order is preserved even though the turns ran concurrently.
	if len(order) != 2 || order[0] != "Soren" || order[1] != "Priya" {
		t.Errorf("speaker order = %v, want [Soren Priya]", order)
	}
}

func TestFollowUpAfterCompletion(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision:    `{"stop_discussion": true}`,
		panelist:    "ok",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	// Before any discussion, follow-ups are rejected.
	if _, err := o.FollowUp(context.Background(), "so what?"); err == nil {
		t.Error("FollowUp before completion succeeded")
	}

	if err := o.Start("go"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	answer, err := o.FollowUp(context.Background(), "should we hire for it?")
	if err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if answer != "per the brief: yes" {
		t.Errorf("answer = %q", answer)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	client := &panelClient{headReplies: []string{"What do you mean?"}}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("first"); err != nil {
		t.Fatal(err)
	}
	if err := o.Start("second"); err == nil {
		t.Error("second Start succeeded while a discussion is active")
	}
	o.Stop()
}

func TestStartConcurrentSingleWinner(t *testing.T) {
	client := &panelClient{headReplies: []string{"What do you mean?"}}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- o.Start("race me")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Fatalf("%d of %d concurrent Starts succeeded, want exactly 1", ok, n)
	}
	if got := client.createdWith("-head"); got != 1 {
		t.Errorf("%d head sessions created, want 1", got)
	}

	o.Stop()
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked", client.leaked())
	}
}

func TestApproveConcurrentSingleLoop(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision:    `{"stop_discussion": true}`,
		panelist:    "ok",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("go"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })

	// Duplicate Approves must collapse into a single discussion loop.
	const n = 4
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Approve()
		}()
	}
	wg.Wait()

	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })
	if got := client.createdWith("-moderator"); got != 1 {
		t.Errorf("%d moderator sessions created, want 1", got)
	}

	o.Reset()
	waitForPanel(t, "session cleanup", func() bool { return client.leaked() == 0 })
}

func TestResetReturnsToIdle(t *testing.T) {
	client := &panelClient{
		headReplies: []string{"CLEAR: go"},
		decision:    `{"stop_discussion": true}`,
		panelist:    "ok",
	}
	o := NewOrchestrator(client, nil, testSettings(), nil)

	if err := o.Start("go"); err != nil {
		t.Fatal(err)
	}
	waitForPanel(t, "topic approval", func() bool { return o.Phase() == PhaseAwaitingApproval })
	o.Approve()
	waitForPanel(t, "completion", func() bool { return o.Phase() == PhaseCompleted })

	o.Reset()
	if o.Phase() != PhaseIdle {
		t.Errorf("Phase = %q after Reset, want idle", o.Phase())
	}
	if len(o.Transcript()) != 0 || o.Turn() != 0 || o.Synthesis() != "" || o.Brief() != nil {
		t.Error("Reset did not clear discussion state")
	}

	// A fresh discussion starts cleanly.
	if err := o.Start("again"); err != nil {
		t.Fatalf("Start after Reset: %v", err)
	}
	waitForPanel(t, "second completion", func() bool { return o.Phase() == PhaseAwaitingApproval || o.Phase() == PhaseCompleted })
	o.Stop()
}
