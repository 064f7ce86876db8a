package pool

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// fakeClient is a scriptable copilot.Client for pool tests. streamFn
// drives SendStreaming; everything else tracks session lifecycles.
type fakeClient struct {
	streamFn func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error)

	mu         sync.Mutex
	created    []string
	terminated []string
	opts       map[string]copilot.SessionOptions

	active    atomic.Int64
	maxActive atomic.Int64
}

func (f *fakeClient) CreateSession(sessionID string, opts copilot.SessionOptions) error {
	f.mu.Lock()
	f.created = append(f.created, sessionID)
	if f.opts == nil {
		f.opts = make(map[string]copilot.SessionOptions)
	}
	f.opts[sessionID] = opts
	f.mu.Unlock()

	n := f.active.Add(1)
	for {
		max := f.maxActive.Load()
		if n <= max || f.maxActive.CompareAndSwap(max, n) {
			break
		}
	}
	return nil
}

func (f *fakeClient) TerminateSession(sessionID string) error {
	f.mu.Lock()
	f.terminated = append(f.terminated, sessionID)
	f.mu.Unlock()
	f.active.Add(-1)
	return nil
}

func (f *fakeClient) SendBlocking(ctx context.Context, sessionID, prompt string) (copilot.Message, error) {
	return copilot.Message{Role: "assistant", Content: "ok"}, nil
}

func (f *fakeClient) SendStreaming(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
	if f.streamFn != nil {
		return f.streamFn(ctx, sessionID, prompt)
	}
	ch := make(chan copilot.Chunk, 1)
	ch <- copilot.Chunk{Content: "done"}
	close(ch)
	return ch, nil
}

func (f *fakeClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeClient) SubscribeToolEvents(string, copilot.ToolEventHandler) {
}
func (f *fakeClient) UnsubscribeToolEvents(string) {}

func (f *fakeClient) leaked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created) - len(f.terminated)
}

func TestExecuteTasksResultsInSubmissionOrder(t *testing.T) {
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk, 1)
			go func() {
				defer close(ch)
				// The first-submitted task finishes last.
				if strings.Contains(prompt, "first") {
					time.Sleep(150 * time.Millisecond)
				}
				ch <- copilot.Chunk{Content: "reply to " + prompt}
			}()
			return ch, nil
		},
	}
	p := New(client, nil)

	tasks := []AssistantTask{
		NewTask(1, "one", "first prompt", 2),
		NewTask(1, "two", "second prompt", 1),
		NewTask(1, "three", "third prompt", 3),
	}

	results := p.ExecuteTasks(context.Background(), tasks, Config{MaxAssistants: 3, TimeoutSeconds: 10})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.TaskID != tasks[i].ID {
			t.Errorf("results[%d].TaskID = %s, want %s (submission order)", i, r.TaskID, tasks[i].ID)
		}
		if !r.Success {
			t.Errorf("results[%d] failed: %s", i, r.ErrorMessage)
		}
		if r.Status != StatusCompleted {
			t.Errorf("results[%d].Status = %q, want completed", i, r.Status)
		}
	}
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked", client.leaked())
	}
}

func TestExecuteTasksConcurrencyBound(t *testing.T) {
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk, 1)
			go func() {
				defer close(ch)
				time.Sleep(100 * time.Millisecond)
				ch <- copilot.Chunk{Content: "ok"}
			}()
			return ch, nil
		},
	}
	p := New(client, nil)

	tasks := make([]AssistantTask, 6)
	for i := range tasks {
		tasks[i] = NewTask(1, "t", "p", i)
	}

	results := p.ExecuteTasks(context.Background(), tasks, Config{MaxAssistants: 2, TimeoutSeconds: 10})
	for _, r := range results {
		if !r.Success {
			t.Errorf("task %s failed: %s", r.TaskID, r.ErrorMessage)
		}
	}
	if max := client.maxActive.Load(); max > 2 {
		t.Errorf("observed %d concurrent sessions, want <= 2", max)
	}
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked", client.leaked())
	}
}

func TestCancelAllCancelsRunningAndQueued(t *testing.T) {
	started := make(chan struct{}, 8)
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk)
			started <- struct{}{}
			go func() {
				defer close(ch)
				<-ctx.Done()
			}()
			return ch, nil
		},
	}
	p := New(client, nil)

	tasks := []AssistantTask{
		NewTask(1, "a", "p", 1),
		NewTask(1, "b", "p", 2),
		NewTask(1, "c", "p", 3),
	}

	resultsCh := make(chan []AssistantResult, 1)
	go func() {
		resultsCh <- p.ExecuteTasks(context.Background(), tasks, Config{MaxAssistants: 1, TimeoutSeconds: 60})
	}()

	// Wait until the single slot is occupied, then cancel everything.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no task started")
	}
	p.CancelAll()

	var results []AssistantResult
	select {
	case results = <-resultsCh:
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteTasks did not return after CancelAll")
	}

	for i, r := range results {
		if r.Success {
			t.Errorf("results[%d] succeeded after cancellation", i)
		}
		if r.ErrorMessage != "Task was cancelled" {
			t.Errorf("results[%d].ErrorMessage = %q, want %q", i, r.ErrorMessage, "Task was cancelled")
		}
		if r.Status != StatusCancelled {
			t.Errorf("results[%d].Status = %q, want cancelled", i, r.Status)
		}
	}
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked after cancellation", client.leaked())
	}
}

func TestTaskTimeoutClassification(t *testing.T) {
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk)
			go func() {
				defer close(ch)
				<-ctx.Done()
			}()
			return ch, nil
		},
	}

	var events []TaskEvent
	var evMu sync.Mutex
	p := New(client, func(ev TaskEvent) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	})

	tasks := []AssistantTask{NewTask(1, "slow", "p", 1)}
	results := p.ExecuteTasks(context.Background(), tasks, Config{MaxAssistants: 1, TimeoutSeconds: 1})

	if results[0].Success {
		t.Fatal("timed-out task reported success")
	}
	if results[0].ErrorMessage != "Task timed out after 1s" {
		t.Errorf("ErrorMessage = %q, want %q", results[0].ErrorMessage, "Task timed out after 1s")
	}
	if results[0].Status != StatusFailed {
		t.Errorf("Status = %q, want failed", results[0].Status)
	}

	evMu.Lock()
	defer evMu.Unlock()
	var sawTimeout bool
	for _, ev := range events {
		if ev.Kind == TaskTimedOut {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Error("no timed_out event emitted")
	}
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked after timeout", client.leaked())
	}
}

func TestStreamProgressDeltas(t *testing.T) {
	// Cumulative chunks: the emitted progress must be the new suffixes.
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk, 3)
			ch <- copilot.Chunk{Content: "Hel"}
			ch <- copilot.Chunk{Content: "Hello, wor"}
			ch <- copilot.Chunk{Content: "Hello, world"}
			close(ch)
			return ch, nil
		},
	}

	var deltas []string
	var evMu sync.Mutex
	p := New(client, func(ev TaskEvent) {
		if ev.Kind == TaskProgress {
			evMu.Lock()
			deltas = append(deltas, ev.Detail)
			evMu.Unlock()
		}
	})

	results := p.ExecuteTasks(context.Background(), []AssistantTask{NewTask(1, "t", "p", 1)},
		Config{MaxAssistants: 1, TimeoutSeconds: 10})

	if !results[0].Success {
		t.Fatalf("task failed: %s", results[0].ErrorMessage)
	}
	if !strings.Contains(results[0].Content, "Hello, world") {
		t.Errorf("Content = %q, want the final cumulative text", results[0].Content)
	}

	evMu.Lock()
	defer evMu.Unlock()
	want := []string{"Hel", "lo, wor", "ld"}
	if len(deltas) != len(want) {
		t.Fatalf("deltas = %v, want %v", deltas, want)
	}
	for i := range want {
		if deltas[i] != want[i] {
			t.Errorf("deltas[%d] = %q, want %q", i, deltas[i], want[i])
		}
	}
}

func TestStreamErrorFailsTask(t *testing.T) {
	client := &fakeClient{
		streamFn: func(ctx context.Context, sessionID, prompt string) (<-chan copilot.Chunk, error) {
			ch := make(chan copilot.Chunk, 1)
			ch <- copilot.Chunk{Err: context.DeadlineExceeded}
			close(ch)
			return ch, nil
		},
	}
	p := New(client, nil)

	results := p.ExecuteTasks(context.Background(), []AssistantTask{NewTask(1, "t", "p", 1)},
		Config{MaxAssistants: 1, TimeoutSeconds: 10})

	if results[0].Success {
		t.Error("task with a terminal error chunk reported success")
	}
	if client.leaked() != 0 {
		t.Errorf("%d sessions leaked", client.leaked())
	}
}

func TestSessionOptionsPropagate(t *testing.T) {
	client := &fakeClient{}
	p := New(client, nil)

	task := NewTask(1, "t", "p", 1)
	results := p.ExecuteTasks(context.Background(), []AssistantTask{task}, Config{
		MaxAssistants:  1,
		TimeoutSeconds: 10,
		Model:          "worker-model",
		MCPServers:     []string{"fs"},
		Skills:         []string{"review"},
		Autonomous:     true,
	})
	if !results[0].Success {
		t.Fatalf("task failed: %s", results[0].ErrorMessage)
	}

	client.mu.Lock()
	opts, ok := client.opts["assistant-"+task.ID]
	client.mu.Unlock()
	if !ok {
		t.Fatal("assistant session not created")
	}
	if opts.Model != "worker-model" || !opts.Autonomous {
		t.Errorf("opts = %+v, want the pool config carried through", opts)
	}
	if len(opts.MCPServers) != 1 || len(opts.Skills) != 1 {
		t.Errorf("MCPServers/Skills = %v/%v, want passthrough", opts.MCPServers, opts.Skills)
	}
}

func TestEmptyTaskList(t *testing.T) {
	p := New(&fakeClient{}, nil)
	if results := p.ExecuteTasks(context.Background(), nil, Config{MaxAssistants: 1, TimeoutSeconds: 1}); results != nil {
		t.Errorf("ExecuteTasks(nil) = %v, want nil", results)
	}
}

func TestConciseResultTruncation(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := conciseResult("a task", []ToolExecution{{ToolName: "grep"}, {ToolName: "edit"}}, long)

	if !strings.Contains(got, "Task: a task") {
		t.Errorf("missing task line: %q", got)
	}
	if !strings.Contains(got, "Tools: grep, edit") {
		t.Errorf("missing tools line: %q", got)
	}
	if strings.Contains(got, strings.Repeat("x", 501)) {
		t.Error("response not truncated to 500 chars")
	}
}
