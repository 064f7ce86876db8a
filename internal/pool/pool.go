package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rashmirrout/pilotdesk/internal/copilot"
)

// maxResultChars caps the response portion of a concise result.
const maxResultChars = 500

// Config controls one ExecuteTasks call.
type Config struct {
	MaxAssistants  int
	TimeoutSeconds int
	Model          string
	MCPServers     []string // opaque, propagated to ephemeral sessions
	Skills         []string // opaque, propagated to ephemeral sessions

	// Autonomous marks assistant sessions as bypassing tool approval.
	Autonomous bool
}

// Pool dispatches assistant tasks with a bounded concurrency level. Tasks
// are started in priority order; results come back in submission order.
type Pool struct {
	client  copilot.Client
	onEvent func(TaskEvent)

	assistantSeq atomic.Int64

	mu        sync.Mutex
	anchors   map[string]context.CancelFunc // task id → cancel
	runCancel context.CancelFunc            // active ExecuteTasks run, nil between runs
}

// New creates a pool. onEvent may be nil.
func New(client copilot.Client, onEvent func(TaskEvent)) *Pool {
	return &Pool{
		client:  client,
		onEvent: onEvent,
		anchors: make(map[string]context.CancelFunc),
	}
}

// CancelAll cancels the active run and every task anchor. Running and
// queued tasks alike report failure with "Task was cancelled"; sessions of
// running tasks are still terminated.
func (p *Pool) CancelAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.anchors)+1)
	if p.runCancel != nil {
		cancels = append(cancels, p.runCancel)
	}
	for _, c := range p.anchors {
		cancels = append(cancels, c)
	}
	p.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// ExecuteTasks runs the tasks and returns results in task submission
// order, regardless of completion order. At no instant do more than
// max(1, cfg.MaxAssistants) workers hold a session.
func (p *Pool) ExecuteTasks(ctx context.Context, tasks []AssistantTask, cfg Config) []AssistantResult {
	if len(tasks) == 0 {
		return nil
	}

	type indexed struct {
		task AssistantTask
		idx  int // submission order
	}
	ordered := make([]indexed, len(tasks))
	for i, t := range tasks {
		ordered[i] = indexed{task: t, idx: i}
	}
	// Stable: equal priorities keep submission order.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].task.Priority < ordered[j].task.Priority
	})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	p.mu.Lock()
	p.runCancel = cancelRun
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.runCancel = nil
		p.mu.Unlock()
	}()

	capacity := int64(cfg.MaxAssistants)
	if capacity < 1 {
		capacity = 1
	}
	sem := semaphore.NewWeighted(capacity)

	results := make([]AssistantResult, len(tasks))
	var wg sync.WaitGroup

	for _, entry := range ordered {
		wg.Add(1)
		go func(task AssistantTask, idx int) {
			defer wg.Done()
			results[idx] = p.runTask(runCtx, task, cfg, sem)
		}(entry.task, entry.idx)
	}

	wg.Wait()
	return results
}

func (p *Pool) runTask(ctx context.Context, task AssistantTask, cfg Config, sem *semaphore.Weighted) AssistantResult {
	p.emit(TaskDispatched, task, "")

	if err := sem.Acquire(ctx, 1); err != nil {
		task.Status = StatusCancelled
		task.ErrorMessage = "Task was cancelled"
		p.emit(TaskCancelled, task, task.ErrorMessage)
		return AssistantResult{
			TaskID:       task.ID,
			Status:       StatusCancelled,
			Success:      false,
			ErrorMessage: task.ErrorMessage,
			CompletedAt:  time.Now().UTC(),
		}
	}
	defer sem.Release(1)

	task.AssistantIndex = int(p.assistantSeq.Add(1))
	task.Status = StatusRunning
	task.StartedAt = time.Now().UTC()
	p.emit(TaskStarted, task, "")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	p.mu.Lock()
	p.anchors[task.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.anchors, task.ID)
		p.mu.Unlock()
		cancel()
	}()

	sessionID := "assistant-" + task.ID
	collector := NewCollector(p.client, sessionID)
	collector.Start()

	content, runErr := p.streamTask(taskCtx, sessionID, task, cfg)

	executions := collector.Complete()
	// Session termination before the semaphore release (the deferred
	// Release above runs last).
	if err := p.client.TerminateSession(sessionID); err != nil {
		slog.Warn("assistant pool: terminate session failed", "session", sessionID, "error", err)
	}

	task.CompletedAt = time.Now().UTC()
	duration := task.CompletedAt.Sub(task.StartedAt)

	if runErr != nil {
		task.Status = StatusFailed
		kind := TaskFailed
		switch {
		case errors.Is(runErr, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
			task.ErrorMessage = fmt.Sprintf("Task timed out after %ds", cfg.TimeoutSeconds)
			kind = TaskTimedOut
		case errors.Is(runErr, context.Canceled) || ctx.Err() != nil:
			task.Status = StatusCancelled
			task.ErrorMessage = "Task was cancelled"
			kind = TaskCancelled
		default:
			task.ErrorMessage = runErr.Error()
		}
		p.emit(kind, task, task.ErrorMessage)
		return AssistantResult{
			TaskID:         task.ID,
			AssistantIndex: task.AssistantIndex,
			Status:         task.Status,
			Success:        false,
			ToolExecutions: executions,
			Duration:       duration,
			CompletedAt:    task.CompletedAt,
			ErrorMessage:   task.ErrorMessage,
		}
	}

	task.Status = StatusCompleted
	result := AssistantResult{
		TaskID:         task.ID,
		AssistantIndex: task.AssistantIndex,
		Status:         StatusCompleted,
		Success:        true,
		Content:        conciseResult(task.Title, executions, content),
		ToolExecutions: executions,
		Duration:       duration,
		CompletedAt:    task.CompletedAt,
	}
	p.emit(TaskCompleted, task, "")
	return result
}

// streamTask spawns the ephemeral session and consumes the cumulative
// stream, emitting progress deltas.
func (p *Pool) streamTask(ctx context.Context, sessionID string, task AssistantTask, cfg Config) (string, error) {
	opts := copilot.SessionOptions{
		Model:        cfg.Model,
		SystemPrompt: assistantSystemPrompt(task.Title),
		MCPServers:   cfg.MCPServers,
		Skills:       cfg.Skills,
		Autonomous:   cfg.Autonomous,
	}
	if err := p.client.CreateSession(sessionID, opts); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	stream, err := p.client.SendStreaming(ctx, sessionID, task.Prompt)
	if err != nil {
		return "", err
	}

	var final string
	prevLen := 0
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		// Chunks are cumulative; the delta is the new suffix.
		if len(chunk.Content) > prevLen {
			delta := chunk.Content[prevLen:]
			prevLen = len(chunk.Content)
			p.emit(TaskProgress, task, delta)
		}
		final = chunk.Content
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return final, nil
}

func (p *Pool) emit(kind TaskEventKind, task AssistantTask, detail string) {
	if p.onEvent == nil {
		return
	}
	p.onEvent(TaskEvent{
		Kind:      kind,
		Task:      task,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func assistantSystemPrompt(title string) string {
	return "You are an ephemeral assistant working on a single task: " + title + ". " +
		"Complete the task and reply with a concise summary of what you did and found."
}

// conciseResult builds the summary stored in AssistantResult.Content:
// task title, tool names used, and the response truncated to 500 chars.
func conciseResult(title string, executions []ToolExecution, response string) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(title)
	b.WriteString("\n")

	if len(executions) > 0 {
		names := make([]string, 0, len(executions))
		for _, e := range executions {
			names = append(names, e.ToolName)
		}
		b.WriteString("Tools: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}

	if len(response) > maxResultChars {
		response = response[:maxResultChars] + "…"
	}
	b.WriteString(response)
	return b.String()
}
