// Package pool dispatches ephemeral assistant tasks through a bounded,
// priority-ordered worker pool and records per-task tool traces.
package pool

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an assistant task. Completed and
// Failed are terminal.
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// AssistantTask is one unit of work for an ephemeral assistant.
// Lower Priority means higher urgency.
type AssistantTask struct {
	ID              string     `json:"id"` // 8-hex, stable
	IterationNumber int        `json:"iteration_number"`
	Title           string     `json:"title"`
	Prompt          string     `json:"prompt"`
	Priority        int        `json:"priority"`
	Status          TaskStatus `json:"status"`
	AssistantIndex  int        `json:"assistant_index,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       time.Time  `json:"started_at,omitempty"`
	CompletedAt     time.Time  `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// NewTask builds a queued task with a fresh 8-hex id.
func NewTask(iteration int, title, prompt string, priority int) AssistantTask {
	return AssistantTask{
		ID:              strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		IterationNumber: iteration,
		Title:           title,
		Prompt:          prompt,
		Priority:        priority,
		Status:          StatusQueued,
		CreatedAt:       time.Now().UTC(),
	}
}

// ToolExecution records one tool call observed during a task.
type ToolExecution struct {
	ToolName    string    `json:"tool_name"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	Description string    `json:"description,omitempty"`
}

// Duration is derived from the start/complete timestamps.
func (e ToolExecution) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

// AssistantResult is the outcome of one task. Content is a concise summary,
// not the raw transcript.
type AssistantResult struct {
	TaskID         string          `json:"task_id"`
	AssistantIndex int             `json:"assistant_index"`
	Status         TaskStatus      `json:"status"`
	Success        bool            `json:"success"`
	Content        string          `json:"content"`
	ToolExecutions []ToolExecution `json:"tool_executions,omitempty"`
	Duration       time.Duration   `json:"duration"`
	CompletedAt    time.Time       `json:"completed_at"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

// TaskEventKind tags pool lifecycle events.
type TaskEventKind string

const (
	TaskDispatched TaskEventKind = "dispatched"
	TaskStarted    TaskEventKind = "started"
	TaskProgress   TaskEventKind = "progress"
	TaskCompleted  TaskEventKind = "completed"
	TaskFailed     TaskEventKind = "failed"
	TaskTimedOut   TaskEventKind = "timed_out"
	TaskCancelled  TaskEventKind = "cancelled"
)

// TaskEvent is emitted as tasks move through the pool.
type TaskEvent struct {
	Kind      TaskEventKind
	Task      AssistantTask // snapshot at emission time
	Detail    string        // progress delta or error text
	Timestamp time.Time
}
