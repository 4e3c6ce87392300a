// Package queue implements the Task Queue Manager: named FIFO+priority
// queues of free-form task descriptions, driven iteratively through a
// session, persisted atomically to a JSON file.
package queue

import "time"

// Status is a QueuedTask's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one entry in a queue.
type Task struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Description string     `json:"description"`
	ProjectDir  string     `json:"project_dir"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// CanRetry reports whether a failed task has retries remaining.
func (t *Task) CanRetry() bool {
	return t.Status == StatusFailed && t.RetryCount < t.MaxRetries
}

func (t *Task) start() {
	now := time.Now()
	t.Status = StatusRunning
	t.StartedAt = &now
}

func (t *Task) complete(result string) {
	now := time.Now()
	t.Status = StatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
}

func (t *Task) fail(errMsg string) {
	now := time.Now()
	t.Status = StatusFailed
	t.Error = errMsg
	t.CompletedAt = &now
	t.RetryCount++
}

func (t *Task) retry() {
	t.Status = StatusPending
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Error = ""
}

func (t *Task) cancel() {
	now := time.Now()
	t.Status = StatusCancelled
	t.CompletedAt = &now
}
