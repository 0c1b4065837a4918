package models

import (
	"time"

	"github.com/google/uuid"
)

// Task statuses. Transitions are monotonic:
// pending → running → {completed, failed}; failed → pending only on retry.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task is a unit of coding work described in free text.
// The row in the tasks table is the durable truth; in-flight copies held by
// the queue and workers are snapshots.
type Task struct {
	ID          string `json:"task_id"               db:"id"`
	Description string `json:"description"           db:"description"`
	Priority    int    `json:"priority"              db:"priority"`
	Status      string `json:"status"                db:"status"`
	CreatedAt   string `json:"created_at"            db:"created_at"`
	StartedAt   string `json:"started_at,omitempty"  db:"started_at"`
	CompletedAt string `json:"completed_at,omitempty" db:"completed_at"`
	WorkerID    string `json:"worker_id,omitempty"   db:"worker_id"`
	RetryCount  int    `json:"retry_count"           db:"retry_count"`
	MaxRetries  int    `json:"max_retries"           db:"max_retries"`
	Result      string `json:"result,omitempty"      db:"result"`
	Error       string `json:"error,omitempty"       db:"error"`
	TargetRepo  string `json:"target_repo,omitempty" db:"target_repo"`
	Metadata    string `json:"metadata,omitempty"    db:"metadata"`
}

// NewTask builds a pending task with a generated ID and creation timestamp.
func NewTask(description string, priority, maxRetries int) Task {
	return Task{
		ID:          "task-" + uuid.NewString(),
		Description: description,
		Priority:    priority,
		Status:      TaskPending,
		CreatedAt:   NowRFC3339(),
		MaxRetries:  maxRetries,
	}
}

// Terminal reports whether the task can no longer change state.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// NowRFC3339 is the timestamp format used for every persisted time value.
func NowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ParseRFC3339 parses a persisted timestamp; the zero time on failure.
func ParseRFC3339(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
