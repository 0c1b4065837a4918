package models

// Event log levels.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Event is one append-only row in the execution log.
type Event struct {
	ID        int64  `json:"id"                  db:"id"`
	Timestamp string `json:"timestamp"           db:"timestamp"`
	TaskID    string `json:"task_id,omitempty"   db:"task_id"`
	WorkerID  string `json:"worker_id,omitempty" db:"worker_id"`
	Component string `json:"component"           db:"component"`
	Level     string `json:"level"               db:"level"`
	Message   string `json:"message"             db:"message"`
	Details   string `json:"details,omitempty"   db:"details"`
}

// CommitRecord records one successful commit produced for a task.
type CommitRecord struct {
	ID           int64  `json:"id"            db:"id"`
	TaskID       string `json:"task_id"       db:"task_id"`
	CommitHash   string `json:"commit_hash"   db:"commit_hash"`
	Message      string `json:"message"       db:"message"`
	FilesChanged string `json:"files_changed" db:"files_changed"` // JSON array
	CreatedAt    string `json:"created_at"    db:"created_at"`
}

// ModelCallStat records one generation call attempt.
type ModelCallStat struct {
	ID               int64  `json:"id"                db:"id"`
	TaskID           string `json:"task_id"           db:"task_id"`
	Kind             string `json:"kind"              db:"kind"`
	Model            string `json:"model"             db:"model"`
	PromptTokens     int    `json:"prompt_tokens"     db:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens" db:"completion_tokens"`
	ElapsedMS        int64  `json:"elapsed_ms"        db:"elapsed_ms"`
	Success          bool   `json:"success"           db:"success"`
	Error            string `json:"error,omitempty"   db:"error"`
	CreatedAt        string `json:"created_at"        db:"created_at"`
}
