package models

// SystemSnapshot is the single-row (id=1) durable supervisor state used for
// crash recovery. WorkerStates and QueueStats are JSON blobs so the snapshot
// schema does not chase the in-memory shapes.
type SystemSnapshot struct {
	ID             int64  `json:"-"                          db:"id"`
	UptimeStart    string `json:"uptime_start"               db:"uptime_start"`
	LastCheckpoint string `json:"last_checkpoint,omitempty"  db:"last_checkpoint"`
	WorkerStates   string `json:"worker_states"              db:"worker_states"`
	QueueStats     string `json:"queue_stats"                db:"queue_stats"`
	Timestamp      string `json:"timestamp"                  db:"timestamp"`
}

// WorkerState is the observable state of one primary worker.
type WorkerState struct {
	ID             string `json:"worker_id"`
	Status         string `json:"status"` // idle | waiting | working | paused | stopped
	CurrentTask    string `json:"current_task,omitempty"`
	CompletedCount int    `json:"completed_count"`
	FailedCount    int    `json:"failed_count"`
	StartedAt      string `json:"started_at"`
}

// Worker statuses.
const (
	WorkerIdle    = "idle"
	WorkerWaiting = "waiting"
	WorkerWorking = "working"
	WorkerPaused  = "paused"
	WorkerStopped = "stopped"
)

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Size      int            `json:"size"`
	ByStatus  map[string]int `json:"by_status"`
	NextSeq   uint64         `json:"next_seq"`
	Timestamp string         `json:"timestamp"`
}
