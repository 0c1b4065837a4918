package models

// Review kinds.
const (
	ReviewPrimary = "primary"
	ReviewDeep    = "deep"
	ReviewForced  = "forced"
)

// ReviewFinding is one append-only row of categorized issues produced by a
// review worker for a completed task.
type ReviewFinding struct {
	ID         int64  `json:"id"          db:"id"`
	TaskID     string `json:"task_id"     db:"task_id"`
	ReviewKind string `json:"review_kind" db:"review_kind"`
	Category   string `json:"category"    db:"category"`
	Issues     string `json:"issues"      db:"issues"` // JSON array of strings
	CreatedAt  string `json:"created_at"  db:"created_at"`
}

// ReviewerStats are the running counters maintained by the reviewer pool.
type ReviewerStats struct {
	TasksReviewed         int    `json:"tasks_reviewed"`
	IssuesDiscovered      int    `json:"issues_discovered"`
	ImprovementsSuggested int    `json:"improvements_suggested"`
	MajorTasksRespected   int    `json:"major_tasks_respected"`
	LastReview            string `json:"last_review,omitempty"`
}
