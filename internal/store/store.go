// Package store implements the event store: the single durable home for
// tasks, execution events, commits, model-call stats, review findings and the
// supervisor snapshot. Every other component reads and writes through here.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Component names used in event rows.
const (
	ComponentQueue      = "QUEUE"
	ComponentExecutor   = "EXECUTOR"
	ComponentModel      = "MODEL"
	ComponentValidator  = "VALIDATOR"
	ComponentGit        = "GIT"
	ComponentReviewer   = "REVIEWER"
	ComponentSupervisor = "SUPERVISOR"
	ComponentGateway    = "GATEWAY"
)

// Store wraps a database.DB with the typed operations of the event store.
type Store struct {
	db database.DB
}

// New wraps db. The caller is responsible for running migrations first.
func New(db database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for components that need raw queries.
func (s *Store) DB() database.DB { return s.db }

// --- tasks ---

// RecordTaskCreated persists a new task. Idempotent on task ID.
func (s *Store) RecordTaskCreated(ctx context.Context, task models.Task) error {
	if err := s.db.Upsert(ctx, "tasks", task, []string{"id"}); err != nil {
		return fmt.Errorf("recording task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTask overwrites the mutable columns of a task row.
func (s *Store) UpdateTask(ctx context.Context, task models.Task) error {
	type taskUpdate struct {
		Description string `db:"description"`
		Priority    int    `db:"priority"`
		Status      string `db:"status"`
		StartedAt   string `db:"started_at"`
		CompletedAt string `db:"completed_at"`
		WorkerID    string `db:"worker_id"`
		RetryCount  int    `db:"retry_count"`
		MaxRetries  int    `db:"max_retries"`
		Result      string `db:"result"`
		Error       string `db:"error"`
		TargetRepo  string `db:"target_repo"`
		Metadata    string `db:"metadata"`
	}
	u := taskUpdate{
		Description: task.Description,
		Priority:    task.Priority,
		Status:      task.Status,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		WorkerID:    task.WorkerID,
		RetryCount:  task.RetryCount,
		MaxRetries:  task.MaxRetries,
		Result:      task.Result,
		Error:       task.Error,
		TargetRepo:  task.TargetRepo,
		Metadata:    task.Metadata,
	}
	if err := s.db.Update(ctx, "tasks", u, "id = ?", task.ID); err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}
	return nil
}

// MarkStarted transitions a task to running and records the companion event.
func (s *Store) MarkStarted(ctx context.Context, taskID, workerID string) error {
	now := models.NowRFC3339()
	err := s.db.Exec(ctx,
		`UPDATE tasks SET status = ?, started_at = ?, worker_id = ? WHERE id = ?`,
		models.TaskRunning, now, workerID, taskID)
	if err != nil {
		return fmt.Errorf("marking task %s started: %w", taskID, err)
	}
	return s.AppendEvent(ctx, models.Event{
		TaskID:    taskID,
		WorkerID:  workerID,
		Component: ComponentExecutor,
		Level:     models.LevelInfo,
		Message:   "task started",
	})
}

// MarkCompleted transitions a task to completed with its structured result.
func (s *Store) MarkCompleted(ctx context.Context, taskID, workerID string, result models.TaskResult) error {
	now := models.NowRFC3339()
	err := s.db.Exec(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, worker_id = ?, result = ?, error = '' WHERE id = ?`,
		models.TaskCompleted, now, workerID, result.Encode(), taskID)
	if err != nil {
		return fmt.Errorf("marking task %s completed: %w", taskID, err)
	}
	return s.AppendEvent(ctx, models.Event{
		TaskID:    taskID,
		WorkerID:  workerID,
		Component: ComponentExecutor,
		Level:     models.LevelInfo,
		Message:   "task completed",
		Details:   result.Encode(),
	})
}

// MarkFailed transitions a task to failed (terminal or pre-retry).
func (s *Store) MarkFailed(ctx context.Context, taskID, workerID, errMsg string, retryCount int) error {
	now := models.NowRFC3339()
	err := s.db.Exec(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, worker_id = ?, error = ?, retry_count = ? WHERE id = ?`,
		models.TaskFailed, now, workerID, errMsg, retryCount, taskID)
	if err != nil {
		return fmt.Errorf("marking task %s failed: %w", taskID, err)
	}
	return s.AppendEvent(ctx, models.Event{
		TaskID:    taskID,
		WorkerID:  workerID,
		Component: ComponentExecutor,
		Level:     models.LevelError,
		Message:   "task failed: " + errMsg,
	})
}

// LoadOpenTasks returns tasks with status pending or running, ordered by
// (priority desc, created_at asc). Running tasks are included so crash
// recovery can re-queue them as pending.
func (s *Store) LoadOpenTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(ctx, &tasks,
		`SELECT * FROM tasks WHERE status IN (?, ?) ORDER BY priority DESC, created_at ASC`,
		models.TaskPending, models.TaskRunning)
	if err != nil {
		return nil, fmt.Errorf("loading open tasks: %w", err)
	}
	return tasks, nil
}

// TaskByID fetches one task row.
func (s *Store) TaskByID(ctx context.Context, taskID string) (*models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(ctx, &tasks, `SELECT * FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// CompletedBetween returns completed tasks whose completion timestamp falls
// in [from, to), newest first, up to limit (0 = no limit).
func (s *Store) CompletedBetween(ctx context.Context, from, to time.Time, limit int) ([]models.Task, error) {
	query := `SELECT * FROM tasks WHERE status = ? AND completed_at >= ? AND completed_at < ?
		ORDER BY completed_at DESC`
	args := []interface{}{
		models.TaskCompleted,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339),
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var tasks []models.Task
	if err := s.db.Select(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("loading completed tasks: %w", err)
	}
	return tasks, nil
}

// FailedBetween returns failed tasks whose completion timestamp falls in
// [from, to), newest first.
func (s *Store) FailedBetween(ctx context.Context, from, to time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.Select(ctx, &tasks,
		`SELECT * FROM tasks WHERE status = ? AND completed_at >= ? AND completed_at < ?
			ORDER BY completed_at DESC`,
		models.TaskFailed,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("loading failed tasks: %w", err)
	}
	return tasks, nil
}

// TaskStats returns task counts keyed by status.
func (s *Store) TaskStats(ctx context.Context) (map[string]int, error) {
	type row struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	var rows []row
	err := s.db.Select(ctx, &rows, `SELECT status, COUNT(*) AS n FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	stats := map[string]int{
		models.TaskPending:   0,
		models.TaskRunning:   0,
		models.TaskCompleted: 0,
		models.TaskFailed:    0,
	}
	for _, r := range rows {
		stats[r.Status] = r.N
	}
	return stats, nil
}

// --- append-only records ---

// AppendEvent writes one event row, stamping the timestamp when absent.
func (s *Store) AppendEvent(ctx context.Context, evt models.Event) error {
	if evt.Timestamp == "" {
		evt.Timestamp = models.NowRFC3339()
	}
	if _, err := s.db.Insert(ctx, "events", evt); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// AppendCommit records one successful commit.
func (s *Store) AppendCommit(ctx context.Context, taskID, hash, message string, files []string) error {
	raw, _ := json.Marshal(files)
	rec := models.CommitRecord{
		TaskID:       taskID,
		CommitHash:   hash,
		Message:      message,
		FilesChanged: string(raw),
		CreatedAt:    models.NowRFC3339(),
	}
	if _, err := s.db.Insert(ctx, "commits", rec); err != nil {
		return fmt.Errorf("appending commit for %s: %w", taskID, err)
	}
	return nil
}

// AppendModelStat records one generation call attempt.
func (s *Store) AppendModelStat(ctx context.Context, stat models.ModelCallStat) error {
	if stat.CreatedAt == "" {
		stat.CreatedAt = models.NowRFC3339()
	}
	if _, err := s.db.Insert(ctx, "model_stats", stat); err != nil {
		return fmt.Errorf("appending model stat for %s: %w", stat.TaskID, err)
	}
	return nil
}

// AppendReviewFinding records one non-empty review category.
func (s *Store) AppendReviewFinding(ctx context.Context, taskID, reviewKind, category string, issues []string) error {
	raw, _ := json.Marshal(issues)
	rec := models.ReviewFinding{
		TaskID:     taskID,
		ReviewKind: reviewKind,
		Category:   category,
		Issues:     string(raw),
		CreatedAt:  models.NowRFC3339(),
	}
	if _, err := s.db.Insert(ctx, "review_findings", rec); err != nil {
		return fmt.Errorf("appending review finding for %s: %w", taskID, err)
	}
	return nil
}

// ReviewFindingsFor returns all findings recorded for a task, newest first.
func (s *Store) ReviewFindingsFor(ctx context.Context, taskID string) ([]models.ReviewFinding, error) {
	var findings []models.ReviewFinding
	err := s.db.Select(ctx, &findings,
		`SELECT * FROM review_findings WHERE task_id = ? ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading review findings for %s: %w", taskID, err)
	}
	return findings, nil
}

// RecentEvents returns the newest limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []models.Event
	err := s.db.Select(ctx, &events,
		`SELECT * FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent events: %w", err)
	}
	return events, nil
}

// EventsAfter returns events with id > afterID, oldest first (log streaming).
func (s *Store) EventsAfter(ctx context.Context, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.Event
	err := s.db.Select(ctx, &events,
		`SELECT * FROM events WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading events after %d: %w", afterID, err)
	}
	return events, nil
}

// RecentCommits returns the newest limit commit records.
func (s *Store) RecentCommits(ctx context.Context, limit int) ([]models.CommitRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var commits []models.CommitRecord
	err := s.db.Select(ctx, &commits,
		`SELECT * FROM commits ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent commits: %w", err)
	}
	return commits, nil
}

// CommitCountBetween counts commit records created inside [from, to).
func (s *Store) CommitCountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.Get(ctx, &n,
		`SELECT COUNT(*) FROM commits WHERE created_at >= ? AND created_at < ?`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("counting commits: %w", err)
	}
	return n, nil
}

// ModelStatAggregate sums model-call statistics inside [from, to).
type ModelStatAggregate struct {
	Calls            int   `db:"calls"             json:"calls"`
	Failures         int   `db:"failures"          json:"failures"`
	PromptTokens     int64 `db:"prompt_tokens"     json:"prompt_tokens"`
	CompletionTokens int64 `db:"completion_tokens" json:"completion_tokens"`
	TotalElapsedMS   int64 `db:"elapsed_ms"        json:"elapsed_ms"`
}

// ModelStatsBetween aggregates model-call stats for a time window.
func (s *Store) ModelStatsBetween(ctx context.Context, from, to time.Time) (ModelStatAggregate, error) {
	var aggs []ModelStatAggregate
	err := s.db.Select(ctx, &aggs, `SELECT
			COUNT(*) AS calls,
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0) AS failures,
			COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
			COALESCE(SUM(elapsed_ms), 0) AS elapsed_ms
		FROM model_stats WHERE created_at >= ? AND created_at < ?`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return ModelStatAggregate{}, fmt.Errorf("aggregating model stats: %w", err)
	}
	if len(aggs) == 0 {
		return ModelStatAggregate{}, nil
	}
	return aggs[0], nil
}

// --- snapshot ---

// SaveSnapshot overwrites the single system_state row (id=1).
func (s *Store) SaveSnapshot(ctx context.Context, snap models.SystemSnapshot) error {
	snap.ID = 1
	if snap.Timestamp == "" {
		snap.Timestamp = models.NowRFC3339()
	}
	if err := s.db.Upsert(ctx, "system_state", snap, []string{"id"}); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the system_state row; nil when none exists yet.
func (s *Store) LoadSnapshot(ctx context.Context) (*models.SystemSnapshot, error) {
	var snaps []models.SystemSnapshot
	err := s.db.Select(ctx, &snaps, `SELECT * FROM system_state WHERE id = 1`)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// --- retention ---

// PruneEvents deletes all but the newest max event rows.
func (s *Store) PruneEvents(ctx context.Context, max int) error {
	if max <= 0 {
		return nil
	}
	err := s.db.Exec(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`, max)
	if err != nil {
		return fmt.Errorf("pruning events: %w", err)
	}
	return nil
}

// PruneCompleted deletes terminal tasks completed more than days ago.
// Events for pruned tasks are kept; they fall out via PruneEvents.
func (s *Store) PruneCompleted(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	err := s.db.Exec(ctx,
		`DELETE FROM tasks WHERE status IN (?, ?) AND completed_at != '' AND completed_at < ?`,
		models.TaskCompleted, models.TaskFailed, cutoff)
	if err != nil {
		return fmt.Errorf("pruning completed tasks: %w", err)
	}
	return nil
}

// Stats returns row counts for the dashboard.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{}
	for _, table := range []string{"tasks", "events", "commits", "model_stats", "review_findings"} {
		var n int
		if err := s.db.Get(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
