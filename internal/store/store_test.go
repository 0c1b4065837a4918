package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "store-test.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func TestTaskLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := models.NewTask("add a parser", 2, 3)
	if err := st.RecordTaskCreated(ctx, task); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := st.MarkStarted(ctx, task.ID, "worker-1"); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	got, err := st.TaskByID(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != models.TaskRunning || got.WorkerID != "worker-1" || got.StartedAt == "" {
		t.Fatalf("unexpected running state: %+v", got)
	}

	result := models.TaskResult{Files: []string{"parser.go"}}
	if err := st.MarkCompleted(ctx, task.ID, "worker-1", result); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, _ = st.TaskByID(ctx, task.ID)
	if got.Status != models.TaskCompleted || got.CompletedAt == "" || got.Result == "" {
		t.Fatalf("unexpected completed state: %+v", got)
	}
	if got.Error != "" {
		t.Fatalf("error not cleared on completion: %q", got.Error)
	}

	events, err := st.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 lifecycle events, got %d", len(events))
	}
}

func TestMarkFailedRecordsErrorAndEvent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := models.NewTask("doomed", 0, 1)
	if err := st.RecordTaskCreated(ctx, task); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := st.MarkFailed(ctx, task.ID, "worker-2", "tests failed: exit 1", 1); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := st.TaskByID(ctx, task.ID)
	if got.Status != models.TaskFailed || got.Error == "" || got.RetryCount != 1 {
		t.Fatalf("unexpected failed state: %+v", got)
	}

	events, _ := st.RecentEvents(ctx, 10)
	if len(events) != 1 || events[0].Level != models.LevelError {
		t.Fatalf("expected one error event, got %+v", events)
	}
}

func TestLoadOpenTasksIncludesRunning(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending := models.NewTask("pending one", 1, 3)
	running := models.NewTask("running one", 5, 3)
	done := models.NewTask("done one", 9, 3)
	for _, task := range []models.Task{pending, running, done} {
		if err := st.RecordTaskCreated(ctx, task); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := st.MarkStarted(ctx, running.ID, "worker-1"); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := st.MarkCompleted(ctx, done.ID, "worker-1", models.TaskResult{}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	open, err := st.LoadOpenTasks(ctx)
	if err != nil {
		t.Fatalf("load open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open tasks, got %d", len(open))
	}
	if open[0].ID != running.ID {
		t.Fatalf("expected higher priority first, got %+v", open)
	}
}

func TestCompletedAndFailedBetweenWindows(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(status string, completedAt time.Time) models.Task {
		task := models.NewTask("windowed", 0, 1)
		if err := st.RecordTaskCreated(ctx, task); err != nil {
			t.Fatalf("record: %v", err)
		}
		task.Status = status
		task.CompletedAt = completedAt.Format(time.RFC3339)
		if err := st.UpdateTask(ctx, task); err != nil {
			t.Fatalf("update: %v", err)
		}
		return task
	}

	inWindow := mk(models.TaskCompleted, now.Add(-1*time.Hour))
	mk(models.TaskCompleted, now.Add(-48*time.Hour))
	failed := mk(models.TaskFailed, now.Add(-2*time.Hour))

	completed, err := st.CompletedBetween(ctx, now.Add(-24*time.Hour), now, 0)
	if err != nil {
		t.Fatalf("completed between: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != inWindow.ID {
		t.Fatalf("unexpected completed window: %+v", completed)
	}

	failures, err := st.FailedBetween(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("failed between: %v", err)
	}
	if len(failures) != 1 || failures[0].ID != failed.ID {
		t.Fatalf("unexpected failed window: %+v", failures)
	}
}

func TestTaskStatsCountsEveryStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.RecordTaskCreated(ctx, models.NewTask("p", 0, 1)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	failedTask := models.NewTask("f", 0, 1)
	if err := st.RecordTaskCreated(ctx, failedTask); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := st.MarkFailed(ctx, failedTask.ID, "w", "boom", 0); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	stats, err := st.TaskStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[models.TaskPending] != 3 || stats[models.TaskFailed] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, ok := stats[models.TaskCompleted]; !ok {
		t.Fatal("stats should include zero-count statuses")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if snap, err := st.LoadSnapshot(ctx); err != nil || snap != nil {
		t.Fatalf("expected no snapshot yet, got %+v err=%v", snap, err)
	}

	want := models.SystemSnapshot{
		UptimeStart:    models.NowRFC3339(),
		LastCheckpoint: "",
		WorkerStates:   `[{"worker_id":"worker-1"}]`,
		QueueStats:     `{"size":2}`,
	}
	if err := st.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Second save overwrites the single row.
	want.LastCheckpoint = models.NowRFC3339()
	if err := st.SaveSnapshot(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := st.LoadSnapshot(ctx)
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	if got.UptimeStart != want.UptimeStart || got.LastCheckpoint != want.LastCheckpoint {
		t.Fatalf("snapshot mismatch: %+v != %+v", got, want)
	}
	if got.Timestamp == "" {
		t.Fatal("timestamp not stamped")
	}
}

func TestEventsAfterStreamsInOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := st.AppendEvent(ctx, models.Event{
			Component: ComponentQueue,
			Level:     models.LevelInfo,
			Message:   "event",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	first, err := st.EventsAfter(ctx, 0, 2)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(first) != 2 || first[0].ID >= first[1].ID {
		t.Fatalf("expected 2 ascending events, got %+v", first)
	}

	rest, err := st.EventsAfter(ctx, first[1].ID, 10)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(rest) != 3 {
		t.Fatalf("expected remaining 3 events, got %d", len(rest))
	}
}

func TestPruneEventsKeepsNewest(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := st.AppendEvent(ctx, models.Event{
			Component: ComponentSupervisor,
			Level:     models.LevelInfo,
			Message:   "tick",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := st.PruneEvents(ctx, 4); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, _ := st.RecentEvents(ctx, 100)
	if len(events) != 4 {
		t.Fatalf("expected 4 events left, got %d", len(events))
	}
}

func TestPruneCompletedRespectsCutoffAndStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := models.NewTask("old done", 0, 1)
	fresh := models.NewTask("fresh done", 0, 1)
	pending := models.NewTask("still pending", 0, 1)
	for _, task := range []models.Task{old, fresh, pending} {
		if err := st.RecordTaskCreated(ctx, task); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	old.Status = models.TaskCompleted
	old.CompletedAt = now.AddDate(0, 0, -60).Format(time.RFC3339)
	if err := st.UpdateTask(ctx, old); err != nil {
		t.Fatalf("update: %v", err)
	}
	fresh.Status = models.TaskCompleted
	fresh.CompletedAt = now.Format(time.RFC3339)
	if err := st.UpdateTask(ctx, fresh); err != nil {
		t.Fatalf("update: %v", err)
	}

	if err := st.PruneCompleted(ctx, 30); err != nil {
		t.Fatalf("prune: %v", err)
	}

	if got, _ := st.TaskByID(ctx, old.ID); got != nil {
		t.Fatal("old completed task should be pruned")
	}
	if got, _ := st.TaskByID(ctx, fresh.ID); got == nil {
		t.Fatal("fresh completed task should remain")
	}
	if got, _ := st.TaskByID(ctx, pending.ID); got == nil {
		t.Fatal("pending task should never be pruned")
	}
}

func TestReviewFindingsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.AppendReviewFinding(ctx, "task-x", models.ReviewPrimary, "logic_errors",
		[]string{"off by one in paging"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendReviewFinding(ctx, "task-x", models.ReviewDeep, "security",
		[]string{"token in generated file"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.AppendReviewFinding(ctx, "task-other", models.ReviewPrimary, "syntax_issues",
		[]string{"does not parse"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	findings, err := st.ReviewFindingsFor(ctx, "task-x")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	if findings[0].ReviewKind != models.ReviewDeep {
		t.Fatalf("expected newest first, got %+v", findings)
	}
}
