package reviewer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// newTestPool wires a pool over sqlite and a file-backed model whose canned
// response is the given logic-review reply. The returned directory is the
// default working tree the content checks read produced files from.
func newTestPool(t *testing.T, cfg config.ReviewerConfig, modelReply string) (*Pool, *store.Store, *queue.Queue, string) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(dir, "reviewer-test.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db)
	q := queue.New(st)

	replyPath := filepath.Join(dir, "reply.txt")
	if err := os.WriteFile(replyPath, []byte(modelReply), 0o644); err != nil {
		t.Fatalf("write reply: %v", err)
	}
	registry, err := model.New(config.ModelConfig{
		Type:     "file-backed",
		FilePath: replyPath,
	}, st)
	if err != nil {
		t.Fatalf("model registry: %v", err)
	}

	workspace := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		t.Fatalf("mkdir workspace: %v", err)
	}
	rr, err := repos.New(
		config.ReposConfig{BaseDir: filepath.Join(dir, "repos")},
		config.GitConfig{Branch: "main"},
		st, workspace,
	)
	if err != nil {
		t.Fatalf("repos registry: %v", err)
	}

	return New(cfg, st, q, registry, rr), st, q, workspace
}

func seedCompletedTask(t *testing.T, st *store.Store, description string, result models.TaskResult) models.Task {
	t.Helper()
	ctx := context.Background()
	task := models.NewTask(description, 0, 3)
	if err := st.RecordTaskCreated(ctx, task); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := st.MarkCompleted(ctx, task.ID, "worker-1", result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := st.TaskByID(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("reload: %v", err)
	}
	return *got
}

func TestForceReviewRecordsFindingsAndStats(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{Enabled: true}, `["missing nil check"]`)
	ctx := context.Background()

	task := seedCompletedTask(t, st, "add retry logic", models.TaskResult{
		Files: []string{"retry.go"},
		Tests: models.TestOutcome{OK: false, ExitCode: 1},
	})

	findings, err := pool.ForceReview(ctx, task.ID)
	if err != nil {
		t.Fatalf("force review: %v", err)
	}
	if len(findings[categorySyntax]) == 0 {
		t.Fatalf("expected syntax finding for failing tests, got %v", findings)
	}
	if len(findings[categoryLogic]) != 1 || findings[categoryLogic][0] != "missing nil check" {
		t.Fatalf("expected model logic finding, got %v", findings[categoryLogic])
	}
	if len(findings[categoryIntegration]) == 0 {
		t.Fatalf("expected uncommitted-files finding, got %v", findings)
	}

	stored, err := st.ReviewFindingsFor(ctx, task.ID)
	if err != nil {
		t.Fatalf("load findings: %v", err)
	}
	if len(stored) == 0 {
		t.Fatal("findings not persisted")
	}
	for _, f := range stored {
		if f.ReviewKind != models.ReviewForced {
			t.Fatalf("expected forced kind, got %+v", f)
		}
		var issues []string
		if err := json.Unmarshal([]byte(f.Issues), &issues); err != nil {
			t.Fatalf("issues column not JSON: %q", f.Issues)
		}
	}

	stats := pool.Stats()
	if stats.TasksReviewed != 1 || stats.IssuesDiscovered == 0 || stats.LastReview == "" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestForceReviewRejectsNonCompletedTasks(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{Enabled: true}, "[]")
	ctx := context.Background()

	pending := models.NewTask("not done yet", 0, 1)
	if err := st.RecordTaskCreated(ctx, pending); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := pool.ForceReview(ctx, pending.ID); err == nil ||
		!strings.Contains(err.Error(), "only completed") {
		t.Fatalf("expected only-completed error, got %v", err)
	}

	if _, err := pool.ForceReview(ctx, "task-nope"); err == nil ||
		!strings.Contains(err.Error(), "unknown task") {
		t.Fatalf("expected unknown-task error, got %v", err)
	}
}

func TestMajorTaskGracePeriodDefersWithoutConsuming(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{
		Enabled:        true,
		MajorGraceDays: 7,
	}, "[]")

	task := seedCompletedTask(t, st, "major refactor of the queue", models.TaskResult{
		Files: []string{"queue.go"},
		Tests: models.TestOutcome{OK: true},
	})

	if !pool.respectMajorGrace(task, models.ReviewPrimary) {
		t.Fatal("fresh major task should be inside the grace period")
	}
	// A deferral only delays the review; the task must stay a candidate so
	// the first cycle past the grace window picks it up.
	if pool.alreadyReviewed(task.ID, models.ReviewPrimary) {
		t.Fatal("grace skip must not mark the task reviewed")
	}

	// The counter ticks once per task, not once per cycle.
	if !pool.respectMajorGrace(task, models.ReviewPrimary) {
		t.Fatal("task still inside the grace period")
	}
	if stats := pool.Stats(); stats.MajorTasksRespected != 1 {
		t.Fatalf("grace skip counted wrong: %+v", stats)
	}

	// Past the grace window the task is reviewed like any other.
	aged := task
	aged.CompletedAt = time.Now().UTC().AddDate(0, 0, -8).Format(time.RFC3339)
	if pool.respectMajorGrace(aged, models.ReviewPrimary) {
		t.Fatal("task past the grace window must be eligible")
	}

	minor := task
	minor.Description = "tiny fix"
	if pool.respectMajorGrace(minor, models.ReviewPrimary) {
		t.Fatal("non-major task must not be deferred")
	}
}

func TestMajorGraceOnlyAppliesToPrimaryReviews(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{
		Enabled:        true,
		MajorGraceDays: 7,
	}, "[]")

	task := seedCompletedTask(t, st, "significant migration of the store", models.TaskResult{
		Files: []string{"store.go"},
		Tests: models.TestOutcome{OK: true},
	})

	if pool.respectMajorGrace(task, models.ReviewDeep) {
		t.Fatal("deep reviews must not honour the grace period")
	}
	if pool.respectMajorGrace(task, models.ReviewForced) {
		t.Fatal("forced reviews must not honour the grace period")
	}
}

func TestAnalyzeReadsProducedFilesFromWorkingTree(t *testing.T) {
	pool, st, _, workspace := newTestPool(t, config.ReviewerConfig{Enabled: true}, "[]")
	ctx := context.Background()

	source := `package main

import (
	"fmt"
	"net/http"
	"os/exec"
)

func run(userInput string) {
	resp, err := http.Get("http://203.0.113.7/metrics")
	if err != nil {
	}
	out, err := exec.Command("sh", "-c", userInput).Output()
	if err != nil {
	}
	fmt.Println(resp, out)
}
`
	if err := os.WriteFile(filepath.Join(workspace, "main.go"), []byte(source), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	task := seedCompletedTask(t, st, "add a metrics fetcher", models.TaskResult{
		Files:  []string{"main.go"},
		Commit: "abc123",
		Tests:  models.TestOutcome{OK: true},
	})

	findings := pool.analyze(ctx, task, models.ReviewDeep)

	syntax := strings.Join(findings[categorySyntax], "; ")
	if !strings.Contains(syntax, "empty handler") || !strings.Contains(syntax, "prints to stdout") {
		t.Fatalf("file contents not inspected for syntax issues: %v", findings[categorySyntax])
	}
	if sec := strings.Join(findings[categorySecurity], "; "); !strings.Contains(sec, "dynamic command execution") {
		t.Fatalf("shell invocation not flagged: %v", findings[categorySecurity])
	}
	if maint := strings.Join(findings[categoryMaintainability], "; "); !strings.Contains(maint, "203.0.113.7") {
		t.Fatalf("hard-coded address not flagged: %v", findings[categoryMaintainability])
	}
	if impr := strings.Join(findings[categoryImprovements], "; "); !strings.Contains(impr, "no comments") {
		t.Fatalf("comment-free file not flagged: %v", findings[categoryImprovements])
	}
}

func TestAnalyzeToleratesMissingFiles(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{Enabled: true}, "[]")
	ctx := context.Background()

	// The working tree may have moved on since completion; metadata checks
	// still run, content checks simply find nothing.
	task := seedCompletedTask(t, st, "long gone", models.TaskResult{
		Files:  []string{"vanished.go", "../escape.go"},
		Commit: "def456",
		Tests:  models.TestOutcome{OK: true},
	})

	findings := pool.analyze(ctx, task, models.ReviewDeep)
	if len(findings[categorySecurity]) != 0 || len(findings[categoryMaintainability]) != 0 {
		t.Fatalf("unreadable files must not produce content findings: %v", findings)
	}
}

func TestCycleFansOutAcrossReviewWorkers(t *testing.T) {
	pool, st, _, _ := newTestPool(t, config.ReviewerConfig{
		Enabled: true,
		Workers: 3,
	}, "[]")
	ctx := context.Background()

	var seeded []models.Task
	for i := 0; i < 5; i++ {
		seeded = append(seeded, seedCompletedTask(t, st, "routine change", models.TaskResult{
			Files:  []string{"change.go", "change_test.go"},
			Commit: "fed789",
			Tests:  models.TestOutcome{OK: true},
		}))
	}

	if err := pool.cycle(ctx, models.ReviewPrimary); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	stats := pool.Stats()
	if stats.TasksReviewed != len(seeded) {
		t.Fatalf("expected %d reviews, got %d", len(seeded), stats.TasksReviewed)
	}
	for _, task := range seeded {
		if !pool.alreadyReviewed(task.ID, models.ReviewPrimary) {
			t.Fatalf("task %s not reviewed", task.ID)
		}
	}

	// A second cycle is a no-op thanks to the dedup set.
	if err := pool.cycle(ctx, models.ReviewPrimary); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := pool.Stats().TasksReviewed; got != len(seeded) {
		t.Fatalf("cycle re-reviewed tasks: %d", got)
	}
}

func TestFollowupEnqueuedAtCriticalThreshold(t *testing.T) {
	reply := `["first logic problem", "second logic problem", "third logic problem"]`
	pool, st, q, _ := newTestPool(t, config.ReviewerConfig{
		Enabled:         true,
		CreateFollowups: true,
	}, reply)
	ctx := context.Background()

	task := seedCompletedTask(t, st, "implement pagination", models.TaskResult{
		Files:  []string{"page.go", "page_test.go"},
		Commit: "abc123",
		Tests:  models.TestOutcome{OK: true},
	})

	if _, err := pool.review(ctx, task, models.ReviewPrimary); err != nil {
		t.Fatalf("review: %v", err)
	}

	followup, ok := q.TryGet()
	if !ok {
		t.Fatal("expected a follow-up task in the queue")
	}
	if followup.Priority != followupPriority {
		t.Fatalf("expected priority %d, got %d", followupPriority, followup.Priority)
	}
	if !strings.Contains(followup.Metadata, task.ID) {
		t.Fatalf("follow-up metadata should reference the reviewed task: %q", followup.Metadata)
	}
	if !strings.Contains(followup.Description, "first logic problem") {
		t.Fatalf("follow-up description should list the findings: %q", followup.Description)
	}
}

func TestNoFollowupBelowThreshold(t *testing.T) {
	pool, st, q, _ := newTestPool(t, config.ReviewerConfig{
		Enabled:         true,
		CreateFollowups: true,
	}, `["only one problem"]`)
	ctx := context.Background()

	task := seedCompletedTask(t, st, "small change", models.TaskResult{
		Files:  []string{"x.go", "x_test.go"},
		Commit: "def456",
		Tests:  models.TestOutcome{OK: true},
	})

	if _, err := pool.review(ctx, task, models.ReviewPrimary); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, ok := q.TryGet(); ok {
		t.Fatal("no follow-up expected below the critical threshold")
	}
}
