package executor

import (
	"context"
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
	"github.com/CosmoTheDev/codeloop-agent/internal/validate"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const goodTemplate = "# File: hello.go\n```go\npackage main\n\n// {{description}}\nfunc main() {}\n```\n"

const brokenTemplate = "# File: broken.go\n```go\npackage main\n\nfunc main( {\n```\n"

type harness struct {
	pool  *Pool
	store *store.Store
	queue *queue.Queue
	repos *repos.Registry
	dir   string
}

// newHarness wires a one-worker pool over sqlite, a file-backed model that
// replays the given template, and a connected local repository "proj".
func newHarness(t *testing.T, template string) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(dir, "executor-test.db"),
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

	templatePath := filepath.Join(dir, "template.md")
	if err := os.WriteFile(templatePath, []byte(template), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	registry, err := model.New(config.ModelConfig{
		Type:     "file-backed",
		FilePath: templatePath,
	}, st)
	if err != nil {
		t.Fatalf("model registry: %v", err)
	}

	repoDir := filepath.Join(dir, "proj")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	rr, err := repos.New(
		config.ReposConfig{BaseDir: filepath.Join(dir, "repos")},
		config.GitConfig{Branch: "main", AuthorName: "tester", AuthorEmail: "tester@localhost"},
		st,
		filepath.Join(dir, "workspace"),
	)
	if err != nil {
		t.Fatalf("repos registry: %v", err)
	}
	if _, err := rr.ConnectLocal(context.Background(), repoDir, "proj", true); err != nil {
		t.Fatalf("connect repo: %v", err)
	}

	cfg := config.WorkerConfig{
		Count:           1,
		MaxRetries:      1,
		TaskTimeoutSec:  30,
		TestCommand:     "true",
		DefaultFilename: "generated.go",
	}
	return &harness{
		pool:  New(cfg, q, st, registry, rr),
		store: st,
		queue: q,
		repos: rr,
		dir:   repoDir,
	}
}

// waitForStatus polls until the task reaches status or the deadline passes.
func waitForStatus(t *testing.T, st *store.Store, taskID, status string) models.Task {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.TaskByID(context.Background(), taskID)
		if err != nil {
			t.Fatalf("load task: %v", err)
		}
		if got != nil && got.Status == status {
			return *got
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", taskID, status)
	return models.Task{}
}

func TestPoolCompletesTaskEndToEnd(t *testing.T) {
	h := newHarness(t, goodTemplate)
	ctx := context.Background()

	task := models.NewTask("implement the greeting", 5, 1)
	task.TargetRepo = "proj"
	if err := h.queue.Put(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}

	h.pool.Start(ctx, 1)
	defer h.pool.Stop()

	done := waitForStatus(t, h.store, task.ID, models.TaskCompleted)

	result, err := models.DecodeTaskResult(done.Result)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Files) != 1 || result.Files[0] != "hello.go" {
		t.Fatalf("unexpected files: %+v", result.Files)
	}
	if !result.Tests.OK {
		t.Fatalf("tests should have passed: %+v", result.Tests)
	}
	if result.Commit == "" {
		t.Fatal("expected a commit hash in the result")
	}

	raw, err := os.ReadFile(filepath.Join(h.dir, "hello.go"))
	if err != nil {
		t.Fatalf("generated file missing: %v", err)
	}
	if !strings.Contains(string(raw), "implement the greeting") {
		t.Fatalf("description not substituted into output:\n%s", raw)
	}

	commits, err := h.repos.RecentCommits("proj", 5)
	if err != nil || len(commits) < 2 {
		t.Fatalf("expected task commit on top of the initial one: %v %v", commits, err)
	}
}

func TestPoolExhaustsRetriesOnInvalidGeneration(t *testing.T) {
	h := newHarness(t, brokenTemplate)
	ctx := context.Background()

	task := models.NewTask("doomed task", 0, 1)
	task.TargetRepo = "proj"
	if err := h.queue.Put(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}

	h.pool.Start(ctx, 1)
	defer h.pool.Stop()

	failed := waitForStatus(t, h.store, task.ID, models.TaskFailed)
	// The first failure is retried once; only then does the task stay failed.
	deadline := time.Now().Add(10 * time.Second)
	for failed.RetryCount < 1 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		failed = waitForStatus(t, h.store, task.ID, models.TaskFailed)
	}
	if failed.RetryCount != 1 {
		t.Fatalf("expected one retry before giving up, got %d", failed.RetryCount)
	}
	if !strings.Contains(failed.Error, string(InvalidGeneration)) {
		t.Fatalf("failure not classified: %q", failed.Error)
	}
}

func TestPoolPauseHoldsWorkResumeReleasesIt(t *testing.T) {
	h := newHarness(t, goodTemplate)
	ctx := context.Background()

	h.pool.Start(ctx, 1)
	defer h.pool.Stop()
	h.pool.Pause()
	if !h.pool.Paused() {
		t.Fatal("pause flag not set")
	}

	task := models.NewTask("held task", 0, 1)
	task.TargetRepo = "proj"
	if err := h.queue.Put(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	got, err := h.store.TaskByID(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != models.TaskPending {
		t.Fatalf("paused pool must not pick up work, status %q", got.Status)
	}

	h.pool.Resume()
	waitForStatus(t, h.store, task.ID, models.TaskCompleted)
}

func TestPoolRestartReplacesWorker(t *testing.T) {
	h := newHarness(t, goodTemplate)
	ctx := context.Background()

	h.pool.Start(ctx, 2)
	defer h.pool.Stop()

	before := h.pool.Status()
	if len(before) != 2 {
		t.Fatalf("expected 2 workers, got %+v", before)
	}

	if err := h.pool.Restart(before[0].ID); err != nil {
		t.Fatalf("restart: %v", err)
	}
	after := h.pool.Status()
	if len(after) != 2 {
		t.Fatalf("restart changed the pool size: %+v", after)
	}
	for _, w := range after {
		if w.ID == before[0].ID {
			t.Fatalf("old worker id survived restart: %+v", after)
		}
	}

	if err := h.pool.Restart("worker-99"); err == nil ||
		!strings.Contains(err.Error(), "unknown worker") {
		t.Fatalf("expected unknown worker error, got %v", err)
	}
}

func TestWriteBlocksRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../outside.go", "/abs.go", "a/../../b.go"} {
		err := writeBlocks(dir, []validate.Block{{Filename: name, Source: "package main"}})
		if err == nil || !strings.Contains(err.Error(), "outside repository") {
			t.Fatalf("%q: expected escape rejection, got %v", name, err)
		}
	}
}
