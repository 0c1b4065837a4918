package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/internal/executor"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/reviewer"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/internal/supervisor"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

type testGateway struct {
	gw      *Gateway
	handler http.Handler
	store   *store.Store
	queue   *queue.Queue
	dir     string
}

// newTestGateway wires a full gateway over sqlite with an idle worker pool
// and a file-backed model, so handlers can be exercised without the daemon.
func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(dir, "gateway-test.db"),
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
	if err := os.WriteFile(replyPath, []byte(`["missing error check"]`), 0o644); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	cfg := &config.Config{
		Model: config.ModelConfig{
			Type:     "file-backed",
			FilePath: replyPath,
			APIKey:   "sk-very-secret",
		},
		Workers: config.WorkerConfig{Count: 1, MaxRetries: 3, TestCommand: "true"},
		Git:     config.GitConfig{Branch: "main", GitHubToken: "ghp_secret"},
	}

	registry, err := model.New(cfg.Model, st)
	if err != nil {
		t.Fatalf("model registry: %v", err)
	}
	rr, err := repos.New(
		config.ReposConfig{BaseDir: filepath.Join(dir, "repos")},
		cfg.Git, st, filepath.Join(dir, "workspace"),
	)
	if err != nil {
		t.Fatalf("repos registry: %v", err)
	}

	pool := executor.New(cfg.Workers, q, st, registry, rr)
	rev := reviewer.New(config.ReviewerConfig{Enabled: true}, st, q, registry, rr)
	sup := supervisor.New(*cfg, st, q, pool, rev, rr)

	gw := New(cfg, st, q, pool, registry, rr, rev, sup)
	return &testGateway{gw: gw, handler: buildHandler(gw), store: st, queue: q, dir: dir}
}

// call performs one request against the handler and decodes the JSON body.
func (tg *testGateway) call(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("%s %s: response not JSON: %s", method, path, rec.Body.String())
	}
	return rec.Code, decoded
}

func TestHealthAndStatus(t *testing.T) {
	tg := newTestGateway(t)

	code, body := tg.call(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", code, body)
	}

	code, body = tg.call(t, http.MethodGet, "/api/status", nil)
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("status: %d %v", code, body)
	}
	if body["paused"] != false {
		t.Fatalf("fresh gateway must not be paused: %v", body)
	}
	if _, ok := body["queue"]; !ok {
		t.Fatalf("status missing queue section: %v", body)
	}
}

func TestCreateTaskValidatesAndDefaults(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	code, body := tg.call(t, http.MethodPost, "/api/task", map[string]any{
		"description": "add logging",
		"priority":    4,
	})
	if code != http.StatusCreated || body["ok"] != true {
		t.Fatalf("create: %d %v", code, body)
	}
	id, _ := body["task_id"].(string)
	if id == "" {
		t.Fatalf("no task id: %v", body)
	}

	task, err := tg.store.TaskByID(ctx, id)
	if err != nil || task == nil {
		t.Fatalf("load created task: %v", err)
	}
	if task.Priority != 4 || task.MaxRetries != 3 {
		t.Fatalf("defaults not applied: %+v", task)
	}

	if code, _ := tg.call(t, http.MethodPost, "/api/task", map[string]any{"description": "  "}); code != http.StatusBadRequest {
		t.Fatalf("blank description accepted: %d", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/task", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON accepted: %d", rec.Code)
	}
}

func TestCreateTaskWithRepoRequiresKnownAlias(t *testing.T) {
	tg := newTestGateway(t)

	code, _ := tg.call(t, http.MethodPost, "/api/task/with-repo", map[string]any{
		"description": "fix the build",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("missing repo accepted: %d", code)
	}

	code, _ = tg.call(t, http.MethodPost, "/api/task/with-repo", map[string]any{
		"description": "fix the build",
		"repo":        "ghost",
	})
	if code != http.StatusNotFound {
		t.Fatalf("unknown repo should 404: %d", code)
	}
}

func TestGetTaskUnknownIs404(t *testing.T) {
	tg := newTestGateway(t)
	if code, _ := tg.call(t, http.MethodGet, "/api/task/task-missing", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestPauseAndResumeToggleThePool(t *testing.T) {
	tg := newTestGateway(t)

	code, body := tg.call(t, http.MethodPost, "/api/pause", nil)
	if code != http.StatusOK || body["paused"] != true {
		t.Fatalf("pause: %d %v", code, body)
	}
	if _, status := tg.call(t, http.MethodGet, "/api/status", nil); status["paused"] != true {
		t.Fatalf("status should report the pause: %v", status)
	}

	code, body = tg.call(t, http.MethodPost, "/api/resume", nil)
	if code != http.StatusOK || body["paused"] != false {
		t.Fatalf("resume: %d %v", code, body)
	}
}

func TestRestartWorkerValidation(t *testing.T) {
	tg := newTestGateway(t)

	if code, _ := tg.call(t, http.MethodPost, "/api/restart-worker", map[string]any{}); code != http.StatusBadRequest {
		t.Fatalf("empty worker_id accepted: %d", code)
	}
	code, _ := tg.call(t, http.MethodPost, "/api/restart-worker", map[string]any{"worker_id": "worker-42"})
	if code != http.StatusNotFound {
		t.Fatalf("unknown worker should 404: %d", code)
	}
}

func TestSettingsRedactCredentials(t *testing.T) {
	tg := newTestGateway(t)

	code, body := tg.call(t, http.MethodGet, "/api/settings", nil)
	if code != http.StatusOK {
		t.Fatalf("settings: %d %v", code, body)
	}
	settings, _ := body["settings"].(map[string]any)
	if settings == nil {
		t.Fatalf("no settings object: %v", body)
	}
	modelCfg, _ := settings["model"].(map[string]any)
	if modelCfg["api_key"] != "***" {
		t.Fatalf("api key leaked: %v", modelCfg)
	}
	gitCfg, _ := settings["git"].(map[string]any)
	if gitCfg["github_token"] != "***" {
		t.Fatalf("github token leaked: %v", gitCfg)
	}
	// Unset credentials stay blank rather than suggesting one exists.
	if gitCfg["gitlab_token"] != "" && gitCfg["gitlab_token"] != nil {
		t.Fatalf("blank token redacted: %v", gitCfg)
	}
}

func TestModelStatusAndSwitch(t *testing.T) {
	tg := newTestGateway(t)

	code, body := tg.call(t, http.MethodGet, "/api/model", nil)
	if code != http.StatusOK {
		t.Fatalf("model status: %d %v", code, body)
	}
	adapters, _ := body["adapters"].([]any)
	if len(adapters) == 0 {
		t.Fatalf("no adapters reported: %v", body)
	}

	if code, _ := tg.call(t, http.MethodPost, "/api/model/switch", map[string]any{"kind": "hosted"}); code != http.StatusConflict {
		t.Fatalf("unavailable backend switch should 409: %d", code)
	}
	if code, _ := tg.call(t, http.MethodPost, "/api/model/switch", map[string]any{"kind": "file-backed"}); code != http.StatusOK {
		t.Fatalf("switch to available backend failed: %d", code)
	}
}

func TestRepositoryEndpoints(t *testing.T) {
	tg := newTestGateway(t)

	projDir := filepath.Join(tg.dir, "proj")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projDir, "main.go"),
		[]byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if code, _ := tg.call(t, http.MethodPost, "/api/repositories", map[string]any{}); code != http.StatusBadRequest {
		t.Fatalf("empty connect accepted: %d", code)
	}
	if code, _ := tg.call(t, http.MethodPost, "/api/repositories", map[string]any{
		"url": "https://example.com/x.git", "path": projDir,
	}); code != http.StatusBadRequest {
		t.Fatalf("url+path connect accepted: %d", code)
	}

	code, body := tg.call(t, http.MethodPost, "/api/repositories", map[string]any{
		"path": projDir, "alias": "proj", "init": true,
	})
	if code != http.StatusCreated {
		t.Fatalf("connect: %d %v", code, body)
	}

	if code, _ = tg.call(t, http.MethodPost, "/api/repositories", map[string]any{
		"path": projDir, "alias": "proj",
	}); code != http.StatusConflict {
		t.Fatalf("duplicate alias should 409: %d", code)
	}

	code, body = tg.call(t, http.MethodGet, "/api/repositories", nil)
	if code != http.StatusOK {
		t.Fatalf("list: %d %v", code, body)
	}
	if list, _ := body["repositories"].([]any); len(list) != 1 {
		t.Fatalf("expected one binding: %v", body)
	}

	if code, _ = tg.call(t, http.MethodGet, "/api/repositories/proj/tree?depth=2", nil); code != http.StatusOK {
		t.Fatalf("tree: %d", code)
	}
	if code, _ = tg.call(t, http.MethodGet, "/api/repositories/ghost/scan", nil); code != http.StatusNotFound {
		t.Fatalf("scan unknown alias should 404: %d", code)
	}
	if code, _ = tg.call(t, http.MethodDelete, "/api/repositories/ghost", nil); code != http.StatusNotFound {
		t.Fatalf("disconnect unknown alias should 404: %d", code)
	}
	if code, _ = tg.call(t, http.MethodDelete, "/api/repositories/proj", nil); code != http.StatusOK {
		t.Fatalf("disconnect: %d", code)
	}
}

func TestReviewerEndpoints(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	code, body := tg.call(t, http.MethodGet, "/api/tireless-reviewer/status", nil)
	if code != http.StatusOK || body["enabled"] != true {
		t.Fatalf("reviewer status: %d %v", code, body)
	}

	if code, _ = tg.call(t, http.MethodPost, "/api/tireless-reviewer/force", map[string]any{}); code != http.StatusBadRequest {
		t.Fatalf("missing task_id accepted: %d", code)
	}
	if code, _ = tg.call(t, http.MethodPost, "/api/tireless-reviewer/force", map[string]any{
		"task_id": "task-missing",
	}); code != http.StatusNotFound {
		t.Fatalf("unknown task should 404: %d", code)
	}

	pending := models.NewTask("still running", 0, 1)
	if err := tg.store.RecordTaskCreated(ctx, pending); err != nil {
		t.Fatalf("record: %v", err)
	}
	if code, _ = tg.call(t, http.MethodPost, "/api/tireless-reviewer/force", map[string]any{
		"task_id": pending.ID,
	}); code != http.StatusConflict {
		t.Fatalf("non-completed task should 409: %d", code)
	}

	task := models.NewTask("reviewed work", 0, 1)
	if err := tg.store.RecordTaskCreated(ctx, task); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tg.store.MarkCompleted(ctx, task.ID, "worker-1", models.TaskResult{
		Files:  []string{"a.go"},
		Commit: "abc",
		Tests:  models.TestOutcome{OK: true},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	code, body = tg.call(t, http.MethodPost, "/api/tireless-reviewer/force", map[string]any{
		"task_id": task.ID,
	})
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("force review: %d %v", code, body)
	}

	code, body = tg.call(t, http.MethodGet, "/api/tireless-reviewer/results/"+task.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("results: %d %v", code, body)
	}
	if findings, _ := body["findings"].([]any); len(findings) == 0 {
		t.Fatalf("forced review left no findings: %v", body)
	}
}

func TestLogsEndpointReturnsRecentEvents(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	task := models.NewTask("event source", 0, 1)
	if err := tg.store.RecordTaskCreated(ctx, task); err != nil {
		t.Fatalf("record: %v", err)
	}

	code, body := tg.call(t, http.MethodGet, "/api/logs?limit=10", nil)
	if code != http.StatusOK {
		t.Fatalf("logs: %d %v", code, body)
	}
	if logs, _ := body["logs"].([]any); len(logs) == 0 {
		t.Fatalf("expected at least the creation event: %v", body)
	}
}
