package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/internal/validate"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const (
	pausePollInterval = time.Second
	dequeueTimeout    = time.Second

	// Generated files longer than this get an advisory event.
	longFileLineLimit = 100
)

// run is one worker's loop. Each iteration observes pause and shutdown, then
// waits briefly for a task so cancellation is never missed.
func (p *Pool) run(ctx context.Context, w *worker) {
	slog.Info("executor: worker started", "worker_id", w.id)
	defer w.setState(func(s *models.WorkerState) {
		s.Status = models.WorkerStopped
		s.CurrentTask = ""
	})

	for {
		if ctx.Err() != nil {
			return
		}

		if p.Paused() {
			w.setState(func(s *models.WorkerState) { s.Status = models.WorkerPaused })
			if err := sleepCtx(ctx, pausePollInterval); err != nil {
				return
			}
			continue
		}

		w.setState(func(s *models.WorkerState) { s.Status = models.WorkerWaiting })
		dctx, dcancel := context.WithTimeout(ctx, dequeueTimeout)
		task, ok := p.queue.Get(dctx)
		dcancel()
		if !ok {
			continue
		}

		p.executeSafely(ctx, w, task)
	}
}

// executeSafely wraps one task execution in a panic recovery so an internal
// bug degrades to a logged error plus a short sleep, never a dead worker.
func (p *Pool) executeSafely(ctx context.Context, w *worker, task models.Task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor: panic in worker loop",
				"worker_id", w.id, "task_id", task.ID, "panic", r,
				"stack", string(debug.Stack()))
			w.setState(func(s *models.WorkerState) {
				s.Status = models.WorkerIdle
				s.CurrentTask = ""
			})
			_ = sleepCtx(ctx, time.Second)
		}
	}()
	p.execute(ctx, w, task)
}

func (p *Pool) execute(ctx context.Context, w *worker, task models.Task) {
	w.setState(func(s *models.WorkerState) {
		s.Status = models.WorkerWorking
		s.CurrentTask = task.ID
	})
	defer w.setState(func(s *models.WorkerState) {
		s.Status = models.WorkerIdle
		s.CurrentTask = ""
	})

	if err := p.persist(ctx, func() error { return p.store.MarkStarted(ctx, task.ID, w.id) }); err != nil {
		p.fail(ctx, w, task, failPersistence(err.Error()))
		return
	}

	result, perr := p.pipeline(ctx, w, task)
	if perr != nil {
		p.fail(ctx, w, task, perr)
		return
	}

	if err := p.persist(ctx, func() error {
		return p.store.MarkCompleted(ctx, task.ID, w.id, *result)
	}); err != nil {
		p.fail(ctx, w, task, failPersistence(err.Error()))
		return
	}

	w.setState(func(s *models.WorkerState) { s.CompletedCount++ })
	slog.Info("executor: task completed",
		"worker_id", w.id, "task_id", task.ID, "files", len(result.Files), "commit", result.Commit)
}

// pipeline drives generate → extract → syntax → tests → commit.
func (p *Pool) pipeline(ctx context.Context, w *worker, task models.Task) (*models.TaskResult, *pipelineError) {
	timeout := time.Duration(p.cfg.TaskTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	// Generate.
	gctx, gcancel := context.WithTimeout(ctx, timeout)
	output, stats, err := p.registry.Generate(gctx, task.Description, task.ID)
	gcancel()
	if err != nil {
		return nil, failTransient(fmt.Sprintf("generation failed: %v", err))
	}
	if strings.TrimSpace(output) == "" {
		return nil, failTransient("generation returned empty output")
	}

	// Extract.
	blocks := validate.ExtractBlocks(output, p.cfg.DefaultFilename)
	if len(blocks) == 0 {
		return nil, failTransient("no code blocks in generation output")
	}

	// Syntax.
	valid, checks := validate.CheckSyntax(blocks)
	if !valid {
		return nil, failInvalid(syntaxErrors(checks))
	}

	for _, b := range blocks {
		if lines := strings.Count(b.Source, "\n") + 1; lines > longFileLineLimit {
			_ = p.store.AppendEvent(ctx, models.Event{
				TaskID:    task.ID,
				WorkerID:  w.id,
				Component: store.ComponentExecutor,
				Level:     models.LevelInfo,
				Message:   fmt.Sprintf("%s is %d lines, consider splitting it", b.Filename, lines),
			})
		}
	}

	// Tests.
	testResult := validate.RunTests(ctx, blocks, validate.RunOptions{
		TestCommand: p.cfg.TestCommand,
		Timeout:     timeout,
	})
	if !testResult.OK {
		msg := fmt.Sprintf("tests failed (exit %d)", testResult.ExitCode)
		if testResult.Error != "" {
			msg += ": " + testResult.Error
		}
		return nil, failTests(msg)
	}

	// Commit. The target working tree is resolved before taking the alias
	// lock; an unknown alias fails the task without retry.
	dir, err := p.repos.WorkingDir(task.TargetRepo)
	if err != nil {
		return nil, failRepoMissing(err.Error())
	}

	result := &models.TaskResult{
		Files: blockNames(blocks),
		Model: stats,
		Tests: testResult,
	}

	unlock := p.repos.LockAlias(task.TargetRepo)
	commitErr := writeBlocks(dir, blocks)
	var outcome string
	if commitErr == nil {
		co := p.repos.CommitDir(ctx, dir, commitMessage(task))
		switch {
		case co.Error != "" && !co.OK:
			commitErr = fmt.Errorf("%s", co.Error)
		case co.Noop:
			outcome = ""
		default:
			outcome = co.Commit
		}
	}
	unlock()

	if commitErr != nil {
		// A commit problem does not fail the task: the artifact exists.
		slog.Warn("executor: commit failed",
			"worker_id", w.id, "task_id", task.ID, "error", commitErr)
		_ = p.store.AppendEvent(ctx, models.Event{
			TaskID:    task.ID,
			WorkerID:  w.id,
			Component: store.ComponentGit,
			Level:     models.LevelWarning,
			Message:   fmt.Sprintf("%s: %v", CommitProblem, commitErr),
		})
	} else if outcome != "" {
		result.Commit = outcome
		if err := p.store.AppendCommit(ctx, task.ID, outcome, commitMessage(task), result.Files); err != nil {
			slog.Warn("executor: failed to record commit", "task_id", task.ID, "error", err)
		}
	}

	return result, nil
}

// fail records the failure and re-queues when the retry budget and the
// failure kind allow it.
func (p *Pool) fail(ctx context.Context, w *worker, task models.Task, perr *pipelineError) {
	w.setState(func(s *models.WorkerState) { s.FailedCount++ })

	if err := p.persist(ctx, func() error {
		return p.store.MarkFailed(ctx, task.ID, w.id, perr.Error(), task.RetryCount)
	}); err != nil {
		slog.Error("executor: failed to record task failure",
			"worker_id", w.id, "task_id", task.ID, "error", err)
	}

	if !perr.retriable {
		slog.Warn("executor: task failed terminally",
			"worker_id", w.id, "task_id", task.ID, "kind", perr.kind, "error", perr.msg)
		return
	}

	requeued, err := p.queue.Retry(ctx, task)
	if err != nil {
		slog.Error("executor: retry enqueue failed", "task_id", task.ID, "error", err)
		return
	}
	if requeued {
		slog.Info("executor: task scheduled for retry",
			"worker_id", w.id, "task_id", task.ID, "kind", perr.kind,
			"attempt", task.RetryCount+1, "max_retries", task.MaxRetries)
	} else {
		slog.Warn("executor: retries exhausted",
			"worker_id", w.id, "task_id", task.ID, "kind", perr.kind, "error", perr.msg)
	}
}

// persist runs op, retrying once on failure before giving up.
func (p *Pool) persist(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	slog.Warn("executor: store write failed, retrying once", "error", err)
	if err2 := op(); err2 == nil {
		return nil
	}
	return fmt.Errorf("store write failed twice: %w", err)
}

// writeBlocks materializes the generated files into the repository working
// directory, creating parent directories as needed.
func writeBlocks(dir string, blocks []validate.Block) error {
	for _, b := range blocks {
		clean := filepath.Clean(b.Filename)
		if clean == "" || clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("refusing to write outside repository: %q", b.Filename)
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(clean), err)
		}
		if err := os.WriteFile(path, []byte(b.Source+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", clean, err)
		}
	}
	return nil
}

func blockNames(blocks []validate.Block) []string {
	names := make([]string, len(blocks))
	for i, b := range blocks {
		names[i] = b.Filename
	}
	return names
}

func syntaxErrors(checks []validate.FileCheck) string {
	var parts []string
	for _, c := range checks {
		if !c.Valid {
			parts = append(parts, fmt.Sprintf("%s: %s", c.Filename, c.Error))
		}
	}
	return "syntax check failed: " + strings.Join(parts, "; ")
}

func commitMessage(task models.Task) string {
	summary := strings.TrimSpace(strings.SplitN(task.Description, "\n", 2)[0])
	if len(summary) > 60 {
		summary = summary[:60] + "..."
	}
	return fmt.Sprintf("%s\n\nTask: %s", summary, task.ID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
