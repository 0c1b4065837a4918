// Package supervisor owns the agent lifecycle: it wires the queue, worker
// pool, reviewer pool and repository registry together, keeps the durable
// system snapshot current, enforces retention and drives the periodic
// checkpoint pause.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/executor"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/report"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/reviewer"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Supervisor runs the daemon. Build with New, then Run blocks until the
// context is cancelled.
type Supervisor struct {
	cfg      config.Config
	store    *store.Store
	queue    *queue.Queue
	pool     *executor.Pool
	reviewer *reviewer.Pool
	repos    *repos.Registry
	reports  *report.Generator

	cron    *cron.Cron
	watcher *taskFileWatcher

	mu             sync.Mutex
	cond           *sync.Cond
	uptimeStart    string
	lastCheckpoint string
	inCheckpoint   bool
	resumeAsked    bool
}

// New wires the supervisor over already-constructed components.
func New(cfg config.Config, st *store.Store, q *queue.Queue, pool *executor.Pool,
	rev *reviewer.Pool, rr *repos.Registry) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		store:       st,
		queue:       q,
		pool:        pool,
		reviewer:    rev,
		repos:       rr,
		reports:     report.New(st, cfg.Supervisor.ReportsDir),
		uptimeStart: models.NowRFC3339(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// everything down in reverse order and writes a final snapshot.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.queue.Initialize(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	s.restoreSnapshot(ctx)

	if s.cfg.Repos.AutoPull {
		s.pullTracked(ctx)
	}
	if s.cfg.Repos.AutoScan {
		s.scanConnected(ctx)
	}

	s.pool.Start(ctx, s.cfg.Workers.Count)
	s.reviewer.Start(ctx)

	if s.cfg.Workers.TaskFile != "" {
		if n, err := s.LoadTaskFile(ctx, s.cfg.Workers.TaskFile); err != nil {
			slog.Warn("supervisor: task file load failed",
				"path", s.cfg.Workers.TaskFile, "error", err)
		} else if n > 0 {
			slog.Info("supervisor: tasks loaded from file",
				"path", s.cfg.Workers.TaskFile, "count", n)
		}
		w, err := watchTaskFile(ctx, s.cfg.Workers.TaskFile, func() {
			if n, err := s.LoadTaskFile(ctx, s.cfg.Workers.TaskFile); err != nil {
				slog.Warn("supervisor: task file reload failed", "error", err)
			} else if n > 0 {
				slog.Info("supervisor: tasks reloaded from file", "count", n)
			}
		})
		if err != nil {
			slog.Warn("supervisor: task file watch unavailable", "error", err)
		} else {
			s.watcher = w
		}
	}

	if err := s.startTimers(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	slog.Info("supervisor: running",
		"workers", s.cfg.Workers.Count,
		"reviewer_enabled", s.cfg.Reviewer.Enabled)
	<-ctx.Done()

	slog.Info("supervisor: shutting down")
	s.cron.Stop()
	if s.watcher != nil {
		s.watcher.close()
	}
	s.interruptCheckpoint()
	s.reviewer.Stop()
	s.pool.Stop()
	s.saveSnapshot(context.Background())
	slog.Info("supervisor: shutdown complete")
	return nil
}

// startTimers registers the snapshot, retention and checkpoint timers.
func (s *Supervisor) startTimers(ctx context.Context) error {
	s.cron = cron.New()

	saveEvery := s.cfg.Supervisor.StateSaveIntervalSec
	if saveEvery <= 0 {
		saveEvery = 3600
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", saveEvery), func() {
		s.saveSnapshot(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("@hourly", func() {
		s.enforceRetention(ctx)
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("@every 1m", func() {
		if s.checkpointDue() {
			s.runCheckpoint(ctx)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Pause pauses the worker pool.
func (s *Supervisor) Pause() { s.pool.Pause() }

// Resume lifts a pause, including a checkpoint pause.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	s.resumeAsked = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.pool.Resume()
}

// InCheckpoint reports whether a checkpoint pause is in progress.
func (s *Supervisor) InCheckpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inCheckpoint
}

// UptimeStart returns the restored or fresh uptime origin.
func (s *Supervisor) UptimeStart() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uptimeStart
}

// LastCheckpoint returns the last checkpoint stamp ("" when none yet).
func (s *Supervisor) LastCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckpoint
}

// pullTracked refreshes every tracked cloned repository at startup.
func (s *Supervisor) pullTracked(ctx context.Context) {
	for _, b := range s.repos.List() {
		if !b.Tracked || b.RemoteURL == "" {
			continue
		}
		if err := s.repos.Pull(ctx, b.Alias); err != nil {
			slog.Warn("supervisor: startup pull failed", "alias", b.Alias, "error", err)
		}
	}
}

// Marker tasks queued per repository and scan, so a TODO-heavy tree cannot
// flood the queue.
const maxScanTasksPerRepo = 20

// scanConnected walks every connected repository for TODO-style markers and
// queues them as low-priority tasks. Markers already represented by an open
// task (same description) are skipped, so repeated startups do not pile up
// duplicates.
func (s *Supervisor) scanConnected(ctx context.Context) {
	open, err := s.store.LoadOpenTasks(ctx)
	if err != nil {
		slog.Warn("supervisor: startup scan skipped, open tasks unavailable", "error", err)
		return
	}
	known := map[string]struct{}{}
	for _, t := range open {
		known[t.Description] = struct{}{}
	}

	for _, b := range s.repos.List() {
		result, err := s.repos.Scan(b.Alias)
		if err != nil {
			slog.Warn("supervisor: startup scan failed", "alias", b.Alias, "error", err)
			continue
		}
		queued := 0
		for _, marker := range result.Tasks {
			if queued == maxScanTasksPerRepo {
				break
			}
			desc := fmt.Sprintf("Address %s at %s:%d: %s",
				marker.Marker, marker.File, marker.Line, marker.Text)
			if _, dup := known[desc]; dup {
				continue
			}
			task := models.NewTask(desc, 0, s.cfg.Workers.MaxRetries)
			task.TargetRepo = b.Alias
			task.Metadata = `{"source":"repo_scan"}`
			if err := s.queue.Put(ctx, task); err != nil {
				slog.Warn("supervisor: failed to queue scan task", "alias", b.Alias, "error", err)
				continue
			}
			known[desc] = struct{}{}
			queued++
		}
		if queued > 0 {
			slog.Info("supervisor: repository scan queued tasks",
				"alias", b.Alias, "count", queued)
		}
	}
}

// enforceRetention prunes the events table and old terminal tasks.
func (s *Supervisor) enforceRetention(ctx context.Context) {
	if err := s.store.PruneEvents(ctx, s.cfg.Supervisor.MaxLogEntries); err != nil {
		slog.Warn("supervisor: event prune failed", "error", err)
	}
	if days := s.cfg.Supervisor.CompletedRetentionDays; days > 0 {
		if err := s.store.PruneCompleted(ctx, days); err != nil {
			slog.Warn("supervisor: task prune failed", "error", err)
		}
	}
}

// saveSnapshot persists the snapshot to the store and mirrors it to the
// state file so an operator can inspect it without the database.
func (s *Supervisor) saveSnapshot(ctx context.Context) {
	snap := s.buildSnapshot(ctx)
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		slog.Warn("supervisor: snapshot save failed", "error", err)
	}
	s.writeStateFile(snap)
}

func (s *Supervisor) buildSnapshot(ctx context.Context) models.SystemSnapshot {
	workerStates, _ := json.Marshal(s.pool.Status())
	queueStats, _ := json.Marshal(s.queue.Stats(ctx))

	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SystemSnapshot{
		UptimeStart:    s.uptimeStart,
		LastCheckpoint: s.lastCheckpoint,
		WorkerStates:   string(workerStates),
		QueueStats:     string(queueStats),
		Timestamp:      models.NowRFC3339(),
	}
}

// restoreSnapshot recovers uptime origin and checkpoint stamp, preferring
// the store and falling back to the state file.
func (s *Supervisor) restoreSnapshot(ctx context.Context) {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		slog.Warn("supervisor: snapshot load failed", "error", err)
	}
	if snap == nil {
		snap = s.readStateFile()
	}
	if snap == nil {
		return
	}

	s.mu.Lock()
	if snap.LastCheckpoint != "" {
		s.lastCheckpoint = snap.LastCheckpoint
	}
	// The uptime origin survives restarts; before the first checkpoint it is
	// the reference point for checkpointDue.
	if snap.UptimeStart != "" {
		s.uptimeStart = snap.UptimeStart
	}
	s.mu.Unlock()
	slog.Info("supervisor: snapshot restored",
		"snapshot_time", snap.Timestamp,
		"uptime_start", snap.UptimeStart, "last_checkpoint", snap.LastCheckpoint)
}

func (s *Supervisor) writeStateFile(snap models.SystemSnapshot) {
	path := s.cfg.Supervisor.StateFile
	if path == "" {
		return
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("supervisor: state file dir", "error", err)
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.Warn("supervisor: state file write failed", "error", err)
	}
}

func (s *Supervisor) readStateFile() *models.SystemSnapshot {
	path := s.cfg.Supervisor.StateFile
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var snap models.SystemSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Warn("supervisor: state file unreadable", "path", path, "error", err)
		return nil
	}
	return &snap
}

// interruptCheckpoint wakes a checkpoint wait during shutdown.
func (s *Supervisor) interruptCheckpoint() {
	s.mu.Lock()
	s.resumeAsked = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
