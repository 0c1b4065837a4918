package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

// checkpointDue reports whether a checkpoint should run now. A negative
// cadence disables checkpoints; zero fires immediately (used by tests).
func (s *Supervisor) checkpointDue() bool {
	days := s.cfg.Supervisor.CheckpointDays
	if days < 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inCheckpoint {
		return false
	}
	if days == 0 {
		return true
	}
	if s.lastCheckpoint == "" {
		// First run: the uptime origin is the reference point.
		started := models.ParseRFC3339(s.uptimeStart)
		if started.IsZero() {
			return false
		}
		return time.Since(started) >= time.Duration(days)*24*time.Hour
	}
	last := models.ParseRFC3339(s.lastCheckpoint)
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= time.Duration(days)*24*time.Hour
}

// runCheckpoint pauses the workers, writes the summary report, stamps the
// checkpoint and holds the pause until an operator resumes or the daemon
// shuts down. The pool is always resumed on exit.
func (s *Supervisor) runCheckpoint(ctx context.Context) {
	s.mu.Lock()
	if s.inCheckpoint {
		s.mu.Unlock()
		return
	}
	s.inCheckpoint = true
	s.resumeAsked = false
	previous := s.lastCheckpoint
	s.mu.Unlock()

	slog.Info("supervisor: checkpoint starting")
	s.pool.Pause()

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	if prev := models.ParseRFC3339(previous); !prev.IsZero() {
		from = prev
	}
	if path, err := s.reports.WriteWeekly(ctx, s.reviewer.Stats(), from, now); err != nil {
		slog.Warn("supervisor: checkpoint report failed", "error", err)
	} else {
		slog.Info("supervisor: checkpoint report written", "path", path)
	}

	s.mu.Lock()
	s.lastCheckpoint = models.NowRFC3339()
	s.mu.Unlock()
	s.saveSnapshot(ctx)

	s.waitForResume(ctx)

	s.mu.Lock()
	s.inCheckpoint = false
	s.mu.Unlock()
	s.pool.Resume()
	slog.Info("supervisor: checkpoint complete, workers resumed")
}

// waitForResume blocks until Resume is called or ctx is cancelled.
func (s *Supervisor) waitForResume(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.resumeAsked && ctx.Err() == nil {
		s.cond.Wait()
	}
}
