// Package reviewer implements the tireless reviewer pool: background workers
// that re-examine completed tasks on two cadences, record categorized
// findings and optionally enqueue follow-up fix tasks.
package reviewer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const (
	// Primary reviews cover tasks completed inside this window.
	primaryWindow = 24 * time.Hour
	// Deep reviews cover tasks older than the primary window, up to a week.
	deepWindow = 7 * 24 * time.Hour
	// Deep cycles are bounded so a long backlog cannot starve the pool.
	deepBatchLimit = 50

	followupPriority = 2
	// A follow-up is enqueued when syntax plus logic findings reach this count.
	followupThreshold = 3
)

// Pool runs the review workers.
type Pool struct {
	cfg      config.ReviewerConfig
	store    *store.Store
	queue    *queue.Queue
	registry *model.Registry
	repos    *repos.Registry

	mu         sync.Mutex
	stats      models.ReviewerStats
	reviewed   map[string]struct{} // taskID "/" kind
	graceNoted map[string]struct{} // tasks already counted as grace skips

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an idle pool; Start launches the cadence loops. rr resolves the
// reviewed tasks' working trees so the checks can read the produced files.
func New(cfg config.ReviewerConfig, st *store.Store, q *queue.Queue, reg *model.Registry, rr *repos.Registry) *Pool {
	return &Pool{
		cfg:        cfg,
		store:      st,
		queue:      q,
		registry:   reg,
		repos:      rr,
		reviewed:   map[string]struct{}{},
		graceNoted: map[string]struct{}{},
	}
}

// Start launches the primary and deep cadence loops. No-op when the reviewer
// is disabled.
func (p *Pool) Start(ctx context.Context) {
	if !p.cfg.Enabled {
		slog.Info("reviewer: disabled")
		return
	}
	if p.cancel != nil {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	primary := time.Duration(p.cfg.IntervalSec) * time.Second
	if primary <= 0 {
		primary = 300 * time.Second
	}
	deep := time.Duration(p.cfg.DeepIntervalSec) * time.Second
	if deep <= 0 {
		deep = 1800 * time.Second
	}

	p.wg.Add(2)
	go p.cadence(rctx, models.ReviewPrimary, primary)
	go p.cadence(rctx, models.ReviewDeep, deep)
	slog.Info("reviewer: started", "primary_interval", primary, "deep_interval", deep)
}

// Stop cancels the cadence loops and joins them.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	slog.Info("reviewer: stopped")
}

func (p *Pool) cadence(ctx context.Context, kind string, every time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.cycle(ctx, kind); err != nil {
				slog.Warn("reviewer: cycle failed", "kind", kind, "error", err)
			}
		}
	}
}

// cycle reviews one batch of candidates for the given kind, fanned out over
// the configured number of review workers. Primary cycles cover the last 24
// hours; deep cycles cover the 24h-7d band.
func (p *Pool) cycle(ctx context.Context, kind string) error {
	now := time.Now().UTC()
	var (
		tasks []models.Task
		err   error
	)
	switch kind {
	case models.ReviewDeep:
		tasks, err = p.store.CompletedBetween(ctx, now.Add(-deepWindow), now.Add(-primaryWindow), deepBatchLimit)
	default:
		tasks, err = p.store.CompletedBetween(ctx, now.Add(-primaryWindow), now, 0)
	}
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	workers := p.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	feed := make(chan models.Task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range feed {
				if p.alreadyReviewed(task.ID, kind) {
					continue
				}
				if p.respectMajorGrace(task, kind) {
					continue
				}
				if _, err := p.review(ctx, task, kind); err != nil {
					slog.Warn("reviewer: review failed",
						"task_id", task.ID, "kind", kind, "error", err)
				}
			}
		}()
	}

	var cycleErr error
	for _, task := range tasks {
		if ctx.Err() != nil {
			cycleErr = ctx.Err()
			break
		}
		feed <- task
	}
	close(feed)
	wg.Wait()
	return cycleErr
}

// ForceReview reviews one task immediately, bypassing cadence, dedup and the
// major-task grace period.
func (p *Pool) ForceReview(ctx context.Context, taskID string) (map[string][]string, error) {
	task, err := p.store.TaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("unknown task %q", taskID)
	}
	if task.Status != models.TaskCompleted {
		return nil, fmt.Errorf("task %s is %s, only completed tasks can be reviewed", taskID, task.Status)
	}
	return p.review(ctx, *task, models.ReviewForced)
}

// ResultsFor returns the recorded findings for a task, newest first.
func (p *Pool) ResultsFor(ctx context.Context, taskID string) ([]models.ReviewFinding, error) {
	return p.store.ReviewFindingsFor(ctx, taskID)
}

// Stats returns a copy of the running counters.
func (p *Pool) Stats() models.ReviewerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Enabled reports whether the pool was configured to run.
func (p *Pool) Enabled() bool { return p.cfg.Enabled }

func (p *Pool) alreadyReviewed(taskID, kind string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reviewed[taskID+"/"+kind]
	return ok
}

func (p *Pool) markReviewed(taskID, kind string) {
	p.mu.Lock()
	p.reviewed[taskID+"/"+kind] = struct{}{}
	p.mu.Unlock()
}

// respectMajorGrace skips tasks whose description marks them as major work
// completed within the grace period. The deferral only delays the review: the
// task stays a candidate and is picked up by the first cycle past the grace
// window. Only primary reviews honour the grace; deep-window tasks are always
// reviewed, and forced reviews never pass through here.
func (p *Pool) respectMajorGrace(task models.Task, kind string) bool {
	if kind != models.ReviewPrimary {
		return false
	}
	if p.cfg.MajorGraceDays <= 0 || !isMajorTask(task.Description) {
		return false
	}
	completed := models.ParseRFC3339(task.CompletedAt)
	if completed.IsZero() {
		return false
	}
	grace := time.Duration(p.cfg.MajorGraceDays) * 24 * time.Hour
	if time.Since(completed) >= grace {
		return false
	}

	p.mu.Lock()
	if _, noted := p.graceNoted[task.ID]; !noted {
		p.graceNoted[task.ID] = struct{}{}
		p.stats.MajorTasksRespected++
	}
	p.mu.Unlock()
	slog.Debug("reviewer: major task inside grace period, skipping",
		"task_id", task.ID, "kind", kind)
	return true
}

// review runs every category check for one task, persists the non-empty
// categories and updates the counters. Returns the findings by category.
func (p *Pool) review(ctx context.Context, task models.Task, kind string) (map[string][]string, error) {
	findings := p.analyze(ctx, task, kind)

	var issues, improvements int
	for _, category := range categoryOrder(kind) {
		list := findings[category]
		if len(list) == 0 {
			continue
		}
		if category == categoryImprovements {
			improvements += len(list)
		} else {
			issues += len(list)
		}
		if err := p.store.AppendReviewFinding(ctx, task.ID, kind, category, list); err != nil {
			return findings, err
		}
	}

	p.mu.Lock()
	p.stats.TasksReviewed++
	p.stats.IssuesDiscovered += issues
	p.stats.ImprovementsSuggested += improvements
	p.stats.LastReview = models.NowRFC3339()
	p.mu.Unlock()
	p.markReviewed(task.ID, kind)

	critical := len(findings[categorySyntax]) + len(findings[categoryLogic])
	if p.cfg.CreateFollowups && critical >= followupThreshold {
		if err := p.enqueueFollowup(ctx, task, findings); err != nil {
			slog.Warn("reviewer: failed to enqueue follow-up", "task_id", task.ID, "error", err)
		}
	}

	slog.Info("reviewer: task reviewed",
		"task_id", task.ID, "kind", kind, "issues", issues, "improvements", improvements)
	return findings, nil
}

// enqueueFollowup creates a fix task referencing the reviewed task.
func (p *Pool) enqueueFollowup(ctx context.Context, task models.Task, findings map[string][]string) error {
	desc := fmt.Sprintf("Fix issues found in review of task %s (%q):\n", task.ID, firstLine(task.Description))
	for _, category := range []string{categorySyntax, categoryLogic} {
		for _, issue := range findings[category] {
			desc += "- " + issue + "\n"
		}
	}

	followup := models.NewTask(desc, followupPriority, task.MaxRetries)
	followup.TargetRepo = task.TargetRepo
	followup.Metadata = fmt.Sprintf(`{"followup_of":%q}`, task.ID)
	if err := p.queue.Put(ctx, followup); err != nil {
		return err
	}
	slog.Info("reviewer: follow-up task enqueued",
		"task_id", followup.ID, "reviewed_task", task.ID)
	return nil
}
