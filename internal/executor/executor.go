// Package executor runs the primary worker pool: each worker dequeues a
// task, drives it through generate → validate → commit, records the outcome
// and retries or fails it.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Pool is the primary worker pool.
type Pool struct {
	cfg      config.WorkerConfig
	queue    *queue.Queue
	store    *store.Store
	registry *model.Registry
	repos    *repos.Registry

	mu      sync.RWMutex
	workers map[string]*worker
	paused  bool

	parent context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID int
}

type worker struct {
	id     string
	cancel context.CancelFunc

	mu    sync.Mutex
	state models.WorkerState
}

func (w *worker) setState(mutate func(*models.WorkerState)) {
	w.mu.Lock()
	mutate(&w.state)
	w.mu.Unlock()
}

func (w *worker) snapshot() models.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// New builds an idle pool; Start spawns the workers.
func New(cfg config.WorkerConfig, q *queue.Queue, st *store.Store, reg *model.Registry, rr *repos.Registry) *Pool {
	return &Pool{
		cfg:      cfg,
		queue:    q,
		store:    st,
		registry: reg,
		repos:    rr,
		workers:  map[string]*worker{},
	}
}

// Start spawns n workers under ctx. Idempotent per pool instance.
func (p *Pool) Start(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	p.parent, p.cancel = context.WithCancel(ctx)

	for i := 0; i < n; i++ {
		p.spawnLocked()
	}
	slog.Info("executor: worker pool started", "workers", n)
}

// spawnLocked creates and launches one worker. Caller holds p.mu.
func (p *Pool) spawnLocked() string {
	p.nextID++
	id := fmt.Sprintf("worker-%d", p.nextID)
	wctx, wcancel := context.WithCancel(p.parent)
	w := &worker{
		id:     id,
		cancel: wcancel,
		state: models.WorkerState{
			ID:        id,
			Status:    models.WorkerIdle,
			StartedAt: models.NowRFC3339(),
		},
	}
	p.workers[id] = w

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(wctx, w)
	}()
	return id
}

// Stop cancels every worker and joins the pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	slog.Info("executor: worker pool stopped")
}

// Pause makes workers idle at their next loop iteration.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	slog.Info("executor: workers paused")
}

// Resume lifts a pause.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	slog.Info("executor: workers resumed")
}

// Paused reports the pause flag.
func (p *Pool) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Restart cancels one worker and spawns a replacement with fresh counters.
func (p *Pool) Restart(workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[workerID]
	if !ok {
		return fmt.Errorf("unknown worker %q", workerID)
	}
	w.cancel()
	delete(p.workers, workerID)
	id := p.spawnLocked()
	slog.Info("executor: worker restarted", "old", workerID, "new", id)
	return nil
}

// Status returns a consistent snapshot of every worker's state.
func (p *Pool) Status() []models.WorkerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.WorkerState, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
