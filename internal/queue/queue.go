// Package queue implements the persistent priority queue feeding the primary
// worker pool. The in-memory heap is a cache; the tasks table owns the truth.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

type entry struct {
	task models.Task
	seq  uint64
}

// taskHeap orders entries by priority (higher first), then insertion order.
type taskHeap []entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is the persistent priority queue. Put/Get/Retry are short critical
// sections over one mutex; Get blocks on a condition variable so shutdown
// remains observable through the caller's context.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	h      taskHeap
	seq    uint64
	queued map[string]struct{} // IDs currently in the heap

	store       *store.Store
	initialized bool
}

// New builds an empty queue over st. Call Initialize before serving workers.
func New(st *store.Store) *Queue {
	q := &Queue{store: st, queued: map[string]struct{}{}}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Initialize loads all open tasks from the store into the heap, resetting
// running tasks back to pending (crash recovery). Idempotent; tasks enqueued
// before or during initialization are not duplicated because the load skips
// IDs already in the heap.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.initialized {
		return nil
	}

	tasks, err := q.store.LoadOpenTasks(ctx)
	if err != nil {
		return fmt.Errorf("queue initialize: %w", err)
	}

	recovered := 0
	loaded := 0
	for _, t := range tasks {
		if _, dup := q.queued[t.ID]; dup {
			continue
		}
		if t.Status == models.TaskRunning {
			t.Status = models.TaskPending
			t.WorkerID = ""
			t.StartedAt = ""
			if err := q.store.UpdateTask(ctx, t); err != nil {
				return fmt.Errorf("queue initialize: resetting %s: %w", t.ID, err)
			}
			recovered++
		}
		q.seq++
		heap.Push(&q.h, entry{task: t, seq: q.seq})
		q.queued[t.ID] = struct{}{}
		loaded++
	}
	q.initialized = true
	q.cond.Broadcast()

	slog.Info("queue: initialized", "loaded", loaded, "recovered", recovered)
	return nil
}

// Put persists the task and inserts it into the heap.
func (q *Queue) Put(ctx context.Context, task models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.CreatedAt == "" {
		task.CreatedAt = models.NowRFC3339()
	}
	if err := q.store.RecordTaskCreated(ctx, task); err != nil {
		return err
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, entry{task: task, seq: q.seq})
	q.queued[task.ID] = struct{}{}
	q.mu.Unlock()
	q.cond.Signal()

	slog.Debug("queue: task enqueued", "task_id", task.ID, "priority", task.Priority)
	return nil
}

// Get blocks until a task is available or ctx is done. The boolean is false
// when the wait was cancelled.
func (q *Queue) Get(ctx context.Context) (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		// Take the lock so the broadcast cannot race a waiter between its
		// ctx check and cond.Wait.
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	for q.h.Len() == 0 {
		if ctx.Err() != nil {
			return models.Task{}, false
		}
		q.cond.Wait()
	}
	e := heap.Pop(&q.h).(entry)
	delete(q.queued, e.task.ID)
	return e.task, true
}

// TryGet pops the highest-priority task without blocking.
func (q *Queue) TryGet() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return models.Task{}, false
	}
	e := heap.Pop(&q.h).(entry)
	delete(q.queued, e.task.ID)
	return e.task, true
}

// Size returns the number of queued tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Empty reports whether the queue holds no tasks.
func (q *Queue) Empty() bool { return q.Size() == 0 }

// Retry re-queues a failed task when its retry budget allows: retry count is
// incremented, priority drops by one (floor 0), status returns to pending.
// Returns false when retries are exhausted.
func (q *Queue) Retry(ctx context.Context, task models.Task) (bool, error) {
	if task.RetryCount >= task.MaxRetries {
		return false, nil
	}

	task.RetryCount++
	if task.Priority > 0 {
		task.Priority--
	}
	task.Status = models.TaskPending
	task.WorkerID = ""
	task.StartedAt = ""
	task.CompletedAt = ""

	if err := q.store.UpdateTask(ctx, task); err != nil {
		return false, fmt.Errorf("queue retry %s: %w", task.ID, err)
	}

	q.mu.Lock()
	q.seq++
	heap.Push(&q.h, entry{task: task, seq: q.seq})
	q.queued[task.ID] = struct{}{}
	q.mu.Unlock()
	q.cond.Signal()

	slog.Info("queue: task re-queued for retry",
		"task_id", task.ID, "retry", task.RetryCount, "priority", task.Priority)
	return true, nil
}

// PruneCompleted removes terminal tasks older than days from the store.
func (q *Queue) PruneCompleted(ctx context.Context, days int) error {
	return q.store.PruneCompleted(ctx, days)
}

// Stats returns a point-in-time view used by snapshots and the status API.
func (q *Queue) Stats(ctx context.Context) models.QueueStats {
	byStatus, err := q.store.TaskStats(ctx)
	if err != nil {
		slog.Warn("queue: task stats unavailable", "error", err)
		byStatus = map[string]int{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return models.QueueStats{
		Size:      q.h.Len(),
		ByStatus:  byStatus,
		NextSeq:   q.seq + 1,
		Timestamp: models.NowRFC3339(),
	}
}
