// Package gateway serves the control plane: a REST + SSE HTTP API over the
// queue, worker pool, model registry, repository registry and reviewer pool.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/executor"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/reviewer"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/internal/supervisor"
)

const (
	statusTickEvery = 5 * time.Second
	logPollEvery    = 2 * time.Second
)

// Gateway is the HTTP control plane.
type Gateway struct {
	cfg         *config.Config
	store       *store.Store
	queue       *queue.Queue
	pool        *executor.Pool
	registry    *model.Registry
	repos       *repos.Registry
	reviewer    *reviewer.Pool
	sup         *supervisor.Supervisor
	broadcaster *Broadcaster

	mu        sync.Mutex
	startedAt time.Time
	lastEvent int64
}

// New builds the gateway over already-constructed components.
func New(cfg *config.Config, st *store.Store, q *queue.Queue, pool *executor.Pool,
	reg *model.Registry, rr *repos.Registry, rev *reviewer.Pool, sup *supervisor.Supervisor) *Gateway {
	return &Gateway{
		cfg:         cfg,
		store:       st,
		queue:       q,
		pool:        pool,
		registry:    reg,
		repos:       rr,
		reviewer:    rev,
		sup:         sup,
		broadcaster: newBroadcaster(),
		startedAt:   time.Now(),
	}
}

// Start binds the HTTP server and blocks until ctx is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	host := gw.cfg.HTTP.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := gw.cfg.HTTP.Port
	if port == 0 {
		port = 6090
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	go gw.runStatusTicker(ctx)
	go gw.runLogPoller(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           buildHandler(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("gateway: listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// runStatusTicker broadcasts a status.update SSE event on a fixed cadence.
func (gw *Gateway) runStatusTicker(ctx context.Context) {
	t := time.NewTicker(statusTickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			gw.broadcaster.send(SSEEvent{Type: "status.update", Payload: gw.currentStatus(ctx)})
		}
	}
}

// runLogPoller tails the events table and fans new rows out as log frames.
func (gw *Gateway) runLogPoller(ctx context.Context) {
	t := time.NewTicker(logPollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			gw.mu.Lock()
			after := gw.lastEvent
			gw.mu.Unlock()

			events, err := gw.store.EventsAfter(ctx, after, 100)
			if err != nil {
				slog.Debug("gateway: log poll failed", "error", err)
				continue
			}
			for _, evt := range events {
				gw.broadcaster.send(SSEEvent{Type: "log", Payload: evt})
				gw.mu.Lock()
				if evt.ID > gw.lastEvent {
					gw.lastEvent = evt.ID
				}
				gw.mu.Unlock()
			}
		}
	}
}

// statusPayload is the GET /api/status response body.
type statusPayload struct {
	OK             bool                  `json:"ok"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Paused         bool                  `json:"paused"`
	InCheckpoint   bool                  `json:"in_checkpoint"`
	LastCheckpoint string                `json:"last_checkpoint,omitempty"`
	Queue          any                   `json:"queue"`
	Workers        any                   `json:"workers"`
	Model          []model.AdapterStatus `json:"model"`
	Reviewer       any                   `json:"reviewer"`
	Repositories   int                   `json:"repositories"`
}

func (gw *Gateway) currentStatus(ctx context.Context) statusPayload {
	return statusPayload{
		OK:             true,
		UptimeSeconds:  int64(time.Since(gw.startedAt).Seconds()),
		Paused:         gw.pool.Paused(),
		InCheckpoint:   gw.sup.InCheckpoint(),
		LastCheckpoint: gw.sup.LastCheckpoint(),
		Queue:          gw.queue.Stats(ctx),
		Workers:        gw.pool.Status(),
		Model:          gw.registry.Status(ctx),
		Reviewer:       gw.reviewer.Stats(),
		Repositories:   len(gw.repos.List()),
	}
}
