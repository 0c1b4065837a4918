// Package model selects and drives the pluggable code-generation backends.
// To add a new backend:
//  1. Create a file in internal/model/ (e.g. mybackend.go)
//  2. Implement Adapter
//  3. Register in New()
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Adapter kinds.
const (
	KindHTTPLocal  = "http-local"
	KindHosted     = "hosted"
	KindFileBacked = "file-backed"
)

// Adapter abstracts one code-generation backend.
type Adapter interface {
	// Kind returns the adapter identifier ("http-local", "hosted", "file-backed").
	Kind() string

	// ModelName returns the configured backend model name.
	ModelName() string

	// IsAvailable verifies the backend is reachable and configured. The check
	// must be cheap (ping, key present, file exists).
	IsAvailable(ctx context.Context) bool

	// Generate produces code for the task description. The returned stats are
	// recorded by the registry regardless of success.
	Generate(ctx context.Context, description, taskID string) (string, models.CallStats, error)
}

// AdapterStatus is the per-adapter availability view served by the status API.
type AdapterStatus struct {
	Kind      string `json:"kind"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
	Active    bool   `json:"active"`
}

// Registry owns the adapters and the active selection, and records a
// ModelCallStat for every generation attempt.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	active   string

	store *store.Store
}

// New builds all adapters from cfg and selects the preferred kind. When the
// preferred backend is unavailable the first available one is selected
// instead and a warning is recorded.
func New(cfg config.ModelConfig, st *store.Store) (*Registry, error) {
	r := &Registry{
		adapters: map[string]Adapter{
			KindHTTPLocal:  newHTTPLocal(cfg),
			KindHosted:     newHosted(cfg),
			KindFileBacked: newFileBacked(cfg),
		},
		store: st,
	}

	preferred := cfg.Type
	if preferred == "" {
		preferred = KindHTTPLocal
	}
	if _, ok := r.adapters[preferred]; !ok {
		return nil, fmt.Errorf("unknown model type %q (supported: %s, %s, %s)",
			preferred, KindHTTPLocal, KindHosted, KindFileBacked)
	}
	r.active = preferred

	ctx := context.Background()
	if !r.adapters[preferred].IsAvailable(ctx) {
		fallback := ""
		for _, kind := range []string{KindHTTPLocal, KindHosted, KindFileBacked} {
			if kind != preferred && r.adapters[kind].IsAvailable(ctx) {
				fallback = kind
				break
			}
		}
		if fallback != "" {
			slog.Warn("model: preferred backend unavailable, falling back",
				"preferred", preferred, "using", fallback)
			r.active = fallback
		} else {
			slog.Warn("model: no generation backend available", "preferred", preferred)
		}
	}

	return r, nil
}

// Active returns the currently selected adapter.
func (r *Registry) Active() Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[r.active]
}

// Switch selects kind as the active adapter. Fails when the target is
// unknown or unavailable.
func (r *Registry) Switch(ctx context.Context, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[kind]
	if !ok || !a.IsAvailable(ctx) {
		return false
	}
	r.active = kind
	slog.Info("model: switched backend", "kind", kind)
	return true
}

// Generate calls the active adapter and appends a ModelCallStat for the
// attempt, successful or not.
func (r *Registry) Generate(ctx context.Context, description, taskID string) (string, models.CallStats, error) {
	a := r.Active()
	out, stats, err := a.Generate(ctx, description, taskID)

	stat := models.ModelCallStat{
		TaskID:           taskID,
		Kind:             stats.Kind,
		Model:            stats.Model,
		PromptTokens:     stats.PromptTokens,
		CompletionTokens: stats.CompletionTokens,
		ElapsedMS:        stats.ElapsedMS,
		Success:          err == nil && out != "",
	}
	if err != nil {
		stat.Error = err.Error()
	}
	if serr := r.store.AppendModelStat(ctx, stat); serr != nil {
		slog.Warn("model: failed to record call stat", "task_id", taskID, "error", serr)
	}

	return out, stats, err
}

// Status reports availability for every adapter.
func (r *Registry) Status(ctx context.Context) []AdapterStatus {
	r.mu.RLock()
	active := r.active
	r.mu.RUnlock()

	out := make([]AdapterStatus, 0, len(r.adapters))
	for _, kind := range []string{KindHTTPLocal, KindHosted, KindFileBacked} {
		a := r.adapters[kind]
		out = append(out, AdapterStatus{
			Kind:      kind,
			Model:     a.ModelName(),
			Available: a.IsAvailable(ctx),
			Active:    kind == active,
		})
	}
	return out
}

// buildPrompt wraps the task description with the output conventions the
// validator's extractor understands.
func buildPrompt(description string) string {
	return `You are an autonomous coding agent. Complete the following task by writing code.

Task: ` + description + `

Rules:
- Emit each file as a fenced code block.
- Precede every file with a line of the form: # File: <relative/path>
- Include tests where they make sense.
- Output only the file markers and code blocks, no commentary.`
}
