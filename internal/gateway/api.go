package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// buildHandler wires all REST and SSE routes onto a new ServeMux.
// Uses Go 1.22+ method-prefixed patterns ("GET /path", "POST /path").
func buildHandler(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	// Health / status
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /api/status", gw.handleStatus)

	// Logs
	mux.HandleFunc("GET /api/logs", gw.handleLogs)
	mux.HandleFunc("GET /api/logs/stream", gw.handleLogStream)

	// Tasks
	mux.HandleFunc("POST /api/task", gw.handleCreateTask)
	mux.HandleFunc("POST /api/task/with-repo", gw.handleCreateTaskWithRepo)
	mux.HandleFunc("GET /api/task/{id}", gw.handleGetTask)

	// Runtime controls
	mux.HandleFunc("POST /api/pause", gw.handlePause)
	mux.HandleFunc("POST /api/resume", gw.handleResume)
	mux.HandleFunc("POST /api/restart-worker", gw.handleRestartWorker)

	// Settings
	mux.HandleFunc("GET /api/settings", gw.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", gw.handlePutSettings)

	// Model backends
	mux.HandleFunc("GET /api/model", gw.handleModelStatus)
	mux.HandleFunc("POST /api/model/switch", gw.handleModelSwitch)

	// Git history
	mux.HandleFunc("GET /api/git/commits", gw.handleCommits)

	// Repositories
	mux.HandleFunc("GET /api/repositories", gw.handleListRepos)
	mux.HandleFunc("POST /api/repositories", gw.handleConnectRepo)
	mux.HandleFunc("DELETE /api/repositories/{alias}", gw.handleDisconnectRepo)
	mux.HandleFunc("POST /api/repositories/{alias}/pull", gw.handlePullRepo)
	mux.HandleFunc("POST /api/repositories/{alias}/push", gw.handlePushRepo)
	mux.HandleFunc("GET /api/repositories/{alias}/scan", gw.handleScanRepo)
	mux.HandleFunc("GET /api/repositories/{alias}/tree", gw.handleTreeRepo)

	// Tireless reviewer
	mux.HandleFunc("GET /api/tireless-reviewer/status", gw.handleReviewerStatus)
	mux.HandleFunc("POST /api/tireless-reviewer/force", gw.handleForceReview)
	mux.HandleFunc("GET /api/tireless-reviewer/results/{id}", gw.handleReviewResults)

	return mux
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func queryInt(r *http.Request, name, fallbackRaw string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		raw = fallbackRaw
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// --- core handlers ---

func (gw *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := gw.store.DB().Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (gw *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gw.currentStatus(r.Context()))
}

func (gw *Gateway) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", "100")
	events, err := gw.store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "logs": events})
}

func (gw *Gateway) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := gw.broadcaster.subscribe()
	defer gw.broadcaster.unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type createTaskRequest struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	MaxRetries  int    `json:"max_retries"`
	Repo        string `json:"repo"`
}

func (gw *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	gw.createTask(w, r, false)
}

func (gw *Gateway) handleCreateTaskWithRepo(w http.ResponseWriter, r *http.Request) {
	gw.createTask(w, r, true)
}

func (gw *Gateway) createTask(w http.ResponseWriter, r *http.Request, requireRepo bool) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if requireRepo {
		if req.Repo == "" {
			writeError(w, http.StatusBadRequest, "repo is required")
			return
		}
		if _, err := gw.repos.Get(req.Repo); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = gw.cfg.Workers.MaxRetries
	}

	task := models.NewTask(req.Description, req.Priority, maxRetries)
	task.TargetRepo = req.Repo
	if err := gw.queue.Put(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "task_id": task.ID})
}

func (gw *Gateway) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := gw.store.TaskByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "task": task})
}

func (gw *Gateway) handlePause(w http.ResponseWriter, _ *http.Request) {
	gw.sup.Pause()
	gw.broadcaster.send(SSEEvent{Type: "agent.paused"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": true})
}

func (gw *Gateway) handleResume(w http.ResponseWriter, _ *http.Request) {
	gw.sup.Resume()
	gw.broadcaster.send(SSEEvent{Type: "agent.resumed"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": false})
}

func (gw *Gateway) handleRestartWorker(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "worker_id is required")
		return
	}
	if err := gw.pool.Restart(req.WorkerID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	gw.broadcaster.send(SSEEvent{Type: "worker.restarted", Payload: map[string]string{"worker_id": req.WorkerID}})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleGetSettings returns the running configuration with credentials
// blanked out.
func (gw *Gateway) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	redacted := *gw.cfg
	redacted.Model.APIKey = redact(redacted.Model.APIKey)
	redacted.Git.GitHubToken = redact(redacted.Git.GitHubToken)
	redacted.Git.GitLabToken = redact(redacted.Git.GitLabToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": redacted})
}

// handlePutSettings replaces the persisted configuration. Most settings need
// a daemon restart to take effect; worker pause state and retry budgets are
// read live.
func (gw *Gateway) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := config.Save(&next); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "restart_required": true})
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

func (gw *Gateway) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "adapters": gw.registry.Status(r.Context())})
}

func (gw *Gateway) handleModelSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	if !gw.registry.Switch(r.Context(), req.Kind) {
		writeError(w, http.StatusConflict, "backend unknown or unavailable: "+req.Kind)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "active": req.Kind})
}

func (gw *Gateway) handleCommits(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", "10")
	commits, err := gw.store.RecentCommits(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "commits": commits})
}
