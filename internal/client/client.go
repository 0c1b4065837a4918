// Package client is the HTTP client for the control-plane API, shared by the
// CLI commands and the terminal dashboard.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// New builds a client for the daemon at host:port.
func New(host string, port int) *Client {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 6090
	}
	return &Client{
		base: fmt.Sprintf("http://%s:%d", host, port),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Status is the GET /api/status response.
type Status struct {
	OK             bool                  `json:"ok"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Paused         bool                  `json:"paused"`
	InCheckpoint   bool                  `json:"in_checkpoint"`
	LastCheckpoint string                `json:"last_checkpoint"`
	Queue          models.QueueStats     `json:"queue"`
	Workers        []models.WorkerState  `json:"workers"`
	Model          []model.AdapterStatus `json:"model"`
	Reviewer       models.ReviewerStats  `json:"reviewer"`
	Repositories   int                   `json:"repositories"`
}

// Healthy reports whether the daemon answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	var out struct {
		OK bool `json:"ok"`
	}
	return c.get(ctx, "/health", &out) == nil && out.OK
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.get(ctx, "/api/status", &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, limit int) ([]models.Event, error) {
	var out struct {
		Logs []models.Event `json:"logs"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/logs?limit=%d", limit), &out)
	return out.Logs, err
}

// CreateTask enqueues a task and returns its id. repo may be empty.
func (c *Client) CreateTask(ctx context.Context, description string, priority, maxRetries int, repo string) (string, error) {
	path := "/api/task"
	if repo != "" {
		path = "/api/task/with-repo"
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.post(ctx, path, map[string]any{
		"description": description,
		"priority":    priority,
		"max_retries": maxRetries,
		"repo":        repo,
	}, &out)
	return out.TaskID, err
}

func (c *Client) Task(ctx context.Context, id string) (*models.Task, error) {
	var out struct {
		Task *models.Task `json:"task"`
	}
	err := c.get(ctx, "/api/task/"+id, &out)
	return out.Task, err
}

func (c *Client) Pause(ctx context.Context) error  { return c.post(ctx, "/api/pause", nil, nil) }
func (c *Client) Resume(ctx context.Context) error { return c.post(ctx, "/api/resume", nil, nil) }

func (c *Client) RestartWorker(ctx context.Context, workerID string) error {
	return c.post(ctx, "/api/restart-worker", map[string]string{"worker_id": workerID}, nil)
}

func (c *Client) Commits(ctx context.Context, limit int) ([]models.CommitRecord, error) {
	var out struct {
		Commits []models.CommitRecord `json:"commits"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/git/commits?limit=%d", limit), &out)
	return out.Commits, err
}

func (c *Client) Repositories(ctx context.Context) ([]models.RepositoryBinding, error) {
	var out struct {
		Repositories []models.RepositoryBinding `json:"repositories"`
	}
	err := c.get(ctx, "/api/repositories", &out)
	return out.Repositories, err
}

// ConnectRemote clones and binds a remote repository.
func (c *Client) ConnectRemote(ctx context.Context, url, alias, branch string) (models.RepositoryBinding, error) {
	var out struct {
		Repository models.RepositoryBinding `json:"repository"`
	}
	err := c.post(ctx, "/api/repositories", map[string]any{
		"url": url, "alias": alias, "branch": branch,
	}, &out)
	return out.Repository, err
}

// ConnectLocal binds an existing directory.
func (c *Client) ConnectLocal(ctx context.Context, path, alias string, initGit bool) (models.RepositoryBinding, error) {
	var out struct {
		Repository models.RepositoryBinding `json:"repository"`
	}
	err := c.post(ctx, "/api/repositories", map[string]any{
		"path": path, "alias": alias, "init": initGit,
	}, &out)
	return out.Repository, err
}

func (c *Client) Disconnect(ctx context.Context, alias string, removeFiles bool) error {
	path := "/api/repositories/" + alias
	if removeFiles {
		path += "?remove_files=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) Pull(ctx context.Context, alias string) error {
	return c.post(ctx, "/api/repositories/"+alias+"/pull", nil, nil)
}

func (c *Client) Push(ctx context.Context, alias, message string) error {
	return c.post(ctx, "/api/repositories/"+alias+"/push", map[string]string{"message": message}, nil)
}

func (c *Client) Scan(ctx context.Context, alias string) (models.ScanResult, error) {
	var out struct {
		Scan models.ScanResult `json:"scan"`
	}
	err := c.get(ctx, "/api/repositories/"+alias+"/scan", &out)
	return out.Scan, err
}

func (c *Client) Tree(ctx context.Context, alias string, depth int) ([]models.TreeNode, error) {
	var out struct {
		Tree []models.TreeNode `json:"tree"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/repositories/%s/tree?depth=%d", alias, depth), &out)
	return out.Tree, err
}

func (c *Client) ReviewerStatus(ctx context.Context) (bool, models.ReviewerStats, error) {
	var out struct {
		Enabled bool                 `json:"enabled"`
		Stats   models.ReviewerStats `json:"stats"`
	}
	err := c.get(ctx, "/api/tireless-reviewer/status", &out)
	return out.Enabled, out.Stats, err
}

func (c *Client) ForceReview(ctx context.Context, taskID string) (map[string][]string, error) {
	var out struct {
		Findings map[string][]string `json:"findings"`
	}
	err := c.post(ctx, "/api/tireless-reviewer/force", map[string]string{"task_id": taskID}, &out)
	return out.Findings, err
}

func (c *Client) ReviewResults(ctx context.Context, taskID string) ([]models.ReviewFinding, error) {
	var out struct {
		Findings []models.ReviewFinding `json:"findings"`
	}
	err := c.get(ctx, "/api/tireless-reviewer/results/"+taskID, &out)
	return out.Findings, err
}

// --- transport ---

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
