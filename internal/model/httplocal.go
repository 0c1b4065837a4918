package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const defaultHTTPLocalBase = "http://localhost:11434"

// httpLocal talks to an Ollama-compatible generation service on localhost.
type httpLocal struct {
	baseURL string
	model   string
	client  *http.Client
}

func newHTTPLocal(cfg config.ModelConfig) *httpLocal {
	base := cfg.BaseURL
	if base == "" {
		base = defaultHTTPLocalBase
	}
	model := cfg.Name
	if model == "" {
		model = "codellama"
	}
	return &httpLocal{
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (h *httpLocal) Kind() string      { return KindHTTPLocal }
func (h *httpLocal) ModelName() string { return h.model }

// IsAvailable pings the service root.
func (h *httpLocal) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Generate posts the prompt and returns the raw completion text.
func (h *httpLocal) Generate(ctx context.Context, description, taskID string) (string, models.CallStats, error) {
	stats := models.CallStats{Kind: KindHTTPLocal, Model: h.model}
	start := time.Now()

	payload, err := json.Marshal(generateRequest{
		Model:  h.model,
		Prompt: buildPrompt(description),
		Stream: false,
	})
	if err != nil {
		return "", stats, fmt.Errorf("marshalling generate request: %w", err)
	}

	const maxAttempts = 3
	var respBody []byte
	var respStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			h.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return "", stats, fmt.Errorf("creating generate request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			stats.ElapsedMS = time.Since(start).Milliseconds()
			return "", stats, fmt.Errorf("calling generation service: %w", err)
		}
		respStatus = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			stats.ElapsedMS = time.Since(start).Milliseconds()
			return "", stats, fmt.Errorf("reading generate response: %w", err)
		}

		if respStatus == http.StatusOK {
			break
		}
		if shouldRetryStatus(respStatus) && attempt < maxAttempts {
			wait := time.Duration(attempt) * 2 * time.Second
			slog.Warn("model: generation service busy, retrying",
				"status", respStatus, "attempt", attempt, "wait", wait.String())
			if err := sleepWithContext(ctx, wait); err != nil {
				stats.ElapsedMS = time.Since(start).Milliseconds()
				return "", stats, err
			}
			continue
		}
		break
	}

	stats.ElapsedMS = time.Since(start).Milliseconds()
	if respStatus != http.StatusOK {
		return "", stats, fmt.Errorf("generation service error %d: %s",
			respStatus, truncateForError(string(respBody)))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", stats, fmt.Errorf("parsing generate response: %w", err)
	}
	if out.Error != "" {
		return "", stats, fmt.Errorf("generation service: %s", out.Error)
	}

	stats.PromptTokens = out.PromptEvalCount
	stats.CompletionTokens = out.EvalCount
	return strings.TrimSpace(out.Response), stats, nil
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncateForError keeps error messages readable when the backend returns a
// large body.
func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
