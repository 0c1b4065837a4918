package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const defaultHostedBase = "https://api.openai.com/v1"

// hosted talks to an OpenAI-compatible chat-completions API.
type hosted struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func newHosted(cfg config.ModelConfig) *hosted {
	base := cfg.BaseURL
	if base == "" || !strings.HasPrefix(base, "https://") {
		base = defaultHostedBase
	}
	model := cfg.Name
	if model == "" {
		model = "gpt-4o"
	}
	return &hosted{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (h *hosted) Kind() string      { return KindHosted }
func (h *hosted) ModelName() string { return h.model }

// IsAvailable only checks that a key is configured; no network probe.
func (h *hosted) IsAvailable(ctx context.Context) bool {
	return h.apiKey != ""
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate sends the prompt as a single user message.
func (h *hosted) Generate(ctx context.Context, description, taskID string) (string, models.CallStats, error) {
	stats := models.CallStats{Kind: KindHosted, Model: h.model}
	if h.apiKey == "" {
		return "", stats, fmt.Errorf("hosted backend: no API key configured")
	}

	start := time.Now()
	payload, err := json.Marshal(chatRequest{
		Model: h.model,
		Messages: []chatMsg{
			{Role: "system", Content: "You are an expert software engineer writing production code."},
			{Role: "user", Content: buildPrompt(description)},
		},
	})
	if err != nil {
		return "", stats, fmt.Errorf("marshalling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", stats, fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		stats.ElapsedMS = time.Since(start).Milliseconds()
		return "", stats, fmt.Errorf("calling hosted API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	stats.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		return "", stats, fmt.Errorf("reading hosted response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", stats, fmt.Errorf("hosted API error %d: %s",
			resp.StatusCode, truncateForError(string(body)))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", stats, fmt.Errorf("parsing hosted response: %w", err)
	}
	if out.Error != nil {
		return "", stats, fmt.Errorf("hosted API: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", stats, fmt.Errorf("hosted API returned no choices")
	}

	stats.PromptTokens = out.Usage.PromptTokens
	stats.CompletionTokens = out.Usage.CompletionTokens
	return strings.TrimSpace(out.Choices[0].Message.Content), stats, nil
}
