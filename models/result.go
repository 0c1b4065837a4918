package models

import "encoding/json"

// CallStats describes one model generation call.
type CallStats struct {
	Kind             string `json:"kind"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	ElapsedMS        int64  `json:"elapsed_ms"`
}

// TestOutcome describes one validator test run.
type TestOutcome struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TaskResult is the structured completion payload stored in tasks.result.
// It is always serialized as JSON and decoded with a strict parser; readers
// must never evaluate result text.
type TaskResult struct {
	Files  []string    `json:"files"`
	Model  CallStats   `json:"model"`
	Tests  TestOutcome `json:"tests"`
	Commit string      `json:"commit,omitempty"`
}

// Encode serializes the result for the tasks.result column.
func (r TaskResult) Encode() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// DecodeTaskResult parses a tasks.result payload.
func DecodeTaskResult(raw string) (TaskResult, error) {
	var r TaskResult
	err := json.Unmarshal([]byte(raw), &r)
	return r, err
}
