package model

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

// fileBacked serves completions from a local template file. It exists for
// offline runs and for tests: the file content is returned as the generated
// output, with an optional {{description}} placeholder substituted.
type fileBacked struct {
	path string
}

func newFileBacked(cfg config.ModelConfig) *fileBacked {
	return &fileBacked{path: cfg.FilePath}
}

func (f *fileBacked) Kind() string      { return KindFileBacked }
func (f *fileBacked) ModelName() string { return "file:" + f.path }

// IsAvailable checks that the template file exists.
func (f *fileBacked) IsAvailable(ctx context.Context) bool {
	if f.path == "" {
		return false
	}
	info, err := os.Stat(f.path)
	return err == nil && !info.IsDir()
}

func (f *fileBacked) Generate(ctx context.Context, description, taskID string) (string, models.CallStats, error) {
	stats := models.CallStats{Kind: KindFileBacked, Model: f.ModelName()}
	start := time.Now()

	data, err := os.ReadFile(f.path)
	stats.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		return "", stats, fmt.Errorf("reading model file: %w", err)
	}

	out := strings.ReplaceAll(string(data), "{{description}}", description)
	stats.PromptTokens = len(strings.Fields(description))
	stats.CompletionTokens = len(strings.Fields(out))
	return strings.TrimSpace(out), stats, nil
}
