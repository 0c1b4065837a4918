// Package report renders the periodic markdown summaries written at every
// supervisor checkpoint.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

const topErrorLimit = 5

// Generator renders summary reports from the event store.
type Generator struct {
	store *store.Store
	dir   string
}

// New builds a generator writing into dir (created on first use).
func New(st *store.Store, dir string) *Generator {
	return &Generator{store: st, dir: dir}
}

// WriteWeekly renders the summary for [from, to) and writes it to
// weekly_summary_{from}_{to}.md inside the reports directory. Returns the
// path of the written file.
func (g *Generator) WriteWeekly(ctx context.Context, reviewerStats models.ReviewerStats, from, to time.Time) (string, error) {
	body, err := g.render(ctx, reviewerStats, from, to)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports dir: %w", err)
	}
	name := fmt.Sprintf("weekly_summary_%s_%s.md",
		from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	path := filepath.Join(g.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, nil
}

func (g *Generator) render(ctx context.Context, reviewerStats models.ReviewerStats, from, to time.Time) (string, error) {
	completed, err := g.store.CompletedBetween(ctx, from, to, 0)
	if err != nil {
		return "", err
	}
	failed, err := g.store.FailedBetween(ctx, from, to)
	if err != nil {
		return "", err
	}
	commits, err := g.store.CommitCountBetween(ctx, from, to)
	if err != nil {
		return "", err
	}
	modelStats, err := g.store.ModelStatsBetween(ctx, from, to)
	if err != nil {
		return "", err
	}

	total := len(completed) + len(failed)
	successRate := 0.0
	if total > 0 {
		successRate = float64(len(completed)) / float64(total) * 100
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Weekly Summary\n\n")
	fmt.Fprintf(&b, "Period: %s to %s\n\n",
		from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))

	fmt.Fprintf(&b, "## Tasks\n\n")
	fmt.Fprintf(&b, "- Completed: %d\n", len(completed))
	fmt.Fprintf(&b, "- Failed: %d\n", len(failed))
	fmt.Fprintf(&b, "- Success rate: %.1f%%\n", successRate)
	fmt.Fprintf(&b, "- Commits: %d\n\n", commits)

	fmt.Fprintf(&b, "## Model usage\n\n")
	fmt.Fprintf(&b, "- Calls: %d (%d failed)\n", modelStats.Calls, modelStats.Failures)
	fmt.Fprintf(&b, "- Prompt tokens: %d\n", modelStats.PromptTokens)
	fmt.Fprintf(&b, "- Completion tokens: %d\n", modelStats.CompletionTokens)
	fmt.Fprintf(&b, "- Total generation time: %s\n\n",
		(time.Duration(modelStats.TotalElapsedMS) * time.Millisecond).Round(time.Second))

	fmt.Fprintf(&b, "## Reviewer\n\n")
	fmt.Fprintf(&b, "- Tasks reviewed: %d\n", reviewerStats.TasksReviewed)
	fmt.Fprintf(&b, "- Issues discovered: %d\n", reviewerStats.IssuesDiscovered)
	fmt.Fprintf(&b, "- Improvements suggested: %d\n", reviewerStats.ImprovementsSuggested)
	fmt.Fprintf(&b, "- Major tasks left to settle: %d\n\n", reviewerStats.MajorTasksRespected)

	if top := topErrors(failed); len(top) > 0 {
		fmt.Fprintf(&b, "## Top errors\n\n")
		for _, e := range top {
			fmt.Fprintf(&b, "- %dx %s\n", e.count, e.message)
		}
		fmt.Fprintf(&b, "\n")
	}

	return b.String(), nil
}

type errorCount struct {
	message string
	count   int
}

// topErrors groups failed tasks by the leading error kind (text before the
// first colon) and returns the most frequent groups.
func topErrors(failed []models.Task) []errorCount {
	counts := map[string]int{}
	for _, t := range failed {
		msg := t.Error
		if i := strings.Index(msg, ":"); i > 0 {
			msg = msg[:i]
		}
		msg = strings.TrimSpace(msg)
		if msg == "" {
			msg = "unknown"
		}
		counts[msg]++
	}

	out := make([]errorCount, 0, len(counts))
	for msg, n := range counts {
		out = append(out, errorCount{message: msg, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].message < out[j].message
	})
	if len(out) > topErrorLimit {
		out = out[:topErrorLimit]
	}
	return out
}
