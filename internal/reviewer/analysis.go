package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Finding categories. Primary reviews produce the first five; deep reviews
// add the rest.
const (
	categorySyntax       = "syntax_issues"
	categoryLogic        = "logic_errors"
	categoryIntegration  = "integration_problems"
	categoryConsistency  = "consistency_issues"
	categoryImprovements = "improvement_suggestions"

	categoryPerformance     = "performance"
	categorySecurity        = "security"
	categoryDocumentation   = "documentation"
	categoryMaintainability = "maintainability"
)

// Descriptions containing one of these words mark major work that deserves a
// settling-in period before the reviewers pick it apart.
var majorKeywords = []string{
	"major", "large", "significant", "important", "critical", "epic",
	"feature", "refactor", "migration", "upgrade", "redesign",
}

const (
	maxModelIssues   = 10
	modelConsultWait = 60 * time.Second

	// Bounds on how much of the working tree one review reads.
	maxInspectFiles = 20
	maxInspectBytes = 256 << 10

	longFileLines    = 100
	todoDensityLimit = 5
)

func categoryOrder(kind string) []string {
	base := []string{
		categorySyntax, categoryLogic, categoryIntegration,
		categoryConsistency, categoryImprovements,
	}
	if kind == models.ReviewDeep {
		return append(base,
			categoryPerformance, categorySecurity,
			categoryDocumentation, categoryMaintainability)
	}
	return base
}

func isMajorTask(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range majorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// analyze runs every category check for one completed task: metadata checks
// over the stored result plus static checks over the produced files read from
// the task's working tree. The stored result is decoded strictly; a payload
// that fails to decode is itself a finding, never something to evaluate
// around.
func (p *Pool) analyze(ctx context.Context, task models.Task, kind string) map[string][]string {
	findings := map[string][]string{}

	result, decodeErr := models.DecodeTaskResult(task.Result)
	files := p.producedFiles(task, result)

	findings[categorySyntax] = append(syntaxIssues(result, decodeErr), contentSyntaxIssues(files)...)
	findings[categoryLogic] = p.logicIssues(ctx, task, result)
	findings[categoryIntegration] = integrationIssues(result)
	findings[categoryConsistency] = consistencyIssues(result)
	findings[categoryImprovements] = append(improvementSuggestions(result), contentImprovementSuggestions(files)...)

	if kind == models.ReviewDeep {
		findings[categoryPerformance] = performanceIssues(result)
		findings[categorySecurity] = append(securityIssues(task, result), contentSecurityIssues(files)...)
		findings[categoryDocumentation] = documentationIssues(result)
		findings[categoryMaintainability] = append(maintainabilityIssues(result), contentMaintainabilityIssues(files)...)
	}
	return findings
}

// producedFiles reads the task's produced files from its repository working
// tree. Files that are missing, oversized or escape the tree are skipped; the
// metadata checks still apply to them.
func (p *Pool) producedFiles(task models.Task, result models.TaskResult) map[string]string {
	if p.repos == nil || len(result.Files) == 0 {
		return nil
	}
	dir, err := p.repos.WorkingDir(task.TargetRepo)
	if err != nil {
		return nil
	}

	files := map[string]string{}
	for _, name := range result.Files {
		if len(files) == maxInspectFiles {
			break
		}
		clean := filepath.Clean(name)
		if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, clean))
		if err != nil || len(raw) > maxInspectBytes {
			continue
		}
		files[name] = string(raw)
	}
	return files
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func syntaxIssues(result models.TaskResult, decodeErr error) []string {
	var issues []string
	if decodeErr != nil {
		return []string{fmt.Sprintf("stored result is not valid JSON: %v", decodeErr)}
	}
	if !result.Tests.OK {
		issues = append(issues, fmt.Sprintf("tests were not passing at completion (exit %d)", result.Tests.ExitCode))
	}
	lower := strings.ToLower(result.Tests.Stderr)
	for _, marker := range []string{"syntax error", "undefined:", "cannot find package"} {
		if strings.Contains(lower, marker) {
			issues = append(issues, "test output mentions "+strings.TrimSuffix(marker, ":"))
		}
	}
	return issues
}

// contentSyntaxIssues scans the produced sources for sloppy error handling:
// error checks with an empty body and writes to stdout where the logger
// should be used.
func contentSyntaxIssues(files map[string]string) []string {
	var issues []string
	for _, name := range sortedNames(files) {
		lines := strings.Split(files[name], "\n")

		emptyHandlers := 0
		for i, line := range lines {
			if !strings.HasSuffix(strings.TrimSpace(line), "err != nil {") {
				continue
			}
			for j := i + 1; j < len(lines); j++ {
				next := strings.TrimSpace(lines[j])
				if next == "" {
					continue
				}
				if next == "}" {
					emptyHandlers++
				}
				break
			}
		}
		if emptyHandlers > 0 {
			issues = append(issues, fmt.Sprintf("%s has %d error checks with an empty handler", name, emptyHandlers))
		}

		if isGoSource(name) {
			for i, line := range lines {
				if strings.Contains(line, "fmt.Print") {
					issues = append(issues, fmt.Sprintf("%s:%d prints to stdout instead of logging", name, i+1))
					break
				}
			}
		}
	}
	return issues
}

func isGoSource(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

// hasCommentLine looks for whole-line comments; a "//" inside a string
// literal (a URL, say) does not count.
func hasCommentLine(src string) bool {
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			return true
		}
	}
	return false
}

// logicIssues consults the generation backend with a review prompt. The
// response must be a JSON array of strings; anything else falls back to
// scraping bulleted lines. A backend failure yields no findings.
func (p *Pool) logicIssues(ctx context.Context, task models.Task, result models.TaskResult) []string {
	if len(result.Files) == 0 {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, modelConsultWait)
	defer cancel()

	prompt := reviewPrompt(task, result)
	out, _, err := p.registry.Generate(cctx, prompt, task.ID)
	if err != nil {
		slog.Debug("reviewer: logic consult unavailable", "task_id", task.ID, "error", err)
		return nil
	}
	return parseIssueList(out)
}

func reviewPrompt(task models.Task, result models.TaskResult) string {
	return fmt.Sprintf(`Review the completed coding task below for logic errors.

Task: %s
Files produced: %s
Test result: exit code %d

Respond with ONLY a JSON array of strings, one short issue per element.
Respond with [] if you find no logic problems.`,
		firstLine(task.Description), strings.Join(result.Files, ", "), result.Tests.ExitCode)
}

// parseIssueList accepts a strict JSON array of strings, tolerating a fenced
// wrapper. When that fails it scrapes "- " bullets, capped at maxModelIssues.
func parseIssueList(out string) []string {
	trimmed := strings.TrimSpace(out)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var issues []string
	if err := json.Unmarshal([]byte(trimmed), &issues); err == nil {
		if len(issues) > maxModelIssues {
			issues = issues[:maxModelIssues]
		}
		return nonEmpty(issues)
	}

	var scraped []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "- "); ok && rest != "" {
			scraped = append(scraped, rest)
			if len(scraped) == maxModelIssues {
				break
			}
		}
	}
	return scraped
}

func integrationIssues(result models.TaskResult) []string {
	var issues []string
	if len(result.Files) > 0 && result.Commit == "" {
		issues = append(issues, "generated files were not committed")
	}
	if len(result.Files) == 0 {
		issues = append(issues, "completion recorded no files")
	}
	return issues
}

func consistencyIssues(result models.TaskResult) []string {
	var issues []string
	seen := map[string]struct{}{}
	for _, f := range result.Files {
		if _, dup := seen[f]; dup {
			issues = append(issues, "duplicate file in result: "+f)
		}
		seen[f] = struct{}{}
	}
	var hasTest, hasGo bool
	for _, f := range result.Files {
		if strings.HasSuffix(f, "_test.go") {
			hasTest = true
		} else if strings.HasSuffix(f, ".go") {
			hasGo = true
		}
	}
	if hasTest && !hasGo {
		issues = append(issues, "test files produced without any implementation files")
	}
	return issues
}

func improvementSuggestions(result models.TaskResult) []string {
	var suggestions []string
	var hasGo, hasTest bool
	for _, f := range result.Files {
		if strings.HasSuffix(f, "_test.go") {
			hasTest = true
		} else if strings.HasSuffix(f, ".go") {
			hasGo = true
		}
	}
	if hasGo && !hasTest {
		suggestions = append(suggestions, "no tests were generated alongside the implementation")
	}
	return suggestions
}

func contentImprovementSuggestions(files map[string]string) []string {
	var suggestions []string
	for _, name := range sortedNames(files) {
		src := files[name]
		if lines := strings.Count(src, "\n") + 1; lines > longFileLines {
			suggestions = append(suggestions, fmt.Sprintf("%s is %d lines, consider splitting it", name, lines))
		}
		if isGoSource(name) && !hasCommentLine(src) {
			suggestions = append(suggestions, name+" has no comments or doc comments")
		}
	}
	return suggestions
}

func performanceIssues(result models.TaskResult) []string {
	var issues []string
	if result.Model.ElapsedMS > 120_000 {
		issues = append(issues, fmt.Sprintf("generation took %.0fs, consider splitting the task", float64(result.Model.ElapsedMS)/1000))
	}
	return issues
}

func securityIssues(task models.Task, result models.TaskResult) []string {
	var issues []string
	lower := strings.ToLower(task.Description)
	for _, kw := range []string{"password", "secret", "token", "credential"} {
		if strings.Contains(lower, kw) {
			issues = append(issues, "task touches credentials ("+kw+"), verify nothing sensitive was committed")
			break
		}
	}
	for _, f := range result.Files {
		if strings.HasSuffix(f, ".env") || strings.HasSuffix(f, ".pem") {
			issues = append(issues, "suspicious generated file: "+f)
		}
	}
	return issues
}

// Substrings marking dynamic code execution or a shell invocation that can
// carry an injection.
var dangerousCallMarkers = []string{
	"eval(",
	`exec.Command("sh", "-c"`,
	`exec.Command("bash", "-c"`,
	"os.system(",
	"subprocess.call(",
}

func contentSecurityIssues(files map[string]string) []string {
	var issues []string
	for _, name := range sortedNames(files) {
		src := files[name]
		for _, marker := range dangerousCallMarkers {
			if strings.Contains(src, marker) {
				issues = append(issues, fmt.Sprintf("%s invokes dynamic command execution (%s...)", name, strings.TrimSuffix(marker, "(")))
			}
		}
	}
	return issues
}

func documentationIssues(result models.TaskResult) []string {
	if len(result.Files) < 3 {
		return nil
	}
	for _, f := range result.Files {
		lower := strings.ToLower(f)
		if strings.HasPrefix(lower, "readme") || strings.HasSuffix(lower, ".md") {
			return nil
		}
	}
	return []string{"multi-file change without any documentation"}
}

func maintainabilityIssues(result models.TaskResult) []string {
	if len(result.Files) > 10 {
		return []string{fmt.Sprintf("%d files in one task, consider smaller tasks", len(result.Files))}
	}
	return nil
}

var ipLiteralRE = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

func contentMaintainabilityIssues(files map[string]string) []string {
	var issues []string
	for _, name := range sortedNames(files) {
		src := files[name]
		for _, ip := range ipLiteralRE.FindAllString(src, -1) {
			// Loopback and the unspecified address are not deployment-bound.
			if strings.HasPrefix(ip, "127.") || ip == "0.0.0.0" {
				continue
			}
			issues = append(issues, fmt.Sprintf("%s hard-codes network address %s", name, ip))
			break
		}
		todos := strings.Count(src, "TODO") + strings.Count(src, "FIXME")
		if todos > todoDensityLimit {
			issues = append(issues, fmt.Sprintf("%s carries %d TODO/FIXME markers", name, todos))
		}
	}
	return issues
}

func firstLine(s string) string {
	line := strings.TrimSpace(strings.SplitN(s, "\n", 2)[0])
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return line
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
