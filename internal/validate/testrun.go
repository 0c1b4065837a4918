package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

// Exit code reported when the test command exceeds its timeout, matching the
// conventional shell timeout(1) code.
const timeoutExitCode = 124

const maxCapturedOutput = 16 * 1024

// RunOptions configures one validator test run.
type RunOptions struct {
	// TestCommand is split on whitespace and executed in the workspace.
	TestCommand string
	// Timeout bounds the whole run; expiry reports exit code 124.
	Timeout time.Duration
	// InstallCommand optionally runs before the tests (dependency install).
	// Its failure is noted but does not fail the run.
	InstallCommand string
}

// RunTests materializes blocks into a fresh temporary workspace, synthesizes
// a minimal test when none was generated, and executes the configured test
// command. The workspace is removed on every exit path.
func RunTests(ctx context.Context, blocks []Block, opts RunOptions) models.TestOutcome {
	if opts.TestCommand == "" {
		opts.TestCommand = "go test ./..."
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}

	dir, err := os.MkdirTemp("", "codeloop-validate-*")
	if err != nil {
		return models.TestOutcome{OK: false, ExitCode: -1, Error: fmt.Sprintf("creating workspace: %v", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Warn("validate: failed to remove workspace", "dir", dir, "error", rmErr)
		}
	}()

	if err := materialize(dir, blocks); err != nil {
		return models.TestOutcome{OK: false, ExitCode: -1, Error: err.Error()}
	}
	synthesizeSupport(dir, blocks)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.InstallCommand != "" {
		if out, err := runCommand(ctx, dir, opts.InstallCommand); err != nil {
			slog.Warn("validate: dependency install failed", "error", err, "output", truncateForLog(out))
		}
	}

	outcome := models.TestOutcome{}
	stdout, stderr, exitCode, runErr := runCapture(ctx, dir, opts.TestCommand)
	outcome.Stdout = stdout
	outcome.Stderr = stderr
	outcome.ExitCode = exitCode

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome.OK = false
		outcome.ExitCode = timeoutExitCode
		outcome.Error = fmt.Sprintf("test run timed out after %s", opts.Timeout)
	case runErr != nil && exitCode == 0:
		outcome.OK = false
		outcome.ExitCode = -1
		outcome.Error = runErr.Error()
	default:
		outcome.OK = exitCode == 0
	}
	return outcome
}

// materialize writes blocks into dir, creating parent directories. Paths are
// confined to the workspace; anything escaping it is rejected.
func materialize(dir string, blocks []Block) error {
	for _, b := range blocks {
		clean := filepath.Clean(b.Filename)
		if clean == "" || clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("refusing to write file outside workspace: %q", b.Filename)
		}
		path := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(clean), err)
		}
		if err := os.WriteFile(path, []byte(b.Source+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", clean, err)
		}
	}
	return nil
}

// synthesizeSupport adds the scaffolding a bare generation needs to be
// testable: a module manifest when Go files exist without one, and a minimal
// load test when no test file was generated. Compiling the package is the
// baseline "parse and load" exercise.
func synthesizeSupport(dir string, blocks []Block) {
	var hasGo, hasGoMod, hasTest bool
	pkg := ""
	for _, b := range blocks {
		switch {
		case b.Filename == "go.mod":
			hasGoMod = true
		case strings.HasSuffix(b.Filename, "_test.go"):
			hasTest = true
			hasGo = true
		case strings.HasSuffix(b.Filename, ".go"):
			hasGo = true
			if pkg == "" && !strings.Contains(b.Filename, "/") {
				pkg = goPackageName(b.Source)
			}
		}
	}
	if !hasGo {
		return
	}

	if !hasGoMod {
		manifest := "module generated\n\ngo 1.26\n"
		if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(manifest), 0o644); err != nil {
			slog.Warn("validate: failed to write module manifest", "error", err)
		}
	}

	if !hasTest && pkg != "" && pkg != "main" {
		test := fmt.Sprintf("package %s\n\nimport \"testing\"\n\nfunc TestGeneratedCodeLoads(t *testing.T) {}\n", pkg)
		if err := os.WriteFile(filepath.Join(dir, "generated_load_test.go"), []byte(test), 0o644); err != nil {
			slog.Warn("validate: failed to write load test", "error", err)
		}
	}
	if !hasTest && pkg == "main" {
		test := "package main\n\nimport \"testing\"\n\nfunc TestGeneratedCodeLoads(t *testing.T) {}\n"
		if err := os.WriteFile(filepath.Join(dir, "generated_load_test.go"), []byte(test), 0o644); err != nil {
			slog.Warn("validate: failed to write load test", "error", err)
		}
	}
}

func runCommand(ctx context.Context, dir, command string) (string, error) {
	stdout, stderr, _, err := runCapture(ctx, dir, command)
	return stdout + stderr, err
}

func runCapture(ctx context.Context, dir, command string) (stdout, stderr string, exitCode int, err error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", "", -1, fmt.Errorf("empty test command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = dir
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	exitCode = 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 0
		}
	}
	return truncateForLog(outBuf.String()), truncateForLog(errBuf.String()), exitCode, runErr
}

func truncateForLog(s string) string {
	if len(s) > maxCapturedOutput {
		return s[:maxCapturedOutput] + "\n... (truncated)"
	}
	return s
}
