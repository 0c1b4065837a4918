package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup wizard",
	Long: `Walks you through configuring codeloop:
  - Model backend (local HTTP endpoint, hosted API, or a response file)
  - Worker pool size and retry budget
  - Git author identity and commit branch
  - Tireless reviewer

The result is written to ~/.codeloop/config.json. Re-run at any time to
change settings; existing values are offered as defaults.`,
	RunE: runInit,
}

var wizardHeader = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#2DD4BF")).
	MarginBottom(1)

var wizardDim = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#6B7280"))

var wizardOK = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#10B981"))

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println()
	fmt.Println(wizardHeader.Render("  codeloop - autonomous coding agent"))
	fmt.Println(wizardDim.Render("  Queue tasks, walk away; the agent generates, validates and commits.\n"))

	// Existing config (or defaults) seeds the form values.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// --- Step 1: model backend ---
	fmt.Println(wizardHeader.Render("  Step 1/4 · Model backend"))
	fmt.Println(wizardDim.Render("  http-local talks to an Ollama-style endpoint on this machine."))
	fmt.Println(wizardDim.Render("  hosted uses an OpenAI-compatible API. file-backed replays canned"))
	fmt.Println(wizardDim.Render("  responses and is meant for trying codeloop without a model.\n"))

	modelType := cfg.Model.Type
	modelName := cfg.Model.Name
	baseURL := cfg.Model.BaseURL
	apiKey := cfg.Model.APIKey
	filePath := cfg.Model.FilePath

	modelForm := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Backend type").
				Options(
					huh.NewOption("Local HTTP endpoint (Ollama, llama.cpp server)", "http-local"),
					huh.NewOption("Hosted API (OpenAI-compatible)", "hosted"),
					huh.NewOption("File-backed (canned responses, no model needed)", "file-backed"),
				).
				Value(&modelType),
			huh.NewInput().
				Title("Model name").
				Description("The model the backend should serve, e.g. codellama or gpt-4o.").
				Value(&modelName),
		),
	)
	if err := modelForm.Run(); err != nil {
		return err
	}

	switch modelType {
	case "hosted":
		hostedForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("Leave blank for the provider default.").
				Placeholder("https://api.openai.com/v1").
				Value(&baseURL),
			huh.NewInput().
				Title("API key").
				Placeholder("sk-...").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		))
		if err := hostedForm.Run(); err != nil {
			return err
		}
	case "file-backed":
		fileForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Response file path").
				Description("A file with fenced code blocks, returned for every prompt.").
				Value(&filePath),
		))
		if err := fileForm.Run(); err != nil {
			return err
		}
	default:
		localForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Endpoint URL").
				Placeholder("http://localhost:11434").
				Value(&baseURL),
		))
		if err := localForm.Run(); err != nil {
			return err
		}
	}

	cfg.Model.Type = modelType
	cfg.Model.Name = strings.TrimSpace(modelName)
	cfg.Model.BaseURL = strings.TrimSpace(baseURL)
	cfg.Model.APIKey = strings.TrimSpace(apiKey)
	cfg.Model.FilePath = strings.TrimSpace(filePath)

	// --- Step 2: workers ---
	fmt.Println(wizardHeader.Render("\n  Step 2/4 · Workers"))

	workerCount := strconv.Itoa(cfg.Workers.Count)
	maxRetries := strconv.Itoa(cfg.Workers.MaxRetries)
	testCommand := cfg.Workers.TestCommand

	workerForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Worker count").
			Description("Parallel tasks in flight. Each worker makes its own model calls.").
			Validate(validatePositiveInt).
			Value(&workerCount),
		huh.NewInput().
			Title("Retry budget per task").
			Validate(validateNonNegativeInt).
			Value(&maxRetries),
		huh.NewInput().
			Title("Test command").
			Description("Runs against generated code before anything is committed.").
			Value(&testCommand),
	))
	if err := workerForm.Run(); err != nil {
		return err
	}
	cfg.Workers.Count, _ = strconv.Atoi(workerCount)
	cfg.Workers.MaxRetries, _ = strconv.Atoi(maxRetries)
	cfg.Workers.TestCommand = strings.TrimSpace(testCommand)

	// --- Step 3: git ---
	fmt.Println(wizardHeader.Render("\n  Step 3/4 · Git"))

	authorName := cfg.Git.AuthorName
	authorEmail := cfg.Git.AuthorEmail
	branch := cfg.Git.Branch
	autoPush := cfg.Git.AutoPush
	githubToken := cfg.Git.GitHubToken

	gitForm := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Commit author name").
			Value(&authorName),
		huh.NewInput().
			Title("Commit author email").
			Value(&authorEmail),
		huh.NewInput().
			Title("Branch").
			Description("The branch the agent commits to.").
			Value(&branch),
		huh.NewConfirm().
			Title("Push after every successful commit?").
			Value(&autoPush),
		huh.NewInput().
			Title("GitHub token (optional)").
			Description("Used for cloning private repositories and API lookups.").
			Placeholder("ghp_...  (optional)").
			EchoMode(huh.EchoModePassword).
			Value(&githubToken),
	))
	if err := gitForm.Run(); err != nil {
		return err
	}
	cfg.Git.AuthorName = strings.TrimSpace(authorName)
	cfg.Git.AuthorEmail = strings.TrimSpace(authorEmail)
	cfg.Git.Branch = strings.TrimSpace(branch)
	cfg.Git.AutoPush = autoPush
	cfg.Git.GitHubToken = strings.TrimSpace(githubToken)

	// --- Step 4: reviewer ---
	fmt.Println(wizardHeader.Render("\n  Step 4/4 · Tireless reviewer"))
	fmt.Println(wizardDim.Render("  Re-examines completed tasks in the background and can queue"))
	fmt.Println(wizardDim.Render("  follow-up tasks when it finds real problems.\n"))

	reviewerEnabled := cfg.Reviewer.Enabled
	createFollowups := cfg.Reviewer.CreateFollowups

	reviewerForm := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Enable the reviewer?").
			Value(&reviewerEnabled),
		huh.NewConfirm().
			Title("Let it queue follow-up tasks for critical findings?").
			Value(&createFollowups),
	))
	if err := reviewerForm.Run(); err != nil {
		return err
	}
	cfg.Reviewer.Enabled = reviewerEnabled
	cfg.Reviewer.CreateFollowups = createFollowups

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println(wizardOK.Render("  Configuration written to " + config.Path()))
	fmt.Println(wizardDim.Render("  Next steps:"))
	fmt.Println(wizardDim.Render("    codeloop repo connect --url <repository>"))
	fmt.Println(wizardDim.Render("    codeloop agent"))
	fmt.Println(wizardDim.Render("    codeloop task \"your first task\""))
	fmt.Println()
	return nil
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a whole number of at least 1")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("enter a whole number of at least 0")
	}
	return nil
}
