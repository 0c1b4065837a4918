package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	taskPriority int
	taskRetries  int
	taskRepo     string
)

var taskCmd = &cobra.Command{
	Use:   "task <description>",
	Short: "Queue a coding task",
	Long: `Queues a free-text coding task on the running daemon. Higher priority
tasks are picked up first; ties are served in arrival order.

Examples:
  codeloop task "add a healthcheck endpoint to the gateway"
  codeloop task --priority 5 --repo billing "fix the invoice rounding bug"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	taskCmd.Flags().IntVarP(&taskPriority, "priority", "p", 0,
		"task priority (higher runs first)")
	taskCmd.Flags().IntVar(&taskRetries, "retries", 0,
		"retry budget for this task (default from config)")
	taskCmd.Flags().StringVar(&taskRepo, "repo", "",
		"alias of the connected repository to work in")
}

func runTask(cmd *cobra.Command, args []string) error {
	description := strings.TrimSpace(strings.Join(args, " "))
	if description == "" {
		return fmt.Errorf("task description is empty")
	}

	ctx, cancel := cmdContext()
	defer cancel()

	api := apiClient()
	id, err := api.CreateTask(ctx, description, taskPriority, taskRetries, taskRepo)
	if err != nil {
		return fmt.Errorf("queueing task: %w (is the daemon running? start it with 'codeloop agent')", err)
	}

	fmt.Printf("Task queued: %s\n", id)
	if taskRepo != "" {
		fmt.Printf("  Repository: %s\n", taskRepo)
	}
	fmt.Println("  Follow it with: codeloop status, codeloop logs, or codeloop ui")
	return nil
}
