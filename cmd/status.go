package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/internal/client"
	"github.com/CosmoTheDev/codeloop-agent/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue, worker, model and reviewer state",
	Long: `Shows the state of the running daemon: queue depth, per-worker activity,
model backends and reviewer counters.

When the daemon is not running the command falls back to reading the
database directly, showing task counts and the last saved snapshot.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	api := apiClient()
	status, err := api.Status(ctx)
	if err != nil {
		return offlineStatus(cmd)
	}
	printStatus(status)
	return nil
}

func printStatus(s client.Status) {
	state := "running"
	if s.InCheckpoint {
		state = "checkpoint (paused for review)"
	} else if s.Paused {
		state = "paused"
	}

	fmt.Printf("codeloop daemon: %s\n", state)
	fmt.Printf("  Uptime       : %s\n", (time.Duration(s.UptimeSeconds) * time.Second).String())
	if s.LastCheckpoint != "" {
		fmt.Printf("  Checkpoint   : %s\n", s.LastCheckpoint)
	}
	fmt.Printf("  Repositories : %d connected\n", s.Repositories)
	fmt.Println()

	fmt.Printf("Queue: %d waiting\n", s.Queue.Size)
	for _, st := range []string{models.TaskPending, models.TaskRunning, models.TaskCompleted, models.TaskFailed} {
		if n := s.Queue.ByStatus[st]; n > 0 {
			fmt.Printf("  %-9s : %d\n", st, n)
		}
	}
	fmt.Println()

	fmt.Printf("Workers (%d):\n", len(s.Workers))
	for _, w := range s.Workers {
		line := fmt.Sprintf("  %-10s %-8s done=%d failed=%d", w.ID, w.Status, w.CompletedCount, w.FailedCount)
		if w.CurrentTask != "" {
			line += "  task=" + w.CurrentTask
		}
		fmt.Println(line)
	}
	fmt.Println()

	fmt.Println("Model backends:")
	for _, m := range s.Model {
		marker := " "
		if m.Active {
			marker = "*"
		}
		avail := "unavailable"
		if m.Available {
			avail = "available"
		}
		fmt.Printf("  %s %-12s %-20s %s\n", marker, m.Kind, m.Model, avail)
	}
	fmt.Println()

	fmt.Printf("Reviewer: %d reviewed, %d issues, %d improvements, %d major tasks deferred\n",
		s.Reviewer.TasksReviewed, s.Reviewer.IssuesDiscovered,
		s.Reviewer.ImprovementsSuggested, s.Reviewer.MajorTasksRespected)
	if s.Reviewer.LastReview != "" {
		fmt.Printf("  Last review: %s\n", s.Reviewer.LastReview)
	}
}

// offlineStatus reads the database directly when the daemon is unreachable.
func offlineStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("daemon unreachable and database unavailable: %w", err)
	}
	defer closeStore()

	counts, err := st.TaskStats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("codeloop daemon: not running (showing stored state)")
	fmt.Println()
	fmt.Println("Tasks:")
	total := 0
	for _, status := range []string{models.TaskPending, models.TaskRunning, models.TaskCompleted, models.TaskFailed} {
		fmt.Printf("  %-9s : %d\n", status, counts[status])
		total += counts[status]
	}
	fmt.Printf("  %-9s : %d\n", "total", total)

	if snap, err := st.LoadSnapshot(ctx); err == nil && snap != nil {
		fmt.Println()
		fmt.Printf("Last snapshot: %s\n", snap.Timestamp)
		if snap.LastCheckpoint != "" {
			fmt.Printf("  Checkpoint : %s\n", snap.LastCheckpoint)
		}
	}

	fmt.Println()
	fmt.Println("Start the daemon with: codeloop agent")
	return nil
}
