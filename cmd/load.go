package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/supervisor"
)

var loadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load a JSON or YAML task list",
	Long: `Loads a task list file and enqueues every entry. The file is either a
top-level list or a mapping with a "tasks" list; entries are plain strings
or mappings with description, priority, task_id, target_repo and metadata.

Entries with an explicit task_id are skipped when already known, so the
same file can be loaded repeatedly. With the daemon running, tasks are
queued over the API; otherwise they are written to the database and picked
up on the next daemon start.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func runLoad(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	parsed, err := supervisor.ParseTaskList(raw, cfg.Workers.MaxRetries)
	if err != nil {
		return err
	}
	if len(parsed) == 0 {
		fmt.Println("No tasks found in file.")
		return nil
	}

	ctx, cancel := cmdContext()
	defer cancel()

	api := apiClient()
	if api.Healthy(ctx) {
		added := 0
		for _, p := range parsed {
			if p.ExplicitID {
				if existing, err := api.Task(ctx, p.Task.ID); err == nil && existing != nil {
					continue
				}
			}
			if _, err := api.CreateTask(ctx, p.Task.Description, p.Task.Priority, p.Task.MaxRetries, p.Task.TargetRepo); err != nil {
				return fmt.Errorf("queueing task %d of %d: %w", added+1, len(parsed), err)
			}
			added++
		}
		fmt.Printf("Queued %d of %d tasks on the running daemon.\n", added, len(parsed))
		return nil
	}

	// Daemon down: write directly. The daemon re-queues pending tasks from
	// the database on startup.
	st, closeStore, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("daemon unreachable and database unavailable: %w", err)
	}
	defer closeStore()

	q := queue.New(st)
	added := 0
	for _, p := range parsed {
		if p.ExplicitID {
			existing, err := st.TaskByID(ctx, p.Task.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
		}
		if err := q.Put(ctx, p.Task); err != nil {
			return err
		}
		added++
	}
	fmt.Printf("Stored %d of %d tasks; they will run when the daemon starts.\n", added, len(parsed))
	return nil
}
