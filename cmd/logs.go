package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent agent events",
	Long: `Prints the most recent events recorded by the daemon: task lifecycle,
validation results, git commits and reviewer findings.

Reads the database directly when the daemon is not running.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "lines", "n", 50, "number of events to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	ctx, cancel := cmdContext()
	defer cancel()

	events, err := apiClient().Logs(ctx, logsLimit)
	if err != nil {
		st, closeStore, serr := openStore(ctx)
		if serr != nil {
			return fmt.Errorf("daemon unreachable and database unavailable: %w", serr)
		}
		defer closeStore()
		events, err = st.RecentEvents(ctx, logsLimit)
		if err != nil {
			return err
		}
	}

	if len(events) == 0 {
		fmt.Println("No events recorded yet.")
		return nil
	}
	for _, evt := range events {
		printEvent(evt)
	}
	return nil
}

func printEvent(evt models.Event) {
	ts := evt.Timestamp
	if t := models.ParseRFC3339(evt.Timestamp); !t.IsZero() {
		ts = t.Local().Format(time.DateTime)
	}
	line := fmt.Sprintf("%s  %-7s %-10s %s", ts, evt.Level, evt.Component, evt.Message)
	if evt.TaskID != "" {
		line += "  (" + evt.TaskID + ")"
	}
	fmt.Println(line)
}
