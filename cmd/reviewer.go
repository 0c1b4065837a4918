package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var reviewerCmd = &cobra.Command{
	Use:   "reviewer",
	Short: "Inspect and drive the tireless reviewer",
	Long: `The tireless reviewer re-examines completed tasks in the background:
a fast pass over recent work and a deeper pass over the last week.
This command shows its counters, forces a review of one task, and prints
stored findings.`,
}

var reviewerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show reviewer counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		enabled, stats, err := apiClient().ReviewerStatus(ctx)
		if err != nil {
			return err
		}
		if !enabled {
			fmt.Println("Reviewer: disabled (enable with reviewer.enabled in the config)")
			return nil
		}
		fmt.Println("Reviewer: enabled")
		fmt.Printf("  Tasks reviewed        : %d\n", stats.TasksReviewed)
		fmt.Printf("  Issues discovered     : %d\n", stats.IssuesDiscovered)
		fmt.Printf("  Improvements suggested: %d\n", stats.ImprovementsSuggested)
		fmt.Printf("  Major tasks deferred  : %d\n", stats.MajorTasksRespected)
		if stats.LastReview != "" {
			fmt.Printf("  Last review           : %s\n", stats.LastReview)
		}
		return nil
	},
}

var reviewerForceCmd = &cobra.Command{
	Use:   "force <task-id>",
	Short: "Review a completed task immediately",
	Long: `Runs a review of the given completed task right away, bypassing the
usual cadence and the grace period for major tasks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		findings, err := apiClient().ForceReview(ctx, args[0])
		if err != nil {
			return err
		}
		printFindingMap(findings)
		return nil
	},
}

var reviewerResultsCmd = &cobra.Command{
	Use:   "results <task-id>",
	Short: "Show stored findings for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		findings, err := apiClient().ReviewResults(ctx, args[0])
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			fmt.Println("No findings recorded for this task.")
			return nil
		}
		for _, f := range findings {
			var issues []string
			if err := json.Unmarshal([]byte(f.Issues), &issues); err != nil {
				issues = []string{f.Issues}
			}
			fmt.Printf("%s  %s / %s\n", f.CreatedAt, f.ReviewKind, f.Category)
			for _, issue := range issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
		return nil
	},
}

func init() {
	reviewerCmd.AddCommand(reviewerStatusCmd, reviewerForceCmd, reviewerResultsCmd)
}

func printFindingMap(findings map[string][]string) {
	if len(findings) == 0 {
		fmt.Println("Review complete: no findings.")
		return
	}
	categories := make([]string, 0, len(findings))
	for cat := range findings {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		fmt.Printf("%s:\n", cat)
		for _, issue := range findings[cat] {
			fmt.Printf("  - %s\n", issue)
		}
	}
}
