package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the worker pool",
	Long: `Pauses the primary workers. Running tasks finish their current pipeline
stage; no new tasks are dequeued until 'codeloop resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().Pause(ctx); err != nil {
			return fmt.Errorf("pausing workers: %w", err)
		}
		fmt.Println("Workers paused. Resume with: codeloop resume")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the worker pool",
	Long: `Resumes paused workers. Also releases a daemon that is waiting at a
checkpoint for operator review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().Resume(ctx); err != nil {
			return fmt.Errorf("resuming workers: %w", err)
		}
		fmt.Println("Workers resumed.")
		return nil
	},
}
