package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Opens a full-screen terminal dashboard showing queue depth, worker
activity, live logs and agent commits. Requires a running daemon.

Keys: tab / shift+tab switch views, r refreshes, q quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		api := apiClient()
		if !api.Healthy(ctx) {
			return fmt.Errorf("daemon unreachable; start it with 'codeloop agent'")
		}
		return tui.NewApp(api).Run()
	},
}
