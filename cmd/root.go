package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "codeloop",
	Short: "Autonomous coding agent with a persistent task queue",
	Long: `codeloop is an autonomous coding agent: you queue free-text tasks, a
worker pool drives each one through generate → validate → commit against
connected git repositories, and a tireless reviewer pool re-examines
completed work in the background.

Get started:
  codeloop init       Interactive setup wizard
  codeloop agent      Run the daemon (workers, reviewer, HTTP API)
  codeloop task       Queue a coding task
  codeloop status     Show queue, worker and reviewer state
  codeloop ui         Launch the terminal dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.codeloop/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		initCmd,
		agentCmd,
		taskCmd,
		statusCmd,
		pauseCmd,
		resumeCmd,
		logsCmd,
		loadCmd,
		repoCmd,
		reviewerCmd,
		uiCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		os.Setenv("CODELOOP_CONFIG", cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
