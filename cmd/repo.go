package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/models"
)

var (
	repoURL         string
	repoPath        string
	repoAlias       string
	repoBranch      string
	repoInit        bool
	repoRemoveFiles bool
	repoPushMessage string
	repoTreeDepth   int
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage connected repositories",
	Long: `Connects, inspects and maintains the repositories the agent works in.
Cloned repositories live under ~/.codeloop/repos; local repositories are
used in place.`,
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		bindings, err := apiClient().Repositories(ctx)
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			fmt.Println("No repositories connected. Add one with: codeloop repo connect")
			return nil
		}
		for _, b := range bindings {
			printBinding(b)
		}
		return nil
	},
}

var repoConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a remote or local repository",
	Long: `Connects a repository so tasks can target it by alias.

Remote: --url clones the repository into the managed workspace.
Local:  --path binds an existing directory in place; --init turns a plain
directory into a git repository first.

Examples:
  codeloop repo connect --url https://github.com/acme/billing --alias billing
  codeloop repo connect --path ~/src/website --alias website`,
	RunE: runRepoConnect,
}

var repoDisconnectCmd = &cobra.Command{
	Use:   "disconnect <alias>",
	Short: "Disconnect a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().Disconnect(ctx, args[0], repoRemoveFiles); err != nil {
			return err
		}
		fmt.Printf("Repository %s disconnected.\n", args[0])
		return nil
	},
}

var repoPullCmd = &cobra.Command{
	Use:   "pull <alias>",
	Short: "Pull the latest changes from the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().Pull(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Repository %s is up to date.\n", args[0])
		return nil
	},
}

var repoPushCmd = &cobra.Command{
	Use:   "push <alias>",
	Short: "Commit outstanding changes and push to the remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		if err := apiClient().Push(ctx, args[0], repoPushMessage); err != nil {
			return err
		}
		fmt.Printf("Repository %s pushed.\n", args[0])
		return nil
	},
}

var repoScanCmd = &cobra.Command{
	Use:   "scan <alias>",
	Short: "Scan a repository for candidate tasks",
	Long: `Scans the repository for TODO/FIXME/HACK markers and structural issues,
printing each as a candidate task.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		scan, err := apiClient().Scan(ctx, args[0])
		if err != nil {
			return err
		}
		if len(scan.Tasks) == 0 && len(scan.Issues) == 0 {
			fmt.Printf("Repository %s: nothing found.\n", scan.Alias)
			return nil
		}
		for _, t := range scan.Tasks {
			fmt.Printf("%s:%d  [%s] %s\n", t.File, t.Line, t.Marker, t.Text)
		}
		for _, issue := range scan.Issues {
			fmt.Printf("issue: %s\n", issue)
		}
		fmt.Printf("\n%d candidate tasks, %d issues. Queue one with: codeloop task --repo %s \"...\"\n",
			len(scan.Tasks), len(scan.Issues), scan.Alias)
		return nil
	},
}

var repoTreeCmd = &cobra.Command{
	Use:   "tree <alias>",
	Short: "Print the repository file tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		nodes, err := apiClient().Tree(ctx, args[0], repoTreeDepth)
		if err != nil {
			return err
		}
		printTree(nodes, 0)
		return nil
	},
}

func init() {
	repoConnectCmd.Flags().StringVar(&repoURL, "url", "", "remote repository URL to clone")
	repoConnectCmd.Flags().StringVar(&repoPath, "path", "", "local directory to bind in place")
	repoConnectCmd.Flags().StringVar(&repoAlias, "alias", "", "alias for the repository (default: derived from URL or path)")
	repoConnectCmd.Flags().StringVar(&repoBranch, "branch", "", "branch to work on (remote only)")
	repoConnectCmd.Flags().BoolVar(&repoInit, "init", false, "initialise a git repository in the directory (local only)")
	repoDisconnectCmd.Flags().BoolVar(&repoRemoveFiles, "remove-files", false, "also delete the cloned working directory")
	repoPushCmd.Flags().StringVarP(&repoPushMessage, "message", "m", "", "commit message for outstanding changes")
	repoTreeCmd.Flags().IntVar(&repoTreeDepth, "depth", 3, "maximum tree depth")

	repoCmd.AddCommand(
		repoListCmd,
		repoConnectCmd,
		repoDisconnectCmd,
		repoPullCmd,
		repoPushCmd,
		repoScanCmd,
		repoTreeCmd,
	)
}

func runRepoConnect(cmd *cobra.Command, args []string) error {
	if (repoURL == "") == (repoPath == "") {
		return fmt.Errorf("provide exactly one of --url or --path")
	}

	ctx, cancel := cmdContext()
	defer cancel()
	api := apiClient()

	var (
		binding models.RepositoryBinding
		err     error
	)
	if repoURL != "" {
		binding, err = api.ConnectRemote(ctx, repoURL, repoAlias, repoBranch)
	} else {
		binding, err = api.ConnectLocal(ctx, repoPath, repoAlias, repoInit)
	}
	if err != nil {
		return err
	}

	fmt.Println("Repository connected:")
	printBinding(binding)
	fmt.Printf("\nQueue a task against it with: codeloop task --repo %s \"...\"\n", binding.Alias)
	return nil
}

func printBinding(b models.RepositoryBinding) {
	kind := b.Kind
	if b.Tracked {
		kind += ", tracked"
	}
	fmt.Printf("%-16s %-16s %s\n", b.Alias, "("+kind+")", b.WorkingDir)
	if b.RemoteURL != "" {
		fmt.Printf("%-16s %-16s %s", "", "", b.RemoteURL)
		if b.Branch != "" {
			fmt.Printf(" @ %s", b.Branch)
		}
		fmt.Println()
	}
}

func printTree(nodes []models.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.Dir {
			fmt.Printf("%s%s/\n", indent, n.Name)
			printTree(n.Children, depth+1)
		} else {
			fmt.Printf("%s%s\n", indent, n.Name)
		}
	}
}
