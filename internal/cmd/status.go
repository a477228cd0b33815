package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog and workspace status",
	Long: `Display the backlog's pending and completed task counts, any
leftover worktrees and sandboxes, and branches in the configured
branch namespace.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	gitClient := git.NewClient(cwd)
	if !gitClient.IsRepository() {
		return fmt.Errorf("not a git repository: %s", cwd)
	}
	repoRoot, err := gitClient.Root()
	if err != nil {
		return fmt.Errorf("failed to resolve repository root: %w", err)
	}
	gitClient = git.NewClient(repoRoot)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	backlogPath := config.ResolveRepoPath(repoRoot, cfg.Run.BacklogFile)
	provider, err := newBacklogProvider(backlogPath)
	if err != nil {
		fmt.Printf("Backlog: none (%s)\n", backlogPath)
		fmt.Println("Run 'tutti init' to create one.")
		return nil
	}

	tasks, err := provider.AllTasks()
	if err != nil {
		return fmt.Errorf("failed to read backlog: %w", err)
	}

	pending := 0
	for _, t := range tasks {
		if !t.Completed {
			pending++
		}
	}

	fmt.Printf("Backlog: %s\n", backlogPath)
	fmt.Printf("Tasks: %d pending, %d completed\n", pending, len(tasks)-pending)

	if next, err := provider.NextTask(); err == nil && next != nil {
		fmt.Printf("Next: %s\n", next.Title)
	}

	worktrees := countDirs(cfg.Paths.ResolveWorktreeDir(repoRoot))
	sandboxes := countDirs(cfg.Paths.ResolveSandboxDir(repoRoot))
	if worktrees > 0 || sandboxes > 0 {
		fmt.Printf("\nLeftover workspaces: %d worktrees, %d sandboxes\n", worktrees, sandboxes)
		fmt.Println("Run 'tutti cleanup' to remove them.")
	}

	prefix := cfg.Branch.Prefix
	if prefix == "" {
		prefix = "tutti"
	}
	if branches, err := gitClient.ListBranches(prefix + "/*"); err == nil && len(branches) > 0 {
		fmt.Printf("\nBranches (%d):\n", len(branches))
		for _, branch := range branches {
			fmt.Printf("  %s\n", branch)
		}
	}

	return nil
}

// countDirs counts the subdirectories of dir, treating a missing dir
// as empty.
func countDirs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			n++
		}
	}
	return n
}
