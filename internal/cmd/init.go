package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
)

// backlogTemplate seeds a new backlog file. The example items are
// indented so they parse as prose, not tasks; a run against the fresh
// template dispatches nothing.
const backlogTemplate = `# Backlog

One task per checklist item. Tasks run in file order unless grouped:
append @parallel(N) to a title to batch it with other group-N tasks.
Indented lines below an item become its description.

Example (outdent to activate):

  - [ ] Add input validation to the signup form @parallel(1)
    Reject empty emails and passwords shorter than 8 characters.
  - [ ] Fix the flaky session timeout test @parallel(1)
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize tutti in the current repository",
	Long: `Initialize tutti in the current git repository.

This creates the state directory for worktrees, sandboxes, and logs,
and seeds a BACKLOG.md if the repository has none.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
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

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	worktreeDir := cfg.Paths.ResolveWorktreeDir(repoRoot)
	if err := os.MkdirAll(worktreeDir, 0755); err != nil {
		return fmt.Errorf("failed to create worktree directory: %w", err)
	}
	sandboxDir := cfg.Paths.ResolveSandboxDir(repoRoot)
	if err := os.MkdirAll(sandboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	backlogPath := config.ResolveRepoPath(repoRoot, cfg.Run.BacklogFile)
	seeded := false
	if _, err := os.Stat(backlogPath); os.IsNotExist(err) {
		if err := os.WriteFile(backlogPath, []byte(backlogTemplate), 0644); err != nil {
			return fmt.Errorf("failed to seed backlog file: %w", err)
		}
		seeded = true
	}

	fmt.Println("tutti initialized successfully!")
	fmt.Printf("State directory: %s\n", filepath.Join(repoRoot, config.StateDirName))
	if seeded {
		fmt.Printf("Backlog seeded: %s\n", backlogPath)
	} else {
		fmt.Printf("Backlog: %s\n", backlogPath)
	}
	return nil
}
