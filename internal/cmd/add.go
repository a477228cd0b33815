package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
)

var addCmd = &cobra.Command{
	Use:   "add [task title]",
	Short: "Add a task to the backlog",
	Long: `Add a task to the end of the backlog file.

The task runs on the next 'tutti run'. Use --group to batch it with
other tasks sharing the same parallel group number, and --body to
attach a longer description the agent will see.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

var (
	addGroup int
	addBody  string
)

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().IntVarP(&addGroup, "group", "g", 0, "Parallel group number (0 = ungrouped)")
	addCmd.Flags().StringVarP(&addBody, "body", "b", "", "Longer task description")
}

// taskAdder is satisfied by backlog providers that support appending.
type taskAdder interface {
	Add(t backlog.Task) (backlog.Task, error)
}

func runAdd(cmd *cobra.Command, args []string) error {
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

	backlogPath := config.ResolveRepoPath(repoRoot, cfg.Run.BacklogFile)
	provider, err := newBacklogProvider(backlogPath)
	if err != nil {
		return fmt.Errorf("failed to open backlog. Run 'tutti init' first: %w", err)
	}

	adder, ok := provider.(taskAdder)
	if !ok {
		return fmt.Errorf("backlog format %T does not support adding tasks", provider)
	}

	task, err := adder.Add(backlog.Task{
		Title: args[0],
		Body:  addBody,
		Group: addGroup,
	})
	if err != nil {
		return fmt.Errorf("failed to add task: %w", err)
	}
	if err := provider.Flush(); err != nil {
		return fmt.Errorf("failed to save backlog: %w", err)
	}

	fmt.Printf("Added %s: %s\n", task.ID, task.Title)
	if task.Group != 0 {
		fmt.Printf("Group: %d\n", task.Group)
	}
	fmt.Printf("Backlog: %s\n", backlogPath)
	return nil
}
