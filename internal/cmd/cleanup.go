package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tutti/internal/capture"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// CleanupResult holds the resources left behind by previous runs
type CleanupResult struct {
	StaleWorktrees []StaleWorktree
	StaleSandboxes []StaleSandbox
	StaleBranches  []StaleBranch
}

// StaleWorktree is a leftover worktree directory under the worktree root
type StaleWorktree struct {
	Path           string
	Branch         string
	HasUncommitted bool
}

// StaleSandbox is a leftover sandbox directory under the sandbox root
type StaleSandbox struct {
	Path string
	// ModifiedFiles counts files differing from the original tree.
	// A negative count means the sandbox could not be compared.
	ModifiedFiles int
}

// StaleBranch is a leftover branch in the configured branch namespace
type StaleBranch struct {
	Name string
	// CommitsAhead counts commits not yet on the default branch.
	// A negative count means the branch could not be compared.
	CommitsAhead int
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up leftover worktrees, sandboxes, and branches",
	Long: `Cleanup removes resources that previous runs left behind:

- Worktrees: directories under the worktree root (.tutti/worktrees by default)
- Sandboxes: directories under the sandbox root (.tutti/sandboxes by default)
- Branches: <prefix>/* branches already contained in the default branch
  (prefix is configured via branch.prefix, default: "tutti")

Resources holding unlanded work are preserved: dirty worktrees, sandboxes
with modified files, and branches with unmerged commits are skipped unless
--force is given.

Use --dry-run to see what would be cleaned up without making changes.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun    bool
	cleanupForce     bool
	cleanupWorktrees bool
	cleanupSandboxes bool
	cleanupBranches  bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Also remove resources holding unlanded work, without confirmation")
	cleanupCmd.Flags().BoolVar(&cleanupWorktrees, "worktrees", false, "Clean up only worktrees")
	cleanupCmd.Flags().BoolVar(&cleanupSandboxes, "sandboxes", false, "Clean up only sandboxes")
	cleanupCmd.Flags().BoolVar(&cleanupBranches, "branches", false, "Clean up only branches")
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	// If no specific flags, clean all
	cleanAll := !cleanupWorktrees && !cleanupSandboxes && !cleanupBranches

	result := discoverStaleResources(cfg, repoRoot, gitClient)

	hasWork := false
	if (cleanAll || cleanupWorktrees) && len(result.StaleWorktrees) > 0 {
		hasWork = true
	}
	if (cleanAll || cleanupSandboxes) && len(result.StaleSandboxes) > 0 {
		hasWork = true
	}
	if (cleanAll || cleanupBranches) && len(result.StaleBranches) > 0 {
		hasWork = true
	}

	if !hasWork {
		fmt.Println("No stale resources found. Nothing to clean up.")
		return nil
	}

	printCleanupSummary(result, cleanAll)

	if cleanupDryRun {
		fmt.Println("\nDry run mode - no changes made.")
		return nil
	}

	// Confirm unless forced
	if !cleanupForce {
		fmt.Print("\nProceed with cleanup? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	return performCleanup(gitClient, result, cleanAll)
}

func discoverStaleResources(cfg *config.Config, repoRoot string, gitClient *git.Client) *CleanupResult {
	result := &CleanupResult{}

	result.StaleWorktrees = findStaleWorktrees(cfg.Paths.ResolveWorktreeDir(repoRoot))
	result.StaleSandboxes = findStaleSandboxes(cfg, repoRoot)
	result.StaleBranches = findStaleBranches(gitClient, cfg.Branch.Prefix)

	return result
}

func findStaleWorktrees(worktreeDir string) []StaleWorktree {
	var stale []StaleWorktree

	entries, err := os.ReadDir(worktreeDir)
	if err != nil {
		return stale
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		wtPath := filepath.Join(worktreeDir, entry.Name())
		sw := StaleWorktree{Path: wtPath}

		wtClient := git.NewClient(wtPath)
		if branch, err := wtClient.CurrentBranch(); err == nil {
			sw.Branch = branch
		}
		if dirty, err := wtClient.HasUncommittedChanges(wtPath); err == nil {
			sw.HasUncommitted = dirty
		}

		stale = append(stale, sw)
	}

	return stale
}

func findStaleSandboxes(cfg *config.Config, repoRoot string) []StaleSandbox {
	var stale []StaleSandbox

	entries, err := os.ReadDir(cfg.Paths.ResolveSandboxDir(repoRoot))
	if err != nil {
		return stale
	}

	detector := capture.NewDetector(cfg.Sandbox.SymlinkDirs, logging.NopLogger())
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sbPath := filepath.Join(cfg.Paths.ResolveSandboxDir(repoRoot), entry.Name())
		sb := StaleSandbox{Path: sbPath, ModifiedFiles: -1}
		if files, err := detector.ModifiedFiles(sbPath, repoRoot); err == nil {
			sb.ModifiedFiles = len(files)
		}

		stale = append(stale, sb)
	}

	return stale
}

func findStaleBranches(gitClient *git.Client, branchPrefix string) []StaleBranch {
	if branchPrefix == "" {
		branchPrefix = "tutti"
	}

	branches, err := gitClient.ListBranches(branchPrefix + "/*")
	if err != nil {
		return nil
	}

	current, _ := gitClient.CurrentBranch()
	target := gitClient.FindDefaultBranch()

	var stale []StaleBranch
	for _, branch := range branches {
		if branch == current {
			continue
		}

		sb := StaleBranch{Name: branch, CommitsAhead: -1}
		if ahead, err := gitClient.CommitCount(target, branch); err == nil {
			sb.CommitsAhead = ahead
		}

		stale = append(stale, sb)
	}

	return stale
}

func printCleanupSummary(result *CleanupResult, cleanAll bool) {
	fmt.Println(strings.Repeat("─", 60))
	fmt.Println("Stale Resources Found")
	fmt.Println(strings.Repeat("─", 60))

	if (cleanAll || cleanupWorktrees) && len(result.StaleWorktrees) > 0 {
		fmt.Printf("\nWorktrees (%d):\n", len(result.StaleWorktrees))
		for _, wt := range result.StaleWorktrees {
			status := ""
			if wt.HasUncommitted {
				status = " [uncommitted changes]"
			}
			fmt.Printf("  - %s%s\n", filepath.Base(wt.Path), status)
			if wt.Branch != "" {
				fmt.Printf("    Branch: %s\n", wt.Branch)
			}
		}
	}

	if (cleanAll || cleanupSandboxes) && len(result.StaleSandboxes) > 0 {
		fmt.Printf("\nSandboxes (%d):\n", len(result.StaleSandboxes))
		for _, sb := range result.StaleSandboxes {
			status := ""
			switch {
			case sb.ModifiedFiles < 0:
				status = " [uncomparable]"
			case sb.ModifiedFiles > 0:
				status = fmt.Sprintf(" [%d modified files]", sb.ModifiedFiles)
			}
			fmt.Printf("  - %s%s\n", filepath.Base(sb.Path), status)
		}
	}

	if (cleanAll || cleanupBranches) && len(result.StaleBranches) > 0 {
		fmt.Printf("\nBranches (%d):\n", len(result.StaleBranches))
		for _, br := range result.StaleBranches {
			status := ""
			switch {
			case br.CommitsAhead < 0:
				status = " [uncomparable]"
			case br.CommitsAhead > 0:
				status = fmt.Sprintf(" [%d unmerged commits]", br.CommitsAhead)
			}
			fmt.Printf("  - %s%s\n", br.Name, status)
		}
	}
}

func performCleanup(gitClient *git.Client, result *CleanupResult, cleanAll bool) error {
	fmt.Println()

	var totalRemoved int

	if cleanAll || cleanupWorktrees {
		for _, sw := range result.StaleWorktrees {
			// Safety: a dirty worktree holds unlanded work
			if sw.HasUncommitted && !cleanupForce {
				fmt.Printf("Skipping %s (has uncommitted changes, use --force to remove)\n", filepath.Base(sw.Path))
				continue
			}

			if err := gitClient.RemoveWorktree(sw.Path); err != nil {
				fmt.Printf("Warning: failed to remove worktree %s: %v\n", filepath.Base(sw.Path), err)
				continue
			}
			fmt.Printf("Removed worktree: %s\n", filepath.Base(sw.Path))
			totalRemoved++
		}
		if err := gitClient.PruneWorktrees(); err != nil {
			fmt.Printf("Warning: failed to prune worktree records: %v\n", err)
		}
	}

	if cleanAll || cleanupSandboxes {
		for _, sb := range result.StaleSandboxes {
			// Safety: modified or uncomparable sandboxes hold unlanded work
			if sb.ModifiedFiles != 0 && !cleanupForce {
				fmt.Printf("Skipping %s (has uncaptured changes, use --force to remove)\n", filepath.Base(sb.Path))
				continue
			}

			if err := os.RemoveAll(sb.Path); err != nil {
				fmt.Printf("Warning: failed to remove sandbox %s: %v\n", filepath.Base(sb.Path), err)
				continue
			}
			fmt.Printf("Removed sandbox: %s\n", filepath.Base(sb.Path))
			totalRemoved++
		}
	}

	if cleanAll || cleanupBranches {
		// Branches whose worktree was just removed are covered by the
		// branch loop itself; a branch attached to a surviving worktree
		// cannot be deleted and is reported by git instead.
		for _, br := range result.StaleBranches {
			if br.CommitsAhead != 0 && !cleanupForce {
				fmt.Printf("Skipping %s (has unmerged commits, use --force to delete)\n", br.Name)
				continue
			}

			if err := gitClient.DeleteBranch(br.Name); err != nil {
				fmt.Printf("Warning: failed to delete branch %s: %v\n", br.Name, err)
				continue
			}
			fmt.Printf("Deleted branch: %s\n", br.Name)
			totalRemoved++
		}
	}

	fmt.Printf("\nCleanup complete. Removed %d resources.\n", totalRemoved)
	return nil
}
