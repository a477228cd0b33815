package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Iron-Ham/tutti/internal/agent"
	"github.com/Iron-Ham/tutti/internal/backlog"
	"github.com/Iron-Ham/tutti/internal/boundary"
	"github.com/Iron-Ham/tutti/internal/capture"
	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/merge"
	"github.com/Iron-Ham/tutti/internal/notify"
	"github.com/Iron-Ham/tutti/internal/progress"
	"github.com/Iron-Ham/tutti/internal/scheduler"
	"github.com/Iron-Ham/tutti/internal/summary"
	"github.com/Iron-Ham/tutti/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backlog through parallel agent batches",
	Long: `Run dispatches the backlog's pending tasks to coding agents in batches,
one isolated workspace per task, then merges the resulting branches into
the base branch.

Tasks sharing an @parallel(N) group run together in one batch; ungrouped
tasks from a grouped backlog run alone. Batches repeat until the backlog
is exhausted or --max-iterations is reached.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.String("backlog", "", "backlog file, relative to the repository root")
	flags.String("mode", "", "workspace isolation mode: worktree or sandbox")
	flags.String("base", "", "base branch for workspaces and merges (default: current branch)")
	flags.Int("concurrency", 0, "maximum agents running at once within a batch")
	flags.Int("max-iterations", 0, "stop after this many batches (0 = exhaust the backlog)")
	flags.Bool("dry-run", false, "show the batch plan without dispatching agents")
	flags.Bool("skip-merge", false, "leave completed branches unmerged")
	flags.String("model", "", "agent model override")
	flags.StringArray("agent-arg", nil, "extra argument passed through to the agent binary (repeatable)")

	_ = viper.BindPFlag("run.backlog_file", flags.Lookup("backlog"))
	_ = viper.BindPFlag("run.mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("run.base_branch", flags.Lookup("base"))
	_ = viper.BindPFlag("run.max_concurrency", flags.Lookup("concurrency"))
	_ = viper.BindPFlag("run.max_iterations", flags.Lookup("max-iterations"))
	_ = viper.BindPFlag("run.dry_run", flags.Lookup("dry-run"))
	_ = viper.BindPFlag("run.skip_merge", flags.Lookup("skip-merge"))
	_ = viper.BindPFlag("agent.model", flags.Lookup("model"))
	_ = viper.BindPFlag("agent.extra_args", flags.Lookup("agent-arg"))
}

func runRun(cmd *cobra.Command, args []string) error {
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

	// The agent binary must exist before any workspace is provisioned.
	// Dry runs dispatch nothing, so a missing binary is fine there.
	if !cfg.Run.DryRun {
		if _, err := exec.LookPath(cfg.Agent.Binary); err != nil {
			return fmt.Errorf("agent binary %q not found in PATH", cfg.Agent.Binary)
		}
	}

	log := logging.NopLogger()
	if cfg.Logging.Enabled {
		log, err = logging.NewLoggerWithRotation(
			filepath.Join(repoRoot, config.StateDirName),
			cfg.Logging.Level,
			logging.RotationConfig{
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxBackups: cfg.Logging.MaxBackups,
			})
		if err != nil {
			return fmt.Errorf("failed to open debug log: %w", err)
		}
	}
	defer func() { _ = log.Close() }()

	backlogPath := config.ResolveRepoPath(repoRoot, cfg.Run.BacklogFile)
	provider, err := newBacklogProvider(backlogPath)
	if err != nil {
		return err
	}

	deps := buildDeps(cfg, repoRoot, gitClient, provider, log)

	var watcher *boundary.Watcher
	if cfg.Run.WatchBoundaries && !cfg.Run.DryRun {
		progressPath := config.ResolveRepoPath(repoRoot, cfg.Run.ProgressFile)
		watcher, err = boundary.NewWatcher([]string{backlogPath, progressPath}, log)
		if err != nil {
			log.Warn("boundary watcher unavailable", "error", err)
			watcher = nil
		} else if err := watcher.Start(); err != nil {
			log.Warn("boundary watcher failed to start", "error", err)
			watcher = nil
		} else {
			defer watcher.Stop()
			deps.Boundary = watcher
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(cfg, repoRoot, deps)
	result, runErr := sched.Run(ctx)

	var warnings []boundary.Warning
	if watcher != nil {
		watcher.Stop()
		warnings = watcher.Warnings()
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary.NewRenderer(terminalWidth()).Render(result, warnings))

	if runErr != nil {
		return runErr
	}
	if n := len(result.Failed); n > 0 {
		return fmt.Errorf("%d of %d tasks failed", n, n+len(result.Completed))
	}
	return nil
}

// buildDeps wires the production implementation of every scheduler
// dependency from one config and git client.
func buildDeps(cfg *config.Config, repoRoot string, gitClient *git.Client, provider backlog.Provider, log *logging.Logger) scheduler.Deps {
	cliAgent := agent.NewCLIAgent(cfg.Agent.Binary, log)
	boundaries := agent.Boundaries{
		BacklogFile:      cfg.Run.BacklogFile,
		ProgressFile:     cfg.Run.ProgressFile,
		WorkspaceMarkers: []string{config.StateDirName},
	}

	coordinator := merge.NewCoordinator(gitClient, repoRoot, cfg.Merge, cfg.Run.MaxConcurrency, log)
	if cfg.Merge.ResolveConflicts {
		opts := agent.Options{Model: cfg.Agent.Model, ExtraArgs: cfg.Agent.ExtraArgs}
		coordinator = coordinator.WithResolver(merge.NewAgentResolver(cliAgent, repoRoot, opts, log))
	}

	var sink notify.Sink
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.NotifyTimeout(), log)
	}

	return scheduler.Deps{
		Backlog: provider,
		Agent:   cliAgent,
		Runner:  agent.NewRunner(cfg.Agent, boundaries, log),
		Worktrees: workspace.NewWorktreeManager(
			gitClient, cfg.Paths.ResolveWorktreeDir(repoRoot), cfg.Branch.Prefix, log),
		Sandboxes: workspace.NewSandboxManager(
			repoRoot, cfg.Paths.ResolveSandboxDir(repoRoot), cfg.Branch.Prefix,
			cfg.Sandbox.SymlinkDirs, []string{config.StateDirName}, log),
		Detector:  capture.NewDetector(cfg.Sandbox.SymlinkDirs, log),
		Committer: capture.NewCommitter(gitClient, log),
		Merger:    coordinator,
		Git:       gitClient,
		Progress:  progress.NewLogger(config.ResolveRepoPath(repoRoot, cfg.Run.ProgressFile)),
		Notifier:  sink,
		Log:       log,
	}
}

// newBacklogProvider picks the provider by file extension: YAML for
// .yaml/.yml, markdown checklist for everything else.
func newBacklogProvider(path string) (backlog.Provider, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return backlog.NewYAMLProvider(path)
	default:
		return backlog.NewMarkdownProvider(path)
	}
}

func terminalWidth() int {
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	return 0
}
