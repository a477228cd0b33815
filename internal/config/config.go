package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete tutti configuration
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Branch  BranchConfig  `mapstructure:"branch"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Merge   MergeConfig   `mapstructure:"merge"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
	Paths   PathsConfig   `mapstructure:"paths"`
}

// Workspace modes selectable per run
const (
	ModeWorktree = "worktree"
	ModeSandbox  = "sandbox"
)

// RunConfig controls the batch scheduler's top-level behavior
type RunConfig struct {
	// Mode selects workspace isolation: "worktree" (git-native) or "sandbox"
	// (symlink/copy trees, faster for huge dependency dirs). Applies to the
	// whole run, not per task.
	Mode string `mapstructure:"mode"`
	// MaxConcurrency caps how many agents run at once within a batch (default: 3)
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// MaxIterations stops the run after this many batch iterations (0 = until
	// the backlog is exhausted)
	MaxIterations int `mapstructure:"max_iterations"`
	// BaseBranch is the branch workspaces are seeded from and merges target.
	// Empty means the branch checked out when the run starts.
	BaseBranch string `mapstructure:"base_branch"`
	// BacklogFile is the task backlog path, relative to the repository root
	BacklogFile string `mapstructure:"backlog_file"`
	// ProgressFile is the human-readable task-outcome log path, relative to
	// the repository root
	ProgressFile string `mapstructure:"progress_file"`
	// SkipMerge leaves completed branches unmerged at the end of the run
	SkipMerge bool `mapstructure:"skip_merge"`
	// DryRun walks batch fetching without dispatching agents or mutating the backlog
	DryRun bool `mapstructure:"dry_run"`
	// WatchBoundaries watches the backlog and progress files during the run
	// and warns when something other than tutti writes them (default: true)
	WatchBoundaries bool `mapstructure:"watch_boundaries"`
}

// AgentConfig controls how the external agent process is invoked
type AgentConfig struct {
	// Binary is the agent executable name or path (default: "claude")
	Binary string `mapstructure:"binary"`
	// Model overrides the agent's default model when non-empty
	Model string `mapstructure:"model"`
	// MaxRetries is the number of attempts for retryable failures (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelaySeconds is the pause between retry attempts (default: 30)
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
	// AttemptTimeoutMinutes bounds one agent attempt's wall-clock runtime;
	// a timed-out attempt is retried like a rate limit (0 = disabled)
	AttemptTimeoutMinutes int `mapstructure:"attempt_timeout_minutes"`
	// ExtraArgs are raw arguments passed through to the agent binary, opaque
	// to tutti
	ExtraArgs []string `mapstructure:"extra_args"`
}

// BranchConfig controls branch naming conventions
type BranchConfig struct {
	// Prefix is the branch namespace (default: "tutti")
	// Branch names look like <prefix>/agent-<N>-<uniqueid>-<slug>
	Prefix string `mapstructure:"prefix"`
}

// SandboxConfig controls sandbox workspace provisioning
type SandboxConfig struct {
	// SymlinkDirs are top-level directory names symlinked into sandboxes
	// instead of copied. These are read-only dependency trees: VCS metadata,
	// package caches, vendored deps. Everything else is copied.
	SymlinkDirs []string `mapstructure:"symlink_dirs"`
}

// MergeConfig controls the merge coordinator
type MergeConfig struct {
	// DeleteMerged deletes branches after a successful merge (default: true).
	// Failed branches are never deleted regardless of this setting.
	DeleteMerged bool `mapstructure:"delete_merged"`
	// ResolveConflicts invokes the AI conflict resolver on merge conflicts
	// (default: true). When false, conflicted merges are aborted immediately.
	ResolveConflicts bool `mapstructure:"resolve_conflicts"`
}

// NotifyConfig controls the best-effort run-end notification
type NotifyConfig struct {
	// WebhookURL receives a JSON summary when the run finishes (empty = disabled)
	WebhookURL string `mapstructure:"webhook_url"`
	// TimeoutSeconds bounds the webhook request (default: 10)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// StateDirName is the directory under the repository root that holds
// run state (worktrees, sandboxes) when no explicit paths are configured.
// Sandbox provisioning must never copy or link this tree into a workspace.
const StateDirName = ".tutti"

// PathsConfig controls where tutti stores run state
type PathsConfig struct {
	// WorktreeDir is the directory where git worktrees are created.
	// If empty, defaults to ".tutti/worktrees" relative to the repository root.
	// Can be an absolute path to store worktrees outside the repository.
	// Supports ~ for home directory expansion.
	WorktreeDir string `mapstructure:"worktree_dir"`

	// SandboxDir is the directory where sandboxes are built.
	// If empty, defaults to ".tutti/sandboxes" relative to the repository root.
	// Same resolution rules as WorktreeDir.
	SandboxDir string `mapstructure:"sandbox_dir"`
}

// ResolveRepoPath resolves a run file path (backlog, progress) against
// the repository root. Absolute paths and empty strings pass through.
func ResolveRepoPath(repoRoot, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

// ResolveWorktreeDir returns the resolved worktree directory path.
// If WorktreeDir is empty, it returns the default path relative to baseDir.
// If WorktreeDir starts with ~, it expands to the user's home directory.
// If WorktreeDir is a relative path, it's resolved relative to baseDir.
func (p *PathsConfig) ResolveWorktreeDir(baseDir string) string {
	return resolveStateDir(p.WorktreeDir, baseDir, "worktrees")
}

// ResolveSandboxDir returns the resolved sandbox directory path, with the
// same rules as ResolveWorktreeDir.
func (p *PathsConfig) ResolveSandboxDir(baseDir string) string {
	return resolveStateDir(p.SandboxDir, baseDir, "sandboxes")
}

func resolveStateDir(configured, baseDir, name string) string {
	if configured == "" {
		return filepath.Join(baseDir, StateDirName, name)
	}

	path := configured

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Run: RunConfig{
			Mode:            ModeWorktree,
			MaxConcurrency:  3,
			MaxIterations:   0, // Run until the backlog is exhausted
			BaseBranch:      "",
			BacklogFile:     "BACKLOG.md",
			ProgressFile:    "PROGRESS.md",
			SkipMerge:       false,
			DryRun:          false,
			WatchBoundaries: true,
		},
		Agent: AgentConfig{
			Binary:                "claude",
			Model:                 "",
			MaxRetries:            3,
			RetryDelaySeconds:     30,
			AttemptTimeoutMinutes: 30,
			ExtraArgs:             []string{},
		},
		Branch: BranchConfig{
			Prefix: "tutti",
		},
		Sandbox: SandboxConfig{
			SymlinkDirs: []string{".git", "node_modules", "vendor", ".venv", "target"},
		},
		Merge: MergeConfig{
			DeleteMerged:     true,
			ResolveConflicts: true,
		},
		Notify: NotifyConfig{
			WebhookURL:     "",
			TimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Paths: PathsConfig{
			WorktreeDir: "", // Empty means use default: .tutti/worktrees
			SandboxDir:  "", // Empty means use default: .tutti/sandboxes
		},
	}
}

// RetryDelay returns the retry delay as a time.Duration
func (c *AgentConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// AttemptTimeout returns the per-attempt timeout as a time.Duration (0 means disabled)
func (c *AgentConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMinutes) * time.Minute
}

// NotifyTimeout returns the webhook timeout as a time.Duration
func (c *NotifyConfig) NotifyTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Run defaults
	viper.SetDefault("run.mode", defaults.Run.Mode)
	viper.SetDefault("run.max_concurrency", defaults.Run.MaxConcurrency)
	viper.SetDefault("run.max_iterations", defaults.Run.MaxIterations)
	viper.SetDefault("run.base_branch", defaults.Run.BaseBranch)
	viper.SetDefault("run.backlog_file", defaults.Run.BacklogFile)
	viper.SetDefault("run.progress_file", defaults.Run.ProgressFile)
	viper.SetDefault("run.skip_merge", defaults.Run.SkipMerge)
	viper.SetDefault("run.dry_run", defaults.Run.DryRun)
	viper.SetDefault("run.watch_boundaries", defaults.Run.WatchBoundaries)

	// Agent defaults
	viper.SetDefault("agent.binary", defaults.Agent.Binary)
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.max_retries", defaults.Agent.MaxRetries)
	viper.SetDefault("agent.retry_delay_seconds", defaults.Agent.RetryDelaySeconds)
	viper.SetDefault("agent.attempt_timeout_minutes", defaults.Agent.AttemptTimeoutMinutes)
	viper.SetDefault("agent.extra_args", defaults.Agent.ExtraArgs)

	// Branch defaults
	viper.SetDefault("branch.prefix", defaults.Branch.Prefix)

	// Sandbox defaults
	viper.SetDefault("sandbox.symlink_dirs", defaults.Sandbox.SymlinkDirs)

	// Merge defaults
	viper.SetDefault("merge.delete_merged", defaults.Merge.DeleteMerged)
	viper.SetDefault("merge.resolve_conflicts", defaults.Merge.ResolveConflicts)

	// Notify defaults
	viper.SetDefault("notify.webhook_url", defaults.Notify.WebhookURL)
	viper.SetDefault("notify.timeout_seconds", defaults.Notify.TimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Paths defaults
	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
	viper.SetDefault("paths.sandbox_dir", defaults.Paths.SandboxDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tutti")
	}
	// Fall back to ~/.config/tutti
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tutti"
	}
	return filepath.Join(home, ".config", "tutti")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidModes returns the list of valid workspace modes
func ValidModes() []string {
	return []string{ModeWorktree, ModeSandbox}
}

// IsValidMode checks if the given workspace mode is valid
func IsValidMode(mode string) bool {
	return slices.Contains(ValidModes(), mode)
}
