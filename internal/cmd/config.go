package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/tutti/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify tutti configuration",
	Long: `View or modify tutti configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  tutti config set run.mode sandbox
  tutti config set run.max_concurrency 5
  tutti config set agent.model claude-sonnet-4-20250514

Valid keys:
  run.mode                       - Workspace isolation (worktree, sandbox)
  run.max_concurrency            - Max agents running at once
  run.max_iterations             - Max batch iterations (0 = unlimited)
  run.base_branch                - Branch workspaces start from
  run.backlog_file               - Backlog path relative to repo root
  run.progress_file              - Progress log path relative to repo root
  run.skip_merge                 - Leave branches unmerged (true/false)
  run.watch_boundaries           - Watch run files for outside writes (true/false)
  agent.binary                   - Agent executable name or path
  agent.model                    - Model override (empty = agent default)
  agent.max_retries              - Attempts for retryable failures
  agent.retry_delay_seconds      - Pause between retries
  agent.attempt_timeout_minutes  - Per-attempt wall clock cap (0 = disabled)
  branch.prefix                  - Branch namespace
  merge.delete_merged            - Delete branches after merge (true/false)
  merge.resolve_conflicts        - AI conflict resolution (true/false)
  notify.webhook_url             - Run-end notification URL
  notify.timeout_seconds         - Webhook request timeout
  logging.enabled                - Debug logging (true/false)
  logging.level                  - Log level (debug, info, warn, error)
  logging.max_size_mb            - Log size before rotation
  logging.max_backups            - Rotated files to keep
  paths.worktree_dir             - Worktree storage directory
  paths.sandbox_dir              - Sandbox storage directory`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/tutti/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	fmt.Println("Current configuration:")
	fmt.Println()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("run:")
	fmt.Printf("  mode: %s\n", cfg.Run.Mode)
	fmt.Printf("  max_concurrency: %d\n", cfg.Run.MaxConcurrency)
	fmt.Printf("  max_iterations: %d\n", cfg.Run.MaxIterations)
	fmt.Printf("  base_branch: %s\n", orUnset(cfg.Run.BaseBranch))
	fmt.Printf("  backlog_file: %s\n", cfg.Run.BacklogFile)
	fmt.Printf("  progress_file: %s\n", cfg.Run.ProgressFile)
	fmt.Printf("  skip_merge: %v\n", cfg.Run.SkipMerge)
	fmt.Printf("  watch_boundaries: %v\n", cfg.Run.WatchBoundaries)

	fmt.Println("agent:")
	fmt.Printf("  binary: %s\n", cfg.Agent.Binary)
	fmt.Printf("  model: %s\n", orUnset(cfg.Agent.Model))
	fmt.Printf("  max_retries: %d\n", cfg.Agent.MaxRetries)
	fmt.Printf("  retry_delay_seconds: %d\n", cfg.Agent.RetryDelaySeconds)
	fmt.Printf("  attempt_timeout_minutes: %d\n", cfg.Agent.AttemptTimeoutMinutes)
	if len(cfg.Agent.ExtraArgs) > 0 {
		fmt.Printf("  extra_args: %v\n", cfg.Agent.ExtraArgs)
	}

	fmt.Println("branch:")
	fmt.Printf("  prefix: %s\n", cfg.Branch.Prefix)

	fmt.Println("sandbox:")
	fmt.Printf("  symlink_dirs: %s\n", strings.Join(cfg.Sandbox.SymlinkDirs, ", "))

	fmt.Println("merge:")
	fmt.Printf("  delete_merged: %v\n", cfg.Merge.DeleteMerged)
	fmt.Printf("  resolve_conflicts: %v\n", cfg.Merge.ResolveConflicts)

	fmt.Println("notify:")
	fmt.Printf("  webhook_url: %s\n", orUnset(cfg.Notify.WebhookURL))
	fmt.Printf("  timeout_seconds: %d\n", cfg.Notify.TimeoutSeconds)

	fmt.Println("logging:")
	fmt.Printf("  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Printf("  level: %s\n", cfg.Logging.Level)
	fmt.Printf("  max_size_mb: %d\n", cfg.Logging.MaxSizeMB)
	fmt.Printf("  max_backups: %d\n", cfg.Logging.MaxBackups)

	fmt.Println("paths:")
	fmt.Printf("  worktree_dir: %s\n", orUnset(cfg.Paths.WorktreeDir))
	fmt.Printf("  sandbox_dir: %s\n", orUnset(cfg.Paths.SandboxDir))

	return nil
}

// orUnset makes empty string values readable in config listings.
func orUnset(v string) string {
	if v == "" {
		return "(unset)"
	}
	return v
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	// Validate the key exists
	validKeys := map[string]string{
		"run.mode":                      "string",
		"run.max_concurrency":           "int",
		"run.max_iterations":            "int",
		"run.base_branch":               "string",
		"run.backlog_file":              "string",
		"run.progress_file":             "string",
		"run.skip_merge":                "bool",
		"run.watch_boundaries":          "bool",
		"agent.binary":                  "string",
		"agent.model":                   "string",
		"agent.max_retries":             "int",
		"agent.retry_delay_seconds":     "int",
		"agent.attempt_timeout_minutes": "int",
		"branch.prefix":                 "string",
		"merge.delete_merged":           "bool",
		"merge.resolve_conflicts":       "bool",
		"notify.webhook_url":            "string",
		"notify.timeout_seconds":        "int",
		"logging.enabled":               "bool",
		"logging.level":                 "string",
		"logging.max_size_mb":           "int",
		"logging.max_backups":           "int",
		"paths.worktree_dir":            "string",
		"paths.sandbox_dir":             "string",
	}

	keyType, ok := validKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'tutti config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue interface{}
	switch keyType {
	case "string":
		if key == "run.mode" && !config.IsValidMode(value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidModes(), ", "))
		}
		if key == "logging.level" && !slices.Contains(config.ValidLogLevels(), value) {
			return fmt.Errorf("invalid value for %s: %s\nValid options: %s",
				key, value, strings.Join(config.ValidLogLevels(), ", "))
		}
		typedValue = value
	case "bool":
		if value != "true" && value != "false" {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = value == "true"
	case "int":
		intVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		if intVal < 0 {
			return fmt.Errorf("invalid value for %s: must be non-negative", key)
		}
		typedValue = intVal
	}

	// Ensure config directory exists
	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Set %s = %v\n", key, typedValue)
	fmt.Printf("Config saved to %s\n", configFile)

	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'tutti config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# tutti Configuration
# See: https://github.com/Iron-Ham/tutti

# Run settings
run:
  # Workspace isolation: "worktree" (git-native) or "sandbox"
  # (symlink/copy trees, faster for huge dependency dirs)
  mode: worktree
  # Maximum number of agents running at once within a batch
  max_concurrency: 3
  # Stop after this many batch iterations (0 = until backlog is exhausted)
  max_iterations: 0
  # Branch workspaces start from and merges target
  # (empty = branch checked out when the run starts)
  base_branch: ""
  # Task backlog path, relative to the repository root
  backlog_file: BACKLOG.md
  # Task outcome log path, relative to the repository root
  progress_file: PROGRESS.md
  # Leave completed branches unmerged at the end of the run
  skip_merge: false
  # Warn when something other than tutti writes the run files
  watch_boundaries: true

# Agent settings
agent:
  # Agent executable name or path
  binary: claude
  # Model override (empty = agent default)
  model: ""
  # Attempts for retryable failures (rate limits, timeouts)
  max_retries: 3
  # Pause between retry attempts in seconds
  retry_delay_seconds: 30
  # Per-attempt wall clock cap in minutes (0 = disabled)
  attempt_timeout_minutes: 30

# Branch naming
branch:
  # Branch namespace: branches look like <prefix>/agent-<N>-<id>-<slug>
  prefix: tutti

# Sandbox settings
sandbox:
  # Top-level directories symlinked into sandboxes instead of copied
  symlink_dirs:
    - .git
    - node_modules
    - vendor
    - .venv
    - target

# Merge settings
merge:
  # Delete branches after a successful merge
  delete_merged: true
  # Invoke the AI conflict resolver on merge conflicts
  resolve_conflicts: true

# Notifications
notify:
  # URL receiving a JSON summary when the run finishes (empty = disabled)
  webhook_url: ""
  # Webhook request timeout in seconds
  timeout_seconds: 10

# Debug logging (written under the repository's state directory)
logging:
  enabled: true
  # Log level: debug, info, warn, error
  level: info
  # Maximum log file size in megabytes before rotation
  max_size_mb: 10
  # Number of rotated log files to keep
  max_backups: 3
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize tutti's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/tutti/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: TUTTI_* (e.g., TUTTI_RUN_MAX_CONCURRENCY)")

	return nil
}
