package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "run.max_concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// branchPrefixRegex validates branch prefixes: must start with a letter,
// followed by letters, digits, hyphens, or underscores
var branchPrefixRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Run config
	errors = append(errors, c.validateRun()...)

	// Validate Agent config
	errors = append(errors, c.validateAgent()...)

	// Validate Branch config
	errors = append(errors, c.validateBranch()...)

	// Validate Sandbox config
	errors = append(errors, c.validateSandbox()...)

	// Validate Notify config
	errors = append(errors, c.validateNotify()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	// Validate Paths config
	errors = append(errors, c.validatePaths()...)

	return errors
}

// validateRun validates the RunConfig
func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	// Validate workspace mode
	if !IsValidMode(c.Run.Mode) {
		errors = append(errors, ValidationError{
			Field:   "run.mode",
			Value:   c.Run.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidModes(), ", ")),
		})
	}

	// Concurrency must be positive
	if c.Run.MaxConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.max_concurrency",
			Value:   c.Run.MaxConcurrency,
			Message: "must be at least 1",
		})
	}

	// Reasonable upper bound to prevent resource exhaustion
	const maxConcurrencyLimit = 64
	if c.Run.MaxConcurrency > maxConcurrencyLimit {
		errors = append(errors, ValidationError{
			Field:   "run.max_concurrency",
			Value:   c.Run.MaxConcurrency,
			Message: fmt.Sprintf("exceeds maximum of %d", maxConcurrencyLimit),
		})
	}

	// Iterations: 0 means run until the backlog is exhausted
	if c.Run.MaxIterations < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.max_iterations",
			Value:   c.Run.MaxIterations,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	// Backlog file is required
	if strings.TrimSpace(c.Run.BacklogFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "run.backlog_file",
			Value:   c.Run.BacklogFile,
			Message: "must not be empty",
		})
	}

	errors = append(errors, validateFilePath("run.backlog_file", c.Run.BacklogFile)...)
	errors = append(errors, validateFilePath("run.progress_file", c.Run.ProgressFile)...)

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	// Agent binary is required
	if strings.TrimSpace(c.Agent.Binary) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.binary",
			Value:   c.Agent.Binary,
			Message: "must not be empty",
		})
	}

	// Retries must be non-negative (0 means a single attempt)
	if c.Agent.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.max_retries",
			Value:   c.Agent.MaxRetries,
			Message: "must be non-negative",
		})
	}

	// Reasonable upper bound: each retry can cost minutes of agent time
	const maxRetriesLimit = 10
	if c.Agent.MaxRetries > maxRetriesLimit {
		errors = append(errors, ValidationError{
			Field:   "agent.max_retries",
			Value:   c.Agent.MaxRetries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRetriesLimit),
		})
	}

	// Retry delay must be non-negative
	if c.Agent.RetryDelaySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.retry_delay_seconds",
			Value:   c.Agent.RetryDelaySeconds,
			Message: "must be non-negative",
		})
	}

	// Timeout: 0 disables the per-attempt timeout
	if c.Agent.AttemptTimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.attempt_timeout_minutes",
			Value:   c.Agent.AttemptTimeoutMinutes,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	return errors
}

// validateBranch validates the BranchConfig
func (c *Config) validateBranch() []ValidationError {
	var errors []ValidationError

	if c.Branch.Prefix == "" {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "must not be empty",
		})
	} else if !branchPrefixRegex.MatchString(c.Branch.Prefix) {
		errors = append(errors, ValidationError{
			Field:   "branch.prefix",
			Value:   c.Branch.Prefix,
			Message: "must start with a letter and contain only letters, numbers, hyphens, and underscores",
		})
	}

	return errors
}

// validateSandbox validates the SandboxConfig
func (c *Config) validateSandbox() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool)

	for i, dir := range c.Sandbox.SymlinkDirs {
		fieldName := fmt.Sprintf("sandbox.symlink_dirs[%d]", i)

		// Entry cannot be empty
		if strings.TrimSpace(dir) == "" {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "directory name cannot be empty",
			})
			continue
		}

		// Must be a bare top-level name, not a path
		if strings.ContainsAny(dir, "/\\") {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "must be a top-level directory name, not a path",
			})
		}

		// Cannot contain parent directory references
		if strings.Contains(dir, "..") {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "cannot contain parent directory references (..)",
			})
		}

		// Check for duplicates
		if seen[dir] {
			errors = append(errors, ValidationError{
				Field:   fieldName,
				Value:   dir,
				Message: "duplicate directory name",
			})
		}
		seen[dir] = true
	}

	return errors
}

// validateNotify validates the NotifyConfig
func (c *Config) validateNotify() []ValidationError {
	var errors []ValidationError

	// Webhook URL is optional, but if set it must be an HTTP(S) URL
	if c.Notify.WebhookURL != "" &&
		!strings.HasPrefix(c.Notify.WebhookURL, "http://") &&
		!strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		errors = append(errors, ValidationError{
			Field:   "notify.webhook_url",
			Value:   c.Notify.WebhookURL,
			Message: "must be an http:// or https:// URL",
		})
	}

	// Timeout must be positive
	if c.Notify.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "notify.timeout_seconds",
			Value:   c.Notify.TimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateFilePath("paths.worktree_dir", c.Paths.WorktreeDir)...)
	errors = append(errors, validateFilePath("paths.sandbox_dir", c.Paths.SandboxDir)...)

	return errors
}

// validateFilePath checks a configured path for values that would break
// filesystem operations. Empty paths are allowed (they mean "use default").
func validateFilePath(field, path string) []ValidationError {
	var errors []ValidationError

	if path == "" {
		return errors
	}

	// Check for null bytes which are invalid in paths
	if strings.ContainsRune(path, '\x00') {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: "path contains invalid null character",
		})
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	if len(path) > maxPathLength {
		errors = append(errors, ValidationError{
			Field:   field,
			Value:   path,
			Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
		})
	}

	return errors
}
