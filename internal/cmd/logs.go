package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/git"
	"github.com/Iron-Ham/tutti/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the structured logs tutti writes during a run.

By default, shows the last 50 entries from the repository's log file.
Use flags to filter and format the output.

Examples:
  # Show the last 50 entries
  tutti logs

  # Show everything from a specific task
  tutti logs --task task-3 -n 0

  # Follow logs in real-time during a run
  tutti logs -f

  # Filter by log level
  tutti logs --level warn

  # Show logs from the last hour
  tutti logs --since 1h

  # Search for specific patterns
  tutti logs --grep "merge|conflict"

  # Export filtered entries for analysis
  tutti logs --level error --export errors.csv --format csv`,
	RunE: runLogs,
}

var (
	logsTask   string
	logsAgent  int
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
	logsExport string
	logsFormat string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsTask, "task", "", "Filter by task ID")
	logsCmd.Flags().IntVar(&logsAgent, "agent", 0, "Filter by agent number")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsExport, "export", "", "Write matching entries to a file instead of printing")
	logsCmd.Flags().StringVar(&logsFormat, "format", "json", "Export format (json/text/csv)")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	// Timestamp
	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Level with color
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Message
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	// Context fields (task_id, agent, phase)
	if entry.TaskID != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("task=")
		sb.WriteString(entry.TaskID)
		sb.WriteString(colorReset)
	}
	if entry.Agent != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("agent=")
		sb.WriteString(entry.Agent)
		sb.WriteString(colorReset)
	}
	if entry.Phase != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("phase=")
		sb.WriteString(entry.Phase)
		sb.WriteString(colorReset)
	}

	// Extra fields
	for key, value := range entry.Attrs {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(colorReset)
		sb.WriteString(fmt.Sprintf("%v", value))
	}

	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
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

	stateDir := filepath.Join(repoRoot, config.StateDirName)
	logPath := filepath.Join(stateDir, "debug.log")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No logs found.")
		fmt.Println("Logs are stored at:", logPath)
		return nil
	}

	filter, err := buildLogFilter()
	if err != nil {
		return err
	}

	var grepRegex *regexp.Regexp
	if logsGrep != "" {
		grepRegex, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	// Follow mode
	if logsFollow {
		return followLogs(logPath, filter, grepRegex)
	}

	// Non-follow mode: aggregate, filter, then display or export
	entries, err := logging.AggregateLogs(stateDir)
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}

	filtered := logging.FilterLogs(entries, filter)
	if grepRegex != nil {
		matched := filtered[:0]
		for _, entry := range filtered {
			if passesGrep(entry, grepRegex) {
				matched = append(matched, entry)
			}
		}
		filtered = matched
	}

	if logsExport != "" {
		if err := logging.ExportLogEntries(filtered, logsExport, logsFormat); err != nil {
			return fmt.Errorf("failed to export logs: %w", err)
		}
		fmt.Printf("Exported %d entries to %s\n", len(filtered), logsExport)
		return nil
	}

	// Apply tail limit
	if logsTail > 0 && len(filtered) > logsTail {
		filtered = filtered[len(filtered)-logsTail:]
	}

	for _, entry := range filtered {
		fmt.Println(formatLogEntry(entry))
	}

	if len(filtered) == 0 {
		fmt.Println("No matching log entries found.")
	}

	return nil
}

// buildLogFilter translates the command flags into a log filter.
func buildLogFilter() (logging.LogFilter, error) {
	filter := logging.LogFilter{
		TaskID: logsTask,
	}
	if logsAgent > 0 {
		filter.Agent = strconv.Itoa(logsAgent)
	}
	if logsLevel != "" {
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return logging.LogFilter{}, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}
	return filter, nil
}

// passesGrep reports whether the pattern matches the entry's message or any
// of its extra fields.
func passesGrep(entry logging.LogEntry, grepRegex *regexp.Regexp) bool {
	if grepRegex == nil {
		return true
	}
	searchText := entry.Message
	for _, v := range entry.Attrs {
		searchText += " " + fmt.Sprintf("%v", v)
	}
	return grepRegex.MatchString(searchText)
}

// matchesEntry checks a single entry against the filter and grep pattern.
func matchesEntry(entry logging.LogEntry, filter logging.LogFilter, grepRegex *regexp.Regexp) bool {
	if len(logging.FilterLogs([]logging.LogEntry{entry}, filter)) == 0 {
		return false
	}
	return passesGrep(entry, grepRegex)
}

// followLogs implements tail -f behavior for the log file
func followLogs(logPath string, filter logging.LogFilter, grepRegex *regexp.Regexp) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Seek to end of file
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Printf("Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := logging.ParseLogLine(line)
		if err != nil {
			// If we can't parse as JSON, display raw line
			fmt.Println(line)
			continue
		}

		if !matchesEntry(entry, filter, grepRegex) {
			continue
		}

		fmt.Println(formatLogEntry(entry))
	}
}
