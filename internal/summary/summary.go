// Package summary renders the end-of-run terminal report: task counts,
// merge results, preserved workspaces, and boundary warnings.
package summary

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/tutti/internal/boundary"
	"github.com/Iron-Ham/tutti/internal/scheduler"
	"github.com/Iron-Ham/tutti/internal/util"
)

const defaultWidth = 80

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

const (
	iconDone   = "✓"
	iconFailed = "✗"
	iconKept   = "●"
	iconWarn   = "!"
)

// Renderer renders run results for a terminal of a given width. Lines
// are truncated to the width with ANSI styling kept intact.
type Renderer struct {
	width int
}

// NewRenderer creates a renderer. Width at or below zero uses a
// default of 80 columns.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Renderer{width: width}
}

// Render builds the full report for a finished run.
func (r *Renderer) Render(result *scheduler.RunResult, warnings []boundary.Warning) string {
	if result == nil {
		return ""
	}
	if result.DryRun {
		return r.renderDryRun(result)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("tutti run finished"))
	b.WriteString("\n\n")
	r.writeTotals(&b, result)
	r.writeFailures(&b, result.Failed)
	r.writeMerge(&b, result)
	r.writePreserved(&b, result.Preserved)
	r.writeWarnings(&b, warnings)
	return b.String()
}

func (r *Renderer) writeTotals(b *strings.Builder, result *scheduler.RunResult) {
	tasks := fmt.Sprintf("%s %d completed", okStyle.Render(iconDone), len(result.Completed))
	if n := len(result.Failed); n > 0 {
		tasks += fmt.Sprintf("   %s %d failed", failStyle.Render(iconFailed), n)
	}
	r.line(b, "Tasks", tasks)

	switch {
	case result.Merge != nil:
		branches := fmt.Sprintf("%d merged into %s", len(result.Merge.Merged), result.Merge.Target)
		if n := len(result.Merge.Failed); n > 0 {
			branches += failStyle.Render(fmt.Sprintf("   %d failed", n))
		}
		r.line(b, "Branches", branches)
	case len(result.Branches) > 0:
		r.line(b, "Branches", fmt.Sprintf("%d left unmerged", len(result.Branches)))
	}

	if result.TotalTokens > 0 {
		tokens := formatTokens(result.TotalTokens) + " tokens"
		if cost := totalCost(result); cost >= 0.01 {
			tokens += mutedStyle.Render("  " + formatCost(cost))
		}
		r.line(b, "Tokens", tokens)
	}

	duration := formatDuration(result.Duration)
	if result.Iterations > 0 {
		duration += mutedStyle.Render(fmt.Sprintf("  (%d batches)", result.Iterations))
	}
	r.line(b, "Duration", duration)
}

func (r *Renderer) writeFailures(b *strings.Builder, failed []scheduler.TaskOutcome) {
	if len(failed) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(failStyle.Render("Failed tasks"))
	b.WriteString("\n")
	for _, out := range failed {
		reason := strings.Join(strings.Fields(out.FailureReason()), " ")
		line := fmt.Sprintf("  %s %s: %s", failStyle.Render(iconFailed), out.Task.Title, reason)
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}
}

func (r *Renderer) writeMerge(b *strings.Builder, result *scheduler.RunResult) {
	report := result.Merge
	if report == nil {
		return
	}
	b.WriteString("\n")
	header := "Merge into " + report.Target
	b.WriteString(titleStyle.Render(header))
	if report.Duration > 0 {
		b.WriteString(mutedStyle.Render("  " + formatDuration(report.Duration)))
	}
	b.WriteString("\n")

	for _, branch := range report.Merged {
		line := fmt.Sprintf("  %s %s", okStyle.Render(iconDone), branch)
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}
	for _, failure := range report.Failed {
		line := fmt.Sprintf("  %s %s: %s", failStyle.Render(iconFailed), failure.Branch, failure.Reason)
		if n := len(failure.Conflicts); n > 0 {
			line += mutedStyle.Render(fmt.Sprintf(" (%d conflicted files)", n))
		}
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}
}

func (r *Renderer) writePreserved(b *strings.Builder, preserved []string) {
	if len(preserved) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(warnStyle.Render("Preserved workspaces"))
	b.WriteString("\n")
	for _, path := range preserved {
		line := fmt.Sprintf("  %s %s", warnStyle.Render(iconKept), path)
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}
}

func (r *Renderer) writeWarnings(b *strings.Builder, warnings []boundary.Warning) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(warnStyle.Render("Boundary warnings"))
	b.WriteString("\n")
	for _, w := range warnings {
		line := fmt.Sprintf("  %s %s modified outside the run (%s at %s)",
			warnStyle.Render(iconWarn), w.Path, w.Op, w.At.Format("15:04:05"))
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}
}

func (r *Renderer) renderDryRun(result *scheduler.RunResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tutti dry run"))
	b.WriteString("\n\n")

	if len(result.DryRunTasks) == 0 {
		b.WriteString(mutedStyle.Render("  backlog is empty, nothing to dispatch"))
		b.WriteString("\n")
		return b.String()
	}

	for i, task := range result.DryRunTasks {
		line := fmt.Sprintf("  %2d. %s", i+1, task.Title)
		if task.Group != 0 {
			line += mutedStyle.Render(fmt.Sprintf("  (group %d)", task.Group))
		}
		b.WriteString(util.TruncateANSI(line, r.width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf(
		"  %d tasks over %d batches, nothing dispatched",
		len(result.DryRunTasks), result.Iterations)))
	b.WriteString("\n")
	return b.String()
}

// line writes one aligned label/value row, truncated to the width.
func (r *Renderer) line(b *strings.Builder, label, value string) {
	text := fmt.Sprintf("  %-10s %s", label, value)
	b.WriteString(util.TruncateANSI(text, r.width))
	b.WriteString("\n")
}

func totalCost(result *scheduler.RunResult) float64 {
	var cost float64
	for _, out := range result.Completed {
		cost += out.Result.CostUSD
	}
	for _, out := range result.Failed {
		cost += out.Result.CostUSD
	}
	return cost
}

// formatTokens renders a token count compactly, "45.2K" style.
func formatTokens(tokens int64) string {
	if tokens >= 1_000_000 {
		return strconv.FormatFloat(float64(tokens)/1_000_000, 'f', 1, 64) + "M"
	}
	if tokens >= 1000 {
		return strconv.FormatFloat(float64(tokens)/1000, 'f', 1, 64) + "K"
	}
	return strconv.FormatInt(tokens, 10)
}

func formatCost(cost float64) string {
	if cost < 0.01 {
		return "$0.00"
	}
	return "$" + strconv.FormatFloat(cost, 'f', 2, 64)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
