package agent

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/tutti/internal/backlog"
)

// Boundaries names the paths an agent must never touch. They belong to
// the orchestration layer: the backlog drives the whole run, the progress
// log is written centrally, and the workspace markers hold sibling
// agents' working trees.
type Boundaries struct {
	// BacklogFile is the task source, relative to the repository root.
	BacklogFile string

	// ProgressFile is the run's progress log, relative to the repository root.
	ProgressFile string

	// WorkspaceMarkers are orchestration-owned directories, such as the
	// workspace root that holds every agent's working tree.
	WorkspaceMarkers []string
}

// taskPromptTemplate is the instruction sent to each agent. Placeholders:
// task title, detail section, boundary list, completion instruction.
const taskPromptTemplate = `You are working on exactly ONE task in this repository. Other agents may be
working on different tasks in sibling workspaces; stay inside your working
directory and do not coordinate with them.

## Task
%s
%s## Boundaries
You must NEVER modify, move, or delete the following paths. They belong to
the orchestration system that launched you:
%s
Do not mark tasks complete anywhere; completion tracking is handled for you.

## Completion
%s`

// commitInstruction is the completion section for worktree mode, where
// each agent owns its branch and commits its own work.
const commitInstruction = `When the task is done, stage your changes and create a single git commit on
the current branch with a message summarizing the work. Do not push, do not
open pull requests, and do not switch branches.`

// noCommitInstruction is the completion section for sandbox mode, where
// commits happen centrally after the run.
const noCommitInstruction = `Leave your changes as plain file modifications in the working tree. Do NOT
run any git commands; your changes are collected and committed for you after
the run finishes.`

// BuildTaskPrompt renders the instruction prompt for one task. commit
// selects the completion section: true for worktree mode, false for
// sandbox mode.
func BuildTaskPrompt(task backlog.Task, b Boundaries, commit bool) string {
	detail := ""
	if body := strings.TrimSpace(task.Body); body != "" {
		detail = fmt.Sprintf("\n## Details\n%s\n\n", body)
	} else {
		detail = "\n"
	}

	completion := noCommitInstruction
	if commit {
		completion = commitInstruction
	}

	return fmt.Sprintf(taskPromptTemplate, task.Title, detail, formatBoundaries(b), completion)
}

// formatBoundaries renders the never-touch list as markdown bullets,
// skipping unset entries.
func formatBoundaries(b Boundaries) string {
	var sb strings.Builder
	if b.BacklogFile != "" {
		fmt.Fprintf(&sb, "- %s (the task backlog)\n", b.BacklogFile)
	}
	if b.ProgressFile != "" {
		fmt.Fprintf(&sb, "- %s (the progress log)\n", b.ProgressFile)
	}
	for _, marker := range b.WorkspaceMarkers {
		if marker == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s\n", marker)
	}
	if sb.Len() == 0 {
		return "- (none)\n"
	}
	return sb.String()
}
