package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/tutti/internal/agent"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
	"github.com/Iron-Ham/tutti/internal/util"
)

// resolveReasonLimit bounds how much agent output is carried into a
// resolution failure message.
const resolveReasonLimit = 500

// ConflictResolver attempts to finish a conflicted merge that git has
// left in progress. Implementations run inside the repository's working
// tree and must leave a committed, conflict-free tree on success. The
// coordinator verifies the tree afterward and aborts the merge when a
// resolver returns an error or leaves conflicts behind.
type ConflictResolver interface {
	Resolve(ctx context.Context, branch string, conflicted []string) error
}

const resolvePromptTemplate = `A merge of branch %s is stopped on conflicts in this repository.

## Conflicted Files

%s
## Instructions

Resolve every conflict so the merge can conclude:

1. Open each conflicted file and combine both sides' intent. Prefer
   resolutions that preserve functionality from both branches; if the two
   sides take conflicting approaches, choose the more robust one.
2. Remove all conflict markers.
3. Stage the resolved files and conclude the merge with a commit, keeping
   the default merge message.

Do not modify files outside the conflict set unless a resolution requires it.
Do not push.`

// BuildResolvePrompt renders the instruction given to the resolution
// agent for one conflicted merge.
func BuildResolvePrompt(branch string, conflicted []string) string {
	var files strings.Builder
	for _, f := range conflicted {
		fmt.Fprintf(&files, "- %s\n", f)
	}
	return fmt.Sprintf(resolvePromptTemplate, branch, files.String())
}

// AgentResolver resolves merge conflicts by running a coding agent in
// the repository root while the merge is in progress.
type AgentResolver struct {
	agent agent.Agent
	dir   string
	opts  agent.Options
	log   *logging.Logger
}

// NewAgentResolver creates a resolver that runs the given agent in
// repoDir. opts is passed through to every resolution attempt.
func NewAgentResolver(a agent.Agent, repoDir string, opts agent.Options, log *logging.Logger) *AgentResolver {
	if log == nil {
		log = logging.NopLogger()
	}
	return &AgentResolver{agent: a, dir: repoDir, opts: opts, log: log}
}

// Resolve runs the agent against the in-progress merge. A nil return
// means the agent reported success, not that the tree is verified; the
// coordinator checks for leftover conflicts before recording the branch
// as merged.
func (r *AgentResolver) Resolve(ctx context.Context, branch string, conflicted []string) error {
	log := r.log.WithPhase("merging")
	log.Info("attempting conflict resolution", "branch", branch, "conflicts", len(conflicted))

	res, err := r.agent.Execute(ctx, BuildResolvePrompt(branch, conflicted), r.dir, r.opts)
	if err != nil {
		return errors.Wrapf(err, "conflict resolution for %s", branch)
	}
	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "agent reported failure"
		}
		return errors.NewGitError(
			fmt.Sprintf("conflict resolution failed: %s", util.TruncateString(reason, resolveReasonLimit)), nil).
			WithBranch(branch)
	}

	log.Info("conflicts resolved", "branch", branch, "tokens", res.TotalTokens())
	return nil
}
