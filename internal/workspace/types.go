package workspace

// Workspace describes one provisioned working copy, bound to exactly one
// task attempt for its whole lifetime.
type Workspace struct {
	// Path is the absolute directory the agent runs in.
	Path string

	// Branch is the branch associated with the workspace. In worktree
	// mode it is checked out in the workspace; in sandbox mode it is the
	// name change capture will commit to and does not exist until then.
	Branch string

	// AgentNumber is the process-wide number assigned at dispatch.
	AgentNumber int

	// Mode is config.ModeWorktree or config.ModeSandbox.
	Mode string
}
