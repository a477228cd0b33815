// Package agent runs external coding agents against single tasks.
//
// The package has three pieces: BuildTaskPrompt renders the instruction
// prompt for one task, including the hard boundaries the agent must not
// cross; CLIAgent is the concrete adapter that shells out to the agent
// binary in one-shot print mode and parses its JSON result envelope; and
// Runner wraps any Agent in the bounded retry policy, retrying only
// failures classified as transient (rate limits, quota exhaustion,
// timeouts) and surfacing everything else immediately.
//
// Each task attempt produces exactly one Result. The Runner annotates it
// with the workspace and branch it ran in, so the scheduler and the
// final summary can correlate outcomes without extra bookkeeping.
package agent
