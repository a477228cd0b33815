// Package merge reconciles the branches produced by a run back into one
// target branch.
//
// A pass has four phases. Every branch is first diffed against the
// target in parallel (three-dot, so only the branch's own changes
// count). The analyses then order the branches by how many changed
// files they share with the others, fewest first. Merges run strictly
// sequentially on a single checkout of the target; a conflicted merge
// goes to the ConflictResolver when one is configured, and is aborted
// rather than left mid-merge when resolution fails. Finally the
// branches that landed are deleted in parallel, and only those.
package merge
