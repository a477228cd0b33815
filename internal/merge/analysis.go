package merge

import (
	"slices"
	"strings"

	"github.com/sourcegraph/conc/pool"
)

// Analysis describes what one branch changed relative to the merge
// target, measured from their merge-base so commits that landed on the
// target after divergence are not counted against the branch. Computed
// fresh for every merge pass and never cached across runs.
type Analysis struct {
	// Branch is the branch name.
	Branch string

	// Files are the changed paths, relative to the repository root.
	// Comparable across branches by exact string equality.
	Files []string

	// FileCount is len(Files), carried separately for reporting.
	FileCount int
}

// analyzeBranches diffs every branch against target concurrently. Each
// goroutine writes only its own slot, so the fan-out shares no mutable
// state. Branches whose diff fails come back in the error slice at the
// same index and are excluded from the analyses.
func analyzeBranches(g MergeGit, target string, branches []string, maxConcurrency int) ([]Analysis, []error) {
	analyses := make([]Analysis, len(branches))
	errs := make([]error, len(branches))

	p := pool.New().WithMaxGoroutines(maxConcurrency)
	for i, branch := range branches {
		p.Go(func() {
			files, err := g.ChangedFiles(target, branch)
			if err != nil {
				errs[i] = err
				return
			}
			analyses[i] = Analysis{Branch: branch, Files: files, FileCount: len(files)}
		})
	}
	p.Wait()

	return analyses, errs
}

// orderForMerge sorts analyses in place so the branches least likely to
// conflict merge first. A branch's conflict score is the number of
// changed files it shares with every other branch, summed pairwise.
// Disjoint branches apply cleanly and shrink the surface area before
// the riskier overlapping ones are attempted. Ascending score, then
// ascending file count, then branch name, so the order is deterministic
// for a given input set.
func orderForMerge(analyses []Analysis) {
	scores := make(map[string]int, len(analyses))
	for i, a := range analyses {
		for j, b := range analyses {
			if i == j {
				continue
			}
			scores[a.Branch] += overlapCount(a.Files, b.Files)
		}
	}

	slices.SortFunc(analyses, func(a, b Analysis) int {
		if d := scores[a.Branch] - scores[b.Branch]; d != 0 {
			return d
		}
		if d := a.FileCount - b.FileCount; d != 0 {
			return d
		}
		return strings.Compare(a.Branch, b.Branch)
	})
}

// overlapCount returns how many paths appear in both file lists.
func overlapCount(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	n := 0
	for _, f := range b {
		if _, ok := set[f]; ok {
			n++
		}
	}
	return n
}
