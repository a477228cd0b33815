package merge

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/tutti/internal/config"
	"github.com/Iron-Ham/tutti/internal/errors"
	"github.com/Iron-Ham/tutti/internal/logging"
)

// fakeGit is a scriptable in-memory MergeGit. Merge conflicts flip it
// into an in-progress state that only AbortMerge, CommitResolved, or a
// resolver calling markResolved can clear, mirroring how a real
// repository holds MERGE_HEAD until the merge concludes.
type fakeGit struct {
	mu sync.Mutex

	conflicts    map[string][]string
	mergeErrs    map[string]error
	changed      map[string][]string
	analysisErrs map[string]error
	deleteErrs   map[string]error
	checkoutErr  error

	inProgress       bool
	pendingConflicts []string

	checkouts []string
	merges    []string
	mergeMsgs []string
	aborts    int
	commits   int
	deleted   []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		conflicts:    map[string][]string{},
		mergeErrs:    map[string]error{},
		changed:      map[string][]string{},
		analysisErrs: map[string]error{},
		deleteErrs:   map[string]error{},
	}
}

func (g *fakeGit) Checkout(branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, branch)
	return g.checkoutErr
}

func (g *fakeGit) Merge(branch, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.merges = append(g.merges, branch)
	g.mergeMsgs = append(g.mergeMsgs, message)
	if err, ok := g.mergeErrs[branch]; ok {
		return err
	}
	if files, ok := g.conflicts[branch]; ok {
		g.inProgress = true
		g.pendingConflicts = slices.Clone(files)
		return errors.NewGitError("merge conflicts detected", errors.ErrMergeConflict).
			WithBranch(branch)
	}
	return nil
}

func (g *fakeGit) AbortMerge() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.aborts++
	g.inProgress = false
	g.pendingConflicts = nil
	return nil
}

func (g *fakeGit) CommitResolved() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits++
	g.inProgress = false
	g.pendingConflicts = nil
	return nil
}

func (g *fakeGit) IsMergeInProgress() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inProgress
}

func (g *fakeGit) ConflictingFiles(dir string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.pendingConflicts), nil
}

func (g *fakeGit) ChangedFiles(target, branch string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.analysisErrs[branch]; ok {
		return nil, err
	}
	return slices.Clone(g.changed[branch]), nil
}

func (g *fakeGit) DeleteBranch(branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.deleteErrs[branch]; ok {
		return err
	}
	g.deleted = append(g.deleted, branch)
	return nil
}

// markResolved clears the conflicts as a successful resolver would.
// With commit false the merge is left in progress, as if the resolver
// edited the files but never committed.
func (g *fakeGit) markResolved(commit bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pendingConflicts = nil
	if commit {
		g.inProgress = false
	}
}

func (g *fakeGit) deletedSorted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := slices.Clone(g.deleted)
	sort.Strings(out)
	return out
}

// scriptedResolver implements ConflictResolver against a fakeGit.
type scriptedResolver struct {
	git    *fakeGit
	err    error // returned from every Resolve call
	clear  bool  // clear the conflicts on success
	commit bool  // also conclude the merge, as the prompt instructs

	branches []string
	files    [][]string
}

func (r *scriptedResolver) Resolve(_ context.Context, branch string, conflicted []string) error {
	r.branches = append(r.branches, branch)
	r.files = append(r.files, slices.Clone(conflicted))
	if r.err != nil {
		return r.err
	}
	if r.clear {
		r.git.markResolved(r.commit)
	}
	return nil
}

func newTestCoordinator(g *fakeGit, deleteMerged bool) *Coordinator {
	cfg := config.MergeConfig{DeleteMerged: deleteMerged, ResolveConflicts: true}
	return NewCoordinator(g, "/repo", cfg, 2, logging.NopLogger())
}

func failureFor(t *testing.T, report *Report, branch string) Failure {
	t.Helper()
	for _, f := range report.Failed {
		if f.Branch == branch {
			return f
		}
	}
	t.Fatalf("no recorded failure for branch %s: %+v", branch, report.Failed)
	return Failure{}
}

func TestCoordinator_MergesCleanBranchesInOrder(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a-api"] = []string{"api.go", "auth.go", "main.go"}
	g.changed["tutti/b-auth"] = []string{"auth.go", "auth_test.go"}
	g.changed["tutti/c-docs"] = []string{"README.md"}

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(context.Background(),
		[]string{"tutti/a-api", "tutti/b-auth", "tutti/c-docs"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	// c-docs overlaps nothing; a-api and b-auth share auth.go and tie at
	// score 1, broken by b-auth's smaller file count.
	wantOrder := []string{"tutti/c-docs", "tutti/b-auth", "tutti/a-api"}
	if !slices.Equal(report.Merged, wantOrder) {
		t.Errorf("Merged = %v, want %v", report.Merged, wantOrder)
	}
	if !slices.Equal(g.merges, wantOrder) {
		t.Errorf("merge call order = %v, want %v", g.merges, wantOrder)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %+v, want none", report.Failed)
	}
	if !slices.Equal(g.checkouts, []string{"main"}) {
		t.Errorf("checkouts = %v, want exactly one of main", g.checkouts)
	}

	wantDeleted := []string{"tutti/a-api", "tutti/b-auth", "tutti/c-docs"}
	if got := g.deletedSorted(); !slices.Equal(got, wantDeleted) {
		t.Errorf("deleted = %v, want %v", got, wantDeleted)
	}

	if len(report.Analyses) != 3 || report.Analyses[0].Branch != "tutti/c-docs" {
		t.Errorf("Analyses not in merge order: %+v", report.Analyses)
	}
	if report.Duration <= 0 {
		t.Error("expected a positive pass duration")
	}
}

func TestCoordinator_MergeMessageNamesBranchAndTarget(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/x"] = []string{"x.go"}

	c := newTestCoordinator(g, false)
	if _, err := c.MergeBranches(context.Background(), []string{"tutti/x"}, "main"); err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	want := "Merge branch 'tutti/x' into main"
	if len(g.mergeMsgs) != 1 || g.mergeMsgs[0] != want {
		t.Errorf("merge message = %v, want [%q]", g.mergeMsgs, want)
	}
}

func TestCoordinator_ConflictResolvedAndCommitted(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"shared.go"}
	g.conflicts["tutti/a"] = []string{"shared.go"}
	r := &scriptedResolver{git: g, clear: true, commit: true}

	c := newTestCoordinator(g, true).WithResolver(r)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if !slices.Equal(report.Merged, []string{"tutti/a"}) {
		t.Errorf("Merged = %v, want [tutti/a]", report.Merged)
	}
	if !slices.Equal(r.branches, []string{"tutti/a"}) {
		t.Errorf("resolver branches = %v, want [tutti/a]", r.branches)
	}
	if len(r.files) != 1 || !slices.Equal(r.files[0], []string{"shared.go"}) {
		t.Errorf("resolver conflict files = %v, want [[shared.go]]", r.files)
	}
	if g.aborts != 0 {
		t.Errorf("aborts = %d, want 0", g.aborts)
	}
	// The resolver committed; the coordinator must not commit again.
	if g.commits != 0 {
		t.Errorf("CommitResolved calls = %d, want 0", g.commits)
	}
}

func TestCoordinator_CommitsResolutionLeftUncommitted(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"shared.go"}
	g.conflicts["tutti/a"] = []string{"shared.go"}
	r := &scriptedResolver{git: g, clear: true, commit: false}

	c := newTestCoordinator(g, false).WithResolver(r)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if !slices.Equal(report.Merged, []string{"tutti/a"}) {
		t.Errorf("Merged = %v, want [tutti/a]", report.Merged)
	}
	if g.commits != 1 {
		t.Errorf("CommitResolved calls = %d, want 1", g.commits)
	}
	if g.IsMergeInProgress() {
		t.Error("merge still in progress after coordinator committed the resolution")
	}
}

func TestCoordinator_FailedResolutionAbortsAndContinues(t *testing.T) {
	g := newFakeGit()
	// The conflicted branch sorts first: same score, fewer files.
	g.changed["tutti/a-conflict"] = []string{"shared.go"}
	g.changed["tutti/b-clean"] = []string{"other.go", "more.go"}
	g.conflicts["tutti/a-conflict"] = []string{"shared.go"}
	r := &scriptedResolver{git: g, err: errors.New("agent could not reconcile")}

	c := newTestCoordinator(g, true).WithResolver(r)
	report, err := c.MergeBranches(context.Background(),
		[]string{"tutti/a-conflict", "tutti/b-clean"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if g.aborts != 1 {
		t.Errorf("aborts = %d, want 1", g.aborts)
	}
	if g.IsMergeInProgress() {
		t.Error("tree left mid-merge after failed resolution")
	}

	f := failureFor(t, report, "tutti/a-conflict")
	if !strings.Contains(f.Reason, "could not reconcile") {
		t.Errorf("failure reason = %q, want the resolver error in it", f.Reason)
	}
	if !slices.Equal(f.Conflicts, []string{"shared.go"}) {
		t.Errorf("failure conflicts = %v, want [shared.go]", f.Conflicts)
	}

	// The pass continues past the failure.
	if !slices.Equal(report.Merged, []string{"tutti/b-clean"}) {
		t.Errorf("Merged = %v, want [tutti/b-clean]", report.Merged)
	}
	if got := g.deletedSorted(); !slices.Equal(got, []string{"tutti/b-clean"}) {
		t.Errorf("deleted = %v, want only the merged branch", got)
	}
}

func TestCoordinator_ResolutionLeavingConflictsAborts(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"shared.go"}
	g.conflicts["tutti/a"] = []string{"shared.go", "also.go"}
	// Reports success without touching the tree.
	r := &scriptedResolver{git: g, clear: false}

	c := newTestCoordinator(g, true).WithResolver(r)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if len(report.Merged) != 0 {
		t.Errorf("Merged = %v, want none", report.Merged)
	}
	f := failureFor(t, report, "tutti/a")
	if !strings.Contains(f.Reason, "unresolved") {
		t.Errorf("failure reason = %q, want unresolved conflicts named", f.Reason)
	}
	if g.aborts != 1 {
		t.Errorf("aborts = %d, want 1", g.aborts)
	}
	if len(g.deleted) != 0 {
		t.Errorf("deleted = %v, want none", g.deleted)
	}
}

func TestCoordinator_ConflictWithoutResolverAborts(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"shared.go"}
	g.conflicts["tutti/a"] = []string{"shared.go"}

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	f := failureFor(t, report, "tutti/a")
	if !strings.Contains(f.Reason, "no resolver") {
		t.Errorf("failure reason = %q, want the missing resolver named", f.Reason)
	}
	if !slices.Equal(f.Conflicts, []string{"shared.go"}) {
		t.Errorf("failure conflicts = %v, want [shared.go]", f.Conflicts)
	}
	if g.aborts != 1 {
		t.Errorf("aborts = %d, want 1", g.aborts)
	}
	if g.IsMergeInProgress() {
		t.Error("tree left mid-merge")
	}
}

func TestCoordinator_NonConflictMergeFailureContinues(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a-bad"] = []string{"a.go"}
	g.changed["tutti/b-good"] = []string{"b.go", "c.go"}
	g.mergeErrs["tutti/a-bad"] = errors.NewGitError("failed to merge branch tutti/a-bad", errors.New("unrelated histories"))

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(context.Background(),
		[]string{"tutti/a-bad", "tutti/b-good"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	f := failureFor(t, report, "tutti/a-bad")
	if !strings.Contains(f.Reason, "unrelated histories") {
		t.Errorf("failure reason = %q, want the git error in it", f.Reason)
	}
	if f.Conflicts != nil {
		t.Errorf("non-conflict failure carries conflicts: %v", f.Conflicts)
	}
	if g.aborts != 0 {
		t.Errorf("aborts = %d, want 0 when no merge was in progress", g.aborts)
	}
	if !slices.Equal(report.Merged, []string{"tutti/b-good"}) {
		t.Errorf("Merged = %v, want [tutti/b-good]", report.Merged)
	}
}

func TestCoordinator_AnalysisFailureSkipsBranch(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/ok"] = []string{"ok.go"}
	g.analysisErrs["tutti/broken"] = errors.New("unknown revision")

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(context.Background(),
		[]string{"tutti/broken", "tutti/ok"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	f := failureFor(t, report, "tutti/broken")
	if !strings.Contains(f.Reason, "analysis failed") {
		t.Errorf("failure reason = %q, want analysis failure named", f.Reason)
	}
	if slices.Contains(g.merges, "tutti/broken") {
		t.Error("unanalyzed branch was merged anyway")
	}
	if !slices.Equal(report.Merged, []string{"tutti/ok"}) {
		t.Errorf("Merged = %v, want [tutti/ok]", report.Merged)
	}
}

func TestCoordinator_KeepsBranchesWhenDeleteDisabled(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"a.go"}

	c := newTestCoordinator(g, false)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}

	if !slices.Equal(report.Merged, []string{"tutti/a"}) {
		t.Errorf("Merged = %v, want [tutti/a]", report.Merged)
	}
	if len(g.deleted) != 0 {
		t.Errorf("deleted = %v, want none with deletion disabled", g.deleted)
	}
}

func TestCoordinator_EmptyBranchList(t *testing.T) {
	g := newFakeGit()
	c := newTestCoordinator(g, true)

	report, err := c.MergeBranches(context.Background(), nil, "main")
	if err != nil {
		t.Fatalf("MergeBranches: %v", err)
	}
	if len(report.Merged) != 0 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
	if len(g.checkouts) != 0 || len(g.merges) != 0 {
		t.Error("expected no git activity for an empty branch list")
	}
}

func TestCoordinator_TargetCheckoutFailure(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"a.go"}
	g.checkoutErr = errors.New("local changes would be overwritten")

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(context.Background(), []string{"tutti/a"}, "main")
	if err == nil {
		t.Fatal("expected an error when the target cannot be checked out")
	}
	if !strings.Contains(err.Error(), "checking out merge target main") {
		t.Errorf("error = %v, want the target checkout named", err)
	}
	if len(report.Merged) != 0 || len(g.merges) != 0 {
		t.Error("no merges should run after a failed target checkout")
	}
}

func TestCoordinator_ContextCanceledStopsPass(t *testing.T) {
	g := newFakeGit()
	g.changed["tutti/a"] = []string{"a.go"}
	g.changed["tutti/b"] = []string{"b.go"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestCoordinator(g, true)
	report, err := c.MergeBranches(ctx, []string{"tutti/a", "tutti/b"}, "main")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(g.merges) != 0 {
		t.Errorf("merges = %v, want none after cancellation", g.merges)
	}
	if len(report.Merged) != 0 {
		t.Errorf("Merged = %v, want none", report.Merged)
	}
	if len(g.deleted) != 0 {
		t.Errorf("deleted = %v, want none after cancellation", g.deleted)
	}
}
