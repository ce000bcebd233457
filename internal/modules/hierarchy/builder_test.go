package hierarchy

import (
	"context"
	"testing"

	"github.com/atlaskb/atlas-backend/internal/data/repos/memrepo"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type builderFixture struct {
	builder     *Builder
	runner      *memrepo.Runner
	src         *memrepo.Source
	nodes       *memrepo.Nodes
	checkpoints *memrepo.Checkpoints
	discarded   *memrepo.Discarded
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &builderFixture{
		runner:      &memrepo.Runner{},
		src:         memrepo.NewSource(),
		nodes:       memrepo.NewNodes(),
		checkpoints: memrepo.NewCheckpoints(),
		discarded:   memrepo.NewDiscarded(),
	}
	f.builder = NewBuilder(f.runner, log, f.src, f.nodes, f.checkpoints, f.discarded)
	return f
}

func (f *builderFixture) withBuilder(t *testing.T, txr tx.Runner) *Builder {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewBuilder(txr, log, f.src, f.nodes, f.checkpoints, f.discarded)
}

func defaultOpts() Options {
	return Options{
		MaxLevel:      10,
		BatchSizeHint: 100,
		MinBatch:      10,
		MaxBatch:      1000,
		Workers:       2,
	}
}

// loadScienceTree seeds a three-level fixture:
//
//	Science (10, category)
//	├── Physics (20, category) ── Atom (30, article)
//	└── Biology (40, article)
func (f *builderFixture) loadScienceTree() {
	f.src.Pages = []types.SourcePage{
		{PageID: 10, Label: "Science", Namespace: types.NamespaceCategory},
		{PageID: 20, Label: "Physics", Namespace: types.NamespaceCategory},
		{PageID: 30, Label: "Atom", Namespace: types.NamespaceArticle},
		{PageID: 40, Label: "Biology", Namespace: types.NamespaceArticle},
	}
	f.src.Members = []types.SourceCategoryLink{
		{MemberID: 20, CategoryLabel: "Science", MemberKind: types.MemberKindSubcategory},
		{MemberID: 40, CategoryLabel: "Science", MemberKind: types.MemberKindArticle},
		{MemberID: 30, CategoryLabel: "Physics", MemberKind: types.MemberKindArticle},
	}
}

func TestBuildExpandsLevelByLevel(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.NodesCreated != 3 {
		t.Fatalf("NodesCreated = %d, want 3", res.NodesCreated)
	}

	root := f.nodes.Get(10)
	if root == nil || root.Level != 0 || root.ParentID != nil || root.Kind != types.KindBranch {
		t.Fatalf("root node = %+v", root)
	}
	physics := f.nodes.Get(20)
	if physics == nil || physics.Level != 1 || physics.ParentID == nil || *physics.ParentID != 10 {
		t.Fatalf("physics node = %+v", physics)
	}
	if physics.Kind != types.KindBranch || physics.DomainRootID != 10 {
		t.Fatalf("physics kind/root = %+v", physics)
	}
	biology := f.nodes.Get(40)
	if biology == nil || biology.Level != 1 || biology.Kind != types.KindLeaf {
		t.Fatalf("biology node = %+v", biology)
	}
	atom := f.nodes.Get(30)
	if atom == nil || atom.Level != 2 || atom.ParentID == nil || *atom.ParentID != 20 {
		t.Fatalf("atom node = %+v", atom)
	}

	cp, err := f.checkpoints.Get(dbctx.Context{Ctx: context.Background()}, types.PhaseHierarchyBuild)
	if err != nil || cp == nil || !cp.Done {
		t.Fatalf("checkpoint after build = %+v, err = %v", cp, err)
	}
}

func TestBuildResolvesSeedsByLabel(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	res, err := f.builder.Build(context.Background(), []NodeRef{{Label: "Science"}}, defaultOpts())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.NodesCreated != 3 {
		t.Fatalf("NodesCreated = %d, want 3", res.NodesCreated)
	}
	if f.nodes.Get(10) == nil {
		t.Fatal("seed resolved by label was not materialized")
	}
}

func TestBuildRejectsMissingSeeds(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	_, err := f.builder.Build(context.Background(), nil, defaultOpts())
	if !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("empty seeds error = %v, want validation", err)
	}

	_, err = f.builder.Build(context.Background(), []NodeRef{{Label: "NoSuchTopic"}}, defaultOpts())
	if !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("unresolvable seed error = %v, want validation", err)
	}

	// An article page is not a valid seed even when it exists.
	_, err = f.builder.Build(context.Background(), []NodeRef{{PageID: 30}}, defaultOpts())
	if !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("article seed error = %v, want validation", err)
	}

	if n, _ := f.nodes.Count(dbctx.Context{Ctx: context.Background()}); n != 0 {
		t.Fatalf("nodes written despite seed failure: %d", n)
	}
}

func TestBuildInvalidOptions(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	for name, opts := range map[string]Options{
		"zero max level":  {BatchSizeHint: 10, MinBatch: 1, MaxBatch: 10},
		"inverted bounds": {MaxLevel: 3, BatchSizeHint: 10, MinBatch: 100, MaxBatch: 10},
		"zero hint":       {MaxLevel: 3, MinBatch: 1, MaxBatch: 10},
	} {
		if _, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, opts); !builderr.IsCode(err, builderr.CodeValidation) {
			t.Errorf("%s: err = %v, want validation", name, err)
		}
	}
}

func TestBuildLowestParentIDWinsWithinLevel(t *testing.T) {
	f := newBuilderFixture(t)
	f.src.Pages = []types.SourcePage{
		{PageID: 5, Label: "Root", Namespace: types.NamespaceCategory},
		{PageID: 12, Label: "Left", Namespace: types.NamespaceCategory},
		{PageID: 10, Label: "Right", Namespace: types.NamespaceCategory},
		{PageID: 30, Label: "Shared", Namespace: types.NamespaceArticle},
	}
	f.src.Members = []types.SourceCategoryLink{
		{MemberID: 12, CategoryLabel: "Root", MemberKind: types.MemberKindSubcategory},
		{MemberID: 10, CategoryLabel: "Root", MemberKind: types.MemberKindSubcategory},
		{MemberID: 30, CategoryLabel: "Left", MemberKind: types.MemberKindArticle},
		{MemberID: 30, CategoryLabel: "Right", MemberKind: types.MemberKindArticle},
	}

	if _, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 5}}, defaultOpts()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	shared := f.nodes.Get(30)
	if shared == nil || shared.ParentID == nil {
		t.Fatalf("shared node = %+v", shared)
	}
	if *shared.ParentID != 10 {
		t.Fatalf("shared parent = %d, want lowest-id parent 10", *shared.ParentID)
	}
	if shared.Level != 2 {
		t.Fatalf("shared level = %d, want 2", shared.Level)
	}
}

func TestBuildFirstDiscoveryWinsAcrossLevels(t *testing.T) {
	f := newBuilderFixture(t)
	// Article 30 is reachable at level 1 from the root and again at level 2
	// through Sub. The level 1 placement must stand.
	f.src.Pages = []types.SourcePage{
		{PageID: 5, Label: "Root", Namespace: types.NamespaceCategory},
		{PageID: 10, Label: "Sub", Namespace: types.NamespaceCategory},
		{PageID: 30, Label: "Topic", Namespace: types.NamespaceArticle},
	}
	f.src.Members = []types.SourceCategoryLink{
		{MemberID: 10, CategoryLabel: "Root", MemberKind: types.MemberKindSubcategory},
		{MemberID: 30, CategoryLabel: "Root", MemberKind: types.MemberKindArticle},
		{MemberID: 30, CategoryLabel: "Sub", MemberKind: types.MemberKindArticle},
	}

	opts := defaultOpts()
	opts.KeepDiscardedParents = true
	if _, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 5}}, opts); err != nil {
		t.Fatalf("Build: %v", err)
	}

	topic := f.nodes.Get(30)
	if topic == nil || topic.Level != 1 || topic.ParentID == nil || *topic.ParentID != 5 {
		t.Fatalf("topic node = %+v, want level 1 under root", topic)
	}

	// The losing level 2 edge is retained in the side relation.
	all := f.discarded.All()
	if len(all) != 1 || all[0].PageID != 30 || all[0].ParentID != 10 || all[0].Level != 2 {
		t.Fatalf("discarded edges = %+v, want [{30 10 2}]", all)
	}
}

func TestBuildScreensPages(t *testing.T) {
	f := newBuilderFixture(t)
	f.src.Pages = []types.SourcePage{
		{PageID: 10, Label: "Root", Namespace: types.NamespaceCategory},
		{PageID: 20, Label: "Redirecting", Namespace: types.NamespaceArticle, IsRedirect: true},
		{PageID: 30, Label: "Image", Namespace: types.NamespaceFile},
		{PageID: 40, Label: "Kept", Namespace: types.NamespaceArticle},
	}
	f.src.Members = []types.SourceCategoryLink{
		{MemberID: 20, CategoryLabel: "Root", MemberKind: types.MemberKindArticle},
		{MemberID: 30, CategoryLabel: "Root", MemberKind: types.MemberKindFile},
		{MemberID: 40, CategoryLabel: "Root", MemberKind: types.MemberKindArticle},
		// Orphan reference: no page row exists for member 99.
		{MemberID: 99, CategoryLabel: "Root", MemberKind: types.MemberKindArticle},
	}

	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.NodesCreated != 1 {
		t.Fatalf("NodesCreated = %d, want only the plain article", res.NodesCreated)
	}
	if f.nodes.Get(40) == nil {
		t.Fatal("plain article missing")
	}
	for _, id := range []int64{20, 30, 99} {
		if f.nodes.Get(id) != nil {
			t.Errorf("page %d should have been screened out", id)
		}
	}
}

func TestBuildExcludeCategoryPrunesSubtree(t *testing.T) {
	f := newBuilderFixture(t)
	f.src.Pages = []types.SourcePage{
		{PageID: 10, Label: "Root", Namespace: types.NamespaceCategory},
		{PageID: 20, Label: "Cleanup pages", Namespace: types.NamespaceCategory},
		{PageID: 30, Label: "Hidden", Namespace: types.NamespaceArticle},
		{PageID: 40, Label: "Visible", Namespace: types.NamespaceArticle},
	}
	f.src.Members = []types.SourceCategoryLink{
		{MemberID: 20, CategoryLabel: "Root", MemberKind: types.MemberKindSubcategory},
		{MemberID: 40, CategoryLabel: "Root", MemberKind: types.MemberKindArticle},
		{MemberID: 30, CategoryLabel: "Cleanup pages", MemberKind: types.MemberKindArticle},
	}

	opts := defaultOpts()
	opts.ExcludeCategory = func(label string) bool { return label == "Cleanup pages" }
	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.NodesCreated != 1 {
		t.Fatalf("NodesCreated = %d, want 1", res.NodesCreated)
	}
	if f.nodes.Get(20) != nil || f.nodes.Get(30) != nil {
		t.Fatal("excluded category or its member was materialized")
	}
}

func TestBuildMaxLevelStopsExpansion(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	opts := defaultOpts()
	opts.MaxLevel = 1
	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.NodesCreated != 2 {
		t.Fatalf("NodesCreated = %d, want level 1 only", res.NodesCreated)
	}
	if f.nodes.Get(30) != nil {
		t.Fatal("level 2 node materialized past the depth ceiling")
	}
}

func TestBuildPinnedRootsPropagate(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	opts := defaultOpts()
	opts.PinnedRoots = map[int64]bool{10: true}
	if _, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, opts); err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, id := range []int64{10, 20, 30, 40} {
		n := f.nodes.Get(id)
		if n == nil || !n.Pinned {
			t.Errorf("node %d = %+v, want pinned", id, n)
		}
	}
}

func TestBuildRerunAfterCompletionAddsNothing(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	if _, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts()); err != nil {
		t.Fatalf("first Build: %v", err)
	}
	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts())
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if res.NodesCreated != 0 {
		t.Fatalf("second run created %d nodes, want 0", res.NodesCreated)
	}
}

// flakyRunner fails selected transaction attempts, counting calls.
type flakyRunner struct {
	inner memrepo.Runner
	calls int
	// failCall -> error injected on that attempt number (1-based)
	failures map[int]error
}

func (r *flakyRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.calls++
	if err, ok := r.failures[r.calls]; ok {
		return err
	}
	return r.inner.InTx(ctx, fn)
}

func TestBuildRetriesTransientCommitFailures(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	transient := builderr.New(builderr.CodeRetryable, "test", "synthetic transient failure", nil)
	runner := &flakyRunner{failures: map[int]error{1: transient, 2: transient}}
	b := f.withBuilder(t, runner)

	opts := defaultOpts()
	opts.MaxRetries = 3
	res, err := b.Build(context.Background(), []NodeRef{{PageID: 10}}, opts)
	if err != nil {
		t.Fatalf("Build with transient failures: %v", err)
	}
	if res.NodesCreated != 3 {
		t.Fatalf("NodesCreated = %d, want 3", res.NodesCreated)
	}
}

func TestBuildStopsOnNonRetryableCommitFailure(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	fatal := builderr.New(builderr.CodeDataIntegrity, "test", "synthetic integrity failure", nil)
	runner := &flakyRunner{failures: map[int]error{1: fatal}}
	b := f.withBuilder(t, runner)

	_, err := b.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts())
	if !builderr.IsCode(err, builderr.CodeDataIntegrity) {
		t.Fatalf("err = %v, want data integrity passthrough", err)
	}
	if runner.calls != 1 {
		t.Fatalf("runner called %d times, want no retry", runner.calls)
	}
}

func TestBuildExhaustedRetriesSurfaceRetryable(t *testing.T) {
	f := newBuilderFixture(t)
	f.loadScienceTree()

	transient := builderr.New(builderr.CodeRetryable, "test", "synthetic transient failure", nil)
	runner := &flakyRunner{failures: map[int]error{1: transient, 2: transient, 3: transient}}
	b := f.withBuilder(t, runner)

	opts := defaultOpts()
	opts.MaxRetries = 3
	_, err := b.Build(context.Background(), []NodeRef{{PageID: 10}}, opts)
	if !builderr.IsCode(err, builderr.CodeRetryable) {
		t.Fatalf("err = %v, want retryable after exhaustion", err)
	}
}

func TestBuildResumeMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()

	// Reference: one uninterrupted run.
	ref := newBuilderFixture(t)
	ref.loadScienceTree()
	if _, err := ref.builder.Build(ctx, []NodeRef{{PageID: 10}}, defaultOpts()); err != nil {
		t.Fatalf("reference Build: %v", err)
	}

	// Interrupted: a non-retryable failure on the second level commit aborts
	// the run after level 1 checkpointed.
	f := newBuilderFixture(t)
	f.loadScienceTree()
	fatal := builderr.New(builderr.CodeInternal, "test", "synthetic crash", nil)
	crash := &flakyRunner{failures: map[int]error{3: fatal}}
	if _, err := f.withBuilder(t, crash).Build(ctx, []NodeRef{{PageID: 10}}, defaultOpts()); err == nil {
		t.Fatal("interrupted Build should fail")
	}

	cp, err := f.checkpoints.Get(dbctx.Context{Ctx: ctx}, types.PhaseHierarchyBuild)
	if err != nil || cp == nil || cp.Done {
		t.Fatalf("mid-run checkpoint = %+v, err = %v", cp, err)
	}

	// Resume with a healthy runner.
	if _, err := f.builder.Build(ctx, []NodeRef{{PageID: 10}}, defaultOpts()); err != nil {
		t.Fatalf("resumed Build: %v", err)
	}

	dbc := dbctx.Context{Ctx: ctx}
	refCount, _ := ref.nodes.Count(dbc)
	gotCount, _ := f.nodes.Count(dbc)
	if refCount != gotCount {
		t.Fatalf("node count after resume = %d, want %d", gotCount, refCount)
	}
	for _, id := range []int64{10, 20, 30, 40} {
		want := ref.nodes.Get(id)
		got := f.nodes.Get(id)
		if want == nil || got == nil {
			t.Fatalf("node %d missing: ref=%v got=%v", id, want, got)
		}
		if got.Level != want.Level || got.Kind != want.Kind || got.DomainRootID != want.DomainRootID {
			t.Errorf("node %d = %+v, want %+v", id, got, want)
		}
		switch {
		case want.ParentID == nil && got.ParentID != nil,
			want.ParentID != nil && got.ParentID == nil,
			want.ParentID != nil && got.ParentID != nil && *want.ParentID != *got.ParentID:
			t.Errorf("node %d parent mismatch: got %v want %v", id, got.ParentID, want.ParentID)
		}
	}
}

// A crash after a level's batches commit but before its checkpoint advances
// leaves the checkpoint one level behind the materialized tree. The resumed
// run replays the committed level, inserts zero rows, and must keep
// expanding into the deeper levels instead of stopping there.
func TestBuildResumesPastReplayedLevel(t *testing.T) {
	load := func(f *builderFixture) {
		f.src.Pages = []types.SourcePage{
			{PageID: 10, Label: "Science", Namespace: types.NamespaceCategory},
			{PageID: 20, Label: "Physics", Namespace: types.NamespaceCategory},
			{PageID: 30, Label: "Mechanics", Namespace: types.NamespaceCategory},
			{PageID: 40, Label: "Atom", Namespace: types.NamespaceArticle},
		}
		f.src.Members = []types.SourceCategoryLink{
			{MemberID: 20, CategoryLabel: "Science", MemberKind: types.MemberKindSubcategory},
			{MemberID: 30, CategoryLabel: "Physics", MemberKind: types.MemberKindSubcategory},
			{MemberID: 40, CategoryLabel: "Mechanics", MemberKind: types.MemberKindArticle},
		}
	}

	ref := newBuilderFixture(t)
	load(ref)
	if _, err := ref.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts()); err != nil {
		t.Fatalf("reference Build: %v", err)
	}

	f := newBuilderFixture(t)
	load(f)
	dbc := dbctx.Context{Ctx: context.Background()}

	// Levels 0 through 2 are committed but the checkpoint stalled at level 1.
	if _, err := f.nodes.CreateIgnoreDuplicates(dbc, []*types.GraphNode{
		{PageID: 10, Label: "Science", Kind: types.KindBranch, DomainRootID: 10, Level: 0},
		{PageID: 20, Label: "Physics", Kind: types.KindBranch, DomainRootID: 10, Level: 1, ParentID: ptr(10)},
		{PageID: 30, Label: "Mechanics", Kind: types.KindBranch, DomainRootID: 10, Level: 2, ParentID: ptr(20)},
	}); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	if err := f.checkpoints.Advance(dbc, types.PhaseHierarchyBuild, levelCursor{Level: 1}, 1); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	res, err := f.builder.Build(context.Background(), []NodeRef{{PageID: 10}}, defaultOpts())
	if err != nil {
		t.Fatalf("resumed Build: %v", err)
	}
	if res.NodesCreated != 1 {
		t.Fatalf("NodesCreated on resume = %d, want 1", res.NodesCreated)
	}

	atom := f.nodes.Get(40)
	if atom == nil || atom.Level != 3 || atom.ParentID == nil || *atom.ParentID != 30 {
		t.Fatalf("atom node = %+v, want level 3 under 30", atom)
	}
	for _, id := range []int64{10, 20, 30, 40} {
		want := ref.nodes.Get(id)
		got := f.nodes.Get(id)
		if want == nil || got == nil {
			t.Fatalf("node %d missing: ref=%v got=%v", id, want, got)
		}
		if got.Level != want.Level || got.Kind != want.Kind || got.DomainRootID != want.DomainRootID {
			t.Errorf("node %d = %+v, want %+v", id, got, want)
		}
	}

	cp, err := f.checkpoints.Get(dbc, types.PhaseHierarchyBuild)
	if err != nil || cp == nil || !cp.Done {
		t.Fatalf("checkpoint after resume = %+v, err = %v", cp, err)
	}
}
