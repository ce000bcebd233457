package identity

import (
	"context"
	"testing"

	"github.com/atlaskb/atlas-backend/internal/data/repos/memrepo"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/normalization"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type resolverFixture struct {
	resolver    *Resolver
	runner      *memrepo.Runner
	nodes       *memrepo.Nodes
	aliases     *memrepo.Aliases
	canonical   *memrepo.Canonical
	checkpoints *memrepo.Checkpoints
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := &resolverFixture{
		runner:      &memrepo.Runner{},
		nodes:       memrepo.NewNodes(),
		aliases:     memrepo.NewAliases(),
		canonical:   memrepo.NewCanonical(),
		checkpoints: memrepo.NewCheckpoints(),
	}
	f.resolver = NewResolver(f.runner, log, f.nodes, f.aliases, f.canonical, f.checkpoints)
	return f
}

func (f *resolverFixture) withResolver(t *testing.T, txr tx.Runner) *Resolver {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewResolver(txr, log, f.nodes, f.aliases, f.canonical, f.checkpoints)
}

func (f *resolverFixture) seed(t *testing.T, rows ...*types.GraphNode) {
	t.Helper()
	if _, err := f.nodes.CreateIgnoreDuplicates(dbctx.Context{Ctx: context.Background()}, rows); err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
}

func TestResolveRequiresNormalize(t *testing.T) {
	f := newResolverFixture(t)
	if _, err := f.resolver.Resolve(context.Background(), nil, nil); !builderr.IsCode(err, builderr.CodeValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestResolveClustersByNormalizedLabel(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t,
		&types.GraphNode{PageID: 1, Label: "New York City", Kind: types.KindLeaf, Level: 2},
		&types.GraphNode{PageID: 2, Label: "new_york_city", Kind: types.KindLeaf, Level: 1},
		&types.GraphNode{PageID: 3, Label: "Albany", Kind: types.KindLeaf, Level: 2},
	)

	res, err := f.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Nodes != 3 || res.Clusters != 2 || res.Representatives != 2 || res.Collapsed != 1 {
		t.Fatalf("result = %+v", res)
	}

	// Deeper level wins within the cluster.
	mapping := f.aliases.All()
	if mapping[1] != 1 || mapping[2] != 1 || mapping[3] != 3 {
		t.Fatalf("alias mapping = %v", mapping)
	}
	rep := f.canonical.Get(1)
	if rep == nil || rep.ClusterSize != 2 || rep.NormLabel != "new york city" {
		t.Fatalf("representative = %+v", rep)
	}
	if f.canonical.Get(2) != nil {
		t.Fatal("non-representative present in canonical table")
	}
}

func TestRepresentativeOrder(t *testing.T) {
	pinnedField := func(n *types.GraphNode) bool { return n.Pinned }

	cases := []struct {
		name string
		a, b *types.GraphNode
		want bool
	}{
		{
			name: "pinned beats deeper",
			a:    &types.GraphNode{PageID: 9, Level: 1, Pinned: true, Kind: types.KindLeaf},
			b:    &types.GraphNode{PageID: 1, Level: 5, Kind: types.KindBranch},
			want: true,
		},
		{
			name: "deeper level wins",
			a:    &types.GraphNode{PageID: 9, Level: 4, Kind: types.KindLeaf},
			b:    &types.GraphNode{PageID: 1, Level: 2, Kind: types.KindBranch},
			want: true,
		},
		{
			name: "branch beats leaf at same level",
			a:    &types.GraphNode{PageID: 9, Level: 2, Kind: types.KindBranch},
			b:    &types.GraphNode{PageID: 1, Level: 2, Kind: types.KindLeaf},
			want: true,
		},
		{
			name: "lowest id breaks full ties",
			a:    &types.GraphNode{PageID: 9, Level: 2, Kind: types.KindLeaf},
			b:    &types.GraphNode{PageID: 1, Level: 2, Kind: types.KindLeaf},
			want: false,
		},
	}
	for _, tc := range cases {
		if got := represents(tc.a, tc.b, pinnedField); got != tc.want {
			t.Errorf("%s: represents = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestResolveEveryNodeMapped(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t,
		&types.GraphNode{PageID: 1, Label: "A", Kind: types.KindBranch, Level: 0},
		&types.GraphNode{PageID: 2, Label: "a", Kind: types.KindLeaf, Level: 1},
		&types.GraphNode{PageID: 3, Label: "B", Kind: types.KindLeaf, Level: 1},
		&types.GraphNode{PageID: 4, Label: "b-", Kind: types.KindLeaf, Level: 2},
		&types.GraphNode{PageID: 5, Label: "C", Kind: types.KindLeaf, Level: 1},
	)

	res, err := f.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	mapping := f.aliases.All()
	if int64(len(mapping)) != res.Nodes {
		t.Fatalf("mapping covers %d of %d nodes", len(mapping), res.Nodes)
	}
	// Representatives map to themselves; all members of a cluster share one
	// representative.
	for id, rep := range mapping {
		if mapping[rep] != rep {
			t.Errorf("representative %d of %d does not map to itself", rep, id)
		}
		if f.canonical.Get(rep) == nil {
			t.Errorf("representative %d missing from canonical table", rep)
		}
	}
	dbc := dbctx.Context{Ctx: context.Background()}
	if n, _ := f.canonical.Count(dbc); n != res.Representatives {
		t.Fatalf("canonical rows = %d, want %d", n, res.Representatives)
	}
}

func TestResolvePinnedTierOverridesDepth(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t,
		&types.GraphNode{PageID: 1, Label: "Topic", Kind: types.KindLeaf, Level: 1, Pinned: true},
		&types.GraphNode{PageID: 2, Label: "topic", Kind: types.KindBranch, Level: 6},
	)

	if _, err := f.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	mapping := f.aliases.All()
	if mapping[1] != 1 || mapping[2] != 1 {
		t.Fatalf("alias mapping = %v, want pinned node 1 as representative", mapping)
	}
}

func TestResolveRerunIsDeterministic(t *testing.T) {
	seedBoth := func(f *resolverFixture) {
		f.seed(t,
			&types.GraphNode{PageID: 7, Label: "Graph Theory", Kind: types.KindBranch, Level: 1},
			&types.GraphNode{PageID: 3, Label: "graph-theory", Kind: types.KindLeaf, Level: 3},
			&types.GraphNode{PageID: 9, Label: "GRAPH_THEORY", Kind: types.KindLeaf, Level: 3},
			&types.GraphNode{PageID: 4, Label: "Lattice", Kind: types.KindLeaf, Level: 2},
		)
	}
	a := newResolverFixture(t)
	seedBoth(a)
	b := newResolverFixture(t)
	seedBoth(b)

	if _, err := a.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := b.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	ma, mb := a.aliases.All(), b.aliases.All()
	if len(ma) != len(mb) {
		t.Fatalf("mapping sizes differ: %d vs %d", len(ma), len(mb))
	}
	for id, rep := range ma {
		if mb[id] != rep {
			t.Errorf("node %d resolves to %d vs %d", id, rep, mb[id])
		}
	}
	// Deepest among the tie is id 3 (level 3, lowest id).
	if ma[7] != 3 || ma[9] != 3 {
		t.Fatalf("alias mapping = %v, want representative 3", ma)
	}
}

func TestResolveFreshRunReplacesPriorMapping(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t,
		&types.GraphNode{PageID: 1, Label: "One", Kind: types.KindLeaf, Level: 1},
	)
	if _, err := f.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	// New deeper synonym appears before the second run.
	f.seed(t,
		&types.GraphNode{PageID: 2, Label: "one", Kind: types.KindLeaf, Level: 4},
	)
	res, err := f.resolver.Resolve(context.Background(), normalization.NormalizeLabel, nil)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if res.Clusters != 1 || res.Representatives != 1 {
		t.Fatalf("result = %+v", res)
	}
	mapping := f.aliases.All()
	if mapping[1] != 2 || mapping[2] != 2 {
		t.Fatalf("alias mapping = %v, want rebuilt around node 2", mapping)
	}
	if f.canonical.Get(1) != nil {
		t.Fatal("stale representative survived the rebuild")
	}
}

type failNthRunner struct {
	inner    memrepo.Runner
	calls    int
	failures map[int]error
}

func (r *failNthRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.calls++
	if err, ok := r.failures[r.calls]; ok {
		return err
	}
	return r.inner.InTx(ctx, fn)
}

func TestResolveResumeMatchesCleanRun(t *testing.T) {
	ctx := context.Background()
	seedAll := func(f *resolverFixture) {
		f.seed(t,
			&types.GraphNode{PageID: 1, Label: "Alpha", Kind: types.KindLeaf, Level: 1},
			&types.GraphNode{PageID: 2, Label: "alpha", Kind: types.KindLeaf, Level: 2},
			&types.GraphNode{PageID: 3, Label: "Beta", Kind: types.KindLeaf, Level: 1},
			&types.GraphNode{PageID: 4, Label: "Gamma", Kind: types.KindLeaf, Level: 1},
			&types.GraphNode{PageID: 5, Label: "Delta", Kind: types.KindLeaf, Level: 1},
		)
	}

	ref := newResolverFixture(t)
	seedAll(ref)
	if _, err := ref.resolver.Resolve(ctx, normalization.NormalizeLabel, nil); err != nil {
		t.Fatalf("reference Resolve: %v", err)
	}

	// BatchSize 1 makes every cluster its own commit; the crash lands after
	// two mapping batches committed (wipe is call 1).
	f := newResolverFixture(t)
	seedAll(f)
	fatal := builderr.New(builderr.CodeInternal, "test", "synthetic crash", nil)
	crash := &failNthRunner{failures: map[int]error{4: fatal}}
	opts := Options{BatchSize: 1}
	if _, err := f.withResolver(t, crash).ResolveWithOptions(ctx, normalization.NormalizeLabel, nil, opts); err == nil {
		t.Fatal("interrupted Resolve should fail")
	}
	cp, err := f.checkpoints.Get(dbctx.Context{Ctx: ctx}, types.PhaseIdentityResolve)
	if err != nil || cp == nil || cp.Done {
		t.Fatalf("mid-run checkpoint = %+v, err = %v", cp, err)
	}

	if _, err := f.resolver.ResolveWithOptions(ctx, normalization.NormalizeLabel, nil, opts); err != nil {
		t.Fatalf("resumed Resolve: %v", err)
	}

	ma, mf := ref.aliases.All(), f.aliases.All()
	if len(ma) != len(mf) {
		t.Fatalf("mapping sizes differ: %d vs %d", len(ma), len(mf))
	}
	for id, rep := range ma {
		if mf[id] != rep {
			t.Errorf("node %d resolves to %d vs %d", id, mf[id], rep)
		}
	}
	dbc := dbctx.Context{Ctx: ctx}
	refCanon, _ := ref.canonical.Count(dbc)
	gotCanon, _ := f.canonical.Count(dbc)
	if refCanon != gotCanon {
		t.Fatalf("canonical rows = %d, want %d", gotCanon, refCanon)
	}
}
