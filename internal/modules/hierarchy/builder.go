package hierarchy

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/source"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// NodeRef names a seed topic, by page id or by label.
type NodeRef struct {
	PageID int64
	Label  string
}

// Options configures one hierarchy build.
type Options struct {
	MaxLevel      int
	BatchSizeHint int
	MinBatch      int
	MaxBatch      int
	// TargetRowsPerSec drives adaptive batch sizing; <= 0 disables adjustment.
	TargetRowsPerSec float64
	MaxRetries       int
	Workers          int
	// KeepDiscardedParents retains parent edges that lose the
	// first-discovery race in a side relation.
	KeepDiscardedParents bool
	// PinnedRoots marks seed subtrees whose nodes belong to the privileged
	// identity tier.
	PinnedRoots map[int64]bool
	// ExcludeCategory prunes maintenance categories. Nil keeps everything.
	ExcludeCategory func(label string) bool
}

// Result summarizes a completed build.
type Result struct {
	StartLevel   int
	LevelsBuilt  int
	NodesCreated int64
}

// Builder expands seed topics level by level into the materialized
// hierarchy. Each level is one committed checkpoint unit; each insert batch
// within a level is one atomic transaction.
type Builder struct {
	txr         tx.Runner
	log         *logger.Logger
	src         source.GraphSource
	nodes       repos.NodeRepo
	checkpoints repos.CheckpointRepo
	discarded   repos.DiscardedParentRepo
}

func NewBuilder(
	txr tx.Runner,
	baseLog *logger.Logger,
	src source.GraphSource,
	nodes repos.NodeRepo,
	checkpoints repos.CheckpointRepo,
	discarded repos.DiscardedParentRepo,
) *Builder {
	return &Builder{
		txr:         txr,
		log:         baseLog.With("module", "hierarchy"),
		src:         src,
		nodes:       nodes,
		checkpoints: checkpoints,
		discarded:   discarded,
	}
}

type levelCursor struct {
	Level int `json:"level"`
}

// candidate is one potential child discovered during a level expansion,
// carrying the winning (lowest-id) parent seen so far.
type candidate struct {
	parentID     int64
	domainRootID int64
	allParents   map[int64]bool
}

func (o Options) validate() error {
	if o.MaxLevel <= 0 {
		return builderr.New(builderr.CodeValidation, "hierarchy.Build", "max level must be positive", nil)
	}
	if o.MinBatch <= 0 || o.MaxBatch <= 0 || o.MinBatch > o.MaxBatch {
		return builderr.New(builderr.CodeValidation, "hierarchy.Build", "invalid batch bounds", nil)
	}
	if o.BatchSizeHint <= 0 {
		return builderr.New(builderr.CodeValidation, "hierarchy.Build", "batch size hint must be positive", nil)
	}
	return nil
}

// Build runs the level-synchronous expansion. It resumes from the last
// committed level when a checkpoint exists; the anti-join against
// materialized nodes makes every level idempotent, so resumed and
// uninterrupted runs produce identical output.
func (b *Builder) Build(ctx context.Context, seeds []NodeRef, opts Options) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	dbc := dbctx.Context{Ctx: ctx}

	roots, err := b.resolveSeeds(dbc, seeds)
	if err != nil {
		return Result{}, err
	}

	startLevel := 0
	cp, err := b.checkpoints.Get(dbc, types.PhaseHierarchyBuild)
	if err != nil {
		return Result{}, err
	}
	if cp != nil {
		startLevel = int(cp.LastCommittedUnit) + 1
	} else {
		if err := b.seedLevelZero(ctx, roots, opts); err != nil {
			return Result{}, err
		}
		if err := b.checkpoints.Advance(dbc, types.PhaseHierarchyBuild, levelCursor{Level: 0}, 0); err != nil {
			return Result{}, err
		}
		startLevel = 1
	}

	sizer := newAdaptiveSizer(opts.BatchSizeHint, opts.MinBatch, opts.MaxBatch, opts.TargetRowsPerSec)
	res := Result{StartLevel: startLevel}

	for level := startLevel; level <= opts.MaxLevel; level++ {
		created, err := b.expandLevel(ctx, level, opts, sizer)
		if err != nil {
			b.log.Error("Level expansion failed", "level", level, "error", err)
			return res, err
		}
		if err := b.checkpoints.Advance(dbc, types.PhaseHierarchyBuild, levelCursor{Level: level}, int64(level)); err != nil {
			return res, err
		}
		res.LevelsBuilt++
		res.NodesCreated += created
		if created == 0 {
			// A crash between a level's final batch commit and the checkpoint
			// advance makes the resumed run replay that level; the anti-join
			// then inserts nothing even though the level is populated. Only a
			// genuinely empty level terminates expansion.
			count, err := b.nodes.CountAtLevel(dbc, level)
			if err != nil {
				return res, err
			}
			if count == 0 {
				b.log.Info("Level produced zero new nodes, expansion complete", "level", level)
				break
			}
			b.log.Info("Level already materialized, continuing", "level", level, "rows", count)
		}
	}

	if err := b.checkpoints.MarkDone(dbc, types.PhaseHierarchyBuild); err != nil {
		return res, err
	}
	return res, nil
}

// resolveSeeds maps seed refs to source category pages. Failing to resolve
// any seed is a configuration error surfaced before state mutation.
func (b *Builder) resolveSeeds(dbc dbctx.Context, seeds []NodeRef) ([]*types.SourcePage, error) {
	if len(seeds) == 0 {
		return nil, builderr.New(builderr.CodeValidation, "hierarchy.Build", "no seeds given", nil)
	}
	var ids []int64
	var labels []string
	for _, s := range seeds {
		if s.PageID != 0 {
			ids = append(ids, s.PageID)
		} else if s.Label != "" {
			labels = append(labels, s.Label)
		}
	}
	var roots []*types.SourcePage
	if len(ids) > 0 {
		pages, err := b.src.PagesByIDs(dbc, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			if p.Namespace == types.NamespaceCategory {
				roots = append(roots, p)
			}
		}
	}
	if len(labels) > 0 {
		pages, err := b.src.PagesByLabels(dbc, labels, types.NamespaceCategory)
		if err != nil {
			return nil, err
		}
		roots = append(roots, pages...)
	}
	if len(roots) == 0 {
		return nil, builderr.New(builderr.CodeValidation, "hierarchy.Build", "no seeds resolve to category pages", nil)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].PageID < roots[j].PageID })
	return roots, nil
}

func (b *Builder) seedLevelZero(ctx context.Context, roots []*types.SourcePage, opts Options) error {
	rows := make([]*types.GraphNode, 0, len(roots))
	for _, r := range roots {
		rows = append(rows, &types.GraphNode{
			PageID:       r.PageID,
			Label:        r.Label,
			Kind:         types.KindBranch,
			DomainRootID: r.PageID,
			Level:        0,
			ParentID:     nil,
			Pinned:       opts.PinnedRoots[r.PageID],
		})
	}
	_, err := b.commitBatch(ctx, rows, nil, opts)
	return err
}

// expandLevel materializes one BFS level and returns the number of newly
// committed nodes. Zero is the normal termination signal.
func (b *Builder) expandLevel(ctx context.Context, level int, opts Options, sizer *adaptiveSizer) (int64, error) {
	dbc := dbctx.Context{Ctx: ctx}

	frontier, err := b.nodes.FrontierAtLevel(dbc, level-1)
	if err != nil {
		return 0, err
	}
	if len(frontier) == 0 {
		return 0, nil
	}

	cands, err := b.collectCandidates(ctx, frontier, opts)
	if err != nil {
		return 0, err
	}
	if len(cands) == 0 {
		return 0, nil
	}

	rows, sideRows, err := b.screenCandidates(dbc, level, cands, opts)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	var created int64
	for start := 0; start < len(rows); start += sizer.Width() {
		end := start + sizer.Width()
		if end > len(rows) {
			end = len(rows)
		}
		n, err := b.commitBatch(ctx, rows[start:end], sideRows, opts)
		if err != nil {
			return created, err
		}
		sideRows = nil // side relation rows ride along with the first batch
		created += n
	}
	if len(sideRows) > 0 {
		// Every candidate lost the first-discovery race, so no node batch
		// carried the side rows.
		if _, err := b.commitBatch(ctx, nil, sideRows, opts); err != nil {
			return created, err
		}
	}
	sizer.Observe(created, time.Since(started))
	b.log.Info("Level committed",
		"level", level,
		"frontier", len(frontier),
		"candidates", len(cands),
		"created", created,
		"next_batch_width", sizer.Width(),
	)
	return created, nil
}

// collectCandidates follows membership edges out of the frontier. Frontier
// chunks run in parallel over disjoint ranges; merging partial maps with a
// lowest-parent-id reduction keeps the result order-independent.
func (b *Builder) collectCandidates(ctx context.Context, frontier []*types.GraphNode, opts Options) (map[int64]*candidate, error) {
	byLabel := make(map[string]*types.GraphNode, len(frontier))
	for _, f := range frontier {
		cur, ok := byLabel[f.Label]
		if !ok || f.PageID < cur.PageID {
			byLabel[f.Label] = f
		}
	}

	chunks := chunkNodes(frontier, opts.Workers)
	partials := make([]map[int64]*candidate, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			labels := make([]string, 0, len(chunk))
			for _, f := range chunk {
				labels = append(labels, f.Label)
			}
			members, err := b.src.MembersOfCategories(dbctx.Context{Ctx: gctx}, labels)
			if err != nil {
				return err
			}
			part := make(map[int64]*candidate)
			for _, m := range members {
				if m.MemberKind == types.MemberKindFile {
					continue
				}
				parent, ok := byLabel[m.CategoryLabel]
				if !ok {
					b.log.Warn("Membership edge references unknown frontier category",
						"member_id", m.MemberID, "category_label", m.CategoryLabel)
					continue
				}
				mergeCandidate(part, m.MemberID, parent, opts.KeepDiscardedParents)
			}
			partials[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[int64]*candidate)
	for _, part := range partials {
		for id, c := range part {
			cur, ok := merged[id]
			if !ok {
				merged[id] = c
				continue
			}
			if c.parentID < cur.parentID {
				c.mergeParents(cur)
				merged[id] = c
			} else {
				cur.mergeParents(c)
			}
		}
	}
	return merged, nil
}

func mergeCandidate(part map[int64]*candidate, memberID int64, parent *types.GraphNode, keepAll bool) {
	cur, ok := part[memberID]
	if !ok {
		c := &candidate{parentID: parent.PageID, domainRootID: parent.DomainRootID}
		if keepAll {
			c.allParents = map[int64]bool{parent.PageID: true}
		}
		part[memberID] = c
		return
	}
	if keepAll {
		cur.allParents[parent.PageID] = true
	}
	if parent.PageID < cur.parentID {
		cur.parentID = parent.PageID
		cur.domainRootID = parent.DomainRootID
	}
}

func (c *candidate) mergeParents(other *candidate) {
	if c.allParents == nil || other == nil {
		return
	}
	for id := range other.allParents {
		c.allParents[id] = true
	}
}

// screenCandidates applies namespace/kind filtering, the category exclusion
// predicate and the anti-join against already-materialized nodes.
func (b *Builder) screenCandidates(dbc dbctx.Context, level int, cands map[int64]*candidate, opts Options) ([]*types.GraphNode, []*types.DiscardedParent, error) {
	ids := make([]int64, 0, len(cands))
	for id := range cands {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []*types.GraphNode
	var side []*types.DiscardedParent

	const probe = 10000
	for start := 0; start < len(ids); start += probe {
		end := start + probe
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		pages, err := b.src.PagesByIDs(dbc, batch)
		if err != nil {
			return nil, nil, err
		}
		meta := make(map[int64]*types.SourcePage, len(pages))
		for _, p := range pages {
			meta[p.PageID] = p
		}

		existing, err := b.nodes.ExistingIDs(dbc, batch)
		if err != nil {
			return nil, nil, err
		}

		for _, id := range batch {
			c := cands[id]
			page, ok := meta[id]
			if !ok {
				// Orphan reference in the membership relation: log with keys,
				// skip the row, keep going.
				b.log.Warn("Skipping orphan membership reference",
					"member_id", id, "parent_id", c.parentID, "level", level,
					"code", builderr.CodeDataIntegrity)
				continue
			}
			if page.IsRedirect {
				continue
			}
			var kind string
			switch page.Namespace {
			case types.NamespaceCategory:
				kind = types.KindBranch
			case types.NamespaceArticle:
				kind = types.KindLeaf
			default:
				continue
			}
			if kind == types.KindBranch && opts.ExcludeCategory != nil && opts.ExcludeCategory(page.Label) {
				continue
			}
			if existing[id] {
				// First-discovery policy: already materialized at any level
				// wins, even if this path is shorter.
				if opts.KeepDiscardedParents {
					for pid := range c.allParents {
						side = append(side, &types.DiscardedParent{PageID: id, ParentID: pid, Level: level})
					}
				}
				continue
			}
			parentID := c.parentID
			rows = append(rows, &types.GraphNode{
				PageID:       id,
				Label:        page.Label,
				Kind:         kind,
				DomainRootID: c.domainRootID,
				Level:        level,
				ParentID:     &parentID,
				Pinned:       opts.PinnedRoots[c.domainRootID],
			})
			if opts.KeepDiscardedParents {
				for pid := range c.allParents {
					if pid != c.parentID {
						side = append(side, &types.DiscardedParent{PageID: id, ParentID: pid, Level: level})
					}
				}
			}
		}
	}
	return rows, side, nil
}

// commitBatch writes one atomic batch, retrying transient storage failures
// up to the configured bound. A batch that makes zero progress after the
// retry budget is terminal.
func (b *Builder) commitBatch(ctx context.Context, rows []*types.GraphNode, side []*types.DiscardedParent, opts Options) (int64, error) {
	if len(rows) == 0 && len(side) == 0 {
		return 0, nil
	}
	var created int64
	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, builderr.Wrap(builderr.CodeRetryable, "hierarchy.commitBatch", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err := b.txr.InTx(ctx, func(txc dbctx.Context) error {
			n, err := b.nodes.CreateIgnoreDuplicates(txc, rows)
			if err != nil {
				return err
			}
			if len(side) > 0 {
				if _, err := b.discarded.CreateIgnoreDuplicates(txc, side); err != nil {
					return err
				}
			}
			created = int64(n)
			return nil
		})
		if err == nil {
			return created, nil
		}
		lastErr = err
		if !builderr.IsRetryable(err) {
			return 0, err
		}
		b.log.Warn("Batch commit retry", "attempt", attempt+1, "error", err)
	}
	return 0, builderr.Wrap(builderr.CodeRetryable, "hierarchy.commitBatch retries exhausted", lastErr)
}

func chunkNodes(in []*types.GraphNode, n int) [][]*types.GraphNode {
	if n <= 1 || len(in) <= n {
		return [][]*types.GraphNode{in}
	}
	size := (len(in) + n - 1) / n
	var out [][]*types.GraphNode
	for start := 0; start < len(in); start += size {
		end := start + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}
