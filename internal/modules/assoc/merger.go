package assoc

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// Options configures one merge run.
type Options struct {
	// WindowSize is the width of one from-id key window.
	WindowSize int64
	// BatchSize bounds one staging/classification insert transaction.
	BatchSize int
	// Workers is the number of windows staged concurrently. Windows cover
	// disjoint key ranges and write insert-if-absent, so no coordination is
	// needed beyond the shared staging relation.
	Workers int
	// PreFilter restricts raw endpoints before any resolution. Nil leaves
	// filtering to FilterToUniverse.
	PreFilter func(id int64) bool
	// FilterToUniverse drops edges whose raw endpoints are not members of
	// the resolved node universe, via a batched alias-table semi-join run
	// before endpoint rewriting. Ignored when a custom PreFilter is set.
	FilterToUniverse bool
	// Diagnostics records per-window consolidation impact counters.
	Diagnostics bool
	MaxRetries  int
}

// Result summarizes a completed merge.
type Result struct {
	RawEdges  int64
	Filtered  int64
	SelfLoops int64
	Staged    int64
	Collapsed int64
	Pairs     int64
}

type windowStats struct {
	raw       int64
	filtered  int64
	selfLoops int64
	staged    int64
	collapsed int64
}

// Merger consumes two raw edge sources, restricts them to the resolved node
// universe, rewrites endpoints to representatives, deduplicates, and
// classifies every surviving pair by provenance. The final table is rebuilt
// wholesale, never patched.
type Merger struct {
	txr         tx.Runner
	log         *logger.Logger
	aliases     repos.NodeAliasRepo
	staged      repos.StagedLinkRepo
	assoc       repos.AssociativeLinkRepo
	diags       repos.MergeDiagnosticRepo
	checkpoints repos.CheckpointRepo
}

func NewMerger(
	txr tx.Runner,
	baseLog *logger.Logger,
	aliases repos.NodeAliasRepo,
	staged repos.StagedLinkRepo,
	assoc repos.AssociativeLinkRepo,
	diags repos.MergeDiagnosticRepo,
	checkpoints repos.CheckpointRepo,
) *Merger {
	return &Merger{
		txr:         txr,
		log:         baseLog.With("module", "assoc"),
		aliases:     aliases,
		staged:      staged,
		assoc:       assoc,
		diags:       diags,
		checkpoints: checkpoints,
	}
}

func sourceCheckpointKey(origin string) string {
	return types.PhaseAssocMerge + "/" + origin
}

type windowCursor struct {
	NextLow int64 `json:"next_low"`
}

// Merge stages both sources window by window, then classifies the staged
// relation in one grouped linear pass.
func (m *Merger) Merge(ctx context.Context, source1, source2 EdgeStream, opts Options) (Result, error) {
	if source1 == nil || source2 == nil {
		return Result{}, builderr.New(builderr.CodeValidation, "assoc.Merge", "two edge sources required", nil)
	}
	if source1.Origin() == source2.Origin() {
		return Result{}, builderr.New(builderr.CodeValidation, "assoc.Merge", "edge sources must carry distinct origins", nil)
	}
	if opts.WindowSize <= 0 {
		return Result{}, builderr.New(builderr.CodeValidation, "assoc.Merge", "window size must be positive", nil)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	dbc := dbctx.Context{Ctx: ctx}

	cp, err := m.checkpoints.Get(dbc, types.PhaseAssocMerge)
	if err != nil {
		return Result{}, err
	}
	if cp == nil || cp.Done {
		if err := m.wipe(ctx, source1.Origin(), source2.Origin()); err != nil {
			return Result{}, err
		}
		if err := m.checkpoints.Advance(dbc, types.PhaseAssocMerge, windowCursor{}, -1); err != nil {
			return Result{}, err
		}
	}

	var res Result
	for _, stream := range []EdgeStream{source1, source2} {
		stats, err := m.stageSource(ctx, stream, opts)
		if err != nil {
			return res, err
		}
		res.RawEdges += stats.raw
		res.Filtered += stats.filtered
		res.SelfLoops += stats.selfLoops
		res.Staged += stats.staged
		res.Collapsed += stats.collapsed
	}

	pairs, err := m.classify(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Pairs = pairs

	if err := m.checkpoints.MarkDone(dbc, types.PhaseAssocMerge); err != nil {
		return res, err
	}
	m.log.Info("Associative merge complete",
		"raw_edges", res.RawEdges,
		"filtered", res.Filtered,
		"self_loops", res.SelfLoops,
		"staged", res.Staged,
		"collapsed", res.Collapsed,
		"pairs", res.Pairs,
	)
	return res, nil
}

func (m *Merger) wipe(ctx context.Context, origins ...string) error {
	dbc := dbctx.Context{Ctx: ctx}
	for _, origin := range origins {
		if err := m.checkpoints.Reset(dbc, sourceCheckpointKey(origin)); err != nil {
			return err
		}
	}
	return m.txr.InTx(ctx, func(txc dbctx.Context) error {
		if err := m.staged.DeleteAll(txc); err != nil {
			return err
		}
		if err := m.assoc.DeleteAll(txc); err != nil {
			return err
		}
		return m.diags.DeleteAll(txc)
	})
}

// stageSource walks one source in fixed key windows. Each window is a
// committed, resumable unit; the per-source checkpoint records the last
// completed window so a restart continues scanning from there.
func (m *Merger) stageSource(ctx context.Context, stream EdgeStream, opts Options) (windowStats, error) {
	dbc := dbctx.Context{Ctx: ctx}
	key := sourceCheckpointKey(stream.Origin())

	var total windowStats

	startWindow := int64(0)
	if cp, err := m.checkpoints.Get(dbc, key); err != nil {
		return total, err
	} else if cp != nil {
		if cp.Done {
			return total, nil
		}
		startWindow = cp.LastCommittedUnit + 1
	}

	maxKey, err := stream.MaxKey(dbc)
	if err != nil {
		return total, err
	}
	lastWindow := maxKey / opts.WindowSize

	var mu sync.Mutex
	for chunkStart := startWindow; chunkStart <= lastWindow; chunkStart += int64(opts.Workers) {
		chunkEnd := chunkStart + int64(opts.Workers) - 1
		if chunkEnd > lastWindow {
			chunkEnd = lastWindow
		}
		g, gctx := errgroup.WithContext(ctx)
		for w := chunkStart; w <= chunkEnd; w++ {
			g.Go(func() error {
				low := w * opts.WindowSize
				stats, err := m.stageWindow(gctx, stream, low, low+opts.WindowSize, opts)
				if err != nil {
					return err
				}
				mu.Lock()
				total.raw += stats.raw
				total.filtered += stats.filtered
				total.selfLoops += stats.selfLoops
				total.staged += stats.staged
				total.collapsed += stats.collapsed
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return total, err
		}
		if err := m.checkpoints.Advance(dbc, key, windowCursor{NextLow: (chunkEnd + 1) * opts.WindowSize}, chunkEnd); err != nil {
			return total, err
		}
	}

	if err := m.checkpoints.MarkDone(dbc, key); err != nil {
		return total, err
	}
	return total, nil
}

// stageWindow resolves one key window and appends surviving pairs to the
// staging relation. Pre-filtering runs before endpoint resolution.
func (m *Merger) stageWindow(ctx context.Context, stream EdgeStream, low, high int64, opts Options) (windowStats, error) {
	dbc := dbctx.Context{Ctx: ctx}
	var stats windowStats

	edges, err := stream.Range(dbc, low, high)
	if err != nil {
		return stats, err
	}
	stats.raw = int64(len(edges))
	if len(edges) == 0 {
		return stats, nil
	}

	if opts.PreFilter != nil {
		kept := edges[:0]
		for _, e := range edges {
			if opts.PreFilter(e.From) && opts.PreFilter(e.To) {
				kept = append(kept, e)
			} else {
				stats.filtered++
			}
		}
		edges = kept
	}

	idset := make(map[int64]bool, len(edges)*2)
	for _, e := range edges {
		idset[e.From] = true
		idset[e.To] = true
	}
	aliasMap, err := m.resolveAll(dbc, idset)
	if err != nil {
		return stats, err
	}

	if opts.FilterToUniverse && opts.PreFilter == nil {
		// Semi-join against the alias relation before any endpoint is
		// rewritten; the membership probe doubles as the resolution input.
		kept := edges[:0]
		for _, e := range edges {
			if _, ok := aliasMap[e.From]; !ok {
				stats.filtered++
				continue
			}
			if _, ok := aliasMap[e.To]; !ok {
				stats.filtered++
				continue
			}
			kept = append(kept, e)
		}
		edges = kept
	}

	type pair struct{ from, to int64 }
	distinct := make(map[pair]bool)
	var kept int64
	for _, e := range edges {
		fromRep, okF := aliasMap[e.From]
		toRep, okT := aliasMap[e.To]
		if !okF || !okT {
			// Endpoint outside the resolved universe survived filtering:
			// either no pre-filter is configured at all, or the custom
			// predicate passed an orphan reference.
			stats.filtered++
			if opts.PreFilter != nil {
				m.log.Warn("Skipping edge with unresolved endpoint",
					"origin", stream.Origin(), "from_id", e.From, "to_id", e.To,
					"code", builderr.CodeDataIntegrity)
			}
			continue
		}
		if fromRep == toRep {
			stats.selfLoops++
			continue
		}
		kept++
		distinct[pair{fromRep, toRep}] = true
	}

	rows := make([]*types.StagedLink, 0, len(distinct))
	for p := range distinct {
		rows = append(rows, &types.StagedLink{FromRep: p.from, ToRep: p.to, Origin: stream.Origin()})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FromRep != rows[j].FromRep {
			return rows[i].FromRep < rows[j].FromRep
		}
		return rows[i].ToRep < rows[j].ToRep
	})

	for start := 0; start < len(rows); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := m.commitStaged(ctx, rows[start:end], opts)
		if err != nil {
			return stats, err
		}
		stats.staged += n
	}
	stats.collapsed = kept - stats.staged

	if opts.Diagnostics {
		diag := &types.MergeDiagnostic{
			Origin:      stream.Origin(),
			WindowStart: low,
			WindowEnd:   high,
			RawEdges:    stats.raw,
			Filtered:    stats.filtered,
			SelfLoops:   stats.selfLoops,
			Collapsed:   stats.collapsed,
			Staged:      stats.staged,
		}
		if err := m.diags.Create(dbc, diag); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (m *Merger) resolveAll(dbc dbctx.Context, idset map[int64]bool) (map[int64]int64, error) {
	ids := make([]int64, 0, len(idset))
	for id := range idset {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make(map[int64]int64, len(ids))
	const probe = 10000
	for start := 0; start < len(ids); start += probe {
		end := start + probe
		if end > len(ids) {
			end = len(ids)
		}
		part, err := m.aliases.ResolveBatch(dbc, ids[start:end])
		if err != nil {
			return nil, err
		}
		for k, v := range part {
			out[k] = v
		}
	}
	return out, nil
}

// classify runs the single grouped aggregation over the staging relation:
// a linear pass over rows ordered by (from_rep, to_rep), carrying the open
// group across batch boundaries, emitting exactly one classified row per
// pair. Cost stays proportional to staged row count.
func (m *Merger) classify(ctx context.Context, opts Options) (int64, error) {
	dbc := dbctx.Context{Ctx: ctx}

	// Classification rebuilds the final table wholesale, including after a
	// restart that found staging already complete.
	if err := m.txr.InTx(ctx, func(txc dbctx.Context) error {
		return m.assoc.DeleteAll(txc)
	}); err != nil {
		return 0, err
	}

	var (
		pairs   int64
		out     []*types.AssociativeLink
		curFrom int64
		curTo   int64
		origins map[string]bool
		started bool
	)

	flush := func(force bool) error {
		if !force && len(out) < opts.BatchSize {
			return nil
		}
		if len(out) == 0 {
			return nil
		}
		if err := m.commitLinks(ctx, out, opts); err != nil {
			return err
		}
		pairs += int64(len(out))
		out = out[:0]
		return nil
	}
	emit := func() {
		linkType := types.LinkTypeBoth
		if len(origins) == 1 {
			for origin := range origins {
				linkType = origin
			}
		}
		out = append(out, &types.AssociativeLink{FromRep: curFrom, ToRep: curTo, LinkType: linkType})
	}

	err := m.staged.StreamOrdered(dbc, opts.BatchSize, func(rows []types.StagedLink) error {
		for _, row := range rows {
			if !started || row.FromRep != curFrom || row.ToRep != curTo {
				if started {
					emit()
				}
				curFrom, curTo = row.FromRep, row.ToRep
				origins = make(map[string]bool, 2)
				started = true
			}
			origins[row.Origin] = true
		}
		return flush(false)
	})
	if err != nil {
		return pairs, err
	}
	if started {
		emit()
	}
	if err := flush(true); err != nil {
		return pairs, err
	}
	return pairs, nil
}

func (m *Merger) commitStaged(ctx context.Context, rows []*types.StagedLink, opts Options) (int64, error) {
	var affected int64
	err := m.withRetry(ctx, "assoc.commitStaged", opts, func() error {
		return m.txr.InTx(ctx, func(txc dbctx.Context) error {
			n, err := m.staged.CreateIgnoreDuplicates(txc, rows)
			if err != nil {
				return err
			}
			affected = int64(n)
			return nil
		})
	})
	return affected, err
}

func (m *Merger) commitLinks(ctx context.Context, rows []*types.AssociativeLink, opts Options) error {
	return m.withRetry(ctx, "assoc.commitLinks", opts, func() error {
		return m.txr.InTx(ctx, func(txc dbctx.Context) error {
			_, err := m.assoc.CreateIgnoreDuplicates(txc, rows)
			return err
		})
	})
}

func (m *Merger) withRetry(ctx context.Context, op string, opts Options, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return builderr.Wrap(builderr.CodeRetryable, op, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !builderr.IsRetryable(err) {
			return err
		}
		m.log.Warn("Batch commit retry", "op", op, "attempt", attempt+1, "error", err)
	}
	return builderr.Wrap(builderr.CodeRetryable, op+" retries exhausted", lastErr)
}
