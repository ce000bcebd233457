package identity

import (
	"context"
	"sort"
	"time"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/domain/builderr"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// Normalize folds a raw label into its semantic identity key. It must be a
// pure function; the exact rule table is a collaborator concern.
type Normalize func(label string) string

// Pinned reports whether a node belongs to the privileged identity tier.
// Nil falls back to the node's own pinned flag.
type Pinned func(n *types.GraphNode) bool

// Options configures one resolution run.
type Options struct {
	// ScanWindow is the page-id width of one node scan range.
	ScanWindow int64
	// BatchSize bounds one alias/canonical insert transaction.
	BatchSize  int
	MaxRetries int
}

// Result summarizes a completed resolution.
type Result struct {
	Nodes           int64
	Clusters        int64
	Representatives int64
	Collapsed       int64
}

// Resolver clusters nodes by normalized label and selects one canonical
// representative per cluster under a deterministic total order. The
// original node table is never mutated; output is the total alias mapping
// plus the representative-only canonical table.
type Resolver struct {
	txr         tx.Runner
	log         *logger.Logger
	nodes       repos.NodeRepo
	aliases     repos.NodeAliasRepo
	canonical   repos.CanonicalNodeRepo
	checkpoints repos.CheckpointRepo
}

func NewResolver(
	txr tx.Runner,
	baseLog *logger.Logger,
	nodes repos.NodeRepo,
	aliases repos.NodeAliasRepo,
	canonical repos.CanonicalNodeRepo,
	checkpoints repos.CheckpointRepo,
) *Resolver {
	return &Resolver{
		txr:         txr,
		log:         baseLog.With("module", "identity"),
		nodes:       nodes,
		aliases:     aliases,
		canonical:   canonical,
		checkpoints: checkpoints,
	}
}

// cluster carries the running minimum under the representative order plus
// the member set.
type cluster struct {
	best    *types.GraphNode
	members []int64
}

// represents reports whether a should stand for the cluster over b: pinned
// tier first, then deepest level, then branch over leaf, then lowest id.
func represents(a, b *types.GraphNode, pinned Pinned) bool {
	pa, pb := pinned(a), pinned(b)
	if pa != pb {
		return pa
	}
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.Kind != b.Kind {
		return a.Kind == types.KindBranch
	}
	return a.PageID < b.PageID
}

type writeCursor struct {
	Stage string `json:"stage"`
	Batch int64  `json:"batch"`
}

// Resolve runs the clustering pass. Cluster state is holistic, so a restart
// recomputes the (pure, deterministic) grouping and resumes writing; the
// insert-if-absent writes make re-entry harmless and the final mapping
// identical.
func (r *Resolver) Resolve(ctx context.Context, normalize Normalize, pinned Pinned) (Result, error) {
	if normalize == nil {
		return Result{}, builderr.New(builderr.CodeValidation, "identity.Resolve", "normalize function required", nil)
	}
	if pinned == nil {
		pinned = func(n *types.GraphNode) bool { return n.Pinned }
	}
	return r.resolve(ctx, normalize, pinned, Options{})
}

// ResolveWithOptions is Resolve with explicit tuning.
func (r *Resolver) ResolveWithOptions(ctx context.Context, normalize Normalize, pinned Pinned, opts Options) (Result, error) {
	if normalize == nil {
		return Result{}, builderr.New(builderr.CodeValidation, "identity.Resolve", "normalize function required", nil)
	}
	if pinned == nil {
		pinned = func(n *types.GraphNode) bool { return n.Pinned }
	}
	return r.resolve(ctx, normalize, pinned, opts)
}

func (r *Resolver) resolve(ctx context.Context, normalize Normalize, pinned Pinned, opts Options) (Result, error) {
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = 100000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	dbc := dbctx.Context{Ctx: ctx}

	cp, err := r.checkpoints.Get(dbc, types.PhaseIdentityResolve)
	if err != nil {
		return Result{}, err
	}
	resumeBatch := int64(-1)
	if cp == nil || cp.Done {
		// Fresh rebuild: the mapping and canonical table are replaced
		// wholesale, never patched.
		if err := r.wipe(ctx, opts); err != nil {
			return Result{}, err
		}
		if err := r.checkpoints.Advance(dbc, types.PhaseIdentityResolve, writeCursor{Stage: "scan"}, -1); err != nil {
			return Result{}, err
		}
	} else {
		resumeBatch = cp.LastCommittedUnit
	}

	clusters, total, err := r.scanClusters(dbc, normalize, pinned, opts)
	if err != nil {
		return Result{}, err
	}

	res := Result{Nodes: total, Clusters: int64(len(clusters))}

	keys := make([]string, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		aliasRows []*types.NodeAlias
		canonRows []*types.CanonicalNode
		batchIdx  int64
	)
	flush := func(force bool) error {
		if !force && len(aliasRows) < opts.BatchSize {
			return nil
		}
		if len(aliasRows) == 0 && len(canonRows) == 0 {
			return nil
		}
		idx := batchIdx
		batchIdx++
		if idx <= resumeBatch {
			// Already committed before the restart; batches are formed
			// deterministically, skipping is safe.
			aliasRows = aliasRows[:0]
			canonRows = canonRows[:0]
			return nil
		}
		if err := r.commitMapping(ctx, aliasRows, canonRows, opts); err != nil {
			return err
		}
		if err := r.checkpoints.Advance(dbc, types.PhaseIdentityResolve, writeCursor{Stage: "write", Batch: idx}, idx); err != nil {
			return err
		}
		aliasRows = aliasRows[:0]
		canonRows = canonRows[:0]
		return nil
	}

	for _, key := range keys {
		c := clusters[key]
		rep := c.best
		res.Representatives++
		res.Collapsed += int64(len(c.members) - 1)

		repParent := rep.ParentID
		canonRows = append(canonRows, &types.CanonicalNode{
			PageID:       rep.PageID,
			Label:        rep.Label,
			NormLabel:    key,
			Kind:         rep.Kind,
			DomainRootID: rep.DomainRootID,
			Level:        rep.Level,
			ParentID:     repParent,
			Pinned:       rep.Pinned,
			ClusterSize:  len(c.members),
		})
		for _, member := range c.members {
			aliasRows = append(aliasRows, &types.NodeAlias{
				PageID:           member,
				RepresentativeID: rep.PageID,
			})
		}
		if err := flush(false); err != nil {
			return res, err
		}
	}
	if err := flush(true); err != nil {
		return res, err
	}

	if err := r.checkpoints.MarkDone(dbc, types.PhaseIdentityResolve); err != nil {
		return res, err
	}
	r.log.Info("Identity resolution complete",
		"nodes", res.Nodes,
		"clusters", res.Clusters,
		"collapsed", res.Collapsed,
	)
	return res, nil
}

// scanClusters streams the node table in page-id windows, grouping by
// normalized label with a streaming running-minimum per group key.
func (r *Resolver) scanClusters(dbc dbctx.Context, normalize Normalize, pinned Pinned, opts Options) (map[string]*cluster, int64, error) {
	maxID, err := r.nodes.MaxPageID(dbc)
	if err != nil {
		return nil, 0, err
	}
	clusters := make(map[string]*cluster)
	var total int64
	for low := int64(0); low <= maxID; low += opts.ScanWindow {
		rows, err := r.nodes.Range(dbc, low, low+opts.ScanWindow)
		if err != nil {
			return nil, 0, err
		}
		for _, n := range rows {
			total++
			key := normalize(n.Label)
			c, ok := clusters[key]
			if !ok {
				clusters[key] = &cluster{best: n, members: []int64{n.PageID}}
				continue
			}
			c.members = append(c.members, n.PageID)
			if represents(n, c.best, pinned) {
				c.best = n
			}
		}
	}
	return clusters, total, nil
}

func (r *Resolver) wipe(ctx context.Context, opts Options) error {
	return r.txr.InTx(ctx, func(txc dbctx.Context) error {
		if err := r.aliases.DeleteAll(txc); err != nil {
			return err
		}
		return r.canonical.DeleteAll(txc)
	})
}

func (r *Resolver) commitMapping(ctx context.Context, aliasRows []*types.NodeAlias, canonRows []*types.CanonicalNode, opts Options) error {
	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return builderr.Wrap(builderr.CodeRetryable, "identity.commitMapping", ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err := r.txr.InTx(ctx, func(txc dbctx.Context) error {
			if _, err := r.aliases.CreateIgnoreDuplicates(txc, aliasRows); err != nil {
				return err
			}
			_, err := r.canonical.CreateIgnoreDuplicates(txc, canonRows)
			return err
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if !builderr.IsRetryable(err) {
			return err
		}
		r.log.Warn("Mapping commit retry", "attempt", attempt+1, "error", err)
	}
	return builderr.Wrap(builderr.CodeRetryable, "identity.commitMapping retries exhausted", lastErr)
}
