package hierarchy

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// CycleScanner walks parent chains looking for a node whose ancestor chain
// returns to itself. Single-parent construction makes true cycles
// structurally near-impossible; the scan guards against source anomalies.
// Findings are recorded and never block the build.
type CycleScanner struct {
	log     *logger.Logger
	nodes   repos.NodeRepo
	reports repos.CycleReportRepo
}

func NewCycleScanner(baseLog *logger.Logger, nodes repos.NodeRepo, reports repos.CycleReportRepo) *CycleScanner {
	return &CycleScanner{
		log:     baseLog.With("module", "hierarchy_cycles"),
		nodes:   nodes,
		reports: reports,
	}
}

// Scan is an explicit bounded iterative walk: per-node visited set and a
// hop ceiling, never recursion. Returns the number of cycles recorded.
func (s *CycleScanner) Scan(ctx context.Context, hopLimit int) (int, error) {
	if hopLimit <= 0 {
		hopLimit = 64
	}
	dbc := dbctx.Context{Ctx: ctx}

	parents, err := s.loadParentPointers(dbc)
	if err != nil {
		return 0, err
	}

	var found []*types.CycleReport
	for id := range parents {
		path := walkChain(id, parents, hopLimit)
		if path == nil {
			continue
		}
		raw, _ := json.Marshal(path)
		found = append(found, &types.CycleReport{
			PageID:  id,
			PathLen: len(path),
			Path:    datatypes.JSON(raw),
		})
		s.log.Warn("Parent chain cycle detected", "page_id", id, "path_len", len(path))
	}
	if len(found) == 0 {
		return 0, nil
	}
	if _, err := s.reports.Create(dbc, found); err != nil {
		return 0, err
	}
	return len(found), nil
}

// loadParentPointers pulls the whole parent mapping in page-id ranges so the
// scan never holds full node rows, only two ids per node.
func (s *CycleScanner) loadParentPointers(dbc dbctx.Context) (map[int64]int64, error) {
	maxID, err := s.nodes.MaxPageID(dbc)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int64)
	const window = int64(100000)
	for low := int64(0); low <= maxID; low += window {
		rows, err := s.nodes.Range(dbc, low, low+window)
		if err != nil {
			return nil, err
		}
		for _, n := range rows {
			if n.ParentID != nil {
				out[n.PageID] = *n.ParentID
			}
		}
	}
	return out, nil
}

// walkChain follows parent pointers from start. It returns the traversed
// path when the chain returns to start within the hop ceiling, nil
// otherwise.
func walkChain(start int64, parents map[int64]int64, hopLimit int) []int64 {
	visited := map[int64]bool{start: true}
	path := []int64{start}
	cur := start
	for hops := 0; hops < hopLimit; hops++ {
		next, ok := parents[cur]
		if !ok {
			return nil // reached a root
		}
		path = append(path, next)
		if next == start {
			return path
		}
		if visited[next] {
			// Chain joined a loop that does not include start; the loop
			// members report it themselves.
			return nil
		}
		visited[next] = true
		cur = next
	}
	return nil
}
