// Package memrepo provides in-memory repository implementations for module
// unit tests. Semantics mirror the SQL-backed repositories: insert-if-absent
// writes report only genuinely new rows, checkpoint upserts replace, ordered
// streams sort by the same keys the database would.
package memrepo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
)

// Runner satisfies tx.Runner without a database: fn runs immediately and its
// writes are not rolled back on error. FailNext injects errors for retry
// paths; each injected failure decrements the counter.
type Runner struct {
	mu       sync.Mutex
	FailNext int
	FailWith error
	Calls    int
}

func (r *Runner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.Calls++
	if r.FailNext > 0 && r.FailWith != nil {
		r.FailNext--
		err := r.FailWith
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return fn(dbctx.Context{Ctx: ctx})
}

// Nodes implements repos.NodeRepo over a map keyed by page id.
type Nodes struct {
	mu   sync.Mutex
	rows map[int64]types.GraphNode
}

func NewNodes() *Nodes { return &Nodes{rows: make(map[int64]types.GraphNode)} }

func (s *Nodes) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.GraphNode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		if _, ok := s.rows[r.PageID]; ok {
			continue
		}
		s.rows[r.PageID] = *r
		created++
	}
	return created, nil
}

func (s *Nodes) ExistingIDs(dbc dbctx.Context, ids []int64) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]bool)
	for _, id := range ids {
		if _, ok := s.rows[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Nodes) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GraphNode
	for _, id := range ids {
		if n, ok := s.rows[id]; ok {
			cp := n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Nodes) FrontierAtLevel(dbc dbctx.Context, level int) ([]*types.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GraphNode
	for _, n := range s.rows {
		if n.Level == level && n.Kind == types.KindBranch {
			cp := n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (s *Nodes) CountAtLevel(dbc dbctx.Context, level int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.Level == level {
			n++
		}
	}
	return n, nil
}

func (s *Nodes) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *Nodes) MaxLevel(dbc dbctx.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, row := range s.rows {
		if row.Level > max {
			max = row.Level
		}
	}
	return max, nil
}

func (s *Nodes) Range(dbc dbctx.Context, low, high int64) ([]*types.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GraphNode
	for _, n := range s.rows {
		if n.PageID >= low && n.PageID < high {
			cp := n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (s *Nodes) MaxPageID(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for id := range s.rows {
		if id > max {
			max = id
		}
	}
	return max, nil
}

// Get returns a copy of the stored node, nil when absent. Test helper, not
// part of the repository interface.
func (s *Nodes) Get(id int64) *types.GraphNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.rows[id]; ok {
		cp := n
		return &cp
	}
	return nil
}

// Checkpoints implements repos.CheckpointRepo over a map keyed by phase.
type Checkpoints struct {
	mu   sync.Mutex
	rows map[string]types.BuildCheckpoint
}

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{rows: make(map[string]types.BuildCheckpoint)}
}

func (s *Checkpoints) Get(dbc dbctx.Context, phase string) (*types.BuildCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.rows[phase]; ok {
		out := cp
		return &out, nil
	}
	return nil, nil
}

func (s *Checkpoints) Advance(dbc dbctx.Context, phase string, cursor any, lastCommittedUnit int64) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[phase] = types.BuildCheckpoint{
		Phase:             phase,
		Cursor:            datatypes.JSON(raw),
		LastCommittedUnit: lastCommittedUnit,
		Done:              false,
		UpdatedAt:         time.Now(),
	}
	return nil
}

func (s *Checkpoints) MarkDone(dbc dbctx.Context, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.rows[phase]
	cp.Phase = phase
	cp.Done = true
	cp.UpdatedAt = time.Now()
	s.rows[phase] = cp
	return nil
}

func (s *Checkpoints) Reset(dbc dbctx.Context, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, phase)
	return nil
}

// Aliases implements repos.NodeAliasRepo.
type Aliases struct {
	mu   sync.Mutex
	rows map[int64]int64
}

func NewAliases() *Aliases { return &Aliases{rows: make(map[int64]int64)} }

func (s *Aliases) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.NodeAlias) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		if _, ok := s.rows[r.PageID]; ok {
			continue
		}
		s.rows[r.PageID] = r.RepresentativeID
		created++
	}
	return created, nil
}

func (s *Aliases) ResolveBatch(dbc dbctx.Context, ids []int64) (map[int64]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64)
	for _, id := range ids {
		if rep, ok := s.rows[id]; ok {
			out[id] = rep
		}
	}
	return out, nil
}

func (s *Aliases) DeleteAll(dbc dbctx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[int64]int64)
	return nil
}

func (s *Aliases) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// All returns a copy of the whole mapping. Test helper.
func (s *Aliases) All() map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]int64, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

// Canonical implements repos.CanonicalNodeRepo.
type Canonical struct {
	mu   sync.Mutex
	rows map[int64]types.CanonicalNode
}

func NewCanonical() *Canonical {
	return &Canonical{rows: make(map[int64]types.CanonicalNode)}
}

func (s *Canonical) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.CanonicalNode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		if _, ok := s.rows[r.PageID]; ok {
			continue
		}
		s.rows[r.PageID] = *r
		created++
	}
	return created, nil
}

func (s *Canonical) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.CanonicalNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.CanonicalNode
	for _, id := range ids {
		if n, ok := s.rows[id]; ok {
			cp := n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Canonical) DeleteAll(dbc dbctx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[int64]types.CanonicalNode)
	return nil
}

func (s *Canonical) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Get returns a copy of the stored representative, nil when absent. Test
// helper.
func (s *Canonical) Get(id int64) *types.CanonicalNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.rows[id]; ok {
		cp := n
		return &cp
	}
	return nil
}

type stagedKey struct {
	from, to int64
	origin   string
}

// Staged implements repos.StagedLinkRepo.
type Staged struct {
	mu   sync.Mutex
	rows map[stagedKey]bool
}

func NewStaged() *Staged { return &Staged{rows: make(map[stagedKey]bool)} }

func (s *Staged) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.StagedLink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		k := stagedKey{r.FromRep, r.ToRep, r.Origin}
		if s.rows[k] {
			continue
		}
		s.rows[k] = true
		created++
	}
	return created, nil
}

func (s *Staged) StreamOrdered(dbc dbctx.Context, batchSize int, fn func(rows []types.StagedLink) error) error {
	s.mu.Lock()
	all := make([]types.StagedLink, 0, len(s.rows))
	for k := range s.rows {
		all = append(all, types.StagedLink{FromRep: k.from, ToRep: k.to, Origin: k.origin})
	}
	s.mu.Unlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].FromRep != all[j].FromRep {
			return all[i].FromRep < all[j].FromRep
		}
		if all[i].ToRep != all[j].ToRep {
			return all[i].ToRep < all[j].ToRep
		}
		return all[i].Origin < all[j].Origin
	})
	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Staged) DeleteAll(dbc dbctx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[stagedKey]bool)
	return nil
}

func (s *Staged) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Assoc implements repos.AssociativeLinkRepo.
type Assoc struct {
	mu   sync.Mutex
	rows map[[2]int64]string
}

func NewAssoc() *Assoc { return &Assoc{rows: make(map[[2]int64]string)} }

func (s *Assoc) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.AssociativeLink) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		k := [2]int64{r.FromRep, r.ToRep}
		if _, ok := s.rows[k]; ok {
			continue
		}
		s.rows[k] = r.LinkType
		created++
	}
	return created, nil
}

func (s *Assoc) GetAllOrdered(dbc dbctx.Context) ([]types.AssociativeLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AssociativeLink, 0, len(s.rows))
	for k, lt := range s.rows {
		out = append(out, types.AssociativeLink{FromRep: k[0], ToRep: k[1], LinkType: lt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromRep != out[j].FromRep {
			return out[i].FromRep < out[j].FromRep
		}
		return out[i].ToRep < out[j].ToRep
	})
	return out, nil
}

func (s *Assoc) DeleteAll(dbc dbctx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[[2]int64]string)
	return nil
}

func (s *Assoc) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Diags implements repos.MergeDiagnosticRepo.
type Diags struct {
	mu   sync.Mutex
	Rows []types.MergeDiagnostic
}

func NewDiags() *Diags { return &Diags{} }

func (s *Diags) Create(dbc dbctx.Context, row *types.MergeDiagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows = append(s.Rows, *row)
	return nil
}

func (s *Diags) DeleteAll(dbc dbctx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Rows = nil
	return nil
}

// CycleReports implements repos.CycleReportRepo.
type CycleReports struct {
	mu   sync.Mutex
	Rows []types.CycleReport
}

func NewCycleReports() *CycleReports { return &CycleReports{} }

func (s *CycleReports) Create(dbc dbctx.Context, rows []*types.CycleReport) ([]*types.CycleReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.Rows = append(s.Rows, *r)
	}
	return rows, nil
}

func (s *CycleReports) GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.CycleReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(pageIDs))
	for _, id := range pageIDs {
		want[id] = true
	}
	var out []*types.CycleReport
	for i := range s.Rows {
		if want[s.Rows[i].PageID] {
			cp := s.Rows[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *CycleReports) Count(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.Rows)), nil
}

// Discarded implements repos.DiscardedParentRepo.
type Discarded struct {
	mu   sync.Mutex
	rows map[[2]int64]types.DiscardedParent
}

func NewDiscarded() *Discarded {
	return &Discarded{rows: make(map[[2]int64]types.DiscardedParent)}
}

func (s *Discarded) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.DiscardedParent) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := 0
	for _, r := range rows {
		k := [2]int64{r.PageID, r.ParentID}
		if _, ok := s.rows[k]; ok {
			continue
		}
		s.rows[k] = *r
		created++
	}
	return created, nil
}

func (s *Discarded) GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.DiscardedParent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(pageIDs))
	for _, id := range pageIDs {
		want[id] = true
	}
	var out []*types.DiscardedParent
	for _, r := range s.rows {
		if want[r.PageID] {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].ParentID < out[j].ParentID
	})
	return out, nil
}

// All returns every retained edge sorted by (page, parent). Test helper.
func (s *Discarded) All() []types.DiscardedParent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.DiscardedParent, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PageID != out[j].PageID {
			return out[i].PageID < out[j].PageID
		}
		return out[i].ParentID < out[j].ParentID
	})
	return out
}

// Source implements source.GraphSource over slices.
type Source struct {
	mu         sync.Mutex
	Pages      []types.SourcePage
	Members    []types.SourceCategoryLink
	PageLinks  []types.SourcePageLink
	CrossLinks []types.SourceCrossLink
	Redirects  []types.SourceRedirect
}

func NewSource() *Source { return &Source{} }

func (s *Source) PagesByIDs(dbc dbctx.Context, ids []int64) ([]*types.SourcePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*types.SourcePage
	for i := range s.Pages {
		if want[s.Pages[i].PageID] {
			cp := s.Pages[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Source) PagesByLabels(dbc dbctx.Context, labels []string, namespace int) ([]*types.SourcePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var out []*types.SourcePage
	for i := range s.Pages {
		if want[s.Pages[i].Label] && s.Pages[i].Namespace == namespace {
			cp := s.Pages[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Source) MembersOfCategories(dbc dbctx.Context, categoryLabels []string) ([]types.SourceCategoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(categoryLabels))
	for _, l := range categoryLabels {
		want[l] = true
	}
	var out []types.SourceCategoryLink
	for _, m := range s.Members {
		if want[m.CategoryLabel] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Source) PageLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourcePageLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SourcePageLink
	for _, e := range s.PageLinks {
		if e.FromID >= low && e.FromID < high {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Source) CrossLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourceCrossLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SourceCrossLink
	for _, e := range s.CrossLinks {
		if e.FromID >= low && e.FromID < high {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Source) MaxPageLinkFromID(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, e := range s.PageLinks {
		if e.FromID > max {
			max = e.FromID
		}
	}
	return max, nil
}

func (s *Source) MaxCrossLinkFromID(dbc dbctx.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, e := range s.CrossLinks {
		if e.FromID > max {
			max = e.FromID
		}
	}
	return max, nil
}

func (s *Source) RedirectsRange(dbc dbctx.Context, low, high int64) ([]types.SourceRedirect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SourceRedirect
	for _, e := range s.Redirects {
		if e.FromID >= low && e.FromID < high {
			out = append(out, e)
		}
	}
	return out, nil
}
