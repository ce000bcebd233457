package graphbuild

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// NodeRepo persists materialized hierarchy nodes. Inserts are
// insert-if-absent: a page already present, at any level, keeps its
// first-discovery (level, parent) pair.
type NodeRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.GraphNode) (int, error)
	ExistingIDs(dbc dbctx.Context, ids []int64) (map[int64]bool, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.GraphNode, error)

	FrontierAtLevel(dbc dbctx.Context, level int) ([]*types.GraphNode, error)
	CountAtLevel(dbc dbctx.Context, level int) (int64, error)
	Count(dbc dbctx.Context) (int64, error)
	MaxLevel(dbc dbctx.Context) (int, error)

	Range(dbc dbctx.Context, low, high int64) ([]*types.GraphNode, error)
	MaxPageID(dbc dbctx.Context) (int64, error)
}

type nodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return &nodeRepo{db: db, log: baseLog.With("repo", "NodeRepo")}
}

func (r *nodeRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *nodeRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.GraphNode) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "page_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, storeerr.Map("nodes.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *nodeRepo) ExistingIDs(dbc dbctx.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var found []int64
	if err := r.handle(dbc).
		Model(&types.GraphNode{}).
		Where("page_id IN ?", ids).
		Pluck("page_id", &found).Error; err != nil {
		return nil, storeerr.Map("nodes.ExistingIDs", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *nodeRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.GraphNode, error) {
	var out []*types.GraphNode
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).Where("page_id IN ?", ids).Find(&out).Error; err != nil {
		return nil, storeerr.Map("nodes.GetByIDs", err)
	}
	return out, nil
}

func (r *nodeRepo) FrontierAtLevel(dbc dbctx.Context, level int) ([]*types.GraphNode, error) {
	var out []*types.GraphNode
	if err := r.handle(dbc).
		Where("level = ? AND kind = ?", level, types.KindBranch).
		Order("page_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("nodes.FrontierAtLevel", err)
	}
	return out, nil
}

func (r *nodeRepo) CountAtLevel(dbc dbctx.Context, level int) (int64, error) {
	var count int64
	if err := r.handle(dbc).
		Model(&types.GraphNode{}).
		Where("level = ?", level).
		Count(&count).Error; err != nil {
		return 0, storeerr.Map("nodes.CountAtLevel", err)
	}
	return count, nil
}

func (r *nodeRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.GraphNode{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("nodes.Count", err)
	}
	return count, nil
}

func (r *nodeRepo) MaxLevel(dbc dbctx.Context) (int, error) {
	var max *int
	if err := r.handle(dbc).
		Model(&types.GraphNode{}).
		Select("MAX(level)").
		Scan(&max).Error; err != nil {
		return -1, storeerr.Map("nodes.MaxLevel", err)
	}
	if max == nil {
		return -1, nil
	}
	return *max, nil
}

func (r *nodeRepo) Range(dbc dbctx.Context, low, high int64) ([]*types.GraphNode, error) {
	var out []*types.GraphNode
	if err := r.handle(dbc).
		Where("page_id >= ? AND page_id < ?", low, high).
		Order("page_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("nodes.Range", err)
	}
	return out, nil
}

func (r *nodeRepo) MaxPageID(dbc dbctx.Context) (int64, error) {
	var max *int64
	if err := r.handle(dbc).
		Model(&types.GraphNode{}).
		Select("MAX(page_id)").
		Scan(&max).Error; err != nil {
		return 0, storeerr.Map("nodes.MaxPageID", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}
