package graphbuild

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// CanonicalNodeRepo holds the representative-only node table produced by
// identity resolution. Rebuilt wholesale per resolution run.
type CanonicalNodeRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.CanonicalNode) (int, error)
	GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.CanonicalNode, error)
	DeleteAll(dbc dbctx.Context) error
	Count(dbc dbctx.Context) (int64, error)
}

type canonicalNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCanonicalNodeRepo(db *gorm.DB, baseLog *logger.Logger) CanonicalNodeRepo {
	return &canonicalNodeRepo{db: db, log: baseLog.With("repo", "CanonicalNodeRepo")}
}

func (r *canonicalNodeRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *canonicalNodeRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.CanonicalNode) (int, error) {
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
		return 0, storeerr.Map("canonical.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *canonicalNodeRepo) GetByIDs(dbc dbctx.Context, ids []int64) ([]*types.CanonicalNode, error) {
	var out []*types.CanonicalNode
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).Where("page_id IN ?", ids).Find(&out).Error; err != nil {
		return nil, storeerr.Map("canonical.GetByIDs", err)
	}
	return out, nil
}

func (r *canonicalNodeRepo) DeleteAll(dbc dbctx.Context) error {
	if err := r.handle(dbc).
		Where("page_id IS NOT NULL").
		Delete(&types.CanonicalNode{}).Error; err != nil {
		return storeerr.Map("canonical.DeleteAll", err)
	}
	return nil
}

func (r *canonicalNodeRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.CanonicalNode{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("canonical.Count", err)
	}
	return count, nil
}

// NodeAliasRepo holds the total page -> representative mapping.
type NodeAliasRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.NodeAlias) (int, error)
	ResolveBatch(dbc dbctx.Context, ids []int64) (map[int64]int64, error)
	DeleteAll(dbc dbctx.Context) error
	Count(dbc dbctx.Context) (int64, error)
}

type nodeAliasRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNodeAliasRepo(db *gorm.DB, baseLog *logger.Logger) NodeAliasRepo {
	return &nodeAliasRepo{db: db, log: baseLog.With("repo", "NodeAliasRepo")}
}

func (r *nodeAliasRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *nodeAliasRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.NodeAlias) (int, error) {
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
		return 0, storeerr.Map("aliases.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *nodeAliasRepo) ResolveBatch(dbc dbctx.Context, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []types.NodeAlias
	if err := r.handle(dbc).Where("page_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, storeerr.Map("aliases.ResolveBatch", err)
	}
	for _, row := range rows {
		out[row.PageID] = row.RepresentativeID
	}
	return out, nil
}

func (r *nodeAliasRepo) DeleteAll(dbc dbctx.Context) error {
	if err := r.handle(dbc).
		Where("page_id IS NOT NULL").
		Delete(&types.NodeAlias{}).Error; err != nil {
		return storeerr.Map("aliases.DeleteAll", err)
	}
	return nil
}

func (r *nodeAliasRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.NodeAlias{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("aliases.Count", err)
	}
	return count, nil
}
