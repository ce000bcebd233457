package graphbuild

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// CycleReportRepo records parent-chain anomalies found by the cycle scan.
type CycleReportRepo interface {
	Create(dbc dbctx.Context, rows []*types.CycleReport) ([]*types.CycleReport, error)
	GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.CycleReport, error)
	Count(dbc dbctx.Context) (int64, error)
}

type cycleReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCycleReportRepo(db *gorm.DB, baseLog *logger.Logger) CycleReportRepo {
	return &cycleReportRepo{db: db, log: baseLog.With("repo", "CycleReportRepo")}
}

func (r *cycleReportRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *cycleReportRepo) Create(dbc dbctx.Context, rows []*types.CycleReport) ([]*types.CycleReport, error) {
	if len(rows) == 0 {
		return []*types.CycleReport{}, nil
	}
	if err := r.handle(dbc).Create(&rows).Error; err != nil {
		return nil, storeerr.Map("cycles.Create", err)
	}
	return rows, nil
}

func (r *cycleReportRepo) GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.CycleReport, error) {
	var out []*types.CycleReport
	if len(pageIDs) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).Where("page_id IN ?", pageIDs).Find(&out).Error; err != nil {
		return nil, storeerr.Map("cycles.GetByPageIDs", err)
	}
	return out, nil
}

func (r *cycleReportRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.CycleReport{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("cycles.Count", err)
	}
	return count, nil
}

// MergeDiagnosticRepo stores per-window consolidation impact counters.
type MergeDiagnosticRepo interface {
	Create(dbc dbctx.Context, row *types.MergeDiagnostic) error
	DeleteAll(dbc dbctx.Context) error
}

type mergeDiagnosticRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMergeDiagnosticRepo(db *gorm.DB, baseLog *logger.Logger) MergeDiagnosticRepo {
	return &mergeDiagnosticRepo{db: db, log: baseLog.With("repo", "MergeDiagnosticRepo")}
}

func (r *mergeDiagnosticRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *mergeDiagnosticRepo) Create(dbc dbctx.Context, row *types.MergeDiagnostic) error {
	if row == nil {
		return nil
	}
	if err := r.handle(dbc).Create(row).Error; err != nil {
		return storeerr.Map("mergediag.Create", err)
	}
	return nil
}

func (r *mergeDiagnosticRepo) DeleteAll(dbc dbctx.Context) error {
	if err := r.handle(dbc).
		Where("id IS NOT NULL").
		Delete(&types.MergeDiagnostic{}).Error; err != nil {
		return storeerr.Map("mergediag.DeleteAll", err)
	}
	return nil
}

// DiscardedParentRepo retains parent edges that lost the first-discovery
// race, when retention is enabled.
type DiscardedParentRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.DiscardedParent) (int, error)
	GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.DiscardedParent, error)
}

type discardedParentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDiscardedParentRepo(db *gorm.DB, baseLog *logger.Logger) DiscardedParentRepo {
	return &discardedParentRepo{db: db, log: baseLog.With("repo", "DiscardedParentRepo")}
}

func (r *discardedParentRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *discardedParentRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.DiscardedParent) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "page_id"}, {Name: "parent_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, storeerr.Map("discarded.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *discardedParentRepo) GetByPageIDs(dbc dbctx.Context, pageIDs []int64) ([]*types.DiscardedParent, error) {
	var out []*types.DiscardedParent
	if len(pageIDs) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).Where("page_id IN ?", pageIDs).Find(&out).Error; err != nil {
		return nil, storeerr.Map("discarded.GetByPageIDs", err)
	}
	return out, nil
}
