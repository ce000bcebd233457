package graphbuild

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// StagedLinkRepo is the append-only merge staging relation. Concurrent
// windows write through CreateIgnoreDuplicates, so retried or duplicated
// batches are safe without locking.
type StagedLinkRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.StagedLink) (int, error)
	// StreamOrdered walks the whole relation ordered by (from_rep, to_rep,
	// origin) in keyset-paginated batches. All rows of one (from_rep, to_rep)
	// pair share a batch boundary only by accident; callers must carry open
	// groups across calls.
	StreamOrdered(dbc dbctx.Context, batchSize int, fn func(rows []types.StagedLink) error) error
	DeleteAll(dbc dbctx.Context) error
	Count(dbc dbctx.Context) (int64, error)
}

type stagedLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStagedLinkRepo(db *gorm.DB, baseLog *logger.Logger) StagedLinkRepo {
	return &stagedLinkRepo{db: db, log: baseLog.With("repo", "StagedLinkRepo")}
}

func (r *stagedLinkRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *stagedLinkRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.StagedLink) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_rep"}, {Name: "to_rep"}, {Name: "origin"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, storeerr.Map("staged.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *stagedLinkRepo) StreamOrdered(dbc dbctx.Context, batchSize int, fn func(rows []types.StagedLink) error) error {
	if batchSize <= 0 {
		batchSize = 5000
	}
	var (
		afterFrom   int64
		afterTo     int64
		afterOrigin string
		started     bool
	)
	for {
		q := r.handle(dbc).Model(&types.StagedLink{})
		if started {
			// Portable keyset cursor over the composite key.
			q = q.Where(
				"from_rep > ? OR (from_rep = ? AND (to_rep > ? OR (to_rep = ? AND origin > ?)))",
				afterFrom, afterFrom, afterTo, afterTo, afterOrigin,
			)
		}
		var batch []types.StagedLink
		if err := q.
			Order("from_rep ASC, to_rep ASC, origin ASC").
			Limit(batchSize).
			Find(&batch).Error; err != nil {
			return storeerr.Map("staged.StreamOrdered", err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		last := batch[len(batch)-1]
		afterFrom, afterTo, afterOrigin = last.FromRep, last.ToRep, last.Origin
		started = true
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (r *stagedLinkRepo) DeleteAll(dbc dbctx.Context) error {
	if err := r.handle(dbc).
		Where("from_rep IS NOT NULL").
		Delete(&types.StagedLink{}).Error; err != nil {
		return storeerr.Map("staged.DeleteAll", err)
	}
	return nil
}

func (r *stagedLinkRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.StagedLink{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("staged.Count", err)
	}
	return count, nil
}

// AssociativeLinkRepo is the final classified relationship table.
type AssociativeLinkRepo interface {
	CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.AssociativeLink) (int, error)
	GetAllOrdered(dbc dbctx.Context) ([]types.AssociativeLink, error)
	DeleteAll(dbc dbctx.Context) error
	Count(dbc dbctx.Context) (int64, error)
}

type associativeLinkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssociativeLinkRepo(db *gorm.DB, baseLog *logger.Logger) AssociativeLinkRepo {
	return &associativeLinkRepo{db: db, log: baseLog.With("repo", "AssociativeLinkRepo")}
}

func (r *associativeLinkRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *associativeLinkRepo) CreateIgnoreDuplicates(dbc dbctx.Context, rows []*types.AssociativeLink) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "from_rep"}, {Name: "to_rep"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, storeerr.Map("assoc.CreateIgnoreDuplicates", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (r *associativeLinkRepo) GetAllOrdered(dbc dbctx.Context) ([]types.AssociativeLink, error) {
	var out []types.AssociativeLink
	if err := r.handle(dbc).
		Order("from_rep ASC, to_rep ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("assoc.GetAllOrdered", err)
	}
	return out, nil
}

func (r *associativeLinkRepo) DeleteAll(dbc dbctx.Context) error {
	if err := r.handle(dbc).
		Where("from_rep IS NOT NULL").
		Delete(&types.AssociativeLink{}).Error; err != nil {
		return storeerr.Map("assoc.DeleteAll", err)
	}
	return nil
}

func (r *associativeLinkRepo) Count(dbc dbctx.Context) (int64, error) {
	var count int64
	if err := r.handle(dbc).Model(&types.AssociativeLink{}).Count(&count).Error; err != nil {
		return 0, storeerr.Map("assoc.Count", err)
	}
	return count, nil
}
