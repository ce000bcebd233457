package source

import (
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// GraphSource is read-only access to the raw encyclopedia extract: node
// metadata, membership edges, link edges and alias/redirect edges.
type GraphSource interface {
	PagesByIDs(dbc dbctx.Context, ids []int64) ([]*types.SourcePage, error)
	PagesByLabels(dbc dbctx.Context, labels []string, namespace int) ([]*types.SourcePage, error)
	MembersOfCategories(dbc dbctx.Context, categoryLabels []string) ([]types.SourceCategoryLink, error)

	PageLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourcePageLink, error)
	CrossLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourceCrossLink, error)
	MaxPageLinkFromID(dbc dbctx.Context) (int64, error)
	MaxCrossLinkFromID(dbc dbctx.Context) (int64, error)

	RedirectsRange(dbc dbctx.Context, low, high int64) ([]types.SourceRedirect, error)
}

type graphSource struct {
	db  *gorm.DB
	log *logger.Logger
}

func New(db *gorm.DB, baseLog *logger.Logger) GraphSource {
	return &graphSource{db: db, log: baseLog.With("source", "GraphSource")}
}

func (s *graphSource) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = s.db
	}
	return t.WithContext(dbc.Ctx)
}

func (s *graphSource) PagesByIDs(dbc dbctx.Context, ids []int64) ([]*types.SourcePage, error) {
	var out []*types.SourcePage
	if len(ids) == 0 {
		return out, nil
	}
	if err := s.handle(dbc).Where("page_id IN ?", ids).Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.PagesByIDs", err)
	}
	return out, nil
}

func (s *graphSource) PagesByLabels(dbc dbctx.Context, labels []string, namespace int) ([]*types.SourcePage, error) {
	var out []*types.SourcePage
	if len(labels) == 0 {
		return out, nil
	}
	if err := s.handle(dbc).
		Where("label IN ? AND namespace = ?", labels, namespace).
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.PagesByLabels", err)
	}
	return out, nil
}

func (s *graphSource) MembersOfCategories(dbc dbctx.Context, categoryLabels []string) ([]types.SourceCategoryLink, error) {
	var out []types.SourceCategoryLink
	if len(categoryLabels) == 0 {
		return out, nil
	}
	if err := s.handle(dbc).
		Where("category_label IN ?", categoryLabels).
		Order("member_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.MembersOfCategories", err)
	}
	return out, nil
}

func (s *graphSource) PageLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourcePageLink, error) {
	var out []types.SourcePageLink
	if err := s.handle(dbc).
		Where("from_id >= ? AND from_id < ?", low, high).
		Order("from_id ASC, to_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.PageLinksRange", err)
	}
	return out, nil
}

func (s *graphSource) CrossLinksRange(dbc dbctx.Context, low, high int64) ([]types.SourceCrossLink, error) {
	var out []types.SourceCrossLink
	if err := s.handle(dbc).
		Where("from_id >= ? AND from_id < ?", low, high).
		Order("from_id ASC, to_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.CrossLinksRange", err)
	}
	return out, nil
}

func (s *graphSource) MaxPageLinkFromID(dbc dbctx.Context) (int64, error) {
	var max *int64
	if err := s.handle(dbc).
		Model(&types.SourcePageLink{}).
		Select("MAX(from_id)").
		Scan(&max).Error; err != nil {
		return 0, storeerr.Map("source.MaxPageLinkFromID", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *graphSource) MaxCrossLinkFromID(dbc dbctx.Context) (int64, error) {
	var max *int64
	if err := s.handle(dbc).
		Model(&types.SourceCrossLink{}).
		Select("MAX(from_id)").
		Scan(&max).Error; err != nil {
		return 0, storeerr.Map("source.MaxCrossLinkFromID", err)
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (s *graphSource) RedirectsRange(dbc dbctx.Context, low, high int64) ([]types.SourceRedirect, error) {
	var out []types.SourceRedirect
	if err := s.handle(dbc).
		Where("from_id >= ? AND from_id < ?", low, high).
		Order("from_id ASC").
		Find(&out).Error; err != nil {
		return nil, storeerr.Map("source.RedirectsRange", err)
	}
	return out, nil
}
