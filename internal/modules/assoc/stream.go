package assoc

import (
	"github.com/atlaskb/atlas-backend/internal/data/source"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
)

// Edge is one raw associative edge before endpoint resolution.
type Edge struct {
	From int64
	To   int64
}

// EdgeStream is a key-range view over one raw edge source. The merger
// consumes streams in fixed, non-overlapping from-id windows and never
// materializes a full source. The external alias-chain resolver feeds the
// merger through this same interface.
type EdgeStream interface {
	Origin() string
	MaxKey(dbc dbctx.Context) (int64, error)
	Range(dbc dbctx.Context, low, high int64) ([]Edge, error)
}

type pageLinkStream struct {
	src source.GraphSource
}

// NewPageLinkStream exposes the inter-page link relation as an EdgeStream.
func NewPageLinkStream(src source.GraphSource) EdgeStream {
	return &pageLinkStream{src: src}
}

func (s *pageLinkStream) Origin() string { return types.OriginPageLink }

func (s *pageLinkStream) MaxKey(dbc dbctx.Context) (int64, error) {
	return s.src.MaxPageLinkFromID(dbc)
}

func (s *pageLinkStream) Range(dbc dbctx.Context, low, high int64) ([]Edge, error) {
	rows, err := s.src.PageLinksRange(dbc, low, high)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(rows))
	for _, row := range rows {
		out = append(out, Edge{From: row.FromID, To: row.ToID})
	}
	return out, nil
}

type crossLinkStream struct {
	src source.GraphSource
}

// NewCrossLinkStream exposes the cross-reference relation as an EdgeStream.
func NewCrossLinkStream(src source.GraphSource) EdgeStream {
	return &crossLinkStream{src: src}
}

func (s *crossLinkStream) Origin() string { return types.OriginCrossLink }

func (s *crossLinkStream) MaxKey(dbc dbctx.Context) (int64, error) {
	return s.src.MaxCrossLinkFromID(dbc)
}

func (s *crossLinkStream) Range(dbc dbctx.Context, low, high int64) ([]Edge, error) {
	rows, err := s.src.CrossLinksRange(dbc, low, high)
	if err != nil {
		return nil, err
	}
	out := make([]Edge, 0, len(rows))
	for _, row := range rows {
		out = append(out, Edge{From: row.FromID, To: row.ToID})
	}
	return out, nil
}
