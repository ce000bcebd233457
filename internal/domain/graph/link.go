package graph

import "time"

const (
	// OriginPageLink tags edges from the inter-page link source.
	OriginPageLink = "pagelink"
	// OriginCrossLink tags edges from the second (cross-reference) source,
	// including output of the external alias-chain resolver.
	OriginCrossLink = "crosslink"
)

const (
	LinkTypePageLink  = "pagelink"
	LinkTypeCrossLink = "crosslink"
	LinkTypeBoth      = "both"
)

// StagedLink is the merge staging relation: resolved endpoint pairs tagged
// with their originating source, unique per (from, to, origin).
type StagedLink struct {
	FromRep int64  `gorm:"column:from_rep;primaryKey;autoIncrement:false" json:"from_rep"`
	ToRep   int64  `gorm:"column:to_rep;primaryKey;autoIncrement:false" json:"to_rep"`
	Origin  string `gorm:"column:origin;primaryKey" json:"origin"`
}

func (StagedLink) TableName() string { return "staged_link" }

// AssociativeLink is the final deduplicated relationship table: exactly one
// row per representative pair, classified by provenance. Rebuilt wholesale.
type AssociativeLink struct {
	FromRep  int64  `gorm:"column:from_rep;primaryKey;autoIncrement:false" json:"from_rep"`
	ToRep    int64  `gorm:"column:to_rep;primaryKey;autoIncrement:false" json:"to_rep"`
	LinkType string `gorm:"column:link_type;not null;index" json:"link_type"`
}

func (AssociativeLink) TableName() string { return "associative_link" }

// MergeDiagnostic captures per-window consolidation impact. Observational
// only; never consulted by the pipeline itself.
type MergeDiagnostic struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Origin      string    `gorm:"column:origin;not null;index" json:"origin"`
	WindowStart int64     `gorm:"column:window_start;not null" json:"window_start"`
	WindowEnd   int64     `gorm:"column:window_end;not null" json:"window_end"`
	RawEdges    int64     `gorm:"column:raw_edges;not null" json:"raw_edges"`
	Filtered    int64     `gorm:"column:filtered;not null" json:"filtered"`
	SelfLoops   int64     `gorm:"column:self_loops;not null" json:"self_loops"`
	Collapsed   int64     `gorm:"column:collapsed;not null" json:"collapsed"`
	Staged      int64     `gorm:"column:staged;not null" json:"staged"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MergeDiagnostic) TableName() string { return "merge_diagnostic" }
