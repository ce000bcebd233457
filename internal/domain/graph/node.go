package graph

import (
	"time"
)

const (
	// KindBranch marks category pages that can have children.
	KindBranch = "branch"
	// KindLeaf marks article pages; leaves are never expanded.
	KindLeaf = "leaf"
)

// GraphNode is one materialized page in the hierarchy. The (level, parent_id)
// pair is assigned at first discovery and never overwritten.
type GraphNode struct {
	PageID       int64     `gorm:"column:page_id;primaryKey;autoIncrement:false" json:"page_id"`
	Label        string    `gorm:"column:label;not null;index" json:"label"`
	Kind         string    `gorm:"column:kind;not null;index" json:"kind"`
	DomainRootID int64     `gorm:"column:domain_root_id;not null;index" json:"domain_root_id"`
	Level        int       `gorm:"column:level;not null;index" json:"level"`
	ParentID     *int64    `gorm:"column:parent_id;index" json:"parent_id,omitempty"`
	Pinned       bool      `gorm:"column:pinned;not null;default:false" json:"pinned"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (GraphNode) TableName() string { return "graph_node" }

// CanonicalNode holds exactly the representative rows after identity
// resolution. The original graph_node rows are never mutated.
type CanonicalNode struct {
	PageID       int64     `gorm:"column:page_id;primaryKey;autoIncrement:false" json:"page_id"`
	Label        string    `gorm:"column:label;not null" json:"label"`
	NormLabel    string    `gorm:"column:norm_label;not null;index" json:"norm_label"`
	Kind         string    `gorm:"column:kind;not null;index" json:"kind"`
	DomainRootID int64     `gorm:"column:domain_root_id;not null;index" json:"domain_root_id"`
	Level        int       `gorm:"column:level;not null" json:"level"`
	ParentID     *int64    `gorm:"column:parent_id" json:"parent_id,omitempty"`
	Pinned       bool      `gorm:"column:pinned;not null;default:false" json:"pinned"`
	ClusterSize  int       `gorm:"column:cluster_size;not null;default:1" json:"cluster_size"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (CanonicalNode) TableName() string { return "canonical_node" }

// NodeAlias is the total page -> representative mapping. Representatives
// map to themselves.
type NodeAlias struct {
	PageID           int64 `gorm:"column:page_id;primaryKey;autoIncrement:false" json:"page_id"`
	RepresentativeID int64 `gorm:"column:representative_id;not null;index" json:"representative_id"`
}

func (NodeAlias) TableName() string { return "node_alias" }

// DiscardedParent records a same-universe parent edge that lost the
// first-discovery race. Only written when retention is enabled.
type DiscardedParent struct {
	PageID   int64 `gorm:"column:page_id;primaryKey;autoIncrement:false" json:"page_id"`
	ParentID int64 `gorm:"column:parent_id;primaryKey;autoIncrement:false" json:"parent_id"`
	Level    int   `gorm:"column:level;not null" json:"level"`
}

func (DiscardedParent) TableName() string { return "discarded_parent" }
