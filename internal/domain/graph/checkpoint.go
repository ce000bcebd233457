package graph

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PhaseHierarchyBuild  = "hierarchy_build"
	PhaseIdentityResolve = "identity_resolve"
	PhaseAssocMerge      = "assoc_merge"
)

// BuildCheckpoint is the resumable position within a phase: created at phase
// start, advanced after each committed unit, consulted on restart. One row
// per phase (merge keeps one per source, keyed "assoc_merge/<origin>").
type BuildCheckpoint struct {
	Phase             string         `gorm:"column:phase;primaryKey" json:"phase"`
	Cursor            datatypes.JSON `gorm:"column:cursor;type:jsonb" json:"cursor"`
	LastCommittedUnit int64          `gorm:"column:last_committed_unit;not null;default:-1" json:"last_committed_unit"`
	Done              bool           `gorm:"column:done;not null;default:false" json:"done"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (BuildCheckpoint) TableName() string { return "build_checkpoint" }

// CycleReport flags a node whose parent chain returns to itself. Diagnostic
// only; recorded for inspection, never blocks completion.
type CycleReport struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PageID    int64          `gorm:"column:page_id;not null;index" json:"page_id"`
	PathLen   int            `gorm:"column:path_len;not null" json:"path_len"`
	Path      datatypes.JSON `gorm:"column:path;type:jsonb" json:"path"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (CycleReport) TableName() string { return "cycle_report" }
