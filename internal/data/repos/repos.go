package repos

import (
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/data/repos/graphbuild"
	"github.com/atlaskb/atlas-backend/internal/data/repos/runs"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type NodeRepo = graphbuild.NodeRepo
type CanonicalNodeRepo = graphbuild.CanonicalNodeRepo
type NodeAliasRepo = graphbuild.NodeAliasRepo
type StagedLinkRepo = graphbuild.StagedLinkRepo
type AssociativeLinkRepo = graphbuild.AssociativeLinkRepo
type CheckpointRepo = graphbuild.CheckpointRepo
type CycleReportRepo = graphbuild.CycleReportRepo
type MergeDiagnosticRepo = graphbuild.MergeDiagnosticRepo
type DiscardedParentRepo = graphbuild.DiscardedParentRepo

type BuildRunRepo = runs.BuildRunRepo

func NewNodeRepo(db *gorm.DB, baseLog *logger.Logger) NodeRepo {
	return graphbuild.NewNodeRepo(db, baseLog)
}
func NewCanonicalNodeRepo(db *gorm.DB, baseLog *logger.Logger) CanonicalNodeRepo {
	return graphbuild.NewCanonicalNodeRepo(db, baseLog)
}
func NewNodeAliasRepo(db *gorm.DB, baseLog *logger.Logger) NodeAliasRepo {
	return graphbuild.NewNodeAliasRepo(db, baseLog)
}
func NewStagedLinkRepo(db *gorm.DB, baseLog *logger.Logger) StagedLinkRepo {
	return graphbuild.NewStagedLinkRepo(db, baseLog)
}
func NewAssociativeLinkRepo(db *gorm.DB, baseLog *logger.Logger) AssociativeLinkRepo {
	return graphbuild.NewAssociativeLinkRepo(db, baseLog)
}
func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return graphbuild.NewCheckpointRepo(db, baseLog)
}
func NewCycleReportRepo(db *gorm.DB, baseLog *logger.Logger) CycleReportRepo {
	return graphbuild.NewCycleReportRepo(db, baseLog)
}
func NewMergeDiagnosticRepo(db *gorm.DB, baseLog *logger.Logger) MergeDiagnosticRepo {
	return graphbuild.NewMergeDiagnosticRepo(db, baseLog)
}
func NewDiscardedParentRepo(db *gorm.DB, baseLog *logger.Logger) DiscardedParentRepo {
	return graphbuild.NewDiscardedParentRepo(db, baseLog)
}
func NewBuildRunRepo(db *gorm.DB, baseLog *logger.Logger) BuildRunRepo {
	return runs.NewBuildRunRepo(db, baseLog)
}
