package hierarchy_build

import (
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/config"
	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/source"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type Pipeline struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.HierarchyConfig
	txr         tx.Runner
	src         source.GraphSource
	nodes       repos.NodeRepo
	checkpoints repos.CheckpointRepo
	discarded   repos.DiscardedParentRepo
	reports     repos.CycleReportRepo
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.HierarchyConfig,
	txr tx.Runner,
	src source.GraphSource,
	nodes repos.NodeRepo,
	checkpoints repos.CheckpointRepo,
	discarded repos.DiscardedParentRepo,
	reports repos.CycleReportRepo,
) *Pipeline {
	return &Pipeline{
		db:          db,
		log:         baseLog.With("job", "hierarchy_build"),
		cfg:         cfg,
		txr:         txr,
		src:         src,
		nodes:       nodes,
		checkpoints: checkpoints,
		discarded:   discarded,
		reports:     reports,
	}
}

func (p *Pipeline) Type() string { return "hierarchy_build" }
