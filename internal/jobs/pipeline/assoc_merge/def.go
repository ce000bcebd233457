package assoc_merge

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
	cfg         config.MergeConfig
	txr         tx.Runner
	src         source.GraphSource
	aliases     repos.NodeAliasRepo
	staged      repos.StagedLinkRepo
	assocLinks  repos.AssociativeLinkRepo
	diags       repos.MergeDiagnosticRepo
	checkpoints repos.CheckpointRepo
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.MergeConfig,
	txr tx.Runner,
	src source.GraphSource,
	aliases repos.NodeAliasRepo,
	staged repos.StagedLinkRepo,
	assocLinks repos.AssociativeLinkRepo,
	diags repos.MergeDiagnosticRepo,
	checkpoints repos.CheckpointRepo,
) *Pipeline {
	return &Pipeline{
		db:          db,
		log:         baseLog.With("job", "assoc_merge"),
		cfg:         cfg,
		txr:         txr,
		src:         src,
		aliases:     aliases,
		staged:      staged,
		assocLinks:  assocLinks,
		diags:       diags,
		checkpoints: checkpoints,
	}
}

func (p *Pipeline) Type() string { return "assoc_merge" }
