package identity_resolve

import (
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/config"
	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type Pipeline struct {
	db          *gorm.DB
	log         *logger.Logger
	cfg         config.IdentityConfig
	txr         tx.Runner
	nodes       repos.NodeRepo
	aliases     repos.NodeAliasRepo
	canonical   repos.CanonicalNodeRepo
	checkpoints repos.CheckpointRepo
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.IdentityConfig,
	txr tx.Runner,
	nodes repos.NodeRepo,
	aliases repos.NodeAliasRepo,
	canonical repos.CanonicalNodeRepo,
	checkpoints repos.CheckpointRepo,
) *Pipeline {
	return &Pipeline{
		db:          db,
		log:         baseLog.With("job", "identity_resolve"),
		cfg:         cfg,
		txr:         txr,
		nodes:       nodes,
		aliases:     aliases,
		canonical:   canonical,
		checkpoints: checkpoints,
	}
}

func (p *Pipeline) Type() string { return "identity_resolve" }
