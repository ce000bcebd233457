package graphbuild

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

// CheckpointRepo persists the resumable position of each phase. Advance is
// an upsert so a phase can be restarted from scratch or resumed without
// special-casing first use.
type CheckpointRepo interface {
	Get(dbc dbctx.Context, phase string) (*types.BuildCheckpoint, error)
	Advance(dbc dbctx.Context, phase string, cursor any, lastCommittedUnit int64) error
	MarkDone(dbc dbctx.Context, phase string) error
	Reset(dbc dbctx.Context, phase string) error
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	return &checkpointRepo{db: db, log: baseLog.With("repo", "CheckpointRepo")}
}

func (r *checkpointRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *checkpointRepo) Get(dbc dbctx.Context, phase string) (*types.BuildCheckpoint, error) {
	var cp types.BuildCheckpoint
	err := r.handle(dbc).
		Where("phase = ?", phase).
		Limit(1).
		Find(&cp).Error
	if err != nil {
		return nil, storeerr.Map("checkpoints.Get", err)
	}
	if cp.Phase == "" {
		return nil, nil
	}
	return &cp, nil
}

func (r *checkpointRepo) Advance(dbc dbctx.Context, phase string, cursor any, lastCommittedUnit int64) error {
	var raw datatypes.JSON
	if cursor != nil {
		b, err := json.Marshal(cursor)
		if err != nil {
			return storeerr.Map("checkpoints.Advance", err)
		}
		raw = datatypes.JSON(b)
	}
	row := &types.BuildCheckpoint{
		Phase:             phase,
		Cursor:            raw,
		LastCommittedUnit: lastCommittedUnit,
		Done:              false,
		UpdatedAt:         time.Now(),
	}
	err := r.handle(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phase"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor", "last_committed_unit", "done", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return storeerr.Map("checkpoints.Advance", err)
	}
	return nil
}

func (r *checkpointRepo) MarkDone(dbc dbctx.Context, phase string) error {
	err := r.handle(dbc).
		Model(&types.BuildCheckpoint{}).
		Where("phase = ?", phase).
		Updates(map[string]interface{}{
			"done":       true,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return storeerr.Map("checkpoints.MarkDone", err)
	}
	return nil
}

func (r *checkpointRepo) Reset(dbc dbctx.Context, phase string) error {
	if err := r.handle(dbc).
		Where("phase = ?", phase).
		Delete(&types.BuildCheckpoint{}).Error; err != nil {
		return storeerr.Map("checkpoints.Reset", err)
	}
	return nil
}
