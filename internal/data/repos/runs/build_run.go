package runs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atlaskb/atlas-backend/internal/data/storeerr"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type BuildRunRepo interface {
	Create(dbc dbctx.Context, runs []*types.BuildRun) ([]*types.BuildRun, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.BuildRun, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.BuildRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	ExistsRunnable(dbc dbctx.Context, jobType string) (bool, error)
}

type buildRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBuildRunRepo(db *gorm.DB, baseLog *logger.Logger) BuildRunRepo {
	return &buildRunRepo{db: db, log: baseLog.With("repo", "BuildRunRepo")}
}

func (r *buildRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *buildRunRepo) Create(dbc dbctx.Context, runs []*types.BuildRun) ([]*types.BuildRun, error) {
	if len(runs) == 0 {
		return []*types.BuildRun{}, nil
	}
	if err := r.handle(dbc).Create(&runs).Error; err != nil {
		return nil, storeerr.Map("runs.Create", err)
	}
	return runs, nil
}

func (r *buildRunRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.BuildRun, error) {
	var out []*types.BuildRun
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, storeerr.Map("runs.GetByIDs", err)
	}
	return out, nil
}

// ClaimNextRunnable claims the oldest queued, retriable-failed, or
// stale-running build run under FOR UPDATE SKIP LOCKED, so concurrent
// workers never double-claim.
func (r *buildRunRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.BuildRun, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.BuildRun
	err := r.handle(dbc).Transaction(func(txx *gorm.DB) error {
		var run types.BuildRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, "queued", "failed", maxAttempts, retryCutoff, "running", staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.BuildRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       "running",
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, storeerr.Map("runs.ClaimNextRunnable", err)
	}
	return claimed, nil
}

func (r *buildRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	err := r.handle(dbc).
		Model(&types.BuildRun{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return storeerr.Map("runs.UpdateFields", err)
	}
	return nil
}

func (r *buildRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	q := r.handle(dbc).
		Model(&types.BuildRun{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return false, storeerr.Map("runs.UpdateFieldsUnlessStatus", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *buildRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	err := r.handle(dbc).
		Model(&types.BuildRun{}).
		Where("id = ? AND status = ?", id, "running").
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
	if err != nil {
		return storeerr.Map("runs.Heartbeat", err)
	}
	return nil
}

func (r *buildRunRepo) ExistsRunnable(dbc dbctx.Context, jobType string) (bool, error) {
	if jobType == "" {
		return false, nil
	}
	var count int64
	err := r.handle(dbc).
		Model(&types.BuildRun{}).
		Where("job_type = ? AND status IN ?", jobType, []string{"queued", "running"}).
		Count(&count).Error
	if err != nil {
		return false, storeerr.Map("runs.ExistsRunnable", err)
	}
	return count > 0, nil
}
