package jobs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/jobs/runtime"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
	"github.com/atlaskb/atlas-backend/internal/services"
)

// Worker claims runnable build runs and dispatches them to registered
// pipeline handlers. One run executes at a time per worker; horizontal
// scaling happens by running more workers, the SKIP LOCKED claim keeps
// them from double-executing.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.BuildRunRepo
	registry *runtime.Registry
	notify   services.BuildNotifier
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.BuildRunRepo, registry *runtime.Registry, notify services.BuildNotifier) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "BuildWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		const maxAttempts = 5
		retryDelay := 30 * time.Second
		staleRunning := 5 * time.Minute
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, maxAttempts, retryDelay, staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if run == nil {
					continue
				}
				h, ok := w.registry.Get(run.JobType)
				if !ok {
					w.log.Warn("No handler registered for job_type", "job_type", run.JobType, "run_id", run.ID)
					jc := runtime.NewContext(ctx, w.db, run, w.repo, w.notify)
					jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", run.JobType))
					continue
				}
				runCtx, span := otel.Tracer("jobs").Start(ctx, "job."+run.JobType,
					trace.WithAttributes(
						attribute.String("run_id", run.ID.String()),
						attribute.String("job_type", run.JobType),
					))
				if sc := trace.SpanContextFromContext(runCtx); sc.HasTraceID() {
					w.log.Info("Claimed run", "run_id", run.ID, "job_type", run.JobType, "trace_id", sc.TraceID().String())
				}
				jc := runtime.NewContext(runCtx, w.db, run, w.repo, w.notify)
				func() {
					defer span.End()
					defer func() {
						if r := recover(); r != nil {
							w.log.Error("Run handler panic", "run_id", run.ID, "job_type", run.JobType, "panic", r)
							jc.Fail("panic", fmt.Errorf("panic: %v", r))
						}
					}()
					if err := h.Run(jc); err != nil {
						w.log.Error("Run handler returned error", "run_id", run.ID, "job_type", run.JobType, "error", err)
					}
				}()
			}
		}
	}()
}
