package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlaskb/atlas-backend/internal/config"
	"github.com/atlaskb/atlas-backend/internal/data/db"
	"github.com/atlaskb/atlas-backend/internal/data/repos"
	"github.com/atlaskb/atlas-backend/internal/data/source"
	"github.com/atlaskb/atlas-backend/internal/data/tx"
	"github.com/atlaskb/atlas-backend/internal/jobs"
	"github.com/atlaskb/atlas-backend/internal/jobs/pipeline/assoc_merge"
	"github.com/atlaskb/atlas-backend/internal/jobs/pipeline/hierarchy_build"
	"github.com/atlaskb/atlas-backend/internal/jobs/pipeline/identity_resolve"
	"github.com/atlaskb/atlas-backend/internal/jobs/runtime"
	"github.com/atlaskb/atlas-backend/internal/observability"
	"github.com/atlaskb/atlas-backend/internal/platform/envutil"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
	"github.com/atlaskb/atlas-backend/internal/services"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Config load failed", "error", err)
	}

	// Tracing
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "atlas-backend",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", ""),
	})
	if shutdownOtel != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(sctx)
		}()
	}

	// Database
	dbService, err := db.New(log)
	if err != nil {
		log.Fatal("Database init failed", "error", err)
	}
	if err := dbService.AutoMigrateOwned(); err != nil {
		log.Fatal("Auto migration failed", "error", err)
	}
	gdb := dbService.DB()
	txr := tx.NewGormRunner(gdb)

	// Repos
	log.Info("Setting up repos...")
	nodeRepo := repos.NewNodeRepo(gdb, log)
	canonicalRepo := repos.NewCanonicalNodeRepo(gdb, log)
	aliasRepo := repos.NewNodeAliasRepo(gdb, log)
	stagedRepo := repos.NewStagedLinkRepo(gdb, log)
	assocRepo := repos.NewAssociativeLinkRepo(gdb, log)
	checkpointRepo := repos.NewCheckpointRepo(gdb, log)
	cycleRepo := repos.NewCycleReportRepo(gdb, log)
	diagRepo := repos.NewMergeDiagnosticRepo(gdb, log)
	discardedRepo := repos.NewDiscardedParentRepo(gdb, log)
	runRepo := repos.NewBuildRunRepo(gdb, log)
	graphSource := source.New(gdb, log)

	// Notifier
	notify, err := services.NewRedisNotifier(log)
	if err != nil {
		log.Warn("Redis notifier unavailable, events disabled", "error", err)
		notify = services.NewNopNotifier()
	}

	// Pipelines
	log.Info("Registering pipeline handlers...")
	registry := runtime.NewRegistry()
	mustRegister := func(h runtime.Handler) {
		if err := registry.Register(h); err != nil {
			log.Fatal("Handler registration failed", "error", err)
		}
	}
	mustRegister(hierarchy_build.New(gdb, log, cfg.Hierarchy, txr, graphSource, nodeRepo, checkpointRepo, discardedRepo, cycleRepo))
	mustRegister(identity_resolve.New(gdb, log, cfg.Identity, txr, nodeRepo, aliasRepo, canonicalRepo, checkpointRepo))
	mustRegister(assoc_merge.New(gdb, log, cfg.Merge, txr, graphSource, aliasRepo, stagedRepo, assocRepo, diagRepo, checkpointRepo))

	// Worker
	worker := jobs.NewWorker(gdb, log, runRepo, registry, notify)
	worker.Start(ctx)
	log.Info("Build worker started")

	<-ctx.Done()
	log.Info("Shutting down")
}
