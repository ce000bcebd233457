package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/envutil"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the result store. Postgres is the default; a sqlite file is
// supported for small local extracts (ATLAS_DB_DRIVER=sqlite).
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DBService")

	driver := strings.ToLower(envutil.String("ATLAS_DB_DRIVER", "postgres"))
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := envutil.String("ATLAS_SQLITE_PATH", "atlas.db")
		db, err = gorm.Open(sqlite.Open(path), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	default:
		host := envutil.String("POSTGRES_HOST", "localhost")
		port := envutil.String("POSTGRES_PORT", "5432")
		user := envutil.String("POSTGRES_USER", "postgres")
		password := envutil.String("POSTGRES_PASSWORD", "")
		name := envutil.String("POSTGRES_NAME", "atlas")
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			DisableForeignKeyConstraintWhenMigrating: true,
		})
	}
	if err != nil {
		serviceLog.Error("Failed to connect to database", "driver", driver, "error", err)
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver != "sqlite" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
			return nil, fmt.Errorf("enable uuid-ossp: %w", err)
		}
	}

	return &Service{db: db, log: serviceLog}, nil
}

// AutoMigrateOwned migrates result tables only. The raw source relations
// are externally owned and never touched.
func (s *Service) AutoMigrateOwned() error {
	s.log.Info("Auto migrating result tables...")
	err := s.db.AutoMigrate(
		&types.GraphNode{},
		&types.CanonicalNode{},
		&types.NodeAlias{},
		&types.DiscardedParent{},
		&types.StagedLink{},
		&types.AssociativeLink{},
		&types.MergeDiagnostic{},
		&types.BuildCheckpoint{},
		&types.CycleReport{},
		&types.BuildRun{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for result tables", "error", err)
		return err
	}
	return nil
}

func (s *Service) DB() *gorm.DB {
	return s.db
}
