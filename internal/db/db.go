package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/kurosaki/mentions/internal/config"
	"github.com/kurosaki/mentions/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the configured database and migrates the job tables.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.StoreDriver {
	case config.StorePostgres:
		dialector = postgres.Open(cfg.Database.DSN())
	case config.StoreSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("store driver %q has no database", cfg.StoreDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.StoreDriver, err)
	}
	if cfg.StoreDriver == config.StoreSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// a single writer avoids SQLITE_BUSY between concurrent jobs
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.Job{}, &models.CommentRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
