package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"author-merge/config"
	"author-merge/models"
)

// Open stellt die Datenbankverbindung für den konfigurierten Treiber her.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// SQLite kennt kein Row-Locking; Schreiber über eine Verbindung serialisieren.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established", zap.String("driver", cfg.DBDriver))
	return db, nil
}

// AutoMigrate legt alle Tabellen des Services an bzw. aktualisiert sie.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.MasterAuthor{},
		&models.AuthorRecord{},
		&models.AuthorAlias{},
		&models.Publication{},
		&models.Authorship{},
		&models.MatchCandidate{},
		&models.MasterAuthorEntry{},
		&models.LedgerExport{},
		&models.LedgerExportedEntry{},
	); err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return nil
}
