package db

import (
	"fmt"
	"time"

	"notesync/internal/config"
	"notesync/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the configured SQL driver and migrates the schema.
func NewGorm(cfg *config.Config, log *zap.Logger) (*GormDB, error) {
	var dialector gorm.Dialector
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DatabaseURL())
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("driver %q has no SQL database", cfg.StoreDriver)
	}

	gdb, err := Open(dialector, log, cfg.LogLevel == "debug")
	if err != nil {
		return nil, err
	}

	if cfg.StoreDriver == config.DriverPostgres {
		if err := gdb.configurePool(); err != nil {
			return nil, err
		}
	}

	log.Info("✓ Database connected and migrated", zap.String("driver", cfg.StoreDriver))
	return gdb, nil
}

// newLogger sends gorm's SQL log through zap, one entry per statement.
func newLogger(log *zap.Logger, verbose bool) logger.Interface {
	level := logger.Warn
	if verbose {
		level = logger.Info
	}
	return logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}

// Open connects through any dialector and runs AutoMigrate. Tests use it with
// an in-memory sqlite dialector.
func Open(dialector gorm.Dialector, log *zap.Logger, verbose bool) (*GormDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         newLogger(log, verbose),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Note{},
		&models.NoteVersion{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &GormDB{db}, nil
}

func (db *GormDB) configurePool() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
