// File: connection.go
package postgres

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/postgres/models"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Open connects to the database and migrates the schema. dialect is
// "postgres" (dsn is a libpq connection string or URL) or "sqlite" (dsn is a
// file path or ":memory:").
func Open(dialect, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: error connecting to %s database: %v", sirius.ErrUnavailable, dialect, err)
	}

	if dialect == DialectSQLite {
		// A single connection serializes writers instead of failing with SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sirius.ErrUnavailable, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	slog.Info("Connected to database", "dialect", dialect)
	return db, nil
}

// Migrate creates or updates the snapshot and event tables.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Snapshot{},
		&models.SnapshotService{},
		&models.SnapshotVulnerability{},
		&models.Event{},
	)
	if err != nil {
		return fmt.Errorf("error migrating database schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
