// Package storage implements persistence for Beacon using GORM.
// Two backends are provided behind the same Store type: SQLite
// (default, zero-config, via the pure-Go glebarez driver with WAL) and
// PostgreSQL (pgx under the hood) for deployments with an external database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup or delete targets a missing row.
var ErrNotFound = errors.New("not found")

// Config selects and configures the storage backend.
type Config struct {
	Driver string // "sqlite" (default) or "postgres".

	// SQLite.
	Path        string // Database file path. Empty = "beacon.db" in the data dir.
	JournalMode string // "wal" (default), "delete", "truncate".

	// PostgreSQL.
	DSN string
}

// Store is the persistence root. Repositories share one gorm.DB.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger

	schedule    *ScheduleRepository
	suggestions *SuggestionRepository
	runs        *RunRepository
}

// Open connects to the configured backend and prepares repositories.
// Call Migrate before first use.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	var err error

	switch driver {
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "beacon.db"
		}
		if dir := filepath.Dir(path); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("creating database directory: %w", mkErr)
			}
		}
		journal := cfg.JournalMode
		if journal == "" {
			journal = "wal"
		}
		dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)", path, journal)
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a DSN")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	s.schedule = NewScheduleRepository(db)
	s.suggestions = NewSuggestionRepository(db)
	s.runs = NewRunRepository(db)
	return s, nil
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&ScheduleModel{},
		&SuggestionModel{},
		&RunRecordModel{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	s.logger.Debug("storage migrated", slog.String("driver", s.driver))
	return nil
}

// Schedule returns the execution schedule repository.
func (s *Store) Schedule() *ScheduleRepository { return s.schedule }

// Suggestions returns the suggestion repository.
func (s *Store) Suggestions() *SuggestionRepository { return s.suggestions }

// Runs returns the run record repository.
func (s *Store) Runs() *RunRepository { return s.runs }

// Driver returns the storage driver name.
func (s *Store) Driver() string { return s.driver }

// Ping verifies database connectivity. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
