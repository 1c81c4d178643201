// Package database provides database initialization and connection management.
// It uses GORM with SQLite for embedded database storage, with driver abstraction
// for future extensibility to support other relational databases.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/logger"
)

var (
	db   *gorm.DB
	once sync.Once
)

// DefaultPath returns the store file location under the per-user config directory.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, consts.ServiceName, consts.ServiceName+".db")
}

// Init initializes the database connection and runs migrations.
// This function is safe to call multiple times; only the first call will take effect.
func Init() error {
	return InitWithPath(DefaultPath())
}

// InitWithPath initializes the database with a custom path.
// This function is primarily for testing purposes.
func InitWithPath(dbPath string) error {
	var initErr error
	once.Do(func() {
		initErr = initDB(dbPath)
	})
	return initErr
}

// initDB creates the database connection and runs migrations
func initDB(dbPath string) error {
	logger.Info("Initializing database", zap.String("path", dbPath))

	if !isMemoryDSN(dbPath) {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("Failed to create database directory", zap.Error(err), zap.String("dir", dir))
			return errors.Wrap(errors.ErrCodeDBConnection, "failed to create database directory", err)
		}
	}

	handle, err := open(dbPath)
	if err != nil {
		if !isCorruptionError(err) || isMemoryDSN(dbPath) {
			return err
		}
		// The file is not recoverable. Move it aside and start from a fresh
		// schema; this is a reset, not a recovery.
		asidePath, renameErr := renameAside(dbPath)
		if renameErr != nil {
			logger.Error("Failed to move corrupted database aside", zap.Error(renameErr))
			return err
		}
		logger.Warn("Corrupted database detected, recreating from scratch",
			zap.String("moved_to", asidePath))
		handle, err = open(dbPath)
		if err != nil {
			return err
		}
	}

	db = handle
	logger.Info("Database initialized successfully")
	return nil
}

// open connects, verifies integrity, and migrates to the target schema
func open(dbPath string) (*gorm.DB, error) {
	driver := &SQLiteDriver{}

	dialector, err := driver.Open(dbPath)
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	handle, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Error("Failed to connect to database", zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to connect to database", err)
	}

	// Apply pre-migration configurations: connection pool, WAL mode, etc. (foreign keys disabled)
	if err := driver.PreMigrationConfig(handle); err != nil {
		logger.Error("Failed to apply pre-migration config", zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to apply pre-migration config", err)
	}

	if err := checkIntegrity(handle); err != nil {
		closeHandle(handle)
		return nil, err
	}

	// Run migrations (foreign keys disabled to avoid orphan record failures)
	if err := Migrate(handle); err != nil {
		closeHandle(handle)
		return nil, err
	}

	// Apply post-migration configurations: enable foreign key constraints
	if err := driver.PostMigrationConfig(handle); err != nil {
		logger.Error("Failed to apply post-migration config", zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to apply post-migration config", err)
	}

	return handle, nil
}

// checkIntegrity runs a quick corruption probe on the open handle
func checkIntegrity(handle *gorm.DB) error {
	var result string
	if err := handle.Raw("PRAGMA quick_check(1)").Scan(&result).Error; err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "integrity check failed", err)
	}
	if result != "ok" {
		return errors.New(errors.ErrCodeDBConnection, fmt.Sprintf("database corrupted: %s", result))
	}
	return nil
}

// isCorruptionError reports whether the error signals an unreadable database file
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "not a database") ||
		strings.Contains(msg, "database corrupted")
}

// renameAside moves the corrupted store file out of the way
func renameAside(dbPath string) (string, error) {
	asidePath := fmt.Sprintf("%s.corrupt-%s", dbPath, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(dbPath, asidePath); err != nil {
		return "", err
	}
	// WAL sidecar files belong to the corrupted store
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
	return asidePath, nil
}

func isMemoryDSN(dbPath string) bool {
	return strings.Contains(dbPath, ":memory:") || strings.Contains(dbPath, "mode=memory")
}

func closeHandle(handle *gorm.DB) {
	if sqlDB, err := handle.DB(); err == nil {
		sqlDB.Close()
	}
}

// Get returns the database instance.
// Panics if the database hasn't been initialized.
func Get() *gorm.DB {
	if db == nil {
		panic("database not initialized, call Init first")
	}
	return db
}

// Close closes the database connection
func Close() error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	logger.Info("Closing database connection")
	return sqlDB.Close()
}

// ResetForTesting resets the database state for testing purposes.
// This allows re-initialization of the database in tests.
// WARNING: Only use this function in tests!
func ResetForTesting() {
	if db != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		db = nil
	}
	once = sync.Once{}
}

// Transaction executes a function within a database transaction
func Transaction(fn func(tx *gorm.DB) error) error {
	return Get().Transaction(fn)
}

// HealthCheck performs a simple health check on the database
func HealthCheck() error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBConnection, "failed to get database connection", err)
	}
	return sqlDB.Ping()
}
