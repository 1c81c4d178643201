// Package database provides database initialization and connection management.
package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pairreview/pairreview/internal/model"
	"github.com/pairreview/pairreview/pkg/errors"
	"github.com/pairreview/pairreview/pkg/logger"
)

// TargetSchemaVersion is the schema version produced by the full ladder.
// The version is persisted in the SQLite user_version pragma.
const TargetSchemaVersion = 24

// migrationStep is one forward-only schema change. Steps must be idempotent
// against partial application: re-running a step on an already-migrated
// database is a no-op.
type migrationStep struct {
	version int
	name    string
	run     func(tx *gorm.DB) error
}

// Migrate brings the database to TargetSchemaVersion.
//
// A fresh database is created directly at the target schema via auto-migration
// and stamped. An existing database walks the ladder from its persisted
// version, one step at a time, each step in its own transaction followed by a
// version stamp.
func Migrate(handle *gorm.DB) error {
	current, err := schemaVersion(handle)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBMigration, "failed to read schema version", err)
	}

	if current > TargetSchemaVersion {
		return errors.New(errors.ErrCodeDBMigration,
			fmt.Sprintf("database schema version %d is newer than supported version %d", current, TargetSchemaVersion))
	}

	if current == 0 && !handle.Migrator().HasTable("reviews") {
		// Fresh install: create everything at the target schema in one shot
		logger.Info("Fresh database, creating schema", zap.Int("version", TargetSchemaVersion))
		if err := handle.AutoMigrate(model.AllModels()...); err != nil {
			return errors.Wrap(errors.ErrCodeDBMigration, "failed to create schema", err)
		}
		return stampVersion(handle, TargetSchemaVersion)
	}

	if current == TargetSchemaVersion {
		return nil
	}

	logger.Info("Running schema migrations",
		zap.Int("from", current),
		zap.Int("to", TargetSchemaVersion),
	)

	for _, step := range migrations {
		if step.version <= current {
			continue
		}
		logger.Info("Applying migration", zap.Int("version", step.version), zap.String("name", step.name))
		if err := handle.Transaction(step.run); err != nil {
			return errors.Wrap(errors.ErrCodeDBMigration,
				fmt.Sprintf("migration %d (%s) failed", step.version, step.name), err)
		}
		if err := stampVersion(handle, step.version); err != nil {
			return err
		}
	}

	// Reconcile any drift between the ladder result and the model definitions
	// (indexes and column defaults that predate the ladder).
	if err := handle.AutoMigrate(model.AllModels()...); err != nil {
		return errors.Wrap(errors.ErrCodeDBMigration, "failed to reconcile schema with models", err)
	}

	logger.Info("Schema migrations completed", zap.Int("version", TargetSchemaVersion))
	return nil
}

// schemaVersion reads the persisted schema version
func schemaVersion(handle *gorm.DB) (int, error) {
	var version int
	if err := handle.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return 0, err
	}
	return version, nil
}

// stampVersion persists the schema version
func stampVersion(handle *gorm.DB, version int) error {
	if err := handle.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)).Error; err != nil {
		return errors.Wrap(errors.ErrCodeDBMigration, "failed to stamp schema version", err)
	}
	return nil
}

// hasColumn checks column existence without relying on gorm model metadata
func hasColumn(tx *gorm.DB, table, column string) (bool, error) {
	var count int
	err := tx.Raw(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&count).Error
	return count > 0, err
}

// addColumn adds a column if it does not already exist
func addColumn(tx *gorm.DB, table, column, definition string) error {
	exists, err := hasColumn(tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)).Error
}

// migrations is the forward-only ladder. Never reorder or renumber entries;
// append only.
var migrations = []migrationStep{
	{1, "create reviews", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME,
			updated_at DATETIME,
			repository TEXT,
			pr_number INTEGER,
			status TEXT NOT NULL DEFAULT 'draft'
		)`).Error
	}},
	{2, "create comments", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME,
			updated_at DATETIME,
			review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			author TEXT,
			file TEXT NOT NULL,
			line_start INTEGER,
			body TEXT,
			status TEXT NOT NULL DEFAULT 'active'
		)`).Error
	}},
	{3, "create analysis_runs", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS analysis_runs (
			id TEXT PRIMARY KEY,
			created_at DATETIME,
			updated_at DATETIME,
			review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
			provider TEXT,
			model TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			started_at DATETIME,
			completed_at DATETIME,
			summary TEXT,
			total_suggestions INTEGER DEFAULT 0
		)`).Error
	}},
	{4, "add local review columns", func(tx *gorm.DB) error {
		if err := addColumn(tx, "reviews", "review_type", "TEXT NOT NULL DEFAULT 'pr'"); err != nil {
			return err
		}
		if err := addColumn(tx, "reviews", "local_path", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "reviews", "local_head_sha", "TEXT")
	}},
	{5, "create local_diffs", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS local_diffs (
			review_id INTEGER PRIMARY KEY REFERENCES reviews(id) ON DELETE CASCADE,
			diff_text TEXT,
			stats TEXT,
			digest TEXT NOT NULL,
			captured_at DATETIME
		)`).Error
	}},
	{6, "add comment side", func(tx *gorm.DB) error {
		return addColumn(tx, "comments", "side", "TEXT NOT NULL DEFAULT 'RIGHT'")
	}},
	{7, "add comment range and file level", func(tx *gorm.DB) error {
		if err := addColumn(tx, "comments", "line_end", "INTEGER"); err != nil {
			return err
		}
		return addColumn(tx, "comments", "is_file_level", "INTEGER NOT NULL DEFAULT 0")
	}},
	{8, "add run head sha", func(tx *gorm.DB) error {
		return addColumn(tx, "analysis_runs", "head_sha", "TEXT")
	}},
	{9, "add comment ai provenance", func(tx *gorm.DB) error {
		if err := addColumn(tx, "comments", "ai_run_id", "TEXT REFERENCES analysis_runs(id)"); err != nil {
			return err
		}
		if err := addColumn(tx, "comments", "ai_level", "INTEGER"); err != nil {
			return err
		}
		if err := addColumn(tx, "comments", "type", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "comments", "title", "TEXT")
	}},
	{10, "add adoption chain", func(tx *gorm.DB) error {
		if err := addColumn(tx, "comments", "parent_id", "INTEGER REFERENCES comments(id)"); err != nil {
			return err
		}
		return addColumn(tx, "comments", "adopted_as_id", "INTEGER REFERENCES comments(id)")
	}},
	{11, "add review instructions and labels", func(tx *gorm.DB) error {
		if err := addColumn(tx, "reviews", "custom_instructions", "TEXT"); err != nil {
			return err
		}
		if err := addColumn(tx, "reviews", "name", "TEXT"); err != nil {
			return err
		}
		if err := addColumn(tx, "reviews", "summary", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "reviews", "submitted_at", "DATETIME")
	}},
	{12, "add run instructions", func(tx *gorm.DB) error {
		if err := addColumn(tx, "analysis_runs", "custom_instructions", "TEXT"); err != nil {
			return err
		}
		if err := addColumn(tx, "analysis_runs", "repo_instructions", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "analysis_runs", "request_instructions", "TEXT")
	}},
	{13, "add partial unique review indexes", func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_pr_repo_number
			ON reviews(pr_number, repository) WHERE review_type = 'pr'`).Error; err != nil {
			return err
		}
		return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_local_path_head
			ON reviews(local_path, local_head_sha) WHERE review_type = 'local'`).Error
	}},
	{14, "add run tree and config type", func(tx *gorm.DB) error {
		if err := addColumn(tx, "analysis_runs", "parent_run_id", "TEXT REFERENCES analysis_runs(id)"); err != nil {
			return err
		}
		if err := addColumn(tx, "analysis_runs", "config_type", "TEXT NOT NULL DEFAULT 'single'"); err != nil {
			return err
		}
		return addColumn(tx, "analysis_runs", "tier", "TEXT")
	}},
	{15, "add voice provenance to comments", func(tx *gorm.DB) error {
		if err := addColumn(tx, "comments", "voice_id", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "comments", "is_raw", "INTEGER NOT NULL DEFAULT 0")
	}},
	{16, "create councils", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS councils (
			id TEXT PRIMARY KEY,
			created_at DATETIME,
			updated_at DATETIME,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'council',
			config TEXT NOT NULL
		)`).Error
	}},
	{17, "add council mru", func(tx *gorm.DB) error {
		return addColumn(tx, "councils", "last_used_at", "DATETIME")
	}},
	{18, "add run levels snapshot", func(tx *gorm.DB) error {
		return addColumn(tx, "analysis_runs", "levels_config", "TEXT")
	}},
	{19, "create context_files", func(tx *gorm.DB) error {
		return tx.Exec(`CREATE TABLE IF NOT EXISTS context_files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME,
			review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
			file TEXT NOT NULL,
			line_start INTEGER NOT NULL,
			line_end INTEGER NOT NULL,
			label TEXT
		)`).Error
	}},
	{20, "add suggestion confidence and reasoning", func(tx *gorm.DB) error {
		if err := addColumn(tx, "comments", "ai_confidence", "REAL"); err != nil {
			return err
		}
		if err := addColumn(tx, "comments", "reasoning", "TEXT"); err != nil {
			return err
		}
		return addColumn(tx, "comments", "diff_position", "INTEGER")
	}},
	{21, "create chat tables", func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			created_at DATETIME,
			updated_at DATETIME,
			review_id INTEGER NOT NULL REFERENCES reviews(id) ON DELETE CASCADE,
			comment_id INTEGER NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
			provider TEXT,
			status TEXT NOT NULL DEFAULT 'active'
		)`).Error; err != nil {
			return err
		}
		return tx.Exec(`CREATE TABLE IF NOT EXISTS chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL
		)`).Error
	}},
	{22, "add run progress totals", func(tx *gorm.DB) error {
		if err := addColumn(tx, "analysis_runs", "files_analyzed", "INTEGER NOT NULL DEFAULT 0"); err != nil {
			return err
		}
		return addColumn(tx, "analysis_runs", "error_message", "TEXT")
	}},
	{23, "add comment commit sha", func(tx *gorm.DB) error {
		return addColumn(tx, "comments", "commit_sha", "TEXT")
	}},
	{24, "add lookup indexes", func(tx *gorm.DB) error {
		stmts := []string{
			`CREATE INDEX IF NOT EXISTS idx_comments_review_id ON comments(review_id)`,
			`CREATE INDEX IF NOT EXISTS idx_comments_ai_run_id ON comments(ai_run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_analysis_runs_review_id ON analysis_runs(review_id)`,
			`CREATE INDEX IF NOT EXISTS idx_analysis_runs_parent_run_id ON analysis_runs(parent_run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_reviews_updated_at ON reviews(updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_context_files_review_id ON context_files(review_id)`,
		}
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	}},
}
