package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlx handle together with the driver selection so
// repositories can be constructed explicitly instead of sharing a global
type DB struct {
	*sqlx.DB
	Driver string // "sqlite" or "postgres"
}

// Connect opens the configured database. For SQLite the schema is
// bootstrapped in place; PostgreSQL deployments are expected to run
// migrations out of band.
func Connect(dbType, databaseURL, dataDir string) (*DB, error) {
	switch dbType {
	case "postgres":
		db, err := sqlx.Connect("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return &DB{DB: db, Driver: "postgres"}, nil

	case "sqlite", "":
		path := databaseURL
		if path == "" {
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			path = filepath.Join(dataDir, "retentiond.db")
		}

		db, err := sqlx.Connect("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
		}

		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}

		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		d := &DB{DB: db, Driver: "sqlite"}
		if err := d.initializeSchema(); err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("unknown DB_TYPE %q", dbType)
	}
}

// initializeSchema creates necessary tables if they don't exist
func (d *DB) initializeSchema() error {
	statements := []struct {
		name string
		ddl  string
	}{
		{"user_windows", `
			CREATE TABLE IF NOT EXISTS user_windows (
				user_id INTEGER PRIMARY KEY,
				window_json TEXT NOT NULL DEFAULT '[]',
				last_ability REAL NOT NULL DEFAULT 0,
				last_adjustment TIMESTAMP,
				adjustments_today INTEGER NOT NULL DEFAULT 0,
				adjustments_date TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"review_items", `
			CREATE TABLE IF NOT EXISTS review_items (
				id TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				source_type TEXT NOT NULL DEFAULT 'manual',
				source_question_id TEXT NOT NULL DEFAULT '',
				front TEXT NOT NULL DEFAULT '',
				back TEXT NOT NULL DEFAULT '',
				easiness_factor REAL NOT NULL DEFAULT 2.5,
				interval INTEGER NOT NULL DEFAULT 0,
				repetitions INTEGER NOT NULL DEFAULT 0,
				item_difficulty REAL NOT NULL DEFAULT 0,
				ability_at_create REAL NOT NULL DEFAULT 0,
				last_known_ability REAL,
				calibration_factor REAL NOT NULL DEFAULT 1.0,
				retention_estimate REAL NOT NULL DEFAULT 1.0,
				last_review_date TIMESTAMP,
				next_review_date TIMESTAMP NOT NULL,
				tags_json TEXT NOT NULL DEFAULT '[]',
				history_json TEXT NOT NULL DEFAULT '[]',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(user_id, source_question_id)
			)
		`},
		{"retention_observations", `
			CREATE TABLE IF NOT EXISTS retention_observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				topic_id TEXT NOT NULL DEFAULT '',
				item_id TEXT NOT NULL DEFAULT '',
				days_since_last_review INTEGER NOT NULL,
				was_recalled BOOLEAN NOT NULL,
				quality_score INTEGER NOT NULL DEFAULT 0,
				predicted_retention REAL NOT NULL DEFAULT 0,
				observed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"study_plans", `
			CREATE TABLE IF NOT EXISTS study_plans (
				id TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				schedules_json TEXT NOT NULL DEFAULT '[]',
				start_date TIMESTAMP NOT NULL,
				target_ability REAL NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"adjustment_history", `
			CREATE TABLE IF NOT EXISTS adjustment_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				plan_id TEXT NOT NULL,
				adjustment_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				changes TEXT NOT NULL DEFAULT '[]',
				tasks_affected INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"feedback_events", `
			CREATE TABLE IF NOT EXISTS feedback_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				assessment_id TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				ability_before REAL NOT NULL DEFAULT 0,
				ability_after REAL NOT NULL DEFAULT 0,
				triggers_fired INTEGER NOT NULL DEFAULT 0,
				trigger_data TEXT NOT NULL DEFAULT '{}',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"assessment_answers", `
			CREATE TABLE IF NOT EXISTS assessment_answers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id INTEGER NOT NULL,
				assessment_id TEXT NOT NULL,
				question_id TEXT NOT NULL,
				question_text TEXT NOT NULL DEFAULT '',
				correct_answer TEXT NOT NULL DEFAULT '',
				user_answer TEXT NOT NULL DEFAULT '',
				explanation TEXT NOT NULL DEFAULT '',
				topics_json TEXT NOT NULL DEFAULT '[]',
				category TEXT NOT NULL DEFAULT '',
				difficulty REAL NOT NULL DEFAULT 0,
				ability REAL NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(user_id, assessment_id, question_id)
			)
		`},
		{"content_catalog", `
			CREATE TABLE IF NOT EXISTS content_catalog (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				category TEXT NOT NULL DEFAULT '',
				difficulty_level TEXT NOT NULL DEFAULT 'beginner',
				duration_minutes INTEGER NOT NULL DEFAULT 15,
				topics_json TEXT NOT NULL DEFAULT '[]',
				order_index INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
	}

	for _, s := range statements {
		if _, err := d.Exec(s.ddl); err != nil {
			return fmt.Errorf("failed to create %s table: %w", s.name, err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_review_items_due ON review_items(user_id, next_review_date)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_user ON retention_observations(user_id, topic_id)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_user ON adjustment_history(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_assessment_answers ON assessment_answers(user_id, assessment_id)`,
	}
	for _, ddl := range indexes {
		if _, err := d.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
