package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const (
	openRetries  = 5
	openDelay    = 500 * time.Millisecond
	openMaxDelay = 5 * time.Second
)

// Open opens a DB, waits for it to answer and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:answer_eval.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
		dsn = SQLiteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/answer_eval?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := pingWithRetry(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverPostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// SQLiteDSN turns on foreign keys for every pooled connection unless the DSN
// already sets that pragma. Cascading question deletes depend on it.
func SQLiteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func pingWithRetry(ctx context.Context, db *sql.DB) error {
	delay := openDelay
	for attempt := 0; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if attempt >= openRetries {
			return fmt.Errorf("ping failed after %d retries: %w", attempt, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > openMaxDelay {
			delay = openMaxDelay
		}
	}
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Timestamps are unix microseconds so "most recent" ordering survives coarse clocks.
// rubric_json is TEXT on both drivers: the document must round-trip byte-for-byte.

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  password_hash TEXT,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  question_id TEXT NOT NULL UNIQUE,
  text TEXT NOT NULL,
  topic TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic);

CREATE TABLE IF NOT EXISTS question_rubrics (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  question_id TEXT NOT NULL REFERENCES questions(question_id) ON DELETE CASCADE,
  version TEXT NOT NULL,
  rubric_json TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT 0,
  created_by TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  UNIQUE (question_id, version)
);
CREATE INDEX IF NOT EXISTS idx_question_rubrics_lookup ON question_rubrics(question_id, is_active, created_at);

CREATE TABLE IF NOT EXISTS answer_evaluations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  question_id TEXT NOT NULL,
  student_id TEXT,
  student_answer TEXT NOT NULL,
  auto_score REAL NOT NULL,
  final_score REAL,
  dimension_scores_json TEXT NOT NULL,
  model_version TEXT NOT NULL,
  rubric_version TEXT NOT NULL,
  raw_llm_output TEXT NOT NULL,
  review_notes TEXT,
  reviewer_id TEXT,
  reviewed_at INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_evaluations_question ON answer_evaluations(question_id);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,               -- e.g. RubricActivated
  event_key TEXT NOT NULL,         -- natural key: rubric id, evaluation id
  data TEXT NOT NULL,              -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  role TEXT NOT NULL,
  password_hash TEXT,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  question_id TEXT NOT NULL UNIQUE,
  text TEXT NOT NULL,
  topic TEXT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_topic ON questions(topic);

CREATE TABLE IF NOT EXISTS question_rubrics (
  id BIGSERIAL PRIMARY KEY,
  question_id TEXT NOT NULL REFERENCES questions(question_id) ON DELETE CASCADE,
  version TEXT NOT NULL,
  rubric_json TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT FALSE,
  created_by TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  UNIQUE (question_id, version)
);
CREATE INDEX IF NOT EXISTS idx_question_rubrics_lookup ON question_rubrics(question_id, is_active, created_at);

CREATE TABLE IF NOT EXISTS answer_evaluations (
  id BIGSERIAL PRIMARY KEY,
  question_id TEXT NOT NULL,
  student_id TEXT,
  student_answer TEXT NOT NULL,
  auto_score DOUBLE PRECISION NOT NULL,
  final_score DOUBLE PRECISION,
  dimension_scores_json TEXT NOT NULL,
  model_version TEXT NOT NULL,
  rubric_version TEXT NOT NULL,
  raw_llm_output TEXT NOT NULL,
  review_notes TEXT,
  reviewer_id TEXT,
  reviewed_at BIGINT,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_evaluations_question ON answer_evaluations(question_id);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  event_key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
