/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements the ledger, aggregate, badge, activity and user contracts on a
  single SQLite database through sqlx. The PostgreSQL store in
  store/postgres follows the same schema with dialect differences.

INTERFACES IMPLEMENTED:
  xp.TxStore:                ledger events + user_xp aggregate + mirror
  xp.UserLister:             profiles
  rewards.BadgeStore:        badges, user_badges
  rewards.CatalogStore:      badge catalogue upserts
  activity.Source:           the six raw history tables
  activity.EnrollmentSource: enrollments

IDEMPOTENCY:
  xp_events has a unique index on (user_id, source_id). Inserts use
  ON CONFLICT DO NOTHING and count affected rows, so a duplicate source id
  is skipped, never an error. Events without a source id store NULL, which
  the index does not constrain.

KEY TABLES:
  xp_events:   append-only ledger (the only delete is rollback by origin)
  user_xp:     derived aggregate, overwritten on every recomputation
  profiles:    users; total_xp is the legacy mirror
  badges:      catalogue, criteria stored as JSON
  user_badges: awards, primary key (user_id, badge_id)
  flashcards, study_sessions, notes, goals, reading_sessions,
  file_uploads, enrollments: read-only history

CONCURRENCY:
  The pool is capped at one connection; ":memory:" databases are
  per-connection and SQLite allows a single writer anyway. Transactions
  run on the sql.Tx directly and never touch the pool.

USAGE:
  store, err := sqlite.New("./data/xp.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := xp.NewLedger(store)

SEE ALSO:
  - xp/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

var (
	_ xp.TxStore                = (*Store)(nil)
	_ xp.UserLister             = (*Store)(nil)
	_ rewards.BadgeStore        = (*Store)(nil)
	_ rewards.CatalogStore      = (*Store)(nil)
	_ activity.Source           = (*Store)(nil)
	_ activity.EnrollmentSource = (*Store)(nil)
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	conn
	db *sqlx.DB
}

// New opens (and migrates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewFromDB(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewFromDB wraps an open handle without migrating it.
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{conn: conn{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(xp.Store) error) error {
	return s.inTx(ctx, func(c conn) error { return fn(c) })
}

func (s *Store) inTx(ctx context.Context, fn func(conn) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(conn{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
-- Ledger (append-only; rollback deletes backfill rows only)
CREATE TABLE IF NOT EXISTS xp_events (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_value INTEGER NOT NULL CHECK (event_value >= 0),
	source_id TEXT,
	origin TEXT NOT NULL DEFAULT 'organic',
	metadata TEXT,
	created_at TIMESTAMP NOT NULL
);

-- Idempotency key. NULL source ids are not constrained.
CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_events_user_source
	ON xp_events(user_id, source_id);

-- Report / recompute hot path
CREATE INDEX IF NOT EXISTS idx_xp_events_user_created
	ON xp_events(user_id, created_at);

CREATE INDEX IF NOT EXISTS idx_xp_events_user_origin
	ON xp_events(user_id, origin);

-- Derived aggregate
CREATE TABLE IF NOT EXISTS user_xp (
	user_id TEXT PRIMARY KEY,
	total_xp INTEGER NOT NULL DEFAULT 0,
	level INTEGER NOT NULL DEFAULT 1,
	next_level_xp INTEGER NOT NULL DEFAULT 100,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	total_xp INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Badges
CREATE TABLE IF NOT EXISTS badges (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	xp_reward INTEGER NOT NULL DEFAULT 0,
	criteria TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_badges (
	user_id TEXT NOT NULL,
	badge_id TEXT NOT NULL,
	awarded_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, badge_id)
);

-- Raw history (read-only to the engine)
CREATE TABLE IF NOT EXISTS flashcards (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flashcards_user ON flashcards(user_id);

CREATE TABLE IF NOT EXISTS study_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	correct_answers INTEGER,
	total_cards INTEGER,
	session_duration_seconds INTEGER,
	completed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_study_sessions_user ON study_sessions(user_id);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	priority TEXT,
	status TEXT NOT NULL,
	completed_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id);

CREATE TABLE IF NOT EXISTS reading_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	duration_seconds INTEGER,
	pages_read INTEGER,
	session_end TIMESTAMP,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_sessions_user ON reading_sessions(user_id);

CREATE TABLE IF NOT EXISTS file_uploads (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	file_name TEXT NOT NULL DEFAULT '',
	file_size INTEGER,
	processing_status TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_uploads_user ON file_uploads(user_id);

CREATE TABLE IF NOT EXISTS enrollments (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	progress TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id);
`

// Reset deletes every row from every table (demo scenarios, tests).
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(c conn) error {
		for _, table := range []string{
			"xp_events", "user_xp", "profiles", "badges", "user_badges",
			"flashcards", "study_sessions", "notes", "goals",
			"reading_sessions", "file_uploads", "enrollments",
		} {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
