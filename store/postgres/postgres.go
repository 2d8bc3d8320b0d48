/*
Package postgres implements the storage interfaces on PostgreSQL via pgx.

PURPOSE:
  Production backend. Same tables and contracts as store/sqlite with
  PostgreSQL types: timestamptz timestamps, jsonb metadata and progress.

IDEMPOTENCY:
  Unique index on xp_events (user_id, source_id); inserts use
  ON CONFLICT DO NOTHING with no target, so a primary-key collision on a
  retried id is skipped too. A failed statement aborts the whole tx.

TRANSACTIONS:
  WithTx runs on a pgx.Tx; the tx view shares the query code with the pool
  through the querier interface.

SEE ALSO:
  - store/sqlite: the single-file backend
  - xp/store.go: interface definitions
*/
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	conn
	pool *pgxpool.Pool
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{conn: conn{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(xp.Store) error) error {
	return s.inTx(ctx, func(c conn) error { return fn(c) })
}

func (s *Store) inTx(ctx context.Context, fn func(conn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(conn{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset truncates every table (tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE xp_events, user_xp, profiles, badges, user_badges,
		flashcards, study_sessions, notes, goals, reading_sessions, file_uploads, enrollments`)
	return err
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS xp_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_value INTEGER NOT NULL CHECK (event_value >= 0),
		source_id TEXT,
		origin TEXT NOT NULL DEFAULT 'organic',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_events_user_source ON xp_events(user_id, source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_events_user_created ON xp_events(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_xp_events_user_origin ON xp_events(user_id, origin)`,
	`CREATE TABLE IF NOT EXISTS user_xp (
		user_id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		next_level_xp INTEGER NOT NULL DEFAULT 100,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		total_xp INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS badges (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		xp_reward INTEGER NOT NULL DEFAULT 0,
		criteria JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		user_id TEXT NOT NULL,
		badge_id TEXT NOT NULL,
		awarded_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, badge_id)
	)`,
	`CREATE TABLE IF NOT EXISTS flashcards (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS study_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		correct_answers INTEGER,
		total_cards INTEGER,
		session_duration_seconds INTEGER,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		priority TEXT,
		status TEXT NOT NULL,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reading_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		duration_seconds INTEGER,
		pages_read INTEGER,
		session_end TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_uploads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		file_name TEXT NOT NULL DEFAULT '',
		file_size BIGINT,
		processing_status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		progress JSONB NOT NULL DEFAULT '{}'
	)`,
}
