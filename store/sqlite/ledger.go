package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/studyhall/xp-engine/xp"
)

// conn carries the queries shared by the database handle and a transaction.
type conn struct {
	q sqlx.ExtContext
}

// =============================================================================
// LEDGER EVENTS
// =============================================================================

type eventRow struct {
	ID        string         `db:"id"`
	UserID    string         `db:"user_id"`
	Type      string         `db:"event_type"`
	Value     int            `db:"event_value"`
	SourceID  sql.NullString `db:"source_id"`
	Origin    string         `db:"origin"`
	Metadata  sql.NullString `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r eventRow) toEvent() (xp.LedgerEvent, error) {
	e := xp.LedgerEvent{
		ID:        r.ID,
		UserID:    xp.UserID(r.UserID),
		Type:      xp.EventType(r.Type),
		Value:     r.Value,
		SourceID:  r.SourceID.String,
		Origin:    xp.Origin(r.Origin),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &e.Metadata); err != nil {
			return xp.LedgerEvent{}, fmt.Errorf("event %s metadata: %w", r.ID, err)
		}
	}
	return e, nil
}

const insertEventSQL = `
	INSERT INTO xp_events (id, user_id, event_type, event_value, source_id, origin, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, source_id) DO NOTHING`

// InsertEvents writes events in one transaction.
func (s *Store) InsertEvents(ctx context.Context, events []xp.LedgerEvent) (int, error) {
	var n int
	err := s.inTx(ctx, func(c conn) error {
		var err error
		n, err = c.InsertEvents(ctx, events)
		return err
	})
	return n, err
}

func (c conn) InsertEvents(ctx context.Context, events []xp.LedgerEvent) (int, error) {
	inserted := 0
	for _, e := range events {
		meta, err := json.Marshal(e.PersistedMetadata())
		if err != nil {
			return inserted, fmt.Errorf("marshal metadata for %s: %w", e.SourceID, err)
		}
		res, err := c.q.ExecContext(ctx, insertEventSQL,
			e.ID,
			string(e.UserID),
			string(e.Type),
			e.Value,
			nullString(e.SourceID),
			string(e.Origin),
			string(meta),
			e.CreatedAt.UTC(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Primary key collision on a retried id; the row is already there.
				continue
			}
			return inserted, fmt.Errorf("insert event %s: %w", e.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(affected)
	}
	return inserted, nil
}

func (c conn) Events(ctx context.Context, userID xp.UserID) ([]xp.LedgerEvent, error) {
	var rows []eventRow
	err := sqlx.SelectContext(ctx, c.q, &rows, `
		SELECT id, user_id, event_type, event_value, source_id, origin, metadata, created_at
		FROM xp_events
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]xp.LedgerEvent, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (c conn) SumEventValues(ctx context.Context, userID xp.UserID) (int, error) {
	var total int
	err := sqlx.GetContext(ctx, c.q, &total,
		`SELECT COALESCE(SUM(event_value), 0) FROM xp_events WHERE user_id = ?`, string(userID))
	if err != nil {
		return 0, fmt.Errorf("sum events: %w", err)
	}
	return total, nil
}

func (c conn) DeleteEventsByOrigin(ctx context.Context, userID xp.UserID, origin xp.Origin) (int, error) {
	res, err := c.q.ExecContext(ctx,
		`DELETE FROM xp_events WHERE user_id = ? AND origin = ?`, string(userID), string(origin))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// AGGREGATE + LEGACY MIRROR
// =============================================================================

type aggregateRow struct {
	UserID      string    `db:"user_id"`
	TotalXP     int       `db:"total_xp"`
	Level       int       `db:"level"`
	NextLevelXP int       `db:"next_level_xp"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (c conn) Aggregate(ctx context.Context, userID xp.UserID) (*xp.Aggregate, error) {
	var row aggregateRow
	err := sqlx.GetContext(ctx, c.q, &row, `
		SELECT user_id, total_xp, level, next_level_xp, updated_at
		FROM user_xp WHERE user_id = ?`, string(userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}
	return &xp.Aggregate{
		UserID:      xp.UserID(row.UserID),
		TotalXP:     row.TotalXP,
		Level:       row.Level,
		NextLevelXP: row.NextLevelXP,
		UpdatedAt:   row.UpdatedAt.UTC(),
	}, nil
}

func (c conn) UpsertAggregate(ctx context.Context, agg xp.Aggregate) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO user_xp (user_id, total_xp, level, next_level_xp, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			total_xp = excluded.total_xp,
			level = excluded.level,
			next_level_xp = excluded.next_level_xp,
			updated_at = excluded.updated_at`,
		string(agg.UserID), agg.TotalXP, agg.Level, agg.NextLevelXP, agg.UpdatedAt.UTC())
	return err
}

// MirrorTotalXP only updates an existing profile row.
func (c conn) MirrorTotalXP(ctx context.Context, userID xp.UserID, totalXP int) error {
	_, err := c.q.ExecContext(ctx, `UPDATE profiles SET total_xp = ? WHERE id = ?`, totalXP, string(userID))
	return err
}

// =============================================================================
// PROFILES
// =============================================================================

// AddProfile registers a user. Existing profiles are left alone.
func (s *Store) AddProfile(ctx context.Context, userID xp.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, total_xp) VALUES (?, 0) ON CONFLICT(id) DO NOTHING`, string(userID))
	return err
}

// ProfileTotalXP returns the legacy mirror value, or sql.ErrNoRows.
func (s *Store) ProfileTotalXP(ctx context.Context, userID xp.UserID) (int, error) {
	var total int
	err := s.db.GetContext(ctx, &total, `SELECT total_xp FROM profiles WHERE id = ?`, string(userID))
	return total, err
}

func (s *Store) UserIDs(ctx context.Context) ([]xp.UserID, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM profiles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]xp.UserID, len(ids))
	for i, id := range ids {
		out[i] = xp.UserID(id)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
