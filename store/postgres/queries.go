package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

type conn struct {
	q querier
}

// =============================================================================
// LEDGER
// =============================================================================

type eventRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Type      string    `db:"event_type"`
	Value     int       `db:"event_value"`
	SourceID  *string   `db:"source_id"`
	Origin    string    `db:"origin"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

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
		var sourceID *string
		if e.SourceID != "" {
			sourceID = &e.SourceID
		}
		tag, err := c.q.Exec(ctx, `
			INSERT INTO xp_events (id, user_id, event_type, event_value, source_id, origin, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
			ON CONFLICT DO NOTHING`,
			e.ID, string(e.UserID), string(e.Type), e.Value, sourceID, string(e.Origin), string(meta), e.CreatedAt.UTC())
		if err != nil {
			// Any error aborts the surrounding transaction.
			return inserted, fmt.Errorf("insert event %s: %w", e.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (c conn) Events(ctx context.Context, userID xp.UserID) ([]xp.LedgerEvent, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, user_id, event_type, event_value, source_id, origin,
			COALESCE(metadata::text, '') AS metadata, created_at
		FROM xp_events
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[eventRow])
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	events := make([]xp.LedgerEvent, 0, len(records))
	for _, r := range records {
		e := xp.LedgerEvent{
			ID:        r.ID,
			UserID:    xp.UserID(r.UserID),
			Type:      xp.EventType(r.Type),
			Value:     r.Value,
			Origin:    xp.Origin(r.Origin),
			CreatedAt: r.CreatedAt.UTC(),
		}
		if r.SourceID != nil {
			e.SourceID = *r.SourceID
		}
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("event %s metadata: %w", r.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

func (c conn) SumEventValues(ctx context.Context, userID xp.UserID) (int, error) {
	var total int64
	err := c.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(event_value), 0) FROM xp_events WHERE user_id = $1`, string(userID)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum events: %w", err)
	}
	return int(total), nil
}

func (c conn) DeleteEventsByOrigin(ctx context.Context, userID xp.UserID, origin xp.Origin) (int, error) {
	tag, err := c.q.Exec(ctx, `DELETE FROM xp_events WHERE user_id = $1 AND origin = $2`, string(userID), string(origin))
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (c conn) Aggregate(ctx context.Context, userID xp.UserID) (*xp.Aggregate, error) {
	agg := xp.Aggregate{UserID: userID}
	err := c.q.QueryRow(ctx, `
		SELECT total_xp, level, next_level_xp, updated_at FROM user_xp WHERE user_id = $1`, string(userID)).
		Scan(&agg.TotalXP, &agg.Level, &agg.NextLevelXP, &agg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load aggregate: %w", err)
	}
	agg.UpdatedAt = agg.UpdatedAt.UTC()
	return &agg, nil
}

func (c conn) UpsertAggregate(ctx context.Context, agg xp.Aggregate) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO user_xp (user_id, total_xp, level, next_level_xp, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			level = EXCLUDED.level,
			next_level_xp = EXCLUDED.next_level_xp,
			updated_at = EXCLUDED.updated_at`,
		string(agg.UserID), agg.TotalXP, agg.Level, agg.NextLevelXP, agg.UpdatedAt.UTC())
	return err
}

func (c conn) MirrorTotalXP(ctx context.Context, userID xp.UserID, totalXP int) error {
	_, err := c.q.Exec(ctx, `UPDATE profiles SET total_xp = $1 WHERE id = $2`, totalXP, string(userID))
	return err
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) AddProfile(ctx context.Context, userID xp.UserID) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO profiles (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, string(userID))
	return err
}

func (s *Store) UserIDs(ctx context.Context) ([]xp.UserID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	out := make([]xp.UserID, len(ids))
	for i, id := range ids {
		out[i] = xp.UserID(id)
	}
	return out, nil
}

// =============================================================================
// BADGES
// =============================================================================

type badgeRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	XPReward    int    `db:"xp_reward"`
	Criteria    string `db:"criteria"`
}

func (s *Store) ListBadges(ctx context.Context) ([]rewards.Badge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, xp_reward, criteria::text AS criteria FROM badges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[badgeRow])
	if err != nil {
		return nil, fmt.Errorf("scan badges: %w", err)
	}
	badges := make([]rewards.Badge, 0, len(records))
	for _, r := range records {
		badges = append(badges, rewards.Badge{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			XPReward:    r.XPReward,
			Criteria:    rewards.DecodeCriteria([]byte(r.Criteria)),
		})
	}
	return badges, nil
}

func (s *Store) UpsertBadges(ctx context.Context, badges []rewards.Badge) error {
	return s.inTx(ctx, func(c conn) error {
		for _, b := range badges {
			criteria, err := rewards.MarshalCriteria(b.Criteria)
			if err != nil {
				return fmt.Errorf("marshal criteria for %s: %w", b.ID, err)
			}
			_, err = c.q.Exec(ctx, `
				INSERT INTO badges (id, name, description, xp_reward, criteria)
				VALUES ($1, $2, $3, $4, $5::jsonb)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					xp_reward = EXCLUDED.xp_reward,
					criteria = EXCLUDED.criteria`,
				b.ID, b.Name, b.Description, b.XPReward, string(criteria))
			if err != nil {
				return fmt.Errorf("upsert badge %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) UserBadges(ctx context.Context, userID xp.UserID) ([]rewards.UserBadge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT badge_id, awarded_at FROM user_badges
		WHERE user_id = $1
		ORDER BY awarded_at, badge_id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select user badges: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rewards.UserBadge, error) {
		ub := rewards.UserBadge{UserID: userID}
		err := row.Scan(&ub.BadgeID, &ub.AwardedAt)
		ub.AwardedAt = ub.AwardedAt.UTC()
		return ub, err
	})
}

func (s *Store) AwardBadge(ctx context.Context, award rewards.UserBadge) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO user_badges (user_id, badge_id, awarded_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING`,
		string(award.UserID), award.BadgeID, award.AwardedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================================================
// ACTIVITY
// =============================================================================

func selectAll[T any](ctx context.Context, q querier, domain string, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", domain, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", domain, err)
	}
	return out, nil
}

func (s *Store) Flashcards(ctx context.Context, userID xp.UserID) ([]activity.Flashcard, error) {
	return selectAll[activity.Flashcard](ctx, s.pool, "flashcards", `
		SELECT id, created_at FROM flashcards WHERE user_id = $1 ORDER BY created_at, id`, string(userID))
}

func (s *Store) StudySessions(ctx context.Context, userID xp.UserID) ([]activity.StudySession, error) {
	return selectAll[activity.StudySession](ctx, s.pool, "study_sessions", `
		SELECT id,
			COALESCE(correct_answers, 0) AS correct_answers,
			COALESCE(total_cards, 0) AS total_cards,
			session_duration_seconds,
			completed_at, created_at
		FROM study_sessions
		WHERE user_id = $1 AND completed_at IS NOT NULL
		ORDER BY created_at, id`, string(userID))
}

func (s *Store) Notes(ctx context.Context, userID xp.UserID) ([]activity.Note, error) {
	return selectAll[activity.Note](ctx, s.pool, "notes", `
		SELECT id, created_at FROM notes WHERE user_id = $1 ORDER BY created_at, id`, string(userID))
}

func (s *Store) Goals(ctx context.Context, userID xp.UserID) ([]activity.Goal, error) {
	return selectAll[activity.Goal](ctx, s.pool, "goals", `
		SELECT id, COALESCE(priority, '') AS priority, status, completed_at, updated_at
		FROM goals
		WHERE user_id = $1 AND status = $2
		ORDER BY updated_at, id`, string(userID), activity.GoalStatusCompleted)
}

func (s *Store) ReadingSessions(ctx context.Context, userID xp.UserID) ([]activity.ReadingSession, error) {
	return selectAll[activity.ReadingSession](ctx, s.pool, "reading_sessions", `
		SELECT id,
			COALESCE(duration_seconds, 0) AS duration_seconds,
			COALESCE(pages_read, 0) AS pages_read,
			session_end, created_at
		FROM reading_sessions
		WHERE user_id = $1
		ORDER BY created_at, id`, string(userID))
}

func (s *Store) FileUploads(ctx context.Context, userID xp.UserID) ([]activity.FileUpload, error) {
	return selectAll[activity.FileUpload](ctx, s.pool, "file_uploads", `
		SELECT id, file_name, COALESCE(file_size, 0) AS file_size, processing_status, updated_at
		FROM file_uploads
		WHERE user_id = $1 AND processing_status = $2
		ORDER BY updated_at, id`, string(userID), activity.ProcessingStatusCompleted)
}

func (s *Store) Enrollments(ctx context.Context, userID xp.UserID) ([]activity.Enrollment, error) {
	return selectAll[activity.Enrollment](ctx, s.pool, "enrollments", `
		SELECT id, COALESCE((progress->>'completed')::boolean, false) AS completed
		FROM enrollments
		WHERE user_id = $1
		ORDER BY id`, string(userID))
}

// SeedFlashcards inserts flashcard rows (tests).
func (s *Store) SeedFlashcards(ctx context.Context, userID xp.UserID, cards ...activity.Flashcard) error {
	for _, f := range cards {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO flashcards (id, user_id, created_at) VALUES ($1, $2, $3)`,
			f.ID, string(userID), f.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("seed flashcard %s: %w", f.ID, err)
		}
	}
	return nil
}
