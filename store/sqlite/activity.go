package sqlite

import (
	"context"
	"fmt"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// ACTIVITY SOURCE - Read-only history with the "completed" filters
// =============================================================================

// Nullable counters are coalesced to zero. Timestamp columns are selected
// bare so the driver still parses them as times.

func (s *Store) Flashcards(ctx context.Context, userID xp.UserID) ([]activity.Flashcard, error) {
	var rows []activity.Flashcard
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at FROM flashcards
		WHERE user_id = ?
		ORDER BY created_at, id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select flashcards: %w", err)
	}
	return rows, nil
}

func (s *Store) StudySessions(ctx context.Context, userID xp.UserID) ([]activity.StudySession, error) {
	var rows []activity.StudySession
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id,
			COALESCE(correct_answers, 0) AS correct_answers,
			COALESCE(total_cards, 0) AS total_cards,
			session_duration_seconds,
			completed_at,
			created_at
		FROM study_sessions
		WHERE user_id = ? AND completed_at IS NOT NULL
		ORDER BY created_at, id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select study sessions: %w", err)
	}
	return rows, nil
}

func (s *Store) Notes(ctx context.Context, userID xp.UserID) ([]activity.Note, error) {
	var rows []activity.Note
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, created_at FROM notes
		WHERE user_id = ?
		ORDER BY created_at, id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select notes: %w", err)
	}
	return rows, nil
}

func (s *Store) Goals(ctx context.Context, userID xp.UserID) ([]activity.Goal, error) {
	var rows []activity.Goal
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, COALESCE(priority, '') AS priority, status, completed_at, updated_at
		FROM goals
		WHERE user_id = ? AND status = ?
		ORDER BY updated_at, id`, string(userID), activity.GoalStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("select goals: %w", err)
	}
	return rows, nil
}

func (s *Store) ReadingSessions(ctx context.Context, userID xp.UserID) ([]activity.ReadingSession, error) {
	var rows []activity.ReadingSession
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id,
			COALESCE(duration_seconds, 0) AS duration_seconds,
			COALESCE(pages_read, 0) AS pages_read,
			session_end,
			created_at
		FROM reading_sessions
		WHERE user_id = ?
		ORDER BY created_at, id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select reading sessions: %w", err)
	}
	return rows, nil
}

func (s *Store) FileUploads(ctx context.Context, userID xp.UserID) ([]activity.FileUpload, error) {
	var rows []activity.FileUpload
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, file_name, COALESCE(file_size, 0) AS file_size, processing_status, updated_at
		FROM file_uploads
		WHERE user_id = ? AND processing_status = ?
		ORDER BY updated_at, id`, string(userID), activity.ProcessingStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("select file uploads: %w", err)
	}
	return rows, nil
}

func (s *Store) Enrollments(ctx context.Context, userID xp.UserID) ([]activity.Enrollment, error) {
	var rows []activity.Enrollment
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id,
			COALESCE(json_extract(progress, '$.completed'), 0) = 1 AS completed
		FROM enrollments
		WHERE user_id = ?
		ORDER BY id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select enrollments: %w", err)
	}
	return rows, nil
}

// =============================================================================
// SEEDING - Demo scenarios and tests write history directly
// =============================================================================

// Seed inserts raw activity for userID, filtered-out rows included.
func (s *Store) Seed(ctx context.Context, userID xp.UserID, b activity.Bundle) error {
	uid := string(userID)
	return s.inTx(ctx, func(c conn) error {
		for _, f := range b.Flashcards {
			if _, err := c.q.ExecContext(ctx,
				`INSERT INTO flashcards (id, user_id, created_at) VALUES (?, ?, ?)`,
				f.ID, uid, f.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("seed flashcard %s: %w", f.ID, err)
			}
		}
		for _, ss := range b.StudySessions {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO study_sessions (id, user_id, correct_answers, total_cards, session_duration_seconds, completed_at, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				ss.ID, uid, ss.CorrectAnswers, ss.TotalCards, ss.DurationSeconds, ss.CompletedAt, ss.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("seed study session %s: %w", ss.ID, err)
			}
		}
		for _, n := range b.Notes {
			if _, err := c.q.ExecContext(ctx,
				`INSERT INTO notes (id, user_id, created_at) VALUES (?, ?, ?)`,
				n.ID, uid, n.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("seed note %s: %w", n.ID, err)
			}
		}
		for _, g := range b.Goals {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO goals (id, user_id, priority, status, completed_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				g.ID, uid, nullString(string(g.Priority)), g.Status, g.CompletedAt, g.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("seed goal %s: %w", g.ID, err)
			}
		}
		for _, r := range b.ReadingSessions {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO reading_sessions (id, user_id, duration_seconds, pages_read, session_end, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				r.ID, uid, r.DurationSeconds, r.PagesRead, r.SessionEnd, r.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("seed reading session %s: %w", r.ID, err)
			}
		}
		for _, u := range b.FileUploads {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO file_uploads (id, user_id, file_name, file_size, processing_status, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				u.ID, uid, u.FileName, u.FileSize, u.ProcessingStatus, u.UpdatedAt.UTC()); err != nil {
				return fmt.Errorf("seed file upload %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// SeedEnrollments stores enrollments with progress {"completed": bool}.
func (s *Store) SeedEnrollments(ctx context.Context, userID xp.UserID, enrollments ...activity.Enrollment) error {
	return s.inTx(ctx, func(c conn) error {
		for _, e := range enrollments {
			progress := `{"completed":false}`
			if e.Completed {
				progress = `{"completed":true}`
			}
			if _, err := c.q.ExecContext(ctx,
				`INSERT INTO enrollments (id, user_id, progress) VALUES (?, ?, ?)`,
				e.ID, string(userID), progress); err != nil {
				return fmt.Errorf("seed enrollment %s: %w", e.ID, err)
			}
		}
		return nil
	})
}
