/*
Package activity models the raw learning records that predate live XP
tracking, and collects them per user.

PURPOSE:
  The backfill engine replays six domains of history into the XP ledger:

    flashcards        - every card the user created
    study_sessions    - completed flashcard study sessions
    notes             - every note
    goals             - completed goals
    reading_sessions  - every reading session
    file_uploads      - uploads whose processing completed

  Enrollments are read separately, only when a module badge needs them.

FILTERING:
  "Completed" filters belong to the Source implementation (they are SQL
  WHERE clauses in store/sqlite and store/postgres). The collector trusts
  what the source returns.

SEE ALSO:
  - collector.go: concurrent per-user collection
  - backfill/synthesize.go: maps these records to ledger events
*/
package activity

import (
	"database/sql"
	"time"
)

// Domain names one activity table. Values double as source_id prefixes.
type Domain string

const (
	DomainFlashcard      Domain = "flashcard"
	DomainStudySession   Domain = "study_session"
	DomainNote           Domain = "note"
	DomainGoal           Domain = "goal"
	DomainReadingSession Domain = "reading_session"
	DomainFileUpload     Domain = "file_upload"
)

// Domains lists every collected domain in synthesis order.
var Domains = []Domain{
	DomainFlashcard,
	DomainStudySession,
	DomainNote,
	DomainGoal,
	DomainReadingSession,
	DomainFileUpload,
}

// =============================================================================
// RAW RECORDS
// =============================================================================

type Flashcard struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

type StudySession struct {
	ID              string        `db:"id"`
	CorrectAnswers  int           `db:"correct_answers"`
	TotalCards      int           `db:"total_cards"`
	DurationSeconds sql.NullInt64 `db:"session_duration_seconds"` // NULL when not recorded
	CompletedAt     sql.NullTime  `db:"completed_at"`
	CreatedAt       time.Time     `db:"created_at"`
}

type Note struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

type GoalPriority string

const (
	PriorityHigh   GoalPriority = "high"
	PriorityMedium GoalPriority = "medium"
	PriorityLow    GoalPriority = "low"
)

type Goal struct {
	ID          string       `db:"id"`
	Priority    GoalPriority `db:"priority"`
	Status      string       `db:"status"`
	CompletedAt sql.NullTime `db:"completed_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

type ReadingSession struct {
	ID              string       `db:"id"`
	DurationSeconds int          `db:"duration_seconds"`
	PagesRead       int          `db:"pages_read"`
	SessionEnd      sql.NullTime `db:"session_end"`
	CreatedAt       time.Time    `db:"created_at"`
}

type FileUpload struct {
	ID               string    `db:"id"`
	FileName         string    `db:"file_name"`
	FileSize         int64     `db:"file_size"`
	ProcessingStatus string    `db:"processing_status"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Enrollment is a course/module enrollment; Completed mirrors
// progress.completed in the enrollments table.
type Enrollment struct {
	ID        string `db:"id"`
	Completed bool   `db:"completed"`
}

// Status values used by the source filters.
const (
	GoalStatusCompleted       = "completed"
	ProcessingStatusCompleted = "completed"
)

// =============================================================================
// BUNDLE - Fixed-shape snapshot of one user's history
// =============================================================================

type Bundle struct {
	Flashcards      []Flashcard
	StudySessions   []StudySession
	Notes           []Note
	Goals           []Goal
	ReadingSessions []ReadingSession
	FileUploads     []FileUpload
}

// Counts is the per-domain size of a bundle.
type Counts struct {
	Flashcards      int
	StudySessions   int
	Notes           int
	Goals           int
	ReadingSessions int
	FileUploads     int
}

func (b Bundle) Counts() Counts {
	return Counts{
		Flashcards:      len(b.Flashcards),
		StudySessions:   len(b.StudySessions),
		Notes:           len(b.Notes),
		Goals:           len(b.Goals),
		ReadingSessions: len(b.ReadingSessions),
		FileUploads:     len(b.FileUploads),
	}
}

// ReadingSeconds is the total reading time across sessions.
func (b Bundle) ReadingSeconds() int64 {
	var total int64
	for _, s := range b.ReadingSessions {
		if s.DurationSeconds > 0 {
			total += int64(s.DurationSeconds)
		}
	}
	return total
}
