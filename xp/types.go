/*
Package xp provides the XP ledger: event types, the derived per-user
aggregate, the level curve, and the writer that keeps the aggregate in sync
with the ledger.

PURPOSE:
  Every XP-awarding occurrence is recorded as an immutable LedgerEvent.
  The user's total XP and level are never incremented in place; they are
  rebuilt from the sum of all ledger events on every write. Whatever
  happened before (a crash between insert and upsert, a manual fix in the
  database) is repaired by the next recomputation.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEvent: one XP delta, keyed by SourceID for idempotency
  - Origin: backfill vs organic, used to scope rollback
  - Aggregate: derived total/level snapshot (user_xp row)
  - SourceSet: in-memory snapshot of the source ids a user already has

INVARIANTS:
  1. (UserID, SourceID) is unique across all events ever written
  2. Aggregate.TotalXP == sum(Value) over the user's events after any write
  3. Backfill events carry the originating activity's timestamp

SEE ALSO:
  - ledger.go: the writer (insert, recompute, upsert)
  - level.go: level curve
  - store.go: persistence contracts
*/
package xp

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string

type EventType string

const (
	EventFlashcardCreated EventType = "flashcard_created"
	EventFlashcardStudy   EventType = "flashcard_study"
	EventNoteCreated      EventType = "note_created"
	EventGoalCompleted    EventType = "goal_completed"
	EventReadingSession   EventType = "reading_session"
	EventFileUploaded     EventType = "file_uploaded"

	// Organic-only types recorded by the live award path.
	EventBadgeEarned     EventType = "badge_earned"
	EventLessonCompleted EventType = "lesson_completed"
)

// Origin marks where an event came from. Rollback deletes by origin.
type Origin string

const (
	OriginOrganic  Origin = "organic"
	OriginBackfill Origin = "backfill"
)

// Metadata keys that every persisted event carries.
const (
	MetaSourceID    = "source_id"
	MetaOrigin      = "origin"
	MetaDescription = "description"
)

// =============================================================================
// LEDGER EVENT
// =============================================================================

// LedgerEvent is one immutable XP delta.
type LedgerEvent struct {
	ID       string
	UserID   UserID
	Type     EventType
	Value    int
	SourceID string // "<domain>_<raw id>"; empty for organic awards without a natural key
	Origin   Origin
	Metadata map[string]any

	// CreatedAt is the time the XP was earned, not the time of insertion.
	CreatedAt time.Time
}

// IsBackfill reports whether the event was synthesized from history.
func (e LedgerEvent) IsBackfill() bool { return e.Origin == OriginBackfill }

// PersistedMetadata returns the metadata map as stored, with source_id and
// origin folded in so the JSON column is self-describing.
func (e LedgerEvent) PersistedMetadata() map[string]any {
	out := make(map[string]any, len(e.Metadata)+2)
	for k, v := range e.Metadata {
		out[k] = v
	}
	if e.SourceID != "" {
		out[MetaSourceID] = e.SourceID
	}
	origin := e.Origin
	if origin == "" {
		origin = OriginOrganic
	}
	out[MetaOrigin] = string(origin)
	return out
}

// SumValues adds up event values.
func SumValues(events []LedgerEvent) int {
	total := 0
	for _, e := range events {
		total += e.Value
	}
	return total
}

// =============================================================================
// SOURCE SET - Snapshot of idempotency keys already in the ledger
// =============================================================================

// SourceSet is an immutable view of the source ids a user already has.
// Build it once per run; never share it across runs.
type SourceSet struct {
	ids map[string]struct{}
}

func NewSourceSet(events []LedgerEvent) SourceSet {
	ids := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.SourceID != "" {
			ids[e.SourceID] = struct{}{}
		}
	}
	return SourceSet{ids: ids}
}

func (s SourceSet) Has(sourceID string) bool {
	_, ok := s.ids[sourceID]
	return ok
}

func (s SourceSet) Len() int { return len(s.ids) }

// =============================================================================
// AGGREGATE - Derived total/level (user_xp row)
// =============================================================================

// Aggregate is the per-user summary derived from the ledger.
// It is overwritten wholesale on every recomputation.
type Aggregate struct {
	UserID      UserID
	TotalXP     int
	Level       int
	NextLevelXP int
	UpdatedAt   time.Time
}

// DefaultAggregate is what a user with no user_xp row reports.
func DefaultAggregate(userID UserID) Aggregate {
	level, next := LevelFor(0)
	return Aggregate{UserID: userID, TotalXP: 0, Level: level, NextLevelXP: next}
}

// NewAggregate derives an aggregate from a ledger total.
func NewAggregate(userID UserID, totalXP int, at time.Time) Aggregate {
	level, next := LevelFor(totalXP)
	return Aggregate{
		UserID:      userID,
		TotalXP:     totalXP,
		Level:       level,
		NextLevelXP: next,
		UpdatedAt:   at,
	}
}
