package backfill

import (
	"time"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// MetaBackfill marks synthesized events in their metadata, alongside origin.
const MetaBackfill = "backfill"

// SourceID is the idempotency key for one activity record.
func SourceID(domain activity.Domain, rawID string) string {
	return string(domain) + "_" + rawID
}

// Synthesize turns a bundle into the backfill events the ledger does not yet
// have. Output order is the domain order in activity.Domains, then record
// order. A raw id seen twice in one bundle yields one event.
func Synthesize(userID xp.UserID, b activity.Bundle, existing xp.SourceSet) []xp.LedgerEvent {
	s := synthesizer{userID: userID, existing: existing, emitted: make(map[string]bool)}

	for _, f := range b.Flashcards {
		s.add(activity.DomainFlashcard, f.ID, xp.EventFlashcardCreated, rewards.FlashcardXP, f.CreatedAt,
			"Retroactive XP for flashcard creation",
			map[string]any{"flashcard_id": f.ID})
	}
	for _, ss := range b.StudySessions {
		s.add(activity.DomainStudySession, ss.ID, xp.EventFlashcardStudy, rewards.StudySessionXP(ss),
			orElse(ss.CompletedAt.Valid, ss.CompletedAt.Time, ss.CreatedAt),
			"Retroactive XP for study session",
			map[string]any{
				"session_id":       ss.ID,
				"correct_answers":  ss.CorrectAnswers,
				"total_cards":      ss.TotalCards,
				"duration_seconds": ss.DurationSeconds,
			})
	}
	for _, n := range b.Notes {
		s.add(activity.DomainNote, n.ID, xp.EventNoteCreated, rewards.NoteXP, n.CreatedAt,
			"Retroactive XP for note creation",
			map[string]any{"note_id": n.ID})
	}
	for _, g := range b.Goals {
		s.add(activity.DomainGoal, g.ID, xp.EventGoalCompleted, rewards.GoalXP(g),
			orElse(g.CompletedAt.Valid, g.CompletedAt.Time, g.UpdatedAt),
			"Retroactive XP for goal completion",
			map[string]any{"goal_id": g.ID, "priority": string(g.Priority)})
	}
	for _, r := range b.ReadingSessions {
		s.add(activity.DomainReadingSession, r.ID, xp.EventReadingSession, rewards.ReadingSessionXP(r),
			orElse(r.SessionEnd.Valid, r.SessionEnd.Time, r.CreatedAt),
			"Retroactive XP for reading session",
			map[string]any{
				"session_id":       r.ID,
				"duration_seconds": r.DurationSeconds,
				"pages_read":       r.PagesRead,
			})
	}
	for _, u := range b.FileUploads {
		s.add(activity.DomainFileUpload, u.ID, xp.EventFileUploaded, rewards.FileUploadXP, u.UpdatedAt,
			"Retroactive XP for file upload",
			map[string]any{"upload_id": u.ID, "file_name": u.FileName})
	}
	return s.events
}

type synthesizer struct {
	userID   xp.UserID
	existing xp.SourceSet
	emitted  map[string]bool
	events   []xp.LedgerEvent
}

func (s *synthesizer) add(domain activity.Domain, rawID string, typ xp.EventType, value int, at time.Time, description string, meta map[string]any) {
	sourceID := SourceID(domain, rawID)
	if s.existing.Has(sourceID) || s.emitted[sourceID] {
		return
	}
	s.emitted[sourceID] = true

	meta[xp.MetaDescription] = description
	meta[MetaBackfill] = true
	s.events = append(s.events, xp.LedgerEvent{
		UserID:    s.userID,
		Type:      typ,
		Value:     value,
		SourceID:  sourceID,
		Origin:    xp.OriginBackfill,
		Metadata:  meta,
		CreatedAt: at,
	})
}

func orElse(ok bool, primary, fallback time.Time) time.Time {
	if ok {
		return primary
	}
	return fallback
}
