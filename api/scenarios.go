/*
scenarios.go - Demo data sets for development and demonstrations

PURPOSE:
  Populates the database with learners whose history exercises the backfill
  engine: fresh accounts, veterans that should earn every badge, users who
  already have organic XP, and a small cohort for bulk runs.

AVAILABLE SCENARIOS:
  fresh-learner:   one user, no history
  veteran:         rich history across all six domains, earns badges
  organic-mix:     history plus live XP earned after launch
  study-group:     five learners for backfill_all_users

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Install the default badge catalogue
 3. Create profiles and raw activity
 4. Optionally record organic XP through the ledger

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "veteran"}

NOTE:
  Scenarios reset the database. Only enabled with server.scenarios=true.

SEE ALSO:
  - factory/badges.yaml: default catalogue
  - handlers.go: endpoints
*/
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/factory"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// ScenarioStore is the write access demo loading needs. store/sqlite
// implements it.
type ScenarioStore interface {
	rewards.CatalogStore
	Reset(ctx context.Context) error
	AddProfile(ctx context.Context, userID xp.UserID) error
	Seed(ctx context.Context, userID xp.UserID, b activity.Bundle) error
	SeedEnrollments(ctx context.Context, userID xp.UserID, enrollments ...activity.Enrollment) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-learner",
		Name:        "Fresh Learner",
		Description: "A profile with no history; backfill is a no-op",
		Users:       []string{"learner-fresh"},
	},
	{
		ID:          "veteran",
		Name:        "Veteran",
		Description: "Months of flashcards, notes, goals and reading; earns badges on backfill",
		Users:       []string{"learner-veteran"},
	},
	{
		ID:          "organic-mix",
		Name:        "Organic Mix",
		Description: "History plus live XP earned after launch; rollback keeps the live XP",
		Users:       []string{"learner-mixed"},
	},
	{
		ID:          "study-group",
		Name:        "Study Group",
		Description: "Five learners with varied history for bulk backfill",
		Users:       []string{"group-ana", "group-ben", "group-caro", "group-dev", "group-eli"},
	},
}

var scenarioEpoch = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario id.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": current})
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeError(w, http.StatusNotFound, "Scenarios are disabled", nil)
		return
	}
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	ctx := r.Context()
	if err := h.resetWithCatalog(ctx); err != nil {
		h.fail(w, "load_scenario", err)
		return
	}
	if err := loader(ctx, h); err != nil {
		h.fail(w, "load_scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.Log.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "scenario_id": req.ScenarioID})
}

var scenarioLoaders = map[string]func(context.Context, *Handler) error{
	"fresh-learner": loadFreshLearner,
	"veteran":       loadVeteran,
	"organic-mix":   loadOrganicMix,
	"study-group":   loadStudyGroup,
}

func (h *Handler) resetWithCatalog(ctx context.Context) error {
	if err := h.Scenarios.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	badges, err := factory.NewBadgeFactory().Default()
	if err != nil {
		return err
	}
	return h.Scenarios.UpsertBadges(ctx, badges)
}

// =============================================================================
// LOADERS
// =============================================================================

func loadFreshLearner(ctx context.Context, h *Handler) error {
	return h.Scenarios.AddProfile(ctx, "learner-fresh")
}

func loadVeteran(ctx context.Context, h *Handler) error {
	const user xp.UserID = "learner-veteran"
	if err := h.Scenarios.AddProfile(ctx, user); err != nil {
		return err
	}
	if err := h.Scenarios.Seed(ctx, user, history(string(user), historyShape{
		flashcards:   12,
		sessions:     3,
		notes:        4,
		goals:        2,
		readingHours: []float64{4, 4, 2.5},
		uploads:      2,
	})); err != nil {
		return err
	}
	return h.Scenarios.SeedEnrollments(ctx, user,
		activity.Enrollment{ID: "learner-veteran-course-1", Completed: true},
		activity.Enrollment{ID: "learner-veteran-course-2", Completed: false},
	)
}

func loadOrganicMix(ctx context.Context, h *Handler) error {
	const user xp.UserID = "learner-mixed"
	if err := h.Scenarios.AddProfile(ctx, user); err != nil {
		return err
	}
	if err := h.Scenarios.Seed(ctx, user, history(string(user), historyShape{
		flashcards:   4,
		sessions:     1,
		notes:        2,
		goals:        1,
		readingHours: []float64{0.5},
	})); err != nil {
		return err
	}
	for i := 1; i <= 3; i++ {
		_, err := h.Engine.Ledger().Award(ctx, xp.LedgerEvent{
			UserID:    user,
			Type:      xp.EventLessonCompleted,
			Value:     20,
			SourceID:  fmt.Sprintf("lesson_%d", i),
			Metadata:  map[string]any{xp.MetaDescription: "Completed a lesson"},
			CreatedAt: scenarioEpoch.AddDate(0, 2, i),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func loadStudyGroup(ctx context.Context, h *Handler) error {
	shapes := map[xp.UserID]historyShape{
		"group-ana":  {flashcards: 10, sessions: 2, notes: 1},
		"group-ben":  {notes: 5, goals: 3},
		"group-caro": {readingHours: []float64{1, 1.5}, uploads: 1},
		"group-dev":  {flashcards: 1},
		"group-eli":  {},
	}
	for _, id := range scenarios[3].Users {
		user := xp.UserID(id)
		if err := h.Scenarios.AddProfile(ctx, user); err != nil {
			return err
		}
		if err := h.Scenarios.Seed(ctx, user, history(id, shapes[user])); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HISTORY GENERATION
// =============================================================================

type historyShape struct {
	flashcards   int
	sessions     int
	notes        int
	goals        int
	readingHours []float64
	uploads      int
}

// history builds a deterministic bundle, one record per day from the epoch.
// Each shape also gets one incomplete session, open goal and failed upload
// that the source filters must drop.
func history(prefix string, s historyShape) activity.Bundle {
	day := func(i int) time.Time { return scenarioEpoch.AddDate(0, 0, i) }
	id := func(kind string, i int) string { return fmt.Sprintf("%s-%s-%d", prefix, kind, i) }
	done := func(t time.Time) sql.NullTime { return sql.NullTime{Time: t.Add(20 * time.Minute), Valid: true} }

	var b activity.Bundle
	for i := 0; i < s.flashcards; i++ {
		b.Flashcards = append(b.Flashcards, activity.Flashcard{ID: id("card", i), CreatedAt: day(i)})
	}
	for i := 0; i < s.sessions; i++ {
		correct := 10 + i*5
		b.StudySessions = append(b.StudySessions, activity.StudySession{
			ID:              id("session", i),
			CorrectAnswers:  correct,
			TotalCards:      correct + i,
			DurationSeconds: sql.NullInt64{Int64: int64(240 + i*120), Valid: true},
			CompletedAt:     done(day(i)),
			CreatedAt:       day(i),
		})
	}
	if s.sessions > 0 {
		b.StudySessions = append(b.StudySessions, activity.StudySession{
			ID: id("session-abandoned", 0), CorrectAnswers: 2, TotalCards: 20, CreatedAt: day(s.sessions),
		})
	}
	for i := 0; i < s.notes; i++ {
		b.Notes = append(b.Notes, activity.Note{ID: id("note", i), CreatedAt: day(i)})
	}
	priorities := []activity.GoalPriority{activity.PriorityHigh, activity.PriorityMedium, activity.PriorityLow}
	for i := 0; i < s.goals; i++ {
		b.Goals = append(b.Goals, activity.Goal{
			ID:          id("goal", i),
			Priority:    priorities[i%len(priorities)],
			Status:      activity.GoalStatusCompleted,
			CompletedAt: done(day(7 * i)),
			UpdatedAt:   day(7 * i),
		})
	}
	if s.goals > 0 {
		b.Goals = append(b.Goals, activity.Goal{
			ID: id("goal-open", 0), Priority: activity.PriorityHigh, Status: "active", UpdatedAt: day(1),
		})
	}
	for i, hours := range s.readingHours {
		start := day(i)
		secs := int(hours * 3600)
		b.ReadingSessions = append(b.ReadingSessions, activity.ReadingSession{
			ID:              id("reading", i),
			DurationSeconds: secs,
			PagesRead:       secs / 120,
			SessionEnd:      sql.NullTime{Time: start.Add(time.Duration(secs) * time.Second), Valid: true},
			CreatedAt:       start,
		})
	}
	for i := 0; i < s.uploads; i++ {
		b.FileUploads = append(b.FileUploads, activity.FileUpload{
			ID:               id("upload", i),
			FileName:         fmt.Sprintf("chapter-%d.pdf", i+1),
			FileSize:         int64(250_000 * (i + 1)),
			ProcessingStatus: activity.ProcessingStatusCompleted,
			UpdatedAt:        day(i),
		})
	}
	if s.uploads > 0 {
		b.FileUploads = append(b.FileUploads, activity.FileUpload{
			ID: id("upload-failed", 0), FileName: "scan.tiff", ProcessingStatus: "failed", UpdatedAt: day(2),
		})
	}
	return b
}
