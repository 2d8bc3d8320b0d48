package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/backfill"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func event(user xp.UserID, sourceID string, value int, at time.Time) xp.LedgerEvent {
	return xp.LedgerEvent{
		UserID:    user,
		Type:      xp.EventNoteCreated,
		Value:     value,
		SourceID:  sourceID,
		Origin:    xp.OriginBackfill,
		Metadata:  map[string]any{"note_id": sourceID},
		CreatedAt: at,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestStore_CommitRecomputesAggregateAndMirror(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.AddProfile(ctx, "alice"))
	ledger := xp.NewLedger(store)

	// GIVEN: two events worth 120 XP
	// WHEN: committed
	res, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{
		event("alice", "note_1", 100, t0),
		event("alice", "note_2", 20, t0.Add(time.Hour)),
	})
	require.NoError(t, err)

	// THEN: aggregate, stored row and mirror all carry the ledger sum
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 120, res.Aggregate.TotalXP)
	assert.Equal(t, 2, res.Aggregate.Level)
	assert.Equal(t, 300, res.Aggregate.NextLevelXP)

	stored, err := store.Aggregate(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 120, stored.TotalXP)

	mirror, err := store.ProfileTotalXP(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 120, mirror)
}

func TestStore_DuplicateSourceIDIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := xp.NewLedger(store)

	_, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{event("alice", "note_1", 10, t0)})
	require.NoError(t, err)

	// WHEN: the same source id is written again
	res, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{event("alice", "note_1", 10, t0)})

	// THEN: nothing is inserted and the total is unchanged
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 10, res.Aggregate.TotalXP)

	// AND: another user may use the same source id
	n, err := store.InsertEvents(ctx, []xp.LedgerEvent{{
		ID: "other", UserID: "bob", Type: xp.EventNoteCreated, Value: 10,
		SourceID: "note_1", Origin: xp.OriginBackfill, CreatedAt: t0,
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_EventsWithoutSourceIDAreNotConstrained(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := xp.NewLedger(store)

	for i := 0; i < 2; i++ {
		_, err := ledger.Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 15})
		require.NoError(t, err)
	}

	total, err := store.SumEventValues(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 30, total)
}

func TestStore_EventsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := xp.NewLedger(store)

	late := event("alice", "note_late", 10, t0.Add(48*time.Hour))
	early := event("alice", "note_early", 10, t0)
	_, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{late, early})
	require.NoError(t, err)

	events, err := store.Events(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 2)

	// THEN: ordered by the activity timestamp, not by insertion
	assert.Equal(t, "note_early", events[0].SourceID)
	assert.True(t, events[0].CreatedAt.Equal(t0))
	assert.Equal(t, xp.OriginBackfill, events[0].Origin)
	assert.NotEmpty(t, events[0].ID)

	// AND: metadata carries source_id and origin alongside context fields
	assert.Equal(t, "note_early", events[0].Metadata["note_id"])
	assert.Equal(t, "note_early", events[0].Metadata[xp.MetaSourceID])
	assert.Equal(t, "backfill", events[0].Metadata[xp.MetaOrigin])
}

func TestStore_RemoveOriginKeepsOrganicEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := xp.NewLedger(store)

	_, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{
		event("alice", "note_1", 100, t0),
		event("alice", "note_2", 100, t0),
	})
	require.NoError(t, err)
	_, err = ledger.Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 30, SourceID: "lesson_1"})
	require.NoError(t, err)

	deleted, agg, err := ledger.RemoveOrigin(ctx, "alice", xp.OriginBackfill)
	require.NoError(t, err)

	assert.Equal(t, 2, deleted)
	assert.Equal(t, 30, agg.TotalXP)
	assert.Equal(t, 1, agg.Level)

	events, err := store.Events(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "lesson_1", events[0].SourceID)
}

func TestStore_AggregateMissingIsNil(t *testing.T) {
	store := newTestStore(t)
	agg, err := store.Aggregate(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, agg)
}

func TestStore_UserIDsFromProfiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, id := range []xp.UserID{"carol", "alice", "bob", "alice"} {
		require.NoError(t, store.AddProfile(ctx, id))
	}

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []xp.UserID{"alice", "bob", "carol"}, ids)
}

// =============================================================================
// ACTIVITY
// =============================================================================

func seedHistory(t *testing.T, store *Store, user xp.UserID) {
	t.Helper()
	done := sql.NullTime{Time: t0.Add(10 * time.Minute), Valid: true}
	require.NoError(t, store.Seed(context.Background(), user, activity.Bundle{
		Flashcards: []activity.Flashcard{
			{ID: "f1", CreatedAt: t0},
			{ID: "f2", CreatedAt: t0.Add(time.Minute)},
		},
		StudySessions: []activity.StudySession{
			{ID: "s1", CorrectAnswers: 10, TotalCards: 10, DurationSeconds: sql.NullInt64{Int64: 200, Valid: true}, CompletedAt: done, CreatedAt: t0},
			{ID: "s2", CorrectAnswers: 3, TotalCards: 10, DurationSeconds: sql.NullInt64{Int64: 100, Valid: true}, CreatedAt: t0},
		},
		Notes: []activity.Note{{ID: "n1", CreatedAt: t0}},
		Goals: []activity.Goal{
			{ID: "g1", Priority: activity.PriorityHigh, Status: activity.GoalStatusCompleted, CompletedAt: done, UpdatedAt: t0},
			{ID: "g2", Priority: activity.PriorityLow, Status: "active", UpdatedAt: t0},
		},
		ReadingSessions: []activity.ReadingSession{
			{ID: "r1", DurationSeconds: 1800, PagesRead: 3, SessionEnd: done, CreatedAt: t0},
		},
		FileUploads: []activity.FileUpload{
			{ID: "u1", FileName: "notes.pdf", FileSize: 2048, ProcessingStatus: activity.ProcessingStatusCompleted, UpdatedAt: t0},
			{ID: "u2", FileName: "draft.pdf", ProcessingStatus: "pending", UpdatedAt: t0},
		},
	}))
}

func TestStore_ActivityFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedHistory(t, store, "alice")
	seedHistory(t, store, "bob")

	bundle, err := activity.NewCollector(store).Collect(ctx, "alice")
	require.NoError(t, err)

	// THEN: incomplete sessions, open goals and pending uploads are excluded
	assert.Equal(t, activity.Counts{
		Flashcards:      2,
		StudySessions:   1,
		Notes:           1,
		Goals:           1,
		ReadingSessions: 1,
		FileUploads:     1,
	}, bundle.Counts())

	s := bundle.StudySessions[0]
	assert.Equal(t, 10, s.CorrectAnswers)
	assert.Equal(t, sql.NullInt64{Int64: 200, Valid: true}, s.DurationSeconds)
	require.True(t, s.CompletedAt.Valid)
	assert.True(t, s.CompletedAt.Time.Equal(t0.Add(10*time.Minute)))

	assert.Equal(t, activity.PriorityHigh, bundle.Goals[0].Priority)
	assert.Equal(t, int64(2048), bundle.FileUploads[0].FileSize)
	assert.Equal(t, int64(1800), bundle.ReadingSeconds())
}

func TestStore_StudySessionDurationKeepsNull(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	done := sql.NullTime{Time: t0, Valid: true}

	// GIVEN: one session recorded as 0 seconds and one with no duration
	require.NoError(t, store.Seed(ctx, "alice", activity.Bundle{
		StudySessions: []activity.StudySession{
			{ID: "instant", CorrectAnswers: 20, TotalCards: 25, DurationSeconds: sql.NullInt64{Int64: 0, Valid: true}, CompletedAt: done, CreatedAt: t0},
			{ID: "untimed", CorrectAnswers: 20, TotalCards: 25, CompletedAt: done, CreatedAt: t0.Add(time.Minute)},
		},
	}))

	// WHEN
	sessions, err := store.StudySessions(ctx, "alice")

	// THEN: only the recorded zero earns the speed bonus
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, sql.NullInt64{Int64: 0, Valid: true}, sessions[0].DurationSeconds)
	assert.False(t, sessions[1].DurationSeconds.Valid)
	assert.Equal(t, 15, rewards.StudySessionXP(sessions[0]))
	assert.Equal(t, 10, rewards.StudySessionXP(sessions[1]))
}

func TestStore_Enrollments(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SeedEnrollments(ctx, "alice",
		activity.Enrollment{ID: "e1", Completed: true},
		activity.Enrollment{ID: "e2", Completed: false},
	))

	got, err := store.Enrollments(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []activity.Enrollment{{ID: "e1", Completed: true}, {ID: "e2", Completed: false}}, got)
}

// =============================================================================
// BADGES
// =============================================================================

func TestStore_BadgeCatalogueRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertBadges(ctx, []rewards.Badge{
		{ID: "bookworm", Name: "Bookworm", XPReward: 60, Criteria: rewards.ReadingHours{Hours: decimal.RequireFromString("2.5")}},
		{ID: "cards", Name: "Cards", XPReward: 25, Criteria: rewards.FlashcardCount{Count: 10}},
	}))
	// Renaming through a second upsert replaces the row.
	require.NoError(t, store.UpsertBadges(ctx, []rewards.Badge{
		{ID: "cards", Name: "Ten Cards", XPReward: 25, Criteria: rewards.FlashcardCount{Count: 10}},
	}))

	badges, err := store.ListBadges(ctx)
	require.NoError(t, err)
	require.Len(t, badges, 2)

	hours, ok := badges[0].Criteria.(rewards.ReadingHours)
	require.True(t, ok)
	assert.True(t, hours.Hours.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, "Ten Cards", badges[1].Name)
	assert.Equal(t, rewards.FlashcardCount{Count: 10}, badges[1].Criteria)
}

func TestStore_MalformedCriteriaDecodesUnsupported(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, err := store.db.ExecContext(ctx,
		`INSERT INTO badges (id, name, criteria) VALUES ('broken', 'Broken', '{"type":"flashcard_created"}')`)
	require.NoError(t, err)

	badges, err := store.ListBadges(ctx)
	require.NoError(t, err)
	require.Len(t, badges, 1)

	_, unsupported := badges[0].Criteria.(rewards.Unsupported)
	assert.True(t, unsupported)
}

func TestStore_AwardBadgeOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	award := rewards.UserBadge{UserID: "alice", BadgeID: "cards", AwardedAt: t0}

	first, err := store.AwardBadge(ctx, award)
	require.NoError(t, err)
	second, err := store.AwardBadge(ctx, award)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)

	held, err := store.UserBadges(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.True(t, held[0].AwardedAt.Equal(t0))
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_BackfillEngine(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.AddProfile(ctx, "alice"))
	require.NoError(t, store.UpsertBadges(ctx, []rewards.Badge{
		{ID: "two-cards", Name: "Two Cards", XPReward: 25, Criteria: rewards.FlashcardCount{Count: 2}},
	}))
	seedHistory(t, store, "alice")

	engine := backfill.NewEngine(backfill.Deps{
		Source:      store,
		Enrollments: store,
		Store:       store,
		Badges:      store,
		Users:       store,
	}, backfill.DefaultOptions())

	// GIVEN: flashcards 10 + study 20 + note 10 + goal 50 + reading 21 + upload 15
	preview, err := engine.Preview(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 126, preview.ProjectedXP)
	assert.Equal(t, 7, preview.EventsToCreate)

	// WHEN: committed twice
	first, err := engine.Commit(ctx, "alice")
	require.NoError(t, err)
	second, err := engine.Commit(ctx, "alice")
	require.NoError(t, err)

	// THEN: the first run writes the history and awards the badge
	assert.Equal(t, 0, first.BeforeXP)
	assert.Equal(t, 126, first.AfterXP)
	assert.Equal(t, 2, first.AfterLevel)
	assert.Equal(t, 7, first.EventsCreated)
	assert.Equal(t, []string{"Two Cards"}, first.BadgesAwarded)

	// AND: the second is a no-op
	assert.Equal(t, 0, second.EventsCreated)
	assert.Equal(t, 126, second.AfterXP)
	assert.Empty(t, second.BadgesAwarded)

	mirror, err := store.ProfileTotalXP(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 126, mirror)

	rb, err := engine.Rollback(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 7, rb.EventsDeleted)
	assert.Equal(t, 0, rb.NewTotalXP)
}

// =============================================================================
// FAILURE PATHS (sqlmock)
// =============================================================================

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestStore_InsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := xp.NewLedger(store)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xp_events").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := ledger.Commit(context.Background(), "alice", []xp.LedgerEvent{event("alice", "note_1", 10, t0)})

	require.Error(t, err)
	assert.ErrorIs(t, err, xp.ErrWriteFailed)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpsertFailureRollsBackInsert(t *testing.T) {
	store, mock := newMockStore(t)
	ledger := xp.NewLedger(store)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO xp_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(event_value\), 0\) FROM xp_events`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(10))
	mock.ExpectExec("INSERT INTO user_xp").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := ledger.Commit(context.Background(), "alice", []xp.LedgerEvent{event("alice", "note_1", 10, t0)})

	require.Error(t, err)
	assert.ErrorIs(t, err, xp.ErrWriteFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListBadgesQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, description, xp_reward, criteria FROM badges").
		WillReturnError(sql.ErrConnDone)

	_, err := store.ListBadges(context.Background())

	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
