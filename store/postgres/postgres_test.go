package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// These tests need a scratch database: XP_TEST_POSTGRES_DSN=postgres://...
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("XP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("XP_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPostgres_CommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.AddProfile(ctx, "alice"))
	ledger := xp.NewLedger(store)

	events := []xp.LedgerEvent{
		{UserID: "alice", Type: xp.EventNoteCreated, Value: 100, SourceID: "note_1", Origin: xp.OriginBackfill, CreatedAt: t0},
		{UserID: "alice", Type: xp.EventNoteCreated, Value: 20, SourceID: "note_2", Origin: xp.OriginBackfill, CreatedAt: t0},
	}
	first, err := ledger.Commit(ctx, "alice", events)
	require.NoError(t, err)
	second, err := ledger.Commit(ctx, "alice", events)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 120, second.Aggregate.TotalXP)
	assert.Equal(t, 2, second.Aggregate.Level)

	stored, err := store.Events(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[0].CreatedAt.Equal(t0))
	assert.Equal(t, "backfill", stored[0].Metadata[xp.MetaOrigin])

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []xp.UserID{"alice"}, ids)
}

func TestPostgres_ConflictsKeepTransactionUsable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// GIVEN: a batch with a source id conflict and an id conflict
	events := []xp.LedgerEvent{
		{ID: "e1", UserID: "alice", Type: xp.EventNoteCreated, Value: 10, SourceID: "note_1", Origin: xp.OriginBackfill, CreatedAt: t0},
		{ID: "e2", UserID: "alice", Type: xp.EventNoteCreated, Value: 10, SourceID: "note_1", Origin: xp.OriginBackfill, CreatedAt: t0},
		{ID: "e1", UserID: "alice", Type: xp.EventNoteCreated, Value: 10, SourceID: "note_2", Origin: xp.OriginBackfill, CreatedAt: t0},
		{ID: "e3", UserID: "alice", Type: xp.EventNoteCreated, Value: 15, SourceID: "note_3", Origin: xp.OriginBackfill, CreatedAt: t0},
	}

	// WHEN: inserted and summed in one transaction
	var inserted, sum int
	err := store.WithTx(ctx, func(tx xp.Store) error {
		var err error
		if inserted, err = tx.InsertEvents(ctx, events); err != nil {
			return err
		}
		sum, err = tx.SumEventValues(ctx, "alice")
		return err
	})

	// THEN: conflicts are skipped and later statements still run
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 25, sum)
}

func TestPostgres_RemoveOrigin(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ledger := xp.NewLedger(store)

	_, err := ledger.Commit(ctx, "alice", []xp.LedgerEvent{
		{UserID: "alice", Type: xp.EventNoteCreated, Value: 10, SourceID: "note_1", Origin: xp.OriginBackfill, CreatedAt: t0},
	})
	require.NoError(t, err)
	_, err = ledger.Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 5})
	require.NoError(t, err)

	deleted, agg, err := ledger.RemoveOrigin(ctx, "alice", xp.OriginBackfill)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 5, agg.TotalXP)
}

func TestPostgres_BadgesAndActivity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertBadges(ctx, []rewards.Badge{
		{ID: "cards", Name: "Cards", XPReward: 25, Criteria: rewards.FlashcardCount{Count: 1}},
	}))
	require.NoError(t, store.SeedFlashcards(ctx, "alice", activity.Flashcard{ID: "f1", CreatedAt: t0}))

	badges, err := store.ListBadges(ctx)
	require.NoError(t, err)
	require.Len(t, badges, 1)
	assert.Equal(t, rewards.FlashcardCount{Count: 1}, badges[0].Criteria)

	cards, err := store.Flashcards(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cards, 1)

	first, err := store.AwardBadge(ctx, rewards.UserBadge{UserID: "alice", BadgeID: "cards", AwardedAt: t0})
	require.NoError(t, err)
	again, err := store.AwardBadge(ctx, rewards.UserBadge{UserID: "alice", BadgeID: "cards", AwardedAt: t0})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, again)
}
