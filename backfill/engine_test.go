package backfill_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/backfill"
	"github.com/studyhall/xp-engine/lock"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/store/memory"
	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.May, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Memory
	engine *backfill.Engine
}

// newFixture builds an engine over a fresh memory store. wrap, when set,
// decorates the store as the activity source.
func newFixture(t *testing.T, wrap func(*memory.Memory) activity.Source, locker lock.Locker) *fixture {
	t.Helper()
	store := memory.New()
	var source activity.Source = store
	if wrap != nil {
		source = wrap(store)
	}
	require.NoError(t, store.UpsertBadges(context.Background(), []rewards.Badge{
		{ID: "ten-cards", Name: "Ten Cards", XPReward: 25, Criteria: rewards.FlashcardCount{Count: 10}},
		{ID: "streak", Name: "Streak", Criteria: rewards.StudyStreak{Days: 3}},
	}))
	opts := backfill.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.Now = func() time.Time { return testNow }
	engine := backfill.NewEngine(backfill.Deps{
		Source:      source,
		Enrollments: store,
		Store:       store,
		Badges:      store,
		Users:       store,
		Locker:      locker,
	}, opts)
	return &fixture{store: store, engine: engine}
}

func at(d int) time.Time {
	return time.Date(2024, time.February, d, 12, 0, 0, 0, time.UTC)
}

// seedLearner gives userID 10 flashcards (50), one perfect quick study
// session (20), one high goal (50) and one reading session (21) = 141 XP.
func seedLearner(store *memory.Memory, userID xp.UserID) {
	store.AddProfile(userID)
	var cards []activity.Flashcard
	for i := 0; i < 10; i++ {
		cards = append(cards, activity.Flashcard{ID: fmt.Sprintf("%s-f%d", userID, i), CreatedAt: at(1 + i)})
	}
	store.Seed(userID, activity.Bundle{
		Flashcards: cards,
		StudySessions: []activity.StudySession{
			{ID: "s1", CorrectAnswers: 10, TotalCards: 10, DurationSeconds: sql.NullInt64{Int64: 200, Valid: true}, CompletedAt: sql.NullTime{Time: at(12), Valid: true}, CreatedAt: at(12)},
			{ID: "s-open", CorrectAnswers: 50, TotalCards: 50, CreatedAt: at(12)},
		},
		Goals: []activity.Goal{
			{ID: "g1", Priority: activity.PriorityHigh, Status: "completed", UpdatedAt: at(13)},
			{ID: "g-open", Priority: activity.PriorityHigh, Status: "in_progress", UpdatedAt: at(13)},
		},
		ReadingSessions: []activity.ReadingSession{{ID: "r1", DurationSeconds: 1800, PagesRead: 3, CreatedAt: at(14)}},
		FileUploads:     []activity.FileUpload{{ID: "u-pending", ProcessingStatus: "processing", UpdatedAt: at(15)}},
	})
}

func sumEvents(t *testing.T, store *memory.Memory, userID xp.UserID) int {
	t.Helper()
	events, err := store.Events(context.Background(), userID)
	require.NoError(t, err)
	return xp.SumValues(events)
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommit_AwardsHistoryAndBadges(t *testing.T) {
	// GIVEN: a learner with history and no XP
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")

	// WHEN
	res, err := f.engine.Commit(context.Background(), "alice")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 0, res.BeforeXP)
	assert.Equal(t, 1, res.BeforeLevel)
	assert.Equal(t, 141, res.AfterXP)
	assert.Equal(t, 2, res.AfterLevel)
	assert.Equal(t, 13, res.EventsCreated)
	assert.Equal(t, []string{"Ten Cards"}, res.BadgesAwarded)
	assert.Equal(t, activity.Counts{Flashcards: 10, StudySessions: 1, Goals: 1, ReadingSessions: 1}, res.Activities)

	mirror, _ := f.store.ProfileTotalXP("alice")
	assert.Equal(t, 141, mirror)
}

func TestCommit_Idempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()

	first, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)

	// WHEN: running again with unchanged history
	second, err := f.engine.Commit(ctx, "alice")

	// THEN: nothing new, same totals, badge not re-awarded
	require.NoError(t, err)
	assert.Equal(t, 0, second.EventsCreated)
	assert.Equal(t, first.AfterXP, second.BeforeXP)
	assert.Equal(t, first.AfterXP, second.AfterXP)
	assert.Equal(t, first.AfterLevel, second.AfterLevel)
	assert.Empty(t, second.BadgesAwarded)
}

func TestCommit_SumInvariantWithOrganicHistory(t *testing.T) {
	// GIVEN: organic XP recorded before the backfill
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()
	_, err := f.engine.Ledger().Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 30})
	require.NoError(t, err)

	res, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 30, res.BeforeXP)
	assert.Equal(t, 171, res.AfterXP)
	assert.Equal(t, sumEvents(t, f.store, "alice"), res.AfterXP)
}

func TestCommit_PreservesActivityTimestamps(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")

	_, err := f.engine.Commit(context.Background(), "alice")
	require.NoError(t, err)

	events, err := f.store.Events(context.Background(), "alice")
	require.NoError(t, err)
	for _, e := range events {
		assert.True(t, e.CreatedAt.Before(testNow), "%s stamped %v", e.SourceID, e.CreatedAt)
	}
}

func TestCommit_CollectFailureFailsRun(t *testing.T) {
	f := newFixture(t, failOn("alice"), nil)
	seedLearner(f.store, "alice")

	_, err := f.engine.Commit(context.Background(), "alice")

	assert.ErrorIs(t, err, xp.ErrCollectFailed)
	assert.Equal(t, 0, sumEvents(t, f.store, "alice"))
}

func TestCommit_LockHeld(t *testing.T) {
	locker := lock.NewLocal()
	f := newFixture(t, nil, locker)
	seedLearner(f.store, "alice")

	unlock, err := locker.TryLock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlock()

	_, err = f.engine.Commit(context.Background(), "alice")
	assert.ErrorIs(t, err, lock.ErrHeld)
}

func TestCommit_ConcurrentRunsNeverDuplicate(t *testing.T) {
	// GIVEN: a locker that never blocks, so runs race past the snapshot
	f := newFixture(t, nil, noLock{})
	seedLearner(f.store, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Commit(context.Background(), "alice")
		}()
	}
	wg.Wait()

	// THEN: every source id exactly once
	events, err := f.store.Events(context.Background(), "alice")
	require.NoError(t, err)
	seen := map[string]int{}
	for _, e := range events {
		seen[e.SourceID]++
	}
	assert.Len(t, events, 13)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	agg, err := f.engine.Ledger().Current(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 141, agg.TotalXP)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_WritesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()

	p, err := f.engine.Preview(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, 0, p.BeforeXP)
	assert.Equal(t, 141, p.ProjectedXP)
	assert.Equal(t, 2, p.ProjectedLevel)
	assert.Equal(t, 13, p.EventsToCreate)
	assert.Equal(t, 141, p.BackfillXP)

	events, _ := f.store.Events(ctx, "alice")
	assert.Empty(t, events)
	agg, _ := f.store.Aggregate(ctx, "alice")
	assert.Nil(t, agg)
	held, _ := f.store.UserBadges(ctx, "alice")
	assert.Empty(t, held)
}

func TestPreview_MatchesCommit(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()

	p, err := f.engine.Preview(ctx, "alice")
	require.NoError(t, err)
	c, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, p.ProjectedXP, c.AfterXP)
	assert.Equal(t, p.ProjectedLevel, c.AfterLevel)
	assert.Equal(t, p.EventsToCreate, c.EventsCreated)
}

// =============================================================================
// ROLLBACK / REPORT / STATS
// =============================================================================

func TestRollback_RemovesOnlyBackfill(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()
	_, err := f.engine.Ledger().Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 30})
	require.NoError(t, err)
	_, err = f.engine.Commit(ctx, "alice")
	require.NoError(t, err)

	res, err := f.engine.Rollback(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, 13, res.EventsDeleted)
	assert.Equal(t, 30, res.NewTotalXP)
	assert.Equal(t, 1, res.NewLevel)
	held, _ := f.store.UserBadges(ctx, "alice")
	assert.Len(t, held, 1, "badges survive rollback")

	// A later backfill re-creates the same events.
	again, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 13, again.EventsCreated)
	assert.Equal(t, 171, again.AfterXP)
}

func TestReport(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()
	_, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)
	_, err = f.engine.Ledger().Award(ctx, xp.LedgerEvent{UserID: "alice", Type: xp.EventLessonCompleted, Value: 30})
	require.NoError(t, err)

	r, err := f.engine.Report(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, 171, r.CurrentXP)
	assert.Equal(t, 14, r.TotalEvents)
	assert.Equal(t, 13, r.BackfillEvents)
	assert.Equal(t, 1, r.OrganicEvents)
	assert.Equal(t, 141, r.BackfillXP)
	assert.Equal(t, 30, r.OrganicXP)
	assert.Equal(t, 1, r.BadgesEarned)
	require.Len(t, r.RecentEvents, 10)
	// The organic award is stamped "now", after all history.
	assert.Equal(t, xp.EventLessonCompleted, r.RecentEvents[0].Type)
	for i := 1; i < len(r.RecentEvents); i++ {
		assert.False(t, r.RecentEvents[i].CreatedAt.After(r.RecentEvents[i-1].CreatedAt))
	}
}

func TestReport_NewUserDefaults(t *testing.T) {
	f := newFixture(t, nil, nil)

	r, err := f.engine.Report(context.Background(), "ghost")

	require.NoError(t, err)
	assert.Equal(t, 0, r.CurrentXP)
	assert.Equal(t, 1, r.CurrentLevel)
	assert.Equal(t, 100, r.NextLevelXP)
	assert.Empty(t, r.RecentEvents)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()
	_, err := f.engine.Commit(ctx, "alice")
	require.NoError(t, err)

	s, err := f.engine.Stats(ctx, "alice")

	require.NoError(t, err)
	assert.Equal(t, 141, s.Aggregate.TotalXP)
	require.Len(t, s.Badges, 1)
	assert.Equal(t, "Ten Cards", s.Badges[0].Badge.Name)
	assert.Equal(t, testNow, s.Badges[0].AwardedAt)
}

// =============================================================================
// AWARD
// =============================================================================

func TestAward_LevelUpEvaluatesBadges(t *testing.T) {
	// GIVEN: ten flashcards of history but no backfill yet
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	ctx := context.Background()

	// WHEN: a live award crosses level 2
	res, err := f.engine.Award(ctx, backfill.AwardRequest{UserID: "alice", Type: xp.EventLessonCompleted, Value: 120})

	// THEN: badge awarded with its XP as a separate organic event
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 120, res.XPAwarded)
	require.Len(t, res.NewBadges, 1)
	assert.Equal(t, 2, res.EventsCreated)
	assert.Equal(t, 145, res.Aggregate.TotalXP)

	events, _ := f.store.Events(ctx, "alice")
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, xp.OriginOrganic, e.Origin)
	}
}

func TestAward_NoLevelUpSkipsBadges(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")

	res, err := f.engine.Award(context.Background(), backfill.AwardRequest{UserID: "alice", Type: xp.EventLessonCompleted, Value: 20})

	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Empty(t, res.NewBadges)
	assert.Equal(t, 20, res.Aggregate.TotalXP)
}

func TestAward_RejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.engine.Award(context.Background(), backfill.AwardRequest{UserID: "alice", Value: 10})
	assert.ErrorIs(t, err, xp.ErrInvalidEvent)

	_, err = f.engine.Award(context.Background(), backfill.AwardRequest{Type: xp.EventLessonCompleted, Value: 10})
	assert.ErrorIs(t, err, xp.ErrUserRequired)
}

// =============================================================================
// BULK
// =============================================================================

func TestRunAll_FailuresAreTagged(t *testing.T) {
	// GIVEN: three users, one whose goals cannot be read
	f := newFixture(t, failOn("bob"), nil)
	seedLearner(f.store, "alice")
	seedLearner(f.store, "bob")
	seedLearner(f.store, "carol")

	// WHEN
	summary, err := f.engine.RunAll(context.Background(), false)

	// THEN: bob is failed, not a zero result, and order is preserved
	require.NoError(t, err)
	assert.Equal(t, 3, summary.UsersProcessed)
	assert.Equal(t, 2, summary.UsersSucceeded)
	assert.Equal(t, 1, summary.UsersFailed)
	assert.Equal(t, 282, summary.TotalXPAwarded)
	assert.Equal(t, 26, summary.TotalEvents)
	assert.Equal(t, 2, summary.TotalBadges)

	require.Len(t, summary.Results, 3)
	assert.Equal(t, xp.UserID("alice"), summary.Results[0].UserID)
	bob := summary.Results[1]
	assert.Equal(t, xp.UserID("bob"), bob.UserID)
	assert.Equal(t, backfill.StatusFailed, bob.Status)
	assert.Nil(t, bob.Outcome)
	assert.ErrorIs(t, bob.Err, xp.ErrCollectFailed)
	assert.Equal(t, 3, bob.Attempts)
	assert.Equal(t, backfill.StatusSucceeded, summary.Results[2].Status)
}

func TestRunAll_DryRun(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedLearner(f.store, "alice")
	seedLearner(f.store, "bob")

	summary, err := f.engine.RunAll(context.Background(), true)

	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 282, summary.TotalXPAwarded)
	assert.Equal(t, 26, summary.TotalEvents)
	assert.Equal(t, 0, summary.TotalBadges)
	assert.Equal(t, 0, sumEvents(t, f.store, "alice"))
}

func TestRunAll_Concurrent(t *testing.T) {
	store := memory.New()
	opts := backfill.DefaultOptions()
	opts.Concurrency = 4
	engine := backfill.NewEngine(backfill.Deps{Source: store, Store: store, Badges: store, Users: store}, opts)
	for i := 0; i < 12; i++ {
		seedLearner(store, xp.UserID(fmt.Sprintf("user-%02d", i)))
	}

	summary, err := engine.RunAll(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 12, summary.UsersSucceeded)
	for i, r := range summary.Results {
		assert.Equal(t, xp.UserID(fmt.Sprintf("user-%02d", i)), r.UserID)
		assert.Equal(t, 141, r.Outcome.Commit.AfterXP)
	}
}

func newFlakyBadgeFixture(t *testing.T, failures int) (*memory.Memory, *flakyBadges, *backfill.Engine) {
	t.Helper()
	f := newFixture(t, nil, nil)
	badges := &flakyBadges{Memory: f.store, failures: failures}
	opts := backfill.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	opts.Now = func() time.Time { return testNow }
	engine := backfill.NewEngine(backfill.Deps{
		Source: f.store,
		Store:  f.store,
		Badges: badges,
		Users:  f.store,
	}, opts)
	return f.store, badges, engine
}

func TestRunAll_RetryKeepsEarlierWrites(t *testing.T) {
	// GIVEN: the first badge insert fails after the ledger write landed
	store, badges, engine := newFlakyBadgeFixture(t, 1)
	seedLearner(store, "alice")

	// WHEN
	summary, err := engine.RunAll(context.Background(), false)

	// THEN: the retry succeeds and the result covers both attempts
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	alice := summary.Results[0]
	assert.Equal(t, backfill.StatusSucceeded, alice.Status)
	assert.Equal(t, 2, alice.Attempts)
	assert.Equal(t, 2, badges.calls)

	res := alice.Outcome.Commit
	assert.Equal(t, 0, res.BeforeXP)
	assert.Equal(t, 1, res.BeforeLevel)
	assert.Equal(t, 141, res.AfterXP)
	assert.Equal(t, 13, res.EventsCreated)
	assert.Equal(t, []string{"Ten Cards"}, res.BadgesAwarded)

	assert.Equal(t, 141, summary.TotalXPAwarded)
	assert.Equal(t, 13, summary.TotalEvents)
	assert.Equal(t, 1, summary.TotalBadges)
	assert.Equal(t, 141, sumEvents(t, store, "alice"))
}

func TestRunAll_FailedRunReportsWrittenEvents(t *testing.T) {
	// GIVEN: badge inserts never succeed
	store, _, engine := newFlakyBadgeFixture(t, 100)
	seedLearner(store, "alice")

	// WHEN
	summary, err := engine.RunAll(context.Background(), false)

	// THEN: failed, but the ledger writes are not hidden
	require.NoError(t, err)
	alice := summary.Results[0]
	assert.Equal(t, backfill.StatusFailed, alice.Status)
	assert.Equal(t, 3, alice.Attempts)
	assert.Nil(t, alice.Outcome)
	assert.ErrorIs(t, alice.Err, xp.ErrWriteFailed)
	require.NotNil(t, alice.Partial)
	assert.Equal(t, 0, alice.Partial.BeforeXP)
	assert.Equal(t, 141, alice.Partial.AfterXP)
	assert.Equal(t, 13, alice.Partial.EventsCreated)

	assert.Equal(t, 1, summary.UsersFailed)
	assert.Equal(t, 141, summary.TotalXPAwarded)
	assert.Equal(t, 13, summary.TotalEvents)
}

func TestCommit_BadgeFailureReturnsWrite(t *testing.T) {
	store, _, engine := newFlakyBadgeFixture(t, 1)
	seedLearner(store, "alice")

	res, err := engine.Commit(context.Background(), "alice")

	assert.ErrorIs(t, err, xp.ErrWriteFailed)
	require.NotNil(t, res)
	assert.Equal(t, 13, res.EventsCreated)
	assert.Equal(t, 141, res.AfterXP)
	assert.Empty(t, res.BadgesAwarded)
}

func TestRunAll_ListFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.Fail(memory.OpUserIDs, errors.New("db down"))

	_, err := f.engine.RunAll(context.Background(), false)
	assert.Error(t, err)
}

// =============================================================================
// TEST DOUBLES
// =============================================================================

// failingSource fails the goals query for one user.
type failingSource struct {
	*memory.Memory
	failUser xp.UserID
}

func (s failingSource) Goals(ctx context.Context, userID xp.UserID) ([]activity.Goal, error) {
	if userID == s.failUser {
		return nil, errors.New("goals: connection reset")
	}
	return s.Memory.Goals(ctx, userID)
}

func failOn(userID xp.UserID) func(*memory.Memory) activity.Source {
	return func(m *memory.Memory) activity.Source {
		return failingSource{Memory: m, failUser: userID}
	}
}

type noLock struct{}

func (noLock) TryLock(context.Context, string) (func(), error) { return func() {}, nil }

// flakyBadges fails the first n badge inserts.
type flakyBadges struct {
	*memory.Memory
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *flakyBadges) AwardBadge(ctx context.Context, award rewards.UserBadge) (bool, error) {
	b.mu.Lock()
	b.calls++
	fail := b.calls <= b.failures
	b.mu.Unlock()
	if fail {
		return false, errors.New("badge insert timed out")
	}
	return b.Memory.AwardBadge(ctx, award)
}
