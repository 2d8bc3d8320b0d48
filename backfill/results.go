package backfill

import (
	"time"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// SINGLE-USER RESULTS
// =============================================================================

// Projection is a dry run: what a commit would do, with nothing written.
type Projection struct {
	UserID         xp.UserID
	BeforeXP       int
	BeforeLevel    int
	ProjectedXP    int
	ProjectedLevel int
	EventsToCreate int
	BackfillXP     int
	Activities     activity.Counts
}

// CommitResult always carries concrete before/after values. Zero events
// created is a valid result.
type CommitResult struct {
	UserID        xp.UserID
	BeforeXP      int
	AfterXP       int
	BeforeLevel   int
	AfterLevel    int
	EventsCreated int
	BadgesAwarded []string
	Activities    activity.Counts
}

// after folds an earlier attempt's commit into c: the run starts at the
// earlier before values and counts every event and badge either wrote.
func (c *CommitResult) after(earlier *CommitResult) *CommitResult {
	if earlier == nil {
		return c
	}
	merged := *c
	merged.BeforeXP = earlier.BeforeXP
	merged.BeforeLevel = earlier.BeforeLevel
	merged.EventsCreated += earlier.EventsCreated
	merged.BadgesAwarded = append(append([]string{}, earlier.BadgesAwarded...), c.BadgesAwarded...)
	return &merged
}

// Outcome is one user's run: exactly one of Projection or Commit is set.
type Outcome struct {
	DryRun     bool
	Projection *Projection
	Commit     *CommitResult
}

// XPDelta is after-before for commits, projected-before for dry runs.
func (o Outcome) XPDelta() int {
	if o.Projection != nil {
		return o.Projection.ProjectedXP - o.Projection.BeforeXP
	}
	if o.Commit != nil {
		return o.Commit.AfterXP - o.Commit.BeforeXP
	}
	return 0
}

func (o Outcome) Events() int {
	if o.Projection != nil {
		return o.Projection.EventsToCreate
	}
	if o.Commit != nil {
		return o.Commit.EventsCreated
	}
	return 0
}

func (o Outcome) Badges() int {
	if o.Commit != nil {
		return len(o.Commit.BadgesAwarded)
	}
	return 0
}

// =============================================================================
// BULK RESULTS
// =============================================================================

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// UserOutcome is a tagged result: Outcome is set when Status is succeeded,
// Err when failed. A failure is never reported as a zero result. Partial
// records ledger writes a failed run made before giving up.
type UserOutcome struct {
	UserID   xp.UserID
	Status   Status
	Outcome  *Outcome
	Partial  *CommitResult
	Err      error
	Attempts int
}

type BatchSummary struct {
	DryRun         bool
	UsersProcessed int
	UsersSucceeded int
	UsersFailed    int
	TotalXPAwarded int
	TotalEvents    int
	TotalBadges    int
	Results        []UserOutcome
}

func summarize(dryRun bool, results []UserOutcome) *BatchSummary {
	s := &BatchSummary{DryRun: dryRun, UsersProcessed: len(results), Results: results}
	for _, r := range results {
		if r.Status != StatusSucceeded {
			s.UsersFailed++
			if p := r.Partial; p != nil {
				s.TotalXPAwarded += p.AfterXP - p.BeforeXP
				s.TotalEvents += p.EventsCreated
				s.TotalBadges += len(p.BadgesAwarded)
			}
			continue
		}
		s.UsersSucceeded++
		s.TotalXPAwarded += r.Outcome.XPDelta()
		s.TotalEvents += r.Outcome.Events()
		s.TotalBadges += r.Outcome.Badges()
	}
	return s
}

// =============================================================================
// ROLLBACK / REPORT / STATS / AWARD
// =============================================================================

type RollbackResult struct {
	UserID        xp.UserID
	EventsDeleted int
	NewTotalXP    int
	NewLevel      int
}

type Report struct {
	UserID         xp.UserID
	CurrentXP      int
	CurrentLevel   int
	NextLevelXP    int
	TotalEvents    int
	BackfillEvents int
	OrganicEvents  int
	BackfillXP     int
	OrganicXP      int
	BadgesEarned   int
	// RecentEvents is newest first.
	RecentEvents []xp.LedgerEvent
}

type HeldBadge struct {
	Badge     rewards.Badge
	AwardedAt time.Time
}

type Stats struct {
	Aggregate xp.Aggregate
	Badges    []HeldBadge
}

// AwardRequest is one live XP award.
type AwardRequest struct {
	UserID   xp.UserID
	Type     xp.EventType
	Value    int
	SourceID string
	Metadata map[string]any
}

type AwardResult struct {
	XPAwarded     int
	EventsCreated int
	Aggregate     xp.Aggregate
	LeveledUp     bool
	NewBadges     []rewards.Badge
}
