/*
Package rewards holds the XP reward rules: the per-activity XP formulas and
the badge catalogue with its award criteria.

PURPOSE:
  The backfill synthesizer prices historical activity with the formulas in
  formulas.go. After new events land, the Evaluator checks every badge the
  user does not already hold against facts derived from the same activity
  bundle and records the ones that now match.

KEY CONCEPTS:
  - Badge: static reference data (name, XP reward, criteria)
  - Criteria: closed set of variants, each evaluating itself against Facts
  - Outcome: Earned, NotEarned, or Skipped (criteria that backfill cannot
    evaluate, e.g. study streaks)
  - UserBadge: append-only award record, primary key (user, badge)

BADGE CRITERIA (stored as JSON on the badge row):
  {"type": "flashcard_created", "count": 10}
  {"type": "study_streak",      "count": 7}
  {"type": "module_completed",  "count": 3}
  {"type": "reading_time",      "hours": 5}

  Unknown types decode to Unsupported and never match.

SEE ALSO:
  - criteria.go: variants and JSON decoding
  - evaluator.go: award loop
  - factory/: badge catalogue loading
*/
package rewards

import (
	"context"
	"time"

	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// BADGES
// =============================================================================

type Badge struct {
	ID          string
	Name        string
	Description string
	XPReward    int
	Criteria    Criteria
}

// UserBadge records that a user holds a badge. Never revoked.
type UserBadge struct {
	UserID    xp.UserID
	BadgeID   string
	AwardedAt time.Time
}

// BadgeStore persists the catalogue and awards.
type BadgeStore interface {
	ListBadges(ctx context.Context) ([]Badge, error)
	UserBadges(ctx context.Context, userID xp.UserID) ([]UserBadge, error)

	// AwardBadge inserts the (user, badge) row. Returns false when the user
	// already held the badge.
	AwardBadge(ctx context.Context, award UserBadge) (bool, error)
}

// CatalogStore can replace the badge catalogue (seeding, admin tooling).
type CatalogStore interface {
	UpsertBadges(ctx context.Context, badges []Badge) error
}

// HeldSet returns the badge ids in awards.
func HeldSet(awards []UserBadge) map[string]bool {
	held := make(map[string]bool, len(awards))
	for _, a := range awards {
		held[a.BadgeID] = true
	}
	return held
}
