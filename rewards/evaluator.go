package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/logger"
	"github.com/studyhall/xp-engine/xp"
)

// Evaluator awards badges a user newly qualifies for.
type Evaluator struct {
	Badges BadgeStore

	// Enrollments is optional. Without it module badges are skipped.
	Enrollments activity.EnrollmentSource

	Log *logger.Logger
	Now func() time.Time
}

func NewEvaluator(badges BadgeStore, enrollments activity.EnrollmentSource, log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Evaluator{
		Badges:      badges,
		Enrollments: enrollments,
		Log:         log,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// FactsFromBundle derives evaluation facts from collected activity.
func FactsFromBundle(b activity.Bundle) Facts {
	return Facts{
		Flashcards:     len(b.Flashcards),
		ReadingSeconds: b.ReadingSeconds(),
	}
}

// Evaluate checks every badge userID does not hold against bundle and
// records the ones now earned. Returns only newly awarded badges.
func (e *Evaluator) Evaluate(ctx context.Context, userID xp.UserID, bundle activity.Bundle) ([]Badge, error) {
	catalog, err := e.Badges.ListBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	awards, err := e.Badges.UserBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	held := HeldSet(awards)

	var pending []Badge
	needModules := false
	for _, b := range catalog {
		if held[b.ID] {
			continue
		}
		pending = append(pending, b)
		if _, ok := b.Criteria.(ModuleCount); ok {
			needModules = true
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	facts := FactsFromBundle(bundle)
	if needModules && e.Enrollments != nil {
		enrollments, err := e.Enrollments.Enrollments(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load enrollments: %w", err)
		}
		facts.ModulesKnown = true
		for _, en := range enrollments {
			if en.Completed {
				facts.CompletedModules++
			}
		}
	}

	var earned []Badge
	for _, b := range pending {
		switch b.Criteria.Evaluate(facts) {
		case Earned:
		case Skipped:
			e.Log.Debug("badge skipped", "badge_id", b.ID, "criteria", b.Criteria.Type())
			continue
		default:
			if u, ok := b.Criteria.(Unsupported); ok {
				e.Log.Warn("unsupported badge criteria", "badge_id", b.ID, "criteria", u.Kind, "reason", u.Reason)
			}
			continue
		}

		inserted, err := e.Badges.AwardBadge(ctx, UserBadge{UserID: userID, BadgeID: b.ID, AwardedAt: e.Now()})
		if err != nil {
			return earned, fmt.Errorf("%w: award badge %s: %w", xp.ErrWriteFailed, b.ID, err)
		}
		if !inserted {
			// A concurrent run got there first.
			continue
		}
		e.Log.Info("badge awarded", "user_id", userID, "badge_id", b.ID, "badge", b.Name)
		earned = append(earned, b)
	}
	return earned, nil
}
