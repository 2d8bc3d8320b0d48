package backfill

import (
	"context"
	"fmt"

	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// Rollback deletes every backfill-origin event for userID and rebuilds the
// aggregate from what remains. Organic events and badges are untouched.
func (e *Engine) Rollback(ctx context.Context, userID xp.UserID) (_ *RollbackResult, err error) {
	if userID == "" {
		return nil, xp.ErrUserRequired
	}
	ctx, span := e.startSpan(ctx, "backfill.Rollback", userID)
	defer func() { endSpan(span, err) }()

	unlock, err := e.locker.TryLock(ctx, string(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	deleted, agg, err := e.ledger.RemoveOrigin(ctx, userID, xp.OriginBackfill)
	if err != nil {
		return nil, err
	}
	e.log.Info("backfill rolled back", "user_id", userID, "events_deleted", deleted, "new_total_xp", agg.TotalXP)
	return &RollbackResult{
		UserID:        userID,
		EventsDeleted: deleted,
		NewTotalXP:    agg.TotalXP,
		NewLevel:      agg.Level,
	}, nil
}

// Report summarizes the user's ledger split by origin. Read-only.
func (e *Engine) Report(ctx context.Context, userID xp.UserID) (*Report, error) {
	if userID == "" {
		return nil, xp.ErrUserRequired
	}
	agg, err := e.ledger.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.Events(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	held, err := e.badges.UserBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user badges: %w", err)
	}

	r := &Report{
		UserID:       userID,
		CurrentXP:    agg.TotalXP,
		CurrentLevel: agg.Level,
		NextLevelXP:  agg.NextLevelXP,
		TotalEvents:  len(events),
		BadgesEarned: len(held),
	}
	for _, ev := range events {
		if ev.IsBackfill() {
			r.BackfillEvents++
			r.BackfillXP += ev.Value
		} else {
			r.OrganicEvents++
			r.OrganicXP += ev.Value
		}
	}

	// Events come oldest first.
	n := min(e.opts.RecentEvents, len(events))
	r.RecentEvents = make([]xp.LedgerEvent, 0, n)
	for i := len(events) - 1; i >= len(events)-n; i-- {
		r.RecentEvents = append(r.RecentEvents, events[i])
	}
	return r, nil
}

// Stats returns the aggregate and the badges the user holds.
func (e *Engine) Stats(ctx context.Context, userID xp.UserID) (*Stats, error) {
	if userID == "" {
		return nil, xp.ErrUserRequired
	}
	agg, err := e.ledger.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	held, err := e.badges.UserBadges(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user badges: %w", err)
	}
	catalog, err := e.badges.ListBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	byID := make(map[string]rewards.Badge, len(catalog))
	for _, b := range catalog {
		byID[b.ID] = b
	}

	stats := &Stats{Aggregate: agg, Badges: make([]HeldBadge, 0, len(held))}
	for _, h := range held {
		b, ok := byID[h.BadgeID]
		if !ok {
			b = rewards.Badge{ID: h.BadgeID, Name: h.BadgeID}
		}
		stats.Badges = append(stats.Badges, HeldBadge{Badge: b, AwardedAt: h.AwardedAt})
	}
	return stats, nil
}

// Award records a live XP event. When it levels the user up, badges are
// re-evaluated and each new badge's XP reward is recorded as its own
// organic event keyed by "badge_<id>".
func (e *Engine) Award(ctx context.Context, req AwardRequest) (_ *AwardResult, err error) {
	if req.UserID == "" {
		return nil, xp.ErrUserRequired
	}
	ctx, span := e.startSpan(ctx, "xp.Award", req.UserID)
	defer func() { endSpan(span, err) }()

	before, err := e.ledger.Current(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	written, err := e.ledger.Award(ctx, xp.LedgerEvent{
		UserID:   req.UserID,
		Type:     req.Type,
		Value:    req.Value,
		SourceID: req.SourceID,
		Metadata: req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	result := &AwardResult{
		XPAwarded:     req.Value,
		EventsCreated: written.Inserted,
		Aggregate:     written.Aggregate,
		LeveledUp:     written.Aggregate.Level > before.Level,
	}
	if written.Inserted == 0 {
		// Source id already recorded.
		result.XPAwarded = 0
	}
	if !result.LeveledUp {
		return result, nil
	}

	bundle, err := e.collect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	badges, err := e.evaluator.Evaluate(ctx, req.UserID, bundle)
	if err != nil {
		return nil, err
	}
	result.NewBadges = badges

	var rewardEvents []xp.LedgerEvent
	for _, b := range badges {
		if b.XPReward <= 0 {
			continue
		}
		rewardEvents = append(rewardEvents, xp.LedgerEvent{
			UserID:   req.UserID,
			Type:     xp.EventBadgeEarned,
			Value:    b.XPReward,
			SourceID: "badge_" + b.ID,
			Origin:   xp.OriginOrganic,
			Metadata: map[string]any{"badge_id": b.ID, xp.MetaDescription: "Badge earned: " + b.Name},
		})
	}
	if len(rewardEvents) > 0 {
		w, err := e.ledger.Commit(ctx, req.UserID, rewardEvents)
		if err != nil {
			return nil, err
		}
		result.EventsCreated += w.Inserted
		result.Aggregate = w.Aggregate
	}
	e.log.Info("xp awarded",
		"user_id", req.UserID,
		"event_type", req.Type,
		"xp", req.Value,
		"total_xp", result.Aggregate.TotalXP,
		"new_badges", len(badges),
	)
	return result, nil
}
