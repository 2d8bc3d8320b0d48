package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

// =============================================================================
// BADGES
// =============================================================================

type badgeRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	XPReward    int    `db:"xp_reward"`
	Criteria    string `db:"criteria"`
}

// ListBadges returns the catalogue. A row with malformed criteria decodes
// to rewards.Unsupported instead of failing the whole list.
func (s *Store) ListBadges(ctx context.Context) ([]rewards.Badge, error) {
	var rows []badgeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, description, xp_reward, criteria FROM badges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select badges: %w", err)
	}

	badges := make([]rewards.Badge, 0, len(rows))
	for _, r := range rows {
		badges = append(badges, rewards.Badge{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			XPReward:    r.XPReward,
			Criteria:    rewards.DecodeCriteria([]byte(r.Criteria)),
		})
	}
	return badges, nil
}

func (s *Store) UpsertBadges(ctx context.Context, badges []rewards.Badge) error {
	return s.inTx(ctx, func(c conn) error {
		for _, b := range badges {
			criteria, err := rewards.MarshalCriteria(b.Criteria)
			if err != nil {
				return fmt.Errorf("marshal criteria for %s: %w", b.ID, err)
			}
			_, err = c.q.ExecContext(ctx, `
				INSERT INTO badges (id, name, description, xp_reward, criteria)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					xp_reward = excluded.xp_reward,
					criteria = excluded.criteria`,
				b.ID, b.Name, b.Description, b.XPReward, string(criteria))
			if err != nil {
				return fmt.Errorf("upsert badge %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

type userBadgeRow struct {
	UserID    string    `db:"user_id"`
	BadgeID   string    `db:"badge_id"`
	AwardedAt time.Time `db:"awarded_at"`
}

func (s *Store) UserBadges(ctx context.Context, userID xp.UserID) ([]rewards.UserBadge, error) {
	var rows []userBadgeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT user_id, badge_id, awarded_at FROM user_badges
		WHERE user_id = ?
		ORDER BY awarded_at, badge_id`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("select user badges: %w", err)
	}

	out := make([]rewards.UserBadge, len(rows))
	for i, r := range rows {
		out[i] = rewards.UserBadge{UserID: xp.UserID(r.UserID), BadgeID: r.BadgeID, AwardedAt: r.AwardedAt.UTC()}
	}
	return out, nil
}

// AwardBadge reports false when the (user, badge) row already existed.
func (s *Store) AwardBadge(ctx context.Context, award rewards.UserBadge) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, awarded_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, badge_id) DO NOTHING`,
		string(award.UserID), award.BadgeID, award.AwardedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert user badge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
