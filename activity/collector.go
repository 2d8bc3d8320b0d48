package activity

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/studyhall/xp-engine/xp"
)

// Collector fetches a user's six activity domains concurrently.
type Collector struct {
	Source Source
}

func NewCollector(source Source) *Collector {
	return &Collector{Source: source}
}

// Collect returns the full bundle or an error. A failed domain fails the
// whole collection: returning the other five would under-count XP and look
// exactly like "no activity".
func (c *Collector) Collect(ctx context.Context, userID xp.UserID) (Bundle, error) {
	if userID == "" {
		return Bundle{}, xp.ErrUserRequired
	}

	var b Bundle
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := c.Source.Flashcards(gctx, userID)
		b.Flashcards = rows
		return wrapDomain(DomainFlashcard, err)
	})
	g.Go(func() error {
		rows, err := c.Source.StudySessions(gctx, userID)
		b.StudySessions = rows
		return wrapDomain(DomainStudySession, err)
	})
	g.Go(func() error {
		rows, err := c.Source.Notes(gctx, userID)
		b.Notes = rows
		return wrapDomain(DomainNote, err)
	})
	g.Go(func() error {
		rows, err := c.Source.Goals(gctx, userID)
		b.Goals = rows
		return wrapDomain(DomainGoal, err)
	})
	g.Go(func() error {
		rows, err := c.Source.ReadingSessions(gctx, userID)
		b.ReadingSessions = rows
		return wrapDomain(DomainReadingSession, err)
	})
	g.Go(func() error {
		rows, err := c.Source.FileUploads(gctx, userID)
		b.FileUploads = rows
		return wrapDomain(DomainFileUpload, err)
	})

	if err := g.Wait(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

func wrapDomain(d Domain, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: collect %s: %w", xp.ErrCollectFailed, d, err)
}
