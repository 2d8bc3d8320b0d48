/*
ledger.go - The ledger writer

PURPOSE:
  The only code path that mutates the ledger and the aggregate. Every
  mutation ends in a full recomputation:

    insert events -> sum ALL of the user's events -> LevelFor -> upsert
    aggregate -> update legacy mirror

  The total is never old_total + sum(new). A previous run that inserted
  events but died before the upsert is repaired here.

FAILURE ORDERING:
  The aggregate is only touched after a successful insert. When the store
  supports transactions, insert + recompute commit together.

SEE ALSO:
  - store.go: persistence contracts
  - level.go: level curve
  - backfill/engine.go: orchestrates collection, synthesis and this writer
*/
package xp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WriteResult reports what a write changed.
type WriteResult struct {
	Inserted  int
	Aggregate Aggregate
}

// Ledger writes events and keeps the aggregate derived from them.
type Ledger struct {
	Store Store
	Now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Current returns the stored aggregate, or the default for a new user.
func (l *Ledger) Current(ctx context.Context, userID UserID) (Aggregate, error) {
	agg, err := l.Store.Aggregate(ctx, userID)
	if err != nil {
		return Aggregate{}, fmt.Errorf("load aggregate: %w", err)
	}
	if agg == nil {
		return DefaultAggregate(userID), nil
	}
	return *agg, nil
}

// Commit inserts events for userID and recomputes the aggregate.
// With no events it only recomputes.
func (l *Ledger) Commit(ctx context.Context, userID UserID, events []LedgerEvent) (WriteResult, error) {
	if userID == "" {
		return WriteResult{}, ErrUserRequired
	}
	if err := validateEvents(userID, events); err != nil {
		return WriteResult{}, err
	}
	prepared := l.prepare(events)

	var result WriteResult
	err := l.inTx(ctx, func(s Store) error {
		if len(prepared) > 0 {
			n, err := s.InsertEvents(ctx, prepared)
			if err != nil {
				return fmt.Errorf("%w: insert events: %w", ErrWriteFailed, err)
			}
			result.Inserted = n
		}
		agg, err := l.recompute(ctx, s, userID)
		if err != nil {
			return err
		}
		result.Aggregate = agg
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}
	return result, nil
}

// Award records one organic event (the live award path).
func (l *Ledger) Award(ctx context.Context, event LedgerEvent) (WriteResult, error) {
	event.Origin = OriginOrganic
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.Now()
	}
	return l.Commit(ctx, event.UserID, []LedgerEvent{event})
}

// Recompute rebuilds the aggregate from the ledger without inserting.
func (l *Ledger) Recompute(ctx context.Context, userID UserID) (Aggregate, error) {
	var agg Aggregate
	err := l.inTx(ctx, func(s Store) error {
		var err error
		agg, err = l.recompute(ctx, s, userID)
		return err
	})
	return agg, err
}

// RemoveOrigin deletes every event of the given origin for userID and
// recomputes the aggregate from what remains.
func (l *Ledger) RemoveOrigin(ctx context.Context, userID UserID, origin Origin) (int, Aggregate, error) {
	if userID == "" {
		return 0, Aggregate{}, ErrUserRequired
	}
	var (
		deleted int
		agg     Aggregate
	)
	err := l.inTx(ctx, func(s Store) error {
		n, err := s.DeleteEventsByOrigin(ctx, userID, origin)
		if err != nil {
			return fmt.Errorf("%w: delete %s events: %w", ErrWriteFailed, origin, err)
		}
		deleted = n
		agg, err = l.recompute(ctx, s, userID)
		return err
	})
	if err != nil {
		return 0, Aggregate{}, err
	}
	return deleted, agg, nil
}

func (l *Ledger) recompute(ctx context.Context, s Store, userID UserID) (Aggregate, error) {
	total, err := s.SumEventValues(ctx, userID)
	if err != nil {
		return Aggregate{}, fmt.Errorf("sum events: %w", err)
	}
	agg := NewAggregate(userID, total, l.Now())
	if err := s.UpsertAggregate(ctx, agg); err != nil {
		return Aggregate{}, fmt.Errorf("%w: upsert aggregate: %w", ErrWriteFailed, err)
	}
	if err := s.MirrorTotalXP(ctx, userID, total); err != nil {
		return Aggregate{}, fmt.Errorf("%w: mirror total xp: %w", ErrWriteFailed, err)
	}
	return agg, nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(Store) error) error {
	if ts, ok := l.Store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(l.Store)
}

// prepare assigns ids and drops in-batch duplicate source ids.
func (l *Ledger) prepare(events []LedgerEvent) []LedgerEvent {
	out := make([]LedgerEvent, 0, len(events))
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if e.SourceID != "" {
			if seen[e.SourceID] {
				continue
			}
			seen[e.SourceID] = true
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Origin == "" {
			e.Origin = OriginOrganic
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = l.Now()
		}
		out = append(out, e)
	}
	return out
}

func validateEvents(userID UserID, events []LedgerEvent) error {
	var errs []error
	for i, e := range events {
		switch {
		case e.UserID != userID:
			errs = append(errs, &EventError{Index: i, SourceID: e.SourceID, Reason: fmt.Sprintf("belongs to user %q", e.UserID)})
		case e.Type == "":
			errs = append(errs, &EventError{Index: i, SourceID: e.SourceID, Reason: "missing event type"})
		case e.Value < 0:
			errs = append(errs, &EventError{Index: i, SourceID: e.SourceID, Reason: "negative value"})
		}
	}
	return errors.Join(errs...)
}
