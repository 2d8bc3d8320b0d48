/*
store.go - Persistence contracts for the XP ledger

PURPOSE:
  Defines the interface between the ledger logic and the database.
  SQLite, PostgreSQL and in-memory implementations live under store/.

KEY INTERFACES:
  EventStore:     ledger rows (insert, list, sum, delete-by-origin)
  AggregateStore: user_xp row and the legacy profiles.total_xp mirror
  Store:          both of the above
  TxStore:        Store with atomic multi-statement writes
  UserLister:     enumerates users for bulk runs

IDEMPOTENCY:
  InsertEvents must skip rows whose (user_id, source_id) already exists and
  report only the rows actually written. The unique index is the safety net
  for two runs that read the same "existing events" snapshot.

DELETES:
  The only delete is DeleteEventsByOrigin, used by rollback to remove
  backfill-origin rows. Organic rows are never deleted.

SEE ALSO:
  - ledger.go: the writer built on these contracts
  - store/sqlite, store/postgres, store/memory: implementations
*/
package xp

import "context"

// =============================================================================
// STORE - Ledger and aggregate persistence
// =============================================================================

// EventStore persists ledger events.
type EventStore interface {
	// InsertEvents writes events, skipping (user_id, source_id) conflicts.
	// Returns the number of rows actually inserted.
	InsertEvents(ctx context.Context, events []LedgerEvent) (int, error)

	// Events returns all of a user's events ordered by CreatedAt ascending.
	Events(ctx context.Context, userID UserID) ([]LedgerEvent, error)

	// SumEventValues returns sum(event_value) over all of a user's events.
	SumEventValues(ctx context.Context, userID UserID) (int, error)

	// DeleteEventsByOrigin removes a user's events with the given origin.
	DeleteEventsByOrigin(ctx context.Context, userID UserID, origin Origin) (int, error)
}

// AggregateStore persists the derived aggregate.
type AggregateStore interface {
	// Aggregate returns the stored row, or nil if the user has none.
	Aggregate(ctx context.Context, userID UserID) (*Aggregate, error)

	// UpsertAggregate overwrites the whole row.
	UpsertAggregate(ctx context.Context, agg Aggregate) error

	// MirrorTotalXP updates the legacy profiles.total_xp column.
	MirrorTotalXP(ctx context.Context, userID UserID, totalXP int) error
}

type Store interface {
	EventStore
	AggregateStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// USERS
// =============================================================================

// UserLister enumerates every user a bulk run should visit.
type UserLister interface {
	UserIDs(ctx context.Context) ([]UserID, error)
}
