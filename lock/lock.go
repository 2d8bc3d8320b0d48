// Package lock provides per-user mutual exclusion for mutating runs
// (backfill commit, rollback). Contention fails fast with ErrHeld instead
// of queueing; callers decide whether to retry.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another run holds the key.
var ErrHeld = errors.New("lock held by another run")

// Locker grants exclusive ownership of a key until unlock is called.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// =============================================================================
// LOCAL - In-process key set
// =============================================================================

// Local serializes runs within one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
