/*
Package app wires configuration into a running engine: it opens the store,
seeds the badge catalogue, picks the lock backend and builds the backfill
engine. Both binaries under cmd/ start here.

STARTUP ORDER:
 1. Open the store (sqlite or postgres), which migrates the schema
 2. Upsert the badge catalogue (embedded default or backfill.badge_catalog)
 3. Connect the locker (in-process or redis)
 4. Build the engine with the backfill options

SEE ALSO:
  - config/config.go: settings and defaults
  - cmd/server, cmd/backfill: entry points
*/
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/api"
	"github.com/studyhall/xp-engine/backfill"
	"github.com/studyhall/xp-engine/config"
	"github.com/studyhall/xp-engine/factory"
	"github.com/studyhall/xp-engine/lock"
	"github.com/studyhall/xp-engine/logger"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/store/postgres"
	"github.com/studyhall/xp-engine/store/sqlite"
	"github.com/studyhall/xp-engine/xp"
)

// Store is the full storage surface the engine runs against.
type Store interface {
	xp.Store
	xp.UserLister
	activity.Source
	activity.EnrollmentSource
	rewards.BadgeStore
	rewards.CatalogStore
	Close() error
}

type App struct {
	Config *config.Config
	Log    *logger.Logger
	Store  Store
	Engine *backfill.Engine

	closers []func() error
}

// New builds the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *App, err error) {
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)

	if err := seedCatalog(ctx, a.Store, cfg.Backfill.BadgeCatalog); err != nil {
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}

	a.Engine = backfill.NewEngine(backfill.Deps{
		Source:      a.Store,
		Enrollments: a.Store,
		Store:       a.Store,
		Badges:      a.Store,
		Users:       a.Store,
		Locker:      locker,
		Log:         log,
	}, backfill.Options{
		Concurrency:   cfg.Backfill.Concurrency,
		RetryAttempts: uint(cfg.Backfill.RetryAttempts),
		RetryDelay:    cfg.Backfill.RetryDelay(),
		RecentEvents:  cfg.Backfill.ReportRecentEvents,
	})

	log.Info("engine ready",
		"database", cfg.Database.Driver,
		"lock", cfg.Lock.Driver,
		"concurrency", cfg.Backfill.Concurrency,
	)
	return a, nil
}

// Scenarios returns the demo-data store, or nil when scenarios are
// disabled or the backend cannot seed activity.
func (a *App) Scenarios() api.ScenarioStore {
	if !a.Config.Server.Scenarios {
		return nil
	}
	s, ok := a.Store.(api.ScenarioStore)
	if !ok {
		a.Log.Warn("scenarios need the sqlite backend, disabling", "database", a.Config.Database.Driver)
		return nil
	}
	return s
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// =============================================================================
// COMPONENTS
// =============================================================================

func openStore(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}

func seedCatalog(ctx context.Context, store rewards.CatalogStore, path string) error {
	f := factory.NewBadgeFactory()
	var (
		badges []rewards.Badge
		err    error
	)
	if path == "" {
		badges, err = f.Default()
	} else {
		badges, err = f.LoadFile(path)
	}
	if err != nil {
		return err
	}
	if err := store.UpsertBadges(ctx, badges); err != nil {
		return fmt.Errorf("seed badge catalogue: %w", err)
	}
	return nil
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	cfg := a.Config.Lock
	if cfg.Driver != "redis" {
		return lock.NewLocal(), nil
	}
	r, err := lock.NewRedis(ctx, cfg.RedisAddr, cfg.TTL(), a.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}
