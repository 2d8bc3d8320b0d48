/*
Package backfill replays historical learning activity into the XP ledger.

PURPOSE:
  XP tracking went live after users had already created flashcards, notes,
  goals and so on. The engine collects that history, prices it, writes the
  missing events and rebuilds each user's aggregate, once per activity
  record no matter how many times it runs.

PIPELINE (one user):
  collecting -> synthesizing -> dry run: project and stop
                             -> commit:  write ledger -> evaluate badges

  Dry run (Preview) never takes the lock and never writes. Commit holds the
  per-user lock for the whole pipeline.

IDEMPOTENCY:
  Each run snapshots the user's existing source ids before synthesizing.
  Two runs that race past the snapshot are still safe: the storage unique
  index on (user_id, source_id) skips the duplicate rows.

BULK RUNS:
  RunAll visits every profile, up to Options.Concurrency users at a time.
  Each user's result is tagged succeeded or failed; retryable failures are
  retried with backoff since the pipeline is idempotent.

SEE ALSO:
  - synthesize.go: activity -> ledger events
  - ops.go: rollback, report, stats, live awards
  - xp/ledger.go: the writer
*/
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/studyhall/xp-engine/activity"
	"github.com/studyhall/xp-engine/lock"
	"github.com/studyhall/xp-engine/logger"
	"github.com/studyhall/xp-engine/rewards"
	"github.com/studyhall/xp-engine/xp"
)

const tracerName = "github.com/studyhall/xp-engine/backfill"

// =============================================================================
// CONFIGURATION
// =============================================================================

// Deps are the engine's collaborators.
type Deps struct {
	Source      activity.Source
	Enrollments activity.EnrollmentSource // optional
	Store       xp.Store
	Badges      rewards.BadgeStore
	Users       xp.UserLister
	Locker      lock.Locker // defaults to lock.NewLocal()
	Log         *logger.Logger
}

type Options struct {
	// Concurrency is how many users RunAll processes at once. Minimum 1.
	Concurrency int
	// RetryAttempts is the total tries per user in RunAll. Minimum 1.
	RetryAttempts uint
	// RetryDelay is the base backoff delay between tries.
	RetryDelay time.Duration
	// RecentEvents is how many events Report returns.
	RecentEvents int
	// Now overrides the clock (tests).
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Concurrency:   1,
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
		RecentEvents:  10,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	collector *activity.Collector
	ledger    *xp.Ledger
	store     xp.Store
	evaluator *rewards.Evaluator
	badges    rewards.BadgeStore
	users     xp.UserLister
	locker    lock.Locker
	log       *logger.Logger
	tracer    trace.Tracer
	opts      Options
}

func NewEngine(d Deps, opts Options) *Engine {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RecentEvents < 1 {
		opts.RecentEvents = DefaultOptions().RecentEvents
	}

	ledger := xp.NewLedger(d.Store)
	evaluator := rewards.NewEvaluator(d.Badges, d.Enrollments, d.Log)
	if opts.Now != nil {
		ledger.Now = opts.Now
		evaluator.Now = opts.Now
	}

	return &Engine{
		collector: activity.NewCollector(d.Source),
		ledger:    ledger,
		store:     d.Store,
		evaluator: evaluator,
		badges:    d.Badges,
		users:     d.Users,
		locker:    d.Locker,
		log:       d.Log.With("service", "BackfillEngine"),
		tracer:    otel.Tracer(tracerName),
		opts:      opts,
	}
}

// Ledger exposes the writer the engine uses.
func (e *Engine) Ledger() *xp.Ledger { return e.ledger }

// Run is Preview when dryRun is set, Commit otherwise. Like Commit, it can
// return a partial outcome alongside an error.
func (e *Engine) Run(ctx context.Context, userID xp.UserID, dryRun bool) (*Outcome, error) {
	if dryRun {
		p, err := e.Preview(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &Outcome{DryRun: true, Projection: p}, nil
	}
	c, err := e.Commit(ctx, userID)
	if c == nil {
		return nil, err
	}
	return &Outcome{Commit: c}, err
}

// Preview projects a commit without writing anything.
func (e *Engine) Preview(ctx context.Context, userID xp.UserID) (_ *Projection, err error) {
	if userID == "" {
		return nil, xp.ErrUserRequired
	}
	ctx, span := e.startSpan(ctx, "backfill.Preview", userID)
	defer func() { endSpan(span, err) }()

	before, err := e.ledger.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	bundle, err := e.collect(ctx, userID)
	if err != nil {
		return nil, err
	}
	existing, candidates, err := e.synthesize(ctx, userID, bundle)
	if err != nil {
		return nil, err
	}

	backfillXP := xp.SumValues(candidates)
	projected := xp.SumValues(existing) + backfillXP
	level, _ := xp.LevelFor(projected)

	e.log.Debug("backfill projected", "user_id", userID, "events", len(candidates), "backfill_xp", backfillXP)
	return &Projection{
		UserID:         userID,
		BeforeXP:       before.TotalXP,
		BeforeLevel:    before.Level,
		ProjectedXP:    projected,
		ProjectedLevel: level,
		EventsToCreate: len(candidates),
		BackfillXP:     backfillXP,
		Activities:     bundle.Counts(),
	}, nil
}

// Commit runs the full pipeline under the user's lock. If badge evaluation
// fails after the ledger write, the result describing the write is returned
// together with the error.
func (e *Engine) Commit(ctx context.Context, userID xp.UserID) (_ *CommitResult, err error) {
	if userID == "" {
		return nil, xp.ErrUserRequired
	}
	ctx, span := e.startSpan(ctx, "backfill.Commit", userID)
	defer func() { endSpan(span, err) }()

	unlock, err := e.locker.TryLock(ctx, string(userID))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	before, err := e.ledger.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	bundle, err := e.collect(ctx, userID)
	if err != nil {
		return nil, err
	}
	_, candidates, err := e.synthesize(ctx, userID, bundle)
	if err != nil {
		return nil, err
	}

	e.log.Debug("backfill writing", "user_id", userID, "events", len(candidates))
	written, err := e.ledger.Commit(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}

	e.log.Debug("backfill evaluating badges", "user_id", userID)
	badges, evalErr := e.evaluator.Evaluate(ctx, userID, bundle)
	names := make([]string, 0, len(badges))
	for _, b := range badges {
		names = append(names, b.Name)
	}
	result := &CommitResult{
		UserID:        userID,
		BeforeXP:      before.TotalXP,
		AfterXP:       written.Aggregate.TotalXP,
		BeforeLevel:   before.Level,
		AfterLevel:    written.Aggregate.Level,
		EventsCreated: written.Inserted,
		BadgesAwarded: names,
		Activities:    bundle.Counts(),
	}
	if evalErr != nil {
		// The events are already in the ledger; report them with the error.
		return result, fmt.Errorf("evaluate badges: %w", evalErr)
	}

	e.log.Info("backfill committed",
		"user_id", userID,
		"before_xp", before.TotalXP,
		"after_xp", written.Aggregate.TotalXP,
		"events_created", written.Inserted,
		"badges_awarded", len(names),
	)
	return result, nil
}

func (e *Engine) collect(ctx context.Context, userID xp.UserID) (activity.Bundle, error) {
	ctx, span := e.tracer.Start(ctx, "backfill.collect")
	defer span.End()

	bundle, err := e.collector.Collect(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return activity.Bundle{}, err
	}
	c := bundle.Counts()
	e.log.Debug("backfill collected",
		"user_id", userID,
		"flashcards", c.Flashcards,
		"study_sessions", c.StudySessions,
		"notes", c.Notes,
		"goals", c.Goals,
		"reading_sessions", c.ReadingSessions,
		"file_uploads", c.FileUploads,
	)
	return bundle, nil
}

// synthesize snapshots the user's events once and returns them with the
// candidates for everything not yet in the ledger.
func (e *Engine) synthesize(ctx context.Context, userID xp.UserID, bundle activity.Bundle) ([]xp.LedgerEvent, []xp.LedgerEvent, error) {
	_, span := e.tracer.Start(ctx, "backfill.synthesize")
	defer span.End()

	existing, err := e.store.Events(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("load existing events: %w", err)
	}
	candidates := Synthesize(userID, bundle, xp.NewSourceSet(existing))
	span.SetAttributes(attribute.Int("backfill.candidates", len(candidates)))
	return existing, candidates, nil
}

// =============================================================================
// BULK
// =============================================================================

// RunAll runs every user. Only a failure to list users fails the batch;
// per-user failures are reported in the results, in user-list order.
func (e *Engine) RunAll(ctx context.Context, dryRun bool) (_ *BatchSummary, err error) {
	ctx, span := e.tracer.Start(ctx, "backfill.RunAll", trace.WithAttributes(attribute.Bool("backfill.dry_run", dryRun)))
	defer func() { endSpan(span, err) }()

	users, err := e.users.UserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	e.log.Info("bulk backfill started", "users", len(users), "dry_run", dryRun, "concurrency", e.opts.Concurrency)

	results := make([]UserOutcome, len(users))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, userID := range users {
		i, userID := i, userID
		g.Go(func() error {
			results[i] = e.runWithRetry(ctx, userID, dryRun)
			return nil
		})
	}
	_ = g.Wait()

	summary := summarize(dryRun, results)
	e.log.Info("bulk backfill finished",
		"dry_run", dryRun,
		"users_succeeded", summary.UsersSucceeded,
		"users_failed", summary.UsersFailed,
		"total_xp_awarded", summary.TotalXPAwarded,
	)
	return summary, nil
}

func (e *Engine) runWithRetry(ctx context.Context, userID xp.UserID, dryRun bool) UserOutcome {
	result := UserOutcome{UserID: userID}
	// written accumulates commits from attempts that wrote events and then
	// failed, so the final result covers the whole run.
	var written *CommitResult
	err := retry.Do(
		func() error {
			result.Attempts++
			out, err := e.Run(ctx, userID, dryRun)
			if out != nil && out.Commit != nil {
				written = out.Commit.after(written)
			}
			if err != nil {
				if !isRetryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if written != nil {
				out.Commit = written
			}
			result.Outcome = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(e.opts.RetryAttempts),
		retry.Delay(e.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.log.Warn("backfill retry", "user_id", userID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		e.log.Error("backfill user failed", "user_id", userID, "error", err)
		result.Status = StatusFailed
		result.Outcome = nil
		result.Partial = written
		result.Err = err
		return result
	}
	result.Status = StatusSucceeded
	return result
}

// isRetryable reports whether another try could succeed: lock contention
// and storage failures may clear, bad input and cancellation will not.
func isRetryable(err error) bool {
	switch {
	case xp.IsClientError(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// =============================================================================
// TRACING
// =============================================================================

func (e *Engine) startSpan(ctx context.Context, name string, userID xp.UserID) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("xp.user_id", string(userID))))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
