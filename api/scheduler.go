/*
scheduler.go - Periodic score recompute

PURPOSE:
  Keeps persisted scores fresh without anyone pressing a button. Every
  interval it recomputes the previous month for every user, so rows that
  were approved, returned or unlocked late in the month still end up with
  current computed_scores.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on Start
  - Delegates to Pipeline.BatchCompute, which never aborts on one user and
    retries timeouts
  - Keeps the last run's outcome for inspection

CONFIGURATION:
  - Interval: How often to run (default: 1 hour)
  - Enabled:  Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewRecomputeScheduler(handler, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - scoring/batch.go: BatchCompute
  - handlers.go: BatchComputeScores endpoint (manual batch)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/scoring"
)

// RecomputeRun is the outcome of one scheduled pass.
type RecomputeRun struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Month      performance.Month
	Result     *scoring.BatchResult
	Err        error
}

// RecomputeScheduler recomputes the previous month on a ticker.
type RecomputeScheduler struct {
	Handler  *Handler
	Logger   *zap.Logger
	Interval time.Duration
	Enabled  bool
	Now      func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *RecomputeRun
}

// NewRecomputeScheduler creates a new scheduler.
func NewRecomputeScheduler(handler *Handler, logger *zap.Logger) *RecomputeScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecomputeScheduler{
		Handler:  handler,
		Logger:   logger,
		Interval: time.Hour,
		Enabled:  true,
		Now:      time.Now,
	}
}

// Start begins the scheduler. Starting a running scheduler is a no-op, and
// a stopped one can be started again.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.Interval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("scheduler started", zap.Duration("interval", rs.Interval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker, rs.stop = nil, nil
	rs.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		rs.wg.Wait()
		rs.Logger.Info("scheduler stopped")
	}
}

func (rs *RecomputeScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow recomputes the month before the current one for every user.
func (rs *RecomputeScheduler) RunNow(ctx context.Context) *RecomputeRun {
	run := &RecomputeRun{
		StartedAt: rs.Now().UTC(),
		Month:     performance.MonthOf(rs.Now().UTC()).Previous(),
	}

	users, err := rs.Handler.Store.ListUsers(ctx, nil)
	if err != nil {
		run.Err = performance.WrapStore("list users", err)
	} else {
		ids := make([]performance.UserID, len(users))
		for i, u := range users {
			ids[i] = u.ID
		}
		run.Result, run.Err = rs.Handler.Pipeline.BatchCompute(ctx, ids, run.Month)
	}
	run.FinishedAt = rs.Now().UTC()

	if run.Err != nil {
		rs.Logger.Error("scheduled recompute failed", zap.String("month", run.Month.String()), zap.Error(run.Err))
	} else {
		rs.Logger.Info("scheduled recompute finished",
			zap.String("month", run.Month.String()),
			zap.Int("succeeded", len(run.Result.SuccessfulUsers)),
			zap.Int("failed", len(run.Result.FailedUsers)),
			zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
		for _, f := range run.Result.FailedUsers {
			rs.Logger.Warn("user not recomputed",
				zap.String("user_id", string(f.UserID)),
				zap.String("error", f.Error),
				zap.Bool("retryable", f.Retryable))
		}
	}

	rs.mu.Lock()
	rs.last = run
	rs.mu.Unlock()
	return run
}

// LastRun returns the most recent pass, or nil before the first one.
func (rs *RecomputeScheduler) LastRun() *RecomputeRun {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last
}

// NextRunTime returns when the next scheduled pass will occur.
func (rs *RecomputeScheduler) NextRunTime() time.Time {
	return rs.Now().Add(rs.Interval)
}
