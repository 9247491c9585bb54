/*
Package scoring computes monthly performance scores.

PURPOSE:
  Turns a user's monthly rows, entity quotas and attendance cache into four
  components and one composite score:

    accountability  [0,10]  delivery volume against quota
    output          [0,10]  review-derived quality, mean over rows
    learning        [0,10]  logged learning minutes against a 360 target
    discipline      [0,10]  from the attendance cache
    user month      [0,100] round(avgRow*8 + learning + discipline)

  where avgRow = 0.5*accountability + 0.5*output at the user-month level.

FAILURE SEMANTICS:
  "No data this month" is never an error: missing mappings, rows or
  attendance produce zero or default components. Only store failures
  error, as performance.ErrDatastore or performance.ErrTimeout.

SIDE EFFECTS:
  1. Learning upserts an AppraisalDelay when minutes fall short, and
     clears it once they don't.
  2. Discipline may ask the attendance aggregator to build a missing
     cache row.
  Recompute additionally persists computed scores and appends an audit
  entry.

TIMEOUTS:
  Every store round-trip runs under Config.CallTimeout. A timeout surfaces
  as performance.ErrTimeout, which BatchCompute retries and nothing else
  does.

SEE ALSO:
  - accountability.go, output.go, learning.go, discipline.go: Components
  - composite.go: User month score
  - recompute.go: Persisting scores
  - batch.go: Fan-out over many users
*/
package scoring

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the pipeline's tunables.
type Config struct {
	// LearningTargetMinutes is the monthly learning target (360).
	LearningTargetMinutes int

	// DisciplineFallback is used when no attendance data exists at all (8.0).
	DisciplineFallback decimal.Decimal

	// CallTimeout bounds each store call. Zero disables the bound.
	CallTimeout time.Duration

	// BatchWorkers is the number of users recomputed concurrently.
	BatchWorkers int

	// BatchRetries is how many times a timed-out user is retried in a batch.
	BatchRetries int

	// BatchBackoff is the pause before each batch retry.
	BatchBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		LearningTargetMinutes: 360,
		DisciplineFallback:    decimal.NewFromInt(8),
		CallTimeout:           5 * time.Second,
		BatchWorkers:          4,
		BatchRetries:          2,
		BatchBackoff:          200 * time.Millisecond,
	}
}

// =============================================================================
// PIPELINE
// =============================================================================

// AttendanceSource builds a missing attendance cache row on demand.
// attendance.Aggregator satisfies it.
type AttendanceSource interface {
	Compute(ctx context.Context, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error)
}

// Pipeline computes scores against an injected store.
type Pipeline struct {
	Store      performance.Store
	Attendance AttendanceSource
	Config     Config
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewPipeline creates a pipeline. attendance may be nil, in which case a
// missing cache row goes straight to the fallback.
func NewPipeline(store performance.Store, attendance AttendanceSource, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LearningTargetMinutes <= 0 {
		cfg.LearningTargetMinutes = DefaultConfig().LearningTargetMinutes
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 1
	}
	return &Pipeline{
		Store:      store,
		Attendance: attendance,
		Config:     cfg,
		Logger:     logger,
		Now:        time.Now,
	}
}

// call runs one store round-trip under the configured deadline and
// classifies its error.
func (p *Pipeline) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if p.Config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Config.CallTimeout)
		defer cancel()
	}
	return performance.WrapStore(op, fn(ctx))
}

// monthData is everything the components read for one user-month.
type monthData struct {
	rows     []performance.MonthlyRow
	mappings []performance.UserEntityMapping
}

func (p *Pipeline) loadRows(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month) ([]performance.MonthlyRow, error) {
	var rows []performance.MonthlyRow
	err := p.call(ctx, "list user rows", func(ctx context.Context) (err error) {
		rows, err = store.ListUserRows(ctx, userID, month)
		return err
	})
	return rows, err
}

func (p *Pipeline) loadMonth(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month) (monthData, error) {
	rows, err := p.loadRows(ctx, store, userID, month)
	if err != nil {
		return monthData{}, err
	}
	var mappings []performance.UserEntityMapping
	err = p.call(ctx, "list mappings", func(ctx context.Context) (err error) {
		mappings, err = store.ListMappings(ctx, userID, true)
		return err
	})
	if err != nil {
		return monthData{}, err
	}
	return monthData{rows: rows, mappings: mappings}, nil
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var (
	zero = decimal.Zero
	half = decimal.RequireFromString("0.5")
	ten  = decimal.NewFromInt(10)
)

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func ratioScore(actual, expected int) decimal.Decimal {
	if expected < 1 {
		expected = 1
	}
	ratio := decimal.NewFromInt(int64(actual)).Div(decimal.NewFromInt(int64(expected)))
	return clamp(ratio.Mul(ten), zero, ten)
}
