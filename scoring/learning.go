package scoring

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// LEARNING - Logged minutes against the monthly target
// =============================================================================

// Learning is the learning component with its inputs.
type Learning struct {
	TotalMinutes   int                                 `json:"total_minutes"`
	TargetMinutes  int                                 `json:"target_minutes"`
	ValidEntries   int                                 `json:"valid_entries"`
	Rejected       []performance.RejectedLearningEntry `json:"rejected,omitempty"`
	DeficitMinutes int                                 `json:"deficit_minutes"`
	Delayed        bool                                `json:"delayed"`
	Score          decimal.Decimal                     `json:"score"`
}

// LearningComponent computes the learning component for a user-month and
// reconciles the user's insufficient-learning delay with the result.
func (p *Pipeline) LearningComponent(ctx context.Context, userID performance.UserID, month performance.Month) (Learning, error) {
	rows, err := p.loadRows(ctx, p.Store, userID, month)
	if err != nil {
		return Learning{}, err
	}
	l := ComputeLearning(rows, p.Config.LearningTargetMinutes)
	if err := p.reconcileDelay(ctx, p.Store, userID, month, l); err != nil {
		return Learning{}, err
	}
	return l, nil
}

// ComputeLearning sums minutes over well-formed entries of every row.
// Malformed entries are excluded and reported in Rejected.
func ComputeLearning(rows []performance.MonthlyRow, target int) Learning {
	l := Learning{TargetMinutes: target}
	for _, row := range rows {
		valid, rejected := performance.SplitLearning(row.ID, row.Learning)
		for _, e := range valid {
			l.TotalMinutes += e.Minutes
		}
		l.ValidEntries += len(valid)
		l.Rejected = append(l.Rejected, rejected...)
	}
	l.Score = LearningScore(l.TotalMinutes, target)
	if l.TotalMinutes < target {
		l.DeficitMinutes = target - l.TotalMinutes
		l.Delayed = true
	}
	return l
}

// LearningScore is min(minutes / target, 1) * 10.
func LearningScore(minutes, target int) decimal.Decimal {
	if target <= 0 || minutes <= 0 {
		if minutes > 0 {
			return ten
		}
		return zero
	}
	ratio := decimal.NewFromInt(int64(minutes)).Div(decimal.NewFromInt(int64(target)))
	return decimal.Min(ratio, decimal.NewFromInt(1)).Mul(ten)
}

func (p *Pipeline) reconcileDelay(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month, l Learning) error {
	if len(l.Rejected) > 0 {
		p.Logger.Warn("malformed learning entries excluded",
			zap.String("user_id", string(userID)),
			zap.String("month", month.String()),
			zap.Int("rejected", len(l.Rejected)))
	}

	if !l.Delayed {
		return p.call(ctx, "clear appraisal delay", func(ctx context.Context) error {
			return store.ClearAppraisalDelay(ctx, userID, month, performance.DelayInsufficientLearning)
		})
	}

	delay := performance.AppraisalDelay{
		UserID:         userID,
		Month:          month,
		Reason:         performance.DelayInsufficientLearning,
		DeficitMinutes: l.DeficitMinutes,
		UpdatedAt:      p.Now().UTC(),
	}
	return p.call(ctx, "upsert appraisal delay", func(ctx context.Context) error {
		return store.UpsertAppraisalDelay(ctx, delay)
	})
}
