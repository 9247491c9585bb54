package scoring

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// USER MONTH SCORE - The composite
// =============================================================================

var eight = decimal.NewFromInt(8)

// UserMonth is one user's full score breakdown for a month.
type UserMonth struct {
	UserID         performance.UserID `json:"user_id"`
	Month          performance.Month  `json:"month"`
	Accountability Accountability     `json:"accountability"`
	Output         Output             `json:"output"`
	Learning       Learning           `json:"learning"`
	Discipline     Discipline         `json:"discipline"`
	AvgRowScore    decimal.Decimal    `json:"avg_row_score"`
	Score          int                `json:"score"`
	RowCount       int                `json:"row_count"`

	rows []performance.MonthlyRow
}

// Rows returns the rows the breakdown was computed from.
func (u *UserMonth) Rows() []performance.MonthlyRow { return u.rows }

// RowScores derives the per-row ComputedScores persisted by Recompute.
func (u *UserMonth) RowScores() map[performance.RowID]performance.ComputedScores {
	out := make(map[performance.RowID]performance.ComputedScores, len(u.rows))
	for _, row := range u.rows {
		rowOutput := u.Output.ForRow(row.ID)
		out[row.ID] = performance.ComputedScores{
			Accountability: u.Accountability.Score,
			Output:         u.Output.Score,
			RowOutput:      rowOutput,
			RowScore:       RowScore(u.Accountability.Score, rowOutput),
			Learning:       u.Learning.Score,
			Discipline:     u.Discipline.Score,
			UserMonthScore: u.Score,
		}
	}
	return out
}

// UserMonthScore computes the composite score for a user-month without
// persisting it. The learning and discipline side effects still apply.
func (p *Pipeline) UserMonthScore(ctx context.Context, userID performance.UserID, month performance.Month) (*UserMonth, error) {
	return p.compute(ctx, p.Store, userID, month)
}

func (p *Pipeline) compute(ctx context.Context, store performance.Store, userID performance.UserID, month performance.Month) (*UserMonth, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	data, err := p.loadMonth(ctx, store, userID, month)
	if err != nil {
		return nil, err
	}

	u := &UserMonth{
		UserID:         userID,
		Month:          month,
		Accountability: ComputeAccountability(data.mappings, data.rows),
		Output:         ComputeOutput(data.rows),
		Learning:       ComputeLearning(data.rows, p.Config.LearningTargetMinutes),
		RowCount:       len(data.rows),
		rows:           data.rows,
	}
	if err := p.reconcileDelay(ctx, store, userID, month, u.Learning); err != nil {
		return nil, err
	}
	if u.Discipline, err = p.discipline(ctx, store, userID, month); err != nil {
		return nil, err
	}

	u.AvgRowScore = RowScore(u.Accountability.Score, u.Output.Score)
	u.Score = Composite(u.AvgRowScore, u.Learning.Score, u.Discipline.Score)
	return u, nil
}

// Composite is round(avgRow*8 + learning + discipline), clamped to [0, 100].
// Halves round away from zero.
func Composite(avgRow, learning, discipline decimal.Decimal) int {
	total := avgRow.Mul(eight).Add(learning).Add(discipline).Round(0)
	total = clamp(total, zero, decimal.NewFromInt(100))
	return int(total.IntPart())
}
