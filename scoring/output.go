package scoring

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// OUTPUT - Review-derived quality
// =============================================================================

var (
	outputReviewed = decimal.NewFromInt(7)
	outputRework   = decimal.NewFromInt(3)
	outputDefault  = decimal.NewFromInt(5)
)

// RowOutput is one row's output score.
type RowOutput struct {
	RowID    performance.RowID    `json:"row_id"`
	EntityID performance.EntityID `json:"entity_id"`
	Score    decimal.Decimal      `json:"score"`
}

// Output is the user's output component: the mean of the row scores.
type Output struct {
	Rows  []RowOutput     `json:"rows"`
	Score decimal.Decimal `json:"score"`
}

// ForRow returns the output score of a row, or the default when absent.
func (o Output) ForRow(id performance.RowID) decimal.Decimal {
	for _, r := range o.Rows {
		if r.RowID == id {
			return r.Score
		}
	}
	return outputDefault
}

// OutputScore computes the output component for a user-month.
func (p *Pipeline) OutputScore(ctx context.Context, userID performance.UserID, month performance.Month) (Output, error) {
	rows, err := p.loadRows(ctx, p.Store, userID, month)
	if err != nil {
		return Output{}, err
	}
	return ComputeOutput(rows), nil
}

// ComputeOutput averages RowOutputScore over rows. An empty month scores 0.
func ComputeOutput(rows []performance.MonthlyRow) Output {
	out := Output{Rows: make([]RowOutput, 0, len(rows)), Score: zero}
	if len(rows) == 0 {
		return out
	}
	sum := zero
	for _, row := range rows {
		s := RowOutputScore(row)
		out.Rows = append(out.Rows, RowOutput{RowID: row.ID, EntityID: row.EntityID, Score: s})
		sum = sum.Add(s)
	}
	out.Score = sum.Div(decimal.NewFromInt(int64(len(rows))))
	return out
}

// RowOutputScore applies the review heuristic to one row:
//
//	7  submitted/approved with non-empty notes that do not ask for rework
//	3  returned, or notes mention rework
//	5  otherwise
func RowOutputScore(row performance.MonthlyRow) decimal.Decimal {
	notes := strings.TrimSpace(row.ReviewNotes)
	rework := strings.Contains(strings.ToLower(notes), "rework")

	reviewed := row.Status == performance.StatusSubmitted || row.Status == performance.StatusApproved
	if reviewed && notes != "" && !rework {
		return outputReviewed
	}
	if row.Status == performance.StatusReturned || rework {
		return outputRework
	}
	return outputDefault
}

// RowScore is 0.5*accountability + 0.5*output. It is a feedback preview
// and does not feed the composite.
func RowScore(accountability, output decimal.Decimal) decimal.Decimal {
	return half.Mul(accountability).Add(half.Mul(output))
}
