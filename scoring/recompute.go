package scoring

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// RECOMPUTE - Persisting pipeline output
// =============================================================================

// UserMonthRecordID is the audit record id of a user-month recompute.
func UserMonthRecordID(userID performance.UserID, month performance.Month) string {
	return fmt.Sprintf("%s:%s", userID, month)
}

// Recompute computes a user-month and stores the result on every row of it,
// then appends one computed_scores audit entry. The entry is written even
// when the user has no rows that month. Running it twice over unchanged
// data stores identical scores.
func (p *Pipeline) Recompute(ctx context.Context, userID performance.UserID, month performance.Month) (*UserMonth, error) {
	u, err := p.compute(ctx, p.Store, userID, month)
	if err != nil {
		return nil, err
	}
	now := p.Now().UTC()
	previous := ""
	for _, row := range u.rows {
		if row.ComputedScores != nil {
			previous = strconv.Itoa(row.ComputedScores.UserMonthScore)
			break
		}
	}
	scores := u.RowScores()

	persist := func(store performance.Store) error {
		for _, row := range u.rows {
			cs := scores[row.ID]
			err := p.call(ctx, "save computed scores", func(ctx context.Context) error {
				return store.SaveComputedScores(ctx, row.ID, cs, now)
			})
			if err != nil {
				return err
			}
		}
		entry := performance.NewAudit(
			performance.TableMonthlyRows,
			UserMonthRecordID(userID, month),
			performance.FieldComputedScores,
			previous,
			strconv.Itoa(u.Score),
			performance.SystemActor,
			"recompute",
			now,
		)
		return p.call(ctx, "append audit", func(ctx context.Context) error {
			return store.AppendAudit(ctx, entry)
		})
	}

	if tx, ok := p.Store.(performance.TxStore); ok {
		err = tx.WithTx(ctx, persist)
	} else {
		err = persist(p.Store)
	}
	if err != nil {
		return nil, err
	}

	for i := range u.rows {
		cs := scores[u.rows[i].ID]
		u.rows[i].ComputedScores = &cs
		u.rows[i].LastComputedAt = &now
	}

	p.Logger.Info("scores recomputed",
		zap.String("user_id", string(userID)),
		zap.String("month", month.String()),
		zap.Int("rows", u.RowCount),
		zap.Int("score", u.Score))
	return u, nil
}

// RowScoreResult is the score of one row and of its user-month.
type RowScoreResult struct {
	RowID          performance.RowID          `json:"row_id"`
	UserID         performance.UserID         `json:"user_id"`
	Month          performance.Month          `json:"month"`
	RowScore       decimal.Decimal            `json:"row_score"`
	UserMonthScore int                        `json:"user_month_score"`
	Scores         performance.ComputedScores `json:"scores"`
}

// ComputeMonthlyRowScore recomputes the row's user-month and returns the
// row's preview score alongside the user month score.
func (p *Pipeline) ComputeMonthlyRowScore(ctx context.Context, rowID performance.RowID) (*RowScoreResult, error) {
	var row *performance.MonthlyRow
	err := p.call(ctx, "get row", func(ctx context.Context) (err error) {
		row, err = p.Store.GetRow(ctx, rowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, performance.NotFoundf("compute_row_score", "Row %s not found", rowID)
	}

	u, err := p.Recompute(ctx, row.UserID, row.Month)
	if err != nil {
		return nil, err
	}
	cs, ok := u.RowScores()[rowID]
	if !ok {
		return nil, performance.NotFoundf("compute_row_score", "Row %s not found", rowID)
	}
	return &RowScoreResult{
		RowID:          rowID,
		UserID:         row.UserID,
		Month:          row.Month,
		RowScore:       cs.RowScore,
		UserMonthScore: u.Score,
		Scores:         cs,
	}, nil
}
