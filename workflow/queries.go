package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// READ SIDE - Manager queues and statistics
// =============================================================================

// RowsPendingReview returns submitted rows of the manager's direct reports.
func (s *Service) RowsPendingReview(ctx context.Context, managerID performance.UserID) ([]performance.MonthlyRow, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	rows, err := s.Store.ListRows(ctx, performance.RowFilter{
		ManagerID: &managerID,
		Statuses:  []performance.RowStatus{performance.StatusSubmitted},
	})
	if err != nil {
		return nil, performance.WrapStore("list rows", err)
	}
	return rows, nil
}

// PendingUnlockRequests returns the manager's pending requests, oldest first.
func (s *Service) PendingUnlockRequests(ctx context.Context, managerID performance.UserID) ([]performance.UnlockRequest, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	reqs, err := s.Store.ListUnlockRequests(ctx, managerID, performance.UnlockPending)
	if err != nil {
		return nil, performance.WrapStore("list unlock requests", err)
	}
	return reqs, nil
}

// Stats summarizes workflow progress for a year, or one month of it when
// month is non-zero.
type Stats struct {
	Year                        int                           `json:"year"`
	Month                       int                           `json:"month,omitempty"`
	TotalRows                   int                           `json:"total_rows"`
	StatusCounts                map[performance.RowStatus]int `json:"status_counts"`
	SubmissionRate              decimal.Decimal               `json:"submission_rate"`
	ApprovalRate                decimal.Decimal               `json:"approval_rate"`
	AverageApprovalLatencyHours decimal.Decimal               `json:"average_approval_latency_hours"`
	PendingUnlockRequests       int                           `json:"pending_unlock_requests"`
}

// Stats scans the period's rows.
//
//	submission_rate = rows ever submitted / total rows
//	approval_rate   = approved rows / total rows
//	latency         = mean hours from submitted_at to approved_at over approved rows
func (s *Service) Stats(ctx context.Context, year int, month time.Month) (*Stats, error) {
	if year < 1970 || year > 9999 {
		return nil, performance.Validationf("workflow_stats", "Year out of range: %d", year)
	}
	if month < 0 || month > time.December {
		return nil, performance.Validationf("workflow_stats", "Month must be between 1 and 12, got %d", int(month))
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	rows, err := s.Store.ListRows(ctx, performance.RowFilter{Year: year, Month: month})
	if err != nil {
		return nil, performance.WrapStore("list rows", err)
	}

	st := &Stats{
		Year:                        year,
		Month:                       int(month),
		TotalRows:                   len(rows),
		StatusCounts:                map[performance.RowStatus]int{},
		SubmissionRate:              decimal.Zero,
		ApprovalRate:                decimal.Zero,
		AverageApprovalLatencyHours: decimal.Zero,
	}
	for _, status := range []performance.RowStatus{performance.StatusDraft, performance.StatusSubmitted,
		performance.StatusReturned, performance.StatusApproved} {
		st.StatusCounts[status] = 0
	}

	submitted, approved := 0, 0
	latency := decimal.Zero
	latencySamples := 0
	inPeriod := make(map[performance.RowID]struct{}, len(rows))
	for _, row := range rows {
		inPeriod[row.ID] = struct{}{}
		st.StatusCounts[row.Status]++
		if row.SubmittedAt != nil {
			submitted++
		}
		if row.Status == performance.StatusApproved {
			approved++
			if row.SubmittedAt != nil && row.ApprovedAt != nil {
				hours := decimal.NewFromFloat(row.ApprovedAt.Sub(*row.SubmittedAt).Hours())
				latency = latency.Add(hours)
				latencySamples++
			}
		}
	}

	if len(rows) > 0 {
		total := decimal.NewFromInt(int64(len(rows)))
		st.SubmissionRate = decimal.NewFromInt(int64(submitted)).Div(total).Round(4)
		st.ApprovalRate = decimal.NewFromInt(int64(approved)).Div(total).Round(4)
	}
	if latencySamples > 0 {
		st.AverageApprovalLatencyHours = latency.Div(decimal.NewFromInt(int64(latencySamples))).Round(2)
	}

	pending, err := s.Store.ListUnlockRequests(ctx, "", performance.UnlockPending)
	if err != nil {
		return nil, performance.WrapStore("list unlock requests", err)
	}
	for _, req := range pending {
		if _, ok := inPeriod[req.RowID]; ok {
			st.PendingUnlockRequests++
		}
	}
	return st, nil
}
