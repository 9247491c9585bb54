/*
Package report assembles read-only views over scores and rows.

PURPOSE:
  Reports are what a user or HR sees: the score breakdown for one
  user-month, and a team roll-up. They are computed fresh from the scoring
  pipeline and never persist scores themselves; persisting is Recompute's
  job.

FLAGS:
  A user report carries flags that explain why a number looks the way it
  does:
    no_submissions             no row of the month was ever submitted
    insufficient_learning      learning minutes below target (delay raised)
    discipline_fallback        no attendance data, fallback discipline used
    rejected_learning_entries  malformed stored entries were excluded
    pending_review             at least one row awaits the manager
    unlocked_rows              at least one row was reopened after approval

SEE ALSO:
  - scoring/composite.go: The numbers behind a report
  - api/handlers.go: HTTP endpoints
*/
package report

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/scoring"
)

const (
	FlagNoSubmissions           = "no_submissions"
	FlagInsufficientLearning    = "insufficient_learning"
	FlagDisciplineFallback      = "discipline_fallback"
	FlagRejectedLearningEntries = "rejected_learning_entries"
	FlagPendingReview           = "pending_review"
	FlagUnlockedRows            = "unlocked_rows"
)

// Scorer is the part of the scoring pipeline reports need.
type Scorer interface {
	UserMonthScore(ctx context.Context, userID performance.UserID, month performance.Month) (*scoring.UserMonth, error)
}

// Service builds reports.
type Service struct {
	Scorer Scorer
	Store  performance.Store
	Logger *zap.Logger
}

func NewService(scorer Scorer, store performance.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Scorer: scorer, Store: store, Logger: logger}
}

// =============================================================================
// USER MONTH REPORT
// =============================================================================

// Scores is the headline numbers of a user-month.
type Scores struct {
	Accountability decimal.Decimal `json:"accountability"`
	Output         decimal.Decimal `json:"output"`
	Learning       decimal.Decimal `json:"learning"`
	Discipline     decimal.Decimal `json:"discipline"`
	AvgRowScore    decimal.Decimal `json:"avg_row_score"`
	UserMonthScore int             `json:"user_month_score"`
}

// UserReport is the full report for one user-month.
type UserReport struct {
	UserID          performance.UserID
	Month           performance.Month
	Scores          Scores
	Details         *scoring.UserMonth
	MonthlyRows     []performance.MonthlyRow
	AppraisalDelays []performance.AppraisalDelay
	Flags           []string
}

// HasFlag reports whether the report carries flag.
func (r *UserReport) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// UserMonthScoreReport computes the user's scores for the month and
// gathers the rows and delays behind them.
func (s *Service) UserMonthScoreReport(ctx context.Context, userID performance.UserID, month performance.Month) (*UserReport, error) {
	u, err := s.Scorer.UserMonthScore(ctx, userID, month)
	if err != nil {
		return nil, err
	}
	delays, err := s.Store.ListAppraisalDelays(ctx, userID, month)
	if err != nil {
		return nil, performance.WrapStore("list appraisal delays", err)
	}

	rows := u.Rows()
	return &UserReport{
		UserID: userID,
		Month:  month,
		Scores: Scores{
			Accountability: u.Accountability.Score,
			Output:         u.Output.Score,
			Learning:       u.Learning.Score,
			Discipline:     u.Discipline.Score,
			AvgRowScore:    u.AvgRowScore,
			UserMonthScore: u.Score,
		},
		Details:         u,
		MonthlyRows:     rows,
		AppraisalDelays: delays,
		Flags:           flagsFor(u, rows),
	}, nil
}

func flagsFor(u *scoring.UserMonth, rows []performance.MonthlyRow) []string {
	flags := []string{}
	submitted, pending, unlocked := false, false, false
	for _, row := range rows {
		if row.SubmittedAt != nil {
			submitted = true
		}
		if row.Status == performance.StatusSubmitted {
			pending = true
		}
		if row.UnlockedAt != nil {
			unlocked = true
		}
	}
	if !submitted {
		flags = append(flags, FlagNoSubmissions)
	}
	if u.Learning.Delayed {
		flags = append(flags, FlagInsufficientLearning)
	}
	if u.Discipline.Fallback {
		flags = append(flags, FlagDisciplineFallback)
	}
	if len(u.Learning.Rejected) > 0 {
		flags = append(flags, FlagRejectedLearningEntries)
	}
	if pending {
		flags = append(flags, FlagPendingReview)
	}
	if unlocked {
		flags = append(flags, FlagUnlockedRows)
	}
	return flags
}

// =============================================================================
// TEAM SUMMARY
// =============================================================================

// TeamMetrics aggregates a team's month.
type TeamMetrics struct {
	MemberCount     int             `json:"member_count"`
	AverageScore    decimal.Decimal `json:"average_score"`
	MinScore        int             `json:"min_score"`
	MaxScore        int             `json:"max_score"`
	ApprovedRows    int             `json:"approved_rows"`
	SubmittedRows   int             `json:"submitted_rows"`
	AppraisalDelays int             `json:"appraisal_delays"`
}

// MemberSummary is one team member's line in a team report.
type MemberSummary struct {
	UserID        performance.UserID `json:"user_id"`
	Name          string             `json:"name"`
	Score         int                `json:"score"`
	RowCount      int                `json:"row_count"`
	ApprovedRows  int                `json:"approved_rows"`
	SubmittedRows int                `json:"submitted_rows"`
	Flags         []string           `json:"flags"`
}

// TeamReport is the roll-up for a team and month.
type TeamReport struct {
	Month       performance.Month   `json:"month"`
	TeamID      *performance.UserID `json:"team_id,omitempty"`
	TeamMetrics TeamMetrics         `json:"team_metrics"`
	UserDetails []MemberSummary     `json:"user_details"`
}

// TeamSummaryReport reports on the direct reports of teamID, or on every
// user when teamID is nil.
func (s *Service) TeamSummaryReport(ctx context.Context, month performance.Month, teamID *performance.UserID) (*TeamReport, error) {
	if err := month.Validate(); err != nil {
		return nil, err
	}
	users, err := s.Store.ListUsers(ctx, teamID)
	if err != nil {
		return nil, performance.WrapStore("list users", err)
	}

	rep := &TeamReport{
		Month:       month,
		TeamID:      teamID,
		TeamMetrics: TeamMetrics{AverageScore: decimal.Zero},
		UserDetails: []MemberSummary{},
	}
	total := 0
	for i, user := range users {
		ur, err := s.UserMonthScoreReport(ctx, user.ID, month)
		if err != nil {
			return nil, err
		}
		line := MemberSummary{
			UserID:   user.ID,
			Name:     user.Name,
			Score:    ur.Scores.UserMonthScore,
			RowCount: len(ur.MonthlyRows),
			Flags:    ur.Flags,
		}
		for _, row := range ur.MonthlyRows {
			switch row.Status {
			case performance.StatusApproved:
				line.ApprovedRows++
			case performance.StatusSubmitted:
				line.SubmittedRows++
			}
		}

		m := &rep.TeamMetrics
		m.ApprovedRows += line.ApprovedRows
		m.SubmittedRows += line.SubmittedRows
		m.AppraisalDelays += len(ur.AppraisalDelays)
		if i == 0 || line.Score < m.MinScore {
			m.MinScore = line.Score
		}
		if i == 0 || line.Score > m.MaxScore {
			m.MaxScore = line.Score
		}
		total += line.Score
		rep.UserDetails = append(rep.UserDetails, line)
	}

	rep.TeamMetrics.MemberCount = len(users)
	if len(users) > 0 {
		rep.TeamMetrics.AverageScore = decimal.NewFromInt(int64(total)).
			Div(decimal.NewFromInt(int64(len(users)))).Round(2)
	}

	s.Logger.Debug("team report built",
		zap.String("month", month.String()),
		zap.Int("members", len(users)))
	return rep, nil
}
