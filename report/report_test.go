package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/performance/store"
	"github.com/warp/appraisal-engine/report"
	"github.com/warp/appraisal-engine/scoring"
)

var (
	march = performance.MustMonth(2025, time.March)
	at    = time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC)
)

func newReports(t *testing.T) (*store.Memory, *report.Service) {
	t.Helper()
	s := store.NewMemory()
	cfg := scoring.DefaultConfig()
	p := scoring.NewPipeline(s, nil, cfg, zap.NewNop())
	p.Now = func() time.Time { return at }
	return s, report.NewService(p, s, zap.NewNop())
}

func seedTeam(t *testing.T, s *store.Memory) {
	t.Helper()
	ctx := context.Background()
	lead := performance.UserID("lead")
	require.NoError(t, s.SaveUser(ctx, performance.User{ID: lead, Name: "Lead"}))
	require.NoError(t, s.SaveUser(ctx, performance.User{ID: "ana", Name: "Ana", ManagerID: &lead}))
	require.NoError(t, s.SaveUser(ctx, performance.User{ID: "ben", Name: "Ben", ManagerID: &lead}))

	require.NoError(t, s.SaveMapping(ctx, performance.UserEntityMapping{UserID: "ana", EntityID: "acme", ExpectedProjects: 2, Active: true}))
	submitted := at
	notes := "great job"
	reviewer := lead
	require.NoError(t, s.InsertRow(ctx, performance.MonthlyRow{
		ID: "ana-acme", UserID: "ana", EntityID: "acme", Month: march,
		Status: performance.StatusApproved, ReviewNotes: notes, Reviewer: &reviewer,
		KPI:         performance.KPI{DeliveredProjects: 2},
		Learning:    []performance.LearningEntry{{Topic: "go", URL: "https://go.dev", AppliedWhere: "api", Minutes: 300}},
		SubmittedAt: &submitted, ApprovedAt: &submitted,
	}))
	require.NoError(t, s.SaveAttendanceCache(ctx, performance.AttendanceMonthlyCache{
		UserID: "ana", Month: march, DisciplineComponent: decimal.NewFromInt(9),
	}))

	require.NoError(t, s.InsertRow(ctx, performance.MonthlyRow{
		ID: "ben-acme", UserID: "ben", EntityID: "acme", Month: march, Status: performance.StatusSubmitted,
		SubmittedAt: &submitted,
		Learning: []performance.LearningEntry{
			{Topic: "sql", URL: "https://sqlite.org", AppliedWhere: "store", Minutes: 60},
			{Topic: "", URL: "", AppliedWhere: "", Minutes: 999},
		},
	}))
}

func TestUserMonthScoreReport_EndToEnd(t *testing.T) {
	s, reports := newReports(t)
	seedTeam(t, s)

	r, err := reports.UserMonthScoreReport(context.Background(), "ana", march)
	require.NoError(t, err)
	assert.Equal(t, 85, r.Scores.UserMonthScore)
	assert.Len(t, r.MonthlyRows, 1)
	assert.True(t, r.HasFlag(report.FlagInsufficientLearning))
	require.Len(t, r.AppraisalDelays, 1)
	assert.Equal(t, 60, r.AppraisalDelays[0].DeficitMinutes)
	assert.False(t, r.HasFlag(report.FlagDisciplineFallback))
	assert.False(t, r.HasFlag(report.FlagNoSubmissions))
}

func TestUserMonthScoreReport_Flags(t *testing.T) {
	s, reports := newReports(t)
	seedTeam(t, s)

	r, err := reports.UserMonthScoreReport(context.Background(), "ben", march)
	require.NoError(t, err)
	assert.True(t, r.HasFlag(report.FlagPendingReview))
	assert.True(t, r.HasFlag(report.FlagRejectedLearningEntries))
	assert.True(t, r.HasFlag(report.FlagDisciplineFallback))
	assert.Len(t, r.Details.Learning.Rejected, 1)
	assert.Equal(t, 60, r.Details.Learning.TotalMinutes, "malformed entry minutes are excluded")
}

func TestUserMonthScoreReport_NoData(t *testing.T) {
	_, reports := newReports(t)
	r, err := reports.UserMonthScoreReport(context.Background(), "nobody", march)
	require.NoError(t, err)
	assert.True(t, r.HasFlag(report.FlagNoSubmissions))
	assert.Empty(t, r.MonthlyRows)
}

func TestTeamSummaryReport(t *testing.T) {
	s, reports := newReports(t)
	seedTeam(t, s)
	lead := performance.UserID("lead")

	team, err := reports.TeamSummaryReport(context.Background(), march, &lead)
	require.NoError(t, err)
	assert.Equal(t, 2, team.TeamMetrics.MemberCount)
	assert.Equal(t, 85, team.TeamMetrics.MaxScore)
	assert.Equal(t, team.UserDetails[1].Score, team.TeamMetrics.MinScore)
	assert.Equal(t, 1, team.TeamMetrics.ApprovedRows)
	assert.Equal(t, 1, team.TeamMetrics.SubmittedRows)
	assert.Equal(t, 2, team.TeamMetrics.AppraisalDelays)

	want := decimal.NewFromInt(int64(85 + team.UserDetails[1].Score)).Div(decimal.NewFromInt(2)).Round(2)
	assert.True(t, want.Equal(team.TeamMetrics.AverageScore), "got %s", team.TeamMetrics.AverageScore)

	everyone, err := reports.TeamSummaryReport(context.Background(), march, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, everyone.TeamMetrics.MemberCount)
}
