/*
scenarios_test.go - Tests for demo scenarios and the recompute scheduler

Tests that each scenario:
- Loads without errors through the real workflow
- Leaves the expected rows, queues and delays behind
- Reports itself as the current scenario
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/report"
)

func (s *testServer) loadScenario(id string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: id})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListScenarios(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]ScenarioDTO](t, rec)

	ids := make([]string, len(list))
	for i, sc := range list {
		ids[i] = sc.ID
	}
	assert.Equal(t, []string{"end-to-end", "returned-resubmitted", "unlock-flow", "learning-shortfall"}, ids)
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenario_EndToEnd(t *testing.T) {
	// GIVEN/WHEN: The end-to-end scenario is loaded
	s := newTestServer(t)
	s.loadScenario("end-to-end")

	// THEN: It is the current scenario
	rec := s.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "end-to-end", decodeBody[ScenarioDTO](t, rec).ID)

	// THEN: Alice's row is approved and scored with full discipline
	rec = s.do(http.MethodGet, "/api/users/alice/reports/"+testMonth.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decodeBody[UserReportDTO](t, rec)
	require.Len(t, rep.MonthlyRows, 1)
	row := rep.MonthlyRows[0]
	assert.Equal(t, "approved", row.Status)
	require.NotNil(t, row.ComputedScores)
	assert.True(t, rep.Scores.Discipline.Equal(decimal.NewFromInt(10)), rep.Scores.Discipline.String())
	assert.NotContains(t, rep.Flags, report.FlagDisciplineFallback)

	// THEN: 300 of 360 learning minutes leaves a 60 minute delay
	assert.Contains(t, rep.Flags, report.FlagInsufficientLearning)
	require.Len(t, rep.AppraisalDelays, 1)
	assert.Equal(t, 60, rep.AppraisalDelays[0].DeficitMinutes)
}

func TestScenario_ReturnedResubmitted(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("returned-resubmitted")

	// THEN: The resubmitted row is back in Maya's queue with the edits
	rec := s.do(http.MethodGet, "/api/managers/maya/pending-review", "", nil)
	rows := decodeBody[[]RowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "submitted", rows[0].Status)
	assert.Equal(t, 2, rows[0].KPI.DeliveredProjects)
	assert.NotNil(t, rows[0].ReturnedAt)

	// THEN: The audit trail shows draft, submitted, returned, submitted
	rec = s.do(http.MethodGet, "/api/audit?table=monthly_rows&record_id="+rows[0].ID, "", nil)
	entries := decodeBody[[]AuditDTO](t, rec)
	statuses := make([]string, len(entries))
	for i, e := range entries {
		statuses[i] = e.NewValue
	}
	assert.Equal(t, []string{"draft", "submitted", "returned", "submitted"}, statuses)
}

func TestScenario_UnlockFlow(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("unlock-flow")

	rec := s.do(http.MethodGet, "/api/managers/maya/unlock-requests", "", nil)
	reqs := decodeBody[[]UnlockRequestDTO](t, rec)
	require.Len(t, reqs, 1)
	assert.Equal(t, "alice", reqs[0].RequestedBy)
	assert.Equal(t, "pending", reqs[0].Status)

	// Maya can act on it straight away
	rec = s.do(http.MethodPost, "/api/unlock-requests/"+reqs[0].ID+"/approve", "maya", DecisionRequest{Note: "Fix it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", decodeBody[UnlockDecisionDTO](t, rec).Row.Status)
}

func TestScenario_LearningShortfall(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("learning-shortfall")

	// THEN: Bob has the full 360 minute deficit and the discipline fallback
	rec := s.do(http.MethodGet, "/api/users/bob/reports/"+testMonth.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bob := decodeBody[UserReportDTO](t, rec)
	assert.Contains(t, bob.Flags, report.FlagInsufficientLearning)
	assert.Contains(t, bob.Flags, report.FlagDisciplineFallback)
	require.Len(t, bob.AppraisalDelays, 1)
	assert.Equal(t, 360, bob.AppraisalDelays[0].DeficitMinutes)

	// THEN: Alice met the target and has no delay
	rec = s.do(http.MethodGet, "/api/users/alice/reports/"+testMonth.String(), "", nil)
	alice := decodeBody[UserReportDTO](t, rec)
	assert.Empty(t, alice.AppraisalDelays)
	assert.Greater(t, alice.Scores.UserMonthScore, bob.Scores.UserMonthScore)

	// THEN: The team report covers Maya's two reports
	rec = s.do(http.MethodGet, "/api/reports/team?month="+testMonth.String()+"&team_id=maya", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	team := decodeBody[report.TeamReport](t, rec)
	assert.Len(t, team.UserDetails, 2)
	assert.Equal(t, 2, team.TeamMetrics.MemberCount)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("learning-shortfall")
	s.loadScenario("unlock-flow")

	rec := s.do(http.MethodGet, "/api/users", "", nil)
	assert.Len(t, decodeBody[[]UserDTO](t, rec), 2)

	rec = s.do(http.MethodPost, "/api/scenarios/reset", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/scenarios/current", "", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestRecomputeScheduler_RunNow(t *testing.T) {
	// GIVEN: The end-to-end scenario
	s := newTestServer(t)
	s.loadScenario("end-to-end")

	sched := NewRecomputeScheduler(s.h, nil)
	sched.Now = func() time.Time { return testNow }
	assert.Nil(t, sched.LastRun())

	// WHEN: A pass runs
	run := sched.RunNow(context.Background())

	// THEN: Every user of the previous month is recomputed
	require.NoError(t, run.Err)
	assert.Equal(t, testMonth, run.Month)
	assert.ElementsMatch(t, []performance.UserID{"alice", "maya"}, run.Result.SuccessfulUsers)
	assert.Empty(t, run.Result.FailedUsers)
	assert.Same(t, run, sched.LastRun())
	assert.Equal(t, testNow.Add(time.Hour), sched.NextRunTime())
}

func TestRecomputeScheduler_DisabledDoesNotStart(t *testing.T) {
	s := newTestServer(t)
	sched := NewRecomputeScheduler(s.h, nil)
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	assert.Nil(t, sched.LastRun())
}

func TestRecomputeScheduler_StartRunsImmediately(t *testing.T) {
	s := newTestServer(t)
	s.loadScenario("end-to-end")

	sched := NewRecomputeScheduler(s.h, nil)
	sched.Now = func() time.Time { return testNow }
	sched.Interval = time.Hour
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool { return sched.LastRun() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, sched.LastRun().Err)
}

func TestRecomputeScheduler_RestartAfterStop(t *testing.T) {
	// GIVEN: A scheduler started twice and stopped
	s := newTestServer(t)
	s.loadScenario("end-to-end")

	sched := NewRecomputeScheduler(s.h, nil)
	sched.Now = func() time.Time { return testNow }
	sched.Start()
	sched.Start()
	require.Eventually(t, func() bool { return sched.LastRun() != nil }, 2*time.Second, 10*time.Millisecond)
	sched.Stop()
	assert.NotPanics(t, sched.Stop)
	first := sched.LastRun()

	// WHEN: It is started again
	sched.Start()
	defer sched.Stop()

	// THEN: The new run loop performs a fresh pass
	require.Eventually(t, func() bool { return sched.LastRun() != first }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, sched.LastRun().Err)
}
