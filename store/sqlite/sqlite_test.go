package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/attendance"
	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/scoring"
	"github.com/warp/appraisal-engine/store/sqlite"
	"github.com/warp/appraisal-engine/workflow"
)

var (
	march = performance.MustMonth(2025, time.March)
	at    = time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDirectory(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	maya := performance.UserID("maya")
	require.NoError(t, s.SaveUser(ctx, performance.User{ID: maya, Name: "Maya", CreatedAt: at}))
	require.NoError(t, s.SaveUser(ctx, performance.User{ID: "alice", Name: "Alice", ManagerID: &maya, CreatedAt: at}))
	require.NoError(t, s.SaveEntity(ctx, performance.Entity{ID: "acme", Name: "Acme", Type: performance.EntityClient, CreatedAt: at}))
}

func sampleRow() performance.MonthlyRow {
	return performance.MonthlyRow{
		ID: "r1", UserID: "alice", EntityID: "acme", Month: march,
		Status:    performance.StatusDraft,
		KPI:       performance.KPI{ExpectedProjects: 2, DeliveredProjects: 1},
		Learning:  []performance.LearningEntry{{Topic: "go", URL: "https://go.dev", AppliedWhere: "api", Minutes: 90}},
		CreatedAt: at, UpdatedAt: at,
	}
}

// =============================================================================
// ROWS
// =============================================================================

func TestRow_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))

	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, march, got.Month)
	assert.Equal(t, performance.StatusDraft, got.Status)
	assert.Equal(t, 1, got.KPI.DeliveredProjects)
	require.Len(t, got.Learning, 1)
	assert.Equal(t, 90, got.Learning[0].Minutes)
	assert.True(t, at.Equal(got.CreatedAt))
	assert.Nil(t, got.SubmittedAt)
	assert.Nil(t, got.ComputedScores)

	byKey, err := s.GetRowByKey(ctx, got.Key())
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, got.ID, byKey.ID)

	missing, err := s.GetRow(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertRow_DuplicateKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))

	dup := sampleRow()
	dup.ID = "r2"
	err := s.InsertRow(ctx, dup)
	assert.ErrorIs(t, err, performance.ErrDuplicateRow)
	assert.ErrorIs(t, err, performance.ErrConflict)
}

func TestCompareAndSetStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))

	submitted := at.Add(time.Hour)
	ok, err := s.CompareAndSetStatus(ctx, "r1", performance.StatusDraft, performance.StatusChange{
		To: performance.StatusSubmitted, SubmittedAt: &submitted, At: submitted,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// GIVEN: the row is no longer draft
	// WHEN: a second writer swaps from draft
	ok, err = s.CompareAndSetStatus(ctx, "r1", performance.StatusDraft, performance.StatusChange{
		To: performance.StatusSubmitted, At: submitted,
	})
	// THEN: nothing matches
	require.NoError(t, err)
	assert.False(t, ok)

	reviewer := performance.UserID("maya")
	notes := "solid"
	approved := submitted.Add(time.Hour)
	ok, err = s.CompareAndSetStatus(ctx, "r1", performance.StatusSubmitted, performance.StatusChange{
		To: performance.StatusApproved, Reviewer: &reviewer, ReviewNotes: &notes, ApprovedAt: &approved, At: approved,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, performance.StatusApproved, got.Status)
	require.NotNil(t, got.SubmittedAt, "earlier timestamps are kept")
	assert.True(t, submitted.Equal(*got.SubmittedAt))
	require.NotNil(t, got.Reviewer)
	assert.Equal(t, reviewer, *got.Reviewer)
	assert.Equal(t, "solid", got.ReviewNotes)
}

func TestCompareAndSetStatus_EmptyNotesClearStaleReview(t *testing.T) {
	// GIVEN: a returned row carrying the return reason
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))
	reason := "rework the summary"
	ok, err := s.CompareAndSetStatus(ctx, "r1", performance.StatusDraft, performance.StatusChange{
		To: performance.StatusReturned, ReviewNotes: &reason, At: at,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: it is resubmitted with empty notes
	cleared := ""
	ok, err = s.CompareAndSetStatus(ctx, "r1", performance.StatusReturned, performance.StatusChange{
		To: performance.StatusSubmitted, ReviewNotes: &cleared, At: at,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// THEN: the stored notes are empty, while nil notes would have kept them
	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got.ReviewNotes)
}

func TestUpdateRowContent_OnlyWhileEditable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	row := sampleRow()
	require.NoError(t, s.InsertRow(ctx, row))
	editable := []performance.RowStatus{performance.StatusDraft, performance.StatusReturned}

	row.WorkSummary = "shipped billing"
	ok, err := s.UpdateRowContent(ctx, row, editable)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.CompareAndSetStatus(ctx, "r1", performance.StatusDraft, performance.StatusChange{To: performance.StatusSubmitted, At: at})
	require.NoError(t, err)

	row.WorkSummary = "too late"
	ok, err = s.UpdateRowContent(ctx, row, editable)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "shipped billing", got.WorkSummary)
}

func TestListRows_Filters(t *testing.T) {
	s := newStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))
	other := sampleRow()
	other.ID, other.UserID, other.Status = "r2", "maya", performance.StatusSubmitted
	require.NoError(t, s.InsertRow(ctx, other))

	maya := performance.UserID("maya")
	rows, err := s.ListRows(ctx, performance.RowFilter{ManagerID: &maya})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, performance.RowID("r1"), rows[0].ID)

	rows, err = s.ListRows(ctx, performance.RowFilter{Statuses: []performance.RowStatus{performance.StatusSubmitted}, Year: 2025, Month: time.March})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, performance.RowID("r2"), rows[0].ID)

	rows, err = s.ListRows(ctx, performance.RowFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSaveComputedScores(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))

	cs := performance.ComputedScores{
		Accountability: decimal.NewFromInt(5), Output: decimal.NewFromInt(5), RowOutput: decimal.NewFromInt(5),
		RowScore: decimal.NewFromInt(5), Learning: decimal.RequireFromString("2.5"), Discipline: decimal.NewFromInt(8),
		UserMonthScore: 51,
	}
	require.NoError(t, s.SaveComputedScores(ctx, "r1", cs, at))

	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.ComputedScores)
	assert.True(t, cs.Equal(*got.ComputedScores))
	require.NotNil(t, got.LastComputedAt)
}

// =============================================================================
// UNLOCKS
// =============================================================================

func TestUnlock_OnePendingPerRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	req := performance.UnlockRequest{
		ID: "u1", RowID: "r1", RequestedBy: "alice", ManagerID: "maya",
		Reason: "typo", Status: performance.UnlockPending, CreatedAt: at,
	}
	require.NoError(t, s.CreateUnlockRequest(ctx, req))

	second := req
	second.ID = "u2"
	assert.ErrorIs(t, s.CreateUnlockRequest(ctx, second), performance.ErrDuplicatePendingUnlock)

	// Once decided, the partial index no longer covers the first request.
	ok, err := s.CompareAndSetUnlock(ctx, "u1", performance.UnlockPending,
		performance.UnlockChange{To: performance.UnlockRejected, DecisionNote: "no", At: at})
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.CreateUnlockRequest(ctx, second))

	pending, err := s.PendingUnlockForRow(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, performance.UnlockRequestID("u2"), pending.ID)

	decided, err := s.GetUnlockRequest(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockRejected, decided.Status)
	assert.Equal(t, "no", decided.DecisionNote)
	require.NotNil(t, decided.DecidedAt)

	all, err := s.ListUnlockRequests(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	mine, err := s.ListUnlockRequests(ctx, "maya", performance.UnlockPending)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

// =============================================================================
// AUDIT, DELAYS, ATTENDANCE
// =============================================================================

func TestQueryAudit_AppendOrderAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for i, to := range []string{"submitted", "approved", "draft"} {
		e := performance.NewAudit(performance.TableMonthlyRows, "r1", performance.FieldStatus, "", to, "alice", "", at.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.AppendAudit(ctx, e))
	}
	require.NoError(t, s.AppendAudit(ctx, performance.NewAudit(performance.TableUnlockRequests, "u1", performance.FieldStatus, "", "pending", "alice", "typo", at)))

	entries, err := s.QueryAudit(ctx, performance.AuditFilter{RecordID: "r1"})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "submitted", entries[0].NewValue)
	assert.Equal(t, "draft", entries[2].NewValue)

	limited, err := s.QueryAudit(ctx, performance.AuditFilter{TableName: performance.TableMonthlyRows, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	from := at.Add(time.Minute)
	later, err := s.QueryAudit(ctx, performance.AuditFilter{From: &from})
	require.NoError(t, err)
	assert.Len(t, later, 2)
}

func TestAppraisalDelay_UpsertIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	d := performance.AppraisalDelay{UserID: "alice", Month: march, Reason: performance.DelayInsufficientLearning, DeficitMinutes: 360, UpdatedAt: at}
	require.NoError(t, s.UpsertAppraisalDelay(ctx, d))
	d.DeficitMinutes = 60
	require.NoError(t, s.UpsertAppraisalDelay(ctx, d))

	delays, err := s.ListAppraisalDelays(ctx, "alice", march)
	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 60, delays[0].DeficitMinutes)

	require.NoError(t, s.ClearAppraisalDelay(ctx, "alice", march, performance.DelayInsufficientLearning))
	delays, err = s.ListAppraisalDelays(ctx, "alice", march)
	require.NoError(t, err)
	assert.Empty(t, delays)
}

func TestAttendance_DailyAndCache(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	agg := attendance.NewAggregator(s, attendance.DefaultPolicy(), zap.NewNop())

	for day := 3; day <= 7; day++ {
		_, err := agg.Record(ctx, performance.DailyAttendance{
			UserID: "alice", Date: time.Date(2025, time.March, day, 0, 0, 0, 0, time.UTC),
			Presence: performance.PresenceOffice, MeetingAttended: true,
		})
		require.NoError(t, err)
	}
	// Outside the month
	require.NoError(t, s.SaveDailyAttendance(ctx, performance.DailyAttendance{
		UserID: "alice", Date: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), Presence: performance.PresenceOffice,
	}))

	days, err := s.ListDailyAttendance(ctx, "alice", march)
	require.NoError(t, err)
	assert.Len(t, days, 5)

	cache, err := s.GetAttendanceCache(ctx, "alice", march)
	require.NoError(t, err)
	require.NotNil(t, cache)
	assert.Equal(t, 5, cache.OfficeDaysPresent)
	assert.Equal(t, 5, cache.OfficeDaysWithMeeting)
	assert.True(t, cache.DisciplineComponent.GreaterThan(decimal.Zero))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRow(ctx, sampleRow()))
	boom := errors.New("audit unavailable")

	err := s.WithTx(ctx, func(tx performance.Store) error {
		ok, err := tx.CompareAndSetStatus(ctx, "r1", performance.StatusDraft, performance.StatusChange{To: performance.StatusSubmitted, At: at})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetRow(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, performance.StatusDraft, got.Status)
}

// =============================================================================
// END TO END
// =============================================================================

func TestWorkflowAndRecompute_OnSQLite(t *testing.T) {
	s := newStore(t)
	seedDirectory(t, s)
	ctx := context.Background()
	require.NoError(t, s.SaveMapping(ctx, performance.UserEntityMapping{UserID: "alice", EntityID: "acme", ExpectedProjects: 2, Active: true}))

	ids := 0
	wf := workflow.NewService(s, zap.NewNop(), time.Second)
	wf.Now = func() time.Time { return at }
	wf.NewID = func() string { ids++; return fmt.Sprintf("id-%d", ids) }

	row, err := wf.SaveDraft(ctx, "alice", workflow.DraftInput{
		UserID: "alice", EntityID: "acme", Month: march,
		KPI:         performance.KPI{DeliveredProjects: 2},
		Learning:    []performance.LearningEntry{{Topic: "go", URL: "https://go.dev", AppliedWhere: "api", Minutes: 360}},
		WorkSummary: "shipped",
	})
	require.NoError(t, err)
	_, err = wf.Submit(ctx, "alice", row.ID)
	require.NoError(t, err)
	notes := "great work"
	_, err = wf.Approve(ctx, "maya", row.ID, &notes)
	require.NoError(t, err)

	require.NoError(t, s.SaveAttendanceCache(ctx, performance.AttendanceMonthlyCache{
		UserID: "alice", Month: march, DisciplineComponent: decimal.NewFromInt(9),
		OfficeAttendanceRate: decimal.NewFromInt(1), MeetingAttendanceRate: decimal.NewFromInt(1), ComputedAt: at,
	}))

	p := scoring.NewPipeline(s, nil, scoring.DefaultConfig(), zap.NewNop())
	p.Now = func() time.Time { return at }
	u, err := p.Recompute(ctx, "alice", march)
	require.NoError(t, err)
	assert.Equal(t, scoring.Composite(u.AvgRowScore, u.Learning.Score, u.Discipline.Score), u.Score)

	stored, err := s.GetRow(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ComputedScores)
	assert.Equal(t, u.Score, stored.ComputedScores.UserMonthScore)

	audits, err := s.QueryAudit(ctx, performance.AuditFilter{RecordID: scoring.UserMonthRecordID("alice", march)})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, performance.SystemActor, audits[0].ChangedBy)

	statusAudits, err := s.QueryAudit(ctx, performance.AuditFilter{RecordID: string(row.ID)})
	require.NoError(t, err)
	assert.Len(t, statusAudits, 3, "created, submitted, approved")
}
