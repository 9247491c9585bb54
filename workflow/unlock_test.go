package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/workflow"
)

// =============================================================================
// REQUEST UNLOCK
// =============================================================================

func TestRequestUnlock_CreatesPendingRequestForManager(t *testing.T) {
	f := newFixture(t)
	row := f.approved(t)

	req, err := f.svc.RequestUnlock(context.Background(), owner, row.ID, "typo in delivered units")
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockPending, req.Status)
	assert.Equal(t, manager, req.ManagerID)
	assert.Equal(t, owner, req.RequestedBy)

	audits := f.statusAudits(t, string(req.ID))
	require.Len(t, audits, 1)
	assert.Equal(t, performance.TableUnlockRequests, audits[0].TableName)
}

func TestRequestUnlock_Guards(t *testing.T) {
	ctx := context.Background()

	t.Run("reason required", func(t *testing.T) {
		f := newFixture(t)
		row := f.approved(t)
		_, err := f.svc.RequestUnlock(ctx, owner, row.ID, "")
		requireWorkflowError(t, err, performance.ErrValidation, "A reason is required to request an unlock")
	})

	t.Run("owner only", func(t *testing.T) {
		f := newFixture(t)
		row := f.approved(t)
		_, err := f.svc.RequestUnlock(ctx, manager, row.ID, "please")
		requireWorkflowError(t, err, performance.ErrUnauthorized, "Only the row owner can request an unlock")
	})

	t.Run("approved rows only", func(t *testing.T) {
		f := newFixture(t)
		row := f.submitted(t)
		_, err := f.svc.RequestUnlock(ctx, owner, row.ID, "please")
		requireWorkflowError(t, err, performance.ErrValidation, "Only approved rows can be unlocked, current status: submitted")
	})

	t.Run("one pending request per row", func(t *testing.T) {
		f := newFixture(t)
		row := f.approved(t)
		_, err := f.svc.RequestUnlock(ctx, owner, row.ID, "first")
		require.NoError(t, err)
		_, err = f.svc.RequestUnlock(ctx, owner, row.ID, "second")
		requireWorkflowError(t, err, performance.ErrConflict, "An unlock request is already pending for this row")
	})
}

// =============================================================================
// APPROVE UNLOCK
// =============================================================================

func TestApproveUnlock_ReturnsRowToDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.approved(t)
	req, err := f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)

	res, err := f.svc.ApproveUnlock(ctx, manager, req.ID, "go ahead")
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockApproved, res.Request.Status)
	require.NotNil(t, res.Row)
	assert.Equal(t, performance.StatusDraft, res.Row.Status)
	assert.NotNil(t, res.Row.UnlockedAt)

	stored, err := f.store.GetUnlockRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockApproved, stored.Status)
	assert.Equal(t, "go ahead", stored.DecisionNote)

	// The reopened row can be edited and resubmitted.
	_, err = f.svc.Submit(ctx, owner, row.ID)
	require.NoError(t, err)
}

func TestApproveUnlock_IsAtomicUnderFailure(t *testing.T) {
	// GIVEN: a pending unlock request
	// WHEN: the row write fails after the request write succeeded
	// THEN: the request is still pending, the row still approved, no new audit
	ctx := context.Background()
	f := newFixture(t)
	row := f.approved(t)
	req, err := f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)
	auditsBefore := len(f.statusAudits(t, string(row.ID))) + len(f.statusAudits(t, string(req.ID)))

	f.store.FailOn("CompareAndSetStatus", errors.New("connection lost"))
	_, err = f.svc.ApproveUnlock(ctx, manager, req.ID, "ok")
	require.Error(t, err)
	assert.ErrorIs(t, err, performance.ErrDatastore)

	storedReq, err := f.store.GetUnlockRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockPending, storedReq.Status)
	assert.Nil(t, storedReq.DecidedAt)

	storedRow, err := f.store.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, performance.StatusApproved, storedRow.Status)
	assert.Nil(t, storedRow.UnlockedAt)

	auditsAfter := len(f.statusAudits(t, string(row.ID))) + len(f.statusAudits(t, string(req.ID)))
	assert.Equal(t, auditsBefore, auditsAfter)

	// And the same request can still be approved afterwards.
	res, err := f.svc.ApproveUnlock(ctx, manager, req.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, performance.StatusDraft, res.Row.Status)
}

func TestApproveUnlock_OnlyRequestManager(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.approved(t)
	req, err := f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)

	_, err = f.svc.ApproveUnlock(ctx, stranger, req.ID, "")
	requireWorkflowError(t, err, performance.ErrUnauthorized, "Only the assigned manager can approve this unlock request")
}

func TestApproveUnlock_AlreadyDecided(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.approved(t)
	req, err := f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)
	_, err = f.svc.RejectUnlock(ctx, manager, req.ID, "no")
	require.NoError(t, err)

	_, err = f.svc.ApproveUnlock(ctx, manager, req.ID, "")
	requireWorkflowError(t, err, performance.ErrValidation, "Unlock request is already rejected")
}

// =============================================================================
// REJECT UNLOCK
// =============================================================================

func TestRejectUnlock_LeavesRowApproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.approved(t)
	req, err := f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)

	res, err := f.svc.RejectUnlock(ctx, manager, req.ID, "numbers are final")
	require.NoError(t, err)
	assert.Equal(t, performance.UnlockRejected, res.Request.Status)
	assert.Nil(t, res.Row)

	stored, err := f.store.GetRow(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, performance.StatusApproved, stored.Status)

	// A new request may follow a rejected one.
	_, err = f.svc.RequestUnlock(ctx, owner, row.ID, "second try")
	require.NoError(t, err)
}

// =============================================================================
// READ SIDE
// =============================================================================

func TestRowsPendingReviewAndUnlockQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	row := f.submitted(t)

	pending, err := f.svc.RowsPendingReview(ctx, manager)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, row.ID, pending[0].ID)

	none, err := f.svc.RowsPendingReview(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.Approve(ctx, manager, row.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)

	reqs, err := f.svc.PendingUnlockRequests(ctx, manager)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, row.ID, reqs[0].RowID)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// One row approved 6 hours after submission, one row left in draft.
	row := f.draft(t)
	_, err := f.svc.Submit(ctx, owner, row.ID)
	require.NoError(t, err)
	f.advance(6 * time.Hour)
	_, err = f.svc.Approve(ctx, manager, row.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.RequestUnlock(ctx, owner, row.ID, "typo")
	require.NoError(t, err)

	require.NoError(t, f.store.SaveEntity(ctx, performance.Entity{ID: "globex", Name: "Globex"}))
	_, err = f.svc.SaveDraft(ctx, owner, workflow.DraftInput{UserID: owner, EntityID: "globex", Month: march})
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx, 2025, time.March)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalRows)
	assert.Equal(t, 1, st.StatusCounts[performance.StatusApproved])
	assert.Equal(t, 1, st.StatusCounts[performance.StatusDraft])
	assert.True(t, st.SubmissionRate.Equal(decimal.RequireFromString("0.5")), "got %s", st.SubmissionRate)
	assert.True(t, st.ApprovalRate.Equal(decimal.RequireFromString("0.5")), "got %s", st.ApprovalRate)
	assert.True(t, st.AverageApprovalLatencyHours.Equal(decimal.NewFromInt(6)), "got %s", st.AverageApprovalLatencyHours)
	assert.Equal(t, 1, st.PendingUnlockRequests)

	empty, err := f.svc.Stats(ctx, 2025, time.June)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalRows)
	assert.True(t, empty.SubmissionRate.IsZero())
}

func TestStats_RejectsBadPeriod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Stats(context.Background(), 2025, time.Month(13))
	assert.ErrorIs(t, err, performance.ErrValidation)
}
