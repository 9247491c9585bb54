/*
Package workflow implements the monthly row state machine.

PURPOSE:
  Owners fill in and submit their monthly rows; their assigned manager
  approves or returns them. Approved rows are locked until the manager
  grants an unlock request.

STATE MACHINE:
  draft ──submit──► submitted ──approve──► approved
    ▲                   │                     │
    │                return                unlock (approved request)
    │                   ▼                     │
    │               returned ──submit──►      │
    └─────────────────────────────────────────┘

GUARDS:
  submit          owner only, from draft or returned, content must validate
  approve         assigned manager only, from submitted, notes optional
  return          assigned manager only, from submitted, reason required
  request_unlock  owner only, from approved, reason required, one pending
  approve_unlock  request's manager only, request pending; request and row
                  change together or not at all
  reject_unlock   request's manager only, request pending; row untouched

CONSISTENCY:
  Every status write is a compare-and-swap on the status read at the start
  of the operation, done inside TxStore.WithTx together with its audit
  entry. A swap that matches zero rows is a conflict: someone else moved
  the row first. Transitions are never retried here.

ERRORS:
  Guard failures are *performance.WorkflowError values whose Message is
  shown to users verbatim.

SEE ALSO:
  - unlock.go: Unlock request flow
  - queries.go: Manager queues and workflow statistics
  - performance/store.go: CompareAndSetStatus, WithTx
*/
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service runs workflow transitions against a transactional store.
type Service struct {
	Store       performance.TxStore
	Logger      *zap.Logger
	CallTimeout time.Duration
	Now         func() time.Time
	NewID       func() string
}

// NewService creates a workflow service.
func NewService(store performance.TxStore, logger *zap.Logger, callTimeout time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:       store,
		Logger:      logger,
		CallTimeout: callTimeout,
		Now:         time.Now,
		NewID:       uuid.NewString,
	}
}

var editableStatuses = []performance.RowStatus{performance.StatusDraft, performance.StatusReturned}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.CallTimeout)
}

func (s *Service) now() time.Time { return s.Now().UTC() }

// =============================================================================
// DRAFTS
// =============================================================================

// DraftInput is the owner-editable content of a row.
type DraftInput struct {
	UserID      performance.UserID
	EntityID    performance.EntityID
	Month       performance.Month
	KPI         performance.KPI
	Learning    []performance.LearningEntry
	WorkSummary string
}

// SaveDraft creates the row for (user, entity, month) or replaces its
// content. Only the owner may save, and only while the row is draft or
// returned. Malformed learning entries reject the whole save.
func (s *Service) SaveDraft(ctx context.Context, actor performance.UserID, in DraftInput) (*performance.MonthlyRow, error) {
	const op = "save_draft"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if actor != in.UserID {
		return nil, performance.Unauthorizedf(op, "Only the row owner can edit this row")
	}
	if err := in.Month.Validate(); err != nil {
		return nil, err
	}
	if in.EntityID == "" {
		return nil, performance.Validationf(op, "entity_id is required")
	}
	if err := validateContent(in.KPI, in.Learning); err != nil {
		return nil, err
	}

	entity, err := s.Store.GetEntity(ctx, in.EntityID)
	if err != nil {
		return nil, performance.WrapStore("get entity", err)
	}
	if entity == nil {
		return nil, performance.NotFoundf(op, "Entity %s not found", in.EntityID)
	}

	key := performance.RowKey{UserID: in.UserID, EntityID: in.EntityID, Month: in.Month}
	existing, err := s.Store.GetRowByKey(ctx, key)
	if err != nil {
		return nil, performance.WrapStore("get row", err)
	}

	now := s.now()
	if existing == nil {
		row := performance.MonthlyRow{
			ID:          performance.RowID(s.NewID()),
			UserID:      in.UserID,
			EntityID:    in.EntityID,
			Month:       in.Month,
			Status:      performance.StatusDraft,
			KPI:         in.KPI,
			Learning:    in.Learning,
			WorkSummary: in.WorkSummary,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := s.Store.WithTx(ctx, func(tx performance.Store) error {
			if err := tx.InsertRow(ctx, row); err != nil {
				return performance.WrapStore("insert row", err)
			}
			return appendAudit(ctx, tx, performance.NewAudit(performance.TableMonthlyRows, string(row.ID),
				performance.FieldStatus, "", string(performance.StatusDraft), string(actor), "created", now))
		})
		if err != nil {
			return nil, err
		}
		s.Logger.Info("row created", zap.String("row_id", string(row.ID)), zap.String("user_id", string(actor)))
		return &row, nil
	}

	if !existing.IsEditable() {
		return nil, performance.Validationf(op, "Row is %s and cannot be edited", existing.Status)
	}
	existing.KPI = in.KPI
	existing.Learning = in.Learning
	existing.WorkSummary = in.WorkSummary
	existing.UpdatedAt = now
	ok, err := s.Store.UpdateRowContent(ctx, *existing, editableStatuses)
	if err != nil {
		return nil, performance.WrapStore("update row content", err)
	}
	if !ok {
		return nil, performance.Conflictf(op, "Row was modified by another request; reload and try again")
	}
	return existing, nil
}

// =============================================================================
// SUBMIT / APPROVE / RETURN
// =============================================================================

// Submit moves an owner's draft or returned row to submitted and clears
// any review notes left from a previous review.
func (s *Service) Submit(ctx context.Context, actor performance.UserID, rowID performance.RowID) (*performance.MonthlyRow, error) {
	const op = "submit"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	row, err := s.loadRow(ctx, op, rowID)
	if err != nil {
		return nil, err
	}
	if row.UserID != actor {
		return nil, performance.Unauthorizedf(op, "Only the row owner can submit this row")
	}
	if !row.IsEditable() {
		return nil, performance.Validationf(op, "Row must be in draft or returned status to submit, current status: %s", row.Status)
	}
	if err := validateContent(row.KPI, row.Learning); err != nil {
		return nil, err
	}

	// Notes from an earlier review do not carry into the new submission.
	// The return reason stays in the audit trail.
	now := s.now()
	cleared := ""
	change := performance.StatusChange{To: performance.StatusSubmitted, ReviewNotes: &cleared, SubmittedAt: &now, At: now}
	return s.transition(ctx, op, actor, row, change, "submitted for review")
}

// Approve moves a submitted row to approved. notes may be nil.
func (s *Service) Approve(ctx context.Context, actor performance.UserID, rowID performance.RowID, notes *string) (*performance.MonthlyRow, error) {
	const op = "approve"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	row, err := s.loadRow(ctx, op, rowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, op, actor, row, "Only the assigned manager can approve this row"); err != nil {
		return nil, err
	}
	if row.Status != performance.StatusSubmitted {
		return nil, performance.Validationf(op, "Row must be submitted to approve, current status: %s", row.Status)
	}

	now := s.now()
	reviewer := actor
	change := performance.StatusChange{
		To:          performance.StatusApproved,
		Reviewer:    &reviewer,
		ReviewNotes: notes,
		ApprovedAt:  &now,
		At:          now,
	}
	reason := "approved"
	if notes != nil && *notes != "" {
		reason = *notes
	}
	return s.transition(ctx, op, actor, row, change, reason)
}

// Return sends a submitted row back to its owner with a reason.
func (s *Service) Return(ctx context.Context, actor performance.UserID, rowID performance.RowID, reason string) (*performance.MonthlyRow, error) {
	const op = "return"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if isBlank(reason) {
		return nil, performance.Validationf(op, "A reason is required to return a row")
	}
	row, err := s.loadRow(ctx, op, rowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, op, actor, row, "Only the assigned manager can return this row"); err != nil {
		return nil, err
	}
	if row.Status != performance.StatusSubmitted {
		return nil, performance.Validationf(op, "Row must be submitted to return, current status: %s", row.Status)
	}

	now := s.now()
	reviewer := actor
	change := performance.StatusChange{
		To:          performance.StatusReturned,
		Reviewer:    &reviewer,
		ReviewNotes: &reason,
		ReturnedAt:  &now,
		At:          now,
	}
	return s.transition(ctx, op, actor, row, change, reason)
}

// =============================================================================
// HELPERS
// =============================================================================

// transition swaps the row's status from its current value and appends the
// audit entry, both in one transaction.
func (s *Service) transition(ctx context.Context, op string, actor performance.UserID, row *performance.MonthlyRow,
	change performance.StatusChange, reason string) (*performance.MonthlyRow, error) {
	from := row.Status
	err := s.Store.WithTx(ctx, func(tx performance.Store) error {
		ok, err := tx.CompareAndSetStatus(ctx, row.ID, from, change)
		if err != nil {
			return performance.WrapStore("compare and set status", err)
		}
		if !ok {
			return performance.Conflictf(op, "Row status changed concurrently; reload and try again")
		}
		return appendAudit(ctx, tx, performance.NewAudit(performance.TableMonthlyRows, string(row.ID),
			performance.FieldStatus, string(from), string(change.To), string(actor), reason, change.At))
	})
	if err != nil {
		s.Logger.Warn("transition failed",
			zap.String("op", op),
			zap.String("row_id", string(row.ID)),
			zap.Error(err))
		return nil, err
	}

	change.Apply(row)
	s.Logger.Info("row transitioned",
		zap.String("op", op),
		zap.String("row_id", string(row.ID)),
		zap.String("from", string(from)),
		zap.String("to", string(change.To)),
		zap.String("actor", string(actor)))
	return row, nil
}

func (s *Service) loadRow(ctx context.Context, op string, id performance.RowID) (*performance.MonthlyRow, error) {
	row, err := s.Store.GetRow(ctx, id)
	if err != nil {
		return nil, performance.WrapStore("get row", err)
	}
	if row == nil {
		return nil, performance.NotFoundf(op, "Row %s not found", id)
	}
	return row, nil
}

func (s *Service) requireManager(ctx context.Context, op string, actor performance.UserID, row *performance.MonthlyRow, msg string) error {
	owner, err := s.Store.GetUser(ctx, row.UserID)
	if err != nil {
		return performance.WrapStore("get user", err)
	}
	if owner == nil || !owner.IsManagedBy(actor) {
		return performance.Unauthorizedf(op, "%s", msg)
	}
	return nil
}

func appendAudit(ctx context.Context, tx performance.Store, entry performance.ChangeAudit) error {
	return performance.WrapStore("append audit", tx.AppendAudit(ctx, entry))
}

func validateContent(kpi performance.KPI, learning []performance.LearningEntry) error {
	if err := kpi.Validate(); err != nil {
		return err
	}
	return performance.ValidateLearning(learning)
}
