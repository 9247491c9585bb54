package workflow

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// UNLOCK REQUESTS
// =============================================================================

// UnlockResult is the outcome of an unlock decision.
type UnlockResult struct {
	Request performance.UnlockRequest
	Row     *performance.MonthlyRow
}

// RequestUnlock asks the owner's manager to reopen an approved row.
func (s *Service) RequestUnlock(ctx context.Context, actor performance.UserID, rowID performance.RowID, reason string) (*performance.UnlockRequest, error) {
	const op = "request_unlock"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	if isBlank(reason) {
		return nil, performance.Validationf(op, "A reason is required to request an unlock")
	}
	row, err := s.loadRow(ctx, op, rowID)
	if err != nil {
		return nil, err
	}
	if row.UserID != actor {
		return nil, performance.Unauthorizedf(op, "Only the row owner can request an unlock")
	}
	if row.Status != performance.StatusApproved {
		return nil, performance.Validationf(op, "Only approved rows can be unlocked, current status: %s", row.Status)
	}

	owner, err := s.Store.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, performance.WrapStore("get user", err)
	}
	if owner == nil || owner.ManagerID == nil {
		return nil, performance.Validationf(op, "No assigned manager to review the unlock request")
	}

	now := s.now()
	req := performance.UnlockRequest{
		ID:          performance.UnlockRequestID(s.NewID()),
		RowID:       row.ID,
		RequestedBy: actor,
		ManagerID:   *owner.ManagerID,
		Reason:      reason,
		Status:      performance.UnlockPending,
		CreatedAt:   now,
	}

	err = s.Store.WithTx(ctx, func(tx performance.Store) error {
		pending, err := tx.PendingUnlockForRow(ctx, row.ID)
		if err != nil {
			return performance.WrapStore("pending unlock for row", err)
		}
		if pending != nil {
			return performance.Conflictf(op, "An unlock request is already pending for this row")
		}
		if err := tx.CreateUnlockRequest(ctx, req); err != nil {
			if errors.Is(err, performance.ErrDuplicatePendingUnlock) {
				return performance.Conflictf(op, "An unlock request is already pending for this row")
			}
			return performance.WrapStore("create unlock request", err)
		}
		return appendAudit(ctx, tx, performance.NewAudit(performance.TableUnlockRequests, string(req.ID),
			performance.FieldStatus, "", string(performance.UnlockPending), string(actor), reason, now))
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("unlock requested",
		zap.String("request_id", string(req.ID)),
		zap.String("row_id", string(row.ID)),
		zap.String("manager_id", string(req.ManagerID)))
	return &req, nil
}

// ApproveUnlock approves a pending request and returns its row to draft.
// Both writes and their audit entries commit together or not at all.
func (s *Service) ApproveUnlock(ctx context.Context, actor performance.UserID, id performance.UnlockRequestID, note string) (*UnlockResult, error) {
	const op = "approve_unlock"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	req, err := s.loadPendingRequest(ctx, op, actor, id, "Only the assigned manager can approve this unlock request")
	if err != nil {
		return nil, err
	}

	now := s.now()
	var row *performance.MonthlyRow
	err = s.Store.WithTx(ctx, func(tx performance.Store) error {
		ok, err := tx.CompareAndSetUnlock(ctx, req.ID, performance.UnlockPending,
			performance.UnlockChange{To: performance.UnlockApproved, DecisionNote: note, At: now})
		if err != nil {
			return performance.WrapStore("compare and set unlock", err)
		}
		if !ok {
			return performance.Conflictf(op, "Unlock request was decided concurrently; reload and try again")
		}

		ok, err = tx.CompareAndSetStatus(ctx, req.RowID, performance.StatusApproved,
			performance.StatusChange{To: performance.StatusDraft, UnlockedAt: &now, At: now})
		if err != nil {
			return performance.WrapStore("compare and set status", err)
		}
		if !ok {
			return performance.Conflictf(op, "Row is no longer approved; unlock cannot be applied")
		}

		if err := appendAudit(ctx, tx, performance.NewAudit(performance.TableUnlockRequests, string(req.ID),
			performance.FieldStatus, string(performance.UnlockPending), string(performance.UnlockApproved),
			string(actor), note, now)); err != nil {
			return err
		}
		if err := appendAudit(ctx, tx, performance.NewAudit(performance.TableMonthlyRows, string(req.RowID),
			performance.FieldStatus, string(performance.StatusApproved), string(performance.StatusDraft),
			string(actor), "unlocked: "+req.Reason, now)); err != nil {
			return err
		}

		row, err = tx.GetRow(ctx, req.RowID)
		return performance.WrapStore("get row", err)
	})
	if err != nil {
		s.Logger.Warn("unlock approval rolled back", zap.String("request_id", string(id)), zap.Error(err))
		return nil, err
	}

	req.Status = performance.UnlockApproved
	req.DecisionNote = note
	req.DecidedAt = &now
	s.Logger.Info("unlock approved",
		zap.String("request_id", string(req.ID)),
		zap.String("row_id", string(req.RowID)),
		zap.String("manager_id", string(actor)))
	return &UnlockResult{Request: *req, Row: row}, nil
}

// RejectUnlock rejects a pending request. The row stays approved.
func (s *Service) RejectUnlock(ctx context.Context, actor performance.UserID, id performance.UnlockRequestID, note string) (*UnlockResult, error) {
	const op = "reject_unlock"
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	req, err := s.loadPendingRequest(ctx, op, actor, id, "Only the assigned manager can reject this unlock request")
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.Store.WithTx(ctx, func(tx performance.Store) error {
		ok, err := tx.CompareAndSetUnlock(ctx, req.ID, performance.UnlockPending,
			performance.UnlockChange{To: performance.UnlockRejected, DecisionNote: note, At: now})
		if err != nil {
			return performance.WrapStore("compare and set unlock", err)
		}
		if !ok {
			return performance.Conflictf(op, "Unlock request was decided concurrently; reload and try again")
		}
		return appendAudit(ctx, tx, performance.NewAudit(performance.TableUnlockRequests, string(req.ID),
			performance.FieldStatus, string(performance.UnlockPending), string(performance.UnlockRejected),
			string(actor), note, now))
	})
	if err != nil {
		return nil, err
	}

	req.Status = performance.UnlockRejected
	req.DecisionNote = note
	req.DecidedAt = &now
	s.Logger.Info("unlock rejected", zap.String("request_id", string(req.ID)), zap.String("manager_id", string(actor)))
	return &UnlockResult{Request: *req}, nil
}

func (s *Service) loadPendingRequest(ctx context.Context, op string, actor performance.UserID, id performance.UnlockRequestID, unauthorized string) (*performance.UnlockRequest, error) {
	req, err := s.Store.GetUnlockRequest(ctx, id)
	if err != nil {
		return nil, performance.WrapStore("get unlock request", err)
	}
	if req == nil {
		return nil, performance.NotFoundf(op, "Unlock request %s not found", id)
	}
	if req.ManagerID != actor {
		return nil, performance.Unauthorizedf(op, "%s", unauthorized)
	}
	if req.Status != performance.UnlockPending {
		return nil, performance.Validationf(op, "Unlock request is already %s", req.Status)
	}
	return req, nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
