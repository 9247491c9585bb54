package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// UNLOCK STORE (performance.UnlockStore interface)
// =============================================================================

const unlockColumns = `id, row_id, requested_by, manager_id, reason, status, decision_note, created_at, decided_at`

func (s *Store) CreateUnlockRequest(ctx context.Context, req performance.UnlockRequest) error {
	return exec(s, func(c conn) error { return c.CreateUnlockRequest(ctx, req) })
}

func (s *Store) GetUnlockRequest(ctx context.Context, id performance.UnlockRequestID) (*performance.UnlockRequest, error) {
	return read(s, func(c conn) (*performance.UnlockRequest, error) { return c.GetUnlockRequest(ctx, id) })
}

func (s *Store) PendingUnlockForRow(ctx context.Context, rowID performance.RowID) (*performance.UnlockRequest, error) {
	return read(s, func(c conn) (*performance.UnlockRequest, error) { return c.PendingUnlockForRow(ctx, rowID) })
}

func (s *Store) ListUnlockRequests(ctx context.Context, managerID performance.UserID, status performance.UnlockStatus) ([]performance.UnlockRequest, error) {
	return read(s, func(c conn) ([]performance.UnlockRequest, error) { return c.ListUnlockRequests(ctx, managerID, status) })
}

func (s *Store) CompareAndSetUnlock(ctx context.Context, id performance.UnlockRequestID, from performance.UnlockStatus, change performance.UnlockChange) (bool, error) {
	return write(s, func(c conn) (bool, error) { return c.CompareAndSetUnlock(ctx, id, from, change) })
}

func (c conn) CreateUnlockRequest(ctx context.Context, req performance.UnlockRequest) error {
	query := `
		INSERT INTO unlock_requests (` + unlockColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		req.ID, req.RowID, req.RequestedBy, req.ManagerID, req.Reason, req.Status,
		nullString(req.DecisionNote), formatTime(req.CreatedAt), formatTimePtr(req.DecidedAt),
	)
	if err != nil {
		// The partial unique index allows only one pending request per row.
		if isUniqueConstraintError(err) {
			return performance.ErrDuplicatePendingUnlock
		}
		return fmt.Errorf("failed to create unlock request: %w", err)
	}
	return nil
}

func (c conn) GetUnlockRequest(ctx context.Context, id performance.UnlockRequestID) (*performance.UnlockRequest, error) {
	return c.getUnlock(ctx, "SELECT "+unlockColumns+" FROM unlock_requests WHERE id = ?", id)
}

func (c conn) PendingUnlockForRow(ctx context.Context, rowID performance.RowID) (*performance.UnlockRequest, error) {
	return c.getUnlock(ctx,
		"SELECT "+unlockColumns+" FROM unlock_requests WHERE row_id = ? AND status = ?",
		rowID, performance.UnlockPending)
}

func (c conn) ListUnlockRequests(ctx context.Context, managerID performance.UserID, status performance.UnlockStatus) ([]performance.UnlockRequest, error) {
	query := `
		SELECT ` + unlockColumns + `
		FROM unlock_requests
		WHERE (? = '' OR manager_id = ?) AND (? = '' OR status = ?)
		ORDER BY created_at, id
	`
	rows, err := c.q.QueryContext(ctx, query, managerID, managerID, status, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlock requests: %w", err)
	}
	defer rows.Close()

	var out []performance.UnlockRequest
	for rows.Next() {
		req, err := scanUnlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (c conn) CompareAndSetUnlock(ctx context.Context, id performance.UnlockRequestID, from performance.UnlockStatus, change performance.UnlockChange) (bool, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE unlock_requests
		SET status = ?, decision_note = ?, decided_at = ?
		WHERE id = ? AND status = ?`,
		change.To, nullString(change.DecisionNote), formatTime(change.At), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to set unlock status: %w", err)
	}
	return affected(res)
}

func (c conn) getUnlock(ctx context.Context, query string, args ...any) (*performance.UnlockRequest, error) {
	req, err := scanUnlock(c.q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func scanUnlock(sc scanner) (performance.UnlockRequest, error) {
	var (
		req       performance.UnlockRequest
		note      sql.NullString
		createdAt string
		decidedAt sql.NullString
	)
	err := sc.Scan(&req.ID, &req.RowID, &req.RequestedBy, &req.ManagerID, &req.Reason,
		&req.Status, &note, &createdAt, &decidedAt)
	if err == sql.ErrNoRows {
		return req, err
	}
	if err != nil {
		return req, fmt.Errorf("failed to scan unlock request: %w", err)
	}
	req.DecisionNote = note.String
	req.CreatedAt = parseTime(createdAt)
	req.DecidedAt = parseTimePtr(decidedAt)
	return req, nil
}
