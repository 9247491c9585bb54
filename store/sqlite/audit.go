package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// AUDIT LOG (performance.AuditLog interface) - INSERT and SELECT only
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, entry performance.ChangeAudit) error {
	return exec(s, func(c conn) error { return c.AppendAudit(ctx, entry) })
}

func (s *Store) QueryAudit(ctx context.Context, filter performance.AuditFilter) ([]performance.ChangeAudit, error) {
	return read(s, func(c conn) ([]performance.ChangeAudit, error) { return c.QueryAudit(ctx, filter) })
}

func (c conn) AppendAudit(ctx context.Context, e performance.ChangeAudit) error {
	query := `
		INSERT INTO change_audit (id, table_name, record_id, field_name, old_value, new_value, changed_by, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		e.ID, e.TableName, e.RecordID, e.FieldName,
		nullString(e.OldValue), nullString(e.NewValue),
		e.ChangedBy, nullString(e.Reason), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries in the order they were appended.
func (c conn) QueryAudit(ctx context.Context, f performance.AuditFilter) ([]performance.ChangeAudit, error) {
	var (
		where []string
		args  []any
	)
	if f.TableName != "" {
		where = append(where, "table_name = ?")
		args = append(args, f.TableName)
	}
	if f.RecordID != "" {
		where = append(where, "record_id = ?")
		args = append(args, f.RecordID)
	}
	if f.ChangedBy != "" {
		where = append(where, "changed_by = ?")
		args = append(args, f.ChangedBy)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := "SELECT id, table_name, record_id, field_name, old_value, new_value, changed_by, reason, created_at FROM change_audit"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}
	defer rows.Close()

	var out []performance.ChangeAudit
	for rows.Next() {
		var (
			e                  performance.ChangeAudit
			oldV, newV, reason sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.FieldName,
			&oldV, &newV, &e.ChangedBy, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		e.OldValue = oldV.String
		e.NewValue = newV.String
		e.Reason = reason.String
		e.CreatedAt = parseTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
