package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// ROW STORE (performance.RowStore interface)
// =============================================================================

const rowColumns = `id, user_id, entity_id, year, month, status, kpi_json, learning_json, work_summary,
	reviewer, review_notes, submitted_at, approved_at, returned_at, unlocked_at,
	computed_scores, last_computed_at, created_at, updated_at`

func (s *Store) GetRow(ctx context.Context, id performance.RowID) (*performance.MonthlyRow, error) {
	return read(s, func(c conn) (*performance.MonthlyRow, error) { return c.GetRow(ctx, id) })
}

func (s *Store) GetRowByKey(ctx context.Context, key performance.RowKey) (*performance.MonthlyRow, error) {
	return read(s, func(c conn) (*performance.MonthlyRow, error) { return c.GetRowByKey(ctx, key) })
}

func (s *Store) ListUserRows(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.MonthlyRow, error) {
	return read(s, func(c conn) ([]performance.MonthlyRow, error) { return c.ListUserRows(ctx, userID, month) })
}

func (s *Store) ListRows(ctx context.Context, filter performance.RowFilter) ([]performance.MonthlyRow, error) {
	return read(s, func(c conn) ([]performance.MonthlyRow, error) { return c.ListRows(ctx, filter) })
}

func (s *Store) InsertRow(ctx context.Context, row performance.MonthlyRow) error {
	return exec(s, func(c conn) error { return c.InsertRow(ctx, row) })
}

func (s *Store) UpdateRowContent(ctx context.Context, row performance.MonthlyRow, editable []performance.RowStatus) (bool, error) {
	return write(s, func(c conn) (bool, error) { return c.UpdateRowContent(ctx, row, editable) })
}

func (s *Store) CompareAndSetStatus(ctx context.Context, id performance.RowID, from performance.RowStatus, change performance.StatusChange) (bool, error) {
	return write(s, func(c conn) (bool, error) { return c.CompareAndSetStatus(ctx, id, from, change) })
}

func (s *Store) SaveComputedScores(ctx context.Context, id performance.RowID, scores performance.ComputedScores, at time.Time) error {
	return exec(s, func(c conn) error { return c.SaveComputedScores(ctx, id, scores, at) })
}

func (c conn) GetRow(ctx context.Context, id performance.RowID) (*performance.MonthlyRow, error) {
	row, err := scanRow(c.q.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM monthly_rows WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (c conn) GetRowByKey(ctx context.Context, key performance.RowKey) (*performance.MonthlyRow, error) {
	row, err := scanRow(c.q.QueryRowContext(ctx,
		"SELECT "+rowColumns+" FROM monthly_rows WHERE user_id = ? AND entity_id = ? AND year = ? AND month = ?",
		key.UserID, key.EntityID, key.Month.Year, int(key.Month.Month)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (c conn) ListUserRows(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.MonthlyRow, error) {
	query := `
		SELECT ` + rowColumns + `
		FROM monthly_rows
		WHERE user_id = ? AND year = ? AND month = ?
		ORDER BY entity_id
	`
	return c.queryRows(ctx, query, userID, month.Year, int(month.Month))
}

func (c conn) ListRows(ctx context.Context, f performance.RowFilter) ([]performance.MonthlyRow, error) {
	var (
		where []string
		args  []any
	)
	if len(f.UserIDs) > 0 {
		where = append(where, "user_id IN ("+placeholders(len(f.UserIDs))+")")
		for _, id := range f.UserIDs {
			args = append(args, id)
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, int(f.Month))
	}
	if f.ManagerID != nil {
		where = append(where, "user_id IN (SELECT id FROM users WHERE manager_id = ?)")
		args = append(args, *f.ManagerID)
	}

	query := "SELECT " + rowColumns + " FROM monthly_rows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY user_id, year, month, entity_id"
	return c.queryRows(ctx, query, args...)
}

func (c conn) InsertRow(ctx context.Context, row performance.MonthlyRow) error {
	kpiJSON, learningJSON, err := encodeContent(row)
	if err != nil {
		return err
	}
	scoresJSON, err := encodeScores(row.ComputedScores)
	if err != nil {
		return err
	}
	var reviewer sql.NullString
	if row.Reviewer != nil {
		reviewer = nullString(string(*row.Reviewer))
	}

	query := `
		INSERT INTO monthly_rows (` + rowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = c.q.ExecContext(ctx, query,
		row.ID, row.UserID, row.EntityID, row.Month.Year, int(row.Month.Month), row.Status,
		kpiJSON, learningJSON, row.WorkSummary,
		reviewer, row.ReviewNotes,
		formatTimePtr(row.SubmittedAt), formatTimePtr(row.ApprovedAt),
		formatTimePtr(row.ReturnedAt), formatTimePtr(row.UnlockedAt),
		scoresJSON, formatTimePtr(row.LastComputedAt),
		formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return performance.ErrDuplicateRow
		}
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

func (c conn) UpdateRowContent(ctx context.Context, row performance.MonthlyRow, editable []performance.RowStatus) (bool, error) {
	if len(editable) == 0 {
		return false, nil
	}
	kpiJSON, learningJSON, err := encodeContent(row)
	if err != nil {
		return false, err
	}

	args := []any{kpiJSON, learningJSON, row.WorkSummary, formatTime(row.UpdatedAt), row.ID}
	for _, st := range editable {
		args = append(args, st)
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE monthly_rows
		SET kpi_json = ?, learning_json = ?, work_summary = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(editable))+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update row content: %w", err)
	}
	return affected(res)
}

// CompareAndSetStatus is the conditional UPDATE every transition goes through.
// Nil fields of change keep their stored value via COALESCE.
func (c conn) CompareAndSetStatus(ctx context.Context, id performance.RowID, from performance.RowStatus, change performance.StatusChange) (bool, error) {
	var reviewer, notes sql.NullString
	if change.Reviewer != nil {
		reviewer = sql.NullString{String: string(*change.Reviewer), Valid: true}
	}
	if change.ReviewNotes != nil {
		notes = sql.NullString{String: *change.ReviewNotes, Valid: true}
	}

	query := `
		UPDATE monthly_rows SET
			status = ?,
			reviewer = COALESCE(?, reviewer),
			review_notes = COALESCE(?, review_notes),
			submitted_at = COALESCE(?, submitted_at),
			approved_at = COALESCE(?, approved_at),
			returned_at = COALESCE(?, returned_at),
			unlocked_at = COALESCE(?, unlocked_at),
			updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := c.q.ExecContext(ctx, query,
		change.To, reviewer, notes,
		formatTimePtr(change.SubmittedAt), formatTimePtr(change.ApprovedAt),
		formatTimePtr(change.ReturnedAt), formatTimePtr(change.UnlockedAt),
		formatTime(change.At), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set row status: %w", err)
	}
	return affected(res)
}

func (c conn) SaveComputedScores(ctx context.Context, id performance.RowID, scores performance.ComputedScores, at time.Time) error {
	scoresJSON, err := encodeScores(&scores)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx,
		"UPDATE monthly_rows SET computed_scores = ?, last_computed_at = ? WHERE id = ?",
		scoresJSON, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to save computed scores: %w", err)
	}
	return nil
}

func (c conn) queryRows(ctx context.Context, query string, args ...any) ([]performance.MonthlyRow, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []performance.MonthlyRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// scanRow decodes a monthly_rows record, parsing the JSON columns into
// their typed forms. Stored learning entries are kept even when malformed;
// scoring decides what to exclude.
func scanRow(sc scanner) (performance.MonthlyRow, error) {
	var (
		row                                  performance.MonthlyRow
		year, month                          int
		kpiJSON, learningJSON, workSummary   sql.NullString
		reviewer, reviewNotes                sql.NullString
		submittedAt, approvedAt, returnedAt  sql.NullString
		unlockedAt, scoresJSON, lastComputed sql.NullString
		createdAt, updatedAt                 string
	)

	err := sc.Scan(
		&row.ID, &row.UserID, &row.EntityID, &year, &month, &row.Status,
		&kpiJSON, &learningJSON, &workSummary,
		&reviewer, &reviewNotes,
		&submittedAt, &approvedAt, &returnedAt, &unlockedAt,
		&scoresJSON, &lastComputed, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return row, err
	}
	if err != nil {
		return row, fmt.Errorf("failed to scan row: %w", err)
	}

	row.Month = performance.Month{Year: year, Month: time.Month(month)}
	if row.KPI, err = performance.ParseKPI([]byte(kpiJSON.String)); err != nil {
		return row, fmt.Errorf("row %s: %w", row.ID, err)
	}
	if row.Learning, err = performance.ParseLearning([]byte(learningJSON.String)); err != nil {
		return row, fmt.Errorf("row %s: %w", row.ID, err)
	}
	if row.ComputedScores, err = performance.ParseComputedScores([]byte(scoresJSON.String)); err != nil {
		return row, fmt.Errorf("row %s: %w", row.ID, err)
	}
	row.WorkSummary = workSummary.String
	if reviewer.Valid && reviewer.String != "" {
		r := performance.UserID(reviewer.String)
		row.Reviewer = &r
	}
	row.ReviewNotes = reviewNotes.String
	row.SubmittedAt = parseTimePtr(submittedAt)
	row.ApprovedAt = parseTimePtr(approvedAt)
	row.ReturnedAt = parseTimePtr(returnedAt)
	row.UnlockedAt = parseTimePtr(unlockedAt)
	row.LastComputedAt = parseTimePtr(lastComputed)
	row.CreatedAt = parseTime(createdAt)
	row.UpdatedAt = parseTime(updatedAt)
	return row, nil
}

func encodeContent(row performance.MonthlyRow) (string, string, error) {
	kpiJSON, err := json.Marshal(row.KPI)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode kpi: %w", err)
	}
	learning := row.Learning
	if learning == nil {
		learning = []performance.LearningEntry{}
	}
	learningJSON, err := json.Marshal(learning)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode learning: %w", err)
	}
	return string(kpiJSON), string(learningJSON), nil
}

func encodeScores(cs *performance.ComputedScores) (sql.NullString, error) {
	if cs == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode computed scores: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
