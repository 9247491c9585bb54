package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/appraisal-engine/performance"
)

// =============================================================================
// ATTENDANCE (performance.AttendanceStore interface)
// =============================================================================

const dateLayout = "2006-01-02"

func (s *Store) GetAttendanceCache(ctx context.Context, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error) {
	return read(s, func(c conn) (*performance.AttendanceMonthlyCache, error) { return c.GetAttendanceCache(ctx, userID, month) })
}

func (s *Store) SaveAttendanceCache(ctx context.Context, cache performance.AttendanceMonthlyCache) error {
	return exec(s, func(c conn) error { return c.SaveAttendanceCache(ctx, cache) })
}

func (s *Store) SaveDailyAttendance(ctx context.Context, d performance.DailyAttendance) error {
	return exec(s, func(c conn) error { return c.SaveDailyAttendance(ctx, d) })
}

func (s *Store) ListDailyAttendance(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.DailyAttendance, error) {
	return read(s, func(c conn) ([]performance.DailyAttendance, error) { return c.ListDailyAttendance(ctx, userID, month) })
}

func (c conn) GetAttendanceCache(ctx context.Context, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error) {
	query := `
		SELECT office_days_present, office_days_with_meeting, wfh_days, leaves, working_days_expected,
			office_attendance_rate, meeting_attendance_rate, discipline_component, computed_at
		FROM monthly_attendance_cache
		WHERE user_id = ? AND year = ? AND month = ?
	`
	var (
		ac                           = performance.AttendanceMonthlyCache{UserID: userID, Month: month}
		officeRate, meetingRate, dsc string
		computedAt                   string
	)
	err := c.q.QueryRowContext(ctx, query, userID, month.Year, int(month.Month)).Scan(
		&ac.OfficeDaysPresent, &ac.OfficeDaysWithMeeting, &ac.WFHDays, &ac.Leaves, &ac.WorkingDaysExpected,
		&officeRate, &meetingRate, &dsc, &computedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance cache: %w", err)
	}

	if ac.OfficeAttendanceRate, err = decimal.NewFromString(officeRate); err != nil {
		return nil, fmt.Errorf("malformed office_attendance_rate: %w", err)
	}
	if ac.MeetingAttendanceRate, err = decimal.NewFromString(meetingRate); err != nil {
		return nil, fmt.Errorf("malformed meeting_attendance_rate: %w", err)
	}
	if ac.DisciplineComponent, err = decimal.NewFromString(dsc); err != nil {
		return nil, fmt.Errorf("malformed discipline_component: %w", err)
	}
	ac.ComputedAt = parseTime(computedAt)
	return &ac, nil
}

func (c conn) SaveAttendanceCache(ctx context.Context, ac performance.AttendanceMonthlyCache) error {
	query := `
		INSERT INTO monthly_attendance_cache (
			user_id, year, month, office_days_present, office_days_with_meeting, wfh_days, leaves,
			working_days_expected, office_attendance_rate, meeting_attendance_rate, discipline_component, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year, month) DO UPDATE SET
			office_days_present = excluded.office_days_present,
			office_days_with_meeting = excluded.office_days_with_meeting,
			wfh_days = excluded.wfh_days,
			leaves = excluded.leaves,
			working_days_expected = excluded.working_days_expected,
			office_attendance_rate = excluded.office_attendance_rate,
			meeting_attendance_rate = excluded.meeting_attendance_rate,
			discipline_component = excluded.discipline_component,
			computed_at = excluded.computed_at
	`
	_, err := c.q.ExecContext(ctx, query,
		ac.UserID, ac.Month.Year, int(ac.Month.Month),
		ac.OfficeDaysPresent, ac.OfficeDaysWithMeeting, ac.WFHDays, ac.Leaves, ac.WorkingDaysExpected,
		ac.OfficeAttendanceRate.String(), ac.MeetingAttendanceRate.String(), ac.DisciplineComponent.String(),
		formatTime(ac.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save attendance cache: %w", err)
	}
	return nil
}

func (c conn) SaveDailyAttendance(ctx context.Context, d performance.DailyAttendance) error {
	query := `
		INSERT INTO daily_attendance (user_id, date, presence, meeting_attended)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			presence = excluded.presence,
			meeting_attended = excluded.meeting_attended
	`
	_, err := c.q.ExecContext(ctx, query, d.UserID, d.Date.Format(dateLayout), d.Presence, d.MeetingAttended)
	if err != nil {
		return fmt.Errorf("failed to save daily attendance: %w", err)
	}
	return nil
}

func (c conn) ListDailyAttendance(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.DailyAttendance, error) {
	query := `
		SELECT user_id, date, presence, meeting_attended
		FROM daily_attendance
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date
	`
	rows, err := c.q.QueryContext(ctx, query, userID,
		month.Start().Format(dateLayout), month.End().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list daily attendance: %w", err)
	}
	defer rows.Close()

	var out []performance.DailyAttendance
	for rows.Next() {
		var (
			d    performance.DailyAttendance
			date string
		)
		if err := rows.Scan(&d.UserID, &date, &d.Presence, &d.MeetingAttended); err != nil {
			return nil, fmt.Errorf("failed to scan daily attendance: %w", err)
		}
		if d.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("malformed attendance date %q: %w", date, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// APPRAISAL DELAYS (performance.DelayStore interface)
// =============================================================================

func (s *Store) UpsertAppraisalDelay(ctx context.Context, d performance.AppraisalDelay) error {
	return exec(s, func(c conn) error { return c.UpsertAppraisalDelay(ctx, d) })
}

func (s *Store) ClearAppraisalDelay(ctx context.Context, userID performance.UserID, month performance.Month, reason performance.DelayReason) error {
	return exec(s, func(c conn) error { return c.ClearAppraisalDelay(ctx, userID, month, reason) })
}

func (s *Store) ListAppraisalDelays(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.AppraisalDelay, error) {
	return read(s, func(c conn) ([]performance.AppraisalDelay, error) { return c.ListAppraisalDelays(ctx, userID, month) })
}

func (c conn) UpsertAppraisalDelay(ctx context.Context, d performance.AppraisalDelay) error {
	query := `
		INSERT INTO appraisal_delays (user_id, year, month, reason, deficit_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year, month, reason) DO UPDATE SET
			deficit_minutes = excluded.deficit_minutes,
			updated_at = excluded.updated_at
	`
	_, err := c.q.ExecContext(ctx, query,
		d.UserID, d.Month.Year, int(d.Month.Month), d.Reason, d.DeficitMinutes, formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert appraisal delay: %w", err)
	}
	return nil
}

func (c conn) ClearAppraisalDelay(ctx context.Context, userID performance.UserID, month performance.Month, reason performance.DelayReason) error {
	_, err := c.q.ExecContext(ctx,
		"DELETE FROM appraisal_delays WHERE user_id = ? AND year = ? AND month = ? AND reason = ?",
		userID, month.Year, int(month.Month), reason)
	if err != nil {
		return fmt.Errorf("failed to clear appraisal delay: %w", err)
	}
	return nil
}

func (c conn) ListAppraisalDelays(ctx context.Context, userID performance.UserID, month performance.Month) ([]performance.AppraisalDelay, error) {
	query := `
		SELECT reason, deficit_minutes, updated_at
		FROM appraisal_delays
		WHERE user_id = ? AND year = ? AND month = ?
		ORDER BY reason
	`
	rows, err := c.q.QueryContext(ctx, query, userID, month.Year, int(month.Month))
	if err != nil {
		return nil, fmt.Errorf("failed to list appraisal delays: %w", err)
	}
	defer rows.Close()

	var out []performance.AppraisalDelay
	for rows.Next() {
		d := performance.AppraisalDelay{UserID: userID, Month: month}
		var updatedAt string
		if err := rows.Scan(&d.Reason, &d.DeficitMinutes, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan appraisal delay: %w", err)
		}
		d.UpdatedAt = parseTime(updatedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}
