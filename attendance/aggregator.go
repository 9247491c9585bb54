/*
Package attendance turns daily presence records into the monthly attendance
cache consumed by the scoring pipeline.

PURPOSE:
  The pipeline only needs one figure from attendance: a discipline
  component in [0, 10]. This package owns how that figure is derived.
  The weighting of office versus meeting attendance is a DisciplinePolicy
  injected at construction, so the formula is configuration rather than
  code.

CONTRACT:
  Compute(user, month) either returns the cache row it wrote, or nil when
  there is nothing to aggregate (no daily records). It never invents a
  discipline figure; the fallback for missing data lives in the pipeline.

RATES:
  working_days_expected   = weekdays in the month
  office_attendance_rate  = office_days_present / max(expected - leaves, 1), clamped to [0, 1]
  meeting_attendance_rate = office_days_with_meeting / max(office_days_present, 1)
  discipline_component    = policy.Discipline(stats), clamped to [0, 10]

SEE ALSO:
  - policies.go: Built-in discipline policies
  - factory/discipline.go: Policies from JSON
  - scoring/discipline.go: The consumer
*/
package attendance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/performance"
)

// Aggregator computes and caches monthly attendance figures.
type Aggregator struct {
	Store  performance.AttendanceStore
	Policy DisciplinePolicy
	Logger *zap.Logger
	Now    func() time.Time
}

// NewAggregator creates an aggregator. A nil policy selects DefaultPolicy.
func NewAggregator(store performance.AttendanceStore, policy DisciplinePolicy, logger *zap.Logger) *Aggregator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{Store: store, Policy: policy, Logger: logger, Now: time.Now}
}

// Record stores one day of presence and refreshes that month's cache.
func (a *Aggregator) Record(ctx context.Context, d performance.DailyAttendance) (*performance.AttendanceMonthlyCache, error) {
	if err := validateDaily(d); err != nil {
		return nil, err
	}
	d.Date = time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, time.UTC)
	if err := a.Store.SaveDailyAttendance(ctx, d); err != nil {
		return nil, performance.WrapStore("save daily attendance", err)
	}
	return a.Compute(ctx, d.UserID, performance.MonthOf(d.Date))
}

// Compute aggregates the month's daily records into the cache.
// Returns (nil, nil) when there are no records for the month.
func (a *Aggregator) Compute(ctx context.Context, userID performance.UserID, month performance.Month) (*performance.AttendanceMonthlyCache, error) {
	days, err := a.Store.ListDailyAttendance(ctx, userID, month)
	if err != nil {
		return nil, performance.WrapStore("list daily attendance", err)
	}
	if len(days) == 0 {
		a.Logger.Debug("no attendance records to aggregate",
			zap.String("user_id", string(userID)),
			zap.String("month", month.String()))
		return nil, nil
	}

	stats := Summarize(days, month)
	discipline := clamp(a.Policy.Discipline(stats), decimal.Zero, ten).Round(2)

	cache := performance.AttendanceMonthlyCache{
		UserID:                userID,
		Month:                 month,
		OfficeDaysPresent:     stats.OfficeDaysPresent,
		OfficeDaysWithMeeting: stats.OfficeDaysWithMeeting,
		WFHDays:               stats.WFHDays,
		Leaves:                stats.Leaves,
		WorkingDaysExpected:   stats.WorkingDaysExpected,
		OfficeAttendanceRate:  stats.OfficeAttendanceRate,
		MeetingAttendanceRate: stats.MeetingAttendanceRate,
		DisciplineComponent:   discipline,
		ComputedAt:            a.Now().UTC(),
	}
	if err := a.Store.SaveAttendanceCache(ctx, cache); err != nil {
		return nil, performance.WrapStore("save attendance cache", err)
	}

	a.Logger.Info("attendance aggregated",
		zap.String("user_id", string(userID)),
		zap.String("month", month.String()),
		zap.String("policy", a.Policy.Name()),
		zap.String("discipline", discipline.String()))
	return &cache, nil
}

// Summarize counts presence by kind and derives the two rates.
func Summarize(days []performance.DailyAttendance, month performance.Month) Stats {
	s := Stats{WorkingDaysExpected: month.Weekdays()}
	for _, d := range days {
		switch d.Presence {
		case performance.PresenceOffice:
			s.OfficeDaysPresent++
			if d.MeetingAttended {
				s.OfficeDaysWithMeeting++
			}
		case performance.PresenceWFH:
			s.WFHDays++
		case performance.PresenceLeave:
			s.Leaves++
		}
	}

	expected := s.WorkingDaysExpected - s.Leaves
	if expected < 1 {
		expected = 1
	}
	officeRate := decimal.NewFromInt(int64(s.OfficeDaysPresent)).Div(decimal.NewFromInt(int64(expected)))
	s.OfficeAttendanceRate = clamp(officeRate, decimal.Zero, decimal.NewFromInt(1)).Round(4)

	present := s.OfficeDaysPresent
	if present < 1 {
		present = 1
	}
	s.MeetingAttendanceRate = decimal.NewFromInt(int64(s.OfficeDaysWithMeeting)).
		Div(decimal.NewFromInt(int64(present))).Round(4)
	return s
}

func validateDaily(d performance.DailyAttendance) error {
	if d.UserID == "" {
		return performance.Validationf("record_attendance", "user_id is required")
	}
	if d.Date.IsZero() {
		return performance.Validationf("record_attendance", "date is required")
	}
	switch d.Presence {
	case performance.PresenceOffice, performance.PresenceWFH, performance.PresenceLeave, performance.PresenceAbsent:
	default:
		return performance.Validationf("record_attendance", "Unknown presence %q", d.Presence)
	}
	if d.MeetingAttended && d.Presence != performance.PresenceOffice {
		return performance.Validationf("record_attendance", "meeting_attended requires office presence, got %s", d.Presence)
	}
	return nil
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
