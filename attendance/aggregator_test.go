package attendance_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/appraisal-engine/attendance"
	"github.com/warp/appraisal-engine/performance"
	"github.com/warp/appraisal-engine/performance/store"
)

// March 2025 has 21 weekdays.
var march = performance.MustMonth(2025, time.March)

func day(d int) time.Time { return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newAggregator(policy attendance.DisciplinePolicy) (*attendance.Aggregator, *store.Memory) {
	m := store.NewMemory()
	agg := attendance.NewAggregator(m, policy, zap.NewNop())
	agg.Now = func() time.Time { return time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC) }
	return agg, m
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func TestSummarize(t *testing.T) {
	// GIVEN: 10 office days (8 with stand-up), 4 WFH, 1 leave, 1 absent
	var days []performance.DailyAttendance
	for d := 3; d <= 14; d++ {
		if wd := day(d).Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, performance.DailyAttendance{UserID: "alice", Date: day(d), Presence: performance.PresenceOffice, MeetingAttended: d != 3 && d != 4})
	}
	for _, d := range []int{17, 18, 19, 20} {
		days = append(days, performance.DailyAttendance{UserID: "alice", Date: day(d), Presence: performance.PresenceWFH})
	}
	days = append(days,
		performance.DailyAttendance{UserID: "alice", Date: day(21), Presence: performance.PresenceLeave},
		performance.DailyAttendance{UserID: "alice", Date: day(24), Presence: performance.PresenceAbsent},
	)

	// WHEN: Summarized
	s := attendance.Summarize(days, march)

	// THEN: Rates use weekdays minus leave as the office denominator
	assert.Equal(t, 21, s.WorkingDaysExpected)
	assert.Equal(t, 10, s.OfficeDaysPresent)
	assert.Equal(t, 8, s.OfficeDaysWithMeeting)
	assert.Equal(t, 4, s.WFHDays)
	assert.Equal(t, 1, s.Leaves)
	assert.True(t, s.OfficeAttendanceRate.Equal(dec("0.5")), s.OfficeAttendanceRate.String())
	assert.True(t, s.MeetingAttendanceRate.Equal(dec("0.8")), s.MeetingAttendanceRate.String())
}

func TestSummarize_NoOfficeDays(t *testing.T) {
	s := attendance.Summarize([]performance.DailyAttendance{
		{UserID: "alice", Date: day(3), Presence: performance.PresenceWFH},
	}, march)

	assert.True(t, s.OfficeAttendanceRate.IsZero())
	assert.True(t, s.MeetingAttendanceRate.IsZero())
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicies(t *testing.T) {
	stats := attendance.Stats{OfficeAttendanceRate: dec("0.5"), MeetingAttendanceRate: dec("0.8")}

	// 10 * (0.7*0.5 + 0.3*0.8) = 5.9
	assert.True(t, attendance.DefaultPolicy().Discipline(stats).Equal(dec("5.9")))
	assert.Equal(t, "weighted", attendance.DefaultPolicy().Name())

	assert.True(t, attendance.OfficeOnlyPolicy{}.Discipline(stats).Equal(dec("5")))
	assert.Equal(t, "office_only", attendance.OfficeOnlyPolicy{}.Name())
}

type overshootPolicy struct{}

func (overshootPolicy) Name() string { return "overshoot" }
func (overshootPolicy) Discipline(attendance.Stats) decimal.Decimal { return dec("14.5") }

// =============================================================================
// AGGREGATOR
// =============================================================================

func TestCompute_NoRecordsReturnsNil(t *testing.T) {
	agg, m := newAggregator(nil)

	cache, err := agg.Compute(context.Background(), "alice", march)

	require.NoError(t, err)
	assert.Nil(t, cache)
	stored, err := m.GetAttendanceCache(context.Background(), "alice", march)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRecord_RefreshesCache(t *testing.T) {
	// GIVEN: A default aggregator
	ctx := context.Background()
	agg, m := newAggregator(nil)

	// WHEN: Every weekday is an office day with the stand-up
	var cache *performance.AttendanceMonthlyCache
	for d := march.Start(); march.Contains(d); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		var err error
		cache, err = agg.Record(ctx, performance.DailyAttendance{
			UserID: "alice", Date: d.Add(14 * time.Hour), Presence: performance.PresenceOffice, MeetingAttended: true,
		})
		require.NoError(t, err)
	}

	// THEN: Discipline is the maximum and the cache is persisted
	require.NotNil(t, cache)
	assert.Equal(t, 21, cache.OfficeDaysPresent)
	assert.True(t, cache.DisciplineComponent.Equal(dec("10")), cache.DisciplineComponent.String())

	stored, err := m.GetAttendanceCache(ctx, "alice", march)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 21, stored.OfficeDaysPresent)
	assert.Equal(t, agg.Now().UTC(), stored.ComputedAt)
}

func TestRecord_SameDayOverwrites(t *testing.T) {
	ctx := context.Background()
	agg, _ := newAggregator(nil)

	_, err := agg.Record(ctx, performance.DailyAttendance{UserID: "alice", Date: day(3), Presence: performance.PresenceWFH})
	require.NoError(t, err)
	cache, err := agg.Record(ctx, performance.DailyAttendance{UserID: "alice", Date: day(3), Presence: performance.PresenceOffice})
	require.NoError(t, err)

	assert.Equal(t, 1, cache.OfficeDaysPresent)
	assert.Equal(t, 0, cache.WFHDays)
}

func TestRecord_Validation(t *testing.T) {
	agg, _ := newAggregator(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		d    performance.DailyAttendance
	}{
		{"missing user", performance.DailyAttendance{Date: day(3), Presence: performance.PresenceOffice}},
		{"missing date", performance.DailyAttendance{UserID: "alice", Presence: performance.PresenceOffice}},
		{"unknown presence", performance.DailyAttendance{UserID: "alice", Date: day(3), Presence: "beach"}},
		{"meeting without office", performance.DailyAttendance{UserID: "alice", Date: day(3), Presence: performance.PresenceWFH, MeetingAttended: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Record(ctx, tt.d)
			assert.ErrorIs(t, err, performance.ErrValidation)
		})
	}
}

func TestCompute_ClampsPolicyOutput(t *testing.T) {
	ctx := context.Background()
	agg, _ := newAggregator(overshootPolicy{})

	cache, err := agg.Record(ctx, performance.DailyAttendance{UserID: "alice", Date: day(3), Presence: performance.PresenceOffice})

	require.NoError(t, err)
	assert.True(t, cache.DisciplineComponent.Equal(dec("10")))
}
