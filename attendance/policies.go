package attendance

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DISCIPLINE POLICIES - How attendance rates become a 0-10 figure
// =============================================================================

// DisciplinePolicy turns a month's attendance figures into a discipline
// component. Implementations may return any value; the aggregator clamps the
// result to [0, 10].
type DisciplinePolicy interface {
	Name() string
	Discipline(stats Stats) decimal.Decimal
}

// Stats are the monthly figures a policy can use.
type Stats struct {
	OfficeDaysPresent     int
	OfficeDaysWithMeeting int
	WFHDays               int
	Leaves                int
	WorkingDaysExpected   int
	OfficeAttendanceRate  decimal.Decimal // [0, 1]
	MeetingAttendanceRate decimal.Decimal // [0, 1]
}

var ten = decimal.NewFromInt(10)

// WeightedPolicy blends office and meeting attendance:
// 10 * (OfficeWeight*office_rate + MeetingWeight*meeting_rate).
type WeightedPolicy struct {
	OfficeWeight  decimal.Decimal
	MeetingWeight decimal.Decimal
}

// DefaultPolicy weights office attendance 70% and meetings 30%.
func DefaultPolicy() *WeightedPolicy {
	return &WeightedPolicy{
		OfficeWeight:  decimal.RequireFromString("0.7"),
		MeetingWeight: decimal.RequireFromString("0.3"),
	}
}

func (p *WeightedPolicy) Name() string { return "weighted" }

func (p *WeightedPolicy) Discipline(s Stats) decimal.Decimal {
	blended := p.OfficeWeight.Mul(s.OfficeAttendanceRate).
		Add(p.MeetingWeight.Mul(s.MeetingAttendanceRate))
	return blended.Mul(ten)
}

// OfficeOnlyPolicy ignores meetings: 10 * office_rate.
type OfficeOnlyPolicy struct{}

func (OfficeOnlyPolicy) Name() string { return "office_only" }

func (OfficeOnlyPolicy) Discipline(s Stats) decimal.Decimal {
	return s.OfficeAttendanceRate.Mul(ten)
}
