package performance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// MONTH - The period every score and row is keyed by
// =============================================================================

// Month identifies a calendar month. The zero value is invalid.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth builds a Month, validating the month number.
func NewMonth(year int, month time.Month) (Month, error) {
	m := Month{Year: year, Month: month}
	if err := m.Validate(); err != nil {
		return Month{}, err
	}
	return m, nil
}

// MustMonth is NewMonth for constants in tests and scenarios.
func MustMonth(year int, month time.Month) Month {
	m, err := NewMonth(year, month)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return Month{}, Validationf("parse_month", "Month must be formatted as YYYY-MM, got %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return Month{}, Validationf("parse_month", "Invalid year in %q", s)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return Month{}, Validationf("parse_month", "Invalid month in %q", s)
	}
	return NewMonth(year, time.Month(month))
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// Validate checks the year and month ranges.
func (m Month) Validate() error {
	if m.Month < time.January || m.Month > time.December {
		return Validationf("month", "Month must be between 1 and 12, got %d", int(m.Month))
	}
	if m.Year < 1970 || m.Year > 9999 {
		return Validationf("month", "Year out of range: %d", m.Year)
	}
	return nil
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// Start is midnight UTC on the first day of the month.
func (m Month) Start() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// End is the last day of the month at midnight UTC.
func (m Month) End() time.Time { return m.Start().AddDate(0, 1, -1) }

func (m Month) Previous() Month { return MonthOf(m.Start().AddDate(0, -1, 0)) }
func (m Month) Next() Month     { return MonthOf(m.Start().AddDate(0, 1, 0)) }

// Contains reports whether t falls within the month (UTC).
func (m Month) Contains(t time.Time) bool {
	t = t.UTC()
	return t.Year() == m.Year && t.Month() == m.Month
}

// Weekdays returns the number of Monday-Friday days in the month.
func (m Month) Weekdays() int {
	n := 0
	for d := m.Start(); d.Month() == m.Month; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	return n
}

// MarshalText renders the month as "YYYY-MM".
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses "YYYY-MM".
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
