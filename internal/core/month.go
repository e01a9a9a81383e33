package core

import (
	"fmt"
	"time"
)

// Month identifies a natural calendar month ("2026-01"). It is the key
// every engine operation is scoped by.
type Month struct {
	Year int
	Mon  time.Month
}

// ParseMonth parses the canonical "YYYY-MM" form.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Mon: t.Month()}, nil
}

// MonthOf returns the natural month of a point in time.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Mon: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Mon))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Mon == 0
}

// AddMonths returns the month n steps away (n may be negative).
func (m Month) AddMonths(n int) Month {
	t := time.Date(m.Year, m.Mon, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return Month{Year: t.Year(), Mon: t.Month()}
}

func (m Month) Next() Month { return m.AddMonths(1) }
func (m Month) Prev() Month { return m.AddMonths(-1) }

// DaysIn returns the number of calendar days in the month.
func (m Month) DaysIn() int {
	return time.Date(m.Year, m.Mon+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay clamps a day-of-month (e.g. a due day of 31) to a valid
// calendar day of this month.
func (m Month) ClampDay(day int) int {
	if day < 1 {
		return 1
	}
	if last := m.DaysIn(); day > last {
		return last
	}
	return day
}

// Date returns the given day of this month as a time.Time (clamped).
func (m Month) Date(day int) time.Time {
	return time.Date(m.Year, m.Mon, m.ClampDay(day), 0, 0, 0, 0, time.UTC)
}

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Mon < other.Mon
}

func (m Month) After(other Month) bool {
	return other.Before(m)
}

// MonthsBetween returns other - m in whole months (negative when other
// is earlier).
func (m Month) MonthsBetween(other Month) int {
	return (other.Year-m.Year)*12 + int(other.Mon-m.Mon)
}
