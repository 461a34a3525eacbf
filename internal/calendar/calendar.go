// Package calendar implements business-day aware date adjustment for
// closing and due dates. Dates are calendar days at UTC midnight.
package calendar

import (
	"fmt"
	"time"
)

// Calendar decides which days are business days. The zero value treats
// every weekday as a business day.
type Calendar struct {
	holidays map[time.Time]string
}

// New creates a calendar with the given holidays.
func New(holidays ...Holiday) *Calendar {
	c := &Calendar{holidays: make(map[time.Time]string, len(holidays))}
	for _, h := range holidays {
		c.holidays[Truncate(h.Date)] = h.Name
	}
	return c
}

// Day returns y-m-d at UTC midnight, clamping d to the last day of the month.
func Day(y int, m time.Month, d int) time.Time {
	if last := DaysIn(y, m); d > last {
		d = last
	}
	if d < 1 {
		d = 1
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the month.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Truncate drops the time of day, keeping the calendar date as observed in t's location.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsHoliday reports whether the day is in the holiday table.
func (c *Calendar) IsHoliday(t time.Time) bool {
	if c == nil || c.holidays == nil {
		return false
	}
	_, ok := c.holidays[Truncate(t)]
	return ok
}

// IsBusinessDay is true Monday to Friday, excluding holidays.
func (c *Calendar) IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(t)
}

// AdjustClosingDate rolls a non-business day backward to the previous business day.
func (c *Calendar) AdjustClosingDate(t time.Time) time.Time {
	t = Truncate(t)
	for !c.IsBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// AdjustDueDate rolls a non-business day forward to the next business day.
func (c *Calendar) AdjustDueDate(t time.Time) time.Time {
	t = Truncate(t)
	for !c.IsBusinessDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// Month identifies a calendar month, as in the "2026-01" invoice keys.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Add moves n months forward (or backward when n < 0).
func (m Month) Add(n int) Month {
	t := time.Date(m.Year, m.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return MonthOf(t)
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// After reports whether m is later than o.
func (m Month) After(o Month) bool { return o.Before(m) }

// Sub returns the number of months from o to m.
func (m Month) Sub(o Month) int {
	return (m.Year-o.Year)*12 + int(m.Month) - int(o.Month)
}

// IsZero reports whether m is unset.
func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// Day returns day d of the month, clamped.
func (m Month) Day(d int) time.Time { return Day(m.Year, m.Month, d) }

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}
