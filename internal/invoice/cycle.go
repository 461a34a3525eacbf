package invoice

import (
	"time"

	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/domain"
)

// cycle is one billing window of a card. Its reference month is the month of
// the nominal closing day.
type cycle struct {
	month   calendar.Month
	start   time.Time // previous adjusted closing
	closing time.Time
	due     time.Time
}

// cycles computes billing windows for one card.
type cycles struct {
	cal        *calendar.Calendar
	closingDay int
	dueDay     int
	nextCycle  bool
}

func newCycles(cal *calendar.Calendar, card *domain.Card, nextCycle bool) cycles {
	return cycles{cal: cal, closingDay: card.ClosingDay, dueDay: card.DueDay, nextCycle: nextCycle}
}

func (c cycles) closing(m calendar.Month) time.Time {
	return c.cal.AdjustClosingDate(m.Day(c.closingDay))
}

// due falls in the closing month when the due day comes after the closing
// day, otherwise in the following month.
func (c cycles) due(m calendar.Month) time.Time {
	if c.dueDay <= c.closingDay {
		m = m.Add(1)
	}
	return c.cal.AdjustDueDate(m.Day(c.dueDay))
}

func (c cycles) at(m calendar.Month) cycle {
	return cycle{
		month:   m,
		start:   c.closing(m.Add(-1)),
		closing: c.closing(m),
		due:     c.due(m),
	}
}

// keyOf returns the reference month of the cycle containing day. Windows are
// (previous closing, closing], or [previous closing, closing) when closing
// day purchases roll to the next cycle.
func (c cycles) keyOf(day time.Time) calendar.Month {
	// Closings only move backward, so the cycle is never before day's month.
	m := calendar.MonthOf(day)
	for !c.contains(m, day) {
		m = m.Add(1)
	}
	return m
}

func (c cycles) contains(m calendar.Month, day time.Time) bool {
	closing := c.closing(m)
	if c.nextCycle {
		return day.Before(closing)
	}
	return !day.After(closing)
}
