package invoice

import (
	"strconv"
	"time"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/money"
)

// applySnapshot falls back to the bill total confirmed by the card network
// when the transactions of a cycle have not been synced yet. A transaction
// derived total always wins when it is not zero.
func (b *Builder) applySnapshot(card *domain.Card, closed, current *domain.Invoice, trail *audit.Trail) {
	for _, inv := range []*domain.Invoice{closed, current} {
		if inv.TotalCents != 0 {
			continue
		}
		bill, ok := snapshotFor(card, inv, closed, current)
		if !ok {
			continue
		}
		total, err := money.ToCents(bill.TotalAmount)
		if err != nil || total <= 0 {
			continue
		}
		setTotal(inv, total)
		inv.Source = domain.SourceSnapshot
		trail.Info(audit.EventSnapshotFallback, "", "transactions sum to zero", map[string]string{
			"referenceMonth": inv.ReferenceMonth,
			"billId":         bill.ID,
			"total":          total.String(),
		})
	}
}

// snapshotFor matches a bill to inv by due month. A current bill without a
// due date belongs to the closed invoice when it is closed, otherwise to the
// current one.
func snapshotFor(card *domain.Card, inv, closed, current *domain.Invoice) (domain.Bill, bool) {
	dueMonth := calendar.MonthOf(inv.DueDate)
	if cb := card.CurrentBill; cb != nil {
		if due, ok := ingest.ParseDate(cb.DueDate); ok {
			if calendar.MonthOf(due) == dueMonth {
				return *cb, true
			}
		} else if (cb.Closed() && inv == closed) || (!cb.Closed() && inv == current) {
			return *cb, true
		}
	}
	for _, bill := range card.Bills {
		if due, ok := ingest.ParseDate(bill.DueDate); ok && calendar.MonthOf(due) == dueMonth {
			return bill, true
		}
	}
	return domain.Bill{}, false
}

// applyLateCharges prices paying the closed invoice late. Payments already
// made in the current cycle reduce the outstanding amount.
func (b *Builder) applyLateCharges(closed *domain.Invoice, currentRecords []ingest.Record, asOf time.Time, trail *audit.Trail) {
	if !asOf.After(closed.DueDate) {
		return
	}
	outstanding := money.Cents(closed.TotalCents)
	for _, r := range currentRecords {
		if r.Kind == domain.KindPayment && !r.Day.After(asOf) {
			outstanding -= r.Cents
		}
	}
	if outstanding <= 0 {
		return
	}
	charges := b.late.CalculateCents(outstanding, closed.DueDate, asOf)
	closed.LateCharges = &charges
	trail.Warn(audit.EventLateChargesApplied, "", "closed invoice past due", map[string]string{
		"referenceMonth": closed.ReferenceMonth,
		"outstanding":    outstanding.String(),
		"daysOverdue":    strconv.Itoa(charges.DaysOverdue),
		"totalCharges":   money.Cents(charges.TotalChargesCents).String(),
	})
}
