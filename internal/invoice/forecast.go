package invoice

import (
	"strings"
	"time"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/money"
)

type recurring struct {
	id          string
	description string
	cents       money.Cents
	day         int
	start, end  calendar.Month // zero when open-ended
}

func (r recurring) activeIn(m calendar.Month) bool {
	if !r.start.IsZero() && m.Before(r.start) {
		return false
	}
	return r.end.IsZero() || !m.After(r.end)
}

// parseRecurring drops recurring charges that cannot be projected.
func parseRecurring(charges []domain.RecurringCharge, trail *audit.Trail) []recurring {
	out := make([]recurring, 0, len(charges))
	for _, rc := range charges {
		cents, ok := rc.Amount.Cents()
		if !ok || cents == 0 {
			trail.Warn(audit.EventInvalidRecurring, rc.ID, "amount is missing or not numeric",
				map[string]string{"amount": rc.Amount.Raw()})
			continue
		}
		r := recurring{id: rc.ID, description: strings.TrimSpace(rc.Description), cents: cents.Abs(), day: rc.DayOfMonth}
		if r.day < 1 || r.day > 31 {
			r.day = 1
		}
		var err error
		if rc.StartMonth != "" {
			if r.start, err = calendar.ParseMonth(rc.StartMonth); err != nil {
				trail.Warn(audit.EventInvalidRecurring, rc.ID, err.Error(), map[string]string{"field": "startMonth"})
				continue
			}
		}
		if rc.EndMonth != "" {
			if r.end, err = calendar.ParseMonth(rc.EndMonth); err != nil {
				trail.Warn(audit.EventInvalidRecurring, rc.ID, err.Error(), map[string]string{"field": "endMonth"})
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// projectInstallments adds the pending installments expected in cycle c.
// Projected items count toward the invoice total.
func projectInstallments(inv *domain.Invoice, c cycle, purchases []domain.Purchase) {
	month := c.month.String()
	var projected money.Cents

	for _, p := range purchases {
		for _, inst := range p.Installments {
			if inst.TransactionID != "" || inst.Month != month || inst.Status != domain.InstallmentPending {
				continue
			}
			info := domain.InstallmentInfo{Current: inst.Sequence, Total: p.InstallmentCount}
			inv.Items = append(inv.Items, domain.Item{
				PurchaseID:  p.ID,
				Description: p.Description,
				Date:        c.closing,
				Amount:      inst.Amount,
				AmountCents: inst.AmountCents,
				Kind:        domain.KindPurchase,
				Projected:   true,
				Installment: &info,
			})
			projected += money.Cents(inst.AmountCents)
		}
	}
	addProjected(inv, projected)
}

// projectRecurring adds the recurring charges active in a forecast cycle.
func projectRecurring(inv *domain.Invoice, c cycle, charges []recurring) {
	var projected money.Cents
	for _, r := range charges {
		if !r.activeIn(c.month) {
			continue
		}
		inv.Items = append(inv.Items, domain.Item{
			TransactionID: r.id,
			Description:   r.description,
			Date:          chargeDate(c, r.day),
			Amount:        r.cents.Float64(),
			AmountCents:   int64(r.cents),
			Kind:          domain.KindPurchase,
			Projected:     true,
		})
		projected += r.cents
	}
	addProjected(inv, projected)
}

func addProjected(inv *domain.Invoice, projected money.Cents) {
	if projected == 0 {
		return
	}
	inv.PurchasesCents += int64(projected)
	setTotal(inv, money.Cents(inv.PurchasesCents-inv.CreditsCents))
}

// chargeDate places a day-of-month charge inside the cycle window.
func chargeDate(c cycle, day int) time.Time {
	d := c.month.Day(day)
	if d.After(c.closing) {
		d = c.month.Add(-1).Day(day)
	}
	return d
}
