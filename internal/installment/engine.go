// Package installment groups installment transactions into purchases and
// projects the installments that have not been billed yet.
package installment

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/money"
)

// namespace seeds the deterministic purchase ids.
var namespace = uuid.MustParse("6f1c2a4e-8d3b-5e7a-9c0f-2b4d6e8a1c3f")

// MonthFunc returns the billing month a record was (or will be) invoiced in.
type MonthFunc func(ingest.Record) calendar.Month

// CalendarMonth bills a record in the calendar month of its day, or in its
// override month when the user pinned one.
func CalendarMonth(r ingest.Record) calendar.Month {
	if r.Manual() {
		return r.Override
	}
	return calendar.MonthOf(r.Day)
}

// Engine groups installment records into purchases.
type Engine struct {
	// CardID is folded into purchase ids so equal purchases on two cards
	// never collide.
	CardID string
}

type member struct {
	rec   ingest.Record
	month calendar.Month
}

type group struct {
	root    string
	total   int
	amount  money.Cents
	origin  calendar.Month
	day     time.Time // day of the first record seen
	members map[int]member

	// stamped is set when installments share the purchase date instead of
	// carrying their own billing date. The sequence then fixes the month.
	stamped bool
}

func (g *group) accepts(seq int, amount money.Cents, origin calendar.Month, day time.Time) bool {
	if _, taken := g.members[seq]; taken {
		return false
	}
	// The last slice may carry the rounding remainder, at most total-1 cents.
	diff := (amount - g.amount).Abs()
	if diff >= money.Cents(g.total) {
		return false
	}
	return origin == g.origin || day.Equal(g.day)
}

// add places rec in the plan. A record that matched on the purchase day but
// not on the inferred origin marks the plan as stamped: the shared day is
// the purchase day, so its month becomes the origin and every member is
// billed origin+seq-1.
func (g *group) add(seq int, rec ingest.Record, month, origin calendar.Month) {
	if !g.stamped && len(g.members) > 0 && origin != g.origin && rec.Day.Equal(g.day) {
		g.stamped = true
		if !rec.Manual() {
			g.origin = month
		} else if first, ok := g.anyUnpinned(); ok {
			g.origin = first
		}
	}
	g.members[seq] = member{rec: rec, month: month}
}

// anyUnpinned returns the billing month of a member the user did not pin.
func (g *group) anyUnpinned() (calendar.Month, bool) {
	for _, m := range g.members {
		if !m.rec.Manual() {
			return m.month, true
		}
	}
	return calendar.Month{}, false
}

// monthOf is where member seq is billed. Pinned records always stay where
// the user put them.
func (g *group) monthOf(seq int, m member) calendar.Month {
	if g.stamped && !m.rec.Manual() {
		return g.origin.Add(seq - 1)
	}
	return m.month
}

// Group builds one Purchase per installment plan found in records. Records
// without an installment marker and non-purchase records are ignored. A
// record only joins an existing plan on an exact merchant, count and amount
// match with a free sequence slot and the same origin month (or purchase
// day); anything less certain starts a new plan.
//
// Installments billed before current are paid; later ones are billed when a
// transaction was seen and pending when synthesized.
func (e Engine) Group(records []ingest.Record, monthOf MonthFunc, current calendar.Month) []domain.Purchase {
	if monthOf == nil {
		monthOf = CalendarMonth
	}

	var groups []*group
	byKey := make(map[string][]*group)

	for _, rec := range records {
		if rec.Kind != domain.KindPurchase {
			continue
		}
		info, ok := Extract(rec.Description, rec.InstallmentNumber, rec.TotalInstallments)
		if !ok {
			continue
		}
		month := monthOf(rec)
		origin := month.Add(-(info.Current - 1))
		root := MerchantRoot(rec.Description)
		key := fmt.Sprintf("%s|%d", root, info.Total)

		var target *group
		for _, g := range byKey[key] {
			if g.accepts(info.Current, rec.Cents, origin, rec.Day) {
				target = g
				break
			}
		}
		if target == nil {
			target = &group{
				root:    root,
				total:   info.Total,
				amount:  rec.Cents,
				origin:  origin,
				day:     rec.Day,
				members: make(map[int]member, info.Total),
			}
			groups = append(groups, target)
			byKey[key] = append(byKey[key], target)
		}
		target.add(info.Current, rec, month, origin)
	}

	purchases := make([]domain.Purchase, 0, len(groups))
	for _, g := range groups {
		purchases = append(purchases, e.purchase(g, current))
	}
	sort.SliceStable(purchases, func(i, j int) bool {
		if !purchases[i].OriginDate.Equal(purchases[j].OriginDate) {
			return purchases[i].OriginDate.Before(purchases[j].OriginDate)
		}
		return purchases[i].ID < purchases[j].ID
	})
	return purchases
}

// Placements maps the transaction id of every grouped installment to the
// month it is billed in. It differs from the record's own month only for
// installments delivered with the purchase date.
func Placements(purchases []domain.Purchase) map[string]calendar.Month {
	out := make(map[string]calendar.Month)
	for _, p := range purchases {
		for _, inst := range p.Installments {
			if inst.TransactionID == "" {
				continue
			}
			if m, err := calendar.ParseMonth(inst.Month); err == nil {
				out[inst.TransactionID] = m
			}
		}
	}
	return out
}

func (e Engine) purchase(g *group, asOf calendar.Month) domain.Purchase {
	seqs := make([]int, 0, len(g.members))
	var originalTotal money.Cents
	for seq, m := range g.members {
		seqs = append(seqs, seq)
		if m.rec.OriginalTotal > originalTotal {
			originalTotal = m.rec.OriginalTotal
		}
	}
	sort.Ints(seqs)
	first := g.members[seqs[0]]

	var slices []money.Cents
	if originalTotal > 0 {
		slices = money.Split(originalTotal, g.total)
	}

	installments := make([]domain.Installment, 0, g.total)
	var sum money.Cents
	for seq := 1; seq <= g.total; seq++ {
		inst := domain.Installment{Sequence: seq}
		if m, ok := g.members[seq]; ok {
			month := g.monthOf(seq, m)
			inst.AmountCents = int64(m.rec.Cents)
			inst.Month = month.String()
			inst.TransactionID = m.rec.ID
			inst.Status = domain.InstallmentBilled
			if month.Before(asOf) {
				inst.Status = domain.InstallmentPaid
			}
		} else {
			amount := g.amount
			if slices != nil {
				amount = slices[seq-1]
			}
			month := g.origin.Add(seq - 1)
			inst.AmountCents = int64(amount)
			inst.Month = month.String()
			inst.Status = domain.InstallmentPending
			if month.Before(asOf) {
				inst.Status = domain.InstallmentPaid
			}
		}
		inst.Amount = money.Cents(inst.AmountCents).Float64()
		sum += money.Cents(inst.AmountCents)
		installments = append(installments, inst)
	}

	total := sum
	if originalTotal > 0 {
		total = originalTotal
	}
	originDay := g.origin.Day(first.rec.Day.Day())

	seed := fmt.Sprintf("%s|%s|%d|%d|%s|%s", e.CardID, g.root, g.total, g.amount, g.origin, first.rec.ID)
	return domain.Purchase{
		ID:               uuid.NewSHA1(namespace, []byte(seed)).String(),
		Description:      StripMarker(first.rec.Description),
		TotalAmount:      total.Float64(),
		TotalAmountCents: int64(total),
		InstallmentCount: g.total,
		OriginDate:       originDay,
		Installments:     installments,
	}
}

// ProcessTransactionsToInstallments groups raw transactions into purchases,
// billing each installment in the calendar month of its date.
func ProcessTransactionsToInstallments(txs []domain.Transaction, asOf time.Time) []domain.Purchase {
	records, _ := ingest.Normalize(txs, "", nil, nil)
	return Engine{}.Group(records, CalendarMonth, calendar.MonthOf(asOf))
}

// FutureCommitmentCents sums the installments billed after the month of
// asOf that are not paid yet.
func FutureCommitmentCents(purchases []domain.Purchase, asOf time.Time) money.Cents {
	return CommitmentAfter(purchases, calendar.MonthOf(asOf))
}

// CommitmentAfter sums the unpaid installments billed after month.
func CommitmentAfter(purchases []domain.Purchase, month calendar.Month) money.Cents {
	var total money.Cents
	for _, p := range purchases {
		for _, inst := range p.Installments {
			if inst.Status == domain.InstallmentPaid {
				continue
			}
			m, err := calendar.ParseMonth(inst.Month)
			if err != nil || !m.After(month) {
				continue
			}
			total += money.Cents(inst.AmountCents)
		}
	}
	return total
}

// CalculateFutureCommitment is FutureCommitmentCents in currency units.
func CalculateFutureCommitment(purchases []domain.Purchase, asOf time.Time) float64 {
	return FutureCommitmentCents(purchases, asOf).Float64()
}
