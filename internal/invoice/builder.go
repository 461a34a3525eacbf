// Package invoice reconstructs the closed, current and forecast invoices of
// a credit card from its raw transactions.
package invoice

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/classify"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/ingest"
	"github.com/boddenberg/fatura-engine/internal/installment"
	"github.com/boddenberg/fatura-engine/internal/latecharge"
	"github.com/boddenberg/fatura-engine/internal/money"
)

const (
	// DefaultForecastMonths is used when a request asks for none.
	DefaultForecastMonths = 3
	// MaxForecastMonths caps how far ahead invoices are projected.
	MaxForecastMonths = 24
	// NoForecast asks for the closed and current invoices only. Any
	// negative horizon means the same.
	NoForecast = -1
)

// namespace seeds the deterministic invoice ids.
var namespace = uuid.MustParse("0b7e9d52-3c1a-5f4e-8a6d-9e2f1c7b4a30")

// Request is one invoice computation for one card.
type Request struct {
	Card           *domain.Card
	Transactions   []domain.Transaction
	CardID         string // defaults to Card.ID
	ForecastMonths int    // 0 uses the builder default, NoForecast none
	AsOf           time.Time
	Recurring      []domain.RecurringCharge
}

// Option configures a Builder.
type Option func(*Builder)

// WithCalendar sets the holiday calendar used for date adjustment.
func WithCalendar(c *calendar.Calendar) Option {
	return func(b *Builder) { b.cal = c }
}

// WithClassifier sets the payment and refund matching rules.
func WithClassifier(c *classify.Classifier) Option {
	return func(b *Builder) { b.classifier = c }
}

// WithLateCharges attaches late charges to past-due closed invoices.
func WithLateCharges(c *latecharge.Calculator) Option {
	return func(b *Builder) { b.late = c }
}

// WithAuditSink sets where computation trails are written.
func WithAuditSink(s audit.Sink) Option {
	return func(b *Builder) { b.sink = s }
}

// WithForecastMonths sets the default forecast horizon.
func WithForecastMonths(n int) Option {
	return func(b *Builder) { b.forecastMonths = n }
}

// WithClosingDateToNextCycle bills purchases made on the closing date in
// the following cycle.
func WithClosingDateToNextCycle(v bool) Option {
	return func(b *Builder) { b.nextCycle = v }
}

// WithCarryOverUnpaid adds the closed invoice total to the current one.
func WithCarryOverUnpaid(v bool) Option {
	return func(b *Builder) { b.carryOver = v }
}

// Builder computes invoices. It holds no per-computation state and is safe
// for concurrent use.
type Builder struct {
	cal            *calendar.Calendar
	classifier     *classify.Classifier
	late           *latecharge.Calculator
	sink           audit.Sink
	forecastMonths int
	nextCycle      bool
	carryOver      bool
}

// NewBuilder returns a Builder with weekend-only calendar, default rules, no
// late charges and a discarding audit sink unless configured otherwise.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		cal:            calendar.New(),
		classifier:     classify.Default(),
		sink:           audit.Discard,
		forecastMonths: DefaultForecastMonths,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cal == nil {
		b.cal = calendar.New()
	}
	if b.classifier == nil {
		b.classifier = classify.Default()
	}
	if b.sink == nil {
		b.sink = audit.Discard
	}
	if b.forecastMonths <= 0 {
		b.forecastMonths = DefaultForecastMonths
	}
	return b
}

var defaultBuilder = NewBuilder()

// BuildInvoices runs req with the default Builder.
func BuildInvoices(ctx context.Context, req Request) (*domain.BuildResult, error) {
	return defaultBuilder.BuildInvoices(ctx, req)
}

// BuildInvoices buckets the card's transactions into billing cycles and
// returns the last closed, the current and the forecast invoices as of
// req.AsOf. The result depends only on the request.
func (b *Builder) BuildInvoices(ctx context.Context, req Request) (*domain.BuildResult, error) {
	cardID := req.CardID
	if cardID == "" && req.Card != nil {
		cardID = req.Card.ID
	}
	trail := audit.NewTrail(uuid.NewString(), cardID)

	res, err := b.build(req, cardID, trail)
	if err != nil {
		trail.Warn(audit.EventBuildFailed, "", err.Error(), nil)
		if ferr := trail.Flush(ctx, b.sink); ferr != nil {
			return nil, fmt.Errorf("%w (audit: %v)", err, ferr)
		}
		return nil, err
	}
	if err := trail.Flush(ctx, b.sink); err != nil {
		return nil, fmt.Errorf("append audit trail: %w", err)
	}
	return res, nil
}

func (b *Builder) build(req Request, cardID string, trail *audit.Trail) (*domain.BuildResult, error) {
	if req.Card == nil {
		return nil, &domain.ErrValidation{Field: "card", Message: "is required"}
	}
	if req.AsOf.IsZero() {
		return nil, &domain.ErrValidation{Field: "asOf", Message: "is required"}
	}
	card := *req.Card
	if card.ID == "" {
		card.ID = cardID
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}

	forecast := req.ForecastMonths
	switch {
	case forecast < 0:
		forecast = 0
	case forecast == 0:
		forecast = b.forecastMonths
	}
	if forecast > MaxForecastMonths {
		forecast = MaxForecastMonths
	}
	asOf := calendar.Truncate(req.AsOf)

	trail.Info(audit.EventBuildStarted, "", "", map[string]string{
		"asOf":           asOf.Format("2006-01-02"),
		"transactions":   strconv.Itoa(len(req.Transactions)),
		"forecastMonths": strconv.Itoa(forecast),
		"closingDay":     strconv.Itoa(card.ClosingDay),
		"dueDay":         strconv.Itoa(card.DueDay),
	})

	cy := newCycles(b.cal, &card, b.nextCycle)
	records, excluded := ingest.Normalize(req.Transactions, cardID, b.classifier, trail)

	monthOf := func(r ingest.Record) calendar.Month {
		if r.Manual() {
			return r.Override
		}
		return cy.keyOf(r.Day)
	}

	current := cy.at(cy.keyOf(asOf))
	closed := cy.at(current.month.Add(-1))

	purchases := installment.Engine{CardID: cardID}.Group(records, monthOf, closed.month)
	purchaseOf := make(map[string]string)
	for _, p := range purchases {
		for _, inst := range p.Installments {
			if inst.TransactionID != "" {
				purchaseOf[inst.TransactionID] = p.ID
			}
		}
	}
	placed := installment.Placements(purchases)

	buckets := make(map[calendar.Month][]ingest.Record)
	for _, r := range records {
		m := monthOf(r)
		if r.Manual() {
			if computed := cy.keyOf(r.Day); computed != m {
				trail.Info(audit.EventManualOverride, r.ID, "", map[string]string{
					"computed": computed.String(),
					"pinned":   m.String(),
				})
			}
		} else if p, ok := placed[r.ID]; ok && p != m {
			// Installments delivered with the purchase date.
			trail.Info(audit.EventInstallmentPlaced, r.ID, "", map[string]string{
				"computed": m.String(),
				"placed":   p.String(),
			})
			m = p
		}
		buckets[m] = append(buckets[m], r)
	}

	res := &domain.BuildResult{
		CardID:         cardID,
		AsOf:           asOf,
		FutureInvoices: make([]domain.Invoice, 0, forecast),
		Purchases:      purchases,
		Excluded:       excluded,
	}

	closedInv := b.invoice(cardID, closed, domain.InvoiceClosed, buckets[closed.month], purchaseOf)
	currentInv := b.invoice(cardID, current, domain.InvoiceOpen, buckets[current.month], purchaseOf)
	b.applySnapshot(&card, closedInv, currentInv, trail)
	if currentInv.Source != domain.SourceSnapshot {
		projectInstallments(currentInv, current, purchases)
	}

	if b.carryOver && closedInv.TotalCents > 0 {
		base := money.Cents(currentInv.PurchasesCents - currentInv.CreditsCents)
		if currentInv.Source == domain.SourceSnapshot {
			base = money.Cents(currentInv.TotalCents)
		}
		currentInv.CarryOverCents = closedInv.TotalCents
		setTotal(currentInv, base+money.Cents(closedInv.TotalCents))
	}
	if b.late != nil {
		b.applyLateCharges(closedInv, buckets[current.month], asOf, trail)
	}

	res.ClosedInvoice = closedInv
	res.CurrentInvoice = currentInv
	res.Periods = append(res.Periods, period(closedInv), period(currentInv))

	recurring := parseRecurring(req.Recurring, trail)
	for i := 1; i <= forecast; i++ {
		c := cy.at(current.month.Add(i))
		inv := b.invoice(cardID, c, domain.InvoiceForecast, buckets[c.month], purchaseOf)
		projectInstallments(inv, c, purchases)
		projectRecurring(inv, c, recurring)
		res.FutureInvoices = append(res.FutureInvoices, *inv)
		res.Periods = append(res.Periods, period(inv))
	}

	// Everything not on a closed statement yet is still owed ahead.
	commitment := installment.CommitmentAfter(purchases, closed.month)
	res.FutureCommitment = commitment.Float64()
	res.FutureCommitmentCents = int64(commitment)

	trail.Info(audit.EventBuildFinished, "", "", map[string]string{
		"closedTotal":  money.Cents(closedInv.TotalCents).String(),
		"currentTotal": money.Cents(currentInv.TotalCents).String(),
		"records":      strconv.Itoa(len(records)),
		"excluded":     strconv.Itoa(len(excluded)),
		"purchases":    strconv.Itoa(len(purchases)),
	})
	return res, nil
}

// invoice sums the records bucketed in c. Credits subtract; the total never
// goes below zero.
func (b *Builder) invoice(cardID string, c cycle, status string, records []ingest.Record, purchaseOf map[string]string) *domain.Invoice {
	inv := &domain.Invoice{
		ID:             uuid.NewSHA1(namespace, []byte(cardID+"|"+c.month.String())).String(),
		CardID:         cardID,
		ReferenceMonth: c.month.String(),
		Status:         status,
		PeriodStart:    c.start,
		ClosingDate:    c.closing,
		DueDate:        c.due,
		Source:         domain.SourceTransactions,
		Items:          make([]domain.Item, 0, len(records)),
	}

	var purchased, credited money.Cents
	for _, r := range records {
		if r.Kind.Credits() {
			credited += r.Cents
		} else {
			purchased += r.Cents
		}
		inv.Items = append(inv.Items, item(r, purchaseOf[r.ID]))
	}
	inv.PurchasesCents = int64(purchased)
	inv.CreditsCents = int64(credited)
	setTotal(inv, purchased-credited)
	return inv
}

func item(r ingest.Record, purchaseID string) domain.Item {
	it := domain.Item{
		TransactionID: r.ID,
		PurchaseID:    purchaseID,
		Description:   r.Description,
		Date:          r.Day,
		Amount:        r.Signed().Float64(),
		AmountCents:   int64(r.Signed()),
		Kind:          r.Kind,
		IsPayment:     r.Kind == domain.KindPayment,
		IsRefund:      r.Kind == domain.KindRefund,
		Ambiguous:     r.Ambiguous,
		Manual:        r.Manual(),
	}
	if info, ok := installment.Extract(r.Description, r.InstallmentNumber, r.TotalInstallments); ok {
		it.Installment = &info
	}
	return it
}

func setTotal(inv *domain.Invoice, total money.Cents) {
	total = total.FloorZero()
	inv.TotalCents = int64(total)
	inv.Total = total.Float64()
}

func period(inv *domain.Invoice) domain.Period {
	return domain.Period{
		ReferenceMonth: inv.ReferenceMonth,
		Status:         inv.Status,
		PeriodStart:    inv.PeriodStart,
		ClosingDate:    inv.ClosingDate,
		DueDate:        inv.DueDate,
	}
}
