// Package ingest is the single seam where raw aggregator transactions are
// interpreted. Everything downstream works on Records and never looks at
// optional or malformed upstream fields again.
package ingest

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/fatura-engine/internal/audit"
	"github.com/boddenberg/fatura-engine/internal/calendar"
	"github.com/boddenberg/fatura-engine/internal/classify"
	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/money"
)

// Record is a validated, classified transaction.
type Record struct {
	ID          string
	Description string
	Category    string
	Type        string      // domain.TypeExpense, domain.TypeIncome or ""
	Day         time.Time
	Cents       money.Cents // magnitude, never negative
	Kind        domain.Kind
	Ambiguous   bool
	Rule        string

	// Raw installment metadata; the installment package interprets it.
	InstallmentNumber int
	TotalInstallments int
	OriginalTotal     money.Cents

	// Override is the invoice month pinned by the user, zero when absent.
	Override calendar.Month
}

// Manual reports whether the user pinned the record to an invoice month.
func (r Record) Manual() bool { return !r.Override.IsZero() }

// Signed returns the effect of the record on an invoice total.
func (r Record) Signed() money.Cents {
	if r.Kind.Credits() {
		return -r.Cents
	}
	return r.Cents
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// ParseDate accepts the date layouts seen upstream and returns the calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return calendar.Truncate(t), true
		}
	}
	return time.Time{}, false
}

// BelongsTo reports whether tx is a movement of cardID. Transactions that do
// not name a card are assumed to belong to it.
func BelongsTo(tx domain.Transaction, cardID string) bool {
	if cardID == "" {
		return true
	}
	switch {
	case tx.CardID != "":
		return tx.CardID == cardID
	case tx.AccountID != "":
		return tx.AccountID == cardID
	}
	return true
}

// Normalize validates and classifies the transactions of one card. Records
// come back sorted by day then id; transactions that cannot be bucketed are
// returned as exclusions. Every anomaly is written to trail.
func Normalize(txs []domain.Transaction, cardID string, c *classify.Classifier, trail *audit.Trail) ([]Record, []domain.Excluded) {
	if c == nil {
		c = classify.Default()
	}

	records := make([]Record, 0, len(txs))
	excluded := make([]domain.Excluded, 0)
	seen := make(map[string]bool, len(txs))
	occurrences := make(map[string]int)

	exclude := func(id, reason string, fields map[string]string) {
		excluded = append(excluded, domain.Excluded{TransactionID: id, Reason: reason})
		trail.Warn(audit.EventExcluded, id, reason, fields)
	}

	for _, tx := range txs {
		if !BelongsTo(tx, cardID) {
			continue
		}
		id := strings.TrimSpace(tx.ID)
		if id == "" {
			fp := fingerprint(tx, cardID)
			occurrences[fp]++
			id = SyntheticID(fp, occurrences[fp])
			trail.Info(audit.EventSyntheticID, id, "transaction has no id", map[string]string{
				"description": tx.Description,
				"date":        tx.Date,
			})
		}
		if seen[id] {
			exclude(id, domain.ReasonDuplicate, nil)
			continue
		}
		seen[id] = true

		if tx.Ignored {
			exclude(id, domain.ReasonIgnored, nil)
			continue
		}
		day, ok := ParseDate(tx.Date)
		if !ok {
			exclude(id, domain.ReasonInvalidDate, map[string]string{"date": tx.Date})
			continue
		}

		cents, ok := tx.Amount.Cents()
		if !ok {
			trail.Warn(audit.EventInvalidAmount, id, "non-numeric amount counted as zero",
				map[string]string{"amount": tx.Amount.Raw()})
			cents = 0
		}

		res := c.Classify(tx)
		if res.Ambiguous {
			amb := &domain.ErrClassificationAmbiguous{TransactionID: id, Description: tx.Description, Type: tx.Type}
			trail.Warn(audit.EventAmbiguous, id, amb.Error(), map[string]string{"rule": res.Rule})
		}

		rec := Record{
			ID:                id,
			Description:       strings.TrimSpace(tx.Description),
			Category:          tx.Category,
			Type:              domain.NormalizeType(tx.Type),
			Day:               day,
			Cents:             cents.Abs(),
			Kind:              res.Kind,
			Ambiguous:         res.Ambiguous,
			Rule:              res.Rule,
			InstallmentNumber: tx.InstallmentNumber,
			TotalInstallments: tx.TotalInstallments,
			Override:          resolveOverride(tx, trail),
		}
		if total, ok := tx.TotalAmount.Cents(); ok {
			rec.OriginalTotal = total.Abs()
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Day.Equal(records[j].Day) {
			return records[i].Day.Before(records[j].Day)
		}
		return records[i].ID < records[j].ID
	})
	return records, excluded
}

// idNamespace seeds ids for transactions delivered without one.
var idNamespace = uuid.MustParse("6f1d2c4e-8b7a-5e3f-9a0d-2c4b6e8f1a3d")

func fingerprint(tx domain.Transaction, cardID string) string {
	amount := tx.Amount.Raw()
	if cents, ok := tx.Amount.Cents(); ok {
		amount = cents.String()
	}
	return strings.Join([]string{
		cardID,
		strings.TrimSpace(tx.Date),
		strings.TrimSpace(tx.Description),
		amount,
		strings.TrimSpace(tx.Type),
	}, "|")
}

// SyntheticID derives a stable id from a transaction fingerprint. The
// occurrence number tells apart identical movements in one payload, so the
// same input always yields the same ids.
func SyntheticID(fingerprint string, occurrence int) string {
	return uuid.NewSHA1(idNamespace, []byte(fingerprint+"|"+strconv.Itoa(occurrence))).String()
}

// resolveOverride applies the override precedence: manualInvoiceMonth first,
// then invoiceMonthKey when it was set manually. Unparseable values are
// audited and skipped.
func resolveOverride(tx domain.Transaction, trail *audit.Trail) calendar.Month {
	if s := strings.TrimSpace(tx.ManualInvoiceMonth); s != "" {
		m, err := calendar.ParseMonth(s)
		if err == nil {
			return m
		}
		trail.Warn(audit.EventInvalidOverride, tx.ID, err.Error(), map[string]string{"field": "manualInvoiceMonth"})
	}
	if s := strings.TrimSpace(tx.InvoiceMonthKey); s != "" && tx.InvoiceMonthKeyManual {
		m, err := calendar.ParseMonth(s)
		if err == nil {
			return m
		}
		trail.Warn(audit.EventInvalidOverride, tx.ID, err.Error(), map[string]string{"field": "invoiceMonthKey"})
	}
	return calendar.Month{}
}
