package domain

import (
	"strings"

	"github.com/boddenberg/fatura-engine/internal/money"
)

// ============================================================
// Transactions (as delivered by the aggregator sync)
// ============================================================

// Transaction types.
const (
	TypeExpense = "expense"
	TypeIncome  = "income"
)

// Transaction is one raw card movement. Every field except ID may be missing
// or inconsistent; the ingest package is the only place that interprets it.
type Transaction struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
	Date        string       `json:"date"`
	Type        string       `json:"type"` // expense, income
	Category    string       `json:"category,omitempty"`
	AccountID   string       `json:"accountId,omitempty"`
	CardID      string       `json:"cardId,omitempty"`

	// Installment metadata from the aggregator, when present.
	InstallmentNumber int          `json:"installmentNumber,omitempty"`
	TotalInstallments int          `json:"totalInstallments,omitempty"`
	TotalAmount       money.Amount `json:"totalAmount,omitempty"`

	// User overrides.
	ManualInvoiceMonth    string `json:"manualInvoiceMonth,omitempty"` // "2026-01"
	InvoiceMonthKey       string `json:"invoiceMonthKey,omitempty"`
	InvoiceMonthKeyManual bool   `json:"invoiceMonthKeyManual,omitempty"`

	IsRefund  *bool `json:"isRefund,omitempty"`
	IsPayment *bool `json:"isPayment,omitempty"`
	Ignored   bool  `json:"ignored,omitempty"`
}

// NormalizeType maps the type vocabularies seen upstream (DEBIT/CREDIT,
// despesa/receita) onto TypeExpense and TypeIncome. Unknown types map to "".
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "expense", "debit", "despesa", "saida", "saída", "outflow":
		return TypeExpense
	case "income", "credit", "receita", "entrada", "inflow":
		return TypeIncome
	}
	return ""
}

// InstallmentInfo is the "3/12" marker of one installment.
type InstallmentInfo struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Kind is how a transaction affects an invoice total.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindPayment  Kind = "payment"
	KindRefund   Kind = "refund"
)

// Credits reports whether the kind subtracts from the invoice total.
func (k Kind) Credits() bool { return k == KindPayment || k == KindRefund }

// Exclusion reasons.
const (
	ReasonIgnored     = "ignored"
	ReasonInvalidDate = "invalid_date"
	ReasonDuplicate   = "duplicate"
)

// Excluded names a transaction left out of cycle bucketing and why.
type Excluded struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

// RecurringCharge is a subscription-like charge projected into forecasts.
type RecurringCharge struct {
	ID          string       `json:"id"`
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
	DayOfMonth  int          `json:"dayOfMonth"`
	StartMonth  string       `json:"startMonth,omitempty"` // "2026-01"
	EndMonth    string       `json:"endMonth,omitempty"`
}
