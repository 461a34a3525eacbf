package domain

import "time"

// ============================================================
// Derived invoices and purchases
// ============================================================

// Invoice statuses relative to the as-of date.
const (
	InvoiceClosed   = "CLOSED"
	InvoiceOpen     = "OPEN"
	InvoiceForecast = "FORECAST"
)

// Invoice total sources.
const (
	SourceTransactions = "transactions"
	SourceSnapshot     = "snapshot"
)

// Invoice aggregates all items of one billing cycle of one card.
type Invoice struct {
	ID             string       `json:"id"`
	CardID         string       `json:"cardId"`
	ReferenceMonth string       `json:"referenceMonth"` // "2026-01"
	Status         string       `json:"status"`
	PeriodStart    time.Time    `json:"periodStart"` // exclusive
	ClosingDate    time.Time    `json:"closingDate"`
	DueDate        time.Time    `json:"dueDate"`
	Total          float64      `json:"total"`
	TotalCents     int64        `json:"totalCents"`
	PurchasesCents int64        `json:"purchasesCents"`
	CreditsCents   int64        `json:"creditsCents"`
	CarryOverCents int64        `json:"carryOverCents,omitempty"`
	Source         string       `json:"source"`
	Items          []Item       `json:"items"`
	LateCharges    *LateCharges `json:"lateCharges,omitempty"`
}

// Item is one classified transaction or projected installment in an invoice.
type Item struct {
	TransactionID string           `json:"transactionId,omitempty"`
	PurchaseID    string           `json:"purchaseId,omitempty"`
	Description   string           `json:"description"`
	Date          time.Time        `json:"date"`
	Amount        float64          `json:"amount"`
	AmountCents   int64            `json:"amountCents"`
	Kind          Kind             `json:"kind"`
	IsPayment     bool             `json:"isPayment"`
	IsRefund      bool             `json:"isRefund"`
	Ambiguous     bool             `json:"ambiguous,omitempty"`
	Manual        bool             `json:"manual,omitempty"`
	Projected     bool             `json:"projected,omitempty"`
	Installment   *InstallmentInfo `json:"installment,omitempty"`
}

// Period describes one billing cycle window (PeriodStart, ClosingDate].
type Period struct {
	ReferenceMonth string    `json:"referenceMonth"`
	Status         string    `json:"status"`
	PeriodStart    time.Time `json:"periodStart"`
	ClosingDate    time.Time `json:"closingDate"`
	DueDate        time.Time `json:"dueDate"`
}

// Installment statuses.
const (
	InstallmentPending = "pending"
	InstallmentBilled  = "billed"
	InstallmentPaid    = "paid"
)

// Purchase groups the installments of one split purchase.
type Purchase struct {
	ID               string        `json:"id"`
	Description      string        `json:"description"`
	TotalAmount      float64       `json:"totalAmount"`
	TotalAmountCents int64         `json:"totalAmountCents"`
	InstallmentCount int           `json:"installmentCount"`
	OriginDate       time.Time     `json:"originDate"`
	Installments     []Installment `json:"installments"`
}

// Installment is one payment slice of a Purchase.
type Installment struct {
	Sequence      int     `json:"sequence"`
	Amount        float64 `json:"amount"`
	AmountCents   int64   `json:"amountCents"`
	Month         string  `json:"month"` // billing month, "2026-03"
	Status        string  `json:"status"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// LateCharges is the cost of paying an invoice after its due date.
type LateCharges struct {
	Amount            float64 `json:"amount"`
	DaysOverdue       int     `json:"daysOverdue"`
	LateFee           float64 `json:"lateFee"`
	MoraInterest      float64 `json:"moraInterest"`
	RevolvingInterest float64 `json:"revolvingInterest"`
	Interest          float64 `json:"interest"`
	TotalCharges      float64 `json:"totalCharges"`
	LateFeeCents      int64   `json:"lateFeeCents"`
	InterestCents     int64   `json:"interestCents"`
	TotalChargesCents int64   `json:"totalChargesCents"`
}

// BuildResult is everything computed for one card as of one day.
type BuildResult struct {
	CardID                string     `json:"cardId"`
	AsOf                  time.Time  `json:"asOf"`
	ClosedInvoice         *Invoice   `json:"closedInvoice"`
	CurrentInvoice        *Invoice   `json:"currentInvoice"`
	FutureInvoices        []Invoice  `json:"futureInvoices"`
	Periods               []Period   `json:"periods"`
	Purchases             []Purchase `json:"purchases"`
	FutureCommitment      float64    `json:"futureCommitment"`
	FutureCommitmentCents int64      `json:"futureCommitmentCents"`
	Excluded              []Excluded `json:"excluded"`
}

// Commitment is what a card still owes in installments not yet billed on a
// closed invoice.
type Commitment struct {
	CardID                string     `json:"cardId"`
	AsOf                  time.Time  `json:"asOf"`
	FutureCommitment      float64    `json:"futureCommitment"`
	FutureCommitmentCents int64      `json:"futureCommitmentCents"`
	Purchases             []Purchase `json:"purchases"`
}
