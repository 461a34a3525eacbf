package domain

// ============================================================
// Connected card account
// ============================================================

// Bill states reported by the aggregator.
const (
	BillOpen   = "OPEN"
	BillClosed = "CLOSED"
)

// Card is the billing configuration and snapshot state of one credit card.
type Card struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name,omitempty"`
	ClosingDay           int      `json:"closingDay"`
	DueDay               int      `json:"dueDay"`
	ManualCreditLimit    *float64 `json:"manualCreditLimit,omitempty"`
	CreditLimit          *float64 `json:"creditLimit,omitempty"`
	AvailableCreditLimit *float64 `json:"availableCreditLimit,omitempty"`
	UsedCreditLimit      *float64 `json:"usedCreditLimit,omitempty"`
	CurrentBill          *Bill    `json:"currentBill,omitempty"`
	Bills                []Bill   `json:"bills,omitempty"`
}

// Bill is an invoice snapshot as confirmed by the card network.
type Bill struct {
	ID          string  `json:"id,omitempty"`
	DueDate     string  `json:"dueDate,omitempty"`
	TotalAmount float64 `json:"totalAmount"`
	Status      string  `json:"status,omitempty"` // currentBill
	State       string  `json:"state,omitempty"`  // bills[]: OPEN, CLOSED
}

// Closed reports whether the snapshot refers to a closed bill.
func (b Bill) Closed() bool {
	return b.State == BillClosed || b.Status == BillClosed
}

// EffectiveCreditLimit prefers the user-pinned limit over the aggregator one.
func (c *Card) EffectiveCreditLimit() (float64, bool) {
	switch {
	case c.ManualCreditLimit != nil:
		return *c.ManualCreditLimit, true
	case c.CreditLimit != nil:
		return *c.CreditLimit, true
	}
	return 0, false
}

// Validate checks the billing parameters the cycle computation depends on.
func (c *Card) Validate() error {
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return &ErrConfiguration{CardID: c.ID, Field: "closingDay", Message: "must be between 1 and 31"}
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return &ErrConfiguration{CardID: c.ID, Field: "dueDay", Message: "must be between 1 and 31"}
	}
	return nil
}
