// Package latecharge computes what paying an invoice after its due date
// costs: a flat late fee plus daily-prorated mora and revolving interest.
package latecharge

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/fatura-engine/internal/domain"
	"github.com/boddenberg/fatura-engine/internal/money"
)

// Rates are monthly rates expressed as fractions (0.02 = 2%).
type Rates struct {
	LateFee   decimal.Decimal // flat, charged once
	Mora      decimal.Decimal // per month, prorated daily
	Revolving decimal.Decimal // per month, prorated daily
}

// DefaultRates are the usual Brazilian card terms: 2% fee, 1% a.m. mora,
// 14% a.m. revolving.
func DefaultRates() Rates {
	return Rates{
		LateFee:   decimal.RequireFromString("0.02"),
		Mora:      decimal.RequireFromString("0.01"),
		Revolving: decimal.RequireFromString("0.14"),
	}
}

var daysPerMonth = decimal.NewFromInt(30)

// Calculator applies one set of rates.
type Calculator struct {
	Rates Rates
}

// NewCalculator returns a Calculator with the given rates.
func NewCalculator(r Rates) *Calculator {
	return &Calculator{Rates: r}
}

// DaysOverdue is the number of started days between due and asOf, zero when
// asOf is not after due.
func DaysOverdue(due, asOf time.Time) int {
	if !asOf.After(due) {
		return 0
	}
	return int(math.Ceil(asOf.Sub(due).Hours() / 24))
}

// CalculateCents computes the charges on amount. Nothing is owed when asOf
// is on or before due or the amount is not positive.
func (c *Calculator) CalculateCents(amount money.Cents, due, asOf time.Time) domain.LateCharges {
	out := domain.LateCharges{Amount: amount.Float64()}
	days := DaysOverdue(due, asOf)
	if days == 0 || amount <= 0 {
		return out
	}
	d := decimal.NewFromInt(int64(days))

	fee := amount.MulRate(c.Rates.LateFee)
	mora := amount.MulRate(c.Rates.Mora.Div(daysPerMonth).Mul(d))
	revolving := amount.MulRate(c.Rates.Revolving.Div(daysPerMonth).Mul(d))
	interest := mora + revolving
	total := fee + interest

	out.DaysOverdue = days
	out.LateFee = fee.Float64()
	out.MoraInterest = mora.Float64()
	out.RevolvingInterest = revolving.Float64()
	out.Interest = interest.Float64()
	out.TotalCharges = total.Float64()
	out.LateFeeCents = int64(fee)
	out.InterestCents = int64(interest)
	out.TotalChargesCents = int64(total)
	return out
}

// Calculate is CalculateCents for a currency amount. Amounts that cannot be
// represented in cents owe nothing.
func (c *Calculator) Calculate(amount float64, due, asOf time.Time) domain.LateCharges {
	cents, err := money.ToCents(amount)
	if err != nil {
		return domain.LateCharges{}
	}
	return c.CalculateCents(cents, due, asOf)
}

var defaultCalculator = NewCalculator(DefaultRates())

// Calculate computes late charges with DefaultRates.
func Calculate(amount float64, due, asOf time.Time) domain.LateCharges {
	return defaultCalculator.Calculate(amount, due, asOf)
}
