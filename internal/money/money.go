// Package money implements integer-cents arithmetic for invoice totals.
// All sums happen in cents and are converted back to decimal once.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMoney = errors.New("invalid money amount")
)

// maxAbsAmount keeps amount*100 comfortably inside int64.
const maxAbsAmount = 9e15

var hundred = decimal.NewFromInt(100)

// Cents is a signed amount of currency in hundredths.
type Cents int64

// ToCents converts a decimal amount to cents, rounding half away from zero
// at the cents boundary. NaN, Inf and overflowing values are rejected.
func ToCents(amount float64) (Cents, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidMoney
	}
	if math.Abs(amount) > maxAbsAmount {
		return 0, fmt.Errorf("%w: too large", ErrInvalidMoney)
	}
	return FromDecimal(decimal.NewFromFloat(amount)), nil
}

// FromDecimal converts an exact decimal to cents with the same rounding as ToCents.
func FromDecimal(d decimal.Decimal) Cents {
	return Cents(d.Round(2).Mul(hundred).IntPart())
}

// FromCents converts cents back to a decimal amount.
func FromCents(c Cents) float64 {
	return float64(c) / 100
}

// SumMoney adds decimal amounts in cents space. Invalid operands count as zero.
func SumMoney(amounts ...float64) float64 {
	var total Cents
	for _, a := range amounts {
		c, err := ToCents(a)
		if err != nil {
			continue
		}
		total += c
	}
	return FromCents(total)
}

// Float64 returns the amount as a decimal number.
func (c Cents) Float64() float64 { return FromCents(c) }

// Decimal returns the exact decimal value.
func (c Cents) Decimal() decimal.Decimal { return decimal.New(int64(c), -2) }

// Abs returns the magnitude.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// FloorZero clamps negative amounts to zero.
func (c Cents) FloorZero() Cents {
	if c < 0 {
		return 0
	}
	return c
}

// MulRate multiplies by rate and rounds to whole cents.
func (c Cents) MulRate(rate decimal.Decimal) Cents {
	return Cents(decimal.NewFromInt(int64(c)).Mul(rate).Round(0).IntPart())
}

// String renders "-1234.05" style text without going through floats.
func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// Split divides total into n slices. Every slice gets the truncated quotient
// and the last slice absorbs the remainder.
func Split(total Cents, n int) []Cents {
	if n <= 0 {
		return nil
	}
	out := make([]Cents, n)
	base := total / Cents(n)
	for i := range out {
		out[i] = base
	}
	out[n-1] = total - base*Cents(n-1)
	return out
}
