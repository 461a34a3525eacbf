package money

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a tolerant decimal value as delivered by upstream feeds.
// It accepts JSON numbers, numeric strings (either decimal separator) and null.
// Unmarshalling never fails; unusable input is kept as an invalid Amount so one
// bad record cannot reject a whole payload.
type Amount struct {
	value decimal.Decimal
	set   bool
	valid bool
	raw   string
}

// NewAmount builds a valid Amount from a float.
func NewAmount(v float64) Amount {
	c, err := ToCents(v)
	if err != nil {
		return Amount{set: true, raw: decimal.NewFromFloat(v).String()}
	}
	return Amount{value: c.Decimal(), set: true, valid: true}
}

// ParseAmount parses text such as "10.50", "10,50", "R$ 1.234,56" or "-3".
func ParseAmount(s string) Amount {
	a := Amount{set: true, raw: s}
	d, ok := parseDecimal(s)
	if ok {
		a.value = d
		a.valid = true
	}
	return a
}

// IsSet reports whether the field was present at all.
func (a Amount) IsSet() bool { return a.set }

// Valid reports whether the amount parsed to a number.
func (a Amount) Valid() bool { return a.valid }

// Raw returns the original text of an invalid amount.
func (a Amount) Raw() string { return a.raw }

// Cents returns the rounded cents value, or false when the amount is unusable.
func (a Amount) Cents() (Cents, bool) {
	if !a.valid {
		return 0, false
	}
	if a.value.Abs().GreaterThan(decimal.NewFromFloat(maxAbsAmount)) {
		return 0, false
	}
	return FromDecimal(a.value), true
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || len(b) == 0 {
		*a = Amount{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*a = Amount{set: true, raw: string(b)}
			return nil
		}
		*a = ParseAmount(s)
		return nil
	}
	*a = ParseAmount(string(b))
	return nil
}

// MarshalJSON renders the amount as a JSON number, or null when unusable.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.valid {
		return []byte("null"), nil
	}
	return []byte(a.value.String()), nil
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, false
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastComma > lastDot:
		// "1.234,56": comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0:
		// "1,234.56"
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
