// Package core provides money parsing and handling utilities.
//
// Budget figures are exact decimals. Binary floating point is never used
// for amounts, so repeated incremental updates cannot drift.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept for stored amounts.
const AmountScale = 2

// ParseAmount converts a decimal string to an amount with half-up rounding
// to AmountScale digits.
//
// The dot is the decimal separator. Commas group thousands in the integer
// part and must sit between groups of three digits. Negative values and
// malformed input are rejected; zero is accepted so callers can decide
// whether zero is meaningful (a zero budget is, a zero spend is not).
//
// Examples:
//
//	ParseAmount("100,000")  -> 100000, nil
//	ParseAmount("1,500.50") -> 1500.5, nil
//	ParseAmount("12.345")   -> 12.35, nil
//	ParseAmount("1,23")     -> error
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "required"}
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be a plain non-negative number"}
	}
	malformed := &ValidationError{Field: "amount", Reason: "malformed number"}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if strings.ContainsAny(frac, ".,") {
		return decimal.Zero, malformed
	}
	if strings.Contains(whole, ",") {
		groups := strings.Split(whole, ",")
		if n := len(groups[0]); n < 1 || n > 3 {
			return decimal.Zero, malformed
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return decimal.Zero, malformed
			}
		}
		whole = strings.Join(groups, "")
	}
	for _, r := range whole + frac {
		if !unicode.IsDigit(r) {
			return decimal.Zero, malformed
		}
	}
	if hasFrac {
		s = whole + "." + frac
	} else {
		s = whole
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, malformed
	}
	return d.Round(AmountScale), nil
}

// MustAmount is ParseAmount for literals known to be valid; it panics otherwise.
func MustAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ValidateBudget rejects negative budget figures.
func ValidateBudget(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return nil
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds up the figure selected by fn for every item.
func Sum[T any](items []T, fn func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(fn(it))
	}
	return total
}
