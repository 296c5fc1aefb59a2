// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and for the overflow-checked cent arithmetic the ledger relies on.
package core

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Money struct {
	Cents int64
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Cents is a shorthand for Money{Cents: c}.
func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseAmount converts a signed decimal string to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half away from zero to two decimal places. Negative amounts are withdrawals.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("-12,34") -> -1234
//	ParseAmount("12.345") -> 1235
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, NewValidationError("amount", "amount is required")
	}
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, NewValidationError("amount", "invalid amount "+strconv.Quote(s))
	}
	cents := d.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return Money{}, NewValidationError("amount", "amount out of range")
	}
	return Money{Cents: cents.IntPart()}, nil
}

// String renders the amount with exactly two decimals, e.g. "-12.30".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}

// Decimal returns the amount as a decimal in currency units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// Add returns m+o, failing instead of wrapping on int64 overflow.
func (m Money) Add(o Money) (Money, error) {
	if (o.Cents > 0 && m.Cents > math.MaxInt64-o.Cents) ||
		(o.Cents < 0 && m.Cents < math.MinInt64-o.Cents) {
		return Money{}, NewValidationError("value", "balance would overflow")
	}
	return Money{Cents: m.Cents + o.Cents}, nil
}

// Sub returns m-o with the same overflow rules as Add.
func (m Money) Sub(o Money) (Money, error) {
	if o.Cents == math.MinInt64 {
		return Money{}, NewValidationError("value", "balance would overflow")
	}
	return m.Add(Money{Cents: -o.Cents})
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}
