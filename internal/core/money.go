// Package core provides money parsing and handling utilities.
//
// Amounts are held as integer cents. Decimal text is converted with
// shopspring/decimal so no value ever passes through a float.
package core

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountOverflow = errors.New("amount overflow")
)

type Money struct {
	Cents int64 `json:"cents" firestore:"cents"`
}

var maxCents = decimal.NewFromInt(math.MaxInt64)

const (
	// minAmountExponent is the finest precision accepted from clients.
	minAmountExponent = -18
	// maxCentsDigits is the digit count of math.MaxInt64.
	maxCentsDigits = 19
)

// ParseAmount converts a decimal string to cents with half-up rounding.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Zero is a
// valid amount; negative values are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 1234
//	ParseAmount("12,345") -> 1235
//	ParseAmount("0")      -> 0
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if d.IsNegative() || d.Exponent() < minAmountExponent {
		return Money{}, ErrInvalidAmount
	}
	if d.IsZero() {
		return Money{}, nil
	}
	// Integer digits in cents, checked before anything rescales the value.
	if int64(d.NumDigits())+int64(d.Exponent())+2 > maxCentsDigits {
		return Money{}, ErrAmountOverflow
	}
	cents := d.Shift(2).Round(0)
	if cents.GreaterThan(maxCents) {
		return Money{}, ErrAmountOverflow
	}
	return Money{Cents: cents.IntPart()}, nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Add returns m+o, failing instead of wrapping around.
func (m Money) Add(o Money) (Money, error) {
	if o.Cents > 0 && m.Cents > math.MaxInt64-o.Cents {
		return Money{}, ErrAmountOverflow
	}
	if o.Cents < 0 && m.Cents < math.MinInt64-o.Cents {
		return Money{}, ErrAmountOverflow
	}
	return Money{Cents: m.Cents + o.Cents}, nil
}

// String renders the amount with two decimals, e.g. "12.34".
func (m Money) String() string {
	return decimal.New(m.Cents, -2).StringFixed(2)
}
