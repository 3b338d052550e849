package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"1.004", 100, true},
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"0.00", 0, true},
		{"-1", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseAmountOverflow(t *testing.T) {
	if _, err := ParseAmount("99999999999999999999"); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestParseAmountExtremeExponents(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"1e999999999", ErrAmountOverflow},
		{"1e30000000", ErrAmountOverflow},
		{"1E18", ErrAmountOverflow},
		{"1e-999999999", ErrInvalidAmount},
		{"0e-999999999", ErrInvalidAmount},
		{"1.0000000000000000001", ErrInvalidAmount},
	}
	start := time.Now()
	for _, tc := range cases {
		if _, err := ParseAmount(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%q expected %v, got %v", tc.in, tc.want, err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("extreme exponents took %v to reject", elapsed)
	}
}

func TestParseAmountScientificWithinRange(t *testing.T) {
	cases := []struct {
		in  string
		out int64
	}{
		{"0e999999999", 0},
		{"1e2", 10000},
		{"1.5e-2", 2},
		{"92233720368547758.07", math.MaxInt64},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if err != nil || got.Cents != tc.out {
			t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
		}
	}
	if _, err := ParseAmount("92233720368547758.08"); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow just past MaxInt64, got %v", err)
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 0}).Validate(); err != nil {
		t.Fatalf("zero should be valid, got %v", err)
	}
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: -1}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestMoneyAdd(t *testing.T) {
	got, err := Money{Cents: 5000}.Add(Money{Cents: 3000})
	if err != nil || got.Cents != 8000 {
		t.Fatalf("expected 8000, got %d (err=%v)", got.Cents, err)
	}
	if _, err := (Money{Cents: math.MaxInt64}).Add(Money{Cents: 1}); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{0: "0.00", 5: "0.05", 1234: "12.34", 100000: "1000.00"}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("%d: expected %q, got %q", cents, want, got)
		}
	}
}
