package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMinor(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  error
	}{
		{"10", 1000, nil},
		{"10.5", 1050, nil},
		{"0.07", 7, nil},
		{" 100000.00 ", 10000000, nil},
		{"-3.10", -310, nil},
		{"1.234", 0, ErrTooManyDecimals},
		{"abc", 0, ErrInvalidAmount},
		{"", 0, ErrInvalidAmount},
		{"1.x", 0, ErrInvalidAmount},
		{"1.230", 123, nil},
		{"1e3", 0, ErrInvalidAmount},
		{"99999999999999999999", 0, ErrInvalidAmount},
	}
	for _, tc := range cases {
		got, err := ParseMinor(tc.in)
		if !errors.Is(err, tc.err) {
			t.Fatalf("ParseMinor(%q) error = %v, want %v", tc.in, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("ParseMinor(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(8700); got != "87.00" {
		t.Fatalf("expected 87.00, got %s", got)
	}
	if got := FormatMinor(-5); got != "-0.05" {
		t.Fatalf("expected -0.05, got %s", got)
	}
}

func TestApplyRateRoundsHalfToEven(t *testing.T) {
	rate := decimal.RequireFromString("0.10")
	if got := ApplyRate(10000, rate); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	// 125 * 0.10 = 12.5 -> 12; 135 * 0.10 = 13.5 -> 14
	if got := ApplyRate(125, rate); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
	if got := ApplyRate(135, rate); got != 14 {
		t.Fatalf("expected 14, got %d", got)
	}
	if got := ApplyRate(10000, decimal.RequireFromString("0.03")); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
}

func TestParseRate(t *testing.T) {
	if _, err := ParseRate("0.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, in := range []string{"-0.1", "1.5", "ten"} {
		if _, err := ParseRate(in); !errors.Is(err, ErrInvalidRate) {
			t.Fatalf("ParseRate(%q) error = %v, want ErrInvalidRate", in, err)
		}
	}
}
