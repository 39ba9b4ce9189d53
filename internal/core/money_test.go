package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"100,000", "100000", true},
		{"1,500.50", "1500.5", true},
		{"12,345,678.9", "12345678.9", true},
		{"12.345", "12.35", true},
		{"0", "0", true},
		{"0.01", "0.01", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"100000", "100000", true},
		{"-1", "", false},
		{"+1", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1,23", "", false},
		{"1,2345", "", false},
		{",100", "", false},
		{"1000,000", "", false},
		{"1.5,0", "", false},
		{"1,,000", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestSumIsExact(t *testing.T) {
	// 0.1 added ten times is exactly 1 with decimals.
	items := make([]decimal.Decimal, 10)
	for i := range items {
		items[i] = MustAmount("0.1")
	}
	got := Sum(items, func(d decimal.Decimal) decimal.Decimal { return d })
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1, got %s", got)
	}
}

func TestClampZero(t *testing.T) {
	if got := ClampZero(decimal.NewFromInt(-5)); !got.IsZero() {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := ClampZero(decimal.NewFromInt(5)); !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected 5, got %s", got)
	}
}
