package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
		err bool
	}{
		{"3750", "3750", true, false},
		{"802060.58", "802060.58", true, false},
		{"802.060,58", "802060.58", true, false},
		{"1,234.56", "1234.56", true, false},
		{"12,5", "12.5", true, false},
		{"€ 4.403,00", "4403", true, false},
		{"€ 802.060,58", "802060.58", true, false},
		{"1 234,50", "1234.50", true, false},
		{"1\u00a0234,50", "1234.50", true, false},
		{"-1500", "-1500", true, false},
		{"(1.234,56)", "-1234.56", true, false},
		{"1.234.567", "1234567", true, false},
		{" 0 ", "0", true, false},
		{"", "0", false, false},
		{"   ", "0", false, false},
		{"-", "0", false, false},
		{"n/d", "0", false, true},
		{"12abc", "0", false, true},
	}
	for _, tc := range cases {
		got, ok, err := ParseAmount(tc.in)
		if tc.err {
			if !errors.Is(err, ErrInvalidValue) {
				t.Fatalf("%q expected ErrInvalidValue, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q unexpected error: %v", tc.in, err)
		}
		if ok != tc.ok {
			t.Fatalf("%q ok=%v, want %v", tc.in, ok, tc.ok)
		}
		if want := decimal.RequireFromString(tc.out); !got.Equal(want) {
			t.Fatalf("%q expected %s, got %s", tc.in, want, got)
		}
	}
}
