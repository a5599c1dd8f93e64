// Package core provides the ledger domain types and amount parsing.
//
// This file parses spreadsheet amounts into exact decimals.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a cell into a decimal.
//
// It accepts plain numbers ("1234.56", "-12"), the Italian grouping
// ("1.234,56"), the English grouping ("1,234.56"), a euro sign anywhere and
// accounting negatives ("(1.234,56)"). A blank cell returns ok=false with no
// error. Anything else is ErrInvalidValue.
//
// Examples:
//
//	ParseAmount("3750")        -> 3750, true, nil
//	ParseAmount("€ 802.060,58") -> 802060.58, true, nil
//	ParseAmount("n/d")         -> 0, false, ErrInvalidValue
func ParseAmount(cell string) (decimal.Decimal, bool, error) {
	s := strings.TrimSpace(cell)
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" || s == "-" {
		return decimal.Zero, false, nil
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, cell)
	}
	if negative {
		d = d.Neg()
	}
	return d, true, nil
}

// normalizeSeparators rewrites grouping and decimal marks to the plain
// dot-decimal form decimal.NewFromString understands.
func normalizeSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		// Whichever mark comes last is the decimal separator.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		return strings.Replace(s, ",", ".", 1)
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
