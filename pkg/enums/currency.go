package enums

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 alphabetic code.
type Currency string

const (
	CurrencyGBP Currency = "GBP"
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyJPY Currency = "JPY"
)

const defaultMinorUnitExponent = 2

var minorUnitExponents = map[Currency]int32{
	CurrencyGBP: 2,
	CurrencyEUR: 2,
	CurrencyUSD: 2,
	CurrencyJPY: 0,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the value looks like a three letter currency code.
func (c Currency) IsValid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// MinorUnitExponent returns the number of decimal places of the currency's minor unit.
func (c Currency) MinorUnitExponent() int32 {
	if exp, ok := minorUnitExponents[c]; ok {
		return exp
	}
	return defaultMinorUnitExponent
}

// ParseCurrency normalizes raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
