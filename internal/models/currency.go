package models

import "fmt"

// Currency identifies one of the two ledger currencies. Each currency
// carries its own fixed-point scale: 8 fractional digits for BTC, 2 for USD.
type Currency string

const (
	CurrencyBTC Currency = "BTC"
	CurrencyUSD Currency = "USD"
)

// Scale returns the number of fractional digits stored for the currency.
func (c Currency) Scale() int32 {
	if c == CurrencyBTC {
		return 8
	}
	return 2
}

// Opposite returns the other supported currency.
func (c Currency) Opposite() Currency {
	if c == CurrencyBTC {
		return CurrencyUSD
	}
	return CurrencyBTC
}

func (c Currency) Valid() bool {
	return c == CurrencyBTC || c == CurrencyUSD
}

// ParseCurrency converts a wire value into a Currency.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !c.Valid() {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}
