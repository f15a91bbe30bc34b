package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRateSnapshot is one persisted BTC/fiat quote: the raw market rate,
// the fee percentage applied, and the fee-adjusted rate. Snapshots double as
// the durable fallback when the in-memory rate cache is empty.
type ExchangeRateSnapshot struct {
	ID            string          `json:"id" db:"id"`
	BaseCurrency  Currency        `json:"base_currency" db:"base_currency"`
	QuoteCurrency Currency        `json:"quote_currency" db:"quote_currency"`
	RawRate       decimal.Decimal `json:"raw_rate" db:"raw_rate"`
	FeeRate       decimal.Decimal `json:"fee_rate" db:"fee_rate"`
	FinalRate     decimal.Decimal `json:"final_rate" db:"final_rate"`
	FetchedAt     time.Time       `json:"fetched_at" db:"fetched_at"`
}
