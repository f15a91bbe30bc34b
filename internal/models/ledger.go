package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable double-entry posting. For every transaction
// the credit entries and debit entries must sum to the same value per
// currency; corrections are posted as new entries, never edits.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	WalletID      string          `json:"wallet_id" db:"wallet_id"`
	Direction     Direction       `json:"direction" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      Currency        `json:"currency" db:"currency"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
