package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the confirmed and pending balance for one (user, currency)
// pair. There is exactly one wallet per pair, enforced by the
// wallets_user_currency_unique constraint. Balances are numeric(30,8) in the
// database and only ever mutated inside a row-locked transaction.
type Wallet struct {
	ID             string          `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	Currency       Currency        `json:"currency" db:"currency"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	PendingBalance decimal.Decimal `json:"pending_balance" db:"pending_balance"`
	DepositAddress *string         `json:"deposit_address" db:"deposit_address"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// BalanceSummary is the per-currency view returned to callers, rounded to
// the currency's scale.
type BalanceSummary struct {
	Balance        decimal.Decimal `json:"balance"`
	Pending        decimal.Decimal `json:"pending"`
	DepositAddress *string         `json:"depositAddress"`
}

// Balances is the full balance view for a user.
type Balances struct {
	BTC BalanceSummary `json:"BTC"`
	USD BalanceSummary `json:"USD"`
}
