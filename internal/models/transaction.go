package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeDeposit        TransactionType = "deposit"
	TypeWithdrawal     TransactionType = "withdrawal"
	TypeTransfer       TransactionType = "transfer"
	TypeConversion     TransactionType = "conversion"
	TypeFee            TransactionType = "fee"
	TypeRateAdjustment TransactionType = "rate_adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusFailed    TransactionStatus = "failed"
)

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Transaction is the record of one economic event. (user_id, tx_hash,
// direction) is unique when tx_hash is set; that constraint is what makes
// deposit reconciliation idempotent.
type Transaction struct {
	ID          string            `json:"id" db:"id"`
	UserID      int64             `json:"user_id" db:"user_id"`
	Type        TransactionType   `json:"type" db:"type"`
	Direction   Direction         `json:"direction" db:"direction"`
	Status      TransactionStatus `json:"status" db:"status"`
	Currency    Currency          `json:"currency" db:"currency"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	FeeAmount   decimal.Decimal   `json:"fee_amount" db:"fee_amount"`
	Description string            `json:"description,omitempty" db:"description"`
	TxHash      *string           `json:"tx_hash" db:"tx_hash"`
	Metadata    TxMetadata        `json:"metadata" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// TxMetadata carries the per-type detail of a transaction. One struct with
// optional fields keeps the persisted JSON shape stable while giving each
// transaction type compile-checked fields; the constructors below define
// which fields each type populates.
type TxMetadata struct {
	// withdrawal
	ToAddress string `json:"toAddress,omitempty"`
	// transfer
	ToUserID int64 `json:"toUserId,omitempty"`
	// conversion
	FromCurrency    Currency         `json:"fromCurrency,omitempty"`
	RequestedAmount *decimal.Decimal `json:"requestedAmount,omitempty"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	// deposit
	GrossAmountBTC *decimal.Decimal `json:"grossAmountBtc,omitempty"`
	Confirmations  *int64           `json:"confirmations,omitempty"`
	// shared fee detail
	FeeCurrency Currency         `json:"feeCurrency,omitempty"`
	FeeUSD      *decimal.Decimal `json:"feeUsd,omitempty"`
}

// Value serializes the metadata for a jsonb column.
func (m TxMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan reads the metadata back from a jsonb column.
func (m *TxMetadata) Scan(src interface{}) error {
	if src == nil {
		*m = TxMetadata{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata source %T", src)
	}
}

// WithdrawalMetadata describes an outbound BTC send.
func WithdrawalMetadata(toAddress string, feeUSD decimal.Decimal) TxMetadata {
	return TxMetadata{
		ToAddress:   toAddress,
		FeeCurrency: CurrencyBTC,
		FeeUSD:      &feeUSD,
	}
}

// TransferMetadata describes an internal USD send.
func TransferMetadata(toUserID int64) TxMetadata {
	return TxMetadata{
		ToUserID:    toUserID,
		FeeCurrency: CurrencyUSD,
	}
}

// ConversionMetadata describes a BTC/USD conversion at a quoted rate.
func ConversionMetadata(from Currency, requested, rate decimal.Decimal) TxMetadata {
	return TxMetadata{
		FromCurrency:    from,
		RequestedAmount: &requested,
		Rate:            &rate,
		FeeCurrency:     CurrencyUSD,
	}
}

// DepositMetadata describes an inbound chain deposit.
func DepositMetadata(gross, feeUSD decimal.Decimal, confirmations int64) TxMetadata {
	return TxMetadata{
		GrossAmountBTC: &gross,
		Confirmations:  &confirmations,
		FeeCurrency:    CurrencyBTC,
		FeeUSD:         &feeUSD,
	}
}
