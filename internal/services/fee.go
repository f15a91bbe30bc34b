package services

import (
	"github.com/shopspring/decimal"

	"github.com/hashpay/backend/internal/models"
)

// FeeType selects the percentage band an operation is charged under.
type FeeType string

const (
	FeeTransfer   FeeType = "transfer"
	FeeDeposit    FeeType = "deposit"
	FeeConversion FeeType = "conversion"
)

var (
	// 2% on sends, 2.3% on anything crossing the exchange boundary.
	standardFeeRate = decimal.RequireFromString("0.02")
	exchangeFeeRate = decimal.RequireFromString("0.023")

	// Floor applied to every fee, in USD.
	minimumFeeUSD = decimal.RequireFromString("1.45")
)

// Fee is a computed charge: Amount in the operation's currency and the USD
// value it was derived from. Fees always round up, to 2 places in USD and 8
// in BTC, so rounding never undercharges.
type Fee struct {
	Amount    decimal.Decimal
	AmountUSD decimal.Decimal
}

func feeRateFor(t FeeType) decimal.Decimal {
	switch t {
	case FeeDeposit, FeeConversion:
		return exchangeFeeRate
	default:
		return standardFeeRate
	}
}

// CalculateFee charges the fee-type percentage over the USD value of amount,
// floored at the USD minimum. BTC amounts are valued at usdPerBTC; the fee
// is converted back to BTC at the same rate.
func CalculateFee(amount decimal.Decimal, currency models.Currency, usdPerBTC decimal.Decimal, feeType FeeType) (Fee, error) {
	if amount.Sign() <= 0 {
		return Fee{}, ErrInvalidAmount
	}
	// A positive rate is required for every currency, not just BTC.
	if usdPerBTC.Sign() <= 0 {
		return Fee{}, ErrRateUnavailable
	}

	usdValue := amount
	if currency == models.CurrencyBTC {
		usdValue = amount.Mul(usdPerBTC)
	}

	feeUSD := usdValue.Mul(feeRateFor(feeType))
	if feeUSD.LessThan(minimumFeeUSD) {
		feeUSD = minimumFeeUSD
	}
	feeUSD = feeUSD.RoundUp(2)

	if currency == models.CurrencyBTC {
		return Fee{Amount: feeUSD.Div(usdPerBTC).RoundUp(8), AmountUSD: feeUSD}, nil
	}
	return Fee{Amount: feeUSD, AmountUSD: feeUSD}, nil
}
