package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/models"
	"github.com/hashpay/backend/internal/store"
)

// ChainClient is the slice of the bitcoin node RPC the wallet service needs.
type ChainClient interface {
	GetNewAddress(ctx context.Context, label string) (string, error)
	SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error)
}

// RateProvider resolves the BTC/USD market rate and prices conversions.
type RateProvider interface {
	CurrentRate(ctx context.Context) (raw, final decimal.Decimal, fetchedAt time.Time, err error)
	GetQuote(ctx context.Context, from models.Currency, amount decimal.Decimal) (*RateQuote, error)
}

// WalletService owns every balance mutation. All money-moving operations run
// inside one database transaction that locks the affected wallet rows before
// reading their balances; nothing outside this service writes balance state.
type WalletService struct {
	db                    *sql.DB
	wallets               *store.WalletStore
	transactions          *store.TransactionStore
	ledger                *store.LedgerStore
	chain                 ChainClient
	rates                 RateProvider
	requiredConfirmations int64
	logger                *zap.Logger
}

func NewWalletService(db *sql.DB, chain ChainClient, rates RateProvider, requiredConfirmations int64, logger *zap.Logger) *WalletService {
	if requiredConfirmations < 1 {
		requiredConfirmations = 1
	}
	return &WalletService{
		db:                    db,
		wallets:               store.NewWalletStore(),
		transactions:          store.NewTransactionStore(),
		ledger:                store.NewLedgerStore(),
		chain:                 chain,
		rates:                 rates,
		requiredConfirmations: requiredConfirmations,
		logger:                logger,
	}
}

// ensureWallet finds the (user, currency) wallet, creating it on first
// access. With forUpdate set the row comes back locked for the surrounding
// transaction.
func (s *WalletService) ensureWallet(q store.Querier, userID int64, currency models.Currency, forUpdate bool) (*models.Wallet, error) {
	var (
		wallet *models.Wallet
		err    error
	)
	if forUpdate {
		wallet, err = s.wallets.FindByUserAndCurrencyForUpdate(q, userID, currency)
	} else {
		wallet, err = s.wallets.FindByUserAndCurrency(q, userID, currency)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return s.wallets.Create(q, userID, currency)
	}
	return wallet, err
}

func balanceSummary(w *models.Wallet) models.BalanceSummary {
	scale := w.Currency.Scale()
	return models.BalanceSummary{
		Balance:        w.Balance.Round(scale),
		Pending:        w.PendingBalance.Round(scale),
		DepositAddress: w.DepositAddress,
	}
}

// GetBalances returns both wallets for the user, creating missing ones.
// Reads are unlocked; callers must not use the result to justify a mutation.
func (s *WalletService) GetBalances(userID int64) (*models.Balances, error) {
	btc, err := s.ensureWallet(s.db, userID, models.CurrencyBTC, false)
	if err != nil {
		return nil, err
	}
	usd, err := s.ensureWallet(s.db, userID, models.CurrencyUSD, false)
	if err != nil {
		return nil, err
	}
	return &models.Balances{BTC: balanceSummary(btc), USD: balanceSummary(usd)}, nil
}

// GenerateDepositAddress asks the node for a fresh receive address labelled
// with the user id and persists it onto the BTC wallet.
func (s *WalletService) GenerateDepositAddress(ctx context.Context, userID int64) (string, error) {
	label := fmt.Sprintf("user-%d", userID)
	address, err := s.chain.GetNewAddress(ctx, label)
	if err != nil {
		return "", fmt.Errorf("requesting deposit address: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	wallet, err := s.ensureWallet(tx, userID, models.CurrencyBTC, true)
	if err != nil {
		return "", err
	}
	if err := s.wallets.UpdateDepositAddress(tx, wallet.ID, address); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	s.logger.Info("deposit address generated", zap.Int64("user_id", userID), zap.String("address", address))
	return address, nil
}

// WithdrawalResult reports a broadcast BTC send.
type WithdrawalResult struct {
	TransactionID string          `json:"transactionId"`
	TxHash        string          `json:"txId"`
	Fee           decimal.Decimal `json:"feeBtc"`
	FeeUSD        decimal.Decimal `json:"feeUsd"`
	TotalDebited  decimal.Decimal `json:"totalDebitBtc"`
}

// SendBitcoin debits amount plus fee from the user's BTC wallet and
// broadcasts the send through the node.
//
// The broadcast happens between the balance check and the commit. If the
// commit fails after the node accepted the send, the debit is lost locally
// until the reconciliation worker observes the outbound transaction; moving
// to a reserve/finalize two-phase flow is an open followup.
func (s *WalletService) SendBitcoin(ctx context.Context, userID int64, toAddress string, amount decimal.Decimal) (*WithdrawalResult, error) {
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	raw, _, _, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := CalculateFee(amount, models.CurrencyBTC, raw, FeeTransfer)
	if err != nil {
		return nil, err
	}
	totalDebit := amount.Add(fee.Amount)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	wallet, err := s.ensureWallet(tx, userID, models.CurrencyBTC, true)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(totalDebit) {
		return nil, ErrInsufficientBalance
	}

	txn := &models.Transaction{
		UserID:      userID,
		Type:        models.TypeWithdrawal,
		Direction:   models.DirectionDebit,
		Status:      models.StatusPending,
		Currency:    models.CurrencyBTC,
		Amount:      amount,
		FeeAmount:   fee.Amount,
		Description: fmt.Sprintf("BTC send to %s", toAddress),
		Metadata:    models.WithdrawalMetadata(toAddress, fee.AmountUSD),
	}
	if err := s.transactions.Create(tx, txn); err != nil {
		return nil, err
	}

	txHash, err := s.chain.SendToAddress(ctx, toAddress, amount)
	if err != nil {
		return nil, fmt.Errorf("broadcasting withdrawal: %w", err)
	}
	if err := s.transactions.AttachHash(tx, txn.ID, txHash); err != nil {
		return nil, err
	}

	if err := s.ledger.CreateEntries(tx, []models.LedgerEntry{{
		TransactionID: txn.ID,
		WalletID:      wallet.ID,
		Direction:     models.DirectionDebit,
		Amount:        totalDebit,
		Currency:      models.CurrencyBTC,
	}}); err != nil {
		return nil, err
	}
	if _, err := s.wallets.AdjustBalances(tx, wallet.ID, totalDebit.Neg(), decimal.Zero); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("bitcoin withdrawal broadcast",
		zap.Int64("user_id", userID),
		zap.String("tx_hash", txHash),
		zap.String("total_debit", totalDebit.String()))

	return &WithdrawalResult{
		TransactionID: txn.ID,
		TxHash:        txHash,
		Fee:           fee.Amount,
		FeeUSD:        fee.AmountUSD,
		TotalDebited:  totalDebit,
	}, nil
}

// TransferResult reports an internal USD send.
type TransferResult struct {
	TransactionID string          `json:"transactionId"`
	Fee           decimal.Decimal `json:"feeUsd"`
	NetAmount     decimal.Decimal `json:"netAmountUsd"`
}

// SendUsd moves amount between two users' USD wallets, charging the sender
// the transfer fee on top. The fee is netted out of the sender rather than
// routed to a revenue wallet.
func (s *WalletService) SendUsd(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*TransferResult, error) {
	if fromUserID == toUserID {
		return nil, ErrSameUser
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	raw, _, _, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}
	fee, err := CalculateFee(amount, models.CurrencyUSD, raw, FeeTransfer)
	if err != nil {
		return nil, err
	}
	totalDebit := amount.Add(fee.Amount)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Lock in ascending user id order so two opposing transfers cannot
	// deadlock.
	firstUser, secondUser := fromUserID, toUserID
	if firstUser > secondUser {
		firstUser, secondUser = secondUser, firstUser
	}
	firstWallet, err := s.ensureWallet(tx, firstUser, models.CurrencyUSD, true)
	if err != nil {
		return nil, err
	}
	secondWallet, err := s.ensureWallet(tx, secondUser, models.CurrencyUSD, true)
	if err != nil {
		return nil, err
	}
	sender, recipient := firstWallet, secondWallet
	if firstUser != fromUserID {
		sender, recipient = secondWallet, firstWallet
	}

	if sender.Balance.LessThan(totalDebit) {
		return nil, ErrInsufficientBalance
	}

	txn := &models.Transaction{
		UserID:      fromUserID,
		Type:        models.TypeTransfer,
		Direction:   models.DirectionDebit,
		Status:      models.StatusPending,
		Currency:    models.CurrencyUSD,
		Amount:      amount,
		FeeAmount:   fee.Amount,
		Description: fmt.Sprintf("USD send to user %d", toUserID),
		Metadata:    models.TransferMetadata(toUserID),
	}
	if err := s.transactions.Create(tx, txn); err != nil {
		return nil, err
	}

	if err := s.ledger.CreateEntries(tx, []models.LedgerEntry{
		{
			TransactionID: txn.ID,
			WalletID:      sender.ID,
			Direction:     models.DirectionDebit,
			Amount:        totalDebit,
			Currency:      models.CurrencyUSD,
		},
		{
			TransactionID: txn.ID,
			WalletID:      recipient.ID,
			Direction:     models.DirectionCredit,
			Amount:        amount,
			Currency:      models.CurrencyUSD,
		},
	}); err != nil {
		return nil, err
	}

	if _, err := s.wallets.AdjustBalances(tx, sender.ID, totalDebit.Neg(), decimal.Zero); err != nil {
		return nil, err
	}
	if _, err := s.wallets.AdjustBalances(tx, recipient.ID, amount, decimal.Zero); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("usd transfer posted",
		zap.Int64("from_user", fromUserID),
		zap.Int64("to_user", toUserID),
		zap.String("amount", amount.String()))

	return &TransferResult{TransactionID: txn.ID, Fee: fee.Amount, NetAmount: amount}, nil
}

// ConversionResult reports an executed BTC/USD conversion.
type ConversionResult struct {
	TransactionID   string          `json:"transactionId"`
	From            models.Currency `json:"from"`
	To              models.Currency `json:"to"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	FeeAmount       decimal.Decimal `json:"feeAmount"`
	FeeUSD          decimal.Decimal `json:"feeUsd"`
	Rate            decimal.Decimal `json:"rate"`
}

// Convert quotes and executes a conversion between the user's own wallets.
// The balance is re-verified under lock at execution time; a quote never
// reserves funds.
func (s *WalletService) Convert(ctx context.Context, userID int64, from models.Currency, amount decimal.Decimal) (*ConversionResult, error) {
	quote, err := s.rates.GetQuote(ctx, from, amount)
	if err != nil {
		return nil, err
	}
	if quote.ConvertedAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount does not cover the conversion fee", ErrInvalidAmount)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Both wallets belong to one user; lock BTC before USD so concurrent
	// opposite-direction conversions cannot deadlock.
	btcWallet, err := s.ensureWallet(tx, userID, models.CurrencyBTC, true)
	if err != nil {
		return nil, err
	}
	usdWallet, err := s.ensureWallet(tx, userID, models.CurrencyUSD, true)
	if err != nil {
		return nil, err
	}
	source, target := btcWallet, usdWallet
	if from == models.CurrencyUSD {
		source, target = usdWallet, btcWallet
	}

	if source.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	txn := &models.Transaction{
		UserID:      userID,
		Type:        models.TypeConversion,
		Direction:   models.DirectionCredit,
		Status:      models.StatusPending,
		Currency:    target.Currency,
		Amount:      quote.ConvertedAmount,
		FeeAmount:   quote.FeeUSD,
		Description: fmt.Sprintf("Convert %s to %s", from, target.Currency),
		Metadata:    models.ConversionMetadata(from, amount, quote.RawRate),
	}
	if err := s.transactions.Create(tx, txn); err != nil {
		return nil, err
	}

	if err := s.ledger.CreateEntries(tx, []models.LedgerEntry{
		{
			TransactionID: txn.ID,
			WalletID:      source.ID,
			Direction:     models.DirectionDebit,
			Amount:        amount,
			Currency:      source.Currency,
		},
		{
			TransactionID: txn.ID,
			WalletID:      target.ID,
			Direction:     models.DirectionCredit,
			Amount:        quote.ConvertedAmount,
			Currency:      target.Currency,
		},
	}); err != nil {
		return nil, err
	}

	if _, err := s.wallets.AdjustBalances(tx, source.ID, amount.Neg(), decimal.Zero); err != nil {
		return nil, err
	}
	if _, err := s.wallets.AdjustBalances(tx, target.ID, quote.ConvertedAmount, decimal.Zero); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("conversion executed",
		zap.Int64("user_id", userID),
		zap.String("from", string(from)),
		zap.String("requested", amount.String()),
		zap.String("converted", quote.ConvertedAmount.String()))

	return &ConversionResult{
		TransactionID:   txn.ID,
		From:            from,
		To:              target.Currency,
		RequestedAmount: amount,
		ConvertedAmount: quote.ConvertedAmount,
		FeeAmount:       quote.FeeAmount,
		FeeUSD:          quote.FeeUSD,
		Rate:            quote.RawRate,
	}, nil
}

// RecordBitcoinDeposit applies one observed inbound chain transaction. It is
// idempotent over repeated observations of the same (user, txHash): a new
// deposit is created pending or confirmed depending on its confirmation
// count; a pending one transitions to confirmed at most once, moving the net
// amount from pendingBalance into balance and posting the credit ledger
// entry at that moment; an already confirmed one only has its confirmation
// metadata refreshed.
func (s *WalletService) RecordBitcoinDeposit(ctx context.Context, userID int64, txHash string, amount decimal.Decimal, confirmations int64) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	raw, _, _, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return err
	}
	fee, err := CalculateFee(amount, models.CurrencyBTC, raw, FeeDeposit)
	if err != nil {
		return err
	}
	netAmount := amount.Sub(fee.Amount)
	if netAmount.Sign() <= 0 {
		return ErrDepositTooSmall
	}
	confirmed := confirmations >= s.requiredConfirmations

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	wallet, err := s.ensureWallet(tx, userID, models.CurrencyBTC, true)
	if err != nil {
		return err
	}

	existing, err := s.transactions.FindByUserAndHash(tx, userID, txHash, models.DirectionCredit)
	if errors.Is(err, sql.ErrNoRows) {
		status := models.StatusPending
		if confirmed {
			status = models.StatusConfirmed
		}
		txn := &models.Transaction{
			UserID:      userID,
			Type:        models.TypeDeposit,
			Direction:   models.DirectionCredit,
			Status:      status,
			Currency:    models.CurrencyBTC,
			Amount:      netAmount,
			FeeAmount:   fee.Amount,
			Description: "Inbound BTC deposit",
			TxHash:      &txHash,
			Metadata:    models.DepositMetadata(amount, fee.AmountUSD, confirmations),
		}
		if err := s.transactions.Create(tx, txn); err != nil {
			return err
		}

		if confirmed {
			if _, err := s.wallets.AdjustBalances(tx, wallet.ID, netAmount, decimal.Zero); err != nil {
				return err
			}
			if err := s.ledger.CreateEntries(tx, []models.LedgerEntry{{
				TransactionID: txn.ID,
				WalletID:      wallet.ID,
				Direction:     models.DirectionCredit,
				Amount:        netAmount,
				Currency:      models.CurrencyBTC,
			}}); err != nil {
				return err
			}
		} else {
			if _, err := s.wallets.AdjustBalances(tx, wallet.ID, decimal.Zero, netAmount); err != nil {
				return err
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.Info("bitcoin deposit recorded",
			zap.Int64("user_id", userID),
			zap.String("tx_hash", txHash),
			zap.String("status", string(status)),
			zap.String("net_amount", netAmount.String()))
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.transactions.MergeMetadata(tx, existing.ID, models.TxMetadata{Confirmations: &confirmations}); err != nil {
		return err
	}

	if existing.Status == models.StatusConfirmed {
		return tx.Commit()
	}

	if confirmed {
		if err := s.transactions.UpdateStatus(tx, existing.ID, models.StatusConfirmed); err != nil {
			return err
		}
		confirmedAmount := existing.Amount
		if _, err := s.wallets.AdjustBalances(tx, wallet.ID, confirmedAmount, confirmedAmount.Neg()); err != nil {
			return err
		}
		if err := s.ledger.CreateEntries(tx, []models.LedgerEntry{{
			TransactionID: existing.ID,
			WalletID:      wallet.ID,
			Direction:     models.DirectionCredit,
			Amount:        confirmedAmount,
			Currency:      models.CurrencyBTC,
		}}); err != nil {
			return err
		}
		s.logger.Info("bitcoin deposit confirmed",
			zap.Int64("user_id", userID),
			zap.String("tx_hash", txHash),
			zap.String("amount", confirmedAmount.String()))
	}

	return tx.Commit()
}

// ConfirmWithdrawal refreshes the confirmation count of a withdrawal the
// service broadcast earlier, flipping it to confirmed once the threshold is
// reached. Unknown hashes are reported as ErrNotFound; the reconciliation
// worker treats that as "not ours". Balances are untouched, the debit was
// posted at send time.
func (s *WalletService) ConfirmWithdrawal(txHash string, confirmations int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := s.transactions.FindByHashAndDirection(tx, txHash, models.DirectionDebit)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := s.transactions.MergeMetadata(tx, existing.ID, models.TxMetadata{Confirmations: &confirmations}); err != nil {
		return err
	}
	if existing.Status == models.StatusPending && confirmations >= s.requiredConfirmations {
		if err := s.transactions.UpdateStatus(tx, existing.ID, models.StatusConfirmed); err != nil {
			return err
		}
		s.logger.Info("withdrawal confirmed", zap.String("tx_hash", txHash))
	}

	return tx.Commit()
}

// UserIDByDepositAddress resolves a chain receive address to the owning
// user. Used by the reconciliation worker when an inbound entry carries no
// usable label.
func (s *WalletService) UserIDByDepositAddress(address string) (int64, error) {
	wallet, err := s.wallets.FindByDepositAddress(s.db, address)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return wallet.UserID, nil
}

// ListTransactions pages through the user's history newest first. The limit
// is clamped to [1, 100]; a non-positive limit selects the default page size.
func (s *WalletService) ListTransactions(userID int64, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.ListByUser(s.db, userID, limit, offset)
}
