package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hashpay/backend/internal/models"
)

const walletColumns = `id, user_id, currency, balance, pending_balance, deposit_address, created_at, updated_at`

type WalletStore struct{}

func NewWalletStore() *WalletStore {
	return &WalletStore{}
}

func (s *WalletStore) scan(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance, &w.PendingBalance,
		&w.DepositAddress, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *WalletStore) FindByUserAndCurrency(q Querier, userID int64, currency models.Currency) (*models.Wallet, error) {
	return s.scan(q.QueryRow(`
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND currency = $2`,
		userID, currency))
}

// FindByUserAndCurrencyForUpdate locks the wallet row for the remainder of
// the surrounding transaction. Callers locking more than one wallet must do
// so in ascending user id order, BTC before USD for the same user.
func (s *WalletStore) FindByUserAndCurrencyForUpdate(q Querier, userID int64, currency models.Currency) (*models.Wallet, error) {
	return s.scan(q.QueryRow(`
		SELECT `+walletColumns+`
		FROM wallets
		WHERE user_id = $1 AND currency = $2
		FOR UPDATE`,
		userID, currency))
}

func (s *WalletStore) FindByDepositAddress(q Querier, address string) (*models.Wallet, error) {
	return s.scan(q.QueryRow(`
		SELECT `+walletColumns+`
		FROM wallets
		WHERE deposit_address = $1`,
		address))
}

// Create inserts a zero-balance wallet, or returns the existing one when the
// (user, currency) pair already has a row.
func (s *WalletStore) Create(q Querier, userID int64, currency models.Currency) (*models.Wallet, error) {
	now := time.Now().UTC()
	return s.scan(q.QueryRow(`
		INSERT INTO wallets (id, user_id, currency, balance, pending_balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (user_id, currency) DO UPDATE SET updated_at = wallets.updated_at
		RETURNING `+walletColumns,
		uuid.New().String(), userID, currency, now))
}

func (s *WalletStore) UpdateDepositAddress(q Querier, walletID, address string) error {
	_, err := q.Exec(`
		UPDATE wallets
		SET deposit_address = $2, updated_at = $3
		WHERE id = $1`,
		walletID, address, time.Now().UTC())
	return err
}

// AdjustBalances applies signed deltas to the available and pending balances
// and returns the updated row. It must only be called on a wallet locked
// earlier in the same transaction.
func (s *WalletStore) AdjustBalances(q Querier, walletID string, availableDelta, pendingDelta decimal.Decimal) (*models.Wallet, error) {
	return s.scan(q.QueryRow(`
		UPDATE wallets
		SET balance = balance + $2, pending_balance = pending_balance + $3, updated_at = $4
		WHERE id = $1
		RETURNING `+walletColumns,
		walletID, availableDelta, pendingDelta, time.Now().UTC()))
}
