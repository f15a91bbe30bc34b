// Package worker drives deposit and withdrawal reconciliation against the
// chain node. It runs as its own process, independent of the API server.
package worker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/bitcoin"
	"github.com/hashpay/backend/internal/services"
)

// ChainSource lists recent wallet transactions from the node.
type ChainSource interface {
	ListTransactions(ctx context.Context, count, skip int, includeWatchOnly bool) ([]bitcoin.ListEntry, error)
}

// LedgerService is the slice of the wallet service the watcher drives. The
// watcher never creates withdrawals; it only records deposits and pushes
// confirmation counts into transactions the service created.
type LedgerService interface {
	RecordBitcoinDeposit(ctx context.Context, userID int64, txHash string, amount decimal.Decimal, confirmations int64) error
	ConfirmWithdrawal(txHash string, confirmations int64) error
	UserIDByDepositAddress(address string) (int64, error)
}

// FiatQuoter supplies the best-effort display quote attached to each pass.
type FiatQuoter interface {
	GetLatestQuote(ctx context.Context) (*services.FiatQuote, error)
}

var userLabelPattern = regexp.MustCompile(`^user-(\d+)$`)

type Watcher struct {
	chain     ChainSource
	ledger    LedgerService
	fiat      FiatQuoter
	batchSize int
	logger    *zap.Logger
}

func NewWatcher(chain ChainSource, ledger LedgerService, fiat FiatQuoter, batchSize int, logger *zap.Logger) *Watcher {
	if batchSize <= 0 {
		batchSize = 250
	}
	return &Watcher{
		chain:     chain,
		ledger:    ledger,
		fiat:      fiat,
		batchSize: batchSize,
		logger:    logger,
	}
}

type depositKey struct {
	userID int64
	txID   string
}

type depositAgg struct {
	amount        decimal.Decimal
	confirmations int64
}

// PollOnce runs one reconciliation pass. Inbound outputs are grouped per
// (user, txid) so a transaction paying one user through several outputs
// credits once, with the net amount. A failing entry is logged and skipped;
// it never aborts the rest of the pass.
func (w *Watcher) PollOnce(ctx context.Context) error {
	fiatRate := "unavailable"
	if w.fiat != nil {
		if quote, err := w.fiat.GetLatestQuote(ctx); err != nil {
			w.logger.Warn("fiat quote unavailable for this pass", zap.Error(err))
		} else {
			fiatRate = quote.Rate.String()
		}
	}

	entries, err := w.chain.ListTransactions(ctx, w.batchSize, 0, true)
	if err != nil {
		return fmt.Errorf("listing chain transactions: %w", err)
	}

	deposits := make(map[depositKey]*depositAgg)
	depositOrder := make([]depositKey, 0)
	confirmedSends := make(map[string]bool)

	for _, entry := range entries {
		switch entry.Category {
		case "receive":
			userID := w.resolveUser(entry)
			if userID == 0 {
				continue
			}
			key := depositKey{userID: userID, txID: entry.TxID}
			agg, ok := deposits[key]
			if !ok {
				agg = &depositAgg{}
				deposits[key] = agg
				depositOrder = append(depositOrder, key)
			}
			agg.amount = agg.amount.Add(entry.Amount.Abs())
			if entry.Confirmations > agg.confirmations {
				agg.confirmations = entry.Confirmations
			}
		case "send":
			if confirmedSends[entry.TxID] {
				continue
			}
			confirmedSends[entry.TxID] = true
			if err := w.ledger.ConfirmWithdrawal(entry.TxID, entry.Confirmations); err != nil {
				if errors.Is(err, services.ErrNotFound) {
					// Not one of ours; the service is the only withdrawal creator.
					continue
				}
				w.logger.Error("failed to update withdrawal",
					zap.String("txid", entry.TxID), zap.Error(err))
			}
		}
	}

	for _, key := range depositOrder {
		agg := deposits[key]
		if err := w.ledger.RecordBitcoinDeposit(ctx, key.userID, key.txID, agg.amount, agg.confirmations); err != nil {
			w.logger.Error("failed to record deposit",
				zap.Int64("user_id", key.userID),
				zap.String("txid", key.txID),
				zap.Error(err))
		}
	}

	w.logger.Info("reconciliation pass complete",
		zap.Int("entries", len(entries)),
		zap.Int("deposits", len(deposits)),
		zap.Int("sends", len(confirmedSends)),
		zap.String("fiat_rate", fiatRate))
	return nil
}

// resolveUser maps an inbound entry to a user id, first via the address
// label the service stamped at address generation, then via the persisted
// deposit address. Returns 0 when the output is not ours.
func (w *Watcher) resolveUser(entry bitcoin.ListEntry) int64 {
	if match := userLabelPattern.FindStringSubmatch(entry.Label); match != nil {
		if userID, err := strconv.ParseInt(match[1], 10, 64); err == nil && userID > 0 {
			return userID
		}
	}
	if entry.Address == "" {
		return 0
	}
	userID, err := w.ledger.UserIDByDepositAddress(entry.Address)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			w.logger.Error("deposit address lookup failed",
				zap.String("address", entry.Address), zap.Error(err))
		}
		return 0
	}
	return userID
}
