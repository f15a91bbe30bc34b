package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hashpay/backend/internal/models"
)

type LedgerStore struct{}

func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// CreateEntries inserts the postings of one transaction in a single
// statement. Entries are append-only; there is no update or delete path.
func (s *LedgerStore) CreateEntries(q Querier, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var sb strings.Builder
	sb.WriteString(`INSERT INTO ledger_entries (id, transaction_id, wallet_id, direction, amount, currency, created_at) VALUES `)
	args := make([]interface{}, 0, len(entries)*7)
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, e.ID, e.TransactionID, e.WalletID, e.Direction, e.Amount, e.Currency, e.CreatedAt)
	}

	_, err := q.Exec(sb.String(), args...)
	return err
}

// ListByTransaction returns the postings of one transaction in insert order.
func (s *LedgerStore) ListByTransaction(q Querier, transactionID string) ([]models.LedgerEntry, error) {
	rows, err := q.Query(`
		SELECT id, transaction_id, wallet_id, direction, amount, currency, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY created_at`,
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.WalletID, &e.Direction, &e.Amount, &e.Currency, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
