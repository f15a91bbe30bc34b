package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hashpay/backend/internal/models"
)

const transactionColumns = `id, user_id, type, direction, status, currency, amount, fee_amount, description, tx_hash, metadata, created_at, updated_at`

type TransactionStore struct{}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{}
}

func (s *TransactionStore) scan(row *sql.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Direction, &t.Status, &t.Currency,
		&t.Amount, &t.FeeAmount, &t.Description, &t.TxHash, &t.Metadata,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts the transaction, assigning an id and timestamps when the
// caller has not.
func (s *TransactionStore) Create(q Querier, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := q.Exec(`
		INSERT INTO transactions (id, user_id, type, direction, status, currency, amount, fee_amount, description, tx_hash, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.UserID, t.Type, t.Direction, t.Status, t.Currency,
		t.Amount, t.FeeAmount, t.Description, t.TxHash, t.Metadata,
		t.CreatedAt, t.UpdatedAt)
	return err
}

// FindByUserAndHash looks up a transaction by the chain hash it settled
// under. The (user_id, tx_hash, direction) unique index makes this the
// idempotency check for deposit reconciliation.
func (s *TransactionStore) FindByUserAndHash(q Querier, userID int64, txHash string, direction models.Direction) (*models.Transaction, error) {
	return s.scan(q.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1 AND tx_hash = $2 AND direction = $3`,
		userID, txHash, direction))
}

func (s *TransactionStore) FindByHashAndDirection(q Querier, txHash string, direction models.Direction) (*models.Transaction, error) {
	return s.scan(q.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tx_hash = $1 AND direction = $2
		LIMIT 1`,
		txHash, direction))
}

// AttachHash records the chain hash once the node accepts a broadcast.
func (s *TransactionStore) AttachHash(q Querier, id, txHash string) error {
	_, err := q.Exec(`
		UPDATE transactions
		SET tx_hash = $2, updated_at = $3
		WHERE id = $1`,
		id, txHash, time.Now().UTC())
	return err
}

func (s *TransactionStore) UpdateStatus(q Querier, id string, status models.TransactionStatus) error {
	_, err := q.Exec(`
		UPDATE transactions
		SET status = $2, updated_at = $3
		WHERE id = $1`,
		id, status, time.Now().UTC())
	return err
}

// MergeMetadata overlays the patch onto the stored jsonb document, keeping
// fields the patch does not mention.
func (s *TransactionStore) MergeMetadata(q Querier, id string, patch models.TxMetadata) error {
	_, err := q.Exec(`
		UPDATE transactions
		SET metadata = metadata || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		id, patch, time.Now().UTC())
	return err
}

// ListByUser returns the user's transactions newest first.
func (s *TransactionStore) ListByUser(q Querier, userID int64, limit, offset int) ([]models.Transaction, error) {
	rows, err := q.Query(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Direction, &t.Status, &t.Currency,
			&t.Amount, &t.FeeAmount, &t.Description, &t.TxHash, &t.Metadata,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
