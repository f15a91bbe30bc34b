package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/hashpay/backend/internal/models"
)

type ExchangeRateStore struct{}

func NewExchangeRateStore() *ExchangeRateStore {
	return &ExchangeRateStore{}
}

// Insert persists one rate snapshot. Snapshots are the durable fallback for
// the in-memory rate cache after a restart.
func (s *ExchangeRateStore) Insert(q Querier, snap *models.ExchangeRateSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now().UTC()
	}
	_, err := q.Exec(`
		INSERT INTO exchange_rates (id, base_currency, quote_currency, raw_rate, fee_rate, final_rate, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		snap.ID, snap.BaseCurrency, snap.QuoteCurrency, snap.RawRate, snap.FeeRate, snap.FinalRate, snap.FetchedAt)
	return err
}

// Latest returns the most recent snapshot for the pair.
func (s *ExchangeRateStore) Latest(q Querier, base, quote models.Currency) (*models.ExchangeRateSnapshot, error) {
	var snap models.ExchangeRateSnapshot
	err := q.QueryRow(`
		SELECT id, base_currency, quote_currency, raw_rate, fee_rate, final_rate, fetched_at
		FROM exchange_rates
		WHERE base_currency = $1 AND quote_currency = $2
		ORDER BY fetched_at DESC
		LIMIT 1`,
		base, quote).Scan(&snap.ID, &snap.BaseCurrency, &snap.QuoteCurrency,
		&snap.RawRate, &snap.FeeRate, &snap.FinalRate, &snap.FetchedAt)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
