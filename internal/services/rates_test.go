package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/models"
	"github.com/hashpay/backend/internal/store"
)

func newTestRateService(t *testing.T, priceURL string) (*RateService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRateService(db, store.NewExchangeRateStore(), priceURL, zap.NewNop()), mock
}

func TestRateService_FetchAndCache(t *testing.T) {
	t.Run("caches and persists a valid price", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"bitcoin":{"usd":20000}}`))
		}))
		defer srv.Close()

		service, mock := newTestRateService(t, srv.URL)
		mock.ExpectExec("INSERT INTO exchange_rates").
			WithArgs(sqlmock.AnyArg(), "BTC", "USD", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.FetchAndCache(context.Background())
		assert.NoError(t, err)

		raw, final, _, err := service.CurrentRate(context.Background())
		assert.NoError(t, err)
		assert.True(t, raw.Equal(decimal.RequireFromString("20000")))
		// 20000 * (1 - 0.023)
		assert.True(t, final.Equal(decimal.RequireFromString("19540")), "got %s", final)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects a non-positive price and keeps the old cache", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"bitcoin":{"usd":0}}`))
		}))
		defer srv.Close()

		service, mock := newTestRateService(t, srv.URL)
		err := service.FetchAndCache(context.Background())
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("surfaces provider errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		service, _ := newTestRateService(t, srv.URL)
		err := service.FetchAndCache(context.Background())
		assert.Error(t, err)
	})
}

func TestRateService_CurrentRate_FallsBackToSnapshot(t *testing.T) {
	service, mock := newTestRateService(t, "http://unused.invalid")

	fetchedAt := time.Now().Add(-time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM exchange_rates WHERE base_currency = \\$1 AND quote_currency = \\$2 ORDER BY fetched_at DESC LIMIT 1").
		WithArgs("BTC", "USD").
		WillReturnRows(sqlmock.NewRows([]string{"id", "base_currency", "quote_currency", "raw_rate", "fee_rate", "final_rate", "fetched_at"}).
			AddRow("r-1", "BTC", "USD", "25000", "0.023", "24425", fetchedAt))

	raw, final, at, err := service.CurrentRate(context.Background())
	assert.NoError(t, err)
	assert.True(t, raw.Equal(decimal.RequireFromString("25000")))
	assert.True(t, final.Equal(decimal.RequireFromString("24425")))
	assert.WithinDuration(t, fetchedAt, at, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Second call is served from the cache, no further store access.
	_, _, _, err = service.CurrentRate(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateService_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{"usd":20000}}`))
	}))
	defer srv.Close()

	service, mock := newTestRateService(t, srv.URL)
	mock.ExpectExec("INSERT INTO exchange_rates").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, service.FetchAndCache(context.Background()))

	t.Run("btc to usd", func(t *testing.T) {
		quote, err := service.GetQuote(context.Background(), models.CurrencyBTC, decimal.RequireFromString("0.5"))
		assert.NoError(t, err)
		assert.Equal(t, models.CurrencyUSD, quote.To)
		// 0.5 * 20000 = 10000 gross, fee 2.3% = 230 USD.
		assert.True(t, quote.FeeUSD.Equal(decimal.RequireFromString("230")), "got %s", quote.FeeUSD)
		assert.True(t, quote.ConvertedAmount.Equal(decimal.RequireFromString("9770")), "got %s", quote.ConvertedAmount)
	})

	t.Run("usd to btc", func(t *testing.T) {
		quote, err := service.GetQuote(context.Background(), models.CurrencyUSD, decimal.RequireFromString("1000"))
		assert.NoError(t, err)
		assert.Equal(t, models.CurrencyBTC, quote.To)
		// fee 23 USD, (1000 - 23) / 20000 = 0.04885.
		assert.True(t, quote.FeeUSD.Equal(decimal.RequireFromString("23")), "got %s", quote.FeeUSD)
		assert.True(t, quote.ConvertedAmount.Equal(decimal.RequireFromString("0.04885")), "got %s", quote.ConvertedAmount)
	})

	t.Run("rejects amounts that do not cover the fee", func(t *testing.T) {
		// 1 USD is below the 1.45 fee floor, leaving a negative net.
		_, err := service.GetQuote(context.Background(), models.CurrencyUSD, decimal.RequireFromString("1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := service.GetQuote(context.Background(), models.CurrencyBTC, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestRateService_GetQuote_RoundTripLosesBothFees(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin":{"usd":20000}}`))
	}))
	defer srv.Close()

	service, mock := newTestRateService(t, srv.URL)
	mock.ExpectExec("INSERT INTO exchange_rates").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, service.FetchAndCache(context.Background()))

	start := decimal.RequireFromString("1000")

	toBTC, err := service.GetQuote(context.Background(), models.CurrencyUSD, start)
	require.NoError(t, err)

	backToUSD, err := service.GetQuote(context.Background(), models.CurrencyBTC, toBTC.ConvertedAmount)
	require.NoError(t, err)

	// Each leg charges at least the 1.45 USD minimum, so a round trip
	// never returns more than the start minus two minimum fees.
	ceiling := start.Sub(minimumFeeUSD.Mul(decimal.NewFromInt(2)))
	assert.True(t, backToUSD.ConvertedAmount.LessThanOrEqual(ceiling),
		"round trip returned %s, ceiling %s", backToUSD.ConvertedAmount, ceiling)
	// 1000 -> 0.04885 BTC -> 977 gross, fee 22.48, net 954.52.
	assert.True(t, backToUSD.ConvertedAmount.Equal(decimal.RequireFromString("954.52")),
		"got %s", backToUSD.ConvertedAmount)
}
