package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFiatRateService_GetLatestQuote(t *testing.T) {
	t.Run("fetches and caches within the ttl", func(t *testing.T) {
		var hits int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&hits, 1)
			w.Write([]byte(`{"data":{"currency":"BTC","rates":{"USD":"20000.00"}}}`))
		}))
		defer srv.Close()

		service := NewFiatRateService(nil, srv.URL, "USD", time.Minute, zap.NewNop())

		first, err := service.GetLatestQuote(context.Background())
		assert.NoError(t, err)
		assert.True(t, first.Rate.Equal(decimal.RequireFromString("20000")))

		second, err := service.GetLatestQuote(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, first, second)
		assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		var hits int64
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&hits, 1)
			<-release
			w.Write([]byte(`{"data":{"rates":{"USD":"21000"}}}`))
		}))
		defer srv.Close()

		service := NewFiatRateService(nil, srv.URL, "USD", time.Minute, zap.NewNop())

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				q, err := service.GetLatestQuote(context.Background())
				assert.NoError(t, err)
				assert.True(t, q.Rate.Equal(decimal.RequireFromString("21000")))
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.EqualValues(t, 1, atomic.LoadInt64(&hits))
	})

	t.Run("rejects a missing or invalid rate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"rates":{"EUR":"19000"}}}`))
		}))
		defer srv.Close()

		service := NewFiatRateService(nil, srv.URL, "USD", time.Minute, zap.NewNop())
		_, err := service.GetLatestQuote(context.Background())
		assert.Error(t, err)
	})

	t.Run("mirrors fresh quotes to redis", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"rates":{"USD":"20000"}}}`))
		}))
		defer srv.Close()

		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet("fiat:rate:USD").RedisNil()
		mock.Regexp().ExpectSet("fiat:rate:USD", `.*"rate":"20000".*`, time.Minute).SetVal("OK")

		service := NewFiatRateService(rdb, srv.URL, "USD", time.Minute, zap.NewNop())
		q, err := service.GetLatestQuote(context.Background())
		assert.NoError(t, err)
		assert.True(t, q.Rate.Equal(decimal.RequireFromString("20000")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("warms from redis without calling the provider", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("provider should not be called")
		}))
		defer srv.Close()

		rdb, mock := redismock.NewClientMock()
		mock.ExpectGet("fiat:rate:USD").
			SetVal(`{"currency":"USD","rate":"22000","fetchedAt":"` + time.Now().UTC().Format(time.RFC3339Nano) + `"}`)

		service := NewFiatRateService(rdb, srv.URL, "USD", time.Minute, zap.NewNop())
		q, err := service.GetLatestQuote(context.Background())
		assert.NoError(t, err)
		assert.True(t, q.Rate.Equal(decimal.RequireFromString("22000")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
