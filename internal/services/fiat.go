package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FiatQuote is a display-only BTC/fiat rate. It is never used to execute a
// conversion; the RateService cache owns that path.
type FiatQuote struct {
	Currency  string          `json:"currency"`
	Rate      decimal.Decimal `json:"rate"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

func (q *FiatQuote) fresh(ttl time.Duration) bool {
	return q != nil && time.Since(q.FetchedAt) < ttl
}

// FiatRateService caches a quote from a secondary rate provider with a TTL.
// Concurrent cache misses share one in-flight fetch. Quotes are mirrored to
// redis on a best-effort basis so sibling processes can warm their caches
// without hitting the provider.
type FiatRateService struct {
	client   *http.Client
	cacheDB  *redis.Client
	apiURL   string
	currency string
	ttl      time.Duration
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache *FiatQuote
}

func NewFiatRateService(cacheDB *redis.Client, apiURL, currency string, ttl time.Duration, logger *zap.Logger) *FiatRateService {
	return &FiatRateService{
		client:   &http.Client{Timeout: 10 * time.Second},
		cacheDB:  cacheDB,
		apiURL:   apiURL,
		currency: currency,
		ttl:      ttl,
		logger:   logger,
	}
}

func (s *FiatRateService) redisKey() string {
	return "fiat:rate:" + s.currency
}

// GetLatestQuote returns the cached quote when fresh, otherwise fetches one.
// Only a single fetch runs at a time regardless of caller count.
func (s *FiatRateService) GetLatestQuote(ctx context.Context) (*FiatQuote, error) {
	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached.fresh(s.ttl) {
		return cached, nil
	}

	v, err, _ := s.group.Do("fiat-quote", func() (interface{}, error) {
		if q := s.fromRedis(ctx); q.fresh(s.ttl) {
			s.mu.Lock()
			s.cache = q
			s.mu.Unlock()
			return q, nil
		}

		q, err := s.fetchQuote(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache = q
		s.mu.Unlock()
		s.mirrorToRedis(ctx, q)
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FiatQuote), nil
}

// ClearCache drops the in-memory quote; the next caller fetches a fresh one.
func (s *FiatRateService) ClearCache() {
	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
}

func (s *FiatRateService) fetchQuote(ctx context.Context) (*FiatQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching fiat rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fiat rate provider returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Rates map[string]string `json:"rates"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding fiat rate payload: %w", err)
	}

	raw, ok := payload.Data.Rates[s.currency]
	if !ok {
		return nil, fmt.Errorf("fiat rate for %s not present in provider response", s.currency)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("fiat rate for %s is invalid: %q", s.currency, raw)
	}

	return &FiatQuote{
		Currency:  s.currency,
		Rate:      rate,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (s *FiatRateService) fromRedis(ctx context.Context) *FiatQuote {
	if s.cacheDB == nil {
		return nil
	}
	raw, err := s.cacheDB.Get(ctx, s.redisKey()).Result()
	if err != nil {
		return nil
	}
	var q FiatQuote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return nil
	}
	return &q
}

func (s *FiatRateService) mirrorToRedis(ctx context.Context, q *FiatQuote) {
	if s.cacheDB == nil {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := s.cacheDB.Set(ctx, s.redisKey(), string(raw), s.ttl).Err(); err != nil {
		s.logger.Warn("fiat quote redis mirror failed", zap.Error(err))
	}
}
