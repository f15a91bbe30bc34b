package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/models"
	"github.com/hashpay/backend/internal/store"
)

// conversionFeePercent is baked into the advertised final rate so clients
// see the effective price before quoting.
var conversionFeePercent = decimal.RequireFromString("0.023")

// RateQuote is the result of pricing a conversion at the current cached
// rate. ConvertedAmount is net of the conversion fee and rounded to the
// destination currency's scale.
type RateQuote struct {
	From            models.Currency `json:"from"`
	To              models.Currency `json:"to"`
	RequestedAmount decimal.Decimal `json:"requestedAmount"`
	ConvertedAmount decimal.Decimal `json:"convertedAmount"`
	FeeAmount       decimal.Decimal `json:"feeAmount"`
	FeeUSD          decimal.Decimal `json:"feeUsd"`
	RawRate         decimal.Decimal `json:"rawRate"`
	FinalRate       decimal.Decimal `json:"finalRate"`
	FetchedAt       time.Time       `json:"fetchedAt"`
}

type cachedRate struct {
	raw       decimal.Decimal
	final     decimal.Decimal
	fetchedAt time.Time
}

// RateService caches the BTC/USD market rate. A periodic refresh keeps the
// cache warm; every successful fetch is persisted so a restart can serve
// quotes from the most recent snapshot before the first refresh lands.
type RateService struct {
	db       *sql.DB
	rates    *store.ExchangeRateStore
	client   *http.Client
	priceURL string
	logger   *zap.Logger

	mu    sync.RWMutex
	cache *cachedRate
}

func NewRateService(db *sql.DB, rates *store.ExchangeRateStore, priceURL string, logger *zap.Logger) *RateService {
	return &RateService{
		db:       db,
		rates:    rates,
		client:   &http.Client{Timeout: 10 * time.Second},
		priceURL: priceURL,
		logger:   logger,
	}
}

// FetchAndCache pulls a fresh BTC/USD price, persists the snapshot and
// replaces the in-memory cache. Invalid provider payloads leave the previous
// cache untouched.
func (s *RateService) FetchAndCache(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.priceURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("price source unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price source returned status %d", resp.StatusCode)
	}

	var payload struct {
		Bitcoin struct {
			USD json.Number `json:"usd"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding price payload: %w", err)
	}

	raw, err := decimal.NewFromString(payload.Bitcoin.USD.String())
	if err != nil || raw.Sign() <= 0 {
		return fmt.Errorf("price source returned invalid BTC/USD price %q", payload.Bitcoin.USD)
	}

	final := raw.Mul(decimal.NewFromInt(1).Sub(conversionFeePercent))
	fetchedAt := time.Now().UTC()

	snap := &models.ExchangeRateSnapshot{
		BaseCurrency:  models.CurrencyBTC,
		QuoteCurrency: models.CurrencyUSD,
		RawRate:       raw.Round(8),
		FeeRate:       conversionFeePercent,
		FinalRate:     final.Round(8),
		FetchedAt:     fetchedAt,
	}
	if err := s.rates.Insert(s.db, snap); err != nil {
		return fmt.Errorf("persisting rate snapshot: %w", err)
	}

	s.mu.Lock()
	s.cache = &cachedRate{raw: raw, final: final, fetchedAt: fetchedAt}
	s.mu.Unlock()

	s.logger.Info("exchange rate refreshed",
		zap.String("raw", raw.String()),
		zap.String("final", final.String()))
	return nil
}

// Refresh is FetchAndCache with the error logged instead of returned, for
// use as a periodic job.
func (s *RateService) Refresh(ctx context.Context) {
	if err := s.FetchAndCache(ctx); err != nil {
		s.logger.Error("exchange rate refresh failed", zap.Error(err))
	}
}

func (s *RateService) cached() *cachedRate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// CurrentRate returns the cached raw and final BTC/USD rates, falling back
// to the latest persisted snapshot and finally to a live fetch.
func (s *RateService) CurrentRate(ctx context.Context) (raw, final decimal.Decimal, fetchedAt time.Time, err error) {
	if c := s.cached(); c != nil {
		return c.raw, c.final, c.fetchedAt, nil
	}

	snap, dbErr := s.rates.Latest(s.db, models.CurrencyBTC, models.CurrencyUSD)
	if dbErr == nil {
		c := &cachedRate{raw: snap.RawRate, final: snap.FinalRate, fetchedAt: snap.FetchedAt}
		s.mu.Lock()
		s.cache = c
		s.mu.Unlock()
		return c.raw, c.final, c.fetchedAt, nil
	}
	if !errors.Is(dbErr, sql.ErrNoRows) {
		return decimal.Zero, decimal.Zero, time.Time{}, dbErr
	}

	if fetchErr := s.FetchAndCache(ctx); fetchErr != nil {
		return decimal.Zero, decimal.Zero, time.Time{}, ErrRateUnavailable
	}
	c := s.cached()
	return c.raw, c.final, c.fetchedAt, nil
}

// GetQuote prices a conversion of amount from the given currency into the
// opposite one at the current raw rate, net of the conversion fee.
func (s *RateService) GetQuote(ctx context.Context, from models.Currency, amount decimal.Decimal) (*RateQuote, error) {
	if !from.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidAmount, from)
	}
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	raw, final, fetchedAt, err := s.CurrentRate(ctx)
	if err != nil {
		return nil, err
	}

	fee, err := CalculateFee(amount, from, raw, FeeConversion)
	if err != nil {
		return nil, err
	}

	quote := &RateQuote{
		From:            from,
		To:              from.Opposite(),
		RequestedAmount: amount,
		FeeAmount:       fee.Amount,
		FeeUSD:          fee.AmountUSD,
		RawRate:         raw,
		FinalRate:       final,
		FetchedAt:       fetchedAt,
	}

	if from == models.CurrencyBTC {
		quote.ConvertedAmount = amount.Mul(raw).Sub(fee.AmountUSD).Round(2)
	} else {
		quote.ConvertedAmount = amount.Sub(fee.AmountUSD).Div(raw).Round(8)
	}
	if quote.ConvertedAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount does not cover the conversion fee", ErrInvalidAmount)
	}
	return quote, nil
}
