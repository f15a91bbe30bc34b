package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hashpay/backend/internal/bitcoin"
	"github.com/hashpay/backend/internal/middleware"
	"github.com/hashpay/backend/internal/models"
	"github.com/hashpay/backend/internal/services"
)

// WalletAPI is the service surface the wallet endpoints translate to.
type WalletAPI interface {
	GetBalances(userID int64) (*models.Balances, error)
	GenerateDepositAddress(ctx context.Context, userID int64) (string, error)
	SendBitcoin(ctx context.Context, userID int64, toAddress string, amount decimal.Decimal) (*services.WithdrawalResult, error)
	SendUsd(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*services.TransferResult, error)
	Convert(ctx context.Context, userID int64, from models.Currency, amount decimal.Decimal) (*services.ConversionResult, error)
	RecordBitcoinDeposit(ctx context.Context, userID int64, txHash string, amount decimal.Decimal, confirmations int64) error
	ListTransactions(userID int64, limit, offset int) ([]models.Transaction, error)
}

// Quoter prices conversions without executing them.
type Quoter interface {
	GetQuote(ctx context.Context, from models.Currency, amount decimal.Decimal) (*services.RateQuote, error)
}

// FiatQuoter supplies the display-only fiat rate.
type FiatQuoter interface {
	GetLatestQuote(ctx context.Context) (*services.FiatQuote, error)
}

// Only testnet and regtest address forms are accepted for outbound sends.
var testnetAddressPattern = regexp.MustCompile(`^(tb1[ac-hj-np-z02-9]{39,59}|bcrt1[ac-hj-np-z02-9]{39,59}|[mn2][1-9A-HJ-NP-Za-km-z]{25,39})$`)

type WalletHandler struct {
	wallet WalletAPI
	quoter Quoter
	fiat   FiatQuoter
	logger *zap.Logger
}

func NewWalletHandler(wallet WalletAPI, quoter Quoter, fiat FiatQuoter, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{wallet: wallet, quoter: quoter, fiat: fiat, logger: logger}
}

func (h *WalletHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Authentication required", http.StatusUnauthorized, nil)
		return 0, false
	}
	return userID, true
}

func (h *WalletHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeServiceError maps service failures onto response codes: validation
// and balance failures are the caller's to fix, unknown references are 404,
// unreachable externals are 502, everything else is 500.
func (h *WalletHandler) writeServiceError(w http.ResponseWriter, err error) {
	var rpcErr *bitcoin.RPCError
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrSameUser),
		errors.Is(err, services.ErrDepositTooSmall),
		errors.Is(err, services.ErrInvalidAddress),
		errors.Is(err, services.ErrInsufficientBalance):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrRateUnavailable), errors.As(err, &rpcErr):
		services.SendErrorResponse(w, err.Error(), http.StatusBadGateway, nil)
	default:
		h.logger.Error("wallet operation failed", zap.Error(err))
		services.SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}

// GetBalances returns the user's BTC and USD balances.
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	balances, err := h.wallet.GetBalances(userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"btcBalance": balances.BTC,
		"usdBalance": balances.USD,
	})
}

// CreateDepositAddress provisions a fresh BTC receive address.
func (h *WalletHandler) CreateDepositAddress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	address, err := h.wallet.GenerateDepositAddress(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, "Unable to generate BTC address", http.StatusBadGateway, nil)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"address": address})
}

type sendBitcoinRequest struct {
	ToAddress string          `json:"toAddress"`
	AmountBTC decimal.Decimal `json:"amountBtc"`
}

// SendBitcoin broadcasts an outbound BTC send.
func (h *WalletHandler) SendBitcoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req sendBitcoinRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if req.AmountBTC.Sign() <= 0 {
		services.SendErrorResponse(w, "amountBtc must be a positive number", http.StatusBadRequest, nil)
		return
	}
	if !testnetAddressPattern.MatchString(req.ToAddress) {
		services.SendErrorResponse(w, "A valid Bitcoin testnet address is required", http.StatusBadRequest, nil)
		return
	}

	result, err := h.wallet.SendBitcoin(r.Context(), userID, req.ToAddress, req.AmountBTC)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

type sendUsdRequest struct {
	ToUserID  int64           `json:"toUserId"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
}

// SendUsd moves USD to another user.
func (h *WalletHandler) SendUsd(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req sendUsdRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if req.ToUserID <= 0 {
		services.SendErrorResponse(w, "toUserId must be provided", http.StatusBadRequest, nil)
		return
	}
	if req.AmountUSD.Sign() <= 0 {
		services.SendErrorResponse(w, "amountUsd must be a positive number", http.StatusBadRequest, nil)
		return
	}

	result, err := h.wallet.SendUsd(r.Context(), userID, req.ToUserID, req.AmountUSD)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

type conversionRequest struct {
	From   string          `json:"from"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *WalletHandler) decodeConversion(w http.ResponseWriter, r *http.Request) (models.Currency, decimal.Decimal, bool) {
	var req conversionRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return "", decimal.Zero, false
	}

	from, err := models.ParseCurrency(req.From)
	if err != nil {
		services.SendErrorResponse(w, "from must be BTC or USD", http.StatusBadRequest, nil)
		return "", decimal.Zero, false
	}
	if req.Amount.Sign() <= 0 {
		services.SendErrorResponse(w, "amount must be a positive number", http.StatusBadRequest, nil)
		return "", decimal.Zero, false
	}
	return from, req.Amount, true
}

// Quote prices a conversion at the current cached rate.
func (h *WalletHandler) Quote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}

	from, amount, ok := h.decodeConversion(w, r)
	if !ok {
		return
	}

	quote, err := h.quoter.GetQuote(r.Context(), from, amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, quote)
}

// GetFiatRate returns the cached display rate for the configured fiat
// currency. It never blocks a trading path; failures surface as 502.
func (h *WalletHandler) GetFiatRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}

	quote, err := h.fiat.GetLatestQuote(r.Context())
	if err != nil {
		services.SendErrorResponse(w, "Fiat rate unavailable", http.StatusBadGateway, nil)
		return
	}

	h.writeJSON(w, http.StatusOK, quote)
}

// Convert executes a conversion between the user's wallets.
func (h *WalletHandler) Convert(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	from, amount, ok := h.decodeConversion(w, r)
	if !ok {
		return
	}

	result, err := h.wallet.Convert(r.Context(), userID, from, amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

// ListTransactions pages through the user's history.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}

	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := h.wallet.ListTransactions(userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"pagination":   map[string]int{"limit": limit, "offset": offset},
	})
}

type depositWebhookRequest struct {
	UserID        int64           `json:"userId"`
	TxHash        string          `json:"txHash"`
	AmountBTC     decimal.Decimal `json:"amountBtc"`
	Confirmations int64           `json:"confirmations"`
}

// RecordDeposit ingests a deposit notification. The reconciliation worker
// covers the same ground on its poll interval; this endpoint just shortens
// the latency when the node pushes.
func (h *WalletHandler) RecordDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositWebhookRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}
	if req.UserID <= 0 {
		services.SendErrorResponse(w, "userId is required", http.StatusBadRequest, nil)
		return
	}
	if req.TxHash == "" {
		services.SendErrorResponse(w, "txHash is required", http.StatusBadRequest, nil)
		return
	}
	if req.AmountBTC.Sign() <= 0 {
		services.SendErrorResponse(w, "amountBtc must be positive", http.StatusBadRequest, nil)
		return
	}
	if req.Confirmations < 0 {
		services.SendErrorResponse(w, "confirmations must be a non-negative number", http.StatusBadRequest, nil)
		return
	}

	if err := h.wallet.RecordBitcoinDeposit(r.Context(), req.UserID, req.TxHash, req.AmountBTC, req.Confirmations); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
