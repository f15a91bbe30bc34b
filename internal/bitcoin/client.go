// Package bitcoin is a minimal JSON-RPC 2.0 client for the wallet node. It
// covers only the calls the backend uses; amounts cross the wire as
// json.Number so no value ever passes through a float64.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// RPCError is a non-null error object in a node response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("bitcoin rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	ID     string          `json:"id"`
}

// ListEntry is one row from listtransactions.
type ListEntry struct {
	Address       string          `json:"address"`
	Category      string          `json:"category"`
	Label         string          `json:"label"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	TxID          string          `json:"txid"`
	BlockTime     int64           `json:"blocktime"`
}

// TransactionDetail is one output detail inside a gettransaction response.
type TransactionDetail struct {
	Address  string          `json:"address"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Label    string          `json:"label"`
}

// TransactionResult is the gettransaction response.
type TransactionResult struct {
	Amount        decimal.Decimal     `json:"amount"`
	Confirmations int64               `json:"confirmations"`
	BlockTime     int64               `json:"blocktime"`
	TxID          string              `json:"txid"`
	Details       []TransactionDetail `json:"details"`
}

type Client struct {
	httpClient *http.Client
	endpoint   string
	username   string
	password   string
}

func NewClient(host string, port int, username, password string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   fmt.Sprintf("http://%s:%d", host, port),
		username:   username,
		password:   password,
	}
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      strconv.FormatInt(time.Now().UnixNano(), 10),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

// GetNewAddress requests a fresh receive address tagged with label. The
// label is how the reconciliation worker maps inbound outputs back to users.
func (c *Client) GetNewAddress(ctx context.Context, label string) (string, error) {
	var address string
	if err := c.call(ctx, "getnewaddress", []interface{}{label}, &address); err != nil {
		return "", err
	}
	return address, nil
}

// SendToAddress broadcasts a send and returns the transaction id.
func (c *Client) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	var txID string
	if err := c.call(ctx, "sendtoaddress", []interface{}{address, json.Number(amount.StringFixed(8))}, &txID); err != nil {
		return "", err
	}
	return txID, nil
}

// ListTransactions returns the node's most recent wallet transactions.
func (c *Client) ListTransactions(ctx context.Context, count, skip int, includeWatchOnly bool) ([]ListEntry, error) {
	var entries []ListEntry
	if err := c.call(ctx, "listtransactions", []interface{}{"*", count, skip, includeWatchOnly}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetTransaction fetches full detail for one wallet transaction.
func (c *Client) GetTransaction(ctx context.Context, txID string) (*TransactionResult, error) {
	var result TransactionResult
	if err := c.call(ctx, "gettransaction", []interface{}{txID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance returns the node wallet's spendable balance.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.call(ctx, "getbalance", nil, &balance); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
