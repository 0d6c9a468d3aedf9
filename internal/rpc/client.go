// Package rpc provides a JSON-RPC over HTTP client for the calls the driver makes.
// Method signatures mirror go-ethereum's ethclient so either can back a signer.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL     string
	Timeout time.Duration
	// MaxRetries only covers HTTP-level throttling (429/502/503/504).
	// Application-level retries belong to the caller's retry policy.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Headers        map[string]string
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     0,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// HTTPClient implements JSON-RPC over HTTP.
// Each worker owns its own HTTPClient; nothing is pooled across workers.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	headers    map[string]string
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
	nextID     atomic.Uint64
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   false,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		headers:    cfg.Headers,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Call makes a JSON-RPC call, backing off on throttling responses.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableHTTPError(err) {
			return nil, err
		}

		backoff = getRetryDelay(err, backoff)
		c.logger.Debug("RPC got retryable HTTP error",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
	}

	return nil, lastErr
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	return rpcResp.Result, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Nonce-class rejection messages reported by common execution clients.
var nonceErrorMessages = []string{
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
	"invalid nonce",
}

// IsNonceError reports whether err is a node rejection caused by a stale nonce.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range nonceErrorMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// ChainID returns the chain id reported by eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_chainId", nil)
}

// PendingNonceAt returns the account nonce including mempool transactions.
func (c *HTTPClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []interface{}{account.Hex(), "pending"})
}

// SuggestGasPrice returns the node's current gas price.
func (c *HTTPClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_gasPrice", nil)
}

// SendTransaction submits a signed transaction via eth_sendRawTransaction.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	return c.SendRawTransaction(ctx, raw)
}

// SendRawTransaction sends a signed, encoded transaction.
func (c *HTTPClient) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	_, err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(txRLP)})
	return err
}

func (c *HTTPClient) callUint64(ctx context.Context, method string, params []interface{}) (uint64, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	v, err := hexutil.DecodeUint64(s)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s result %q: %w", method, s, err)
	}
	return v, nil
}

func (c *HTTPClient) callBig(ctx context.Context, method string, params []interface{}) (*big.Int, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	v, err := hexutil.DecodeBig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result %q: %w", method, s, err)
	}
	return v, nil
}
