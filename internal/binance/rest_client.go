package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bbot/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds
)

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime() (int64, error)
	GetSymbolPrice(symbol string) (float64, error)
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	ValidateSymbol(symbol string) (bool, error)
	GetAccountSummary() (*AccountSummary, error)
	PlaceTestOrder(order TestOrder) error
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().
		SetBaseURL(url).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)

	// Initialize the rate limiter
	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	req := c.client.R().
		SetResult(&ServerTimeResponse{})
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/time", req)
	if err != nil {
		c.logger.Error("Failed to get server time", zap.Error(err))
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}

	result := resp.Result().(*ServerTimeResponse)
	return result.ServerTime, nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetSymbolPrice fetches the latest price for one symbol.
func (c *RestClient) GetSymbolPrice(symbol string) (float64, error) {
	var ticker TickerPrice

	req := c.client.R().
		SetQueryParam("symbol", strings.ToUpper(symbol)).
		SetResult(&ticker)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}

	result := resp.Result().(*TickerPrice)
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", result.Price, symbol, err)
	}

	return price, nil
}

// Kline is one parsed candle from the /klines endpoint.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// GetKlines fetches up to limit candles for a symbol/interval, oldest first.
func (c *RestClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	var raw [][]interface{}

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   strings.ToUpper(symbol),
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	result := resp.Result().(*[][]interface{})
	klines := make([]Kline, 0, len(*result))
	for _, row := range *result {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kline for %s: %w", symbol, err)
		}
		klines = append(klines, k)
	}

	return klines, nil
}

// parseKline converts one raw kline row. Binance encodes timestamps as
// millisecond numbers and OHLCV values as strings.
func parseKline(row []interface{}) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("kline row too short: %d fields", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return Kline{}, fmt.Errorf("unexpected open_time type %T", row[0])
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return Kline{}, fmt.Errorf("unexpected close_time type %T", row[6])
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return Kline{}, fmt.Errorf("unexpected field type %T at index %d", row[i], i)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Kline{}, fmt.Errorf("failed to parse %q at index %d: %w", s, i, err)
		}
		values[i-1] = v
	}

	return Kline{
		OpenTime:  time.UnixMilli(int64(openMs)).UTC(),
		CloseTime: time.UnixMilli(int64(closeMs)).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// ExchangeInfoResponse represents the response from the /exchangeInfo endpoint.
type ExchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo contains information about a specific trading symbol.
type SymbolInfo struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

// ValidateSymbol reports whether a symbol exists on Binance. An unknown
// symbol returns (false, nil); only transport failures return an error.
func (c *RestClient) ValidateSymbol(symbol string) (bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return false, nil
	}

	var info ExchangeInfoResponse
	req := c.client.R().
		SetQueryParam("symbol", symbol).
		SetResult(&info)

	// No retry wrapper here: a 400 means "symbol not found" and must map to
	// false rather than a transport error.
	if err := c.limiter.Wait(context.Background()); err != nil {
		return false, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	resp, err := req.Get("/exchangeInfo")
	if err != nil {
		return false, fmt.Errorf("failed to query exchange info for %s: %w", symbol, err)
	}
	if resp.IsError() {
		if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
			return false, nil
		}
		return false, fmt.Errorf("exchange info request failed with status %s", resp.Status())
	}

	result := resp.Result().(*ExchangeInfoResponse)
	for _, s := range result.Symbols {
		if s.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

// AccountBalance is one non-zero balance from the account endpoint.
type AccountBalance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// AccountSummary is a condensed view of the signed /account response.
type AccountSummary struct {
	CanTrade bool             `json:"canTrade"`
	Balances []AccountBalance `json:"balances"`
}

type rawAccount struct {
	CanTrade bool `json:"canTrade"`
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetAccountSummary returns canTrade plus all balances above zero.
func (c *RestClient) GetAccountSummary() (*AccountSummary, error) {
	if c.apiKey == "" || c.secretKey == "" {
		return nil, fmt.Errorf("binance api credentials are not configured")
	}

	params := url.Values{}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	var account rawAccount
	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&account)
	ctx := context.Background()

	resp, err := c.doRequest(ctx, "GET", "/account", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get account summary: %w", err)
	}

	raw := resp.Result().(*rawAccount)
	summary := &AccountSummary{CanTrade: raw.CanTrade}
	for _, b := range raw.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free > 0 || locked > 0 {
			summary.Balances = append(summary.Balances, AccountBalance{
				Asset:  b.Asset,
				Free:   free,
				Locked: locked,
			})
		}
	}

	return summary, nil
}

// TestOrder describes an order sent to the /order/test endpoint, which
// validates it without executing anything.
type TestOrder struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	QuoteOrderQty float64
	TimeInForce   string
	Price         float64
}

// PlaceTestOrder submits a signed /order/test request. Binance returns an
// empty object on success.
func (c *RestClient) PlaceTestOrder(order TestOrder) error {
	if c.apiKey == "" || c.secretKey == "" {
		return fmt.Errorf("binance api credentials are not configured")
	}

	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", strings.ToUpper(order.Side))
	params.Set("type", strings.ToUpper(order.Type))
	if order.Quantity > 0 {
		params.Set("quantity", strconv.FormatFloat(order.Quantity, 'f', -1, 64))
	}
	if order.QuoteOrderQty > 0 {
		params.Set("quoteOrderQty", strconv.FormatFloat(order.QuoteOrderQty, 'f', -1, 64))
	}
	if order.TimeInForce != "" {
		params.Set("timeInForce", order.TimeInForce)
	}
	if order.Price > 0 {
		params.Set("price", strconv.FormatFloat(order.Price, 'f', -1, 64))
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	req := c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode())
	ctx := context.Background()

	if _, err := c.doRequest(ctx, "POST", "/order/test", req); err != nil {
		c.logger.Error("Test order rejected",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
		)
		return fmt.Errorf("failed to place test order: %w", err)
	}

	return nil
}
