package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"

	"sevensplit-bot-go/internal/models"
)

type streamPrice struct {
	price float64
	at    time.Time
}

// UpbitExchange implements Client against the Upbit REST and websocket APIs.
type UpbitExchange struct {
	accessKey  string
	secretKey  string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	pingInterval  time.Duration
	priceMaxAge   time.Duration
	retryAttempts int
	retryDelay    time.Duration

	mu       sync.Mutex
	stream   map[string]streamPrice
	stopChan chan struct{}
	wsConn   *websocket.Conn
}

// NewUpbitExchange creates a live exchange client. Keys may be empty for
// public-data-only use (candles, tickers).
func NewUpbitExchange(accessKey, secretKey string, cfg *models.Config, logger *zap.SugaredLogger) *UpbitExchange {
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := time.Duration(cfg.RetryInitialDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	return &UpbitExchange{
		accessKey:     accessKey,
		secretKey:     secretKey,
		baseURL:       cfg.APIURL,
		wsURL:         cfg.WSURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
		pingInterval:  time.Duration(cfg.WebSocketPingSec) * time.Second,
		priceMaxAge:   time.Duration(cfg.WebSocketPriceMaxAge * float64(time.Second)),
		retryAttempts: attempts,
		retryDelay:    delay,
		stream:        make(map[string]streamPrice),
	}
}

// authToken builds the JWT bearer token Upbit expects: HS256 over
// access_key + nonce, plus a SHA512 hash of the query string when present.
func (e *UpbitExchange) authToken(query url.Values) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	payload := map[string]string{
		"access_key": e.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(query) > 0 {
		hash := sha512.Sum512([]byte(query.Encode()))
		payload["query_hash"] = hex.EncodeToString(hash[:])
		payload["query_hash_alg"] = "SHA512"
	}
	payloadJSON, _ := json.Marshal(payload)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)

	signingInput := header + "." + payloadB64
	mac := hmac.New(sha256.New, []byte(e.secretKey))
	mac.Write([]byte(signingInput))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return signingInput + "." + signature
}

// doRequest sends one REST request, retrying transport failures, 429s and
// 5xx responses with doubling backoff, and maps exchange error payloads
// onto the typed failure sentinels.
func (e *UpbitExchange) doRequest(method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	delay := e.retryDelay
	for attempt := 1; ; attempt++ {
		body, transient, err := e.doOnce(method, endpoint, params, signed)
		if err == nil || !transient || attempt >= e.retryAttempts {
			return body, err
		}
		e.logger.Warnw("transient request failure, retrying",
			"method", method, "endpoint", endpoint, "attempt", attempt, "error", err)
		time.Sleep(delay)
		delay *= 2
	}
}

func (e *UpbitExchange) doOnce(method, endpoint string, params url.Values, signed bool) (data []byte, transient bool, err error) {
	fullURL := e.baseURL + endpoint

	var req *http.Request
	encoded := params.Encode()

	switch method {
	case http.MethodGet, http.MethodDelete:
		if encoded != "" {
			fullURL = fullURL + "?" + encoded
		}
		req, err = http.NewRequest(method, fullURL, nil)
	default:
		req, err = http.NewRequest(method, fullURL, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	if signed {
		req.Header.Set("Authorization", "Bearer "+e.authToken(params))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return body, true, fmt.Errorf("%w: %s %s", ErrRateLimited, method, endpoint)
	}

	if resp.StatusCode >= 400 {
		transient = resp.StatusCode >= 500
		var wrapper struct {
			Error models.APIError `json:"error"`
		}
		if json.Unmarshal(body, &wrapper) == nil && wrapper.Error.Name != "" {
			return body, transient, mapAPIError(&wrapper.Error)
		}
		return body, transient, fmt.Errorf("API request failed, status %d: %s", resp.StatusCode, string(body))
	}

	return body, false, nil
}

func mapAPIError(apiErr *models.APIError) error {
	switch {
	case strings.HasPrefix(apiErr.Name, "insufficient_funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, apiErr.Message)
	case apiErr.Name == "order_not_found":
		return fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Message)
	case apiErr.Name == "too_many_requests":
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	return apiErr
}

// clientOrderID builds a unique order identifier for idempotent submission.
func clientOrderID() string {
	u := uuid.New()
	return "ss" + base62.EncodeToString(u[:])
}

// --- Client implementation ---

func (e *UpbitExchange) CurrentPrice(ticker string) (float64, error) {
	prices, err := e.CurrentPrices([]string{ticker})
	if err != nil {
		return 0, err
	}
	p, ok := prices[ticker]
	if !ok {
		return 0, fmt.Errorf("no price returned for %s", ticker)
	}
	return p, nil
}

func (e *UpbitExchange) CurrentPrices(tickers []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tickers))

	// Serve from the websocket stream when every requested price is fresh.
	e.mu.Lock()
	now := time.Now()
	fresh := true
	for _, t := range tickers {
		sp, ok := e.stream[t]
		if !ok || now.Sub(sp.at) > e.priceMaxAge {
			fresh = false
			break
		}
		out[t] = sp.price
	}
	e.mu.Unlock()
	if fresh && len(out) == len(tickers) {
		return out, nil
	}

	params := url.Values{}
	params.Set("markets", strings.Join(tickers, ","))
	data, err := e.doRequest(http.MethodGet, "/v1/ticker", params, false)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Market     string  `json:"market"`
		TradePrice float64 `json:"trade_price"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	out = make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Market] = r.TradePrice
	}
	return out, nil
}

func (e *UpbitExchange) Accounts() ([]models.Account, error) {
	data, err := e.doRequest(http.MethodGet, "/v1/accounts", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (e *UpbitExchange) Candles(ticker, interval string, count int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("count", fmt.Sprintf("%d", count))
	data, err := e.doRequest(http.MethodGet, "/v1/candles/"+interval, params, false)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Market       string  `json:"market"`
		Timestamp    int64   `json:"timestamp"`
		OpeningPrice float64 `json:"opening_price"`
		HighPrice    float64 `json:"high_price"`
		LowPrice     float64 `json:"low_price"`
		TradePrice   float64 `json:"trade_price"`
		Volume       float64 `json:"candle_acc_trade_volume"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	// The API returns newest first; callers get oldest first.
	candles := make([]models.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		candles = append(candles, models.Candle{
			Ticker:    r.Market,
			Timestamp: time.UnixMilli(r.Timestamp),
			Open:      r.OpeningPrice,
			High:      r.HighPrice,
			Low:       r.LowPrice,
			Close:     r.TradePrice,
			Volume:    r.Volume,
		})
	}
	return candles, nil
}

func (e *UpbitExchange) OpenOrders(ticker string) ([]models.Order, error) {
	params := url.Values{}
	if ticker != "" {
		params.Set("market", ticker)
	}
	params.Set("state", models.OrderStateWait)
	data, err := e.doRequest(http.MethodGet, "/v1/orders/open", params, true)
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (e *UpbitExchange) placeOrder(params url.Values) (*models.Order, error) {
	params.Set("identifier", clientOrderID())
	data, err := e.doRequest(http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		e.logger.Errorw("order placement failed", "error", err, "params", params.Encode())
		return nil, err
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (e *UpbitExchange) PlaceLimitBuy(ticker string, price, volume float64) (*models.Order, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("side", "bid")
	params.Set("ord_type", "limit")
	params.Set("price", formatPrice(e.NormalizePrice(price)))
	params.Set("volume", fmt.Sprintf("%.8f", volume))
	return e.placeOrder(params)
}

func (e *UpbitExchange) PlaceLimitSell(ticker string, price, volume float64) (*models.Order, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("side", "ask")
	params.Set("ord_type", "limit")
	params.Set("price", formatPrice(e.NormalizePrice(price)))
	params.Set("volume", fmt.Sprintf("%.8f", volume))
	return e.placeOrder(params)
}

func (e *UpbitExchange) PlaceMarketBuy(ticker string, amount float64) (*models.Order, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("side", "bid")
	params.Set("ord_type", "price")
	params.Set("price", formatPrice(amount))
	return e.placeOrder(params)
}

func (e *UpbitExchange) PlaceMarketSell(ticker string, volume float64) (*models.Order, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("side", "ask")
	params.Set("ord_type", "market")
	params.Set("volume", fmt.Sprintf("%.8f", volume))
	return e.placeOrder(params)
}

func (e *UpbitExchange) OrderStatus(orderUUID string) (*models.Order, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)
	data, err := e.doRequest(http.MethodGet, "/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (e *UpbitExchange) Cancel(orderUUID string) error {
	params := url.Values{}
	params.Set("uuid", orderUUID)
	_, err := e.doRequest(http.MethodDelete, "/v1/order", params, true)
	return err
}

func (e *UpbitExchange) NormalizePrice(price float64) float64 { return NormalizePriceKRW(price) }
func (e *UpbitExchange) TickSize(price float64) float64      { return TickSizeKRW(price) }
func (e *UpbitExchange) Now() time.Time                      { return time.Now() }

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// --- websocket ticker stream ---

// StartTickerStream keeps a websocket subscription for the given markets and
// feeds the in-memory price cache. REST remains the fallback for anything
// not covered or stale.
func (e *UpbitExchange) StartTickerStream(codes []string) error {
	e.mu.Lock()
	if e.stopChan != nil {
		e.mu.Unlock()
		return fmt.Errorf("ticker stream already running")
	}
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.mu.Unlock()

	go e.streamLoop(codes, stop)
	return nil
}

func (e *UpbitExchange) streamLoop(codes []string, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := e.runStream(codes, stop); err != nil {
			e.logger.Warnw("ticker stream disconnected, reconnecting", "error", err)
		}

		select {
		case <-stop:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

func (e *UpbitExchange) runStream(codes []string, stop chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	e.mu.Lock()
	e.wsConn = conn
	e.mu.Unlock()

	sub := []interface{}{
		map[string]string{"ticket": uuid.NewString()},
		map[string]interface{}{"type": "ticker", "codes": codes},
		map[string]string{"format": "DEFAULT"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(e.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				_ = conn.WriteMessage(websocket.PingMessage, nil)
				e.mu.Unlock()
			case <-stop:
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick struct {
			Type       string  `json:"type"`
			Code       string  `json:"code"`
			TradePrice float64 `json:"trade_price"`
		}
		if err := json.Unmarshal(msg, &tick); err != nil || tick.Type != "ticker" {
			continue
		}
		e.mu.Lock()
		e.stream[tick.Code] = streamPrice{price: tick.TradePrice, at: time.Now()}
		e.mu.Unlock()
	}
}

// Close stops the ticker stream, if running.
func (e *UpbitExchange) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopChan != nil {
		close(e.stopChan)
		e.stopChan = nil
	}
	if e.wsConn != nil {
		e.wsConn.Close()
		e.wsConn = nil
	}
}
