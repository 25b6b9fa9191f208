package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sevensplit-bot-go/internal/models"
)

func newTestUpbit(t *testing.T, serverURL string) *UpbitExchange {
	t.Helper()
	cfg := &models.Config{
		APIURL:               serverURL,
		WSURL:                "ws://unused",
		WebSocketPingSec:     60,
		WebSocketPriceMaxAge: 3,
		RetryAttempts:        1,
		RetryInitialDelayMs:  1,
	}
	return NewUpbitExchange("test-access", "test-secret", cfg, zap.NewNop().Sugar())
}

func TestAuthTokenSignature(t *testing.T) {
	e := newTestUpbit(t, "http://unused")

	query := url.Values{}
	query.Set("market", "KRW-BTC")
	token := e.authToken(query)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(headerJSON))

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	assert.Equal(t, "test-access", payload["access_key"])
	assert.NotEmpty(t, payload["nonce"])
	assert.Equal(t, "SHA512", payload["query_hash_alg"])
	assert.Len(t, payload["query_hash"], 128)

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, parts[2])
}

func TestAuthTokenWithoutQueryOmitsHash(t *testing.T) {
	e := newTestUpbit(t, "http://unused")
	token := e.authToken(url.Values{})

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	_, hasHash := payload["query_hash"]
	assert.False(t, hasHash)
}

func TestMapAPIError(t *testing.T) {
	err := mapAPIError(&models.APIError{Name: "insufficient_funds_bid", Message: "x"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = mapAPIError(&models.APIError{Name: "order_not_found", Message: "x"})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	err = mapAPIError(&models.APIError{Name: "too_many_requests", Message: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)

	other := &models.APIError{Name: "invalid_parameter", Message: "x"}
	assert.Equal(t, other, mapAPIError(other))
}

func TestClientOrderID(t *testing.T) {
	a, b := clientOrderID(), clientOrderID()
	assert.True(t, strings.HasPrefix(a, "ss"))
	assert.NotEqual(t, a, b)
}

func TestDoRequestMapsErrorPayloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"name":"insufficient_funds_bid","message":"not enough KRW"}}`))
	}))
	defer server.Close()

	e := newTestUpbit(t, server.URL)
	_, err := e.PlaceMarketBuy("KRW-BTC", 10000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestDoRequestRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := newTestUpbit(t, server.URL)
	_, err := e.CurrentPrice("KRW-BTC")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestDoRequestRetriesServerErrors(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"market":"KRW-BTC","trade_price":100}]`))
	}))
	defer server.Close()

	cfg := &models.Config{
		APIURL:               server.URL,
		WSURL:                "ws://unused",
		WebSocketPingSec:     60,
		WebSocketPriceMaxAge: 3,
		RetryAttempts:        3,
		RetryInitialDelayMs:  1,
	}
	e := NewUpbitExchange("test-access", "test-secret", cfg, zap.NewNop().Sugar())

	price, err := e.CurrentPrice("KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 3, requests)
}

func TestDoRequestDoesNotRetryClientErrors(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"name":"invalid_parameter","message":"bad market"}}`))
	}))
	defer server.Close()

	cfg := &models.Config{
		APIURL:               server.URL,
		WSURL:                "ws://unused",
		WebSocketPingSec:     60,
		WebSocketPriceMaxAge: 3,
		RetryAttempts:        3,
		RetryInitialDelayMs:  1,
	}
	e := NewUpbitExchange("test-access", "test-secret", cfg, zap.NewNop().Sugar())

	_, err := e.CurrentPrice("KRW-BTC")
	require.Error(t, err)
	assert.Equal(t, 1, requests)
}

func TestCandlesReversedToOldestFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/days", r.URL.Path)
		// Newest first, as the exchange serves them.
		w.Write([]byte(`[
			{"market":"KRW-BTC","timestamp":3000,"opening_price":102,"trade_price":103},
			{"market":"KRW-BTC","timestamp":2000,"opening_price":101,"trade_price":102},
			{"market":"KRW-BTC","timestamp":1000,"opening_price":100,"trade_price":101}
		]`))
	}))
	defer server.Close()

	e := newTestUpbit(t, server.URL)
	candles, err := e.Candles("KRW-BTC", "days", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, 101.0, candles[0].Close)
	assert.Equal(t, 103.0, candles[2].Close)
	assert.True(t, candles[0].Timestamp.Before(candles[2].Timestamp))
}

func TestCurrentPricesParsesTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KRW-BTC,KRW-ETH", r.URL.Query().Get("markets"))
		w.Write([]byte(`[
			{"market":"KRW-BTC","trade_price":95000000},
			{"market":"KRW-ETH","trade_price":5200000}
		]`))
	}))
	defer server.Close()

	e := newTestUpbit(t, server.URL)
	prices, err := e.CurrentPrices([]string{"KRW-BTC", "KRW-ETH"})
	require.NoError(t, err)
	assert.Equal(t, 95000000.0, prices["KRW-BTC"])
	assert.Equal(t, 5200000.0, prices["KRW-ETH"])
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "95000000", formatPrice(95000000))
	assert.Equal(t, "0.0001", formatPrice(0.0001))
	assert.Equal(t, "102.5", formatPrice(102.5))
}
