package downloader

import (
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadDailyCandlesWritesCSV(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/v1/candles/days", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("market"))

		// Newest first, oldest row already before the requested start so a
		// single page suffices.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"timestamp": ` + msStr(end) + `, "opening_price": 102, "high_price": 104, "low_price": 101, "trade_price": 103, "candle_acc_trade_volume": 12},
			{"timestamp": ` + msStr(start.AddDate(0, 0, 1)) + `, "opening_price": 100, "high_price": 103, "low_price": 99, "trade_price": 102, "candle_acc_trade_volume": 10},
			{"timestamp": ` + msStr(start.AddDate(0, 0, -1)) + `, "opening_price": 98, "high_price": 100, "low_price": 97, "trade_price": 100, "candle_acc_trade_volume": 9}
		]`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "data", "KRW-BTC.csv")
	d := NewCandleDownloader(server.URL)
	require.NoError(t, d.DownloadDailyCandles("KRW-BTC", path, start, end))
	assert.Equal(t, 1, requests)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)

	// Header plus the two in-range rows, oldest first.
	require.Len(t, records, 3)
	assert.Equal(t, []string{"timestamp", "open", "high", "low", "close", "volume"}, records[0])
	assert.Equal(t, "100", records[1][1])
	assert.Equal(t, "102", records[2][1])

	// A second call hits the cache, not the server.
	require.NoError(t, d.DownloadDailyCandles("KRW-BTC", path, start, end))
	assert.Equal(t, 1, requests)
}

func TestDownloadDailyCandlesNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	d := NewCandleDownloader(server.URL)
	err := d.DownloadDailyCandles("KRW-BTC", filepath.Join(t.TempDir(), "x.csv"), time.Now().AddDate(0, 0, -3), time.Now())
	assert.Error(t, err)
}

func msStr(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
