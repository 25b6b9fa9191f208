package downloader

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// pageSize is the exchange's maximum candle count per request.
const pageSize = 200

// CandleDownloader fetches historical daily candles from the public
// candle endpoint and caches them as CSV for backtests.
type CandleDownloader struct {
	baseURL    string
	httpClient *http.Client
}

// NewCandleDownloader creates a downloader. No API keys are needed for
// public candle data.
func NewCandleDownloader(baseURL string) *CandleDownloader {
	return &CandleDownloader{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type candleRow struct {
	Timestamp    int64   `json:"timestamp"`
	KSTTime      string  `json:"candle_date_time_kst"`
	OpeningPrice float64 `json:"opening_price"`
	HighPrice    float64 `json:"high_price"`
	LowPrice     float64 `json:"low_price"`
	TradePrice   float64 `json:"trade_price"`
	Volume       float64 `json:"candle_acc_trade_volume"`
}

// DownloadDailyCandles fetches daily candles for ticker between startTime
// and endTime into a CSV file. An existing file is used as cache.
func (d *CandleDownloader) DownloadDailyCandles(ticker, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		fmt.Printf("loading cached data: %s\n", filePath)
		return nil
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", dir, err)
	}

	var rows []candleRow
	to := endTime
	for {
		page, err := d.fetchPage(ticker, to)
		if err != nil {
			return fmt.Errorf("candle download failed: %w", err)
		}
		if len(page) == 0 {
			break
		}

		oldest := time.UnixMilli(page[len(page)-1].Timestamp)
		for _, r := range page {
			t := time.UnixMilli(r.Timestamp)
			if !t.Before(startTime) && !t.After(endTime) {
				rows = append(rows, r)
			}
		}
		if oldest.Before(startTime) {
			break
		}
		to = oldest
		fmt.Printf("downloaded back to %s\n", oldest.Format("2006-01-02"))
		time.Sleep(200 * time.Millisecond) // stay under the request rate cap
	}
	if len(rows) == 0 {
		return fmt.Errorf("no candles returned for %s", ticker)
	}

	// The API pages newest first; the CSV is written oldest first.
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp < rows[j].Timestamp })

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("cannot create file %s: %w", filePath, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "open", "high", "low", "close", "volume"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			fmt.Sprintf("%d", r.Timestamp),
			fmt.Sprintf("%g", r.OpeningPrice),
			fmt.Sprintf("%g", r.HighPrice),
			fmt.Sprintf("%g", r.LowPrice),
			fmt.Sprintf("%g", r.TradePrice),
			fmt.Sprintf("%g", r.Volume),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
	}

	fmt.Printf("downloaded %d candles to %s\n", len(rows), filePath)
	return nil
}

func (d *CandleDownloader) fetchPage(ticker string, to time.Time) ([]candleRow, error) {
	params := url.Values{}
	params.Set("market", ticker)
	params.Set("count", fmt.Sprintf("%d", pageSize))
	params.Set("to", to.UTC().Format("2006-01-02T15:04:05Z"))

	resp, err := d.httpClient.Get(d.baseURL + "/v1/candles/days?" + params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle request failed, status %d", resp.StatusCode)
	}

	var rows []candleRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
