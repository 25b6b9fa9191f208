package reporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sevensplit-bot-go/internal/models"
)

func TestWriteReportSummary(t *testing.T) {
	result := &models.SimulationResult{
		Ticker:         "KRW-BTC",
		RealizedProfit: 500,
		FinalBalance:   100500,
		FinalPrice:     103,
		CandleCount:    42,
		StartTime:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	WriteReport(&buf, result, 100000)
	out := buf.String()

	assert.Contains(t, out, "KRW-BTC")
	assert.Contains(t, out, "100500 KRW")
	assert.Contains(t, out, "0.50%")
}

func TestWriteReportTradeTable(t *testing.T) {
	result := &models.SimulationResult{
		Ticker: "KRW-BTC",
		Trades: []*models.Trade{
			{
				BuyPrice: 100, SellPrice: 102, NetProfit: 185, ProfitRate: 1.85,
				BoughtAt: time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC),
				SoldAt:   time.Date(2025, 3, 2, 14, 0, 0, 0, time.UTC),
			},
		},
	}

	var buf bytes.Buffer
	WriteReport(&buf, result, 100000)
	out := buf.String()

	assert.Contains(t, out, "102.00")
	assert.Contains(t, out, "1.85%")
}

func TestWriteReportCapsTradeRows(t *testing.T) {
	result := &models.SimulationResult{Ticker: "KRW-BTC"}
	for i := 0; i < maxTradeRows+20; i++ {
		result.Trades = append(result.Trades, &models.Trade{NetProfit: float64(i)})
	}

	var buf bytes.Buffer
	WriteReport(&buf, result, 100000)
	assert.Contains(t, buf.String(), "20 earlier trades omitted")
}
