package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevensplit-bot-go/internal/models"
)

func TestExpandDailyCandlesBullish(t *testing.T) {
	day := models.Candle{
		Ticker:    "KRW-BTC",
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Open:      100, High: 110, Low: 90, Close: 105,
		Volume: 240,
	}

	points := ExpandDailyCandles([]models.Candle{day})
	require.Len(t, points, 24)

	// open → low → high → close: the extremes are visited in order and the
	// last point lands exactly on the close.
	lowIdx, highIdx := -1, -1
	for i, p := range points {
		if p.Close == 90 {
			lowIdx = i
		}
		if p.Close == 110 {
			highIdx = i
		}
	}
	require.NotEqual(t, -1, lowIdx)
	require.NotEqual(t, -1, highIdx)
	assert.Less(t, lowIdx, highIdx)
	assert.Equal(t, 105.0, points[23].Close)

	for i, p := range points {
		assert.Equal(t, day.Timestamp.Add(time.Duration(i)*time.Hour), p.Timestamp)
		assert.Equal(t, p.Close, p.Open)
		assert.Equal(t, p.Close, p.High)
		assert.Equal(t, p.Close, p.Low)
		assert.InDelta(t, 10.0, p.Volume, 1e-9)
	}
}

func TestExpandDailyCandlesBearish(t *testing.T) {
	day := models.Candle{
		Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Open:      100, High: 110, Low: 90, Close: 95,
	}

	points := ExpandDailyCandles([]models.Candle{day})
	require.Len(t, points, 24)

	// Bearish day walks the high before the low.
	lowIdx, highIdx := -1, -1
	for i, p := range points {
		if p.Close == 90 {
			lowIdx = i
		}
		if p.Close == 110 {
			highIdx = i
		}
	}
	require.NotEqual(t, -1, lowIdx)
	require.NotEqual(t, -1, highIdx)
	assert.Less(t, highIdx, lowIdx)
	assert.Equal(t, 95.0, points[23].Close)
}

func TestExpandDailyCandlesMultipleDays(t *testing.T) {
	days := []models.Candle{
		{Timestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), Open: 100, High: 101, Low: 99, Close: 100},
		{Timestamp: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC), Open: 100, High: 102, Low: 98, Close: 101},
	}
	points := ExpandDailyCandles(days)
	assert.Len(t, points, 48)
	assert.Equal(t, days[1].Timestamp, points[24].Timestamp)
}
