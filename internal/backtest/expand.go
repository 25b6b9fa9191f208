package backtest

import (
	"time"

	"sevensplit-bot-go/internal/models"
)

const hoursPerDay = 24

// ExpandDailyCandles interpolates each daily bar into 24 hourly points so
// intraday logic can be exercised from daily data. A bullish day walks
// open→low→high→close, a bearish day open→high→low→close.
func ExpandDailyCandles(daily []models.Candle) []models.Candle {
	out := make([]models.Candle, 0, len(daily)*hoursPerDay)
	for _, d := range daily {
		var path []float64
		if d.Close >= d.Open {
			path = []float64{d.Open, d.Low, d.High, d.Close}
		} else {
			path = []float64{d.Open, d.High, d.Low, d.Close}
		}
		prices := interpolatePath(path, hoursPerDay)
		for i, p := range prices {
			out = append(out, models.Candle{
				Ticker:    d.Ticker,
				Timestamp: d.Timestamp.Add(time.Duration(i) * time.Hour),
				Open:      p,
				High:      p,
				Low:       p,
				Close:     p,
				Volume:    d.Volume / hoursPerDay,
			})
		}
	}
	return out
}

// interpolatePath spreads n points linearly across the legs of path.
func interpolatePath(path []float64, n int) []float64 {
	legs := len(path) - 1
	perLeg := n / legs
	out := make([]float64, 0, n)
	for leg := 0; leg < legs; leg++ {
		from, to := path[leg], path[leg+1]
		steps := perLeg
		if leg == legs-1 {
			steps = n - len(out) // absorb the remainder
		}
		for i := 0; i < steps; i++ {
			frac := float64(i+1) / float64(steps)
			out = append(out, from+(to-from)*frac)
		}
	}
	return out
}
