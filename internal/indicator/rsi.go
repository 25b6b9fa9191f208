package indicator

// RSI computes the Wilder-smoothed RSI over the final bar of closes.
// Requires at least period+1 closes; ok is false when data is insufficient.
func RSI(closes []float64, period int) (float64, bool) {
	series := RSISeries(closes, period)
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if v < 0 {
		return 0, false
	}
	return v, true
}

// RSISeries returns the RSI value at every index of closes. Indexes with
// fewer than period+1 closes behind them hold -1.
func RSISeries(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) == 0 {
		return nil
	}

	series := make([]float64, len(closes))
	for i := range series {
		series[i] = -1
	}
	if len(closes) < period+1 {
		return series
	}

	// Initial averages over the first `period` changes.
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	series[period] = rsiFrom(avgGain, avgLoss)

	// Wilder smoothing for the rest.
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series[i] = rsiFrom(avgGain, avgLoss)
	}
	return series
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
