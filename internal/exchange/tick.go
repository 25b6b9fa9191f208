package exchange

import "math"

// KRW market price tick table. Orders priced off-tick are rejected by the
// exchange, so buy/sell targets are floored onto it first.
var krwTicks = []struct {
	threshold float64
	tick      float64
}{
	{2000000, 1000},
	{1000000, 500},
	{500000, 100},
	{100000, 50},
	{10000, 10},
	{1000, 1},
	{100, 0.1},
	{10, 0.01},
	{1, 0.001},
	{0.1, 0.0001},
	{0.01, 0.00001},
	{0.001, 0.000001},
	{0.0001, 0.0000001},
}

// TickSizeKRW returns the price granularity at the given price level.
func TickSizeKRW(price float64) float64 {
	for _, t := range krwTicks {
		if price >= t.threshold {
			return t.tick
		}
	}
	return 0.00000001
}

// NormalizePriceKRW floors price to the nearest valid tick.
func NormalizePriceKRW(price float64) float64 {
	tick := TickSizeKRW(price)
	return math.Floor(price/tick) * tick
}
