package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickSizeKRW(t *testing.T) {
	assert.Equal(t, 1000.0, TickSizeKRW(95000000))
	assert.Equal(t, 1000.0, TickSizeKRW(2000000))
	assert.Equal(t, 500.0, TickSizeKRW(1500000))
	assert.Equal(t, 50.0, TickSizeKRW(123456))
	assert.Equal(t, 10.0, TickSizeKRW(50000))
	assert.Equal(t, 1.0, TickSizeKRW(3500))
	assert.Equal(t, 0.1, TickSizeKRW(250))
	assert.Equal(t, 0.01, TickSizeKRW(55))
	assert.Equal(t, 0.001, TickSizeKRW(2.5))
	assert.Equal(t, 0.00000001, TickSizeKRW(0.00005))
}

func TestNormalizePriceKRW(t *testing.T) {
	// Floors onto the tick, never rounds up.
	assert.Equal(t, 95123000.0, NormalizePriceKRW(95123999))
	assert.Equal(t, 1500500.0, NormalizePriceKRW(1500999))
	assert.Equal(t, 123450.0, NormalizePriceKRW(123499))
	assert.Equal(t, 3567.0, NormalizePriceKRW(3567.89))
	assert.InDelta(t, 251.3, NormalizePriceKRW(251.37), 1e-9)
}

func TestNormalizePriceKRWOnTick(t *testing.T) {
	assert.Equal(t, 50000.0, NormalizePriceKRW(50000))
	assert.Equal(t, 2000000.0, NormalizePriceKRW(2000000))
}
