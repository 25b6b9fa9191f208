package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOrderRef(t *testing.T) {
	s := Split{Status: SplitPendingBuy, BuyOrderID: "b", SellOrderID: "s"}
	assert.Equal(t, "b", s.OrderRef())

	s.Status = SplitPendingSell
	assert.Equal(t, "s", s.OrderRef())

	s.Status = SplitBuyFilled
	assert.Empty(t, s.OrderRef())
}

func TestOrderAvgFillPrice(t *testing.T) {
	o := Order{
		Price: 100,
		Trades: []OrderTrade{
			{Price: 100, Volume: 1, Funds: 100},
			{Price: 102, Volume: 1, Funds: 102},
		},
	}
	assert.InDelta(t, 101, o.AvgFillPrice(), 1e-9)

	// Funds missing on a fill: fall back to price * volume.
	o.Trades[1].Funds = 0
	assert.InDelta(t, 101, o.AvgFillPrice(), 1e-9)

	// No fills at all: the order price stands in.
	o.Trades = nil
	assert.Equal(t, 100.0, o.AvgFillPrice())
}

func TestOrderUnmarshalsStringNumbers(t *testing.T) {
	payload := `{
		"uuid": "abc",
		"market": "KRW-BTC",
		"side": "bid",
		"ord_type": "limit",
		"state": "wait",
		"price": "95000000.0",
		"volume": "0.001",
		"executed_volume": "0",
		"paid_fee": "0"
	}`
	var o Order
	require.NoError(t, json.Unmarshal([]byte(payload), &o))
	assert.Equal(t, "KRW-BTC", o.Ticker)
	assert.Equal(t, 95000000.0, o.Price)
	assert.Equal(t, 0.001, o.Volume)
	assert.Equal(t, OrderStateWait, o.State)
}

func TestAccountUnmarshal(t *testing.T) {
	payload := `{"currency":"BTC","balance":"0.5","locked":"0.1","avg_buy_price":"90000000"}`
	var a Account
	require.NoError(t, json.Unmarshal([]byte(payload), &a))
	assert.Equal(t, 0.5, a.Balance)
	assert.Equal(t, 0.1, a.Locked)
	assert.Equal(t, 90000000.0, a.AvgBuyPrice)
}
