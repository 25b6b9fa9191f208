package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevensplit-bot-go/internal/models"
)

func newTestBadgerStore(t *testing.T) Store {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleState(id int64) *models.StrategyState {
	return &models.StrategyState{
		ID:     id,
		Name:   "test",
		Ticker: "KRW-BTC",
		Budget: 1000000,
		Config: models.StrategyConfig{
			InvestmentPerSplit: 100000,
			BuyRate:            0.03,
			SellRate:           0.02,
			Mode:               models.ModePrice,
		},
		Splits: []*models.Split{
			{ID: 1, Status: models.SplitBuyFilled, BuyPrice: 95000, BuyAmount: 100000, BuyVolume: 1.05},
		},
		NextSplitID:  2,
		LastBuyPrice: 95000,
		Running:      true,
		UpdatedAt:    time.Now(),
	}
}

func TestBadgerStrategyRoundTrip(t *testing.T) {
	store := newTestBadgerStore(t)

	require.NoError(t, store.SaveStrategy(sampleState(1)))

	loaded, err := store.LoadStrategy(1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "KRW-BTC", loaded.Ticker)
	assert.Equal(t, int64(2), loaded.NextSplitID)
	require.Len(t, loaded.Splits, 1)
	assert.Equal(t, models.SplitBuyFilled, loaded.Splits[0].Status)
}

func TestBadgerLoadStrategyAbsent(t *testing.T) {
	store := newTestBadgerStore(t)

	loaded, err := store.LoadStrategy(42)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBadgerLoadAllStrategies(t *testing.T) {
	store := newTestBadgerStore(t)

	require.NoError(t, store.SaveStrategy(sampleState(1)))
	require.NoError(t, store.SaveStrategy(sampleState(2)))
	require.NoError(t, store.SaveStrategy(sampleState(3)))

	states, err := store.LoadAllStrategies()
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestBadgerDeleteStrategyRemovesHistory(t *testing.T) {
	store := newTestBadgerStore(t)

	require.NoError(t, store.SaveStrategy(sampleState(1)))
	require.NoError(t, store.AppendTrade(1, &models.Trade{SplitID: 1, NetProfit: 100}))
	require.NoError(t, store.AppendEvent(1, &models.Event{Type: "BUY", Message: "x"}))

	require.NoError(t, store.DeleteStrategy(1))

	loaded, err := store.LoadStrategy(1)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	trades, err := store.LoadTrades(1)
	require.NoError(t, err)
	assert.Empty(t, trades)

	events, err := store.LoadEvents(1, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBadgerTradesAppendInOrder(t *testing.T) {
	store := newTestBadgerStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTrade(1, &models.Trade{SplitID: int64(i), NetProfit: float64(i)}))
	}
	trades, err := store.LoadTrades(1)
	require.NoError(t, err)
	require.Len(t, trades, 5)
	assert.Equal(t, int64(0), trades[0].SplitID)
	assert.Equal(t, int64(4), trades[4].SplitID)

	require.NoError(t, store.DeleteTrades(1))
	trades, err = store.LoadTrades(1)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestBadgerEventLogCapAndOrder(t *testing.T) {
	store := newTestBadgerStore(t)

	for i := 0; i < maxEventsPerStrategy+25; i++ {
		require.NoError(t, store.AppendEvent(1, &models.Event{
			Type:    "SKIP",
			Message: fmt.Sprintf("event %d", i),
		}))
	}

	events, err := store.LoadEvents(1, 0)
	require.NoError(t, err)
	require.Len(t, events, maxEventsPerStrategy)

	// Newest first; the oldest 25 were pruned.
	assert.Equal(t, fmt.Sprintf("event %d", maxEventsPerStrategy+24), events[0].Message)
	assert.Equal(t, "event 25", events[len(events)-1].Message)

	limited, err := store.LoadEvents(1, 10)
	require.NoError(t, err)
	assert.Len(t, limited, 10)
}
