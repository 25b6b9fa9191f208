package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sevensplit-bot-go/internal/models"
)

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()

	state := sampleState(1)
	require.NoError(t, store.SaveStrategy(state))

	// Mutating the caller's copy must not leak into the store.
	state.Splits[0].Status = models.SplitPendingSell

	loaded, err := store.LoadStrategy(1)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.SplitBuyFilled, loaded.Splits[0].Status)
}

func TestMemoryStoreAbsentStrategy(t *testing.T) {
	store := NewMemoryStore()
	loaded, err := store.LoadStrategy(7)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestMemoryStoreEventCap(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < maxEventsPerStrategy+10; i++ {
		require.NoError(t, store.AppendEvent(1, &models.Event{Type: "SKIP"}))
	}
	events, err := store.LoadEvents(1, 0)
	require.NoError(t, err)
	assert.Len(t, events, maxEventsPerStrategy)
}

func TestMemoryStoreDeleteStrategy(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveStrategy(sampleState(1)))
	require.NoError(t, store.AppendTrade(1, &models.Trade{SplitID: 1}))

	require.NoError(t, store.DeleteStrategy(1))

	loaded, err := store.LoadStrategy(1)
	require.NoError(t, err)
	assert.Nil(t, loaded)
	trades, err := store.LoadTrades(1)
	require.NoError(t, err)
	assert.Empty(t, trades)
}
