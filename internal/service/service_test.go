package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/persistence"
)

func testConfig() *models.Config {
	return &models.Config{
		OrderTimeoutSec: 1800,
		BuyCooldownSec:  1800,
	}
}

func strategyConfig() models.StrategyConfig {
	return models.StrategyConfig{
		InvestmentPerSplit: 10000,
		BuyRate:            0.03,
		SellRate:           0.02,
		FeeRate:            0.0005,
		Mode:               models.ModePrice,
	}
}

func newTestService(t *testing.T) (*Service, *exchange.SimExchange, persistence.Store) {
	t.Helper()
	sim := exchange.NewSimExchange(1000000, 0.0005)
	store := persistence.NewMemoryStore()
	svc, err := NewService(sim, store, nil, testConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return svc, sim, store
}

func TestServiceCreateAssignsSequentialIDs(t *testing.T) {
	svc, _, _ := newTestService(t)

	first, err := svc.Create("alpha", "KRW-BTC", 100000, strategyConfig())
	require.NoError(t, err)
	second, err := svc.Create("beta", "KRW-ETH", 200000, strategyConfig())
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Len(t, svc.Instances(), 2)
}

func TestServiceCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create("x", "", 100000, strategyConfig())
	assert.Error(t, err)

	_, err = svc.Create("x", "KRW-BTC", 0, strategyConfig())
	assert.Error(t, err)
}

func TestServiceStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	snap, err := svc.Create("alpha", "KRW-BTC", 100000, strategyConfig())
	require.NoError(t, err)
	assert.False(t, snap.Running)

	require.NoError(t, svc.Start(snap.ID))
	state, err := svc.GetState(snap.ID, 100)
	require.NoError(t, err)
	assert.True(t, state.Running)

	require.NoError(t, svc.Stop(snap.ID))
	state, err = svc.GetState(snap.ID, 100)
	require.NoError(t, err)
	assert.False(t, state.Running)
}

func TestServiceUnknownStrategy(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.Error(t, svc.Start(42))
	assert.Error(t, svc.Stop(42))
	assert.Error(t, svc.Reset(42))
	assert.Error(t, svc.SetManualTarget(42, 100))
	_, err := svc.GetState(42, 0)
	assert.Error(t, err)
}

func TestServiceDeleteRemovesStrategy(t *testing.T) {
	svc, _, store := newTestService(t)
	snap, err := svc.Create("alpha", "KRW-BTC", 100000, strategyConfig())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(snap.ID))
	assert.Empty(t, svc.Instances())

	state, err := store.LoadStrategy(snap.ID)
	require.NoError(t, err)
	assert.Nil(t, state)

	assert.Error(t, svc.Start(snap.ID))
}

func TestServiceManualTarget(t *testing.T) {
	svc, _, _ := newTestService(t)
	snap, err := svc.Create("alpha", "KRW-BTC", 100000, strategyConfig())
	require.NoError(t, err)

	require.NoError(t, svc.SetManualTarget(snap.ID, 95))
	state, err := svc.GetState(snap.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 95.0, state.Watch.ManualTargetPrice)

	require.NoError(t, svc.SetManualTarget(snap.ID, 0))
	state, err = svc.GetState(snap.ID, 100)
	require.NoError(t, err)
	assert.Zero(t, state.Watch.ManualTargetPrice)
}

func TestServiceUpdateConfig(t *testing.T) {
	svc, _, _ := newTestService(t)
	snap, err := svc.Create("alpha", "KRW-BTC", 100000, strategyConfig())
	require.NoError(t, err)

	cfg := strategyConfig()
	cfg.Mode = models.ModeRSI
	budget := 250000.0
	require.NoError(t, svc.UpdateConfig(snap.ID, cfg, &budget))

	state, err := svc.GetState(snap.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, models.ModeRSI, state.Config.Mode)
	assert.Equal(t, 250000.0, state.Budget)
}

func TestServiceReloadsPersistedStrategies(t *testing.T) {
	sim := exchange.NewSimExchange(1000000, 0.0005)
	store := persistence.NewMemoryStore()
	require.NoError(t, store.SaveStrategy(&models.StrategyState{
		ID:          7,
		Name:        "survivor",
		Ticker:      "KRW-BTC",
		Budget:      100000,
		Config:      strategyConfig(),
		NextSplitID: 3,
		Running:     true,
		UpdatedAt:   time.Now(),
	}))

	svc, err := NewService(sim, store, nil, testConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)

	instances := svc.Instances()
	require.Len(t, instances, 1)
	assert.Equal(t, int64(7), instances[0].ID)
	assert.True(t, instances[0].Running())

	// The next created strategy does not collide with the survivor.
	snap, err := svc.Create("new", "KRW-ETH", 50000, strategyConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(8), snap.ID)
}

func TestServiceRunSimulation(t *testing.T) {
	svc, _, _ := newTestService(t)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var candles []models.Candle
	for _, p := range []float64{100, 100, 100, 100, 100, 96, 99, 103} {
		candles = append(candles, models.Candle{
			Ticker: "KRW-BTC", Timestamp: at,
			Open: p, High: p, Low: p, Close: p, Volume: 1,
		})
		at = at.AddDate(0, 0, 1)
	}

	result, err := svc.RunSimulation("KRW-BTC", 100000, strategyConfig(), candles, 4, false)
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", result.Ticker)
	assert.Equal(t, 4, result.CandleCount)
}
