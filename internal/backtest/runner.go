package backtest

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/persistence"
	"sevensplit-bot-go/internal/strategy"
)

// Simulation reconciler windows. The insufficient-funds cooldown is short
// here on purpose; replayed time moves in candle-sized jumps.
const (
	simOrderTimeout = 30 * time.Minute
	simBuyCooldown  = 5 * time.Second
)

const (
	intradayInterval = "minutes/5"
	dailyInterval    = "days"
	intradayDepth    = 30
	dailyDepth       = 200
)

// Runner replays a candle series through a strategy instance wired to the
// deterministic sim exchange. The decision path is the exact live code;
// only the exchange is a double.
type Runner struct {
	// ExpandDaily interpolates daily input candles to hourly points
	// before replaying.
	ExpandDaily bool
	Log         *zap.SugaredLogger
}

// Run replays candles[startIndex:] against a fresh strategy built from
// cfg. Candles before startIndex seed the daily history for signal
// warm-up. Identical inputs produce an identical result.
func (r *Runner) Run(ticker string, budget float64, cfg models.StrategyConfig, candles []models.Candle, startIndex int) (*models.SimulationResult, error) {
	if startIndex < 0 || startIndex >= len(candles) {
		return nil, fmt.Errorf("start index %d out of range (%d candles)", startIndex, len(candles))
	}

	log := r.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	sim := exchange.NewSimExchange(budget, cfg.FeeRate)
	store := persistence.NewMemoryStore()
	rec := strategy.NewReconciler(simOrderTimeout, simBuyCooldown, 0)

	state := &models.StrategyState{
		ID:      1,
		Name:    "backtest",
		Ticker:  ticker,
		Budget:  budget,
		Config:  cfg,
		Running: true,
	}
	inst := strategy.NewInstance(state, sim, store, rec, log)

	warmup := candles[:startIndex]
	sim.SeedCandles(dailyInterval, warmup)

	replay := candles[startIndex:]
	stepsPerDay := 1
	if r.ExpandDaily {
		replay = ExpandDailyCandles(replay)
		stepsPerDay = hoursPerDay
	}
	if len(replay) == 0 {
		return nil, fmt.Errorf("no candles to replay")
	}

	for i, c := range replay {
		price := r.tickPrice(inst, c, i == 0)
		sim.SetCandle(c, price)
		sim.AppendCandle(intradayInterval, c)
		// The underlying day rides along as the still-forming last daily
		// bar; the next day's first step supersedes it, confirming the old
		// one. Signal code drops the forming bar, so daily series end with
		// yesterday's confirmed close in live and replay alike.
		sim.UpsertCandle(dailyInterval, candles[startIndex+i/stepsPerDay])

		// tick → buy fill → sell placement → sell fill → finalize, all
		// within one step so a single candle can complete a round trip.
		if err := inst.Tick(r.marketData(sim, ticker, price, c.Timestamp)); err != nil {
			return nil, fmt.Errorf("tick at %s: %w", c.Timestamp, err)
		}
		sim.FillOrders()
		if err := inst.ReconcilePass(r.marketData(sim, ticker, price, c.Timestamp)); err != nil {
			return nil, err
		}
		sim.FillOrders()
		if err := inst.ReconcilePass(r.marketData(sim, ticker, price, c.Timestamp)); err != nil {
			return nil, err
		}
	}

	final := replay[len(replay)-1]
	trades, err := store.LoadTrades(1)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	realized := 0.0
	for _, t := range trades {
		realized += t.NetProfit
	}
	snap := inst.Snapshot(final.Close)

	return &models.SimulationResult{
		Ticker:           ticker,
		Trades:           trades,
		RealizedProfit:   realized,
		UnrealizedProfit: snap.UnrealizedProfit,
		FinalBalance:     budget + realized + snap.UnrealizedProfit,
		OpenSplits:       snap.SplitCounts[models.SplitBuyFilled] + snap.SplitCounts[models.SplitPendingBuy] + snap.SplitCounts[models.SplitPendingSell],
		FinalPrice:       final.Close,
		CandleCount:      len(replay),
		StartTime:        replay[0].Timestamp,
		EndTime:          final.Timestamp,
	}, nil
}

// tickPrice picks the price decision logic sees for a bar: the open on
// the very first bar, the grid target when the intra-candle low crossed
// it, otherwise the close.
func (r *Runner) tickPrice(inst *strategy.Instance, c models.Candle, first bool) float64 {
	if first {
		return c.Open
	}
	target := inst.NextBuyTarget(c.Close)
	if target > 0 && c.Low <= target && c.Close > target {
		return target
	}
	return c.Close
}

func (r *Runner) marketData(sim *exchange.SimExchange, ticker string, price float64, now time.Time) *strategy.MarketData {
	accounts, _ := sim.Accounts()
	open, _ := sim.OpenOrders(ticker)
	intraday, _ := sim.Candles(ticker, intradayInterval, intradayDepth)
	daily, _ := sim.Candles(ticker, dailyInterval, dailyDepth)
	return &strategy.MarketData{
		Price:      price,
		Accounts:   accounts,
		OpenOrders: open,
		Candles: map[string][]models.Candle{
			intradayInterval: intraday,
			dailyInterval:    daily,
		},
		Now: now,
	}
}
