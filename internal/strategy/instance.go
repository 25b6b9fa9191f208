package strategy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/persistence"
)

// defaultMinOrderAmount is the exchange's minimum order notional in KRW,
// used when the config leaves min_order_amount unset.
const defaultMinOrderAmount = 5000

// recentTradeCache bounds the in-memory trade history kept per instance.
const recentTradeCache = 100

// Instance owns one instrument's splits, budget, config and watch state.
// Every entry point (Tick, Start, Stop, UpdateConfig, Reset, manual
// setters) serializes on the instance mutex, so the scheduler and the
// control surface never observe a strategy mid-mutation.
type Instance struct {
	mu sync.Mutex

	ID     int64
	Name   string
	Ticker string
	Budget float64

	cfg         models.StrategyConfig
	splits      []*models.Split
	nextSplitID int64

	lastBuyPrice  float64
	lastSellPrice float64
	watch         models.WatchState
	running       bool

	lastBuyDate     string
	lastSellDate    string
	buyBlockedUntil time.Time
	buyTimes        []time.Time

	recentTrades []*models.Trade
	realized     float64

	dirty bool

	logic DecisionLogic
	rec   *Reconciler
	exch  exchange.Client
	store persistence.Store
	log   *zap.SugaredLogger
}

// NewInstance rebuilds a strategy from its persisted state. A failed trade
// history read is logged and ignored; the instance still starts with an
// empty cache.
func NewInstance(state *models.StrategyState, exch exchange.Client, store persistence.Store, rec *Reconciler, log *zap.SugaredLogger) *Instance {
	inst := &Instance{
		ID:            state.ID,
		Name:          state.Name,
		Ticker:        state.Ticker,
		Budget:        state.Budget,
		cfg:           state.Config,
		splits:        state.Splits,
		nextSplitID:   state.NextSplitID,
		lastBuyPrice:  state.LastBuyPrice,
		lastSellPrice: state.LastSellPrice,
		watch:         state.Watch,
		running:       state.Running,
		lastBuyDate:   state.LastBuyDate,
		lastSellDate:  state.LastSellDate,
		logic:         newDecisionLogic(state.Config),
		rec:           rec,
		exch:          exch,
		store:         store,
		log:           log,
	}
	if inst.nextSplitID == 0 {
		inst.nextSplitID = 1
	}

	trades, err := store.LoadTrades(state.ID)
	if err != nil {
		log.Warnw("trade history load failed, starting with empty cache", "strategy", state.ID, "error", err)
	} else {
		for _, t := range trades {
			inst.realized += t.NetProfit
		}
		if len(trades) > recentTradeCache {
			trades = trades[len(trades)-recentTradeCache:]
		}
		inst.recentTrades = trades
	}

	// Seed the rate-limit window from what survived the restart.
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, s := range inst.splits {
		at := s.BoughtAt
		if at.IsZero() {
			at = s.CreatedAt
		}
		if at.After(cutoff) {
			inst.buyTimes = append(inst.buyTimes, at)
		}
	}
	for _, t := range inst.recentTrades {
		if t.BoughtAt.After(cutoff) {
			inst.buyTimes = append(inst.buyTimes, t.BoughtAt)
		}
	}
	return inst
}

// Tick runs one full decision-and-reconciliation pass. Nothing in here is
// allowed to panic out; transient exchange failures are logged and leave
// state untouched.
func (inst *Instance) Tick(md *MarketData) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.running {
		return nil
	}

	inst.rec.Heal(inst, md)
	inst.rec.Reconcile(inst, md)

	if sd := inst.logic.EvaluateSell(inst, md); sd.Fire {
		inst.executeSell(sd, md)
	}

	if md.Now.Before(inst.buyBlockedUntil) {
		inst.log.Debugw("buys suppressed by circuit breaker", "strategy", inst.ID, "until", inst.buyBlockedUntil)
	} else if bd := inst.logic.EvaluateBuy(inst, md); bd.Fire {
		inst.executeBuy(bd, md)
	} else if bd.Reason != "" {
		inst.log.Debugw("buy skipped", "strategy", inst.ID, "reason", bd.Reason)
	}

	return inst.persistIfDirty()
}

// ReconcilePass runs the heal and reconcile stages only. The backtest
// runner uses it so one candle can fill a buy, place its sell, and fill
// that sell within the same step.
func (inst *Instance) ReconcilePass(md *MarketData) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.running {
		return nil
	}
	inst.rec.Heal(inst, md)
	inst.rec.Reconcile(inst, md)
	return inst.persistIfDirty()
}

// --- buy side ---

func (inst *Instance) executeBuy(d BuyDecision, md *MarketData) int {
	bought := 0
	for i := 0; i < d.Units; i++ {
		investment, seg := inst.investmentAt(d.Price)
		if reason := inst.buyBlocked(investment, seg, md.Now); reason != "" {
			inst.event(md.Now, "SKIP", "info", reason)
			break
		}

		s := &models.Split{
			ID:          inst.nextSplitID,
			Status:      models.SplitPendingBuy,
			BuyPrice:    d.Price,
			BuyAmount:   investment,
			CreatedAt:   md.Now,
			BuyRSI:      d.RSI,
			Accumulated: inst.cfg.Mode == models.ModeRSI,
		}

		var order *models.Order
		var err error
		if inst.cfg.BuyOrderStyle == models.BuyStyleLimit && !d.Immediate {
			target := inst.exch.NormalizePrice(d.Price)
			order, err = inst.exch.PlaceLimitBuy(inst.Ticker, target, investment/target)
		} else {
			order, err = inst.exch.PlaceMarketBuy(inst.Ticker, investment)
		}
		if err != nil {
			if errors.Is(err, exchange.ErrInsufficientFunds) {
				inst.tripCircuitBreaker(md, inst.rec.Cooldown)
			} else {
				inst.log.Warnw("buy placement failed", "strategy", inst.ID, "error", err)
			}
			break
		}

		s.BuyOrderID = order.UUID
		s.OrderCreatedAt = md.Now
		inst.nextSplitID++
		inst.splits = append(inst.splits, s)
		inst.buyTimes = append(inst.buyTimes, md.Now)
		inst.markDirty()
		bought++
		inst.event(md.Now, "BUY_ORDER", "info",
			fmt.Sprintf("split %d buy placed at %.2f for %.0f", s.ID, d.Price, investment))
	}

	if bought > 0 {
		inst.lastBuyPrice = d.Price
		if d.Immediate && inst.watch.ManualTargetPrice > 0 {
			inst.watch.ManualTargetPrice = 0
		}
		if inst.cfg.Mode == models.ModeRSI {
			inst.lastBuyDate = tradingDay(md.Now)
		}
		inst.markDirty()
	}
	return bought
}

// buyBlocked returns a non-empty skip reason when any configured cap
// rejects a buy of the given investment.
func (inst *Instance) buyBlocked(investment float64, seg *models.PriceSegment, now time.Time) string {
	if investment < inst.rec.MinOrder {
		return fmt.Sprintf("investment %.0f below exchange minimum %.0f", investment, inst.rec.MinOrder)
	}
	if inst.cfg.MaxTradesPerDay > 0 && inst.buysInWindow(now) >= inst.cfg.MaxTradesPerDay {
		return fmt.Sprintf("trade rate limit reached (%d/24h)", inst.cfg.MaxTradesPerDay)
	}
	if inst.cfg.MaxHoldings > 0 && inst.activeCount() >= inst.cfg.MaxHoldings {
		return fmt.Sprintf("max holdings reached (%d)", inst.cfg.MaxHoldings)
	}
	if inst.investedAmount()+investment > inst.Budget {
		return fmt.Sprintf("budget exceeded: %.0f invested + %.0f > %.0f",
			inst.investedAmount(), investment, inst.Budget)
	}
	if seg != nil && seg.MaxSplits > 0 && inst.splitsInSegment(seg) >= seg.MaxSplits {
		return fmt.Sprintf("segment cap reached (%d splits in %.0f-%.0f)", seg.MaxSplits, seg.MinPrice, seg.MaxPrice)
	}
	return ""
}

func (inst *Instance) investmentAt(price float64) (float64, *models.PriceSegment) {
	for i := range inst.cfg.PriceSegments {
		seg := &inst.cfg.PriceSegments[i]
		if price >= seg.MinPrice && price <= seg.MaxPrice {
			return seg.Investment, seg
		}
	}
	return inst.cfg.InvestmentPerSplit, nil
}

func (inst *Instance) splitsInSegment(seg *models.PriceSegment) int {
	count := 0
	for _, s := range inst.splits {
		if s.Status == models.SplitSellFilled {
			continue
		}
		if s.BuyPrice >= seg.MinPrice && s.BuyPrice <= seg.MaxPrice {
			count++
		}
	}
	return count
}

func (inst *Instance) buysInWindow(now time.Time) int {
	cutoff := now.Add(-24 * time.Hour)
	kept := inst.buyTimes[:0]
	for _, t := range inst.buyTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	inst.buyTimes = kept
	return len(kept)
}

func (inst *Instance) tripCircuitBreaker(md *MarketData, cooldown time.Duration) {
	inst.buyBlockedUntil = md.Now.Add(cooldown)
	inst.event(md.Now, "CIRCUIT_BREAKER", "warn",
		fmt.Sprintf("insufficient funds, buys suppressed until %s", inst.buyBlockedUntil.Format(time.RFC3339)))
}

// --- sell side ---

func (inst *Instance) executeSell(sd SellDecision, md *MarketData) {
	sold := 0
	for _, id := range sd.SplitIDs {
		s := inst.splitByID(id)
		if s == nil || s.BuyVolume <= 0 {
			continue
		}
		switch s.Status {
		case models.SplitBuyFilled:
		case models.SplitPendingSell:
			// The resting limit sell must come off the book before the
			// market exit. A cancel rejected because the order already
			// filled leaves the split to the reconciler.
			if err := inst.exch.Cancel(s.SellOrderID); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
				inst.log.Warnw("sell cancel before distribution failed", "strategy", inst.ID, "split", s.ID, "error", err)
				continue
			}
		default:
			continue
		}
		order, err := inst.exch.PlaceMarketSell(inst.Ticker, s.BuyVolume)
		if err != nil {
			inst.log.Warnw("distribution sell failed", "strategy", inst.ID, "split", s.ID, "error", err)
			continue
		}
		s.Status = models.SplitPendingSell
		s.SellOrderID = order.UUID
		s.OrderCreatedAt = md.Now
		s.MissingOrderTicks = 0
		inst.markDirty()
		sold++
		inst.event(md.Now, "SELL_ORDER", "info",
			fmt.Sprintf("split %d distribution sell placed for %.8f", s.ID, s.BuyVolume))
	}
	if sold > 0 && inst.cfg.Mode == models.ModeRSI {
		inst.lastSellDate = tradingDay(md.Now)
		inst.markDirty()
	}
}

// --- fill handling (called by the reconciler) ---

func (inst *Instance) markBuyFilled(md *MarketData, s *models.Split, order *models.Order) {
	s.Status = models.SplitBuyFilled
	s.ActualBuyPrice = order.AvgFillPrice()
	s.BuyVolume = order.ExecutedVolume
	s.BoughtAt = md.Now
	s.BuyOrderID = ""
	s.MissingOrderTicks = 0
	inst.markDirty()
	inst.event(md.Now, "BUY", "info",
		fmt.Sprintf("split %d bought %.8f at %.2f", s.ID, s.BuyVolume, s.ActualBuyPrice))
}

// finalizeTrade books the completed round trip exactly once and re-anchors
// the grid. The caller removes the split from the live set afterwards.
func (inst *Instance) finalizeTrade(md *MarketData, s *models.Split, order *models.Order) {
	sellPrice := order.AvgFillPrice()
	sellAmount := sellPrice * order.ExecutedVolume
	totalFee := s.BuyAmount*inst.cfg.FeeRate + sellAmount*inst.cfg.FeeRate
	grossProfit := sellAmount - s.BuyAmount
	netProfit := grossProfit - totalFee

	trade := &models.Trade{
		SplitID:     s.ID,
		Ticker:      inst.Ticker,
		BuyPrice:    s.ActualBuyPrice,
		SellPrice:   sellPrice,
		Volume:      order.ExecutedVolume,
		BuyAmount:   s.BuyAmount,
		SellAmount:  sellAmount,
		GrossProfit: grossProfit,
		TotalFee:    totalFee,
		NetProfit:   netProfit,
		ProfitRate:  netProfit / s.BuyAmount * 100,
		BoughtAt:    s.BoughtAt,
		SoldAt:      md.Now,
		BuyRSI:      s.BuyRSI,
		Accumulated: s.Accumulated,
	}

	s.Status = models.SplitSellFilled
	if err := inst.store.AppendTrade(inst.ID, trade); err != nil {
		inst.log.Errorw("trade record write failed", "strategy", inst.ID, "split", s.ID, "error", err)
	}
	inst.recentTrades = append(inst.recentTrades, trade)
	if len(inst.recentTrades) > recentTradeCache {
		inst.recentTrades = inst.recentTrades[1:]
	}
	inst.realized += netProfit
	inst.lastSellPrice = sellPrice
	inst.reanchor(s.ID)
	inst.markDirty()
	inst.event(md.Now, "SELL", "info",
		fmt.Sprintf("split %d sold at %.2f, net profit %.0f (%.2f%%)", s.ID, sellPrice, netProfit, trade.ProfitRate))
}

// reanchor recomputes last_buy_price after a split clears: the minimum of
// the lowest remaining buy and the last sell, so the grid keeps following
// price downward instead of being pulled up by a stuck high split.
func (inst *Instance) reanchor(excludeID int64) {
	lowest := 0.0
	for _, s := range inst.splits {
		if s.ID == excludeID || s.Status == models.SplitSellFilled {
			continue
		}
		p := s.ActualBuyPrice
		if p <= 0 {
			p = s.BuyPrice
		}
		if lowest == 0 || p < lowest {
			lowest = p
		}
	}
	if lowest == 0 {
		// All splits cleared.
		if inst.cfg.RebuyStrategy != models.RebuyLastSellPrice {
			inst.lastSellPrice = 0
		}
		inst.lastBuyPrice = 0
		return
	}
	if inst.lastSellPrice > 0 && inst.lastSellPrice < lowest {
		lowest = inst.lastSellPrice
	}
	inst.lastBuyPrice = lowest
}

// --- shared helpers ---

func (inst *Instance) splitByID(id int64) *models.Split {
	for _, s := range inst.splits {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (inst *Instance) activeCount() int {
	count := 0
	for _, s := range inst.splits {
		if s.Status != models.SplitSellFilled {
			count++
		}
	}
	return count
}

func (inst *Instance) investedAmount() float64 {
	sum := 0.0
	for _, s := range inst.splits {
		if s.Status != models.SplitSellFilled {
			sum += s.BuyAmount
		}
	}
	return sum
}

func (inst *Instance) priceInBounds(price float64) bool {
	if inst.cfg.MinPrice > 0 && price < inst.cfg.MinPrice {
		return false
	}
	if inst.cfg.MaxPrice > 0 && price > inst.cfg.MaxPrice {
		return false
	}
	return true
}

// NextBuyTarget exposes the current grid buy level; the backtest runner
// uses it to pick the intra-candle tick price.
func (inst *Instance) NextBuyTarget(currentPrice float64) float64 {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	_, target := inst.gridTarget(currentPrice)
	return target
}

// --- events and persistence ---

func (inst *Instance) markDirty() { inst.dirty = true }

func (inst *Instance) event(at time.Time, eventType, level, msg string) {
	err := inst.store.AppendEvent(inst.ID, &models.Event{
		Type:      eventType,
		Level:     level,
		Message:   msg,
		CreatedAt: at,
	})
	if err != nil {
		inst.log.Warnw("event append failed", "strategy", inst.ID, "error", err)
	}
	inst.log.Infow(msg, "strategy", inst.ID, "event", eventType)
}

func (inst *Instance) snapshotState() *models.StrategyState {
	splits := make([]*models.Split, len(inst.splits))
	for i, s := range inst.splits {
		cp := *s
		splits[i] = &cp
	}
	return &models.StrategyState{
		ID:            inst.ID,
		Name:          inst.Name,
		Ticker:        inst.Ticker,
		Budget:        inst.Budget,
		Config:        inst.cfg,
		Splits:        splits,
		NextSplitID:   inst.nextSplitID,
		LastBuyPrice:  inst.lastBuyPrice,
		LastSellPrice: inst.lastSellPrice,
		Watch:         inst.watch,
		Running:       inst.running,
		LastBuyDate:   inst.lastBuyDate,
		LastSellDate:  inst.lastSellDate,
		UpdatedAt:     time.Now(),
	}
}

func (inst *Instance) persistIfDirty() error {
	if !inst.dirty {
		return nil
	}
	if err := inst.store.SaveStrategy(inst.snapshotState()); err != nil {
		inst.log.Errorw("state save failed", "strategy", inst.ID, "error", err)
		return err
	}
	inst.dirty = false
	return nil
}

func (inst *Instance) persist() error {
	inst.markDirty()
	return inst.persistIfDirty()
}

// --- control surface ---

// Start marks the strategy runnable by the scheduler.
func (inst *Instance) Start() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.running = true
	return inst.persist()
}

// Stop halts ticking. Open orders stay on the exchange.
func (inst *Instance) Stop() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.running = false
	return inst.persist()
}

// Running reports whether the scheduler should tick this strategy.
func (inst *Instance) Running() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.running
}

// Config returns a copy of the current strategy config.
func (inst *Instance) Config() models.StrategyConfig {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.cfg
}

// UpdateConfig swaps the config (and optionally the budget) and rebuilds
// the decision logic for the new mode.
func (inst *Instance) UpdateConfig(cfg models.StrategyConfig, budget *float64) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.cfg = cfg
	inst.logic = newDecisionLogic(cfg)
	if budget != nil {
		inst.Budget = *budget
	}
	return inst.persist()
}

// SetManualTarget sets (price > 0) or clears (price == 0) the operator's
// buy target override.
func (inst *Instance) SetManualTarget(price float64) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.watch.ManualTargetPrice = price
	return inst.persist()
}

// Reset cancels open orders and clears splits, trades and watch state.
// Config and budget survive.
func (inst *Instance) Reset() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	for _, s := range inst.splits {
		if ref := s.OrderRef(); ref != "" {
			if err := inst.exch.Cancel(ref); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
				inst.log.Warnw("order cancel failed during reset", "strategy", inst.ID, "order", ref, "error", err)
			}
		}
	}
	inst.splits = nil
	inst.nextSplitID = 1
	inst.lastBuyPrice = 0
	inst.lastSellPrice = 0
	inst.watch = models.WatchState{}
	inst.lastBuyDate = ""
	inst.lastSellDate = ""
	inst.buyBlockedUntil = time.Time{}
	inst.buyTimes = nil
	inst.recentTrades = nil
	inst.realized = 0
	if err := inst.store.DeleteTrades(inst.ID); err != nil {
		inst.log.Warnw("trade history delete failed during reset", "strategy", inst.ID, "error", err)
	}
	return inst.persist()
}

// Snapshot builds the control-surface view. currentPrice may be zero when
// no quote is available; unrealized PnL is omitted in that case.
func (inst *Instance) Snapshot(currentPrice float64) *models.StateSnapshot {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	counts := map[string]int{}
	invested := 0.0
	unrealized := 0.0
	splits := make([]*models.Split, len(inst.splits))
	for i, s := range inst.splits {
		cp := *s
		splits[i] = &cp
		counts[s.Status]++
		if s.Status == models.SplitSellFilled {
			continue
		}
		invested += s.BuyAmount
		if currentPrice > 0 && s.BuyVolume > 0 {
			unrealized += currentPrice*s.BuyVolume - s.BuyAmount
		}
	}

	recent := inst.recentTrades
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	trades := make([]*models.Trade, len(recent))
	for i, t := range recent {
		cp := *t
		trades[i] = &cp
	}

	return &models.StateSnapshot{
		ID:               inst.ID,
		Name:             inst.Name,
		Ticker:           inst.Ticker,
		Budget:           inst.Budget,
		Config:           inst.cfg,
		Running:          inst.running,
		Splits:           splits,
		SplitCounts:      counts,
		InvestedAmount:   invested,
		UnrealizedProfit: unrealized,
		RealizedProfit:   inst.realized,
		Watch:            inst.watch,
		RecentTrades:     trades,
		CurrentPrice:     currentPrice,
	}
}
