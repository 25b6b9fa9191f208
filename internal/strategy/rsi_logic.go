package strategy

import (
	"fmt"
	"sort"
	"time"

	"sevensplit-bot-go/internal/indicator"
	"sevensplit-bot-go/internal/models"
)

// kst is the instrument's local trading zone; the daily signal cuts over
// at 09:00, when the exchange opens a new daily candle.
var kst = time.FixedZone("KST", 9*60*60)

// tradingDay returns the trading-day key for t: days roll at 09:00 KST.
func tradingDay(t time.Time) string {
	return t.In(kst).Add(-9 * time.Hour).Format("2006-01-02")
}

// rsiSignalLogic accumulates on an RSI rebound inside the buy zone and
// distributes a percentage of holdings on an RSI peak above the sell zone.
// Both signals evaluate confirmed daily closes and fire at most once per
// trading day.
type rsiSignalLogic struct{}

func (l *rsiSignalLogic) signalRSI(inst *Instance, md *MarketData) (prev, prevPrev float64, ok bool) {
	timeframe := inst.cfg.RSITimeframe
	if timeframe == "" {
		timeframe = "days"
	}
	candles := md.Candles[timeframe]
	// The last bar is still forming; only confirmed closes feed the signal.
	if len(candles) < 2 {
		return 0, 0, false
	}
	closes := make([]float64, len(candles)-1)
	for i := range closes {
		closes[i] = candles[i].Close
	}
	series := indicator.RSISeries(closes, inst.cfg.RSIPeriod)
	if len(series) < 2 {
		return 0, 0, false
	}
	prev = series[len(series)-1]
	prevPrev = series[len(series)-2]
	if prev < 0 || prevPrev < 0 {
		return 0, 0, false
	}
	return prev, prevPrev, true
}

func (l *rsiSignalLogic) EvaluateBuy(inst *Instance, md *MarketData) BuyDecision {
	day := tradingDay(md.Now)
	if inst.lastBuyDate == day {
		return BuyDecision{Reason: "already bought this trading day"}
	}

	prev, prevPrev, ok := l.signalRSI(inst, md)
	if !ok {
		return BuyDecision{Reason: "insufficient candle history for signal"}
	}

	if prev >= inst.cfg.RSIBuyMax {
		return BuyDecision{RSI: prev, Reason: fmt.Sprintf("rsi %.1f outside buy zone", prev)}
	}
	if prev <= prevPrev {
		return BuyDecision{RSI: prev, Reason: "rsi not rebounding"}
	}
	if prev-prevPrev < inst.cfg.RSIBuyDelta {
		return BuyDecision{RSI: prev, Reason: fmt.Sprintf("rebound %.1f below minimum %.1f", prev-prevPrev, inst.cfg.RSIBuyDelta)}
	}

	units := inst.cfg.RSIBuyCount
	if units < 1 {
		units = 1
	}
	return BuyDecision{Fire: true, Price: md.Price, Units: units, RSI: prev}
}

func (l *rsiSignalLogic) EvaluateSell(inst *Instance, md *MarketData) SellDecision {
	day := tradingDay(md.Now)
	if inst.lastSellDate == day {
		return SellDecision{Reason: "already sold this trading day"}
	}

	prev, prevPrev, ok := l.signalRSI(inst, md)
	if !ok {
		return SellDecision{Reason: "insufficient candle history for signal"}
	}

	if prevPrev <= inst.cfg.RSISellMin {
		return SellDecision{Reason: fmt.Sprintf("rsi peak %.1f below sell zone", prevPrev)}
	}
	if prev >= prevPrev {
		return SellDecision{Reason: "rsi not turning down"}
	}
	if prevPrev-prev < inst.cfg.RSISellDelta {
		return SellDecision{Reason: fmt.Sprintf("drop %.1f below minimum %.1f", prevPrev-prev, inst.cfg.RSISellDelta)}
	}

	// Candidates must already meet the per-split profit floor. Splits with
	// a resting grid sell count too; execution cancels the limit first.
	type candidate struct {
		id     int64
		profit float64
	}
	var candidates []candidate
	for _, s := range inst.splits {
		if s.Status != models.SplitBuyFilled && s.Status != models.SplitPendingSell {
			continue
		}
		if s.ActualBuyPrice <= 0 {
			continue
		}
		profit := (md.Price - s.ActualBuyPrice) / s.ActualBuyPrice
		if profit >= inst.cfg.SellRate {
			candidates = append(candidates, candidate{id: s.ID, profit: profit})
		}
	}
	if len(candidates) == 0 {
		return SellDecision{Reason: "no position meets the profit floor"}
	}

	// Highest profit rate first.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].profit > candidates[j].profit })

	n := int(float64(len(candidates)) * inst.cfg.RSISellPercent / 100)
	if n == 0 && inst.cfg.RSISellPercent > 0 {
		n = 1
	}
	if n == 0 {
		return SellDecision{Reason: "sell percentage is zero"}
	}

	ids := make([]int64, 0, n)
	for _, c := range candidates[:n] {
		ids = append(ids, c.id)
	}
	return SellDecision{Fire: true, SplitIDs: ids}
}
