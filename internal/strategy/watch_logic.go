package strategy

import (
	"fmt"

	"sevensplit-bot-go/internal/indicator"
)

// Short-horizon signal parameters for the trailing-buy gate.
const (
	watchInterval  = "minutes/5"
	watchRSIPeriod = 14
)

// trailingWatchLogic gates priceGridLogic's buy decision: while the
// short-horizon RSI says the market is still falling, new buys are
// suspended and the lowest observed price is tracked. A rebound off that
// minimum releases one immediate buy at the rebound price.
type trailingWatchLogic struct {
	inner *priceGridLogic
}

func (l *trailingWatchLogic) EvaluateSell(inst *Instance, md *MarketData) SellDecision {
	return l.inner.EvaluateSell(inst, md)
}

func (l *trailingWatchLogic) EvaluateBuy(inst *Instance, md *MarketData) BuyDecision {
	// A manual target bypasses both the gate and the grid.
	if manual := inst.watch.ManualTargetPrice; manual > 0 {
		if inst.watch.IsWatching {
			inst.exitWatch(md, "manual target set")
		}
		if md.Price <= manual {
			return BuyDecision{Fire: true, Price: md.Price, Units: 1, Immediate: true, Reason: "manual target reached"}
		}
		return BuyDecision{Reason: fmt.Sprintf("waiting for manual target %.2f", manual)}
	}

	if !inst.cfg.UseTrailingBuy {
		return l.inner.EvaluateBuy(inst, md)
	}

	rsi, ok := watchRSI(inst, md)
	if !ok || rsi < inst.cfg.RSIBuyMax {
		// Market still falling (or signal unavailable): suspend buying.
		if !inst.watch.IsWatching {
			inst.enterWatch(md, rsi)
		} else {
			inst.trackWatchLow(md.Price)
		}
		return BuyDecision{RSI: rsi, Reason: fmt.Sprintf("watching, rsi=%.1f low=%.2f", rsi, inst.watch.WatchLowestPrice)}
	}

	if !inst.watch.IsWatching {
		d := l.inner.EvaluateBuy(inst, md)
		d.RSI = rsi
		return d
	}

	// Signal recovered while watching: release on a rebound off the low.
	rebound := inst.watch.WatchLowestPrice * (1 + inst.cfg.TrailingReboundPercent/100)
	if md.Price >= rebound {
		inst.exitWatch(md, fmt.Sprintf("rebound %.2f off low %.2f", md.Price, inst.watch.WatchLowestPrice))
		return BuyDecision{Fire: true, Price: md.Price, Units: 1, Immediate: true, RSI: rsi}
	}
	inst.trackWatchLow(md.Price)
	return BuyDecision{RSI: rsi, Reason: fmt.Sprintf("awaiting rebound to %.2f", rebound)}
}

// watchRSI computes the short-horizon RSI with the live price substituted
// for the forming candle's close, so the gate reacts inside the candle.
func watchRSI(inst *Instance, md *MarketData) (float64, bool) {
	candles := md.Candles[watchInterval]
	if len(candles) == 0 {
		return 0, false
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	closes[len(closes)-1] = md.Price
	return indicator.RSI(closes, watchRSIPeriod)
}

func (inst *Instance) enterWatch(md *MarketData, rsi float64) {
	inst.watch.IsWatching = true
	inst.watch.WatchLowestPrice = md.Price
	inst.markDirty()
	inst.event(md.Now, "WATCH_START", "info",
		fmt.Sprintf("entered watch mode at %.2f (rsi %.1f)", md.Price, rsi))
}

func (inst *Instance) exitWatch(md *MarketData, reason string) {
	inst.watch.IsWatching = false
	inst.watch.WatchLowestPrice = 0
	inst.markDirty()
	inst.event(md.Now, "WATCH_END", "info", "left watch mode: "+reason)
}

func (inst *Instance) trackWatchLow(price float64) {
	if price < inst.watch.WatchLowestPrice || inst.watch.WatchLowestPrice == 0 {
		inst.watch.WatchLowestPrice = price
		inst.markDirty()
	}
}
