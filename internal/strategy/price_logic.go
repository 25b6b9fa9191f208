package strategy

import (
	"fmt"

	"sevensplit-bot-go/internal/models"
)

// maxBatchLevels caps how many grid levels a single price move can batch
// into one buy pass.
const maxBatchLevels = 10

// priceGridLogic buys when price falls through grid levels derived from
// the last buy anchor and sells each split at a fixed profit target. The
// sell side is passive: limit orders placed by the reconciler at fill time.
type priceGridLogic struct{}

func (l *priceGridLogic) EvaluateBuy(inst *Instance, md *MarketData) BuyDecision {
	cfg := inst.cfg
	price := md.Price

	if cfg.MinPrice > 0 && price < cfg.MinPrice {
		return BuyDecision{Reason: fmt.Sprintf("price %.2f below min bound %.2f", price, cfg.MinPrice)}
	}
	if cfg.MaxPrice > 0 && price > cfg.MaxPrice {
		return BuyDecision{Reason: fmt.Sprintf("price %.2f above max bound %.2f", price, cfg.MaxPrice)}
	}

	reference, target := inst.gridTarget(price)
	if price > target {
		return BuyDecision{Reason: fmt.Sprintf("price %.2f above target %.2f", price, target)}
	}

	units := 1
	if cfg.BatchBuy {
		units = levelsCrossed(reference, price, cfg.BuyRate)
	}
	return BuyDecision{Fire: true, Price: price, Units: units}
}

func (l *priceGridLogic) EvaluateSell(inst *Instance, md *MarketData) SellDecision {
	return SellDecision{Reason: "grid sells are passive limit orders"}
}

// gridTarget returns the reference price the grid descends from and the
// next buy level. With no active splits the grid re-anchors at the current
// price, or below the last sell when rebuy-from-last-sell is configured.
func (inst *Instance) gridTarget(price float64) (reference, target float64) {
	if inst.activeCount() == 0 {
		if inst.cfg.RebuyStrategy == models.RebuyLastSellPrice && inst.lastSellPrice > 0 {
			reference = inst.lastSellPrice
			return reference, reference * (1 - inst.cfg.BuyRate)
		}
		return price, price
	}
	reference = inst.lastBuyPrice
	return reference, reference * (1 - inst.cfg.BuyRate)
}

// levelsCrossed counts how many sequential grid levels below reference the
// price has fully crossed, at least 1, capped at maxBatchLevels.
func levelsCrossed(reference, price, rate float64) int {
	count := 0
	level := reference
	for count < maxBatchLevels {
		level *= 1 - rate
		if price <= level {
			count++
		} else {
			break
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}
