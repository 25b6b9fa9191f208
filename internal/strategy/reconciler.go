package strategy

import (
	"errors"
	"fmt"
	"time"

	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
)

// Reconciler drives splits through their order lifecycle against the
// exchange: it heals zombie splits, converts timed-out limit buys to
// market orders, promotes fills, places grid sells, and finalizes trades.
// All methods run under the owning instance's lock.
type Reconciler struct {
	// Timeout is the age after which an unfilled limit buy is cancelled
	// and replaced with a market order.
	Timeout time.Duration
	// Cooldown suppresses buys after an insufficient-funds rejection.
	// Long for live money, short for simulation.
	Cooldown time.Duration
	// MinOrder is the exchange's minimum order notional in KRW.
	MinOrder float64
}

// NewReconciler returns a reconciler with the given windows. A minOrder
// of zero falls back to the exchange default.
func NewReconciler(timeout, cooldown time.Duration, minOrder float64) *Reconciler {
	if minOrder <= 0 {
		minOrder = defaultMinOrderAmount
	}
	return &Reconciler{Timeout: timeout, Cooldown: cooldown, MinOrder: minOrder}
}

// Heal resets splits stuck in an order-pending status without an order
// reference. One tick of grace covers in-flight placement; after that the
// split is returned to its pre-order state.
func (r *Reconciler) Heal(inst *Instance, md *MarketData) {
	kept := inst.splits[:0]
	for _, s := range inst.splits {
		if (s.Status == models.SplitPendingBuy || s.Status == models.SplitPendingSell) && s.OrderRef() == "" {
			s.MissingOrderTicks++
		} else {
			s.MissingOrderTicks = 0
		}

		if s.MissingOrderTicks > 1 {
			switch s.Status {
			case models.SplitPendingBuy:
				// Pre-order state of a pending buy is no split at all; the
				// grid recreates it.
				inst.event(md.Now, "HEAL", "warn",
					fmt.Sprintf("split %d stuck in %s without an order, removed", s.ID, s.Status))
				inst.markDirty()
				continue
			case models.SplitPendingSell:
				s.Status = models.SplitBuyFilled
				s.MissingOrderTicks = 0
				inst.event(md.Now, "HEAL", "warn",
					fmt.Sprintf("split %d stuck in PENDING_SELL without an order, reverted to BUY_FILLED", s.ID))
				inst.markDirty()
			}
		}
		kept = append(kept, s)
	}
	inst.splits = kept
}

// Reconcile runs one idempotent pass over every split. Unchanged external
// order state produces no duplicate trades and no duplicate placements.
func (r *Reconciler) Reconcile(inst *Instance, md *MarketData) {
	open := make(map[string]bool, len(md.OpenOrders))
	for _, o := range md.OpenOrders {
		if o.State == models.OrderStateWait {
			open[o.UUID] = true
		}
	}

	kept := inst.splits[:0]
	for _, s := range inst.splits {
		remove := false
		switch s.Status {
		case models.SplitPendingBuy:
			remove = r.reconcileBuy(inst, md, s, open)
		case models.SplitBuyFilled:
			r.placeSell(inst, md, s)
		case models.SplitPendingSell:
			remove = r.reconcileSell(inst, md, s, open)
		}
		if !remove {
			kept = append(kept, s)
		}
	}
	inst.splits = kept
}

// reconcileBuy handles one PENDING_BUY split; returns true when the split
// should be removed from the live set.
func (r *Reconciler) reconcileBuy(inst *Instance, md *MarketData, s *models.Split, open map[string]bool) bool {
	if s.BuyOrderID == "" {
		return false // heal pass owns this case
	}

	// Timeout: an unfilled limit buy is converted to a market order for
	// the same notional exactly once, provided price is still in bounds.
	if open[s.BuyOrderID] {
		if !s.Converted && r.Timeout > 0 && md.Now.Sub(s.OrderCreatedAt) >= r.Timeout && inst.priceInBounds(md.Price) {
			r.convertToMarket(inst, md, s)
		}
		return false
	}

	order, err := inst.exch.OrderStatus(s.BuyOrderID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// Authoritative: the order never existed server-side.
			inst.event(md.Now, "HEAL", "warn",
				fmt.Sprintf("buy order %s for split %d not found, split removed", s.BuyOrderID, s.ID))
			inst.markDirty()
			return true
		}
		inst.log.Warnw("buy order status check failed", "strategy", inst.ID, "split", s.ID, "error", err)
		return false
	}

	switch {
	case order.State == models.OrderStateDone && order.ExecutedVolume > 0:
		inst.markBuyFilled(md, s, order)
	case order.State == models.OrderStateCancel && order.ExecutedVolume == 0:
		s.BuyOrderID = ""
		inst.markDirty()
		inst.event(md.Now, "HEAL", "info",
			fmt.Sprintf("buy order for split %d cancelled with zero fill, reset", s.ID))
	}
	return false
}

func (r *Reconciler) convertToMarket(inst *Instance, md *MarketData, s *models.Split) {
	if err := inst.exch.Cancel(s.BuyOrderID); err != nil && !errors.Is(err, exchange.ErrOrderNotFound) {
		inst.log.Warnw("limit buy cancel failed", "strategy", inst.ID, "split", s.ID, "error", err)
		return
	}
	order, err := inst.exch.PlaceMarketBuy(inst.Ticker, s.BuyAmount)
	if err != nil {
		if errors.Is(err, exchange.ErrInsufficientFunds) {
			inst.tripCircuitBreaker(md, r.Cooldown)
		}
		inst.log.Warnw("market conversion failed", "strategy", inst.ID, "split", s.ID, "error", err)
		s.BuyOrderID = ""
		inst.markDirty()
		return
	}
	s.BuyOrderID = order.UUID
	s.OrderCreatedAt = md.Now
	s.Converted = true
	inst.markDirty()
	inst.event(md.Now, "CONVERT", "info",
		fmt.Sprintf("split %d limit buy timed out, converted to market order %s", s.ID, order.UUID))
}

// placeSell puts the grid's profit-target limit sell on a freshly filled
// split. RSI mode holds the position for an explicit distribution signal.
func (r *Reconciler) placeSell(inst *Instance, md *MarketData, s *models.Split) {
	if inst.cfg.Mode == models.ModeRSI {
		return
	}
	if s.BuyVolume <= 0 {
		return
	}
	target := inst.exch.NormalizePrice(s.ActualBuyPrice * (1 + inst.cfg.SellRate))
	order, err := inst.exch.PlaceLimitSell(inst.Ticker, target, s.BuyVolume)
	if err != nil {
		inst.log.Warnw("sell placement failed", "strategy", inst.ID, "split", s.ID, "error", err)
		return
	}
	s.Status = models.SplitPendingSell
	s.SellOrderID = order.UUID
	s.TargetSellPrice = target
	s.OrderCreatedAt = md.Now
	s.MissingOrderTicks = 0
	inst.markDirty()
	inst.event(md.Now, "SELL_ORDER", "info",
		fmt.Sprintf("split %d sell placed at %.2f for %.8f", s.ID, target, s.BuyVolume))
}

// reconcileSell handles one PENDING_SELL split; returns true when the
// split finalized and should be removed.
func (r *Reconciler) reconcileSell(inst *Instance, md *MarketData, s *models.Split, open map[string]bool) bool {
	if s.SellOrderID == "" || open[s.SellOrderID] {
		return false
	}

	order, err := inst.exch.OrderStatus(s.SellOrderID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// Full cycle restart.
			s.Status = models.SplitPendingBuy
			s.BuyOrderID = ""
			s.SellOrderID = ""
			s.MissingOrderTicks = 0
			inst.markDirty()
			inst.event(md.Now, "HEAL", "warn",
				fmt.Sprintf("sell order for split %d not found, cycle restarted", s.ID))
			return false
		}
		inst.log.Warnw("sell order status check failed", "strategy", inst.ID, "split", s.ID, "error", err)
		return false
	}

	switch {
	case order.State == models.OrderStateDone && order.ExecutedVolume > 0:
		inst.finalizeTrade(md, s, order)
		return true
	case order.State == models.OrderStateCancel && order.ExecutedVolume == 0:
		s.Status = models.SplitBuyFilled
		s.SellOrderID = ""
		inst.markDirty()
		inst.event(md.Now, "HEAL", "info",
			fmt.Sprintf("sell order for split %d cancelled with zero fill, sell will be re-placed", s.ID))
	}
	return false
}
