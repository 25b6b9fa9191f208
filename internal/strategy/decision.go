package strategy

import (
	"time"

	"sevensplit-bot-go/internal/models"
)

// MarketData is the shared per-tick snapshot handed to a strategy by the
// scheduler (or the backtest runner). Strategies only read it.
type MarketData struct {
	Price      float64
	Accounts   []models.Account
	OpenOrders []models.Order
	Candles    map[string][]models.Candle // interval -> bars, oldest first
	Now        time.Time
}

// BuyDecision is the outcome of one buy evaluation.
type BuyDecision struct {
	Fire      bool
	Price     float64 // execution price reference
	Units     int     // split units to open in this pass
	Immediate bool    // bypass the grid target (watch exit, manual target)
	RSI       float64 // indicator value at decision time, for observability
	Reason    string  // informational skip reason when Fire is false
}

// SellDecision is the outcome of one sell evaluation. Only the RSI logic
// produces active sell decisions; grid sells are limit orders placed at
// buy-fill time by the reconciler.
type SellDecision struct {
	Fire     bool
	SplitIDs []int64
	Reason   string
}

// DecisionLogic is the capability contract shared by the three strategies.
// The implementation is chosen once at construction from the config mode.
type DecisionLogic interface {
	EvaluateBuy(inst *Instance, md *MarketData) BuyDecision
	EvaluateSell(inst *Instance, md *MarketData) SellDecision
}

// newDecisionLogic selects the logic variant for a config. PRICE mode is
// always wrapped by the trailing-watch gate; the gate is a pass-through
// when trailing buy is disabled.
func newDecisionLogic(cfg models.StrategyConfig) DecisionLogic {
	if cfg.Mode == models.ModeRSI {
		return &rsiSignalLogic{}
	}
	return &trailingWatchLogic{inner: &priceGridLogic{}}
}
