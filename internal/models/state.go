package models

import "time"

// StrategyState is the persisted snapshot of one strategy. Splits carry the
// live position set; everything transient (caches, cooldowns) is rebuilt on
// load.
type StrategyState struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Ticker        string         `json:"ticker"`
	Budget        float64        `json:"budget"`
	Config        StrategyConfig `json:"config"`
	Splits        []*Split       `json:"splits"`
	NextSplitID   int64          `json:"next_split_id"`
	LastBuyPrice  float64        `json:"last_buy_price,omitempty"`
	LastSellPrice float64        `json:"last_sell_price,omitempty"`
	Watch         WatchState     `json:"watch"`
	Running       bool           `json:"running"`
	LastBuyDate   string         `json:"last_buy_date,omitempty"`  // trading day of the last RSI buy
	LastSellDate  string         `json:"last_sell_date,omitempty"` // trading day of the last RSI sell
	UpdatedAt     time.Time      `json:"updated_at"`
}

// StateSnapshot is the read-only view returned by the control surface.
type StateSnapshot struct {
	ID               int64          `json:"id"`
	Name             string         `json:"name"`
	Ticker           string         `json:"ticker"`
	Budget           float64        `json:"budget"`
	Config           StrategyConfig `json:"config"`
	Running          bool           `json:"running"`
	Splits           []*Split       `json:"splits"`
	SplitCounts      map[string]int `json:"split_counts"`
	InvestedAmount   float64        `json:"invested_amount"`
	UnrealizedProfit float64        `json:"unrealized_profit"`
	RealizedProfit   float64        `json:"realized_profit"`
	Watch            WatchState     `json:"watch"`
	RecentTrades     []*Trade       `json:"recent_trades"`
	CurrentPrice     float64        `json:"current_price,omitempty"`
}

// SimulationResult is the output of one backtest run.
type SimulationResult struct {
	Ticker           string    `json:"ticker"`
	Trades           []*Trade  `json:"trades"`
	RealizedProfit   float64   `json:"realized_profit"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	FinalBalance     float64   `json:"final_balance"`
	OpenSplits       int       `json:"open_splits"`
	FinalPrice       float64   `json:"final_price"`
	CandleCount      int       `json:"candle_count"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

// PortfolioEntry aggregates one held currency across strategies.
type PortfolioEntry struct {
	Currency       string  `json:"currency"`
	Balance        float64 `json:"balance"`
	AvgBuyPrice    float64 `json:"avg_buy_price"`
	CurrentPrice   float64 `json:"current_price"`
	Value          float64 `json:"value"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	RealizedProfit float64 `json:"realized_profit"`
}
