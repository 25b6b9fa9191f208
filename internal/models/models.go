package models

import (
	"fmt"
	"time"
)

// Config holds the application level configuration loaded from JSON.
type Config struct {
	DBPath        string    `json:"db_path"`
	ArchiveDBPath string    `json:"archive_db_path,omitempty"` // optional sqlite trade archive
	APIURL        string    `json:"api_url"`
	WSURL         string    `json:"ws_url"`
	Watchlist     []string  `json:"watchlist"`
	LogConfig     LogConfig `json:"log"`

	// Scheduler cadence and cache staleness windows, seconds.
	TickIntervalSec      float64 `json:"tick_interval_sec,omitempty"`
	AccountsRefreshSec   float64 `json:"accounts_refresh_sec,omitempty"`
	CandleRefreshSec     float64 `json:"candle_refresh_sec,omitempty"`
	OrderTimeoutSec      int     `json:"order_timeout_sec,omitempty"`
	BuyCooldownSec       int     `json:"buy_cooldown_sec,omitempty"`
	MinOrderAmount       float64 `json:"min_order_amount,omitempty"`
	WebSocketPingSec     int     `json:"websocket_ping_sec,omitempty"`
	WebSocketPriceMaxAge float64 `json:"websocket_price_max_age_sec,omitempty"`
	RetryAttempts        int     `json:"retry_attempts,omitempty"`
	RetryInitialDelayMs  int     `json:"retry_initial_delay_ms,omitempty"`
}

// LogConfig mirrors the log section of the JSON config.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`
}

// Mode selects the decision logic for a strategy.
type Mode string

const (
	ModePrice Mode = "PRICE"
	ModeRSI   Mode = "RSI"
)

// RebuyStrategy controls where the grid re-anchors after all splits clear.
type RebuyStrategy string

const (
	RebuyResetOnClear  RebuyStrategy = "reset_on_clear"
	RebuyLastSellPrice RebuyStrategy = "last_sell_price"
)

// BuyOrderStyle selects how grid buys are executed.
type BuyOrderStyle string

const (
	BuyStyleMarket BuyOrderStyle = "market"
	BuyStyleLimit  BuyOrderStyle = "limit"
)

// PriceSegment maps a price range to its own per-split investment and cap.
type PriceSegment struct {
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
	Investment float64 `json:"investment"`
	MaxSplits  int     `json:"max_splits"`
}

// StrategyConfig holds the per-strategy trading parameters. Treated as
// immutable between UpdateConfig calls.
type StrategyConfig struct {
	InvestmentPerSplit float64        `json:"investment_per_split"`
	MinPrice           float64        `json:"min_price,omitempty"`
	MaxPrice           float64        `json:"max_price,omitempty"`
	PriceSegments      []PriceSegment `json:"price_segments,omitempty"`
	BuyRate            float64        `json:"buy_rate"`  // fractional drop per grid level
	SellRate           float64        `json:"sell_rate"` // fractional profit target per split
	FeeRate            float64        `json:"fee_rate"`

	Mode           Mode    `json:"mode"`
	RSIPeriod      int     `json:"rsi_period,omitempty"`
	RSITimeframe   string  `json:"rsi_timeframe,omitempty"` // candle interval for the signal series
	RSIBuyMax      float64 `json:"rsi_buy_max,omitempty"`
	RSIBuyDelta    float64 `json:"rsi_buy_min_delta,omitempty"`
	RSIBuyCount    int     `json:"rsi_buy_count,omitempty"` // units bought per buy signal
	RSISellMin     float64 `json:"rsi_sell_min,omitempty"`
	RSISellDelta   float64 `json:"rsi_sell_min_delta,omitempty"`
	RSISellPercent float64 `json:"rsi_sell_percent,omitempty"` // percentage of open positions sold per signal

	MaxHoldings            int           `json:"max_holdings,omitempty"`
	MaxTradesPerDay        int           `json:"max_trades_per_day,omitempty"`
	UseTrailingBuy         bool          `json:"use_trailing_buy,omitempty"`
	TrailingReboundPercent float64       `json:"trailing_rebound_percent,omitempty"`
	BatchBuy               bool          `json:"batch_buy,omitempty"`
	RebuyStrategy          RebuyStrategy `json:"rebuy_strategy,omitempty"`
	BuyOrderStyle          BuyOrderStyle `json:"buy_order_style,omitempty"`
	TickInterval           float64       `json:"tick_interval,omitempty"` // seconds between ticks for this strategy
}

// Split status values. SELL_FILLED is terminal; the split is removed once
// its Trade has been recorded.
const (
	SplitPendingBuy  = "PENDING_BUY"
	SplitBuyFilled   = "BUY_FILLED"
	SplitPendingSell = "PENDING_SELL"
	SplitSellFilled  = "SELL_FILLED"
)

// Split is one discrete budget-bounded position unit.
type Split struct {
	ID              int64     `json:"id"`
	Status          string    `json:"status"`
	BuyPrice        float64   `json:"buy_price"` // grid target
	ActualBuyPrice  float64   `json:"actual_buy_price,omitempty"`
	BuyAmount       float64   `json:"buy_amount"` // invested quote amount
	BuyVolume       float64   `json:"buy_volume,omitempty"`
	TargetSellPrice float64   `json:"target_sell_price,omitempty"`
	BuyOrderID      string    `json:"buy_order_id,omitempty"`
	SellOrderID     string    `json:"sell_order_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	OrderCreatedAt  time.Time `json:"order_created_at,omitempty"`
	BoughtAt        time.Time `json:"bought_at,omitempty"`
	BuyRSI          float64   `json:"buy_rsi,omitempty"`
	Accumulated     bool      `json:"accumulated,omitempty"`
	Converted       bool      `json:"converted,omitempty"` // limit already converted to market once

	// MissingOrderTicks counts consecutive ticks an order-pending split has
	// been seen without an order reference. Not persisted.
	MissingOrderTicks int `json:"-"`
}

// OrderRef returns the order reference matching the split's status, if any.
func (s *Split) OrderRef() string {
	switch s.Status {
	case SplitPendingBuy:
		return s.BuyOrderID
	case SplitPendingSell:
		return s.SellOrderID
	}
	return ""
}

// Trade is the immutable record of a completed split. Created exactly once.
type Trade struct {
	SplitID     int64     `json:"split_id"`
	Ticker      string    `json:"ticker"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	Volume      float64   `json:"volume"`
	BuyAmount   float64   `json:"buy_amount"`
	SellAmount  float64   `json:"sell_amount"`
	GrossProfit float64   `json:"gross_profit"`
	TotalFee    float64   `json:"total_fee"`
	NetProfit   float64   `json:"net_profit"`
	ProfitRate  float64   `json:"profit_rate"`
	BoughtAt    time.Time `json:"bought_at"`
	SoldAt      time.Time `json:"sold_at"`
	BuyRSI      float64   `json:"buy_rsi,omitempty"`
	Accumulated bool      `json:"accumulated,omitempty"`
}

// WatchState is the trailing-buy safety gate state for one strategy.
type WatchState struct {
	IsWatching        bool    `json:"is_watching"`
	WatchLowestPrice  float64 `json:"watch_lowest_price,omitempty"`
	ManualTargetPrice float64 `json:"manual_target_price,omitempty"` // 0 means unset
}

// Event is one row of the per-strategy event log.
type Event struct {
	Type      string    `json:"type"` // BUY, SELL, SKIP, HEAL, WATCH_START, WATCH_END, ...
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Order state values as the exchange reports them.
const (
	OrderStateWait   = "wait"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// OrderTrade is a single fill belonging to an order.
type OrderTrade struct {
	Price  float64 `json:"price,string"`
	Volume float64 `json:"volume,string"`
	Funds  float64 `json:"funds,string"`
	Side   string  `json:"side"`
}

// Order is the exchange's view of an order.
type Order struct {
	UUID           string       `json:"uuid"`
	Ticker         string       `json:"market"`
	Side           string       `json:"side"`     // "bid" or "ask"
	OrdType        string       `json:"ord_type"` // "limit", "price" (market buy), "market" (market sell)
	State          string       `json:"state"`
	Price          float64      `json:"price,string"`
	Volume         float64      `json:"volume,string"`
	ExecutedVolume float64      `json:"executed_volume,string"`
	PaidFee        float64      `json:"paid_fee,string"`
	Trades         []OrderTrade `json:"trades,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// AvgFillPrice derives the volume-weighted fill price, preferring trade
// fills over the order's own price field.
func (o *Order) AvgFillPrice() float64 {
	var funds, vol float64
	for _, t := range o.Trades {
		if t.Funds > 0 {
			funds += t.Funds
		} else {
			funds += t.Price * t.Volume
		}
		vol += t.Volume
	}
	if vol > 0 {
		return funds / vol
	}
	return o.Price
}

// Account is one currency balance row.
type Account struct {
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance,string"`
	Locked      float64 `json:"locked,string"`
	AvgBuyPrice float64 `json:"avg_buy_price,string"`
}

// APIError is the error payload returned by the exchange REST API.
type APIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: name=%s, msg=%s", e.Name, e.Message)
}
