package exchange

import (
	"fmt"
	"sync"
	"time"

	"sevensplit-bot-go/internal/models"
)

// SimExchange is a fully deterministic in-memory exchange double used by
// the backtest runner and the package tests. Limit orders fill when the
// current candle's open→low→high→close walk crosses the limit; market
// orders fill at the quoted price.
type SimExchange struct {
	mu sync.Mutex

	feeRate  float64
	balance  float64 // quote currency (KRW)
	holdings map[string]float64
	avgBuy   map[string]float64

	orders  map[string]*models.Order
	nextID  int64
	price   float64
	candle  models.Candle
	now     time.Time
	history map[string][]models.Candle
}

// NewSimExchange creates a sim exchange holding the given quote balance.
func NewSimExchange(balance, feeRate float64) *SimExchange {
	return &SimExchange{
		feeRate:  feeRate,
		balance:  balance,
		holdings: make(map[string]float64),
		avgBuy:   make(map[string]float64),
		orders:   make(map[string]*models.Order),
		history:  make(map[string][]models.Candle),
		now:      time.Unix(0, 0),
	}
}

// SetCandle advances the sim to a new bar. quote is the price decision
// logic sees during this bar.
func (e *SimExchange) SetCandle(c models.Candle, quote float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candle = c
	e.price = quote
	e.now = c.Timestamp
}

// SeedCandles replaces the history served for an interval.
func (e *SimExchange) SeedCandles(interval string, candles []models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[interval] = append([]models.Candle(nil), candles...)
}

// AppendCandle appends one bar to an interval's history.
func (e *SimExchange) AppendCandle(interval string, c models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[interval] = append(e.history[interval], c)
}

// UpsertCandle replaces the newest bar of an interval when the timestamps
// match, otherwise appends. Lets history end with a still-forming bar the
// way the live candle endpoint serves it.
func (e *SimExchange) UpsertCandle(interval string, c models.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := e.history[interval]
	if n := len(hist); n > 0 && hist[n-1].Timestamp.Equal(c.Timestamp) {
		hist[n-1] = c
		return
	}
	e.history[interval] = append(hist, c)
}

// Balance returns the remaining quote balance.
func (e *SimExchange) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// DropOrder forgets an order without cancelling it, simulating an order
// lost across an exchange-side restart.
func (e *SimExchange) DropOrder(uuid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.orders, uuid)
}

// FillOrders walks the current candle path and fills every crossed limit
// order. Called once per backtest pass.
func (e *SimExchange) FillOrders() {
	e.mu.Lock()
	defer e.mu.Unlock()
	path := []float64{e.candle.Open, e.candle.Low, e.candle.High, e.candle.Close}
	for _, p := range path {
		for _, o := range e.orders {
			if o.State != models.OrderStateWait || o.OrdType != "limit" {
				continue
			}
			if o.Side == "bid" && p <= o.Price {
				e.fillLimitBuy(o)
			} else if o.Side == "ask" && p >= o.Price {
				e.fillLimitSell(o)
			}
		}
	}
}

func (e *SimExchange) fillLimitBuy(o *models.Order) {
	cost := o.Price * o.Volume
	fee := cost * e.feeRate
	o.State = models.OrderStateDone
	o.ExecutedVolume = o.Volume
	o.PaidFee = fee
	o.Trades = []models.OrderTrade{{Price: o.Price, Volume: o.Volume, Funds: cost, Side: "bid"}}
	e.credit(o.Ticker, o.Volume, o.Price)
}

func (e *SimExchange) fillLimitSell(o *models.Order) {
	proceeds := o.Price * o.Volume
	fee := proceeds * e.feeRate
	o.State = models.OrderStateDone
	o.ExecutedVolume = o.Volume
	o.PaidFee = fee
	o.Trades = []models.OrderTrade{{Price: o.Price, Volume: o.Volume, Funds: proceeds, Side: "ask"}}
	e.balance += proceeds - fee
}

func (e *SimExchange) credit(ticker string, volume, price float64) {
	held := e.holdings[ticker]
	if held+volume > 0 {
		e.avgBuy[ticker] = (e.avgBuy[ticker]*held + price*volume) / (held + volume)
	}
	e.holdings[ticker] = held + volume
}

func (e *SimExchange) newOrder(ticker, side, ordType string, price, volume float64) *models.Order {
	e.nextID++
	return &models.Order{
		UUID:      fmt.Sprintf("sim-%06d", e.nextID),
		Ticker:    ticker,
		Side:      side,
		OrdType:   ordType,
		State:     models.OrderStateWait,
		Price:     price,
		Volume:    volume,
		CreatedAt: e.now,
	}
}

// --- Client implementation ---

func (e *SimExchange) CurrentPrice(ticker string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price, nil
}

func (e *SimExchange) CurrentPrices(tickers []string) (map[string]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		out[t] = e.price
	}
	return out, nil
}

func (e *SimExchange) Accounts() ([]models.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	accounts := []models.Account{{Currency: "KRW", Balance: e.balance}}
	for ticker, vol := range e.holdings {
		if vol <= 0 {
			continue
		}
		accounts = append(accounts, models.Account{
			Currency:    currencyOf(ticker),
			Balance:     vol,
			AvgBuyPrice: e.avgBuy[ticker],
		})
	}
	return accounts, nil
}

func currencyOf(ticker string) string {
	for i := 0; i < len(ticker); i++ {
		if ticker[i] == '-' {
			return ticker[i+1:]
		}
	}
	return ticker
}

func (e *SimExchange) Candles(ticker, interval string, count int) ([]models.Candle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hist := e.history[interval]
	if len(hist) > count {
		hist = hist[len(hist)-count:]
	}
	return append([]models.Candle(nil), hist...), nil
}

func (e *SimExchange) OpenOrders(ticker string) ([]models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var open []models.Order
	for _, o := range e.orders {
		if o.State == models.OrderStateWait && (ticker == "" || o.Ticker == ticker) {
			open = append(open, *o)
		}
	}
	return open, nil
}

func (e *SimExchange) PlaceLimitBuy(ticker string, price, volume float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price = NormalizePriceKRW(price)
	cost := price*volume + price*volume*e.feeRate
	if cost > e.balance {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, e.balance)
	}
	e.balance -= cost
	o := e.newOrder(ticker, "bid", "limit", price, volume)
	e.orders[o.UUID] = o
	cp := *o
	return &cp, nil
}

func (e *SimExchange) PlaceLimitSell(ticker string, price, volume float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if volume > e.holdings[ticker] {
		return nil, fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientFunds, volume, ticker, e.holdings[ticker])
	}
	e.holdings[ticker] -= volume
	o := e.newOrder(ticker, "ask", "limit", NormalizePriceKRW(price), volume)
	e.orders[o.UUID] = o
	cp := *o
	return &cp, nil
}

func (e *SimExchange) PlaceMarketBuy(ticker string, amount float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount > e.balance {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, amount, e.balance)
	}
	fee := amount * e.feeRate
	volume := (amount - fee) / e.price
	e.balance -= amount
	e.credit(ticker, volume, e.price)

	o := e.newOrder(ticker, "bid", "price", e.price, volume)
	o.State = models.OrderStateDone
	o.ExecutedVolume = volume
	o.PaidFee = fee
	o.Trades = []models.OrderTrade{{Price: e.price, Volume: volume, Funds: amount - fee, Side: "bid"}}
	e.orders[o.UUID] = o
	cp := *o
	return &cp, nil
}

func (e *SimExchange) PlaceMarketSell(ticker string, volume float64) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if volume > e.holdings[ticker] {
		return nil, fmt.Errorf("%w: need %.8f %s, have %.8f", ErrInsufficientFunds, volume, ticker, e.holdings[ticker])
	}
	proceeds := e.price * volume
	fee := proceeds * e.feeRate
	e.holdings[ticker] -= volume
	e.balance += proceeds - fee

	o := e.newOrder(ticker, "ask", "market", e.price, volume)
	o.State = models.OrderStateDone
	o.ExecutedVolume = volume
	o.PaidFee = fee
	o.Trades = []models.OrderTrade{{Price: e.price, Volume: volume, Funds: proceeds, Side: "ask"}}
	e.orders[o.UUID] = o
	cp := *o
	return &cp, nil
}

func (e *SimExchange) OrderStatus(uuid string) (*models.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, uuid)
	}
	cp := *o
	cp.Trades = append([]models.OrderTrade(nil), o.Trades...)
	return &cp, nil
}

func (e *SimExchange) Cancel(uuid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[uuid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, uuid)
	}
	if o.State != models.OrderStateWait {
		return nil
	}
	o.State = models.OrderStateCancel
	// Release reserved funds.
	if o.Side == "bid" && o.OrdType == "limit" {
		e.balance += o.Price*o.Volume + o.Price*o.Volume*e.feeRate
	} else if o.Side == "ask" && o.OrdType == "limit" {
		e.holdings[o.Ticker] += o.Volume
	}
	return nil
}

func (e *SimExchange) NormalizePrice(price float64) float64 { return NormalizePriceKRW(price) }
func (e *SimExchange) TickSize(price float64) float64       { return TickSizeKRW(price) }

func (e *SimExchange) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}
