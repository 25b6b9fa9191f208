package scheduler

import (
	"time"

	"go.uber.org/zap"

	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/strategy"
)

// floorSleep is the minimum delay between iterations; a slow iteration
// never produces a tighter-than-configured cadence.
const floorSleep = 100 * time.Millisecond

// Candle depths kept warm per ticker.
const (
	intradayInterval = "minutes/5"
	dailyInterval    = "days"
	intradayDepth    = 30
	dailyDepth       = 200
)

// InstanceSource hands the scheduler the current strategy set. The
// registry itself is owned by the service layer.
type InstanceSource interface {
	Instances() []*strategy.Instance
}

// Scheduler drives all active strategies on a fixed-period loop, batching
// market-data fetches across them. A failing strategy never aborts the
// iteration for the others.
type Scheduler struct {
	exch      exchange.Client
	src       InstanceSource
	log       *zap.SugaredLogger
	watchlist []string

	interval        time.Duration
	accountsMaxAge  time.Duration
	candlesMaxAge   time.Duration

	accounts   []models.Account
	accountsAt time.Time
	candles    map[string]map[string][]models.Candle
	candlesAt  map[string]time.Time
	lastTick   map[int64]time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewScheduler builds a scheduler from the app config.
func NewScheduler(exch exchange.Client, src InstanceSource, cfg *models.Config, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		exch:           exch,
		src:            src,
		log:            log,
		watchlist:      cfg.Watchlist,
		interval:       time.Duration(cfg.TickIntervalSec * float64(time.Second)),
		accountsMaxAge: time.Duration(cfg.AccountsRefreshSec * float64(time.Second)),
		candlesMaxAge:  time.Duration(cfg.CandleRefreshSec * float64(time.Second)),
		candles:        make(map[string]map[string][]models.Candle),
		candlesAt:      make(map[string]time.Time),
		lastTick:       make(map[int64]time.Time),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start() {
	go s.loop()
	s.log.Info("scheduler started")
}

// Stop halts the loop and waits for the in-flight iteration to finish.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.doneChan)
	for {
		start := time.Now()
		s.iterate()

		sleep := s.interval - time.Since(start)
		if sleep < floorSleep {
			sleep = floorSleep
		}
		select {
		case <-s.stopChan:
			return
		case <-time.After(sleep):
		}
	}
}

func (s *Scheduler) iterate() {
	instances := s.src.Instances()
	tickers := s.collectTickers(instances)

	prices, err := s.exch.CurrentPrices(tickers)
	if err != nil {
		// Fall back to per-ticker fetches; some may still succeed.
		s.log.Warnw("batched price fetch failed", "error", err)
		prices = make(map[string]float64, len(tickers))
		for _, t := range tickers {
			if p, perr := s.exch.CurrentPrice(t); perr == nil {
				prices[t] = p
			}
		}
	}

	openOrders, err := s.exch.OpenOrders("")
	if err != nil {
		s.log.Warnw("open order fetch failed", "error", err)
		openOrders = nil
	}

	s.refreshAccounts()
	now := s.exch.Now()

	for _, inst := range instances {
		if !inst.Running() {
			continue
		}
		price, ok := prices[inst.Ticker]
		if !ok || price <= 0 {
			s.log.Warnw("no price for ticker, skipping tick", "ticker", inst.Ticker)
			continue
		}
		if !s.due(inst, now) {
			continue
		}
		s.refreshCandles(inst.Ticker)

		md := &strategy.MarketData{
			Price:      price,
			Accounts:   s.accounts,
			OpenOrders: filterOrders(openOrders, inst.Ticker),
			Candles:    s.candles[inst.Ticker],
			Now:        now,
		}
		s.tickOne(inst, md)
		s.lastTick[inst.ID] = now
	}
}

// tickOne isolates one strategy's tick: a panic or error is logged and
// never propagates into the loop.
func (s *Scheduler) tickOne(inst *strategy.Instance, md *strategy.MarketData) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("strategy tick panicked", "strategy", inst.ID, "panic", r)
		}
	}()
	if err := inst.Tick(md); err != nil {
		s.log.Errorw("strategy tick failed", "strategy", inst.ID, "error", err)
	}
}

func (s *Scheduler) due(inst *strategy.Instance, now time.Time) bool {
	interval := time.Duration(inst.Config().TickInterval * float64(time.Second))
	if interval <= 0 {
		interval = s.interval
	}
	last, ok := s.lastTick[inst.ID]
	return !ok || now.Sub(last) >= interval
}

// collectTickers unions the fixed watchlist with every strategy's ticker.
func (s *Scheduler) collectTickers(instances []*strategy.Instance) []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, t := range s.watchlist {
		if !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	for _, inst := range instances {
		if !seen[inst.Ticker] {
			seen[inst.Ticker] = true
			tickers = append(tickers, inst.Ticker)
		}
	}
	return tickers
}

func (s *Scheduler) refreshAccounts() {
	if time.Since(s.accountsAt) < s.accountsMaxAge && s.accounts != nil {
		return
	}
	accounts, err := s.exch.Accounts()
	if err != nil {
		s.log.Warnw("account refresh failed", "error", err)
		return
	}
	s.accounts = accounts
	s.accountsAt = time.Now()
}

func (s *Scheduler) refreshCandles(ticker string) {
	if time.Since(s.candlesAt[ticker]) < s.candlesMaxAge && s.candles[ticker] != nil {
		return
	}
	byInterval := s.candles[ticker]
	if byInterval == nil {
		byInterval = make(map[string][]models.Candle)
	}
	for interval, depth := range map[string]int{intradayInterval: intradayDepth, dailyInterval: dailyDepth} {
		candles, err := s.exch.Candles(ticker, interval, depth)
		if err != nil {
			s.log.Warnw("candle refresh failed", "ticker", ticker, "interval", interval, "error", err)
			continue
		}
		byInterval[interval] = candles
	}
	s.candles[ticker] = byInterval
	s.candlesAt[ticker] = time.Now()
}

func filterOrders(orders []models.Order, ticker string) []models.Order {
	var out []models.Order
	for _, o := range orders {
		if o.Ticker == ticker {
			out = append(out, o)
		}
	}
	return out
}
