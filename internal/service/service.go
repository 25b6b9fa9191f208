package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sevensplit-bot-go/internal/backtest"
	"sevensplit-bot-go/internal/exchange"
	"sevensplit-bot-go/internal/models"
	"sevensplit-bot-go/internal/persistence"
	"sevensplit-bot-go/internal/storage"
	"sevensplit-bot-go/internal/strategy"
)

// Service is the control surface over the strategy registry. It owns the
// id→instance map; nothing else in the process holds strategy references.
type Service struct {
	mu        sync.Mutex
	instances map[int64]*strategy.Instance
	nextID    int64

	exch    exchange.Client
	store   persistence.Store
	archive *storage.Archive // optional trade retention
	rec     *strategy.Reconciler
	log     *zap.SugaredLogger
}

// NewService loads every persisted strategy and rebuilds its instance.
func NewService(exch exchange.Client, store persistence.Store, archive *storage.Archive, cfg *models.Config, log *zap.SugaredLogger) (*Service, error) {
	s := &Service{
		instances: make(map[int64]*strategy.Instance),
		nextID:    1,
		exch:      exch,
		store:     store,
		archive:   archive,
		rec: strategy.NewReconciler(
			time.Duration(cfg.OrderTimeoutSec)*time.Second,
			time.Duration(cfg.BuyCooldownSec)*time.Second,
			cfg.MinOrderAmount,
		),
		log: log,
	}

	states, err := store.LoadAllStrategies()
	if err != nil {
		return nil, fmt.Errorf("load strategies: %w", err)
	}
	for _, state := range states {
		s.instances[state.ID] = strategy.NewInstance(state, exch, store, s.rec, log)
		if state.ID >= s.nextID {
			s.nextID = state.ID + 1
		}
	}
	log.Infow("strategies loaded", "count", len(states))
	return s, nil
}

// Instances returns the current strategy set for the scheduler.
func (s *Service) Instances() []*strategy.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*strategy.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out
}

func (s *Service) get(id int64) (*strategy.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("strategy %d not found", id)
	}
	return inst, nil
}

// Create registers a new stopped strategy and persists it.
func (s *Service) Create(name, ticker string, budget float64, cfg models.StrategyConfig) (*models.StateSnapshot, error) {
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if budget <= 0 {
		return nil, fmt.Errorf("budget must be positive")
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	state := &models.StrategyState{
		ID:          id,
		Name:        name,
		Ticker:      ticker,
		Budget:      budget,
		Config:      cfg,
		NextSplitID: 1,
		UpdatedAt:   time.Now(),
	}
	inst := strategy.NewInstance(state, s.exch, s.store, s.rec, s.log)
	s.instances[id] = inst
	s.mu.Unlock()

	if err := s.store.SaveStrategy(state); err != nil {
		s.mu.Lock()
		delete(s.instances, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("persist strategy: %w", err)
	}
	s.log.Infow("strategy created", "id", id, "ticker", ticker, "budget", budget)
	return inst.Snapshot(0), nil
}

// Delete stops a strategy and removes it. Completed trades are copied to
// the archive first when one is configured.
func (s *Service) Delete(id int64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	if err := inst.Stop(); err != nil {
		s.log.Warnw("stop before delete failed", "strategy", id, "error", err)
	}

	if s.archive != nil {
		trades, err := s.store.LoadTrades(id)
		if err != nil {
			s.log.Warnw("trade load for archive failed", "strategy", id, "error", err)
		} else if len(trades) > 0 {
			if err := s.archive.InsertTrades(id, trades); err != nil {
				s.log.Warnw("trade archive failed", "strategy", id, "error", err)
			}
		}
	}

	if err := s.store.DeleteStrategy(id); err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	s.mu.Lock()
	delete(s.instances, id)
	s.mu.Unlock()
	s.log.Infow("strategy deleted", "id", id)
	return nil
}

// Start marks a strategy active.
func (s *Service) Start(id int64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	return inst.Start()
}

// Stop marks a strategy inactive.
func (s *Service) Stop(id int64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	return inst.Stop()
}

// UpdateConfig replaces a strategy's config and optionally its budget.
func (s *Service) UpdateConfig(id int64, cfg models.StrategyConfig, budget *float64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	return inst.UpdateConfig(cfg, budget)
}

// SetManualTarget sets or clears (price == 0) the operator buy override.
func (s *Service) SetManualTarget(id int64, price float64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	return inst.SetManualTarget(price)
}

// Reset cancels open orders and clears a strategy's positions and trade
// history, keeping its config.
func (s *Service) Reset(id int64) error {
	inst, err := s.get(id)
	if err != nil {
		return err
	}
	return inst.Reset()
}

// GetState returns the strategy snapshot. When currentPrice is zero a
// quote is fetched best-effort; a failed fetch still returns the snapshot.
func (s *Service) GetState(id int64, currentPrice float64) (*models.StateSnapshot, error) {
	inst, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if currentPrice <= 0 {
		if p, perr := s.exch.CurrentPrice(inst.Ticker); perr == nil {
			currentPrice = p
		} else {
			s.log.Warnw("quote fetch for snapshot failed", "strategy", id, "error", perr)
		}
	}
	return inst.Snapshot(currentPrice), nil
}

// Events returns up to limit most recent event rows, newest first.
func (s *Service) Events(id int64, limit int) ([]*models.Event, error) {
	if _, err := s.get(id); err != nil {
		return nil, err
	}
	return s.store.LoadEvents(id, limit)
}

// RunSimulation replays candles through a throwaway strategy and records
// the run in the archive when one is configured.
func (s *Service) RunSimulation(ticker string, budget float64, cfg models.StrategyConfig, candles []models.Candle, startIndex int, expandDaily bool) (*models.SimulationResult, error) {
	runner := &backtest.Runner{ExpandDaily: expandDaily, Log: s.log}
	result, err := runner.Run(ticker, budget, cfg, candles, startIndex)
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		if aerr := s.archive.InsertRun(result, cfg); aerr != nil {
			s.log.Warnw("backtest run archive failed", "error", aerr)
		}
	}
	return result, nil
}

// Portfolio aggregates held currencies across strategies: exchange
// balances marked at current prices plus realized profit per ticker.
func (s *Service) Portfolio() ([]models.PortfolioEntry, error) {
	accounts, err := s.exch.Accounts()
	if err != nil {
		return nil, fmt.Errorf("fetch accounts: %w", err)
	}

	var tickers []string
	held := make(map[string]models.Account)
	for _, a := range accounts {
		if a.Currency == "KRW" || a.Balance <= 0 {
			continue
		}
		ticker := "KRW-" + a.Currency
		held[ticker] = a
		tickers = append(tickers, ticker)
	}
	if len(tickers) == 0 {
		return nil, nil
	}

	prices, err := s.exch.CurrentPrices(tickers)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	realized := make(map[string]float64)
	for _, inst := range s.Instances() {
		snap := inst.Snapshot(0)
		realized[inst.Ticker] += snap.RealizedProfit
	}

	var entries []models.PortfolioEntry
	for ticker, a := range held {
		price := prices[ticker]
		entries = append(entries, models.PortfolioEntry{
			Currency:       strings.TrimPrefix(ticker, "KRW-"),
			Balance:        a.Balance,
			AvgBuyPrice:    a.AvgBuyPrice,
			CurrentPrice:   price,
			Value:          price * a.Balance,
			UnrealizedPnL:  (price - a.AvgBuyPrice) * a.Balance,
			RealizedProfit: realized[ticker],
		})
	}
	return entries, nil
}
