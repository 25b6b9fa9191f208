package persistence

import "sevensplit-bot-go/internal/models"

// maxEventsPerStrategy bounds the event log; the oldest rows past the cap
// are pruned on insert.
const maxEventsPerStrategy = 200

// Store defines the interface for durable strategy state. It abstracts the
// underlying storage (BadgerDB in production, in-memory for tests and
// backtests) from the rest of the application.
type Store interface {
	// SaveStrategy atomically saves one strategy's full state.
	SaveStrategy(state *models.StrategyState) error

	// LoadStrategy loads one strategy. Returns (nil, nil) when absent.
	LoadStrategy(id int64) (*models.StrategyState, error)

	// LoadAllStrategies loads every persisted strategy.
	LoadAllStrategies() ([]*models.StrategyState, error)

	// DeleteStrategy removes a strategy and its trades and events.
	DeleteStrategy(id int64) error

	// AppendTrade appends one completed trade. Trades are never mutated.
	AppendTrade(strategyID int64, trade *models.Trade) error

	// LoadTrades returns all trades for a strategy, oldest first.
	LoadTrades(strategyID int64) ([]*models.Trade, error)

	// DeleteTrades removes a strategy's trade history.
	DeleteTrades(strategyID int64) error

	// AppendEvent appends one event log row, pruning past the cap.
	AppendEvent(strategyID int64, event *models.Event) error

	// LoadEvents returns up to limit most recent events, newest first.
	LoadEvents(strategyID int64, limit int) ([]*models.Event, error)

	// Close gracefully closes the store.
	Close() error
}
